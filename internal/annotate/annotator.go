package annotate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
)

// Options configure an annotation run.
type Options struct {
	// Root is the directory walked for source files.
	Root string

	// Include/Exclude are doublestar patterns matched against paths
	// relative to Root. An empty include list means "**/*.js".
	Include []string
	Exclude []string

	// Workers bounds the parallel file fan-out; 0 means NumCPU.
	Workers int

	// DryRun reports what would change without writing files.
	DryRun bool
}

// Report summarizes an annotation run.
type Report struct {
	Files     int
	Annotated int
	Skipped   int
	Wrapped   int
	Errors    []error
}

// Annotator rewrites source files, skipping files whose content hash has not
// changed since the last run.
type Annotator struct {
	opts Options

	mu    sync.Mutex
	cache map[string]uint64
}

// New creates an annotator.
func New(opts Options) *Annotator {
	if len(opts.Include) == 0 {
		opts.Include = []string{"**/*.js"}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Annotator{opts: opts, cache: make(map[string]uint64)}
}

// Run annotates every matching file under Root.
func (a *Annotator) Run(ctx context.Context) (*Report, error) {
	files, err := a.matchFiles()
	if err != nil {
		return nil, err
	}

	report := &Report{Files: len(files)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for _, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			wrapped, changed, err := a.AnnotateFile(path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors = append(report.Errors, fmt.Errorf("%s: %w", path, err))
			case changed:
				report.Annotated++
				report.Wrapped += wrapped
			default:
				report.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// AnnotateFile rewrites one file in place. It reports the number of wrapped
// literals and whether the file changed. Files already annotated in a
// previous pass of this process are skipped by content hash.
func (a *Annotator) AnnotateFile(path string) (wrapped int, changed bool, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}

	hash := xxhash.Sum64(content)
	a.mu.Lock()
	prev, seen := a.cache[path]
	a.mu.Unlock()
	if seen && prev == hash {
		debug.LogAnnotate("%s unchanged, skipped\n", path)
		return 0, false, nil
	}

	out, wrapped, err := AnnotateSource(string(content))
	if err != nil {
		return 0, false, err
	}
	if out == string(content) {
		a.remember(path, hash)
		return 0, false, nil
	}

	if !a.opts.DryRun {
		info, err := os.Stat(path)
		mode := fs.FileMode(0644)
		if err == nil {
			mode = info.Mode()
		}
		if err := os.WriteFile(path, []byte(out), mode); err != nil {
			return 0, false, err
		}
	}
	a.remember(path, xxhash.Sum64([]byte(out)))
	debug.LogAnnotate("%s: wrapped %d literals\n", path, wrapped)
	return wrapped, true, nil
}

func (a *Annotator) remember(path string, hash uint64) {
	a.mu.Lock()
	a.cache[path] = hash
	a.mu.Unlock()
}

// matchFiles walks Root and keeps the paths the include patterns select and
// the exclude patterns do not.
func (a *Annotator) matchFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(a.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(a.opts.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(a.opts.Include, rel) || matchAny(a.opts.Exclude, rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
