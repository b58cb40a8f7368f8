package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/functionless/nodejs-closure-serializer/internal/annotate"
	"github.com/functionless/nodejs-closure-serializer/internal/config"
	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	"github.com/functionless/nodejs-closure-serializer/internal/globals"
	"github.com/functionless/nodejs-closure-serializer/internal/probe"
	"github.com/functionless/nodejs-closure-serializer/internal/serializer"
	"github.com/functionless/nodejs-closure-serializer/internal/version"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")

	if rootFlag := c.String("root"); rootFlag != "" && configPath == ".closure.kdl" {
		configPath = filepath.Join(rootFlag, ".closure.kdl")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if includeFlags := c.StringSlice("include"); len(includeFlags) > 0 {
		cfg.Annotate.Include = includeFlags
	}
	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Annotate.Exclude = append(cfg.Annotate.Exclude, excludeFlags...)
	}
	if rootFlag := c.String("root"); rootFlag != "" {
		absRoot, err := filepath.Abs(rootFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root path %q: %w", rootFlag, err)
		}
		cfg.Project.Root = absRoot
	}
	if c.IsSet("url") {
		cfg.Serialize.InspectorURL = c.String("url")
	}
	if c.Bool("strict") {
		cfg.Serialize.Strict = true
	}
	if c.Bool("factory") {
		cfg.Serialize.Factory = true
	}

	return cfg, nil
}

func main() {
	app := &cli.App{
		Name:                   "closure-serializer",
		Usage:                  "Serialize live JavaScript closures into self-contained modules",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the .closure.kdl configuration file",
				Value:   ".closure.kdl",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Project root directory",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Write debug logging to a temp file",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				path, err := debug.InitDebugLogFile()
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "debug log: %s\n", path)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			return debug.CloseDebugLog()
		},
		Commands: []*cli.Command{
			annotateCommand(),
			serializeCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func annotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "annotate",
		Usage: "Wrap function literals with closure-registry calls at build time",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "include", Usage: "Glob patterns of files to annotate"},
			&cli.StringSliceFlag{Name: "exclude", Usage: "Glob patterns of files to skip"},
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Re-annotate on file changes"},
			&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "Report changes without writing files"},
			&cli.IntFlag{Name: "workers", Usage: "Parallel file workers (0 = auto)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfigWithOverrides(c)
			if err != nil {
				return err
			}
			workers := cfg.Annotate.Workers
			if c.IsSet("workers") {
				workers = c.Int("workers")
			}
			a := annotate.New(annotate.Options{
				Root:    cfg.Project.Root,
				Include: cfg.Annotate.Include,
				Exclude: cfg.Annotate.Exclude,
				Workers: workers,
				DryRun:  c.Bool("dry-run"),
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			printReport := func(r *annotate.Report) {
				fmt.Printf("annotated %d of %d files (%d literals wrapped, %d unchanged)\n",
					r.Annotated, r.Files, r.Wrapped, r.Skipped)
				for _, err := range r.Errors {
					fmt.Fprintf(os.Stderr, "warning: %v\n", err)
				}
			}

			report, err := a.Run(ctx)
			if err != nil {
				return err
			}
			printReport(report)

			if c.Bool("watch") {
				fmt.Println("watching for changes (ctrl-c to stop)")
				debounce := time.Duration(cfg.Annotate.WatchDebounceMs) * time.Millisecond
				if err := a.Watch(ctx, debounce, printReport); err != nil && ctx.Err() == nil {
					return err
				}
			}
			return nil
		},
	}
}

func serializeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serialize",
		Usage: "Serialize a function from a running inspector endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Inspector websocket endpoint (as printed by node --inspect)",
			},
			&cli.StringFlag{
				Name:     "expr",
				Usage:    "Expression evaluating to the function to serialize",
				Required: true,
			},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
			&cli.BoolFlag{Name: "strict", Usage: "Fail on unresolved free variables"},
			&cli.BoolFlag{Name: "factory", Usage: "Invoke the root once and export its result"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfigWithOverrides(c)
			if err != nil {
				return err
			}
			if cfg.Serialize.InspectorURL == "" {
				return fmt.Errorf("no inspector endpoint: pass --url or set serialize { inspector \"ws://...\" } in %s", c.String("config"))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session, err := probe.Dial(ctx, cfg.Serialize.InspectorURL)
			if err != nil {
				return err
			}
			defer session.Close()

			names := append([]string{}, globals.DefaultNames...)
			names = append(names, cfg.Globals.Extra...)
			table, err := session.GlobalsTable(names)
			if err != nil {
				return err
			}

			fn, err := session.FunctionFromExpression(c.String("expr"))
			if err != nil {
				return err
			}

			out, err := serializer.Serialize(fn, serializer.Options{
				Strict:            cfg.Serialize.Strict,
				IsFactoryFunction: cfg.Serialize.Factory,
				Globals:           table,
			})
			if err != nil {
				return err
			}

			if path := c.String("out"); path != "" {
				return os.WriteFile(path, []byte(out), 0644)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration utilities",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Validate the configuration file",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfigWithOverrides(c)
					if err != nil {
						return err
					}
					fmt.Printf("ok: root=%s include=%v exclude=%v\n",
						cfg.Project.Root, cfg.Annotate.Include, cfg.Annotate.Exclude)
					return nil
				},
			},
		},
	}
}
