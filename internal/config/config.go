package config

import (
	"os"
	"runtime"
)

// Config is the serializer's configuration, loaded from .closure.kdl with
// CLI flag overrides applied on top.
type Config struct {
	Version   int
	Project   Project
	Serialize Serialize
	Globals   Globals
	Annotate  Annotate
}

type Project struct {
	Root string
	Name string
}

type Serialize struct {
	// InspectorURL is the V8 inspector websocket endpoint the engine probe
	// dials (as printed by `node --inspect`).
	InspectorURL string

	// Strict makes unresolved free variables fatal.
	Strict bool

	// Factory invokes the root function once at module load and exports its
	// return value as the handler.
	Factory bool
}

type Globals struct {
	// Extra identifier names added to the built-in global whitelist.
	Extra []string
}

type Annotate struct {
	Include         []string
	Exclude         []string
	Workers         int // 0 = auto-detect (NumCPU)
	WatchDebounceMs int
}

// Default returns the configuration used when no .closure.kdl exists.
func Default() *Config {
	root, _ := os.Getwd()
	if root == "" {
		root = "."
	}
	return &Config{
		Version: 1,
		Project: Project{Root: root},
		Annotate: Annotate{
			Include:         []string{"**/*.js"},
			Exclude:         []string{"node_modules/**"},
			Workers:         runtime.NumCPU(),
			WatchDebounceMs: 200,
		},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg, err := LoadKDL(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	if err := NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
