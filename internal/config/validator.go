package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults.
// Returns an error if validation fails.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateProject(&cfg.Project); err != nil {
		return cserrors.NewConfigError("project", "", err)
	}
	if err := v.validateSerialize(&cfg.Serialize); err != nil {
		return cserrors.NewConfigError("serialize", "", err)
	}
	if err := v.validateAnnotate(&cfg.Annotate); err != nil {
		return cserrors.NewConfigError("annotate", "", err)
	}
	v.setSmartDefaults(cfg)
	return nil
}

func (v *Validator) validateProject(project *Project) error {
	if project.Root == "" {
		return errors.New("project root cannot be empty")
	}
	return nil
}

func (v *Validator) validateSerialize(s *Serialize) error {
	if s.InspectorURL == "" {
		return nil
	}
	if !strings.HasPrefix(s.InspectorURL, "ws://") && !strings.HasPrefix(s.InspectorURL, "wss://") {
		return fmt.Errorf("inspector URL must be a websocket endpoint, got %q", s.InspectorURL)
	}
	return nil
}

func (v *Validator) validateAnnotate(a *Annotate) error {
	if a.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", a.Workers)
	}
	if a.WatchDebounceMs < 0 {
		return fmt.Errorf("watch_debounce_ms must be non-negative, got %d", a.WatchDebounceMs)
	}
	for _, p := range append(append([]string{}, a.Include...), a.Exclude...) {
		if p == "" {
			return errors.New("empty glob pattern")
		}
	}
	return nil
}

func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Annotate.Workers == 0 {
		cfg.Annotate.Workers = runtime.NumCPU()
	}
	if cfg.Annotate.WatchDebounceMs == 0 {
		cfg.Annotate.WatchDebounceMs = 200
	}
	if len(cfg.Annotate.Include) == 0 {
		cfg.Annotate.Include = []string{"**/*.js"}
	}
}
