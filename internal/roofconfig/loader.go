// Package roofconfig loads roofcore.Config from YAML and optionally
// watches the file for changes: a fsnotify watcher plus a yaml.v3 decode
// pass, trimmed to what a single controller config needs — no checksum
// or version history, no A/B testing, since those serve a multi-tenant
// system, not a single roof.
package roofconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"roofctl-go/internal/roofcore"
)

// file is the YAML wire shape. Durations are expressed in
// milliseconds/seconds rather than Go duration strings to keep the config
// file approachable for the technicians who tune it; a zero value means
// "use the default" rather than "explicitly zero", since every duration
// field is required to be positive.
type file struct {
	Name string `yaml:"name"`

	WatchdogTimeoutSeconds float64 `yaml:"watchdog_timeout_seconds"`

	OpenRelayID       int `yaml:"open_relay_id"`
	CloseRelayID      int `yaml:"close_relay_id"`
	ClearFaultRelayID int `yaml:"clear_fault_relay_id"`
	StopRelayID       int `yaml:"stop_relay_id"`

	UseNormallyClosedLimits *bool `yaml:"use_normally_closed_limits"`
	EnableInputPolling      *bool `yaml:"enable_input_polling"`
	PollIntervalMS          int   `yaml:"poll_interval_ms"`

	EnablePeriodicVerificationWhileMoving *bool `yaml:"enable_periodic_verification_while_moving"`
	PeriodicVerificationIntervalMS        int   `yaml:"periodic_verification_interval_ms"`

	MaxRelayRetryAttempts int `yaml:"max_relay_retry_attempts"`
	RelayRetryDelayMS     int `yaml:"relay_retry_delay_ms"`
}

func (f file) applyTo(cfg *roofcore.Config) {
	if f.Name != "" {
		cfg.Name = f.Name
	}
	if f.WatchdogTimeoutSeconds > 0 {
		cfg.WatchdogTimeout = time.Duration(f.WatchdogTimeoutSeconds * float64(time.Second))
	}
	if f.OpenRelayID != 0 {
		cfg.OpenRelayID = roofcore.RelayID(f.OpenRelayID)
	}
	if f.CloseRelayID != 0 {
		cfg.CloseRelayID = roofcore.RelayID(f.CloseRelayID)
	}
	if f.ClearFaultRelayID != 0 {
		cfg.ClearFaultRelayID = roofcore.RelayID(f.ClearFaultRelayID)
	}
	if f.StopRelayID != 0 {
		cfg.StopRelayID = roofcore.RelayID(f.StopRelayID)
	}
	if f.UseNormallyClosedLimits != nil {
		cfg.UseNormallyClosedLimits = *f.UseNormallyClosedLimits
	}
	if f.EnableInputPolling != nil {
		cfg.EnableInputPolling = *f.EnableInputPolling
	}
	if f.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(f.PollIntervalMS) * time.Millisecond
	}
	if f.EnablePeriodicVerificationWhileMoving != nil {
		cfg.EnablePeriodicVerificationWhileMoving = *f.EnablePeriodicVerificationWhileMoving
	}
	if f.PeriodicVerificationIntervalMS > 0 {
		cfg.PeriodicVerificationInterval = time.Duration(f.PeriodicVerificationIntervalMS) * time.Millisecond
	}
	if f.MaxRelayRetryAttempts > 0 {
		cfg.MaxRelayRetryAttempts = f.MaxRelayRetryAttempts
	}
	if f.RelayRetryDelayMS > 0 {
		cfg.RelayRetryDelay = time.Duration(f.RelayRetryDelayMS) * time.Millisecond
	}
}

// Load reads path, overlays it onto roofcore.DefaultConfig, validates the
// result, and returns it. A missing file is not an error: the defaults
// are returned as-is, with Source set to "default".
func Load(path string) (roofcore.Config, error) {
	cfg := roofcore.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Source = "default"
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("roofconfig: read %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return cfg, fmt.Errorf("roofconfig: parse %s: %w", path, err)
	}
	f.applyTo(&cfg)
	cfg.Source = path

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Watcher republishes a fresh Load result whenever the watched config
// file is written.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher
}

// NewWatcher starts watching path's parent directory (fsnotify watches
// directories, not individual files, so it survives editors that replace
// the file via rename-over-write).
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("roofconfig: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("roofconfig: watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{path: path, fsw: fsw}, nil
}

// Watch emits a freshly loaded Config on every write to the watched path,
// until ctx is cancelled or Close is called.
func (w *Watcher) Watch(ctx context.Context) (<-chan roofcore.Config, <-chan error) {
	changes := make(chan roofcore.Config, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)
		target := filepath.Clean(w.path)
		for {
			select {
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					errs <- err
					continue
				}
				changes <- cfg
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, errs
}

// Close stops the watcher. Idempotent via fsnotify's own semantics.
func (w *Watcher) Close() error { return w.fsw.Close() }
