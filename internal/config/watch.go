package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"
)

// DefaultBoxPollInterval is used when a BoxWatcher has no interval set.
const DefaultBoxPollInterval = 30 * time.Second

// BoxWatcher follows the box file. A revision reaches OnUpdate only if it
// validates and its active box set differs from the last one delivered.
// Rejected revisions go to OnError once per modification.
type BoxWatcher struct {
	Path     string
	Interval time.Duration
	OnUpdate func(*BoxesConfig)
	OnError  func(error)
}

// Start loads the file synchronously, delivers it, and keeps polling its
// modification time until ctx is done. A bad initial file is returned.
func (w BoxWatcher) Start(ctx context.Context) error {
	if w.Path == "" {
		return errors.New("config: box file path is empty")
	}
	if w.Interval <= 0 {
		w.Interval = DefaultBoxPollInterval
	}

	info, err := os.Stat(w.Path)
	if err != nil {
		return fmt.Errorf("stat box file: %w", err)
	}
	cfg, err := LoadBoxesConfig(w.Path)
	if err != nil {
		return err
	}
	w.deliver(cfg)

	go w.poll(ctx, info.ModTime(), cfg.ActiveNames())
	return nil
}

func (w BoxWatcher) poll(ctx context.Context, seen time.Time, active []string) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(w.Path)
		if err != nil || !info.ModTime().After(seen) {
			// A missing file mid-rename is retried on the next tick.
			continue
		}
		seen = info.ModTime()

		cfg, err := LoadBoxesConfig(w.Path)
		if err != nil {
			w.fail(err)
			continue
		}
		names := cfg.ActiveNames()
		if slices.Equal(names, active) {
			continue
		}
		active = names
		w.deliver(cfg)
	}
}

func (w BoxWatcher) deliver(cfg *BoxesConfig) {
	if w.OnUpdate != nil {
		w.OnUpdate(cfg)
	}
}

func (w BoxWatcher) fail(err error) {
	if w.OnError != nil {
		w.OnError(err)
	}
}
