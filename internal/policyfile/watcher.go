package policyfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tomasbasham/uxsched"
)

// DefaultDebounce is how long a policy file must stay quiet after a change
// before it is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// ApplyFunc installs a freshly loaded policy, typically
// [uxsched.Assist.Reconfigure].
type ApplyFunc func(uxsched.Config) error

// ReloadObserver is told the outcome of every reload attempt. A nil error
// means the policy was applied.
type ReloadObserver interface {
	OnReload(err error)
}

// Watcher follows a policy file and applies it whenever it changes. It
// watches the directory holding the file so that editors replacing the file
// by rename are noticed too.
type Watcher struct {
	path     string
	apply    ApplyFunc
	logger   *zap.Logger
	debounce time.Duration
	observer ReloadObserver

	watcher  *fsnotify.Watcher
	reloads  atomic.Int64
	failures atomic.Int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the logger reloads are reported to.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithObserver reports every reload attempt to o.
func WithObserver(o ReloadObserver) WatcherOption {
	return func(w *Watcher) {
		w.observer = o
	}
}

// NewWatcher creates a [Watcher] for the policy at path. Nothing is watched
// until [Watcher.Run] is called.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		apply:    apply,
		logger:   zap.NewNop(),
		debounce: DefaultDebounce,
		watcher:  fw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Reloads returns how many policies were applied since the watcher started.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Failures returns how many changes were rejected, either because the policy
// did not load or because it was refused when applied.
func (w *Watcher) Failures() int64 {
	return w.failures.Load()
}

// Run watches the policy until ctx is done, then releases the underlying
// watcher. It returns ctx's error, or an error if the directory cannot be
// watched.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching policy", zap.String("path", w.path))

	settle := time.NewTimer(w.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				w.logger.Debug("policy event ignored", zap.Stringer("op", event.Op))
				continue
			}
			settle.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", zap.Error(err))

		case <-settle.C:
			w.reload()
		}
	}
}

// reload keeps the previous policy in force when the new one is rejected.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.fail("policy rejected", err)
		return
	}
	if err := w.apply(cfg); err != nil {
		w.fail("policy not applied", err)
		return
	}
	if w.observer != nil {
		w.observer.OnReload(nil)
	}
	w.reloads.Add(1)
	w.logger.Info("policy reloaded",
		zap.String("path", w.path),
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("name_rules", len(cfg.NameRules)))
}

func (w *Watcher) fail(msg string, err error) {
	if w.observer != nil {
		w.observer.OnReload(err)
	}
	w.failures.Add(1)
	w.logger.Warn(msg, zap.String("path", w.path), zap.Error(err))
}
