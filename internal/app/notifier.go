package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce     = 200 * time.Millisecond
	defaultPollInterval = 10 * time.Second
)

// Reloader is implemented by GovernanceService.
type Reloader interface {
	ReloadIfChanged(rev string) bool
}

// Notifier watches the signal file so a long-running server picks up state
// written by other processes (hook invocations, a second server). Writes made
// by this process carry a revision the service already knows and are skipped.
type Notifier struct {
	signalPath   string
	target       Reloader
	logger       *zap.Logger
	debounce     time.Duration
	pollInterval time.Duration
	onReload     func()

	mu      sync.Mutex
	lastRev string
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithPollInterval sets the fallback poll interval (default 10s).
func WithPollInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.pollInterval = d }
}

// WithDebounce sets how long bursts of events are coalesced (default 200ms).
func WithDebounce(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.debounce = d }
}

// WithReloadHook registers fn to run after each reload.
func WithReloadHook(fn func()) NotifierOption {
	return func(n *Notifier) { n.onReload = fn }
}

// NewNotifier creates a notifier for signalPath.
func NewNotifier(signalPath string, target Reloader, logger *zap.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		signalPath:   signalPath,
		target:       target,
		logger:       logger.Named("notifier"),
		debounce:     defaultDebounce,
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Run watches until ctx is cancelled. If fsnotify fails to initialize, it
// falls back to poll-only mode. It always returns nil so it can run under an
// errgroup without tearing the server down.
func (n *Notifier) Run(ctx context.Context) error {
	watchDir := filepath.Dir(n.signalPath)
	if err := os.MkdirAll(watchDir, 0755); err != nil {
		n.logger.Warn("signal dir unavailable, using poll-only", zap.Error(err))
	}

	var wg sync.WaitGroup
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		n.logger.Warn("fsnotify init failed, using poll-only", zap.Error(err))
	} else if err := watcher.Add(watchDir); err != nil {
		n.logger.Warn("fsnotify add failed, using poll-only", zap.String("dir", watchDir), zap.Error(err))
		_ = watcher.Close()
		watcher = nil
	}
	if watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.watchLoop(ctx, watcher)
		}()
	}

	n.pollLoop(ctx)
	wg.Wait()
	if watcher != nil {
		_ = watcher.Close()
	}
	return nil
}

// CheckOnce reads the signal revision and reloads if it is new.
func (n *Notifier) CheckOnce() bool {
	rev := ReadNotifySignal(n.signalPath)
	if rev == "" {
		return false
	}
	n.mu.Lock()
	if rev == n.lastRev {
		n.mu.Unlock()
		return false
	}
	n.lastRev = rev
	n.mu.Unlock()

	if !n.target.ReloadIfChanged(rev) {
		return false
	}
	n.logger.Debug("state reloaded", zap.String("rev", rev))
	if n.onReload != nil {
		n.onReload()
	}
	return true
}

func (n *Notifier) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	signalName := filepath.Base(n.signalPath)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != signalName || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(n.debounce)
			} else {
				timer.Reset(n.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			n.CheckOnce()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (n *Notifier) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.CheckOnce()
		}
	}
}
