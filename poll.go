package livepatch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a watched file must go without changes before
// the poller wakes.
const DefaultSettle = 500 * time.Millisecond

// Poller re-applies a patch source on an interval. With Watch set, changes to
// that file also wake it between ticks, once the file has been quiet for
// Settle.
type Poller struct {
	Engine   *Engine
	Source   Source
	Interval time.Duration
	Watch    string
	Settle   time.Duration
}

// RunOnce runs a single check. It reports whether a patch was applied.
func (p *Poller) RunOnce() bool {
	return p.Engine.CheckAndApply(p.Source)
}

// Run checks the source every interval until ctx is done. It doesn't check
// immediately; Attach does that itself.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// A nil channel blocks forever, which is what we want without a watcher.
	wake := p.watch(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		p.RunOnce()
	}
}

func (p *Poller) watch(ctx context.Context) <-chan struct{} {
	if p.Watch == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.Engine.log().Logf(LevelDebug, "file watcher unavailable: %v", err)
		return nil
	}

	// Watch the directory; the file itself may not exist yet.
	target := filepath.Clean(p.Watch)
	if err := w.Add(filepath.Dir(target)); err != nil {
		p.Engine.log().Logf(LevelDebug, "watching %s: %v", filepath.Dir(target), err)
		w.Close()
		return nil
	}

	settle := p.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer w.Close()

		// A pass started while the producer is still writing would store
		// the file's version with only part of its records.
		quiet := time.NewTimer(settle)
		quiet.Stop()
		defer quiet.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				quiet.Reset(settle)
			case <-quiet.C:
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.Engine.log().Logf(LevelDebug, "file watcher: %v", err)
			}
		}
	}()
	return wake
}

// StartPolling runs p in the background and returns a func that stops it and
// waits for it to finish. The host never calls it.
func (e *Engine) StartPolling(p *Poller) (stop func()) {
	p.Engine = e

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	return func() {
		cancel()
		<-done
	}
}
