package source

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultInterval is the poll tick interval when none is configured
const DefaultInterval = 100 * time.Millisecond

// Poller is a Source based on periodic lstat sweeps
type Poller struct {
	// interval is the time between sweeps
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	// entries is the set of polled paths, keyed by unmarked path
	entries map[string]*pollEntry
	mu      sync.Mutex

	// running guards Tick against reentrancy
	running atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type pollEntry struct {
	path  string
	mtime time.Time
	fn    interfaces.RawHandler
}

// NewPoller creates a stat poller; the sweep loop starts with the first Watch
func NewPoller(interval time.Duration, clock clockwork.Clock, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		interval: interval,
		clock:    clock,
		logger:   log,
		entries:  make(map[string]*pollEntry),
	}
}

// Watch starts polling path
func (p *Poller) Watch(path string, fn interfaces.RawHandler) error {
	info, err := os.Lstat(utils.UnmarkDir(path))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := utils.UnmarkDir(path)
	if e, ok := p.entries[key]; ok {
		e.fn = fn
		return nil
	}
	p.entries[key] = &pollEntry{path: path, mtime: info.ModTime(), fn: fn}

	if p.stop == nil {
		p.stop = make(chan struct{})
		p.wg.Add(1)
		go p.gazePollLoop(p.stop)
	}

	p.logger.Debug("Polling path", zap.String("path", path))
	return nil
}

// Close stops polling path
func (p *Poller) Close(path string) error {
	p.mu.Lock()
	delete(p.entries, utils.UnmarkDir(path))
	p.mu.Unlock()
	return nil
}

// CloseAll stops polling every path and stops the sweep loop
func (p *Poller) CloseAll() error {
	p.mu.Lock()
	p.entries = make(map[string]*pollEntry)
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		p.wg.Wait()
	}
	return nil
}

// WatchedPaths returns the polled paths in sorted order
func (p *Poller) WatchedPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	paths := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		paths = append(paths, e.path)
	}
	sort.Strings(paths)
	return paths
}

// Backend reports BackendPoll for polled paths
func (p *Poller) Backend(path string) interfaces.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[utils.UnmarkDir(path)]; ok {
		return interfaces.BackendPoll
	}
	return interfaces.BackendNone
}

// Settle returns immediately; polling subscriptions are active on Watch
func (p *Poller) Settle(ctx context.Context) error {
	return ctx.Err()
}

// Tick runs a single sweep. A Tick issued while another is running is a no-op.
func (p *Poller) Tick() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)

	p.mu.Lock()
	entries := make([]*pollEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		key := utils.UnmarkDir(e.path)
		info, err := os.Lstat(key)

		p.mu.Lock()
		if p.entries[key] != e {
			// closed while we were sweeping
			p.mu.Unlock()
			continue
		}
		if err != nil {
			delete(p.entries, key)
			p.mu.Unlock()
			e.fn(interfaces.RawEvent{Kind: interfaces.RawDelete, Path: e.path})
			continue
		}
		changed := info.ModTime().After(e.mtime)
		e.mtime = info.ModTime()
		p.mu.Unlock()

		if changed {
			e.fn(interfaces.RawEvent{Kind: interfaces.RawChange, Path: e.path})
		}
	}
}

// gazePollLoop drives Tick at the configured interval
func (p *Poller) gazePollLoop(stop chan struct{}) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			p.Tick()
		}
	}
}
