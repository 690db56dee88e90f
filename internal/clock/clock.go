// Package clock provides the shared virtual clock that paces camera workers
// with a bounded skew. Independent workers process at whatever speed their
// pipeline allows; the clock stops a fast worker from running more than
// MaxSkew ticks ahead of the slowest live worker, and evicts stalled workers
// from that accounting so one wedged camera cannot freeze the rest.
package clock

import (
	"log/slog"
	"sync"
	"time"
)

// Config configures a virtual clock.
type Config struct {
	// Interval is the wall-clock duration of one tick.
	Interval time.Duration
	// MaxSkew is the maximum tick distance allowed between the
	// most-advanced and least-advanced active worker.
	MaxSkew uint64
	// StallTimeout is how long a worker may go without reporting progress
	// before it is excluded from skew accounting.
	StallTimeout time.Duration
}

// Clock is a monotonically advancing tick counter shared by all camera
// workers. All mutation happens behind one mutex; waiters are woken by a
// condition broadcast from the advance loop, from Mark/Retire, and from
// Stop.
type Clock struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tick    uint64
	running bool
	seen    map[string]uint64
	lastAct map[string]time.Time
	done    chan struct{}
	onStall func(worker string)

	now func() time.Time
}

// New creates a clock with the given workers registered. Workers start at
// tick 0 with fresh activity timestamps.
func New(cfg Config, workers []string) *Clock {
	c := &Clock{
		cfg:     cfg,
		logger:  slog.Default().With("component", "vclock"),
		seen:    make(map[string]uint64, len(workers)),
		lastAct: make(map[string]time.Time, len(workers)),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	c.cond = sync.NewCond(&c.mu)
	start := c.now()
	for _, w := range workers {
		c.seen[w] = 0
		c.lastAct[w] = start
	}
	return c
}

// SetStallHandler registers a callback invoked whenever a worker is evicted
// for stalling. The callback runs on its own goroutine, so it may safely
// call back into the clock. Set before Start.
func (c *Clock) SetStallHandler(fn func(worker string)) {
	c.mu.Lock()
	c.onStall = fn
	c.mu.Unlock()
}

// Start launches the periodic advance loop. Calling Start on a running
// clock is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.run()
	c.logger.Info("Virtual clock started",
		"interval", c.cfg.Interval,
		"max_skew", c.cfg.MaxSkew,
		"stall_timeout", c.cfg.StallTimeout,
	)
}

func (c *Clock) run() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.tick++
			c.cond.Broadcast()
			c.mu.Unlock()
		}
	}
}

// Tick returns the current global tick.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// WaitForTick blocks until the worker is allowed to process a tick beyond
// lastSeen, then returns that tick. The allowed tick is
// min(globalTick, minSeenAcrossActiveWorkers + MaxSkew); workers whose last
// activity is older than StallTimeout are evicted from the minimum before
// it is computed. Returns ok=false if the clock was stopped while waiting.
func (c *Clock) WaitForTick(worker string, lastSeen uint64) (tick uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.running {
		c.evictStalledLocked()

		allowed := c.tick
		if min, any := c.minSeenLocked(); any && min+c.cfg.MaxSkew < allowed {
			allowed = min + c.cfg.MaxSkew
		}
		if allowed > lastSeen {
			return allowed, true
		}
		c.cond.Wait()
	}
	return 0, false
}

// evictStalledLocked drops workers whose activity timestamp is older than
// the stall timeout. Eviction is permanent: later marks from an evicted
// worker are ignored, so it can neither hold others back nor re-bound them.
func (c *Clock) evictStalledLocked() {
	now := c.now()
	for w, ts := range c.lastAct {
		if now.Sub(ts) > c.cfg.StallTimeout {
			delete(c.seen, w)
			delete(c.lastAct, w)
			c.logger.Warn("Worker stalled, excluding from skew accounting", "worker", w)
			if c.onStall != nil {
				go c.onStall(w)
			}
		}
	}
}

func (c *Clock) minSeenLocked() (uint64, bool) {
	first := true
	var min uint64
	for _, v := range c.seen {
		if first || v < min {
			min = v
			first = false
		}
	}
	return min, !first
}

// Mark records that worker has finished processing up to tick. Marks from
// retired or evicted workers are no-ops; a worker's recorded progress never
// decreases.
func (c *Clock) Mark(worker string, tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.seen[worker]; ok {
		if tick > cur {
			c.seen[worker] = tick
		}
		c.lastAct[worker] = c.now()
	}
	c.cond.Broadcast()
}

// Retire removes a worker from skew and stall accounting entirely. Safe to
// call more than once.
func (c *Clock) Retire(worker string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.seen, worker)
	delete(c.lastAct, worker)
	c.cond.Broadcast()
}

// ActiveWorkers returns the names of workers still participating in skew
// accounting.
func (c *Clock) ActiveWorkers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.seen))
	for w := range c.seen {
		names = append(names, w)
	}
	return names
}

// LastSeen returns a worker's recorded progress, if it is still active.
func (c *Clock) LastSeen(worker string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.seen[worker]
	return v, ok
}

// Stop halts the advance loop and wakes all blocked waiters with the
// stopped result. Safe to call more than once.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	c.cond.Broadcast()
	c.mu.Unlock()

	c.logger.Info("Virtual clock stopped", "tick", c.tick)
}
