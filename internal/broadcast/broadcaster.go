// Package broadcast holds the latest annotated frame per camera and serves
// it to any number of concurrent viewers over MJPEG, with no back-pressure
// on the producing workers.
package broadcast

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// slot is a single-value mailbox for one camera's latest frame. Last write
// wins; each write bumps seq so viewers can wait for a frame they have not
// sent yet.
type slot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	seq    uint64
	closed bool

	viewers int
}

// Broadcaster is a concurrent-safe latest-frame cache keyed by camera name.
// Each camera has its own lock, so publishing for one camera never contends
// with viewers of another.
type Broadcaster struct {
	logger *slog.Logger

	mu    sync.RWMutex
	slots map[string]*slot
}

// New creates a broadcaster with one slot per camera.
func New(cameras []string) *Broadcaster {
	b := &Broadcaster{
		logger: slog.Default().With("component", "broadcaster"),
		slots:  make(map[string]*slot, len(cameras)),
	}
	for _, name := range cameras {
		s := &slot{}
		s.cond = sync.NewCond(&s.mu)
		b.slots[name] = s
	}
	return b
}

// Cameras returns the registered camera names in sorted order.
func (b *Broadcaster) Cameras() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.slots))
	for name := range b.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Broadcaster) slot(camera string) *slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slots[camera]
}

// Publish replaces the stored frame for a camera. Unknown cameras and
// closed slots are ignored; the call never blocks on consumers.
func (b *Broadcaster) Publish(camera string, frame []byte) {
	s := b.slot(camera)
	if s == nil {
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.data = frame
		s.seq++
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// NextFrame blocks until the camera has a frame newer than lastSeq, then
// returns it with its sequence number. Returns ok=false when the context is
// cancelled, the broadcaster is closed, or the camera is unknown.
func (b *Broadcaster) NextFrame(ctx context.Context, camera string, lastSeq uint64) (data []byte, seq uint64, ok bool) {
	s := b.slot(camera)
	if s == nil {
		return nil, 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed || ctx.Err() != nil {
			return nil, 0, false
		}
		if s.seq > lastSeq && s.data != nil {
			return s.data, s.seq, true
		}
		s.cond.Wait()
	}
}

// ViewerCount returns the number of connected viewers for a camera.
func (b *Broadcaster) ViewerCount(camera string) int {
	s := b.slot(camera)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewers
}

func (b *Broadcaster) addViewer(camera string, delta int) {
	s := b.slot(camera)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.viewers += delta
	s.mu.Unlock()
}

// Run keeps blocked viewers live by periodically waking them so they can
// observe context cancellation or client disconnects even when a producer
// has gone quiet. Returns when ctx is done, closing all slots.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-ticker.C:
			b.mu.RLock()
			for _, s := range b.slots {
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			}
			b.mu.RUnlock()
		}
	}
}

// Close wakes and releases all viewers. Publishes after Close are dropped.
func (b *Broadcaster) Close() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.slots {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
	}
	b.logger.Info("Broadcaster closed")
}
