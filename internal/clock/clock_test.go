package clock

import (
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Interval:     5 * time.Millisecond,
		MaxSkew:      3,
		StallTimeout: time.Hour, // effectively disabled unless a test overrides
	}
}

func TestAdvanceMonotonic(t *testing.T) {
	c := New(testConfig(), []string{"cam0"})
	c.Start()
	defer c.Stop()

	var prev uint64
	deadline := time.After(500 * time.Millisecond)
	for c.Tick() < 3 {
		select {
		case <-deadline:
			t.Fatalf("clock did not advance to 3 ticks in time")
		default:
		}
		cur := c.Tick()
		if cur < prev {
			t.Fatalf("tick went backwards: %d -> %d", prev, cur)
		}
		prev = cur
		time.Sleep(time.Millisecond)
	}
}

func TestWaitForTickReturnsNextTick(t *testing.T) {
	c := New(testConfig(), []string{"cam0"})
	c.Start()
	defer c.Stop()

	tick, ok := c.WaitForTick("cam0", 0)
	if !ok {
		t.Fatalf("WaitForTick returned stopped")
	}
	if tick == 0 {
		t.Fatalf("WaitForTick returned tick 0, want > 0")
	}
	c.Mark("cam0", tick)

	tick2, ok := c.WaitForTick("cam0", tick)
	if !ok {
		t.Fatalf("WaitForTick returned stopped on second call")
	}
	if tick2 <= tick {
		t.Errorf("second WaitForTick = %d, want > %d", tick2, tick)
	}
}

func TestSkewBound(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, []string{"fast", "slow"})
	c.Start()
	defer c.Stop()

	// "slow" never marks, so "fast" must be capped at 0 + MaxSkew even as
	// the global tick keeps climbing.
	last := uint64(0)
	for i := 0; i < 10; i++ {
		tick, ok := c.WaitForTick("fast", last)
		if !ok {
			t.Fatalf("WaitForTick returned stopped")
		}
		if tick > cfg.MaxSkew {
			t.Fatalf("fast worker got tick %d beyond skew bound %d", tick, cfg.MaxSkew)
		}
		c.Mark("fast", tick)
		last = tick
		if last == cfg.MaxSkew {
			break
		}
	}
	if last != cfg.MaxSkew {
		t.Fatalf("fast worker stopped at tick %d, want %d", last, cfg.MaxSkew)
	}

	// Once the slow worker reports progress, the bound moves.
	c.Mark("slow", 2)
	tick, ok := c.WaitForTick("fast", last)
	if !ok {
		t.Fatalf("WaitForTick returned stopped")
	}
	if tick <= cfg.MaxSkew || tick > 2+cfg.MaxSkew {
		t.Errorf("after slow progress, fast got tick %d, want in (%d, %d]", tick, cfg.MaxSkew, 2+cfg.MaxSkew)
	}
}

func TestStallExclusion(t *testing.T) {
	cfg := testConfig()
	cfg.StallTimeout = 20 * time.Millisecond
	c := New(cfg, []string{"live", "stalled"})
	c.Start()
	defer c.Stop()

	// Let the stalled worker age out, then the live worker should be able
	// to advance past minSeen(stalled) + MaxSkew.
	time.Sleep(50 * time.Millisecond)

	target := cfg.MaxSkew + 2
	last := uint64(0)
	deadline := time.Now().Add(time.Second)
	for last < target {
		if time.Now().After(deadline) {
			t.Fatalf("live worker stuck at tick %d, want %d", last, target)
		}
		tick, ok := c.WaitForTick("live", last)
		if !ok {
			t.Fatalf("WaitForTick returned stopped")
		}
		c.Mark("live", tick)
		last = tick
	}

	// The evicted worker's marks are ignored from now on.
	c.Mark("stalled", 1)
	if _, ok := c.LastSeen("stalled"); ok {
		t.Errorf("evicted worker re-entered skew accounting via Mark")
	}
}

func TestStallHandlerNotified(t *testing.T) {
	cfg := testConfig()
	cfg.StallTimeout = 20 * time.Millisecond
	c := New(cfg, []string{"live", "stalled"})

	evicted := make(chan string, 2)
	c.SetStallHandler(func(w string) { evicted <- w })
	c.Start()
	defer c.Stop()

	time.Sleep(50 * time.Millisecond)
	// Any wait triggers eviction of aged-out workers. Both may age out here;
	// the silent one must be among the reported evictions.
	if _, ok := c.WaitForTick("live", 0); !ok {
		t.Fatal("WaitForTick returned stopped")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case w := <-evicted:
			if w == "stalled" {
				return
			}
		case <-deadline:
			t.Fatal("stall handler never reported the silent worker")
		}
	}
}

func TestRetire(t *testing.T) {
	c := New(testConfig(), []string{"a", "b"})
	c.Start()
	defer c.Stop()

	c.Retire("b")
	if _, ok := c.LastSeen("b"); ok {
		t.Fatalf("retired worker still in accounting")
	}

	// With "b" gone, "a" is only bounded by its own progress.
	last := uint64(0)
	for i := 0; i < 5; i++ {
		tick, ok := c.WaitForTick("a", last)
		if !ok {
			t.Fatalf("WaitForTick returned stopped")
		}
		c.Mark("a", tick)
		last = tick
	}
	if last < 5 {
		t.Errorf("worker reached tick %d, want >= 5", last)
	}
}

func TestStopUnblocksWaiters(t *testing.T) {
	c := New(testConfig(), []string{"a", "b"})
	c.Start()

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for _, w := range []string{"a", "b"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			// lastSeen far ahead of anything reachable, so only Stop can
			// unblock this wait.
			_, ok := c.WaitForTick(worker, 1<<40)
			results <- ok
		}(w)
	}

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("waiters not released by Stop")
	}

	for i := 0; i < 2; i++ {
		if ok := <-results; ok {
			t.Errorf("waiter returned ok=true after Stop")
		}
	}
}

func TestMarkNeverDecreasesProgress(t *testing.T) {
	c := New(testConfig(), []string{"a"})

	c.Mark("a", 5)
	c.Mark("a", 3) // stale mark, must be a no-op
	if got, _ := c.LastSeen("a"); got != 5 {
		t.Errorf("LastSeen = %d, want 5", got)
	}
}

func TestWaitAfterStopIsSafe(t *testing.T) {
	c := New(testConfig(), []string{"a"})
	c.Start()
	c.Stop()
	c.Stop() // double stop must not panic

	if _, ok := c.WaitForTick("a", 0); ok {
		t.Errorf("WaitForTick after Stop returned ok=true")
	}
	c.Mark("a", 1) // no-op, must not panic
	c.Retire("a")
}
