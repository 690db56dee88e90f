package mtmc

import (
	"sync"
	"testing"
	"time"

	"github.com/CrossTrack-Live/CrossTrack/internal/track"
)

func testAggregator(t *testing.T) (*Aggregator, *time.Time) {
	t.Helper()
	now := time.Unix(1000, 0)
	a := New(twoCamLayout(t), Config{
		MinSimilarity:   0.5,
		Linkage:         LinkageAverage,
		MinTrackFrames:  3,
		ClusterInterval: time.Second,
	})
	a.now = func() time.Time { return now }
	return a, &now
}

func TestSubmitTriggersPassOnInterval(t *testing.T) {
	a, now := testAggregator(t)

	trk := makeTrack(0, 1, 0, 5, []float64{1, 0})
	m := a.Submit(0, []*track.LocalTrack{trk})
	if m == nil {
		t.Fatalf("Submit() returned nil map after first pass")
	}
	if _, ok := m[1]; !ok {
		t.Errorf("local track 1 missing from map: %v", m)
	}
	firstPass := a.Current().Pass

	// Within the interval a new submission must not trigger another pass.
	*now = now.Add(100 * time.Millisecond)
	a.Submit(0, []*track.LocalTrack{trk})
	if got := a.Current().Pass; got != firstPass {
		t.Errorf("pass ran within interval: pass %d -> %d", firstPass, got)
	}

	*now = now.Add(time.Second)
	a.Submit(0, []*track.LocalTrack{trk})
	if got := a.Current().Pass; got != firstPass+1 {
		t.Errorf("pass did not run after interval: pass %d", got)
	}
}

func TestSubmitMergesAcrossCameras(t *testing.T) {
	a, now := testAggregator(t)

	a.Submit(0, []*track.LocalTrack{makeTrack(0, 1, 0, 5, []float64{1, 0})})
	*now = now.Add(2 * time.Second)
	a.Submit(1, []*track.LocalTrack{makeTrack(1, 7, 12, 20, []float64{1, 0})})

	snap := a.Current()
	var merged *track.GlobalCluster
	for i := range snap.Clusters {
		if len(snap.Clusters[i].Members) == 2 {
			merged = &snap.Clusters[i]
		}
	}
	if merged == nil {
		t.Fatalf("expected a two-member cluster, got %+v", snap.Clusters)
	}
	if snap.Maps[0][1] != merged.GlobalID || snap.Maps[1][7] != merged.GlobalID {
		t.Errorf("maps disagree with cluster membership: %+v", snap.Maps)
	}
}

func TestMinTrackFramesFilter(t *testing.T) {
	a, _ := testAggregator(t)

	short := makeTrack(0, 1, 0, 0, []float64{1, 0}) // 1 frame < 3
	long := makeTrack(0, 2, 0, 5, []float64{1, 0})
	m := a.Submit(0, []*track.LocalTrack{short, long})

	if _, ok := m[1]; ok {
		t.Errorf("short track leaked into the map: %v", m)
	}
	if _, ok := m[2]; !ok {
		t.Errorf("long track missing from the map: %v", m)
	}
}

func TestEmptyPassRetainsPreviousMapping(t *testing.T) {
	a, now := testAggregator(t)

	a.Submit(0, []*track.LocalTrack{makeTrack(0, 1, 0, 5, []float64{1, 0})})
	before := a.Current()
	if len(before.Maps[0]) == 0 {
		t.Fatalf("first pass produced no mapping")
	}

	// All tracks gone: the pass is skipped and the old snapshot stays
	// published.
	*now = now.Add(2 * time.Second)
	a.Submit(0, nil)
	after := a.Current()
	if after != before {
		t.Errorf("empty pass replaced the published snapshot")
	}
}

func TestGlobalIDStability(t *testing.T) {
	a, now := testAggregator(t)

	tracks0 := []*track.LocalTrack{makeTrack(0, 1, 0, 5, []float64{1, 0})}
	tracks1 := []*track.LocalTrack{makeTrack(1, 7, 12, 20, []float64{1, 0})}

	a.Submit(0, tracks0)
	*now = now.Add(2 * time.Second)
	a.Submit(1, tracks1)

	first := a.Current()
	gid := first.Maps[0][1]
	if first.Maps[1][7] != gid {
		t.Fatalf("tracks not merged in first pass")
	}

	// Same membership on the next pass keeps the same global id.
	*now = now.Add(2 * time.Second)
	a.Submit(0, tracks0)
	second := a.Current()
	if second.Pass == first.Pass {
		t.Fatalf("second pass did not run")
	}
	if second.Maps[0][1] != gid || second.Maps[1][7] != gid {
		t.Errorf("global id changed across identical passes: %d -> %d",
			gid, second.Maps[0][1])
	}

	// A genuinely new track gets a fresh id.
	*now = now.Add(2 * time.Second)
	m := a.Submit(0, []*track.LocalTrack{
		tracks0[0],
		makeTrack(0, 2, 0, 5, []float64{0, 1}),
	})
	if m[2] == gid {
		t.Errorf("new track reused existing global id %d", gid)
	}
}

func TestSubmitRejectsCameraOutsideLayout(t *testing.T) {
	a, now := testAggregator(t)

	// The layout knows cameras 0 and 1; camera 2 must be refused outright.
	bad := makeTrack(2, 1, 0, 5, []float64{1, 0})
	if m := a.Submit(2, []*track.LocalTrack{bad}); m != nil {
		t.Errorf("Submit for unknown camera returned map %v", m)
	}
	if _, ok := a.tracksByCam[2]; ok {
		t.Error("unknown camera's tracks were stored")
	}

	// Known cameras keep clustering normally afterwards.
	m := a.Submit(0, []*track.LocalTrack{makeTrack(0, 1, 0, 5, []float64{1, 0})})
	if _, ok := m[1]; !ok {
		t.Fatalf("camera 0 got no mapping after rejected submit: %v", m)
	}
	first := a.Current().Pass
	*now = now.Add(2 * time.Second)
	a.Submit(2, []*track.LocalTrack{bad})
	*now = now.Add(2 * time.Second)
	a.Submit(0, []*track.LocalTrack{makeTrack(0, 1, 0, 5, []float64{1, 0})})
	if got := a.Current().Pass; got <= first {
		t.Errorf("passes stopped after rejected submit: pass %d", got)
	}
}

func TestSubmitOwnershipIsolation(t *testing.T) {
	a, _ := testAggregator(t)

	trk := makeTrack(0, 1, 0, 5, []float64{1, 0})
	a.Submit(0, []*track.LocalTrack{trk})

	// Mutating the caller's track after Submit must not affect the
	// aggregator's stored snapshot.
	trk.Descriptor[0] = -1
	trk.Boxes = trk.Boxes[:1]

	stored := a.tracksByCam[0][0]
	if stored.Descriptor[0] != 1 {
		t.Errorf("aggregator snapshot shares descriptor with caller")
	}
	if stored.FrameCount() != 6 {
		t.Errorf("aggregator snapshot shares boxes with caller")
	}
}

func TestConcurrentSubmit(t *testing.T) {
	a, _ := testAggregator(t)
	a.now = time.Now // real time so passes interleave naturally
	a.cfg.ClusterInterval = time.Millisecond

	var wg sync.WaitGroup
	for cam := 0; cam < 2; cam++ {
		wg.Add(1)
		go func(cam int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				trk := makeTrack(cam, i%5, 0, 5, []float64{1, float64(cam)})
				a.Submit(cam, []*track.LocalTrack{trk})
			}
		}(cam)
	}
	wg.Wait()

	snap := a.Current()
	if snap == nil || snap.Maps == nil {
		t.Fatalf("no snapshot published after concurrent submits")
	}
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (r *recordingSink) ClustersUpdated(s *Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func TestEventSinkNotified(t *testing.T) {
	a, _ := testAggregator(t)
	sink := &recordingSink{}
	a.SetEventSink(sink)

	a.Submit(0, []*track.LocalTrack{makeTrack(0, 1, 0, 5, []float64{1, 0})})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.snaps) != 1 {
		t.Fatalf("sink notified %d times, want 1", len(sink.snaps))
	}
	if sink.snaps[0].Pass != 1 {
		t.Errorf("sink got pass %d, want 1", sink.snaps[0].Pass)
	}
}
