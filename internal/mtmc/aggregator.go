// Package mtmc holds the cross-camera aggregator: it collects each camera's
// latest local tracks and periodically re-clusters them into global
// identities under the camera layout's travel-time constraints.
package mtmc

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrossTrack-Live/CrossTrack/internal/layout"
	"github.com/CrossTrack-Live/CrossTrack/internal/track"
)

// Config configures the aggregator.
type Config struct {
	// MinSimilarity is the merge threshold on linkage-computed cosine
	// similarity.
	MinSimilarity float64
	// Linkage selects single, complete or average linkage.
	Linkage Linkage
	// MinTrackFrames drops tracks observed in fewer frames from a pass.
	MinTrackFrames int
	// ClusterInterval is the minimum time between clustering passes.
	ClusterInterval time.Duration
}

// Snapshot is the immutable result of one completed clustering pass. It is
// published by atomic pointer swap and must never be mutated by readers.
type Snapshot struct {
	Pass     uint64                    `json:"pass"`
	At       time.Time                 `json:"at"`
	Clusters []track.GlobalCluster     `json:"clusters"`
	Maps     map[int]track.GlobalIDMap `json:"maps"`
}

// EventSink receives a notification after each completed clustering pass.
// Implementations must not block; the aggregator calls it while holding the
// pass mutex.
type EventSink interface {
	ClustersUpdated(snap *Snapshot)
}

type prevCluster struct {
	gid  int
	keys map[memberKey]bool
}

type memberKey struct {
	cam int
	tid int
}

// Aggregator holds the latest local track snapshot per camera and the
// published global-identity state.
type Aggregator struct {
	cfg    Config
	lay    *layout.Layout
	logger *slog.Logger

	mu          sync.Mutex
	tracksByCam map[int][]*track.LocalTrack
	lastPass    time.Time
	passCount   uint64
	nextGID     int
	prev        []prevCluster

	published atomic.Pointer[Snapshot]
	sink      EventSink

	now func() time.Time
}

// New creates an aggregator. A nil layout is accepted for single-camera
// deployments; it makes every cross-camera pair ineligible, so passes only
// republish singletons.
func New(lay *layout.Layout, cfg Config) *Aggregator {
	a := &Aggregator{
		cfg:         cfg,
		lay:         lay,
		logger:      slog.Default().With("component", "aggregator"),
		tracksByCam: make(map[int][]*track.LocalTrack),
		now:         time.Now,
	}
	a.published.Store(&Snapshot{Maps: make(map[int]track.GlobalIDMap)})
	return a
}

// SetEventSink attaches a post-pass notification sink.
func (a *Aggregator) SetEventSink(sink EventSink) {
	a.sink = sink
}

// Submit replaces the stored track snapshot for a camera and, if the
// cluster interval has elapsed, runs a clustering pass before returning.
// The tracks are deep-copied on entry, so the caller keeps exclusive
// ownership of its own track objects. The returned map is immutable and
// safe for concurrent use; it may be nil if the camera has never appeared
// in a completed pass.
func (a *Aggregator) Submit(cam int, tracks []*track.LocalTrack) track.GlobalIDMap {
	// A camera index the layout does not know would blow up the travel-time
	// checks; refuse it here so one misconfigured camera cannot poison every
	// later pass.
	if a.lay != nil && (cam < 0 || cam >= a.lay.NumCameras) {
		a.logger.Error("Rejecting tracks for camera outside layout",
			"camera", cam, "layout_cameras", a.lay.NumCameras)
		return a.published.Load().Maps[cam]
	}
	snap := track.CloneAll(tracks)

	a.mu.Lock()
	a.tracksByCam[cam] = snap
	if a.now().Sub(a.lastPass) >= a.cfg.ClusterInterval {
		a.runPassLocked()
	}
	a.mu.Unlock()

	return a.published.Load().Maps[cam]
}

// Current returns the most recently published snapshot.
func (a *Aggregator) Current() *Snapshot {
	return a.published.Load()
}

// runPassLocked executes one clustering pass. A panic inside the pass (for
// example from malformed descriptor data) aborts only this pass; the
// previously published mapping stays in place.
func (a *Aggregator) runPassLocked() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Clustering pass aborted", "error", fmt.Sprint(r))
		}
	}()

	eligible := make([]*track.LocalTrack, 0)
	for _, tracks := range a.tracksByCam {
		for _, t := range tracks {
			if t.FrameCount() >= a.cfg.MinTrackFrames {
				eligible = append(eligible, t)
			}
		}
	}
	if len(eligible) == 0 {
		// Nothing to cluster; previous mapping is retained.
		return
	}

	groups := buildClusters(eligible, a.lay, a.cfg.MinSimilarity, a.cfg.Linkage)

	clusters := a.assignGlobalIDs(groups)

	maps := make(map[int]track.GlobalIDMap)
	for _, c := range clusters {
		for _, m := range c.Members {
			gm := maps[m.Camera]
			if gm == nil {
				gm = make(track.GlobalIDMap)
				maps[m.Camera] = gm
			}
			gm[m.TrackID] = c.GlobalID
		}
	}

	a.passCount++
	snap := &Snapshot{
		Pass:     a.passCount,
		At:       a.now(),
		Clusters: clusters,
		Maps:     maps,
	}
	a.published.Store(snap)
	a.lastPass = snap.At

	a.logger.Debug("Clustering pass completed",
		"pass", snap.Pass,
		"tracks", len(eligible),
		"clusters", len(clusters),
	)

	if a.sink != nil {
		a.sink.ClustersUpdated(snap)
	}
}

// assignGlobalIDs turns track groups into GlobalClusters, keeping ids
// stable across passes: a cluster sharing a strict majority of its members
// with exactly one previous cluster inherits that cluster's id, otherwise a
// fresh id is minted. Each previous id can be inherited at most once.
func (a *Aggregator) assignGlobalIDs(groups [][]*track.LocalTrack) []track.GlobalCluster {
	// Deterministic cluster order by first member.
	sort.Slice(groups, func(i, j int) bool {
		a0, b0 := groups[i][0], groups[j][0]
		if a0.Camera != b0.Camera {
			return a0.Camera < b0.Camera
		}
		return a0.TrackID < b0.TrackID
	})

	used := make(map[int]bool)
	next := make([]prevCluster, 0, len(groups))
	clusters := make([]track.GlobalCluster, 0, len(groups))

	for _, g := range groups {
		keys := make(map[memberKey]bool, len(g))
		for _, t := range g {
			keys[memberKey{cam: t.Camera, tid: t.TrackID}] = true
		}

		gid, inherited := -1, 0
		for _, p := range a.prev {
			overlap := 0
			for k := range keys {
				if p.keys[k] {
					overlap++
				}
			}
			if overlap*2 > len(keys) {
				inherited++
				gid = p.gid
			}
		}
		if inherited != 1 || used[gid] {
			gid = a.nextGID
			a.nextGID++
		}
		used[gid] = true

		members := make([]track.Member, len(g))
		for i, t := range g {
			members[i] = track.Member{Camera: t.Camera, TrackID: t.TrackID, Track: t}
		}
		clusters = append(clusters, track.GlobalCluster{GlobalID: gid, Members: members})
		next = append(next, prevCluster{gid: gid, keys: keys})
	}

	a.prev = next
	return clusters
}
