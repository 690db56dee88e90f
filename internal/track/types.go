// Package track defines the core tracking data model shared between the
// per-camera workers and the cross-camera aggregator.
package track

import (
	"gonum.org/v1/gonum/floats"
)

// BoundingBox is one observation of a tracked object in a single frame.
// Coordinates are pixels in the source frame; FrameIdx is the camera-local
// frame index used for time alignment.
type BoundingBox struct {
	FrameIdx int     `json:"frame_idx"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// LocalTrack is an object tracked within a single camera's stream. It is
// owned by exactly one camera worker; the aggregator only ever sees
// deep-copied snapshots (see Clone).
type LocalTrack struct {
	Camera     int           `json:"camera"`
	TrackID    int           `json:"track_id"`
	Boxes      []BoundingBox `json:"boxes,omitempty"`
	Descriptor []float64     `json:"-"`
	LastTick   uint64        `json:"last_tick"`
}

// FrameCount returns the number of frames this track has been observed in.
func (t *LocalTrack) FrameCount() int {
	return len(t.Boxes)
}

// FirstFrame returns the frame index of the first observation, or -1 for an
// empty track.
func (t *LocalTrack) FirstFrame() int {
	if len(t.Boxes) == 0 {
		return -1
	}
	return t.Boxes[0].FrameIdx
}

// LastFrame returns the frame index of the most recent observation, or -1
// for an empty track.
func (t *LocalTrack) LastFrame() int {
	if len(t.Boxes) == 0 {
		return -1
	}
	return t.Boxes[len(t.Boxes)-1].FrameIdx
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (t *LocalTrack) Clone() *LocalTrack {
	c := &LocalTrack{
		Camera:   t.Camera,
		TrackID:  t.TrackID,
		LastTick: t.LastTick,
	}
	if len(t.Boxes) > 0 {
		c.Boxes = make([]BoundingBox, len(t.Boxes))
		copy(c.Boxes, t.Boxes)
	}
	if len(t.Descriptor) > 0 {
		c.Descriptor = make([]float64, len(t.Descriptor))
		copy(c.Descriptor, t.Descriptor)
	}
	return c
}

// CloneAll deep-copies a track slice.
func CloneAll(tracks []*LocalTrack) []*LocalTrack {
	if tracks == nil {
		return nil
	}
	out := make([]*LocalTrack, len(tracks))
	for i, t := range tracks {
		out[i] = t.Clone()
	}
	return out
}

// CosineSim returns the cosine similarity of two appearance descriptors.
// Mismatched or empty descriptors score -1 so they never pass a merge
// threshold.
func CosineSim(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1.0
	}
	denom := floats.Norm(a, 2) * floats.Norm(b, 2)
	if denom == 0 {
		return -1.0
	}
	return floats.Dot(a, b) / denom
}

// Member identifies one local track's contribution to a global cluster.
type Member struct {
	Camera  int         `json:"camera"`
	TrackID int         `json:"track_id"`
	Track   *LocalTrack `json:"-"`
}

// GlobalCluster is a set of local tracks across cameras believed to be the
// same physical object. Clusters are built fresh on every clustering pass
// and are immutable once published.
type GlobalCluster struct {
	GlobalID int      `json:"global_id"`
	Members  []Member `json:"members"`
}

// GlobalIDMap maps one camera's local track ids to global ids, valid as of
// the last completed clustering pass. Published maps are never mutated.
type GlobalIDMap map[int]int
