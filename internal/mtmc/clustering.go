package mtmc

import (
	"fmt"
	"sort"

	"github.com/CrossTrack-Live/CrossTrack/internal/layout"
	"github.com/CrossTrack-Live/CrossTrack/internal/track"
)

// Linkage selects how pairwise track similarities are combined into a
// cluster-to-cluster score.
type Linkage string

const (
	// LinkageSingle scores a cluster pair by its best member pair.
	LinkageSingle Linkage = "single"
	// LinkageComplete scores a cluster pair by its worst member pair.
	LinkageComplete Linkage = "complete"
	// LinkageAverage scores a cluster pair by the mean over member pairs.
	LinkageAverage Linkage = "average"
)

// ParseLinkage validates a linkage name from configuration.
func ParseLinkage(s string) (Linkage, error) {
	switch Linkage(s) {
	case LinkageSingle, LinkageComplete, LinkageAverage:
		return Linkage(s), nil
	}
	return "", fmt.Errorf("unknown linkage %q", s)
}

// candidate is one track prepared for clustering, with its span converted
// to the common time base.
type candidate struct {
	trk   *track.LocalTrack
	start float64
	end   float64
}

type cluster struct {
	members []int // candidate indices, kept sorted
}

// buildClusters runs constrained hierarchical agglomerative clustering over
// the given tracks. Tracks from the same camera are never merged; a cluster
// pair is eligible only if every cross-cluster member pair satisfies the
// layout's travel-time predicate. Merging repeatedly takes the eligible
// pair with the highest linkage score that is still >= minSim.
//
// Determinism: candidates are ordered by (camera, track id) before
// clustering, and score ties are broken in favor of the lowest cluster pair
// under that ordering.
//
// A nil layout disables cross-camera eligibility entirely, yielding
// singleton clusters.
func buildClusters(tracks []*track.LocalTrack, lay *layout.Layout, minSim float64, linkage Linkage) [][]*track.LocalTrack {
	ordered := make([]*track.LocalTrack, len(tracks))
	copy(ordered, tracks)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Camera != ordered[j].Camera {
			return ordered[i].Camera < ordered[j].Camera
		}
		return ordered[i].TrackID < ordered[j].TrackID
	})

	n := len(ordered)
	cands := make([]candidate, n)
	for i, t := range ordered {
		c := candidate{trk: t}
		if lay != nil {
			c.start = lay.GlobalTime(t.Camera, t.FirstFrame())
			c.end = lay.GlobalTime(t.Camera, t.LastFrame())
		}
		cands[i] = c
	}

	// Pairwise track similarity and eligibility, fixed for the whole pass.
	sims := make([][]float64, n)
	elig := make([][]bool, n)
	for i := 0; i < n; i++ {
		sims[i] = make([]float64, n)
		elig[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := cands[i], cands[j]
			sims[i][j] = track.CosineSim(a.trk.Descriptor, b.trk.Descriptor)
			sims[j][i] = sims[i][j]
			if lay != nil && a.trk.Camera != b.trk.Camera {
				elig[i][j] = lay.Compatible(a.trk.Camera, a.start, a.end, b.trk.Camera, b.start, b.end)
				elig[j][i] = elig[i][j]
			}
		}
	}

	clusters := make([]*cluster, n)
	for i := range clusters {
		clusters[i] = &cluster{members: []int{i}}
	}

	for len(clusters) > 1 {
		bestI, bestJ := -1, -1
		bestScore := 0.0
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if !clustersEligible(clusters[i], clusters[j], cands, elig) {
					continue
				}
				score := linkageScore(clusters[i], clusters[j], sims, linkage)
				if score < minSim {
					continue
				}
				if bestI < 0 || score > bestScore {
					bestI, bestJ, bestScore = i, j, score
				}
			}
		}
		if bestI < 0 {
			break
		}

		merged := append(clusters[bestI].members, clusters[bestJ].members...)
		sort.Ints(merged)
		clusters[bestI] = &cluster{members: merged}
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	out := make([][]*track.LocalTrack, len(clusters))
	for i, c := range clusters {
		members := make([]*track.LocalTrack, len(c.members))
		for k, idx := range c.members {
			members[k] = cands[idx].trk
		}
		out[i] = members
	}
	return out
}

// clustersEligible requires every cross-cluster member pair to be on
// different cameras and within some travel window. This keeps the
// same-camera exclusion and the travel constraint invariant under merging.
func clustersEligible(a, b *cluster, cands []candidate, elig [][]bool) bool {
	for _, i := range a.members {
		for _, j := range b.members {
			if cands[i].trk.Camera == cands[j].trk.Camera {
				return false
			}
			if !elig[i][j] {
				return false
			}
		}
	}
	return true
}

func linkageScore(a, b *cluster, sims [][]float64, linkage Linkage) float64 {
	first := true
	var best, worst, sum float64
	count := 0
	for _, i := range a.members {
		for _, j := range b.members {
			s := sims[i][j]
			if first {
				best, worst = s, s
				first = false
			} else {
				if s > best {
					best = s
				}
				if s < worst {
					worst = s
				}
			}
			sum += s
			count++
		}
	}
	if count == 0 {
		return -1.0
	}
	switch linkage {
	case LinkageSingle:
		return best
	case LinkageComplete:
		return worst
	default:
		return sum / float64(count)
	}
}
