package worker

import "github.com/CrossTrack-Live/CrossTrack/internal/track"

// NopPipeline is the built-in placeholder pipeline for deployments without
// a detection stack attached. It reports no tracks, so frames pass through
// to the broadcaster unannotated.
type NopPipeline struct{}

// Process implements Pipeline.
func (NopPipeline) Process(Frame) ([]*track.LocalTrack, error) { return nil, nil }
