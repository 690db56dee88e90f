package bus

import (
	"log/slog"

	"github.com/CrossTrack-Live/CrossTrack/internal/mtmc"
)

// Sink forwards correlation and worker lifecycle events onto the bus. It
// satisfies mtmc.EventSink and worker.Lifecycle. Publish failures are
// logged and dropped; eventing must never stall the pipeline.
type Sink struct {
	bus    *Bus
	logger *slog.Logger
}

// NewSink creates a sink publishing to b.
func NewSink(b *Bus) *Sink {
	return &Sink{
		bus:    b,
		logger: slog.Default().With("component", "bus_sink"),
	}
}

// ClustersUpdated publishes a summary of a completed clustering pass.
func (s *Sink) ClustersUpdated(snap *mtmc.Snapshot) {
	ev := ClusterEvent{
		Pass:      snap.Pass,
		Timestamp: snap.At,
		Clusters:  make([]ClusterSummary, 0, len(snap.Clusters)),
	}
	for _, c := range snap.Clusters {
		cs := ClusterSummary{
			GlobalID: c.GlobalID,
			Members:  make([]MemberSummary, 0, len(c.Members)),
		}
		for _, m := range c.Members {
			cs.Members = append(cs.Members, MemberSummary{Camera: m.Camera, TrackID: m.TrackID})
		}
		ev.Clusters = append(ev.Clusters, cs)
	}

	if err := s.bus.Publish(SubjectClustersUpdated, ev); err != nil {
		s.logger.Error("Failed to publish cluster update", "pass", snap.Pass, "error", err)
	}
}

// WorkerStarted publishes a worker lifecycle start event.
func (s *Sink) WorkerStarted(name string) {
	if err := s.bus.PublishWorkerStarted(name); err != nil {
		s.logger.Error("Failed to publish worker start", "worker", name, "error", err)
	}
}

// WorkerStopped publishes a worker lifecycle stop event.
func (s *Sink) WorkerStopped(name, reason string) {
	if err := s.bus.PublishWorkerStopped(name, reason); err != nil {
		s.logger.Error("Failed to publish worker stop", "worker", name, "error", err)
	}
}

// WorkerStalled publishes a stall eviction event.
func (s *Sink) WorkerStalled(name string) {
	if err := s.bus.PublishWorkerStalled(name); err != nil {
		s.logger.Error("Failed to publish worker stall", "worker", name, "error", err)
	}
}
