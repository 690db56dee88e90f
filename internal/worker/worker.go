// Package worker drives one camera's processing loop in lock-step with the
// shared virtual clock. Detection, tracking and rendering are injected
// collaborators; the worker only orchestrates the per-tick cycle.
package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/CrossTrack-Live/CrossTrack/internal/track"
)

// Frame is one decoded input image plus its position in the stream.
type Frame struct {
	Index int
	Data  []byte
}

// FrameSource yields frames in stream order. Next returns io.EOF at
// end-of-stream; Restart rewinds a loopable source to its first frame.
type FrameSource interface {
	Next() (Frame, error)
	Restart() error
	Close() error
}

// Pipeline turns a frame into the camera's current set of local tracks. It
// wraps the external detection, feature-extraction and tracking stages.
type Pipeline interface {
	Process(frame Frame) ([]*track.LocalTrack, error)
}

// Renderer draws annotated boxes, labeled with global identities where the
// map has one, and returns the encoded JPEG.
type Renderer interface {
	Render(frame Frame, tracks []*track.LocalTrack, ids track.GlobalIDMap) ([]byte, error)
}

// Pacer is the clock surface a worker needs.
type Pacer interface {
	WaitForTick(worker string, lastSeen uint64) (uint64, bool)
	Mark(worker string, tick uint64)
	Retire(worker string)
}

// Submitter is the aggregator surface a worker needs.
type Submitter interface {
	Submit(camera int, tracks []*track.LocalTrack) track.GlobalIDMap
}

// Publisher receives the annotated frame for fan-out to viewers.
type Publisher interface {
	Publish(camera string, frame []byte)
}

// Lifecycle receives worker start/stop notifications. Implementations must
// not block.
type Lifecycle interface {
	WorkerStarted(name string)
	WorkerStopped(name string, reason string)
}

// ProgressSink receives the worker's latest completed tick, once per cycle.
// Implementations must not block; throttling is their responsibility.
type ProgressSink interface {
	WorkerProgress(name string, tick uint64)
}

// Config identifies one camera worker and sets its pacing.
type Config struct {
	CameraID int
	Name     string
	Loop     bool
	Interval time.Duration
}

// Worker runs one camera's per-tick cycle until the clock stops or the
// source is exhausted.
type Worker struct {
	cfg        Config
	source     FrameSource
	pipeline   Pipeline
	renderer   Renderer
	clock      Pacer
	aggregator Submitter
	publisher  Publisher
	lifecycle  Lifecycle
	progress   ProgressSink
	logger     *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New wires a worker from its collaborators. lifecycle may be nil.
func New(cfg Config, source FrameSource, pipeline Pipeline, renderer Renderer, clock Pacer, aggregator Submitter, publisher Publisher, lifecycle Lifecycle) *Worker {
	return &Worker{
		cfg:        cfg,
		source:     source,
		pipeline:   pipeline,
		renderer:   renderer,
		clock:      clock,
		aggregator: aggregator,
		publisher:  publisher,
		lifecycle:  lifecycle,
		logger:     slog.Default().With("component", "worker", "camera", cfg.Name),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// SetProgressSink attaches a per-tick progress sink.
func (w *Worker) SetProgressSink(p ProgressSink) {
	w.progress = p
}

// Run executes the worker loop. It returns when the clock reports stopped,
// the context is cancelled, or a non-looping source reaches end-of-stream.
// The worker retires itself from the clock on the way out.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker started")
	if w.lifecycle != nil {
		w.lifecycle.WorkerStarted(w.cfg.Name)
	}

	reason := "stopped"
	defer func() {
		w.clock.Retire(w.cfg.Name)
		if err := w.source.Close(); err != nil {
			w.logger.Warn("Failed to close frame source", "error", err)
		}
		w.logger.Info("Worker exited", "reason", reason)
		if w.lifecycle != nil {
			w.lifecycle.WorkerStopped(w.cfg.Name, reason)
		}
	}()

	var lastTick uint64
	for {
		tick, ok := w.clock.WaitForTick(w.cfg.Name, lastTick)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			reason = "cancelled"
			return
		}
		started := w.now()

		frame, err := w.source.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.logger.Error("Frame read failed", "error", err)
				reason = "source error"
				return
			}
			if !w.cfg.Loop {
				reason = "end of stream"
				return
			}
			if err := w.source.Restart(); err != nil {
				w.logger.Error("Failed to restart looping source", "error", err)
				reason = "restart failed"
				return
			}
			w.logger.Debug("Source looped back to start")
			if frame, err = w.source.Next(); err != nil {
				w.logger.Error("Frame read failed after restart", "error", err)
				reason = "source error"
				return
			}
		}

		if err := w.processFrame(tick, frame); err != nil {
			// One bad frame must not kill the camera.
			w.logger.Error("Frame processing failed", "tick", tick, "frame", frame.Index, "error", err)
		}

		w.clock.Mark(w.cfg.Name, tick)
		lastTick = tick
		if w.progress != nil {
			w.progress.WorkerProgress(w.cfg.Name, tick)
		}

		if w.cfg.Interval > 0 {
			if remaining := w.cfg.Interval - w.now().Sub(started); remaining > 0 {
				w.sleep(remaining)
			}
		}
	}
}

func (w *Worker) processFrame(tick uint64, frame Frame) error {
	tracks, err := w.pipeline.Process(frame)
	if err != nil {
		return err
	}
	for _, t := range tracks {
		t.LastTick = tick
	}

	ids := w.aggregator.Submit(w.cfg.CameraID, tracks)

	encoded, err := w.renderer.Render(frame, tracks, ids)
	if err != nil {
		return err
	}
	w.publisher.Publish(w.cfg.Name, encoded)
	return nil
}
