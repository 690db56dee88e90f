// Package bus provides pub/sub messaging between the correlation core and
// its consumers using an embedded NATS server.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects published by the correlation core.
const (
	SubjectClustersUpdated = "tracking.clusters.updated"
	SubjectWorkerStarted   = "workers.lifecycle.started"
	SubjectWorkerStopped   = "workers.lifecycle.stopped"
	SubjectWorkerStalled   = "workers.stalled"
	SubjectSystemShutdown  = "system.shutdown"
)

// Config configures the embedded NATS server.
type Config struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server; 0 picks a free port
	Port int
}

// Bus wraps an embedded NATS server and a client connection to it.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.Mutex
}

// New starts an embedded NATS server and connects to it.
func New(cfg Config) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = server.RANDOM_PORT
	}

	ns, err := server.NewServer(&server.Options{
		Host:   cfg.Host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	b := &Bus{
		server: ns,
		conn:   nc,
		logger: slog.Default().With("component", "bus"),
		subs:   make(map[string][]*nats.Subscription),
	}
	b.logger.Info("Event bus started", "url", ns.ClientURL())
	return b, nil
}

// ClientURL returns the URL external consumers can connect to.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish marshals data as JSON and publishes it to a subject.
func (b *Bus) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe registers a handler for a subject. The subscription is tracked
// so Unsubscribe and Stop can clean it up.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe removes all tracked subscriptions for a subject.
func (b *Bus) Unsubscribe(subject string) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for _, sub := range b.subs[subject] {
		_ = sub.Unsubscribe()
	}
	delete(b.subs, subject)
}

// Stop drains the connection and shuts the server down.
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Event bus stopped")
}

// ClusterEvent is published on SubjectClustersUpdated after each completed
// clustering pass.
type ClusterEvent struct {
	Pass      uint64           `json:"pass"`
	Timestamp time.Time        `json:"timestamp"`
	Clusters  []ClusterSummary `json:"clusters"`
}

// ClusterSummary is one global identity and its member tracks.
type ClusterSummary struct {
	GlobalID int             `json:"global_id"`
	Members  []MemberSummary `json:"members"`
}

// MemberSummary identifies one local track inside a cluster.
type MemberSummary struct {
	Camera  int `json:"camera"`
	TrackID int `json:"track_id"`
}

// WorkerEvent is published on the workers.* subjects.
type WorkerEvent struct {
	Worker    string    `json:"worker"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// PublishWorkerStarted announces a camera worker entering its loop.
func (b *Bus) PublishWorkerStarted(worker string) error {
	return b.Publish(SubjectWorkerStarted, WorkerEvent{
		Worker:    worker,
		Event:     "started",
		Timestamp: time.Now(),
	})
}

// PublishWorkerStopped announces a camera worker exiting its loop.
func (b *Bus) PublishWorkerStopped(worker, reason string) error {
	return b.Publish(SubjectWorkerStopped, WorkerEvent{
		Worker:    worker,
		Event:     "stopped",
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

// PublishWorkerStalled announces a worker evicted from clock pacing.
func (b *Bus) PublishWorkerStalled(worker string) error {
	return b.Publish(SubjectWorkerStalled, WorkerEvent{
		Worker:    worker,
		Event:     "stalled",
		Timestamp: time.Now(),
	})
}
