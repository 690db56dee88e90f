package api

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/CrossTrack-Live/CrossTrack/internal/bus"
)

// AttachBus bridges the event bus onto the WebSocket hub: clustering passes
// arrive as cluster_update messages, worker lifecycle and stall events as
// worker_state messages.
func AttachBus(hub *Hub, b *bus.Bus) error {
	forward := func(msgType MessageType) func(*nats.Msg) {
		return func(msg *nats.Msg) {
			var data any
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				return
			}
			hub.Broadcast(Message{Type: msgType, Data: data})
		}
	}

	if _, err := b.Subscribe(bus.SubjectClustersUpdated, forward(MessageTypeClusterUpdate)); err != nil {
		return err
	}
	if _, err := b.Subscribe("workers.>", forward(MessageTypeWorkerState)); err != nil {
		return err
	}
	return nil
}
