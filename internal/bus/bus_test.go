package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CrossTrack-Live/CrossTrack/internal/mtmc"
	"github.com/CrossTrack-Live/CrossTrack/internal/track"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func waitMsg(t *testing.T, ch <-chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	b := newTestBus(t)

	got := make(chan *nats.Msg, 1)
	if _, err := b.Subscribe("test.subject", func(msg *nats.Msg) { got <- msg }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Publish("test.subject", map[string]int{"value": 42}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg := waitMsg(t, got)
	var payload map[string]int
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["value"] != 42 {
		t.Errorf("payload = %v", payload)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	got := make(chan *nats.Msg, 1)
	if _, err := b.Subscribe("test.unsub", func(msg *nats.Msg) { got <- msg }); err != nil {
		t.Fatal(err)
	}
	b.Unsubscribe("test.unsub")

	if err := b.Publish("test.unsub", "x"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
		t.Error("received a message after Unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSinkPublishesClusterEvent(t *testing.T) {
	b := newTestBus(t)
	sink := NewSink(b)

	got := make(chan *nats.Msg, 1)
	if _, err := b.Subscribe(SubjectClustersUpdated, func(msg *nats.Msg) { got <- msg }); err != nil {
		t.Fatal(err)
	}

	sink.ClustersUpdated(&mtmc.Snapshot{
		Pass: 3,
		At:   time.Now(),
		Clusters: []track.GlobalCluster{
			{GlobalID: 7, Members: []track.Member{{Camera: 0, TrackID: 1}, {Camera: 1, TrackID: 4}}},
		},
	})

	msg := waitMsg(t, got)
	var ev ClusterEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Pass != 3 {
		t.Errorf("pass = %d, want 3", ev.Pass)
	}
	if len(ev.Clusters) != 1 || ev.Clusters[0].GlobalID != 7 {
		t.Fatalf("clusters = %+v", ev.Clusters)
	}
	if len(ev.Clusters[0].Members) != 2 || ev.Clusters[0].Members[1].Camera != 1 {
		t.Errorf("members = %+v", ev.Clusters[0].Members)
	}
}

func TestSinkPublishesWorkerLifecycle(t *testing.T) {
	b := newTestBus(t)
	sink := NewSink(b)

	started := make(chan *nats.Msg, 1)
	stopped := make(chan *nats.Msg, 1)
	stalled := make(chan *nats.Msg, 1)
	for subject, ch := range map[string]chan *nats.Msg{
		SubjectWorkerStarted: started,
		SubjectWorkerStopped: stopped,
		SubjectWorkerStalled: stalled,
	} {
		ch := ch
		if _, err := b.Subscribe(subject, func(msg *nats.Msg) { ch <- msg }); err != nil {
			t.Fatal(err)
		}
	}

	sink.WorkerStarted("lot_east")
	sink.WorkerStopped("lot_east", "end of stream")
	sink.WorkerStalled("lot_west")

	var ev WorkerEvent
	if err := json.Unmarshal(waitMsg(t, started).Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Worker != "lot_east" || ev.Event != "started" {
		t.Errorf("started event = %+v", ev)
	}

	if err := json.Unmarshal(waitMsg(t, stopped).Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Reason != "end of stream" {
		t.Errorf("stopped event = %+v", ev)
	}

	if err := json.Unmarshal(waitMsg(t, stalled).Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Worker != "lot_west" || ev.Event != "stalled" {
		t.Errorf("stalled event = %+v", ev)
	}
}
