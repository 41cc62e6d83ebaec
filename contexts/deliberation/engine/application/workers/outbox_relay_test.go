package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chant/contexts/deliberation/engine/adapters/memory"
	"chant/contexts/deliberation/engine/ports"
)

type capturePublisher struct {
	topics []string
	events []ports.EventEnvelope
}

func (p *capturePublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, ports.EventEnvelope) error {
	return errors.New("broker unavailable")
}

func appendTestEvent(t *testing.T, store *memory.Store, eventID, eventType string, offset time.Duration) {
	t.Helper()
	err := store.AppendOutbox(context.Background(), ports.EventEnvelope{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset),
		SourceService: "deliberation-engine",
		SchemaVersion: 1,
		PartitionKey:  "deliberation-1",
		Data:          json.RawMessage(`{"deliberation_id":"deliberation-1"}`),
	})
	if err != nil {
		t.Fatalf("append outbox failed: %v", err)
	}
}

func TestOutboxRelayPublishesPendingRows(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	appendTestEvent(t, store, "evt-1", "idea_submitted", 0)
	appendTestEvent(t, store, "evt-2", "cell_completed", time.Second)

	publisher := &capturePublisher{}
	relay := OutboxRelay{
		Outbox:    store,
		Publisher: publisher,
		Clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)},
		BatchSize: 10,
	}
	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay failed: %v", err)
	}

	if len(publisher.events) != 2 {
		t.Fatalf("published = %d", len(publisher.events))
	}
	if publisher.topics[0] != "idea_submitted" || publisher.topics[1] != "cell_completed" {
		t.Fatalf("topics = %v", publisher.topics)
	}
	if publisher.events[0].EventID != "evt-1" {
		t.Fatalf("first event = %s", publisher.events[0].EventID)
	}

	pending, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after relay = %d", len(pending))
	}
}

func TestOutboxRelayKeepsRowsOnPublishFailure(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	appendTestEvent(t, store, "evt-1", "idea_submitted", 0)

	relay := OutboxRelay{
		Outbox:    store,
		Publisher: failingPublisher{},
		BatchSize: 10,
	}
	if err := relay.RunOnce(ctx); err == nil {
		t.Fatalf("relay should surface the publish failure")
	}

	pending, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("failed rows must stay pending, got %d", len(pending))
	}
}
