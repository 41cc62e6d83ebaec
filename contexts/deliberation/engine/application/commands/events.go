package commands

import (
	"encoding/json"
	"time"

	"chant/contexts/deliberation/engine/ports"
)

func newEngineEnvelope(
	eventID string,
	eventType string,
	deliberationID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Engine events are partitioned by deliberation for stable ordering on
	// deliberation-scoped consumers.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "deliberation-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "deliberation_id",
		PartitionKey:     deliberationID,
		Data:             payload,
	}, nil
}
