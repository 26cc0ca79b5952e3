package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the envelope layout producers in this module emit.
const SchemaVersion = 1

// Envelope is the versioned event envelope shared by the outbox, the relay and
// every bus consumer. Fields may be added; existing JSON names never change.
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Validate rejects envelopes a consumer could not route or deduplicate.
func (e Envelope) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidEnvelope)
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidEnvelope)
	case e.SchemaVersion < 1 || e.SchemaVersion > SchemaVersion:
		return fmt.Errorf("%w: unsupported schema_version %d", ErrInvalidEnvelope, e.SchemaVersion)
	case e.PartitionKeyPath != "" && e.PartitionKey == "":
		return fmt.Errorf("%w: partition_key is required for path %q", ErrInvalidEnvelope, e.PartitionKeyPath)
	case len(e.Data) > 0 && !json.Valid(e.Data):
		return fmt.Errorf("%w: data is not valid json", ErrInvalidEnvelope)
	}
	return nil
}
