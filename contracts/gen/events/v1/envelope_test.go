package v1

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	valid := Envelope{
		EventID:          "evt-1",
		EventType:        "vote.cast",
		SchemaVersion:    SchemaVersion,
		PartitionKeyPath: "poll_id",
		PartitionKey:     "1",
		Data:             json.RawMessage(`{"poll_id":1}`),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}

	cases := map[string]func(e *Envelope){
		"missing id":     func(e *Envelope) { e.EventID = "" },
		"missing type":   func(e *Envelope) { e.EventType = " " },
		"future version": func(e *Envelope) { e.SchemaVersion = SchemaVersion + 1 },
		"missing key":    func(e *Envelope) { e.PartitionKey = "" },
		"malformed data": func(e *Envelope) { e.Data = json.RawMessage(`{"poll_id":`) },
	}
	for name, mutate := range cases {
		envelope := valid
		mutate(&envelope)
		if err := envelope.Validate(); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("%s: expected ErrInvalidEnvelope, got %v", name, err)
		}
	}
}
