package commands

import (
	"encoding/json"
	"strconv"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/ports"
	eventsv1 "votingdapp/contracts/gen/events/v1"
)

const (
	EventPollCreated     = "poll.created"
	EventCandidateAdded  = "candidate.added"
	EventVoterRegistered = "voter.registered"
	EventVoteCast        = "vote.cast"
)

func newProgramEnvelope(
	eventID string,
	eventType string,
	pollID uint64,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Every program event is partitioned by poll so consumers see one poll's
	// transitions in commit order.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "voting-program",
		TraceID:          eventID,
		SchemaVersion:    eventsv1.SchemaVersion,
		PartitionKeyPath: "poll_id",
		PartitionKey:     strconv.FormatUint(pollID, 10),
		Data:             payload,
	}, nil
}
