package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "votingdapp/contexts/onchain-voting/voting-program/application"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

// OutboxRelay publishes committed program events to the event bus.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce publishes a bounded batch of pending outbox rows and marks each row
// published only after the bus accepts it. It stops on the first failure so
// the next cycle resumes from the same row.
func (r OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("voting outbox list failed",
			application.LogAttrs("worker", "voting_outbox_list_failed",
				"error", err.Error(),
			)...,
		)
		return 0, err
	}
	if len(pending) == 0 {
		logger.Debug("voting outbox relay found no pending rows",
			application.LogAttrs("worker", "voting_outbox_relay_noop",
				"batch_size", limit,
			)...,
		)
		return 0, nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	published := 0
	for _, row := range pending {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			logger.Error("voting outbox decode failed",
				application.LogAttrs("worker", "voting_outbox_decode_failed",
					"outbox_id", row.OutboxID,
					"error", err.Error(),
				)...,
			)
			return published, err
		}
		topic := event.EventType
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, event); err != nil {
			logger.Error("voting outbox publish failed",
				application.LogAttrs("worker", "voting_outbox_publish_failed",
					"outbox_id", row.OutboxID,
					"event_id", event.EventID,
					"event_type", event.EventType,
					"error", err.Error(),
				)...,
			)
			return published, err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("voting outbox mark published failed",
				application.LogAttrs("worker", "voting_outbox_mark_published_failed",
					"outbox_id", row.OutboxID,
					"error", err.Error(),
				)...,
			)
			return published, err
		}
		published++
	}

	logger.Info("voting outbox relay cycle completed",
		application.LogAttrs("worker", "voting_outbox_relay_completed",
			"published_count", published,
		)...,
	)
	return published, nil
}
