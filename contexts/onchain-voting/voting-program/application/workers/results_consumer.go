package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	application "votingdapp/contexts/onchain-voting/voting-program/application"
	"votingdapp/contexts/onchain-voting/voting-program/application/commands"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

const defaultResultsCG = "voting-program-results-cg"

// ResultsConsumer drops cached tallies when another process commits a change
// to a poll's candidates.
type ResultsConsumer struct {
	Subscriber    ports.EventSubscriber
	Results       ports.ResultsCache
	ConsumerGroup string
	Disabled      bool
	Logger        *slog.Logger
}

func (c ResultsConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled || c.Results == nil {
		logger.Info("results consumer disabled",
			application.LogAttrs("worker", "voting_results_consumer_disabled")...,
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultResultsCG
	}
	for _, topic := range []string{commands.EventCandidateAdded, commands.EventVoteCast} {
		if err := c.Subscriber.Subscribe(ctx, topic, group, c.handle); err != nil {
			logger.Error("results consumer subscribe failed",
				application.LogAttrs("worker", "voting_results_consumer_subscribe_failed",
					"topic", topic,
					"consumer_group", group,
					"error", err.Error(),
				)...,
			)
			return err
		}
	}
	logger.Info("results consumer subscriptions active",
		application.LogAttrs("worker", "voting_results_consumer_started",
			"consumer_group", group,
		)...,
	)
	return nil
}

func (c ResultsConsumer) handle(_ context.Context, event ports.EventEnvelope) error {
	pollID, err := strconv.ParseUint(strings.TrimSpace(event.PartitionKey), 10, 64)
	if err != nil {
		var payload struct {
			PollID uint64 `json:"poll_id"`
		}
		if decodeErr := json.Unmarshal(event.Data, &payload); decodeErr != nil {
			return decodeErr
		}
		pollID = payload.PollID
	}
	c.Results.InvalidateResults(pollID)
	application.ResolveLogger(c.Logger).Debug("results cache invalidated",
		application.LogAttrs("worker", "voting_results_invalidated",
			"poll_id", pollID,
			"event_id", event.EventID,
			"event_type", event.EventType,
		)...,
	)
	return nil
}
