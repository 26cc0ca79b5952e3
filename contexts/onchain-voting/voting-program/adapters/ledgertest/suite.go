// Package ledgertest holds the behaviour every ledger backend must share.
// Adapter tests call Run with a constructor for a fresh, empty ledger.
package ledgertest

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

// Backend is a ledger together with the outbox it appends to.
type Backend struct {
	Ledger ports.Ledger
	Outbox ports.OutboxRepository
}

// Run executes the shared ledger behaviour against backends built by open.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Helper()
	t.Run("records round trip", func(t *testing.T) { testRecordsRoundTrip(t, open(t)) })
	t.Run("missing records", func(t *testing.T) { testMissingRecords(t, open(t)) })
	t.Run("duplicate inserts", func(t *testing.T) { testDuplicateInserts(t, open(t)) })
	t.Run("failed update rolls back", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("view is read only", func(t *testing.T) { testReadOnlyView(t, open(t)) })
	t.Run("counter initialization", func(t *testing.T) { testCounterInitialization(t, open(t)) })
	t.Run("idempotency keys", func(t *testing.T) { testIdempotency(t, open(t)) })
	t.Run("outbox order", func(t *testing.T) { testOutbox(t, open(t)) })
}

func seed(ctx context.Context, tx ports.LedgerTx) error {
	if err := tx.SaveCounter(ctx, entities.Counter{Count: 4}); err != nil {
		return err
	}
	if err := tx.InsertPoll(ctx, entities.Poll{
		ID: 1, Description: "Lunch", StartTime: 100, EndTime: 200, CandidateCount: 2, Authority: "alice", CreatedAt: 50,
	}); err != nil {
		return err
	}
	for _, candidate := range []entities.Candidate{
		{PollID: 1, CandidateID: 3, Name: "B"},
		{PollID: 1, CandidateID: 2, Name: "A"},
	} {
		if err := tx.InsertCandidate(ctx, candidate); err != nil {
			return err
		}
	}
	if err := tx.InsertVoter(ctx, entities.Voter{Identity: "v", FirstSeenAt: 60}); err != nil {
		return err
	}
	return tx.InsertRegistration(ctx, entities.Registration{Voter: "v", PollID: 1, RegisteredAt: 60})
}

func testRecordsRoundTrip(t *testing.T, backend Backend) {
	ctx := context.Background()
	if err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error { return seed(ctx, tx) }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		candidate, err := tx.GetCandidate(ctx, 2)
		if err != nil {
			return err
		}
		registration, found, err := tx.GetRegistration(ctx, "v", 1)
		if err != nil || !found {
			return errors.Join(err, errors.New("registration missing"))
		}
		voted, tallied, err := entities.CastVote(registration, candidate, entities.Poll{ID: 1, StartTime: 100, EndTime: 200}, 150)
		if err != nil {
			return err
		}
		if err := tx.UpdateRegistration(ctx, voted); err != nil {
			return err
		}
		return tx.UpdateCandidate(ctx, tallied)
	})
	if err != nil {
		t.Fatalf("vote: %v", err)
	}

	err = backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		counter, found, err := tx.GetCounter(ctx)
		if err != nil || !found || counter.Count != 4 {
			t.Fatalf("unexpected counter %+v found=%v err=%v", counter, found, err)
		}
		poll, err := tx.GetPoll(ctx, 1)
		if err != nil {
			t.Fatalf("get poll: %v", err)
		}
		if poll.Description != "Lunch" || poll.StartTime != 100 || poll.EndTime != 200 || poll.CandidateCount != 2 || poll.Authority != "alice" {
			t.Fatalf("unexpected poll: %+v", poll)
		}
		polls, err := tx.ListPolls(ctx)
		if err != nil || len(polls) != 1 {
			t.Fatalf("expected one poll, got %v %v", polls, err)
		}
		candidates, err := tx.ListCandidatesByPoll(ctx, 1)
		if err != nil || len(candidates) != 2 {
			t.Fatalf("expected two candidates, got %v %v", candidates, err)
		}
		if candidates[0].CandidateID != 2 || candidates[0].VoteCount != 1 || candidates[1].Name != "B" {
			t.Fatalf("unexpected candidates: %+v", candidates)
		}
		if _, found, err := tx.GetVoter(ctx, "v"); err != nil || !found {
			t.Fatalf("expected voter, got found=%v err=%v", found, err)
		}
		if _, found, err := tx.GetVoter(ctx, "nobody"); err != nil || found {
			t.Fatalf("expected no voter, got found=%v err=%v", found, err)
		}
		registration, found, err := tx.GetRegistration(ctx, "v", 1)
		if err != nil || !found {
			t.Fatalf("expected registration, got found=%v err=%v", found, err)
		}
		if !registration.HasVoted || registration.VotedFor == nil || *registration.VotedFor != 2 || registration.VotedAt != 150 {
			t.Fatalf("unexpected registration: %+v", registration)
		}
		byVoter, err := tx.ListRegistrationsByVoter(ctx, "v")
		if err != nil || len(byVoter) != 1 || byVoter[0].PollID != 1 {
			t.Fatalf("unexpected registrations by voter: %v %v", byVoter, err)
		}
		byPoll, err := tx.ListRegistrationsByPoll(ctx, 1)
		if err != nil || len(byPoll) != 1 || byPoll[0].Voter != "v" {
			t.Fatalf("unexpected registrations by poll: %v %v", byPoll, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func testMissingRecords(t *testing.T, backend Backend) {
	ctx := context.Background()
	err := backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		if _, found, err := tx.GetCounter(ctx); err != nil || found {
			t.Fatalf("expected no counter, got found=%v err=%v", found, err)
		}
		if _, err := tx.GetPoll(ctx, 9); !errors.Is(err, domainerrors.ErrPollNotFound) {
			t.Fatalf("expected poll not found, got %v", err)
		}
		if _, err := tx.GetCandidate(ctx, 9); !errors.Is(err, domainerrors.ErrCandidateNotFound) {
			t.Fatalf("expected candidate not found, got %v", err)
		}
		if _, found, err := tx.GetRegistration(ctx, "v", 9); err != nil || found {
			t.Fatalf("expected no registration, got found=%v err=%v", found, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	cases := map[error]func(tx ports.LedgerTx) error{
		domainerrors.ErrPollNotFound: func(tx ports.LedgerTx) error {
			return tx.UpdatePoll(ctx, entities.Poll{ID: 9, StartTime: 1, EndTime: 2})
		},
		domainerrors.ErrCandidateNotFound: func(tx ports.LedgerTx) error {
			return tx.UpdateCandidate(ctx, entities.Candidate{PollID: 9, CandidateID: 9, Name: "X"})
		},
		domainerrors.ErrNotRegistered: func(tx ports.LedgerTx) error {
			return tx.UpdateRegistration(ctx, entities.Registration{Voter: "v", PollID: 9})
		},
	}
	for want, update := range cases {
		if err := backend.Ledger.Update(ctx, update); !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	}
}

func testDuplicateInserts(t *testing.T, backend Backend) {
	ctx := context.Background()
	if err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error { return seed(ctx, tx) }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.InsertPoll(ctx, entities.Poll{ID: 1, Description: "Again", StartTime: 1, EndTime: 2})
	})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for a reused poll id, got %v", err)
	}
	err = backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.InsertCandidate(ctx, entities.Candidate{PollID: 1, CandidateID: 2, Name: "A"})
	})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for a reused candidate id, got %v", err)
	}
	err = backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.InsertRegistration(ctx, entities.Registration{Voter: "v", PollID: 1, RegisteredAt: 70})
	})
	if !errors.Is(err, domainerrors.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	err = backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.InsertVoter(ctx, entities.Voter{Identity: "v", FirstSeenAt: 999})
	})
	if err != nil {
		t.Fatalf("inserting a known voter must be a no-op, got %v", err)
	}
	err = backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		voter, _, err := tx.GetVoter(ctx, "v")
		if err != nil || voter.FirstSeenAt != 60 {
			t.Fatalf("voter must keep its first sighting, got %+v %v", voter, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func testRollback(t *testing.T, backend Backend) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		if err := seed(ctx, tx); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, envelope("rolled-back", 1)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	err = backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		if _, found, _ := tx.GetCounter(ctx); found {
			t.Fatalf("counter leaked from a failed update")
		}
		if _, err := tx.GetPoll(ctx, 1); !errors.Is(err, domainerrors.ErrPollNotFound) {
			t.Fatalf("poll leaked from a failed update: %v", err)
		}
		if _, found, _ := tx.GetRegistration(ctx, "v", 1); found {
			t.Fatalf("registration leaked from a failed update")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	pending, err := backend.Outbox.ListPendingOutbox(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("outbox row leaked from a failed update: %v %v", pending, err)
	}
}

func testReadOnlyView(t *testing.T, backend Backend) {
	ctx := context.Background()
	err := backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		return tx.SaveCounter(ctx, entities.NewCounter())
	})
	if err == nil {
		t.Fatalf("expected a write inside a view to fail")
	}
}

func testCounterInitialization(t *testing.T, backend Backend) {
	ctx := context.Background()
	initialize := func(tx ports.LedgerTx) error { return tx.InitializeCounter(ctx, entities.NewCounter()) }
	if err := backend.Ledger.Update(ctx, initialize); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.SaveCounter(ctx, entities.Counter{Count: 5})
	}); err != nil {
		t.Fatalf("save counter: %v", err)
	}
	if err := backend.Ledger.Update(ctx, initialize); !errors.Is(err, domainerrors.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	err := backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		counter, found, err := tx.GetCounter(ctx)
		if err != nil || !found || counter.Count != 5 {
			t.Fatalf("second initialize must not reset the counter, got %+v found=%v err=%v", counter, found, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func testIdempotency(t *testing.T, backend Backend) {
	ctx := context.Background()
	// Ledger time is pinned well before the wall clock; expiry follows it.
	now := time.Unix(1000, 0).UTC()
	record := ports.IdempotencyRecord{Key: "key-1", RequestHash: "hash-a", PollID: 1, ExpiresAt: now.Add(time.Hour)}
	if err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error { return tx.PutIdempotency(ctx, record, now) }); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A transaction that claims a key already committed for the same request
	// must fail so its other writes roll back.
	err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.InsertPoll(ctx, entities.Poll{ID: 9, StartTime: 100, EndTime: 200, Authority: "alice"}); err != nil {
			return err
		}
		return tx.PutIdempotency(ctx, record, now.Add(time.Minute))
	})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for an already claimed key, got %v", err)
	}
	conflicting := record
	conflicting.RequestHash = "hash-b"
	err = backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error { return tx.PutIdempotency(ctx, conflicting, now) })
	if !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}

	err = backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.GetPoll(ctx, 9); !errors.Is(err, domainerrors.ErrPollNotFound) {
			t.Fatalf("poll written beside a lost key claim must roll back, got %v", err)
		}
		stored, found, err := tx.GetIdempotency(ctx, "key-1", now)
		if err != nil || !found {
			t.Fatalf("expected stored key, got found=%v err=%v", found, err)
		}
		if stored.RequestHash != "hash-a" || stored.PollID != 1 {
			t.Fatalf("unexpected record: %+v", stored)
		}
		if _, found, _ := tx.GetIdempotency(ctx, "key-1", now.Add(2*time.Hour)); found {
			t.Fatalf("expired key must not be returned")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	later := now.Add(2 * time.Hour)
	replacement := conflicting
	replacement.PollID = 2
	replacement.ExpiresAt = later.Add(time.Hour)
	if err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error { return tx.PutIdempotency(ctx, replacement, later) }); err != nil {
		t.Fatalf("an expired key must be reusable, got %v", err)
	}
	err = backend.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		stored, found, err := tx.GetIdempotency(ctx, "key-1", later)
		if err != nil || !found || stored.RequestHash != "hash-b" || stored.PollID != 2 {
			t.Fatalf("expected replacement record, got %+v found=%v err=%v", stored, found, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func testOutbox(t *testing.T, backend Backend) {
	ctx := context.Background()
	err := backend.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		for i, id := range []string{"evt-c", "evt-a", "evt-b"} {
			if err := tx.AppendOutbox(ctx, envelope(id, uint64(i+1))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	pending, err := backend.Outbox.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 3 || pending[0].OutboxID != "evt-c" || pending[1].OutboxID != "evt-a" || pending[2].OutboxID != "evt-b" {
		t.Fatalf("expected commit order, got %+v", pending)
	}
	if pending[0].EventType != "poll.created" || pending[1].PartitionKey != "2" || len(pending[2].Payload) == 0 {
		t.Fatalf("unexpected outbox row: %+v", pending)
	}
	if limited, _ := backend.Outbox.ListPendingOutbox(ctx, 2); len(limited) != 2 {
		t.Fatalf("expected the batch limit to apply, got %d rows", len(limited))
	}

	if err := backend.Outbox.MarkOutboxPublished(ctx, "evt-c", time.Now()); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	pending, _ = backend.Outbox.ListPendingOutbox(ctx, 10)
	if len(pending) != 2 || pending[0].OutboxID != "evt-a" {
		t.Fatalf("published row must leave the pending list, got %+v", pending)
	}
	if err := backend.Outbox.MarkOutboxPublished(ctx, "evt-missing", time.Now()); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for an unknown row, got %v", err)
	}
}

func envelope(id string, pollID uint64) ports.EventEnvelope {
	return ports.EventEnvelope{
		EventID:       id,
		EventType:     "poll.created",
		OccurredAt:    time.Unix(100, 0).UTC(),
		SourceService: "voting-program",
		SchemaVersion: 1,
		PartitionKey:  strconv.FormatUint(pollID, 10),
		Data:          []byte(`{"poll_id":1}`),
	}
}
