package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/adapters/ledgertest"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

func TestUpdateDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.SaveCounter(ctx, entities.NewCounter()); err != nil {
			return err
		}
		if err := tx.InsertPoll(ctx, entities.Poll{ID: 1, StartTime: 1, EndTime: 2}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	err = store.View(ctx, func(tx ports.LedgerTx) error {
		if _, found, _ := tx.GetCounter(ctx); found {
			return errors.New("counter leaked from failed transaction")
		}
		if _, err := tx.GetPoll(ctx, 1); !errors.Is(err, domainerrors.ErrPollNotFound) {
			return errors.New("poll leaked from failed transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	err := store.View(ctx, func(tx ports.LedgerTx) error {
		return tx.SaveCounter(ctx, entities.NewCounter())
	})
	if err == nil {
		t.Fatalf("expected write inside view to fail")
	}
}

func TestRegistrationsAreCopiedOut(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	votedFor := uint64(2)
	err := store.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.InsertRegistration(ctx, entities.Registration{Voter: "v", PollID: 1, HasVoted: true, VotedFor: &votedFor})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	votedFor = 7

	_ = store.View(ctx, func(tx ports.LedgerTx) error {
		registration, _, _ := tx.GetRegistration(ctx, "v", 1)
		if *registration.VotedFor != 2 {
			t.Fatalf("stored registration aliased caller memory")
		}
		*registration.VotedFor = 9
		return nil
	})
	_ = store.View(ctx, func(tx ports.LedgerTx) error {
		registration, _, _ := tx.GetRegistration(ctx, "v", 1)
		if *registration.VotedFor != 2 {
			t.Fatalf("read registration aliased stored memory")
		}
		return nil
	})

	err = store.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.InsertRegistration(ctx, entities.Registration{Voter: "v", PollID: 1})
	})
	if !errors.Is(err, domainerrors.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
}

func TestIdempotencyExpires(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Unix(1000, 0).UTC()
	record := ports.IdempotencyRecord{Key: "k", RequestHash: "h1", PollID: 1, ExpiresAt: now.Add(time.Minute)}

	err := store.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.PutIdempotency(ctx, record, now); err != nil {
			return err
		}
		conflicting := record
		conflicting.RequestHash = "h2"
		if err := tx.PutIdempotency(ctx, conflicting, now); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
			t.Fatalf("expected idempotency conflict, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	_ = store.View(ctx, func(tx ports.LedgerTx) error {
		if _, found, _ := tx.GetIdempotency(ctx, "k", now); !found {
			t.Fatalf("expected live record")
		}
		if _, found, _ := tx.GetIdempotency(ctx, "k", now.Add(time.Hour)); found {
			t.Fatalf("expected expired record to be hidden")
		}
		return nil
	})
}

func TestOutboxOrderAndPublish(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for _, id := range []string{"e3", "e1", "e2"} {
		err := store.Update(ctx, func(tx ports.LedgerTx) error {
			return tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: id, EventType: "vote.cast", PartitionKey: "1"})
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	pending, err := store.ListPendingOutbox(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].OutboxID != "e3" || pending[1].OutboxID != "e1" {
		t.Fatalf("expected append order, got %+v", pending)
	}
	if err := store.MarkOutboxPublished(ctx, "e3", time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, _ = store.ListPendingOutbox(ctx, 10)
	if len(pending) != 2 || pending[0].OutboxID != "e1" {
		t.Fatalf("expected e3 to be published, got %+v", pending)
	}
	if err := store.MarkOutboxPublished(ctx, "missing", time.Now()); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for unknown row, got %v", err)
	}
}

func TestPublishedOutboxRowsLeaveTheStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for _, id := range []string{"e1", "e2"} {
		err := store.Update(ctx, func(tx ports.LedgerTx) error {
			return tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: id, EventType: "vote.cast", PartitionKey: "1"})
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	for _, id := range []string{"e1", "e2"} {
		if err := store.MarkOutboxPublished(ctx, id, time.Now()); err != nil {
			t.Fatalf("mark %s: %v", id, err)
		}
	}
	if len(store.outbox) != 0 {
		t.Fatalf("published rows must be pruned, %d left", len(store.outbox))
	}

	err := store.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.AppendOutbox(ctx, ports.EventEnvelope{EventID: "e3", EventType: "vote.cast", PartitionKey: "1"})
	})
	if err != nil {
		t.Fatalf("append e3: %v", err)
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 1 || pending[0].OutboxID != "e3" {
		t.Fatalf("expected only e3 pending, got %+v", pending)
	}
}

func TestAuthorityAllowList(t *testing.T) {
	ctx := context.Background()
	open := NewAuthorityAllowList(nil)
	if ok, _ := open.CanCreatePolls(ctx, "anyone"); !ok {
		t.Fatalf("empty allow list must admit everyone")
	}
	restricted := NewAuthorityAllowList([]string{" alice ", ""})
	if ok, _ := restricted.CanCreatePolls(ctx, "alice"); !ok {
		t.Fatalf("expected alice to be allowed")
	}
	if ok, _ := restricted.CanCreatePolls(ctx, "bob"); ok {
		t.Fatalf("expected bob to be rejected")
	}
}

func TestStoreLedgerBehaviour(t *testing.T) {
	ledgertest.Run(t, func(*testing.T) ledgertest.Backend {
		store := NewStore()
		return ledgertest.Backend{Ledger: store, Outbox: store}
	})
}
