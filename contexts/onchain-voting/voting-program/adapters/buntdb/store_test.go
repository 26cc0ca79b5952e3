package buntdb

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"votingdapp/contexts/onchain-voting/voting-program/adapters/accountcodec"
	"votingdapp/contexts/onchain-voting/voting-program/adapters/ledgertest"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	"votingdapp/contexts/onchain-voting/voting-program/ports"

	"github.com/tidwall/buntdb"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLedgerBehaviour(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledgertest.Backend {
		store := openTestStore(t, ":memory:")
		return ledgertest.Backend{Ledger: store, Outbox: store}
	})
}

func TestStorePersistsEncodedAccounts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = store.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.SaveCounter(ctx, entities.Counter{Count: 3}); err != nil {
			return err
		}
		if err := tx.InsertPoll(ctx, entities.Poll{ID: 1, Description: "Lunch", StartTime: 100, EndTime: 200, CandidateCount: 1}); err != nil {
			return err
		}
		return tx.InsertCandidate(ctx, entities.Candidate{PollID: 1, CandidateID: 2, Name: "A", VoteCount: 7})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	err = reopened.View(ctx, func(tx ports.LedgerTx) error {
		counter, found, err := tx.GetCounter(ctx)
		if err != nil || !found || counter.Count != 3 {
			t.Fatalf("unexpected counter after reopen: %+v found=%v err=%v", counter, found, err)
		}
		candidate, err := tx.GetCandidate(ctx, 2)
		if err != nil || candidate.VoteCount != 7 || candidate.Name != "A" {
			t.Fatalf("unexpected candidate after reopen: %+v err=%v", candidate, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestAccountsLiveUnderDerivedAddresses(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, ":memory:")
	poll := entities.Poll{ID: 5, Description: "Dinner", StartTime: 100, EndTime: 200}
	if err := store.Update(ctx, func(tx ports.LedgerTx) error { return tx.InsertPoll(ctx, poll) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(accountKey(entities.PollAddress(5)))
		if err != nil {
			return err
		}
		kind, err := accountcodec.Kind([]byte(raw))
		if err != nil || kind != entities.KindPoll {
			t.Fatalf("expected a poll account, got %v %v", kind, err)
		}
		decoded, err := accountcodec.DecodeAs[entities.Poll]([]byte(raw))
		if err != nil || decoded.Description != "Dinner" {
			t.Fatalf("unexpected decoded poll: %+v %v", decoded, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
