package postgresadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/adapters/ledgertest"
	"votingdapp/contexts/onchain-voting/voting-program/application/commands"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
	"votingdapp/internal/platform/db"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	database, err := db.ConnectSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	repo := NewRepository(database.DB, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestRepositoryLedgerBehaviour(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledgertest.Backend {
		repo := openTestRepository(t)
		return ledgertest.Backend{Ledger: repo, Outbox: repo}
	})
}

func TestU64KeepsNumericOrderAsText(t *testing.T) {
	small, _ := U64(9).Value()
	large, _ := U64(10).Value()
	if small.(string) >= large.(string) {
		t.Fatalf("expected %v to sort before %v", small, large)
	}

	var parsed U64
	if err := parsed.Scan([]byte("00000000000000000042")); err != nil || parsed != 42 {
		t.Fatalf("scan bytes: %v %d", err, parsed)
	}
	if err := parsed.Scan(nil); err != nil || parsed != 0 {
		t.Fatalf("scan nil: %v %d", err, parsed)
	}
	if err := parsed.Scan(int64(-1)); err == nil {
		t.Fatalf("expected negative value to fail")
	}
	if err := parsed.Scan(1.5); err == nil {
		t.Fatalf("expected unsupported type to fail")
	}
	largest, _ := U64(^uint64(0)).Value()
	if err := parsed.Scan(largest); err != nil || uint64(parsed) != ^uint64(0) {
		t.Fatalf("expected max uint64 round trip, got %v %d", err, parsed)
	}
}

func TestRepositoryCountsConcurrentVotesOnce(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)
	uc := commands.ProgramUseCase{
		Ledger: repo,
		Clock:  fixedClock{now: time.Unix(50, 0)},
		IDGen:  UUIDGenerator{},
		Policy: entities.DefaultCandidatePolicy(),
	}
	if _, err := uc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	created, err := uc.CreatePoll(ctx, commands.CreatePollCommand{Authority: "alice", Description: "Lunch", StartTime: 100, EndTime: 200})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	added, err := uc.AddCandidate(ctx, commands.AddCandidateCommand{Authority: "alice", PollID: created.Poll.ID, Name: "A"})
	if err != nil {
		t.Fatalf("add candidate: %v", err)
	}
	if _, err := uc.Register(ctx, commands.RegisterCommand{Voter: "v", PollID: created.Poll.ID}); err != nil {
		t.Fatalf("register: %v", err)
	}

	uc.Clock = fixedClock{now: time.Unix(150, 0)}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.CastVote(ctx, commands.CastVoteCommand{Voter: "v", PollID: created.Poll.ID, CandidateID: added.Candidate.CandidateID})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one accepted vote, got %d", successes)
	}

	err = repo.View(ctx, func(tx ports.LedgerTx) error {
		candidate, err := tx.GetCandidate(ctx, added.Candidate.CandidateID)
		if err != nil {
			return err
		}
		if candidate.VoteCount != 1 {
			t.Fatalf("expected one vote, got %d", candidate.VoteCount)
		}
		counter, _, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		if counter.Count != 3 {
			t.Fatalf("expected counter 3 after one poll and one candidate, got %d", counter.Count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	pending, err := repo.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(pending) != 4 || pending[3].EventType != commands.EventVoteCast {
		t.Fatalf("expected four committed events ending in a vote, got %+v", pending)
	}
}

func TestRepositoryInitializesCounterOnce(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)
	uc := commands.ProgramUseCase{
		Ledger: repo,
		Clock:  fixedClock{now: time.Unix(50, 0)},
		IDGen:  UUIDGenerator{},
		Policy: entities.DefaultCandidatePolicy(),
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Initialize(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one initialization, got %d", successes)
	}
	for _, err := range others {
		if !errors.Is(err, domainerrors.ErrAlreadyInitialized) {
			t.Fatalf("expected already initialized, got %v", err)
		}
	}

	if _, err := uc.CreatePoll(ctx, commands.CreatePollCommand{Authority: "alice", Description: "Lunch", StartTime: 100, EndTime: 200}); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if _, err := uc.Initialize(ctx); !errors.Is(err, domainerrors.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	err := repo.View(ctx, func(tx ports.LedgerTx) error {
		counter, _, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		if counter.Count != 2 {
			t.Fatalf("late initialize must not reset the counter, got %d", counter.Count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRepositoryRollsBackLostIdempotencyClaim(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)
	now := time.Unix(50, 0).UTC()
	record := ports.IdempotencyRecord{Key: "lunch-1", RequestHash: "hash", PollID: 2, ExpiresAt: now.Add(time.Hour)}
	if err := repo.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.InitializeCounter(ctx, entities.NewCounter()); err != nil {
			return err
		}
		return tx.PutIdempotency(ctx, record, now)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Same key and request as the committed claim, as a concurrent duplicate
	// that read the key before it was committed would write.
	err := repo.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.SaveCounter(ctx, entities.Counter{Count: 3}); err != nil {
			return err
		}
		if err := tx.InsertPoll(ctx, entities.Poll{ID: 2, StartTime: 100, EndTime: 200, Authority: "alice"}); err != nil {
			return err
		}
		return tx.PutIdempotency(ctx, record, now)
	})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	err = repo.View(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.GetPoll(ctx, 2); !errors.Is(err, domainerrors.ErrPollNotFound) {
			t.Fatalf("duplicate poll must roll back, got %v", err)
		}
		counter, _, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		if counter.Count != 1 {
			t.Fatalf("counter must roll back, got %d", counter.Count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
