package queries

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	cacheadapter "votingdapp/contexts/onchain-voting/voting-program/adapters/cache"
	"votingdapp/contexts/onchain-voting/voting-program/adapters/memory"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

// seedPoll writes poll 1 with candidates 2 and 3 and two voters who both
// voted for candidate 2.
func seedPoll(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	votedFor := uint64(2)
	err := store.Update(ctx, func(tx ports.LedgerTx) error {
		if err := tx.SaveCounter(ctx, entities.Counter{Count: 4}); err != nil {
			return err
		}
		if err := tx.InsertPoll(ctx, entities.Poll{ID: 1, Description: "Lunch", StartTime: 100, EndTime: 200, CandidateCount: 2}); err != nil {
			return err
		}
		if err := tx.InsertCandidate(ctx, entities.Candidate{PollID: 1, CandidateID: 3, Name: "B"}); err != nil {
			return err
		}
		if err := tx.InsertCandidate(ctx, entities.Candidate{PollID: 1, CandidateID: 2, Name: "A", VoteCount: 2}); err != nil {
			return err
		}
		for _, identity := range []string{"v1", "v2"} {
			if err := tx.InsertVoter(ctx, entities.Voter{Identity: identity}); err != nil {
				return err
			}
			if err := tx.InsertRegistration(ctx, entities.Registration{Voter: identity, PollID: 1, HasVoted: true, VotedFor: &votedFor}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestGetPollReportsWindowState(t *testing.T) {
	store := memory.NewStore()
	seedPoll(t, store)
	q := ProgramQueries{Ledger: store, Clock: store}

	store.SetNow(time.Unix(150, 0))
	details, err := q.GetPoll(context.Background(), 1)
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	if !details.Open || !details.Started || details.Ended {
		t.Fatalf("expected open poll, got %+v", details)
	}
	if len(details.Candidates) != 2 || details.Candidates[0].CandidateID != 2 {
		t.Fatalf("expected candidates ordered by id, got %+v", details.Candidates)
	}

	store.SetNow(time.Unix(200, 0))
	details, err = q.GetPoll(context.Background(), 1)
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	if details.Open || !details.Ended {
		t.Fatalf("expected ended poll, got %+v", details)
	}

	if _, err := q.GetPoll(context.Background(), 9); !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected poll not found, got %v", err)
	}
}

func TestResultsRankByVotesAndUseCache(t *testing.T) {
	store := memory.NewStore()
	seedPoll(t, store)
	cache := cacheadapter.NewResultsCache(time.Minute)
	q := ProgramQueries{Ledger: store, Clock: store, Results: cache}

	results, err := q.RankedResults(context.Background(), 1)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if results.TotalVotes != 2 || results.Candidates[0].Name != "A" || results.Candidates[1].Name != "B" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if _, ok := cache.GetResults(1); !ok {
		t.Fatalf("expected results to be cached")
	}

	// A cached read must not see writes until the poll is invalidated.
	ctx := context.Background()
	err = store.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.UpdateCandidate(ctx, entities.Candidate{PollID: 1, CandidateID: 3, Name: "B", VoteCount: 5})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	results, _ = q.RankedResults(ctx, 1)
	if results.Candidates[0].Name != "A" {
		t.Fatalf("expected cached ranking")
	}
	cache.InvalidateResults(1)
	results, _ = q.RankedResults(ctx, 1)
	if results.Candidates[0].Name != "B" || results.TotalVotes != 7 {
		t.Fatalf("expected fresh ranking after invalidation, got %+v", results)
	}

	if _, err := q.RankedResults(ctx, 42); !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected poll not found, got %v", err)
	}
}

// racingLedger commits a write, and invalidates the cache the way a command
// does, right after the first View returns.
type racingLedger struct {
	*memory.Store
	cache *cacheadapter.ResultsCache
	once  bool
}

func (l *racingLedger) View(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := l.Store.View(ctx, fn); err != nil {
		return err
	}
	if l.once {
		return nil
	}
	l.once = true
	err := l.Store.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.UpdateCandidate(ctx, entities.Candidate{PollID: 1, CandidateID: 3, Name: "B", VoteCount: 1})
	})
	if err != nil {
		return err
	}
	l.cache.InvalidateResults(1)
	return nil
}

func TestListCandidatesDoesNotCacheSnapshotOvertakenByCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedPoll(t, store)
	cache := cacheadapter.NewResultsCache(time.Minute)
	q := ProgramQueries{Ledger: &racingLedger{Store: store, cache: cache}, Clock: store, Results: cache}

	first, err := q.ListCandidates(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if first[1].VoteCount != 0 {
		t.Fatalf("expected the pre-commit snapshot, got %+v", first)
	}
	if _, ok := cache.GetResults(1); ok {
		t.Fatalf("snapshot read before the commit must not be cached")
	}

	second, err := q.ListCandidates(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if second[1].CandidateID != 3 || second[1].VoteCount != 1 {
		t.Fatalf("expected the committed vote, got %+v", second)
	}
}

func TestVoterAndRegistrationViews(t *testing.T) {
	store := memory.NewStore()
	seedPoll(t, store)
	q := ProgramQueries{Ledger: store, Clock: store}
	ctx := context.Background()

	profile, err := q.GetVoter(ctx, "v1")
	if err != nil {
		t.Fatalf("get voter: %v", err)
	}
	if len(profile.RegisteredPolls) != 1 || len(profile.VotedPolls) != 1 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if _, err := q.GetVoter(ctx, "nobody"); !errors.Is(err, domainerrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}

	view, err := q.GetRegistration(ctx, "v2", 1)
	if err != nil {
		t.Fatalf("get registration: %v", err)
	}
	if view.State != entities.RegistrationStateVoted {
		t.Fatalf("expected voted state, got %s", view.State)
	}
	if _, err := q.GetRegistration(ctx, "nobody", 1); !errors.Is(err, domainerrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if _, err := q.GetRegistration(ctx, "v1", 9); !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected poll not found, got %v", err)
	}
}

func TestAuditPollDetectsTamperedTallies(t *testing.T) {
	store := memory.NewStore()
	seedPoll(t, store)
	q := ProgramQueries{Ledger: store, Clock: store}
	ctx := context.Background()

	audit, err := q.AuditPoll(ctx, 1)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.Consistent {
		t.Fatalf("expected consistent seed, got %v", audit.Violations)
	}

	err = store.Update(ctx, func(tx ports.LedgerTx) error {
		return tx.UpdateCandidate(ctx, entities.Candidate{PollID: 1, CandidateID: 2, Name: "A", VoteCount: 3})
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}
	audit, err = q.AuditPoll(ctx, 1)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if audit.Consistent || len(audit.Violations) != 1 || !strings.Contains(audit.Violations[0], "vote_count 3") {
		t.Fatalf("expected one tally violation, got %v", audit.Violations)
	}
}

func TestAuditPollRules(t *testing.T) {
	unknown := uint64(99)
	poll := entities.Poll{ID: 1, StartTime: 100, EndTime: 200, CandidateCount: 3}
	violations := auditPoll(poll,
		[]entities.Candidate{
			{PollID: 1, CandidateID: 2},
			{PollID: 5, CandidateID: 6},
		},
		[]entities.Registration{
			{Voter: "a", PollID: 1, HasVoted: true},
			{Voter: "b", PollID: 1, VotedFor: &unknown},
			{Voter: "c", PollID: 1, HasVoted: true, VotedFor: &unknown},
		},
	)
	expected := []string{
		"candidate_count 3",
		"candidate 6 belongs to poll 5",
		"voter a voted without a candidate",
		"voter b has a candidate but has not voted",
		"voter c voted for unknown candidate 99",
	}
	if len(violations) != len(expected) {
		t.Fatalf("expected %d violations, got %v", len(expected), violations)
	}
	for i, fragment := range expected {
		if !strings.Contains(violations[i], fragment) {
			t.Fatalf("violation %d: expected %q in %q", i, fragment, violations[i])
		}
	}
}
