package queries

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	application "votingdapp/contexts/onchain-voting/voting-program/application"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

// PollDetails is a poll with its candidates and its window state at query time.
type PollDetails struct {
	Poll       entities.Poll
	Open       bool
	Started    bool
	Ended      bool
	Candidates []entities.Candidate
}

type PollResults struct {
	PollID     uint64
	TotalVotes uint64
	Candidates []entities.Candidate
}

type RegistrationView struct {
	Registration entities.Registration
	State        entities.RegistrationState
}

// PollAudit lists the invariant violations found for one poll.
type PollAudit struct {
	PollID     uint64
	Consistent bool
	Violations []string
}

type ProgramQueries struct {
	Ledger  ports.Ledger
	Clock   ports.Clock
	Results ports.ResultsCache
	Logger  *slog.Logger
}

func (q ProgramQueries) GetPoll(ctx context.Context, pollID uint64) (PollDetails, error) {
	var details PollDetails
	err := q.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		poll, err := tx.GetPoll(ctx, pollID)
		if err != nil {
			return err
		}
		candidates, err := tx.ListCandidatesByPoll(ctx, poll.ID)
		if err != nil {
			return err
		}
		now := q.now().Unix()
		details = PollDetails{
			Poll:       poll,
			Open:       poll.IsOpen(now),
			Started:    poll.HasStarted(now),
			Ended:      poll.HasEnded(now),
			Candidates: sortByID(candidates),
		}
		return nil
	})
	return details, err
}

func (q ProgramQueries) ListPolls(ctx context.Context) ([]entities.Poll, error) {
	var polls []entities.Poll
	err := q.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		items, err := tx.ListPolls(ctx)
		if err != nil {
			return err
		}
		polls = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].ID < polls[j].ID })
	return polls, nil
}

// ListCandidates returns the candidates of a poll ordered by id, served from
// the results cache when one is wired.
func (q ProgramQueries) ListCandidates(ctx context.Context, pollID uint64) ([]entities.Candidate, error) {
	var generation uint64
	if q.Results != nil {
		if cached, ok := q.Results.GetResults(pollID); ok {
			return cached, nil
		}
		generation = q.Results.ResultsGeneration(pollID)
	}
	var candidates []entities.Candidate
	err := q.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.GetPoll(ctx, pollID); err != nil {
			return err
		}
		items, err := tx.ListCandidatesByPoll(ctx, pollID)
		if err != nil {
			return err
		}
		candidates = sortByID(items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if q.Results != nil {
		// A commit that invalidated the poll after the read makes this
		// snapshot stale; the cache refuses it.
		q.Results.SetResults(pollID, generation, candidates)
	}
	return candidates, nil
}

// RankedResults orders candidates by votes, highest first, ties by candidate id.
func (q ProgramQueries) RankedResults(ctx context.Context, pollID uint64) (PollResults, error) {
	candidates, err := q.ListCandidates(ctx, pollID)
	if err != nil {
		return PollResults{}, err
	}
	ranked := append([]entities.Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].VoteCount == ranked[j].VoteCount {
			return ranked[i].CandidateID < ranked[j].CandidateID
		}
		return ranked[i].VoteCount > ranked[j].VoteCount
	})
	results := PollResults{PollID: pollID, Candidates: ranked}
	for _, candidate := range ranked {
		results.TotalVotes += candidate.VoteCount
	}
	return results, nil
}

// GetVoter returns the voter with the polls it registered for. Unknown
// voters fail with ErrNotRegistered.
func (q ProgramQueries) GetVoter(ctx context.Context, identity string) (entities.VoterProfile, error) {
	identity, err := entities.NormalizeIdentity(identity)
	if err != nil {
		return entities.VoterProfile{}, err
	}
	var profile entities.VoterProfile
	err = q.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		voter, found, err := tx.GetVoter(ctx, identity)
		if err != nil {
			return err
		}
		if !found {
			return domainerrors.ErrNotRegistered
		}
		registrations, err := tx.ListRegistrationsByVoter(ctx, identity)
		if err != nil {
			return err
		}
		profile = entities.BuildVoterProfile(voter, registrations)
		return nil
	})
	return profile, err
}

func (q ProgramQueries) GetRegistration(ctx context.Context, identity string, pollID uint64) (RegistrationView, error) {
	identity, err := entities.NormalizeIdentity(identity)
	if err != nil {
		return RegistrationView{}, err
	}
	var view RegistrationView
	err = q.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		if _, err := tx.GetPoll(ctx, pollID); err != nil {
			return err
		}
		registration, found, err := tx.GetRegistration(ctx, identity, pollID)
		if err != nil {
			return err
		}
		if !found {
			return domainerrors.ErrNotRegistered
		}
		view = RegistrationView{Registration: registration, State: registration.State()}
		return nil
	})
	return view, err
}

// AuditPoll checks the persisted state of one poll against the program
// invariants: candidate_count equals the number of candidates, each tally
// equals the voted registrations naming that candidate, and every voted_for
// names a candidate of the poll.
func (q ProgramQueries) AuditPoll(ctx context.Context, pollID uint64) (PollAudit, error) {
	audit := PollAudit{PollID: pollID}
	err := q.Ledger.View(ctx, func(tx ports.LedgerTx) error {
		poll, err := tx.GetPoll(ctx, pollID)
		if err != nil {
			return err
		}
		candidates, err := tx.ListCandidatesByPoll(ctx, pollID)
		if err != nil {
			return err
		}
		registrations, err := tx.ListRegistrationsByPoll(ctx, pollID)
		if err != nil {
			return err
		}
		audit.Violations = auditPoll(poll, candidates, registrations)
		return nil
	})
	if err != nil {
		return PollAudit{}, err
	}
	audit.Consistent = len(audit.Violations) == 0
	if !audit.Consistent {
		application.ResolveLogger(q.Logger).Warn("poll audit found violations",
			application.LogAttrs("application", "voting_poll_audit_violations",
				"poll_id", pollID,
				"violation_count", len(audit.Violations),
			)...,
		)
	}
	return audit, nil
}

func auditPoll(poll entities.Poll, candidates []entities.Candidate, registrations []entities.Registration) []string {
	violations := make([]string, 0)
	if uint64(poll.CandidateCount) != uint64(len(candidates)) {
		violations = append(violations, fmt.Sprintf(
			"candidate_count %d does not match %d candidates", poll.CandidateCount, len(candidates)))
	}
	if poll.EndTime <= poll.StartTime {
		violations = append(violations, "end_time is not after start_time")
	}

	tallies := make(map[uint64]uint64, len(candidates))
	for _, candidate := range candidates {
		if candidate.PollID != poll.ID {
			violations = append(violations, fmt.Sprintf("candidate %d belongs to poll %d", candidate.CandidateID, candidate.PollID))
			continue
		}
		tallies[candidate.CandidateID] = 0
	}
	for _, registration := range registrations {
		switch {
		case registration.HasVoted && registration.VotedFor == nil:
			violations = append(violations, fmt.Sprintf("voter %s voted without a candidate", registration.Voter))
		case !registration.HasVoted && registration.VotedFor != nil:
			violations = append(violations, fmt.Sprintf("voter %s has a candidate but has not voted", registration.Voter))
		case registration.HasVoted:
			votedFor := *registration.VotedFor
			if _, ok := tallies[votedFor]; !ok {
				violations = append(violations, fmt.Sprintf("voter %s voted for unknown candidate %d", registration.Voter, votedFor))
				continue
			}
			tallies[votedFor]++
		}
	}
	for _, candidate := range sortByID(candidates) {
		expected, ok := tallies[candidate.CandidateID]
		if !ok {
			continue
		}
		if candidate.VoteCount != expected {
			violations = append(violations, fmt.Sprintf(
				"candidate %d vote_count %d does not match %d voted registrations",
				candidate.CandidateID, candidate.VoteCount, expected))
		}
	}
	return violations
}

func (q ProgramQueries) now() time.Time {
	if q.Clock != nil {
		return q.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func sortByID(candidates []entities.Candidate) []entities.Candidate {
	sorted := append([]entities.Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CandidateID < sorted[j].CandidateID })
	return sorted
}
