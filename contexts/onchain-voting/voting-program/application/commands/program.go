package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "votingdapp/contexts/onchain-voting/voting-program/application"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

// CreatePollCommand is submitted by a poll authority.
type CreatePollCommand struct {
	Authority      string
	IdempotencyKey string
	Description    string
	StartTime      int64
	EndTime        int64
}

// CreatePollResult carries the committed poll. Replayed is set when the
// idempotency key matched an earlier submission.
type CreatePollResult struct {
	Poll     entities.Poll
	Replayed bool
}

type AddCandidateCommand struct {
	Authority      string
	IdempotencyKey string
	PollID         uint64
	Name           string
}

type AddCandidateResult struct {
	Candidate entities.Candidate
	Poll      entities.Poll
	Replayed  bool
}

type RegisterCommand struct {
	Voter  string
	PollID uint64
}

type RegisterResult struct {
	Registration entities.Registration
	Voter        entities.Voter
	VoterCreated bool
}

type CastVoteCommand struct {
	Voter       string
	PollID      uint64
	CandidateID uint64
}

type CastVoteResult struct {
	Registration entities.Registration
	Candidate    entities.Candidate
}

// ProgramUseCase runs every state-mutating program operation. Each operation
// executes inside one ledger transaction and checks all preconditions before
// its first write.
type ProgramUseCase struct {
	Ledger         ports.Ledger
	Authorities    ports.AuthorityRegistry
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Policy         entities.CandidatePolicy
	IdempotencyTTL time.Duration
	Results        ports.ResultsCache
	Observer       ports.OperationObserver
	Logger         *slog.Logger
}

// Initialize creates the program counter. It runs once per deployment.
func (uc ProgramUseCase) Initialize(ctx context.Context) (counter entities.Counter, err error) {
	defer uc.observe("initialize", time.Now(), &err)
	logger := application.ResolveLogger(uc.Logger)

	err = uc.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		counter = entities.NewCounter()
		return tx.InitializeCounter(ctx, counter)
	})
	if err != nil {
		uc.logFailure(logger, "voting_initialize_failed", err)
		return entities.Counter{}, err
	}
	logger.Info("program counter initialized",
		application.LogAttrs("application", "voting_initialized",
			"count", counter.Count,
		)...,
	)
	return counter, nil
}

// CreatePoll validates the window and authority, takes the next id from the
// counter and persists both in the same transaction.
func (uc ProgramUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (result CreatePollResult, err error) {
	defer uc.observe("create_poll", time.Now(), &err)
	logger := application.ResolveLogger(uc.Logger)
	authority := strings.TrimSpace(cmd.Authority)
	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	logger.Info("poll create processing started",
		application.LogAttrs("application", "voting_poll_create_started",
			"authority", authority,
			"start_time", cmd.StartTime,
			"end_time", cmd.EndTime,
		)...,
	)

	allowed, err := uc.canCreatePolls(ctx, authority)
	if err != nil {
		uc.logFailure(logger, "voting_poll_create_authority_lookup_failed", err, "authority", authority)
		return CreatePollResult{}, err
	}
	if !allowed {
		logger.Warn("poll create rejected for authority",
			application.LogAttrs("application", "voting_poll_create_unauthorized",
				"authority", authority,
			)...,
		)
		return CreatePollResult{}, domainerrors.ErrUnauthorized
	}
	now := uc.now()
	if _, err := entities.NewPoll(0, cmd.Description, cmd.StartTime, cmd.EndTime, authority, now.Unix()); err != nil {
		logger.Warn("poll create validation failed",
			application.LogAttrs("application", "voting_poll_create_validation_failed",
				"authority", authority,
				"error", err.Error(),
			)...,
		)
		return CreatePollResult{}, err
	}

	requestHash := hashCommand(map[string]string{
		"authority":   authority,
		"description": strings.TrimSpace(cmd.Description),
		"start_time":  strconv.FormatInt(cmd.StartTime, 10),
		"end_time":    strconv.FormatInt(cmd.EndTime, 10),
		"op":          "create_poll",
	})

	err = uc.updateKeyed(ctx, idempotencyKey, func(tx ports.LedgerTx) error {
		if idempotencyKey != "" {
			record, found, err := tx.GetIdempotency(ctx, idempotencyKey, now)
			if err != nil {
				return err
			}
			if found {
				if record.RequestHash != requestHash {
					return domainerrors.ErrIdempotencyConflict
				}
				poll, err := tx.GetPoll(ctx, record.PollID)
				if err != nil {
					return err
				}
				result = CreatePollResult{Poll: poll, Replayed: true}
				return nil
			}
		}

		counter, found, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		if !found {
			return domainerrors.ErrCounterNotInitialized
		}
		pollID, advanced, err := counter.Next()
		if err != nil {
			return err
		}
		poll, err := entities.NewPoll(pollID, cmd.Description, cmd.StartTime, cmd.EndTime, authority, now.Unix())
		if err != nil {
			return err
		}

		if err := tx.SaveCounter(ctx, advanced); err != nil {
			return err
		}
		if err := tx.InsertPoll(ctx, poll); err != nil {
			return err
		}
		if err := uc.appendEvent(ctx, tx, EventPollCreated, poll.ID, now, map[string]any{
			"poll_id":     poll.ID,
			"address":     poll.Address().String(),
			"description": poll.Description,
			"start_time":  poll.StartTime,
			"end_time":    poll.EndTime,
			"authority":   poll.Authority,
		}); err != nil {
			return err
		}
		if idempotencyKey != "" {
			if err := tx.PutIdempotency(ctx, ports.IdempotencyRecord{
				Key:         idempotencyKey,
				RequestHash: requestHash,
				PollID:      poll.ID,
				ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
			}, now); err != nil {
				return err
			}
		}
		result = CreatePollResult{Poll: poll}
		return nil
	})
	if err != nil {
		uc.logFailure(logger, "voting_poll_create_failed", err, "authority", authority)
		return CreatePollResult{}, err
	}

	logger.Info("poll created",
		application.LogAttrs("application", "voting_poll_created",
			"poll_id", result.Poll.ID,
			"authority", result.Poll.Authority,
			"replayed", result.Replayed,
		)...,
	)
	return result, nil
}

// AddCandidate admits one more candidate to a poll under the configured
// candidate policy. Only the poll's authority may add candidates.
func (uc ProgramUseCase) AddCandidate(ctx context.Context, cmd AddCandidateCommand) (result AddCandidateResult, err error) {
	defer uc.observe("add_candidate", time.Now(), &err)
	logger := application.ResolveLogger(uc.Logger)
	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	authority := strings.TrimSpace(cmd.Authority)
	logger.Info("candidate add processing started",
		application.LogAttrs("application", "voting_candidate_add_started",
			"poll_id", cmd.PollID,
			"authority", authority,
		)...,
	)
	if authority == "" {
		logger.Warn("candidate add without authority",
			application.LogAttrs("application", "voting_candidate_add_unauthorized",
				"poll_id", cmd.PollID,
			)...,
		)
		return AddCandidateResult{}, domainerrors.ErrUnauthorized
	}
	if _, err := entities.NewCandidate(cmd.PollID, 0, cmd.Name); err != nil {
		logger.Warn("candidate add validation failed",
			application.LogAttrs("application", "voting_candidate_add_validation_failed",
				"poll_id", cmd.PollID,
			)...,
		)
		return AddCandidateResult{}, err
	}

	now := uc.now()
	requestHash := hashCommand(map[string]string{
		"authority": authority,
		"poll_id":   strconv.FormatUint(cmd.PollID, 10),
		"name":      strings.TrimSpace(cmd.Name),
		"op":        "add_candidate",
	})

	err = uc.updateKeyed(ctx, idempotencyKey, func(tx ports.LedgerTx) error {
		if idempotencyKey != "" {
			record, found, err := tx.GetIdempotency(ctx, idempotencyKey, now)
			if err != nil {
				return err
			}
			if found {
				if record.RequestHash != requestHash {
					return domainerrors.ErrIdempotencyConflict
				}
				candidate, err := tx.GetCandidate(ctx, record.CandidateID)
				if err != nil {
					return err
				}
				poll, err := tx.GetPoll(ctx, record.PollID)
				if err != nil {
					return err
				}
				result = AddCandidateResult{Candidate: candidate, Poll: poll, Replayed: true}
				return nil
			}
		}

		poll, err := tx.GetPoll(ctx, cmd.PollID)
		if err != nil {
			return err
		}
		if poll.Authority != authority {
			return domainerrors.ErrUnauthorized
		}
		admitted, err := poll.AdmitCandidate(now.Unix(), uc.Policy)
		if err != nil {
			return err
		}
		counter, found, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		if !found {
			return domainerrors.ErrCounterNotInitialized
		}
		candidateID, advanced, err := counter.Next()
		if err != nil {
			return err
		}
		candidate, err := entities.NewCandidate(poll.ID, candidateID, cmd.Name)
		if err != nil {
			return err
		}

		if err := tx.SaveCounter(ctx, advanced); err != nil {
			return err
		}
		if err := tx.InsertCandidate(ctx, candidate); err != nil {
			return err
		}
		if err := tx.UpdatePoll(ctx, admitted); err != nil {
			return err
		}
		if err := uc.appendEvent(ctx, tx, EventCandidateAdded, poll.ID, now, map[string]any{
			"poll_id":         poll.ID,
			"candidate_id":    candidate.CandidateID,
			"address":         candidate.Address().String(),
			"name":            candidate.Name,
			"candidate_count": admitted.CandidateCount,
		}); err != nil {
			return err
		}
		if idempotencyKey != "" {
			if err := tx.PutIdempotency(ctx, ports.IdempotencyRecord{
				Key:         idempotencyKey,
				RequestHash: requestHash,
				PollID:      poll.ID,
				CandidateID: candidate.CandidateID,
				ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
			}, now); err != nil {
				return err
			}
		}
		result = AddCandidateResult{Candidate: candidate, Poll: admitted}
		return nil
	})
	if err != nil {
		uc.logFailure(logger, "voting_candidate_add_failed", err, "poll_id", cmd.PollID, "authority", authority)
		return AddCandidateResult{}, err
	}
	uc.invalidateResults(cmd.PollID)

	logger.Info("candidate added",
		application.LogAttrs("application", "voting_candidate_added",
			"poll_id", result.Poll.ID,
			"candidate_id", result.Candidate.CandidateID,
			"candidate_count", result.Poll.CandidateCount,
			"replayed", result.Replayed,
		)...,
	)
	return result, nil
}

// Register creates the (voter, poll) registration, creating the voter record
// on first interaction.
func (uc ProgramUseCase) Register(ctx context.Context, cmd RegisterCommand) (result RegisterResult, err error) {
	defer uc.observe("register", time.Now(), &err)
	logger := application.ResolveLogger(uc.Logger)
	identity, err := entities.NormalizeIdentity(cmd.Voter)
	if err != nil {
		logger.Warn("voter registration validation failed",
			application.LogAttrs("application", "voting_register_validation_failed",
				"poll_id", cmd.PollID,
			)...,
		)
		return RegisterResult{}, err
	}
	logger.Info("voter registration processing started",
		application.LogAttrs("application", "voting_register_started",
			"poll_id", cmd.PollID,
			"voter", identity,
		)...,
	)

	now := uc.now()
	err = uc.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		poll, err := tx.GetPoll(ctx, cmd.PollID)
		if err != nil {
			return err
		}
		if _, found, err := tx.GetRegistration(ctx, identity, poll.ID); err != nil {
			return err
		} else if found {
			return domainerrors.ErrAlreadyRegistered
		}
		voter, found, err := tx.GetVoter(ctx, identity)
		if err != nil {
			return err
		}
		created := false
		if !found {
			voter, err = entities.NewVoter(identity, now.Unix())
			if err != nil {
				return err
			}
			created = true
		}
		registration, err := entities.NewRegistration(voter, poll, now.Unix())
		if err != nil {
			return err
		}

		if created {
			if err := tx.InsertVoter(ctx, voter); err != nil {
				return err
			}
		}
		if err := tx.InsertRegistration(ctx, registration); err != nil {
			return err
		}
		if err := uc.appendEvent(ctx, tx, EventVoterRegistered, poll.ID, now, map[string]any{
			"poll_id": poll.ID,
			"voter":   voter.Identity,
			"address": registration.Address().String(),
		}); err != nil {
			return err
		}
		result = RegisterResult{Registration: registration, Voter: voter, VoterCreated: created}
		return nil
	})
	if err != nil {
		uc.logFailure(logger, "voting_register_failed", err, "poll_id", cmd.PollID, "voter", identity)
		return RegisterResult{}, err
	}

	logger.Info("voter registered",
		application.LogAttrs("application", "voting_registered",
			"poll_id", result.Registration.PollID,
			"voter", result.Voter.Identity,
			"voter_created", result.VoterCreated,
		)...,
	)
	return result, nil
}

// CastVote marks the registration voted and increments the candidate tally
// in one transaction; neither write is visible without the other.
func (uc ProgramUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (result CastVoteResult, err error) {
	defer uc.observe("cast_vote", time.Now(), &err)
	logger := application.ResolveLogger(uc.Logger)
	identity, err := entities.NormalizeIdentity(cmd.Voter)
	if err != nil {
		logger.Warn("vote cast validation failed",
			application.LogAttrs("application", "voting_vote_cast_validation_failed",
				"poll_id", cmd.PollID,
				"candidate_id", cmd.CandidateID,
			)...,
		)
		return CastVoteResult{}, err
	}
	logger.Info("vote cast processing started",
		application.LogAttrs("application", "voting_vote_cast_started",
			"poll_id", cmd.PollID,
			"candidate_id", cmd.CandidateID,
			"voter", identity,
		)...,
	)

	now := uc.now()
	err = uc.Ledger.Update(ctx, func(tx ports.LedgerTx) error {
		poll, err := tx.GetPoll(ctx, cmd.PollID)
		if err != nil {
			return err
		}
		registration, found, err := tx.GetRegistration(ctx, identity, poll.ID)
		if err != nil {
			return err
		}
		if !found {
			return domainerrors.ErrNotRegistered
		}
		if registration.HasVoted {
			return domainerrors.ErrAlreadyVoted
		}
		candidate, err := tx.GetCandidate(ctx, cmd.CandidateID)
		if err != nil {
			return err
		}
		voted, tallied, err := entities.CastVote(registration, candidate, poll, now.Unix())
		if err != nil {
			return err
		}

		if err := tx.UpdateRegistration(ctx, voted); err != nil {
			return err
		}
		if err := tx.UpdateCandidate(ctx, tallied); err != nil {
			return err
		}
		if err := uc.appendEvent(ctx, tx, EventVoteCast, poll.ID, now, map[string]any{
			"poll_id":      poll.ID,
			"candidate_id": tallied.CandidateID,
			"voter":        voted.Voter,
			"vote_count":   tallied.VoteCount,
		}); err != nil {
			return err
		}
		result = CastVoteResult{Registration: voted, Candidate: tallied}
		return nil
	})
	if err != nil {
		uc.logFailure(logger, "voting_vote_cast_failed", err,
			"poll_id", cmd.PollID,
			"candidate_id", cmd.CandidateID,
			"voter", identity,
		)
		return CastVoteResult{}, err
	}
	uc.invalidateResults(cmd.PollID)

	logger.Info("vote cast",
		application.LogAttrs("application", "voting_vote_cast",
			"poll_id", result.Registration.PollID,
			"candidate_id", result.Candidate.CandidateID,
			"vote_count", result.Candidate.VoteCount,
			"voter", result.Registration.Voter,
		)...,
	)
	return result, nil
}

func (uc ProgramUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

// updateKeyed runs fn in a ledger transaction. A keyed request that loses the
// race to claim its idempotency key is run once more so it replays the
// winner's result.
func (uc ProgramUseCase) updateKeyed(ctx context.Context, idempotencyKey string, fn func(tx ports.LedgerTx) error) error {
	err := uc.Ledger.Update(ctx, fn)
	if idempotencyKey == "" || !errors.Is(err, domainerrors.ErrConflict) {
		return err
	}
	return uc.Ledger.Update(ctx, fn)
}

func (uc ProgramUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func (uc ProgramUseCase) canCreatePolls(ctx context.Context, authority string) (bool, error) {
	if authority == "" || len(authority) > entities.MaxAuthorityLength {
		return false, nil
	}
	// Without a registry any signer may create polls.
	if uc.Authorities == nil {
		return true, nil
	}
	return uc.Authorities.CanCreatePolls(ctx, authority)
}

func (uc ProgramUseCase) invalidateResults(pollID uint64) {
	if uc.Results != nil {
		uc.Results.InvalidateResults(pollID)
	}
}

func (uc ProgramUseCase) observe(operation string, started time.Time, err *error) {
	if uc.Observer == nil {
		return
	}
	uc.Observer.ObserveOperation(operation, domainerrors.Code(*err), time.Since(started))
}

func (uc ProgramUseCase) logFailure(logger *slog.Logger, event string, err error, attrs ...any) {
	attrs = append(attrs,
		"code", domainerrors.Code(err),
		"retryable", domainerrors.IsRetryable(err),
		"error", err.Error(),
	)
	if domainerrors.Code(err) == "internal_error" || errors.Is(err, domainerrors.ErrOverflow) {
		logger.Error("voting operation failed", application.LogAttrs("application", event, attrs...)...)
		return
	}
	logger.Warn("voting operation rejected", application.LogAttrs("application", event, attrs...)...)
}

func (uc ProgramUseCase) appendEvent(
	ctx context.Context,
	tx ports.OutboxWriter,
	eventType string,
	pollID uint64,
	occurredAt time.Time,
	data map[string]any,
) error {
	// Event ids need a generator; wiring without one runs without events.
	if uc.IDGen == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	data["occurred_at"] = occurredAt.Format(time.RFC3339)
	envelope, err := newProgramEnvelope(eventID, eventType, pollID, occurredAt, data)
	if err != nil {
		return err
	}
	return tx.AppendOutbox(ctx, envelope)
}

func hashCommand(payload map[string]string) string {
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
