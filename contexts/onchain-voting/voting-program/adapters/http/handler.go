package httpadapter

import (
	"context"
	"log/slog"

	"votingdapp/contexts/onchain-voting/voting-program/application/commands"
	"votingdapp/contexts/onchain-voting/voting-program/application/queries"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	httptransport "votingdapp/contexts/onchain-voting/voting-program/transport/http"
)

type Handler struct {
	Program commands.ProgramUseCase
	Queries queries.ProgramQueries
	Logger  *slog.Logger
}

func (h Handler) InitializeHandler(ctx context.Context) (httptransport.InitializeResponse, error) {
	counter, err := h.Program.Initialize(ctx)
	if err != nil {
		return httptransport.InitializeResponse{}, err
	}
	return httptransport.InitializeResponse{
		Count:   counter.Count,
		Address: counter.Address().String(),
	}, nil
}

func (h Handler) CreatePollHandler(
	ctx context.Context,
	authority string,
	idempotencyKey string,
	req httptransport.CreatePollRequest,
) (httptransport.PollResponse, error) {
	result, err := h.Program.CreatePoll(ctx, commands.CreatePollCommand{
		Authority:      authority,
		IdempotencyKey: idempotencyKey,
		Description:    req.Description,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	response := mapPoll(result.Poll)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) GetPollHandler(ctx context.Context, pollID uint64) (httptransport.PollResponse, error) {
	details, err := h.Queries.GetPoll(ctx, pollID)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	response := mapPoll(details.Poll)
	response.Open = details.Open
	response.Started = details.Started
	response.Ended = details.Ended
	response.Candidates = mapCandidates(details.Candidates)
	return response, nil
}

func (h Handler) ListPollsHandler(ctx context.Context) (httptransport.ListPollsResponse, error) {
	polls, err := h.Queries.ListPolls(ctx)
	if err != nil {
		return httptransport.ListPollsResponse{}, err
	}
	items := make([]httptransport.PollResponse, 0, len(polls))
	for _, poll := range polls {
		items = append(items, mapPoll(poll))
	}
	return httptransport.ListPollsResponse{Items: items}, nil
}

func (h Handler) AddCandidateHandler(
	ctx context.Context,
	authority string,
	idempotencyKey string,
	pollID uint64,
	req httptransport.AddCandidateRequest,
) (httptransport.CandidateResponse, error) {
	result, err := h.Program.AddCandidate(ctx, commands.AddCandidateCommand{
		Authority:      authority,
		IdempotencyKey: idempotencyKey,
		PollID:         pollID,
		Name:           req.Name,
	})
	if err != nil {
		return httptransport.CandidateResponse{}, err
	}
	response := mapCandidate(result.Candidate)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) ResultsHandler(ctx context.Context, pollID uint64) (httptransport.ResultsResponse, error) {
	results, err := h.Queries.RankedResults(ctx, pollID)
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	return httptransport.ResultsResponse{
		PollID:     results.PollID,
		TotalVotes: results.TotalVotes,
		Items:      mapCandidates(results.Candidates),
	}, nil
}

func (h Handler) RegisterHandler(ctx context.Context, voter string, pollID uint64) (httptransport.RegistrationResponse, error) {
	result, err := h.Program.Register(ctx, commands.RegisterCommand{
		Voter:  voter,
		PollID: pollID,
	})
	if err != nil {
		return httptransport.RegistrationResponse{}, err
	}
	response := mapRegistration(result.Registration)
	response.VoterCreated = result.VoterCreated
	return response, nil
}

func (h Handler) GetRegistrationHandler(ctx context.Context, voter string, pollID uint64) (httptransport.RegistrationResponse, error) {
	view, err := h.Queries.GetRegistration(ctx, voter, pollID)
	if err != nil {
		return httptransport.RegistrationResponse{}, err
	}
	return mapRegistration(view.Registration), nil
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	voter string,
	pollID uint64,
	req httptransport.CastVoteRequest,
) (httptransport.CastVoteResponse, error) {
	result, err := h.Program.CastVote(ctx, commands.CastVoteCommand{
		Voter:       voter,
		PollID:      pollID,
		CandidateID: req.CandidateID,
	})
	if err != nil {
		return httptransport.CastVoteResponse{}, err
	}
	return httptransport.CastVoteResponse{
		Registration: mapRegistration(result.Registration),
		Candidate:    mapCandidate(result.Candidate),
	}, nil
}

func (h Handler) GetVoterHandler(ctx context.Context, identity string) (httptransport.VoterResponse, error) {
	profile, err := h.Queries.GetVoter(ctx, identity)
	if err != nil {
		return httptransport.VoterResponse{}, err
	}
	return httptransport.VoterResponse{
		Identity:        profile.Voter.Identity,
		Address:         profile.Voter.Address().String(),
		FirstSeenAt:     profile.Voter.FirstSeenAt,
		RegisteredPolls: profile.RegisteredPolls,
		VotedPolls:      profile.VotedPolls,
	}, nil
}

func (h Handler) AuditPollHandler(ctx context.Context, pollID uint64) (httptransport.PollAuditResponse, error) {
	audit, err := h.Queries.AuditPoll(ctx, pollID)
	if err != nil {
		return httptransport.PollAuditResponse{}, err
	}
	return httptransport.PollAuditResponse{
		PollID:     audit.PollID,
		Consistent: audit.Consistent,
		Violations: audit.Violations,
	}, nil
}

func mapPoll(poll entities.Poll) httptransport.PollResponse {
	return httptransport.PollResponse{
		PollID:         poll.ID,
		Address:        poll.Address().String(),
		Description:    poll.Description,
		StartTime:      poll.StartTime,
		EndTime:        poll.EndTime,
		CandidateCount: poll.CandidateCount,
		Authority:      poll.Authority,
		CreatedAt:      poll.CreatedAt,
	}
}

func mapCandidate(candidate entities.Candidate) httptransport.CandidateResponse {
	return httptransport.CandidateResponse{
		PollID:      candidate.PollID,
		CandidateID: candidate.CandidateID,
		Address:     candidate.Address().String(),
		Name:        candidate.Name,
		VoteCount:   candidate.VoteCount,
	}
}

func mapCandidates(candidates []entities.Candidate) []httptransport.CandidateResponse {
	items := make([]httptransport.CandidateResponse, 0, len(candidates))
	for _, candidate := range candidates {
		items = append(items, mapCandidate(candidate))
	}
	return items
}

func mapRegistration(registration entities.Registration) httptransport.RegistrationResponse {
	return httptransport.RegistrationResponse{
		PollID:       registration.PollID,
		Voter:        registration.Voter,
		Address:      registration.Address().String(),
		State:        string(registration.State()),
		HasVoted:     registration.HasVoted,
		VotedFor:     registration.VotedFor,
		RegisteredAt: registration.RegisteredAt,
		VotedAt:      registration.VotedAt,
	}
}
