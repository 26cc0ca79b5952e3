package entities

import (
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
)

type RegistrationState string

const (
	RegistrationStateUnregistered RegistrationState = "unregistered"
	RegistrationStateRegistered   RegistrationState = "registered"
	RegistrationStateVoted        RegistrationState = "voted"
)

// Registration joins one voter to one poll. HasVoted moves false to true once
// and VotedFor is set exactly when HasVoted is.
type Registration struct {
	Voter        string
	PollID       uint64
	HasVoted     bool
	VotedFor     *uint64
	RegisteredAt int64
	VotedAt      int64
}

func NewRegistration(voter Voter, poll Poll, now int64) (Registration, error) {
	if poll.HasEnded(now) {
		return Registration{}, domainerrors.ErrPollClosed
	}
	return Registration{
		Voter:        voter.Identity,
		PollID:       poll.ID,
		RegisteredAt: now,
	}, nil
}

func (r Registration) State() RegistrationState {
	if r.Voter == "" {
		return RegistrationStateUnregistered
	}
	if r.HasVoted {
		return RegistrationStateVoted
	}
	return RegistrationStateRegistered
}

// CastVote applies a vote to the registration and the candidate as one unit.
// On failure both inputs are returned unchanged alongside the error.
func CastVote(registration Registration, candidate Candidate, poll Poll, now int64) (Registration, Candidate, error) {
	if registration.HasVoted {
		return registration, candidate, domainerrors.ErrAlreadyVoted
	}
	if candidate.PollID != registration.PollID || registration.PollID != poll.ID {
		return registration, candidate, domainerrors.ErrCandidateMismatch
	}
	if !poll.IsOpen(now) {
		return registration, candidate, domainerrors.ErrPollClosed
	}
	tallied, err := candidate.IncrementVote(poll, now)
	if err != nil {
		return registration, candidate, err
	}
	votedFor := candidate.CandidateID
	voted := registration
	voted.HasVoted = true
	voted.VotedFor = &votedFor
	voted.VotedAt = now
	return voted, tallied, nil
}
