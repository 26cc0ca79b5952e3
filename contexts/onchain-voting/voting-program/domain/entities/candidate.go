package entities

import (
	"math"
	"strings"

	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
)

const MaxCandidateNameLength = 32

// Candidate is one contestant of one poll. PollID is a lookup key, the
// candidate does not own the poll.
type Candidate struct {
	PollID      uint64
	CandidateID uint64
	Name        string
	VoteCount   uint64
}

func NewCandidate(pollID uint64, candidateID uint64, name string) (Candidate, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxCandidateNameLength {
		return Candidate{}, domainerrors.ErrInvalidCandidateInput
	}
	return Candidate{
		PollID:      pollID,
		CandidateID: candidateID,
		Name:        name,
	}, nil
}

// IncrementVote returns the candidate with one more vote. It is only valid
// while the parent poll is open.
func (c Candidate) IncrementVote(poll Poll, now int64) (Candidate, error) {
	if c.PollID != poll.ID {
		return c, domainerrors.ErrCandidateMismatch
	}
	if !poll.IsOpen(now) {
		return c, domainerrors.ErrPollClosed
	}
	if c.VoteCount == math.MaxUint64 {
		return c, domainerrors.ErrOverflow
	}
	next := c
	next.VoteCount++
	return next, nil
}
