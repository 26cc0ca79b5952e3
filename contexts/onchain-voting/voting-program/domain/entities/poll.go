package entities

import (
	"math"
	"strings"

	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
)

const (
	MaxDescriptionLength = 280
	MaxAuthorityLength   = 64
)

type Poll struct {
	ID             uint64
	Description    string
	StartTime      int64
	EndTime        int64
	CandidateCount uint32
	Authority      string
	CreatedAt      int64
}

// CandidatePolicy controls when and how many candidates a poll accepts.
type CandidatePolicy struct {
	MaxCandidates   uint32
	AllowAfterStart bool
}

func DefaultCandidatePolicy() CandidatePolicy {
	return CandidatePolicy{MaxCandidates: 100}
}

func (p CandidatePolicy) limit() uint32 {
	if p.MaxCandidates == 0 {
		return math.MaxUint32
	}
	return p.MaxCandidates
}

func NewPoll(id uint64, description string, startTime int64, endTime int64, authority string, now int64) (Poll, error) {
	description = strings.TrimSpace(description)
	if description == "" || len(description) > MaxDescriptionLength {
		return Poll{}, domainerrors.ErrInvalidPollInput
	}
	authority = strings.TrimSpace(authority)
	if len(authority) > MaxAuthorityLength {
		return Poll{}, domainerrors.ErrInvalidPollInput
	}
	if endTime <= startTime {
		return Poll{}, domainerrors.ErrInvalidTimeRange
	}
	return Poll{
		ID:          id,
		Description: description,
		StartTime:   startTime,
		EndTime:     endTime,
		Authority:   authority,
		CreatedAt:   now,
	}, nil
}

// IsOpen reports whether votes are accepted at now: start <= now < end.
func (p Poll) IsOpen(now int64) bool {
	return p.StartTime <= now && now < p.EndTime
}

func (p Poll) HasStarted(now int64) bool {
	return now >= p.StartTime
}

func (p Poll) HasEnded(now int64) bool {
	return now >= p.EndTime
}

// AdmitCandidate returns the poll with one more candidate slot taken.
func (p Poll) AdmitCandidate(now int64, policy CandidatePolicy) (Poll, error) {
	if !policy.AllowAfterStart && p.HasStarted(now) {
		return p, domainerrors.ErrPollAlreadyStarted
	}
	if policy.AllowAfterStart && p.HasEnded(now) {
		return p, domainerrors.ErrPollClosed
	}
	if p.CandidateCount >= policy.limit() {
		return p, domainerrors.ErrCandidateLimitExceeded
	}
	next := p
	next.CandidateCount++
	return next, nil
}
