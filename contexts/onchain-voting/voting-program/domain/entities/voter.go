package entities

import (
	"sort"
	"strings"

	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
)

const MaxIdentityLength = 64

// Voter is created on first registration and never deleted. Registered polls
// are not stored here; see VoterProfile.
type Voter struct {
	Identity    string
	FirstSeenAt int64
}

// VoterProfile is the read view of a voter with the polls it registered for,
// derived from its registrations.
type VoterProfile struct {
	Voter           Voter
	RegisteredPolls []uint64
	VotedPolls      []uint64
}

func NormalizeIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || len(identity) > MaxIdentityLength {
		return "", domainerrors.ErrInvalidVoterIdentity
	}
	return identity, nil
}

func NewVoter(identity string, now int64) (Voter, error) {
	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return Voter{}, err
	}
	return Voter{Identity: identity, FirstSeenAt: now}, nil
}

func BuildVoterProfile(voter Voter, registrations []Registration) VoterProfile {
	profile := VoterProfile{
		Voter:           voter,
		RegisteredPolls: make([]uint64, 0, len(registrations)),
		VotedPolls:      make([]uint64, 0),
	}
	for _, registration := range registrations {
		if registration.Voter != voter.Identity {
			continue
		}
		profile.RegisteredPolls = append(profile.RegisteredPolls, registration.PollID)
		if registration.HasVoted {
			profile.VotedPolls = append(profile.VotedPolls, registration.PollID)
		}
	}
	sort.Slice(profile.RegisteredPolls, func(i, j int) bool { return profile.RegisteredPolls[i] < profile.RegisteredPolls[j] })
	sort.Slice(profile.VotedPolls, func(i, j int) bool { return profile.VotedPolls[i] < profile.VotedPolls[j] })
	return profile
}
