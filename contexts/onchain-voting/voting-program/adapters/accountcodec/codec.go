// Package accountcodec encodes program records as self-describing account
// data: an 8-byte kind discriminator, a 1-byte layout version and a msgpack
// body. Decoding dispatches on the discriminator, so a stored account always
// maps back to exactly one record kind.
package accountcodec

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"

	"github.com/vmihailenco/msgpack"
)

const (
	DiscriminatorSize = 8
	HeaderSize        = DiscriminatorSize + 1
	LayoutVersion     = 1
)

var discriminators = func() map[entities.RecordKind][DiscriminatorSize]byte {
	items := make(map[entities.RecordKind][DiscriminatorSize]byte, len(entities.RecordKinds()))
	for _, kind := range entities.RecordKinds() {
		items[kind] = discriminatorFor(kind)
	}
	return items
}()

func discriminatorFor(kind entities.RecordKind) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + kind.String()))
	var out [DiscriminatorSize]byte
	copy(out[:], sum[:DiscriminatorSize])
	return out
}

// Discriminator returns the account prefix for kind.
func Discriminator(kind entities.RecordKind) ([DiscriminatorSize]byte, error) {
	value, ok := discriminators[kind]
	if !ok {
		return [DiscriminatorSize]byte{}, domainerrors.ErrUnknownRecordKind
	}
	return value, nil
}

type counterBody struct {
	Count uint64 `msgpack:"count"`
}

type pollBody struct {
	ID             uint64 `msgpack:"id"`
	Description    string `msgpack:"description"`
	StartTime      int64  `msgpack:"start_time"`
	EndTime        int64  `msgpack:"end_time"`
	CandidateCount uint32 `msgpack:"candidate_count"`
	Authority      string `msgpack:"authority"`
	CreatedAt      int64  `msgpack:"created_at"`
}

type candidateBody struct {
	PollID      uint64 `msgpack:"poll_id"`
	CandidateID uint64 `msgpack:"candidate_id"`
	Name        string `msgpack:"name"`
	VoteCount   uint64 `msgpack:"vote_count"`
}

type voterBody struct {
	Identity    string `msgpack:"identity"`
	FirstSeenAt int64  `msgpack:"first_seen_at"`
}

type registrationBody struct {
	Voter        string  `msgpack:"voter"`
	PollID       uint64  `msgpack:"poll_id"`
	HasVoted     bool    `msgpack:"has_voted"`
	VotedFor     *uint64 `msgpack:"voted_for"`
	RegisteredAt int64   `msgpack:"registered_at"`
	VotedAt      int64   `msgpack:"voted_at"`
}

// Encode serializes one of the five record kinds.
func Encode(record entities.Record) ([]byte, error) {
	var body any
	switch value := record.(type) {
	case entities.Counter:
		body = counterBody{Count: value.Count}
	case entities.Poll:
		body = pollBody{
			ID:             value.ID,
			Description:    value.Description,
			StartTime:      value.StartTime,
			EndTime:        value.EndTime,
			CandidateCount: value.CandidateCount,
			Authority:      value.Authority,
			CreatedAt:      value.CreatedAt,
		}
	case entities.Candidate:
		body = candidateBody{
			PollID:      value.PollID,
			CandidateID: value.CandidateID,
			Name:        value.Name,
			VoteCount:   value.VoteCount,
		}
	case entities.Voter:
		body = voterBody{Identity: value.Identity, FirstSeenAt: value.FirstSeenAt}
	case entities.Registration:
		body = registrationBody{
			Voter:        value.Voter,
			PollID:       value.PollID,
			HasVoted:     value.HasVoted,
			VotedFor:     value.VotedFor,
			RegisteredAt: value.RegisteredAt,
			VotedAt:      value.VotedAt,
		}
	default:
		return nil, domainerrors.ErrUnknownRecordKind
	}

	discriminator, err := Discriminator(record.Kind())
	if err != nil {
		return nil, err
	}
	payload, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", record.Kind(), err)
	}
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, discriminator[:]...)
	out = append(out, LayoutVersion)
	return append(out, payload...), nil
}

// Kind reads the discriminator of raw account data without decoding the body.
func Kind(data []byte) (entities.RecordKind, error) {
	if len(data) < DiscriminatorSize {
		return 0, domainerrors.ErrUnknownRecordKind
	}
	for kind, discriminator := range discriminators {
		if bytes.Equal(data[:DiscriminatorSize], discriminator[:]) {
			return kind, nil
		}
	}
	return 0, domainerrors.ErrUnknownRecordKind
}

// Decode returns the record stored in data. Unknown discriminators fail with
// ErrUnknownRecordKind before the version or body is examined.
func Decode(data []byte) (entities.Record, error) {
	kind, err := Kind(data)
	if err != nil {
		return nil, err
	}
	if len(data) < HeaderSize || data[DiscriminatorSize] != LayoutVersion {
		return nil, domainerrors.ErrUnsupportedRecordVersion
	}
	payload := data[HeaderSize:]

	switch kind {
	case entities.KindCounter:
		var body counterBody
		if err := unmarshal(payload, &body); err != nil {
			return nil, err
		}
		return entities.Counter{Count: body.Count}, nil
	case entities.KindPoll:
		var body pollBody
		if err := unmarshal(payload, &body); err != nil {
			return nil, err
		}
		return entities.Poll{
			ID:             body.ID,
			Description:    body.Description,
			StartTime:      body.StartTime,
			EndTime:        body.EndTime,
			CandidateCount: body.CandidateCount,
			Authority:      body.Authority,
			CreatedAt:      body.CreatedAt,
		}, nil
	case entities.KindCandidate:
		var body candidateBody
		if err := unmarshal(payload, &body); err != nil {
			return nil, err
		}
		return entities.Candidate{
			PollID:      body.PollID,
			CandidateID: body.CandidateID,
			Name:        body.Name,
			VoteCount:   body.VoteCount,
		}, nil
	case entities.KindVoter:
		var body voterBody
		if err := unmarshal(payload, &body); err != nil {
			return nil, err
		}
		return entities.Voter{Identity: body.Identity, FirstSeenAt: body.FirstSeenAt}, nil
	case entities.KindRegistration:
		var body registrationBody
		if err := unmarshal(payload, &body); err != nil {
			return nil, err
		}
		if body.HasVoted != (body.VotedFor != nil) {
			return nil, fmt.Errorf("%w: voted_for does not match has_voted", domainerrors.ErrCorruptRecord)
		}
		return entities.Registration{
			Voter:        body.Voter,
			PollID:       body.PollID,
			HasVoted:     body.HasVoted,
			VotedFor:     body.VotedFor,
			RegisteredAt: body.RegisteredAt,
			VotedAt:      body.VotedAt,
		}, nil
	default:
		return nil, domainerrors.ErrUnknownRecordKind
	}
}

func unmarshal(payload []byte, target any) error {
	if err := msgpack.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrCorruptRecord, err)
	}
	return nil
}

// DecodeAs decodes data and requires it to hold a record of type T.
func DecodeAs[T entities.Record](data []byte) (T, error) {
	var zero T
	record, err := Decode(data)
	if err != nil {
		return zero, err
	}
	typed, ok := record.(T)
	if !ok {
		return zero, fmt.Errorf("%w: expected %s, found %s", domainerrors.ErrUnknownRecordKind, zero.Kind(), record.Kind())
	}
	return typed, nil
}
