package accountcodec

import (
	"errors"
	"testing"

	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
)

func TestEncodeDecodePreservesEveryKind(t *testing.T) {
	votedFor := uint64(3)
	records := []entities.Record{
		entities.Counter{Count: 9},
		entities.Poll{ID: 2, Description: "Lunch", StartTime: 100, EndTime: 200, CandidateCount: 2, Authority: "auth", CreatedAt: 50},
		entities.Candidate{PollID: 2, CandidateID: 3, Name: "A", VoteCount: 1},
		entities.Voter{Identity: "alice", FirstSeenAt: 120},
		entities.Registration{Voter: "alice", PollID: 2, HasVoted: true, VotedFor: &votedFor, RegisteredAt: 120, VotedAt: 150},
	}
	for _, record := range records {
		data, err := Encode(record)
		if err != nil {
			t.Fatalf("encode %s: %v", record.Kind(), err)
		}
		kind, err := Kind(data)
		if err != nil || kind != record.Kind() {
			t.Fatalf("expected kind %s, got %s err=%v", record.Kind(), kind, err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", record.Kind(), err)
		}
		if decoded.Address() != record.Address() {
			t.Fatalf("expected decoded %s to keep its address", record.Kind())
		}
	}

	data, _ := Encode(records[4])
	registration, err := DecodeAs[entities.Registration](data)
	if err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	if registration.VotedFor == nil || *registration.VotedFor != 3 || !registration.HasVoted {
		t.Fatalf("unexpected registration: %+v", registration)
	}
}

func TestDecodeRejectsUnknownDiscriminator(t *testing.T) {
	data, err := Encode(entities.Counter{Count: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data[0] ^= 0xff
	if _, err := Decode(data); !errors.Is(err, domainerrors.ErrUnknownRecordKind) {
		t.Fatalf("expected unknown record kind, got %v", err)
	}
	if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, domainerrors.ErrUnknownRecordKind) {
		t.Fatalf("expected unknown record kind for short data, got %v", err)
	}
}

func TestDecodeRejectsVersionAndBody(t *testing.T) {
	data, err := Encode(entities.Voter{Identity: "bob", FirstSeenAt: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bumped := append([]byte(nil), data...)
	bumped[DiscriminatorSize] = LayoutVersion + 1
	if _, err := Decode(bumped); !errors.Is(err, domainerrors.ErrUnsupportedRecordVersion) {
		t.Fatalf("expected unsupported version, got %v", err)
	}

	truncated := append([]byte(nil), data[:HeaderSize]...)
	truncated = append(truncated, 0xc1)
	if _, err := Decode(truncated); !errors.Is(err, domainerrors.ErrCorruptRecord) {
		t.Fatalf("expected corrupt record, got %v", err)
	}
}

func TestDecodeAsRejectsOtherKind(t *testing.T) {
	data, err := Encode(entities.Counter{Count: 4})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAs[entities.Poll](data); !errors.Is(err, domainerrors.ErrUnknownRecordKind) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestDiscriminatorsAreDistinct(t *testing.T) {
	seen := make(map[[DiscriminatorSize]byte]entities.RecordKind)
	for _, kind := range entities.RecordKinds() {
		value, err := Discriminator(kind)
		if err != nil {
			t.Fatalf("discriminator %s: %v", kind, err)
		}
		if other, ok := seen[value]; ok {
			t.Fatalf("%s collides with %s", kind, other)
		}
		seen[value] = kind
	}
	if _, err := Discriminator(entities.RecordKind(99)); !errors.Is(err, domainerrors.ErrUnknownRecordKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}
