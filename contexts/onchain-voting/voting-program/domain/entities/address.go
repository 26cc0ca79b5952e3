package entities

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ProgramSeed namespaces every derived address to this program deployment.
const ProgramSeed = "votingdapp"

// Address locates a record in the ledger. It is derived from the record's key
// attributes so no lookup index is needed to find it.
type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func ParseAddress(value string) (Address, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != len(Address{}) {
		return Address{}, fmt.Errorf("decode address: expected %d bytes, got %d", len(Address{}), len(raw))
	}
	var address Address
	copy(address[:], raw)
	return address, nil
}

// DeriveAddress hashes the program seed followed by each seed in order. Seeds
// are length-prefixed so ("ab","c") and ("a","bc") never collide.
func DeriveAddress(seeds ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(ProgramSeed))
	var prefix [4]byte
	for _, seed := range seeds {
		binary.LittleEndian.PutUint32(prefix[:], uint32(len(seed)))
		h.Write(prefix[:])
		h.Write(seed)
	}
	var address Address
	copy(address[:], h.Sum(nil))
	return address
}

func u64le(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}

func CounterAddress() Address {
	return DeriveAddress([]byte("counter"))
}

func PollAddress(pollID uint64) Address {
	return DeriveAddress(u64le(pollID))
}

func CandidateAddress(pollID uint64, candidateID uint64) Address {
	return DeriveAddress(u64le(pollID), u64le(candidateID))
}

func VoterAddress(identity string) Address {
	return DeriveAddress([]byte("voter"), []byte(identity))
}

func RegistrationAddress(pollID uint64, identity string) Address {
	return DeriveAddress([]byte("registration"), u64le(pollID), []byte(identity))
}
