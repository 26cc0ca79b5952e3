package entities

import (
	"math"

	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
)

// Counter issues poll and candidate ids. Id 0 is never issued.
type Counter struct {
	Count uint64
}

func NewCounter() Counter {
	return Counter{Count: 1}
}

// Next returns the current count together with the advanced counter. The
// caller must persist the returned counter in the same transaction that uses
// the id.
func (c Counter) Next() (uint64, Counter, error) {
	if c.Count == math.MaxUint64 {
		return 0, c, domainerrors.ErrOverflow
	}
	return c.Count, Counter{Count: c.Count + 1}, nil
}
