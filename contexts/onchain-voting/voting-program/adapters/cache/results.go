package cacheadapter

import (
	"strconv"
	"sync"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	"votingdapp/contexts/onchain-voting/voting-program/ports"

	gocache "github.com/patrickmn/go-cache"
)

// ResultsCache keeps candidate lists per poll for ttl. Entries are copied on
// the way in and out so callers never share a slice with the cache.
//
// Each poll carries a generation that InvalidateResults advances. A reader
// records the generation before loading from the ledger and hands it back to
// SetResults, which drops the snapshot if a commit invalidated the poll in
// between.
type ResultsCache struct {
	items *gocache.Cache

	mu          sync.Mutex
	generations map[uint64]uint64
}

func NewResultsCache(ttl time.Duration) *ResultsCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &ResultsCache{
		items:       gocache.New(ttl, 2*ttl),
		generations: make(map[uint64]uint64),
	}
}

func (c *ResultsCache) GetResults(pollID uint64) ([]entities.Candidate, bool) {
	value, ok := c.items.Get(key(pollID))
	if !ok {
		return nil, false
	}
	candidates, ok := value.([]entities.Candidate)
	if !ok {
		return nil, false
	}
	return append([]entities.Candidate(nil), candidates...), true
}

func (c *ResultsCache) ResultsGeneration(pollID uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[pollID]
}

func (c *ResultsCache) SetResults(pollID uint64, generation uint64, candidates []entities.Candidate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[pollID] != generation {
		return false
	}
	c.items.Set(key(pollID), append([]entities.Candidate(nil), candidates...), gocache.DefaultExpiration)
	return true
}

func (c *ResultsCache) InvalidateResults(pollID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[pollID]++
	c.items.Delete(key(pollID))
}

func key(pollID uint64) string {
	return "poll:" + strconv.FormatUint(pollID, 10)
}

var _ ports.ResultsCache = (*ResultsCache)(nil)
