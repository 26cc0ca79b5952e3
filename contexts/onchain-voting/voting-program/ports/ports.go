package ports

import (
	"context"
	"time"

	eventsv1 "votingdapp/contracts/gen/events/v1"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
)

// Ledger runs program transactions against persisted state. Update applies
// fn as one all-or-nothing unit serialized against conflicting writers; when
// fn returns an error nothing it wrote is visible. View is read only.
type Ledger interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
}

type LedgerTx interface {
	CounterRepository
	PollRepository
	CandidateRepository
	VoterRepository
	RegistrationRepository
	IdempotencyStore
	OutboxWriter
}

type CounterRepository interface {
	GetCounter(ctx context.Context) (entities.Counter, bool, error)
	// InitializeCounter only inserts. It fails with ErrAlreadyInitialized when
	// a counter exists, including one committed by a concurrent transaction.
	InitializeCounter(ctx context.Context, counter entities.Counter) error
	SaveCounter(ctx context.Context, counter entities.Counter) error
}

type PollRepository interface {
	GetPoll(ctx context.Context, pollID uint64) (entities.Poll, error)
	InsertPoll(ctx context.Context, poll entities.Poll) error
	UpdatePoll(ctx context.Context, poll entities.Poll) error
	ListPolls(ctx context.Context) ([]entities.Poll, error)
}

type CandidateRepository interface {
	// GetCandidate resolves a candidate by id alone; ids are unique across
	// polls because they come from the program counter.
	GetCandidate(ctx context.Context, candidateID uint64) (entities.Candidate, error)
	InsertCandidate(ctx context.Context, candidate entities.Candidate) error
	UpdateCandidate(ctx context.Context, candidate entities.Candidate) error
	ListCandidatesByPoll(ctx context.Context, pollID uint64) ([]entities.Candidate, error)
}

type VoterRepository interface {
	GetVoter(ctx context.Context, identity string) (entities.Voter, bool, error)
	// InsertVoter is a no-op when the voter already exists.
	InsertVoter(ctx context.Context, voter entities.Voter) error
}

type RegistrationRepository interface {
	GetRegistration(ctx context.Context, voter string, pollID uint64) (entities.Registration, bool, error)
	// InsertRegistration fails with ErrAlreadyRegistered on a duplicate pair.
	InsertRegistration(ctx context.Context, registration entities.Registration) error
	UpdateRegistration(ctx context.Context, registration entities.Registration) error
	ListRegistrationsByVoter(ctx context.Context, voter string) ([]entities.Registration, error)
	ListRegistrationsByPoll(ctx context.Context, pollID uint64) ([]entities.Registration, error)
}

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	PollID      uint64
	CandidateID uint64
	ExpiresAt   time.Time
}

// IdempotencyStore evaluates expiry against the ledger time passed by the
// caller. PutIdempotency claims a key: a live record for another request fails
// with ErrIdempotencyConflict, and a live record for the same request fails
// with ErrConflict so a transaction that lost the race rolls back.
type IdempotencyStore interface {
	GetIdempotency(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	PutIdempotency(ctx context.Context, record IdempotencyRecord, now time.Time) error
}

type EventEnvelope = eventsv1.Envelope

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

// AuthorityRegistry decides who may create polls.
type AuthorityRegistry interface {
	CanCreatePolls(ctx context.Context, authority string) (bool, error)
}

// ResultsCache holds candidate tallies for read paths. Commands invalidate a
// poll after every committed change to its candidates, which advances the
// poll's generation. SetResults stores a snapshot only when the generation
// read before the snapshot was taken is still current.
type ResultsCache interface {
	GetResults(pollID uint64) ([]entities.Candidate, bool)
	ResultsGeneration(pollID uint64) uint64
	SetResults(pollID uint64, generation uint64, candidates []entities.Candidate) bool
	InvalidateResults(pollID uint64)
}

// OperationObserver records the outcome of every program operation.
type OperationObserver interface {
	ObserveOperation(operation string, code string, elapsed time.Duration)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}
