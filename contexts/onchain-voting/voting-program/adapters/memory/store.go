package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"

	"github.com/google/uuid"
)

var errReadOnly = errors.New("write attempted in read-only ledger view")

type outboxRecord struct {
	message  ports.OutboxMessage
	sequence uint64
}

type registrationKey struct {
	voter  string
	pollID uint64
}

// state is one consistent snapshot of the ledger. Update works on a clone and
// swaps it in only when the transaction function succeeds. Outbox rows live on
// the Store instead so the clone does not carry them.
type state struct {
	counter       *entities.Counter
	polls         map[uint64]entities.Poll
	candidates    map[uint64]entities.Candidate
	voters        map[string]entities.Voter
	registrations map[registrationKey]entities.Registration
	idempotency   map[string]ports.IdempotencyRecord
	sequence      uint64
}

func newState() *state {
	return &state{
		polls:         make(map[uint64]entities.Poll),
		candidates:    make(map[uint64]entities.Candidate),
		voters:        make(map[string]entities.Voter),
		registrations: make(map[registrationKey]entities.Registration),
		idempotency:   make(map[string]ports.IdempotencyRecord),
	}
}

func (s *state) clone() *state {
	next := &state{
		polls:         make(map[uint64]entities.Poll, len(s.polls)),
		candidates:    make(map[uint64]entities.Candidate, len(s.candidates)),
		voters:        make(map[string]entities.Voter, len(s.voters)),
		registrations: make(map[registrationKey]entities.Registration, len(s.registrations)),
		idempotency:   make(map[string]ports.IdempotencyRecord, len(s.idempotency)),
		sequence:      s.sequence,
	}
	if s.counter != nil {
		counter := *s.counter
		next.counter = &counter
	}
	for k, v := range s.polls {
		next.polls[k] = v
	}
	for k, v := range s.candidates {
		next.candidates[k] = v
	}
	for k, v := range s.voters {
		next.voters[k] = v
	}
	for k, v := range s.registrations {
		next.registrations[k] = copyRegistration(v)
	}
	for k, v := range s.idempotency {
		next.idempotency[k] = v
	}
	return next
}

// Store is the in-process ledger. Writers are serialized by a store-wide
// lock, so every Update observes the effects of all earlier commits. The
// outbox holds pending rows only; publishing a row removes it.
type Store struct {
	mu     sync.RWMutex
	state  *state
	outbox map[string]outboxRecord

	clockMu sync.RWMutex
	now     time.Time
}

func NewStore() *Store {
	return &Store{state: newState(), outbox: make(map[string]outboxRecord)}
}

// SetNow pins the ledger clock. A zero time restores the wall clock.
func (s *Store) SetNow(now time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = now.UTC()
}

func (s *Store) Now() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	if s.now.IsZero() {
		return time.Now().UTC()
	}
	return s.now
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &tx{state: s.state.clone(), outbox: s.outbox}
	if err := fn(staged); err != nil {
		return err
	}
	s.state = staged.state
	for _, row := range staged.appended {
		s.outbox[row.message.OutboxID] = row
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{state: s.state, readOnly: true})
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].sequence < rows[j].sequence
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(outboxID)
	if _, ok := s.outbox[key]; !ok {
		return domainerrors.ErrConflict
	}
	delete(s.outbox, key)
	return nil
}

// tx reads and writes one snapshot. It is only valid inside the Update or
// View call that created it.
type tx struct {
	state    *state
	outbox   map[string]outboxRecord
	appended []outboxRecord
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) GetCounter(_ context.Context) (entities.Counter, bool, error) {
	if t.state.counter == nil {
		return entities.Counter{}, false, nil
	}
	return *t.state.counter, true, nil
}

func (t *tx) InitializeCounter(_ context.Context, counter entities.Counter) error {
	if err := t.writable(); err != nil {
		return err
	}
	if t.state.counter != nil {
		return domainerrors.ErrAlreadyInitialized
	}
	t.state.counter = &counter
	return nil
}

func (t *tx) SaveCounter(_ context.Context, counter entities.Counter) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.state.counter = &counter
	return nil
}

func (t *tx) GetPoll(_ context.Context, pollID uint64) (entities.Poll, error) {
	poll, ok := t.state.polls[pollID]
	if !ok {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return poll, nil
}

func (t *tx) InsertPoll(_ context.Context, poll entities.Poll) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.polls[poll.ID]; exists {
		return domainerrors.ErrConflict
	}
	t.state.polls[poll.ID] = poll
	return nil
}

func (t *tx) UpdatePoll(_ context.Context, poll entities.Poll) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.polls[poll.ID]; !exists {
		return domainerrors.ErrPollNotFound
	}
	t.state.polls[poll.ID] = poll
	return nil
}

func (t *tx) ListPolls(_ context.Context) ([]entities.Poll, error) {
	items := make([]entities.Poll, 0, len(t.state.polls))
	for _, poll := range t.state.polls {
		items = append(items, poll)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (t *tx) GetCandidate(_ context.Context, candidateID uint64) (entities.Candidate, error) {
	candidate, ok := t.state.candidates[candidateID]
	if !ok {
		return entities.Candidate{}, domainerrors.ErrCandidateNotFound
	}
	return candidate, nil
}

func (t *tx) InsertCandidate(_ context.Context, candidate entities.Candidate) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.candidates[candidate.CandidateID]; exists {
		return domainerrors.ErrConflict
	}
	t.state.candidates[candidate.CandidateID] = candidate
	return nil
}

func (t *tx) UpdateCandidate(_ context.Context, candidate entities.Candidate) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.candidates[candidate.CandidateID]; !exists {
		return domainerrors.ErrCandidateNotFound
	}
	t.state.candidates[candidate.CandidateID] = candidate
	return nil
}

func (t *tx) ListCandidatesByPoll(_ context.Context, pollID uint64) ([]entities.Candidate, error) {
	items := make([]entities.Candidate, 0)
	for _, candidate := range t.state.candidates {
		if candidate.PollID == pollID {
			items = append(items, candidate)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CandidateID < items[j].CandidateID })
	return items, nil
}

func (t *tx) GetVoter(_ context.Context, identity string) (entities.Voter, bool, error) {
	voter, ok := t.state.voters[strings.TrimSpace(identity)]
	return voter, ok, nil
}

func (t *tx) InsertVoter(_ context.Context, voter entities.Voter) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.voters[voter.Identity]; exists {
		return nil
	}
	t.state.voters[voter.Identity] = voter
	return nil
}

func (t *tx) GetRegistration(_ context.Context, voter string, pollID uint64) (entities.Registration, bool, error) {
	registration, ok := t.state.registrations[registrationKey{voter: strings.TrimSpace(voter), pollID: pollID}]
	if !ok {
		return entities.Registration{}, false, nil
	}
	return copyRegistration(registration), true, nil
}

func (t *tx) InsertRegistration(_ context.Context, registration entities.Registration) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := registrationKey{voter: registration.Voter, pollID: registration.PollID}
	if _, exists := t.state.registrations[key]; exists {
		return domainerrors.ErrAlreadyRegistered
	}
	t.state.registrations[key] = copyRegistration(registration)
	return nil
}

func (t *tx) UpdateRegistration(_ context.Context, registration entities.Registration) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := registrationKey{voter: registration.Voter, pollID: registration.PollID}
	if _, exists := t.state.registrations[key]; !exists {
		return domainerrors.ErrNotRegistered
	}
	t.state.registrations[key] = copyRegistration(registration)
	return nil
}

func (t *tx) ListRegistrationsByVoter(_ context.Context, voter string) ([]entities.Registration, error) {
	voter = strings.TrimSpace(voter)
	items := make([]entities.Registration, 0)
	for key, registration := range t.state.registrations {
		if key.voter == voter {
			items = append(items, copyRegistration(registration))
		}
	}
	sortRegistrations(items)
	return items, nil
}

func (t *tx) ListRegistrationsByPoll(_ context.Context, pollID uint64) ([]entities.Registration, error) {
	items := make([]entities.Registration, 0)
	for key, registration := range t.state.registrations {
		if key.pollID == pollID {
			items = append(items, copyRegistration(registration))
		}
	}
	sortRegistrations(items)
	return items, nil
}

func (t *tx) GetIdempotency(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	record, exists := t.state.idempotency[key]
	if !exists {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now.UTC()) {
		if !t.readOnly {
			delete(t.state.idempotency, key)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (t *tx) PutIdempotency(_ context.Context, record ports.IdempotencyRecord, now time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := strings.TrimSpace(record.Key)
	if existing, exists := t.state.idempotency[key]; exists && existing.ExpiresAt.After(now.UTC()) {
		if existing.RequestHash != record.RequestHash {
			return domainerrors.ErrIdempotencyConflict
		}
		return domainerrors.ErrConflict
	}
	record.Key = key
	record.ExpiresAt = record.ExpiresAt.UTC()
	t.state.idempotency[key] = record
	return nil
}

func (t *tx) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	if err := t.writable(); err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := t.pendingOutbox(outboxID); ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	t.state.sequence++
	t.appended = append(t.appended, outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
		sequence: t.state.sequence,
	})
	return nil
}

func (t *tx) pendingOutbox(outboxID string) (outboxRecord, bool) {
	for _, row := range t.appended {
		if row.message.OutboxID == outboxID {
			return row, true
		}
	}
	row, ok := t.outbox[outboxID]
	return row, ok
}

func copyRegistration(registration entities.Registration) entities.Registration {
	if registration.VotedFor != nil {
		votedFor := *registration.VotedFor
		registration.VotedFor = &votedFor
	}
	return registration
}

func sortRegistrations(items []entities.Registration) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].PollID == items[j].PollID {
			return items[i].Voter < items[j].Voter
		}
		return items[i].PollID < items[j].PollID
	})
}
