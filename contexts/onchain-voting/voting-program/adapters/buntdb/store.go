// Package buntdb persists program records as encoded accounts in an embedded
// buntdb file. Each record lives under its derived address; secondary keys
// only list addresses.
package buntdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/adapters/accountcodec"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
)

const (
	accountPrefix              = "account:"
	candidateIndexPrefix       = "index:candidate:"
	pollIndexPrefix            = "index:poll:"
	pollCandidatesPrefix       = "index:poll-candidates:"
	pollRegistrationsPrefix    = "index:poll-registrations:"
	voterRegistrationsPrefix   = "index:voter-registrations:"
	idempotencyPrefix          = "idempotency:"
	outboxPendingPrefix        = "outbox:pending:"
	outboxIDPrefix             = "outbox:id:"
	outboxSequenceKey          = "outbox:sequence"
	publishedOutboxRetention   = 7 * 24 * time.Hour
	outboxPublishedStatusValue = "published"
)

type Store struct {
	db     *buntdb.DB
	logger *slog.Logger
}

// Open opens path, or an in-memory database for ":memory:".
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open buntdb %q: %w", path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(btx *buntdb.Tx) error {
		return fn(&ledgerTx{tx: btx})
	})
	if err != nil && domainerrors.Code(err) == "internal_error" {
		s.logError("buntdb ledger update failed", "buntdb_ledger_update_failed", err)
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *buntdb.Tx) error {
		return fn(&ledgerTx{tx: btx})
	})
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, limit)
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(outboxPendingPrefix+"*", func(_, value string) bool {
			var message ports.OutboxMessage
			if decodeErr = json.Unmarshal([]byte(value), &message); decodeErr != nil {
				return false
			}
			items = append(items, message)
			return len(items) < limit
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		s.logError("buntdb outbox list failed", "buntdb_outbox_list_failed", err)
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	outboxID = strings.TrimSpace(outboxID)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		pendingKey, err := tx.Get(outboxIDPrefix + outboxID)
		if errors.Is(err, buntdb.ErrNotFound) {
			return domainerrors.ErrConflict
		}
		if err != nil {
			return err
		}
		if pendingKey == outboxPublishedStatusValue {
			return nil
		}
		if _, err := tx.Delete(pendingKey); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		_, _, err = tx.Set(outboxIDPrefix+outboxID, outboxPublishedStatusValue, &buntdb.SetOptions{
			Expires: true,
			TTL:     publishedOutboxRetention,
		})
		return err
	})
	if err != nil {
		s.logError("buntdb outbox mark published failed", "buntdb_outbox_mark_published_failed", err,
			"outbox_id", outboxID,
			"published_at", publishedAt.UTC(),
		)
	}
	return err
}

func (s *Store) logError(message string, event string, err error, attrs ...any) {
	fields := []any{
		"event", event,
		"module", "onchain-voting/voting-program",
		"layer", "adapter",
		"error", err.Error(),
	}
	s.logger.Error(message, append(fields, attrs...)...)
}

type ledgerTx struct {
	tx *buntdb.Tx
}

func accountKey(address entities.Address) string {
	return accountPrefix + address.String()
}

func idKey(value uint64) string {
	return fmt.Sprintf("%020d", value)
}

func (t *ledgerTx) getAccount(address entities.Address) ([]byte, bool, error) {
	value, err := t.tx.Get(accountKey(address))
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (t *ledgerTx) putAccount(record entities.Record) error {
	data, err := accountcodec.Encode(record)
	if err != nil {
		return err
	}
	_, _, err = t.tx.Set(accountKey(record.Address()), string(data), nil)
	return err
}

func (t *ledgerTx) setIndex(key string, address entities.Address) error {
	_, _, err := t.tx.Set(key, address.String(), nil)
	return err
}

func (t *ledgerTx) addresses(pattern string) ([]entities.Address, error) {
	var (
		items    []entities.Address
		parseErr error
	)
	err := t.tx.AscendKeys(pattern, func(_, value string) bool {
		address, err := entities.ParseAddress(value)
		if err != nil {
			parseErr = fmt.Errorf("%w: %v", domainerrors.ErrCorruptRecord, err)
			return false
		}
		items = append(items, address)
		return true
	})
	if err != nil {
		return nil, err
	}
	return items, parseErr
}

func loadRecord[T entities.Record](t *ledgerTx, address entities.Address) (T, bool, error) {
	var zero T
	data, found, err := t.getAccount(address)
	if err != nil || !found {
		return zero, found, err
	}
	record, err := accountcodec.DecodeAs[T](data)
	if err != nil {
		return zero, false, err
	}
	return record, true, nil
}

func loadAll[T entities.Record](t *ledgerTx, pattern string) ([]T, error) {
	addresses, err := t.addresses(pattern)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(addresses))
	for _, address := range addresses {
		record, found, err := loadRecord[T](t, address)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: index points at missing account %s", domainerrors.ErrCorruptRecord, address)
		}
		items = append(items, record)
	}
	return items, nil
}

func (t *ledgerTx) GetCounter(_ context.Context) (entities.Counter, bool, error) {
	return loadRecord[entities.Counter](t, entities.CounterAddress())
}

func (t *ledgerTx) InitializeCounter(ctx context.Context, counter entities.Counter) error {
	_, found, err := t.GetCounter(ctx)
	if err != nil {
		return err
	}
	if found {
		return domainerrors.ErrAlreadyInitialized
	}
	return t.putAccount(counter)
}

func (t *ledgerTx) SaveCounter(_ context.Context, counter entities.Counter) error {
	return t.putAccount(counter)
}

func (t *ledgerTx) GetPoll(_ context.Context, pollID uint64) (entities.Poll, error) {
	poll, found, err := loadRecord[entities.Poll](t, entities.PollAddress(pollID))
	if err != nil {
		return entities.Poll{}, err
	}
	if !found {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return poll, nil
}

func (t *ledgerTx) InsertPoll(_ context.Context, poll entities.Poll) error {
	if _, found, err := t.getAccount(poll.Address()); err != nil {
		return err
	} else if found {
		return domainerrors.ErrConflict
	}
	if err := t.putAccount(poll); err != nil {
		return err
	}
	return t.setIndex(pollIndexPrefix+idKey(poll.ID), poll.Address())
}

func (t *ledgerTx) UpdatePoll(ctx context.Context, poll entities.Poll) error {
	if _, err := t.GetPoll(ctx, poll.ID); err != nil {
		return err
	}
	return t.putAccount(poll)
}

func (t *ledgerTx) ListPolls(_ context.Context) ([]entities.Poll, error) {
	return loadAll[entities.Poll](t, pollIndexPrefix+"*")
}

func (t *ledgerTx) GetCandidate(_ context.Context, candidateID uint64) (entities.Candidate, error) {
	value, err := t.tx.Get(candidateIndexPrefix + idKey(candidateID))
	if errors.Is(err, buntdb.ErrNotFound) {
		return entities.Candidate{}, domainerrors.ErrCandidateNotFound
	}
	if err != nil {
		return entities.Candidate{}, err
	}
	address, err := entities.ParseAddress(value)
	if err != nil {
		return entities.Candidate{}, fmt.Errorf("%w: %v", domainerrors.ErrCorruptRecord, err)
	}
	candidate, found, err := loadRecord[entities.Candidate](t, address)
	if err != nil {
		return entities.Candidate{}, err
	}
	if !found {
		return entities.Candidate{}, domainerrors.ErrCandidateNotFound
	}
	return candidate, nil
}

func (t *ledgerTx) InsertCandidate(_ context.Context, candidate entities.Candidate) error {
	indexKey := candidateIndexPrefix + idKey(candidate.CandidateID)
	if _, err := t.tx.Get(indexKey); err == nil {
		return domainerrors.ErrConflict
	} else if !errors.Is(err, buntdb.ErrNotFound) {
		return err
	}
	if err := t.putAccount(candidate); err != nil {
		return err
	}
	if err := t.setIndex(indexKey, candidate.Address()); err != nil {
		return err
	}
	return t.setIndex(pollCandidatesPrefix+idKey(candidate.PollID)+":"+idKey(candidate.CandidateID), candidate.Address())
}

func (t *ledgerTx) UpdateCandidate(ctx context.Context, candidate entities.Candidate) error {
	if _, err := t.GetCandidate(ctx, candidate.CandidateID); err != nil {
		return err
	}
	return t.putAccount(candidate)
}

func (t *ledgerTx) ListCandidatesByPoll(_ context.Context, pollID uint64) ([]entities.Candidate, error) {
	return loadAll[entities.Candidate](t, pollCandidatesPrefix+idKey(pollID)+":*")
}

func (t *ledgerTx) GetVoter(_ context.Context, identity string) (entities.Voter, bool, error) {
	return loadRecord[entities.Voter](t, entities.VoterAddress(strings.TrimSpace(identity)))
}

func (t *ledgerTx) InsertVoter(_ context.Context, voter entities.Voter) error {
	if _, found, err := t.getAccount(voter.Address()); err != nil || found {
		return err
	}
	return t.putAccount(voter)
}

func (t *ledgerTx) GetRegistration(_ context.Context, voter string, pollID uint64) (entities.Registration, bool, error) {
	return loadRecord[entities.Registration](t, entities.RegistrationAddress(pollID, strings.TrimSpace(voter)))
}

func (t *ledgerTx) InsertRegistration(_ context.Context, registration entities.Registration) error {
	address := registration.Address()
	if _, found, err := t.getAccount(address); err != nil {
		return err
	} else if found {
		return domainerrors.ErrAlreadyRegistered
	}
	if err := t.putAccount(registration); err != nil {
		return err
	}
	voterAddress := entities.VoterAddress(registration.Voter)
	if err := t.setIndex(voterRegistrationsPrefix+voterAddress.String()+":"+idKey(registration.PollID), address); err != nil {
		return err
	}
	return t.setIndex(pollRegistrationsPrefix+idKey(registration.PollID)+":"+voterAddress.String(), address)
}

func (t *ledgerTx) UpdateRegistration(_ context.Context, registration entities.Registration) error {
	if _, found, err := t.getAccount(registration.Address()); err != nil {
		return err
	} else if !found {
		return domainerrors.ErrNotRegistered
	}
	return t.putAccount(registration)
}

func (t *ledgerTx) ListRegistrationsByVoter(_ context.Context, voter string) ([]entities.Registration, error) {
	voterAddress := entities.VoterAddress(strings.TrimSpace(voter))
	return loadAll[entities.Registration](t, voterRegistrationsPrefix+voterAddress.String()+":*")
}

func (t *ledgerTx) ListRegistrationsByPoll(_ context.Context, pollID uint64) ([]entities.Registration, error) {
	return loadAll[entities.Registration](t, pollRegistrationsPrefix+idKey(pollID)+":*")
}

type idempotencyValue struct {
	RequestHash string    `json:"request_hash"`
	PollID      uint64    `json:"poll_id"`
	CandidateID uint64    `json:"candidate_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (t *ledgerTx) GetIdempotency(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	raw, err := t.tx.Get(idempotencyPrefix + key)
	if errors.Is(err, buntdb.ErrNotFound) {
		return ports.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return ports.IdempotencyRecord{}, false, err
	}
	var value idempotencyValue
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return ports.IdempotencyRecord{}, false, err
	}
	if !value.ExpiresAt.After(now.UTC()) {
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:         key,
		RequestHash: value.RequestHash,
		PollID:      value.PollID,
		CandidateID: value.CandidateID,
		ExpiresAt:   value.ExpiresAt,
	}, true, nil
}

func (t *ledgerTx) PutIdempotency(ctx context.Context, record ports.IdempotencyRecord, now time.Time) error {
	key := strings.TrimSpace(record.Key)
	existing, found, err := t.GetIdempotency(ctx, key, now)
	if err != nil {
		return err
	}
	if found {
		if existing.RequestHash != record.RequestHash {
			return domainerrors.ErrIdempotencyConflict
		}
		return domainerrors.ErrConflict
	}
	raw, err := json.Marshal(idempotencyValue{
		RequestHash: record.RequestHash,
		PollID:      record.PollID,
		CandidateID: record.CandidateID,
		ExpiresAt:   record.ExpiresAt.UTC(),
	})
	if err != nil {
		return err
	}
	// The eviction TTL is measured from ledger time, not the wall clock.
	options := &buntdb.SetOptions{}
	if ttl := record.ExpiresAt.Sub(now); ttl > 0 {
		options.Expires = true
		options.TTL = ttl
	}
	_, _, err = t.tx.Set(idempotencyPrefix+key, string(raw), options)
	return err
}

func (t *ledgerTx) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if _, err := t.tx.Get(outboxIDPrefix + outboxID); err == nil {
		return domainerrors.ErrConflict
	} else if !errors.Is(err, buntdb.ErrNotFound) {
		return err
	}

	sequence := uint64(0)
	if raw, err := t.tx.Get(outboxSequenceKey); err == nil {
		sequence, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: outbox sequence: %v", domainerrors.ErrCorruptRecord, err)
		}
	} else if !errors.Is(err, buntdb.ErrNotFound) {
		return err
	}
	sequence++
	if _, _, err := t.tx.Set(outboxSequenceKey, strconv.FormatUint(sequence, 10), nil); err != nil {
		return err
	}

	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	message, err := json.Marshal(ports.OutboxMessage{
		OutboxID:     outboxID,
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		CreatedAt:    createdAt,
	})
	if err != nil {
		return err
	}
	pendingKey := outboxPendingPrefix + idKey(sequence)
	if _, _, err := t.tx.Set(pendingKey, string(message), nil); err != nil {
		return err
	}
	_, _, err = t.tx.Set(outboxIDPrefix+outboxID, pendingKey, nil)
	return err
}
