package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	"votingdapp/contexts/onchain-voting/voting-program/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	counterRowID          = "counter"
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

var errReadOnly = errors.New("write attempted in read-only ledger view")

// Repository is the relational ledger. Update runs inside one database
// transaction and takes row locks on every record it reads, so concurrent
// writers touching the same counter, poll, candidate or registration queue
// behind each other.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates the ledger tables.
func (r *Repository) Migrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(
		&counterModel{},
		&pollModel{},
		&candidateModel{},
		&voterModel{},
		&registrationModel{},
		&idempotencyModel{},
		&outboxModel{},
	)
	if err != nil {
		return r.logError("voting_repo_migrate_failed", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{repo: r, db: tx, lock: true})
	})
}

func (r *Repository) View(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	return fn(&ledgerTx{repo: r, db: r.db.WithContext(ctx), readOnly: true})
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("voting_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "onchain-voting/voting-program",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("voting repository operation failed", fields...)
	return err
}

type ledgerTx struct {
	repo     *Repository
	db       *gorm.DB
	lock     bool
	readOnly bool
}

func (t *ledgerTx) query(ctx context.Context) *gorm.DB {
	db := t.db.WithContext(ctx)
	if t.lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (t *ledgerTx) writer(ctx context.Context) (*gorm.DB, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	return t.db.WithContext(ctx), nil
}

func (t *ledgerTx) GetCounter(ctx context.Context) (entities.Counter, bool, error) {
	var row counterModel
	err := t.query(ctx).Where("id = ?", counterRowID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Counter{}, false, nil
		}
		return entities.Counter{}, false, t.repo.logError("voting_repo_get_counter_failed", err)
	}
	return entities.Counter{Count: uint64(row.Count)}, true, nil
}

func (t *ledgerTx) InitializeCounter(ctx context.Context, counter entities.Counter) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := counterModel{
		ID:      counterRowID,
		Address: counter.Address().String(),
		Count:   U64(counter.Count),
	}
	if err := db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrAlreadyInitialized
		}
		return t.repo.logError("voting_repo_initialize_counter_failed", err, "count", counter.Count)
	}
	return nil
}

func (t *ledgerTx) SaveCounter(ctx context.Context, counter entities.Counter) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := counterModel{
		ID:      counterRowID,
		Address: counter.Address().String(),
		Count:   U64(counter.Count),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{"count": row.Count}),
	}).Create(&row).Error; err != nil {
		return t.repo.logError("voting_repo_save_counter_failed", err, "count", counter.Count)
	}
	return nil
}

func (t *ledgerTx) GetPoll(ctx context.Context, pollID uint64) (entities.Poll, error) {
	var row pollModel
	err := t.query(ctx).Where("poll_id = ?", U64(pollID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, t.repo.logError("voting_repo_get_poll_failed", err, "poll_id", pollID)
	}
	return row.toEntity(), nil
}

func (t *ledgerTx) InsertPoll(ctx context.Context, poll entities.Poll) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := pollModelFromEntity(poll)
	if err := db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return t.repo.logError("voting_repo_insert_poll_failed", err, "poll_id", poll.ID)
	}
	return nil
}

func (t *ledgerTx) UpdatePoll(ctx context.Context, poll entities.Poll) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	result := db.Model(&pollModel{}).
		Where("poll_id = ?", U64(poll.ID)).
		Updates(map[string]any{
			"description":     poll.Description,
			"start_time":      poll.StartTime,
			"end_time":        poll.EndTime,
			"candidate_count": int64(poll.CandidateCount),
			"authority":       poll.Authority,
		})
	if result.Error != nil {
		return t.repo.logError("voting_repo_update_poll_failed", result.Error, "poll_id", poll.ID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrPollNotFound
	}
	return nil
}

func (t *ledgerTx) ListPolls(ctx context.Context) ([]entities.Poll, error) {
	var rows []pollModel
	if err := t.db.WithContext(ctx).Order("poll_id ASC").Find(&rows).Error; err != nil {
		return nil, t.repo.logError("voting_repo_list_polls_failed", err)
	}
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (t *ledgerTx) GetCandidate(ctx context.Context, candidateID uint64) (entities.Candidate, error) {
	var row candidateModel
	err := t.query(ctx).Where("candidate_id = ?", U64(candidateID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Candidate{}, domainerrors.ErrCandidateNotFound
		}
		return entities.Candidate{}, t.repo.logError("voting_repo_get_candidate_failed", err, "candidate_id", candidateID)
	}
	return row.toEntity(), nil
}

func (t *ledgerTx) InsertCandidate(ctx context.Context, candidate entities.Candidate) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := candidateModelFromEntity(candidate)
	if err := db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return t.repo.logError("voting_repo_insert_candidate_failed", err,
			"poll_id", candidate.PollID,
			"candidate_id", candidate.CandidateID,
		)
	}
	return nil
}

func (t *ledgerTx) UpdateCandidate(ctx context.Context, candidate entities.Candidate) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	result := db.Model(&candidateModel{}).
		Where("candidate_id = ?", U64(candidate.CandidateID)).
		Updates(map[string]any{
			"name":       candidate.Name,
			"vote_count": U64(candidate.VoteCount),
		})
	if result.Error != nil {
		return t.repo.logError("voting_repo_update_candidate_failed", result.Error, "candidate_id", candidate.CandidateID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrCandidateNotFound
	}
	return nil
}

func (t *ledgerTx) ListCandidatesByPoll(ctx context.Context, pollID uint64) ([]entities.Candidate, error) {
	var rows []candidateModel
	if err := t.db.WithContext(ctx).
		Where("poll_id = ?", U64(pollID)).
		Order("candidate_id ASC").
		Find(&rows).Error; err != nil {
		return nil, t.repo.logError("voting_repo_list_candidates_failed", err, "poll_id", pollID)
	}
	items := make([]entities.Candidate, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (t *ledgerTx) GetVoter(ctx context.Context, identity string) (entities.Voter, bool, error) {
	var row voterModel
	err := t.db.WithContext(ctx).Where("identity = ?", strings.TrimSpace(identity)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Voter{}, false, nil
		}
		return entities.Voter{}, false, t.repo.logError("voting_repo_get_voter_failed", err, "voter", identity)
	}
	return entities.Voter{Identity: row.Identity, FirstSeenAt: row.FirstSeenAt}, true, nil
}

func (t *ledgerTx) InsertVoter(ctx context.Context, voter entities.Voter) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := voterModel{
		Identity:    voter.Identity,
		Address:     voter.Address().String(),
		FirstSeenAt: voter.FirstSeenAt,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return t.repo.logError("voting_repo_insert_voter_failed", err, "voter", voter.Identity)
	}
	return nil
}

func (t *ledgerTx) GetRegistration(ctx context.Context, voter string, pollID uint64) (entities.Registration, bool, error) {
	var row registrationModel
	err := t.query(ctx).
		Where("voter = ? AND poll_id = ?", strings.TrimSpace(voter), U64(pollID)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Registration{}, false, nil
		}
		return entities.Registration{}, false, t.repo.logError("voting_repo_get_registration_failed", err,
			"voter", voter,
			"poll_id", pollID,
		)
	}
	return row.toEntity(), true, nil
}

func (t *ledgerTx) InsertRegistration(ctx context.Context, registration entities.Registration) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := registrationModelFromEntity(registration)
	if err := db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrAlreadyRegistered
		}
		return t.repo.logError("voting_repo_insert_registration_failed", err,
			"voter", registration.Voter,
			"poll_id", registration.PollID,
		)
	}
	return nil
}

func (t *ledgerTx) UpdateRegistration(ctx context.Context, registration entities.Registration) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := registrationModelFromEntity(registration)
	result := db.Model(&registrationModel{}).
		Where("voter = ? AND poll_id = ?", row.Voter, row.PollID).
		Updates(map[string]any{
			"has_voted": row.HasVoted,
			"voted_for": row.VotedFor,
			"voted_at":  row.VotedAt,
		})
	if result.Error != nil {
		return t.repo.logError("voting_repo_update_registration_failed", result.Error,
			"voter", registration.Voter,
			"poll_id", registration.PollID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotRegistered
	}
	return nil
}

func (t *ledgerTx) ListRegistrationsByVoter(ctx context.Context, voter string) ([]entities.Registration, error) {
	var rows []registrationModel
	if err := t.db.WithContext(ctx).
		Where("voter = ?", strings.TrimSpace(voter)).
		Order("poll_id ASC").
		Find(&rows).Error; err != nil {
		return nil, t.repo.logError("voting_repo_list_registrations_by_voter_failed", err, "voter", voter)
	}
	return toRegistrationEntities(rows), nil
}

func (t *ledgerTx) ListRegistrationsByPoll(ctx context.Context, pollID uint64) ([]entities.Registration, error) {
	var rows []registrationModel
	if err := t.db.WithContext(ctx).
		Where("poll_id = ?", U64(pollID)).
		Order("voter ASC").
		Find(&rows).Error; err != nil {
		return nil, t.repo.logError("voting_repo_list_registrations_by_poll_failed", err, "poll_id", pollID)
	}
	return toRegistrationEntities(rows), nil
}

func (t *ledgerTx) GetIdempotency(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := t.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		Where("expires_at > ?", now.UTC()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, t.repo.logError("voting_repo_get_idempotency_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	return ports.IdempotencyRecord{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		PollID:      uint64(row.PollID),
		CandidateID: uint64(row.CandidateID),
		ExpiresAt:   row.ExpiresAt.UTC(),
	}, true, nil
}

func (t *ledgerTx) PutIdempotency(ctx context.Context, record ports.IdempotencyRecord, now time.Time) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	row := idempotencyModel{
		Key:         strings.TrimSpace(record.Key),
		RequestHash: strings.TrimSpace(record.RequestHash),
		PollID:      U64(record.PollID),
		CandidateID: U64(record.CandidateID),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	// An expired row with the same key is replaced. A concurrent insert of the
	// same key blocks here until its transaction ends.
	create := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Table: "voting_idempotency", Name: "expires_at"}, Value: now.UTC()},
		}},
		DoUpdates: clause.AssignmentColumns([]string{"request_hash", "poll_id", "candidate_id", "expires_at"}),
	}).Create(&row)
	if create.Error != nil {
		return t.repo.logError("voting_repo_put_idempotency_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := db.Where("key = ?", row.Key).First(&existing).Error; err != nil {
		return t.repo.logError("voting_repo_put_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash {
		return domainerrors.ErrIdempotencyConflict
	}
	return domainerrors.ErrConflict
}

func (t *ledgerTx) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	db, err := t.writer(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return t.repo.logError("voting_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return t.repo.logError("voting_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := db.Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return t.repo.logError("voting_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.Ledger = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.LedgerTx = (*ledgerTx)(nil)
