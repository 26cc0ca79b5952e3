package postgresadapter

import (
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
)

type counterModel struct {
	ID      string `gorm:"column:id;primaryKey;type:varchar(16)"`
	Address string `gorm:"column:address;type:char(64)"`
	Count   U64    `gorm:"column:count;type:varchar(20)"`
}

func (counterModel) TableName() string {
	return "voting_counters"
}

type pollModel struct {
	PollID         U64    `gorm:"column:poll_id;primaryKey;type:varchar(20);autoIncrement:false"`
	Address        string `gorm:"column:address;type:char(64);uniqueIndex"`
	Description    string `gorm:"column:description"`
	StartTime      int64  `gorm:"column:start_time"`
	EndTime        int64  `gorm:"column:end_time"`
	CandidateCount int64  `gorm:"column:candidate_count"`
	Authority      string `gorm:"column:authority"`
	CreatedAt      int64  `gorm:"column:created_at;autoCreateTime:false"`
}

func (pollModel) TableName() string {
	return "polls"
}

func pollModelFromEntity(poll entities.Poll) pollModel {
	return pollModel{
		PollID:         U64(poll.ID),
		Address:        poll.Address().String(),
		Description:    poll.Description,
		StartTime:      poll.StartTime,
		EndTime:        poll.EndTime,
		CandidateCount: int64(poll.CandidateCount),
		Authority:      poll.Authority,
		CreatedAt:      poll.CreatedAt,
	}
}

func (m pollModel) toEntity() entities.Poll {
	return entities.Poll{
		ID:             uint64(m.PollID),
		Description:    m.Description,
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		CandidateCount: uint32(m.CandidateCount),
		Authority:      m.Authority,
		CreatedAt:      m.CreatedAt,
	}
}

type candidateModel struct {
	CandidateID U64    `gorm:"column:candidate_id;primaryKey;type:varchar(20);autoIncrement:false"`
	PollID      U64    `gorm:"column:poll_id;type:varchar(20);index"`
	Address     string `gorm:"column:address;type:char(64);uniqueIndex"`
	Name        string `gorm:"column:name"`
	VoteCount   U64    `gorm:"column:vote_count;type:varchar(20)"`
}

func (candidateModel) TableName() string {
	return "poll_candidates"
}

func candidateModelFromEntity(candidate entities.Candidate) candidateModel {
	return candidateModel{
		CandidateID: U64(candidate.CandidateID),
		PollID:      U64(candidate.PollID),
		Address:     candidate.Address().String(),
		Name:        candidate.Name,
		VoteCount:   U64(candidate.VoteCount),
	}
}

func (m candidateModel) toEntity() entities.Candidate {
	return entities.Candidate{
		PollID:      uint64(m.PollID),
		CandidateID: uint64(m.CandidateID),
		Name:        m.Name,
		VoteCount:   uint64(m.VoteCount),
	}
}

type voterModel struct {
	Identity    string `gorm:"column:identity;primaryKey;type:varchar(64)"`
	Address     string `gorm:"column:address;type:char(64);uniqueIndex"`
	FirstSeenAt int64  `gorm:"column:first_seen_at"`
}

func (voterModel) TableName() string {
	return "voters"
}

// registrationModel stores voted_for as 0 when the voter has not voted. The
// counter never issues id 0.
type registrationModel struct {
	Voter        string `gorm:"column:voter;primaryKey;type:varchar(64)"`
	PollID       U64    `gorm:"column:poll_id;primaryKey;type:varchar(20);autoIncrement:false;index"`
	Address      string `gorm:"column:address;type:char(64);uniqueIndex"`
	HasVoted     bool   `gorm:"column:has_voted"`
	VotedFor     U64    `gorm:"column:voted_for;type:varchar(20)"`
	RegisteredAt int64  `gorm:"column:registered_at"`
	VotedAt      int64  `gorm:"column:voted_at"`
}

func (registrationModel) TableName() string {
	return "poll_registrations"
}

func registrationModelFromEntity(registration entities.Registration) registrationModel {
	row := registrationModel{
		Voter:        registration.Voter,
		PollID:       U64(registration.PollID),
		Address:      registration.Address().String(),
		HasVoted:     registration.HasVoted,
		RegisteredAt: registration.RegisteredAt,
		VotedAt:      registration.VotedAt,
	}
	if registration.VotedFor != nil {
		row.VotedFor = U64(*registration.VotedFor)
	}
	return row
}

func (m registrationModel) toEntity() entities.Registration {
	registration := entities.Registration{
		Voter:        m.Voter,
		PollID:       uint64(m.PollID),
		HasVoted:     m.HasVoted,
		RegisteredAt: m.RegisteredAt,
		VotedAt:      m.VotedAt,
	}
	if m.HasVoted && m.VotedFor != 0 {
		votedFor := uint64(m.VotedFor)
		registration.VotedFor = &votedFor
	}
	return registration
}

func toRegistrationEntities(rows []registrationModel) []entities.Registration {
	items := make([]entities.Registration, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash"`
	PollID      U64       `gorm:"column:poll_id;type:varchar(20)"`
	CandidateID U64       `gorm:"column:candidate_id;type:varchar(20)"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "voting_idempotency"
}

type outboxModel struct {
	Sequence     uint64     `gorm:"column:sequence;primaryKey;autoIncrement"`
	OutboxID     string     `gorm:"column:outbox_id;uniqueIndex"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "voting_outbox"
}
