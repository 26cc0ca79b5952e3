package http

type ErrorResponse struct {
	Code      string `json:"code" example:"poll_closed"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type InitializeResponse struct {
	Count   uint64 `json:"count"`
	Address string `json:"address"`
}

type CreatePollRequest struct {
	Description string `json:"description" example:"Favourite lunch spot"`
	StartTime   int64  `json:"start_time" example:"1700000000"`
	EndTime     int64  `json:"end_time" example:"1700086400"`
}

type PollResponse struct {
	PollID         uint64              `json:"poll_id"`
	Address        string              `json:"address"`
	Description    string              `json:"description"`
	StartTime      int64               `json:"start_time"`
	EndTime        int64               `json:"end_time"`
	CandidateCount uint32              `json:"candidate_count"`
	Authority      string              `json:"authority,omitempty"`
	CreatedAt      int64               `json:"created_at"`
	Open           bool                `json:"open"`
	Started        bool                `json:"started"`
	Ended          bool                `json:"ended"`
	Candidates     []CandidateResponse `json:"candidates,omitempty"`
	Replayed       bool                `json:"replayed,omitempty"`
}

type ListPollsResponse struct {
	Items []PollResponse `json:"items"`
}

type AddCandidateRequest struct {
	Name string `json:"name" example:"Tacos"`
}

type CandidateResponse struct {
	PollID      uint64 `json:"poll_id"`
	CandidateID uint64 `json:"candidate_id"`
	Address     string `json:"address"`
	Name        string `json:"name"`
	VoteCount   uint64 `json:"vote_count"`
	Replayed    bool   `json:"replayed,omitempty"`
}

type ResultsResponse struct {
	PollID     uint64              `json:"poll_id"`
	TotalVotes uint64              `json:"total_votes"`
	Items      []CandidateResponse `json:"items"`
}

type RegistrationResponse struct {
	PollID       uint64  `json:"poll_id"`
	Voter        string  `json:"voter"`
	Address      string  `json:"address"`
	State        string  `json:"state"`
	HasVoted     bool    `json:"has_voted"`
	VotedFor     *uint64 `json:"voted_for,omitempty"`
	RegisteredAt int64   `json:"registered_at"`
	VotedAt      int64   `json:"voted_at,omitempty"`
	VoterCreated bool    `json:"voter_created,omitempty"`
}

type CastVoteRequest struct {
	CandidateID uint64 `json:"candidate_id" example:"3"`
}

type CastVoteResponse struct {
	Registration RegistrationResponse `json:"registration"`
	Candidate    CandidateResponse    `json:"candidate"`
}

type VoterResponse struct {
	Identity        string   `json:"identity"`
	Address         string   `json:"address"`
	FirstSeenAt     int64    `json:"first_seen_at"`
	RegisteredPolls []uint64 `json:"registered_polls"`
	VotedPolls      []uint64 `json:"voted_polls"`
}

type PollAuditResponse struct {
	PollID     uint64   `json:"poll_id"`
	Consistent bool     `json:"consistent"`
	Violations []string `json:"violations"`
}
