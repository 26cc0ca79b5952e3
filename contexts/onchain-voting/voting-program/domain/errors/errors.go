package errors

import "errors"

var (
	ErrInvalidTimeRange         = errors.New("poll end time must be after start time")
	ErrPollAlreadyStarted       = errors.New("poll has already started")
	ErrPollClosed               = errors.New("poll is not open")
	ErrCandidateLimitExceeded   = errors.New("poll candidate limit exceeded")
	ErrAlreadyRegistered        = errors.New("voter is already registered for poll")
	ErrAlreadyVoted             = errors.New("voter has already voted in poll")
	ErrNotRegistered            = errors.New("voter is not registered for poll")
	ErrCandidateMismatch        = errors.New("candidate does not belong to poll")
	ErrOverflow                 = errors.New("numeric overflow")
	ErrUnauthorized             = errors.New("caller is not permitted to perform this action")
	ErrUnknownRecordKind        = errors.New("unknown record kind")
	ErrUnsupportedRecordVersion = errors.New("unsupported record layout version")
	ErrCorruptRecord            = errors.New("record data is corrupt")
	ErrInvalidPollInput         = errors.New("invalid poll input")
	ErrInvalidCandidateInput    = errors.New("invalid candidate input")
	ErrInvalidVoterIdentity     = errors.New("invalid voter identity")
	ErrPollNotFound             = errors.New("poll not found")
	ErrCandidateNotFound        = errors.New("candidate not found")
	ErrCounterNotInitialized    = errors.New("program counter is not initialized")
	ErrAlreadyInitialized       = errors.New("program counter is already initialized")
	ErrIdempotencyConflict      = errors.New("idempotency key conflict")
	ErrConflict                 = errors.New("ledger write conflict")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidTimeRange, "invalid_time_range"},
	{ErrPollAlreadyStarted, "poll_already_started"},
	{ErrPollClosed, "poll_closed"},
	{ErrCandidateLimitExceeded, "candidate_limit_exceeded"},
	{ErrAlreadyRegistered, "already_registered"},
	{ErrAlreadyVoted, "already_voted"},
	{ErrNotRegistered, "not_registered"},
	{ErrCandidateMismatch, "candidate_mismatch"},
	{ErrOverflow, "overflow"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUnknownRecordKind, "unknown_record_kind"},
	{ErrUnsupportedRecordVersion, "unsupported_record_version"},
	{ErrCorruptRecord, "corrupt_record"},
	{ErrInvalidPollInput, "invalid_poll_input"},
	{ErrInvalidCandidateInput, "invalid_candidate_input"},
	{ErrInvalidVoterIdentity, "invalid_voter_identity"},
	{ErrPollNotFound, "poll_not_found"},
	{ErrCandidateNotFound, "candidate_not_found"},
	{ErrCounterNotInitialized, "counter_not_initialized"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrIdempotencyConflict, "idempotency_conflict"},
	{ErrConflict, "conflict"},
}

// Code maps a failure onto the stable code surfaced to callers. Errors outside
// the taxonomy map to "internal_error".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, item := range codes {
		if errors.Is(err, item.err) {
			return item.code
		}
	}
	return "internal_error"
}

// IsRetryable reports whether resubmitting the same transaction later can
// succeed. Window errors depend on ledger time; conflicts on contention.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrPollClosed),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrCounterNotInitialized):
		return true
	default:
		return false
	}
}
