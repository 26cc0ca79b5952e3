package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	votingprogram "votingdapp/contexts/onchain-voting/voting-program"
	domainerrors "votingdapp/contexts/onchain-voting/voting-program/domain/errors"
	votinghttp "votingdapp/contexts/onchain-voting/voting-program/transport/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	_ "votingdapp/internal/platform/httpserver/docs"
)

// @title           votingdapp API
// @version         1.0
// @description     Poll, candidate, registration and vote operations of the voting program.
// @BasePath        /

type Options struct {
	Addr               string
	RateLimitPerSecond float64
	RateLimitBurst     int
	Gatherer           prometheus.Gatherer
}

type Server struct {
	mux     *http.ServeMux
	http    *http.Server
	logger  *slog.Logger
	addr    string
	voting  votingprogram.Module
	limiter *callerLimiter
}

func New(voting votingprogram.Module, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    opts.Addr,
		voting:  voting,
		limiter: newCallerLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst),
	}
	s.registerRoutes(opts.Gatherer)
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.Handle("POST /v1/program/initialize", s.limited(s.handleInitialize))
	s.mux.Handle("POST /v1/polls", s.limited(s.handleCreatePoll))
	s.mux.HandleFunc("GET /v1/polls", s.handleListPolls)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}", s.handleGetPoll)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/audit", s.handleAuditPoll)
	s.mux.Handle("POST /v1/polls/{poll_id}/candidates", s.limited(s.handleAddCandidate))
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/candidates", s.handleResults)
	s.mux.Handle("POST /v1/polls/{poll_id}/registrations", s.limited(s.handleRegister))
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/registrations/{voter}", s.handleGetRegistration)
	s.mux.Handle("POST /v1/polls/{poll_id}/votes", s.limited(s.handleCastVote))
	s.mux.HandleFunc("GET /v1/voters/{voter}", s.handleGetVoter)
}

// handleInitialize godoc
// @Summary  Create the program counter
// @Tags     program
// @Produce  json
// @Success  201 {object} votinghttp.InitializeResponse
// @Failure  409 {object} votinghttp.ErrorResponse
// @Router   /v1/program/initialize [post]
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.InitializeHandler(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleCreatePoll godoc
// @Summary  Create a poll
// @Tags     polls
// @Accept   json
// @Produce  json
// @Param    X-User-Id       header string true  "Poll authority"
// @Param    Idempotency-Key header string false "Replay protection key"
// @Param    request body votinghttp.CreatePollRequest true "Poll"
// @Success  201 {object} votinghttp.PollResponse
// @Failure  400 {object} votinghttp.ErrorResponse
// @Failure  403 {object} votinghttp.ErrorResponse
// @Router   /v1/polls [post]
func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	authority, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.CreatePollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.CreatePollHandler(r.Context(), authority, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// handleListPolls godoc
// @Summary  List polls
// @Tags     polls
// @Produce  json
// @Success  200 {object} votinghttp.ListPollsResponse
// @Router   /v1/polls [get]
func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.ListPollsHandler(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetPoll godoc
// @Summary  Get a poll with its candidates
// @Tags     polls
// @Produce  json
// @Param    poll_id path int true "Poll id"
// @Success  200 {object} votinghttp.PollResponse
// @Failure  404 {object} votinghttp.ErrorResponse
// @Router   /v1/polls/{poll_id} [get]
func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pathPollID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.GetPollHandler(r.Context(), pollID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuditPoll godoc
// @Summary  Check a poll's persisted state against the program invariants
// @Tags     polls
// @Produce  json
// @Param    poll_id path int true "Poll id"
// @Success  200 {object} votinghttp.PollAuditResponse
// @Router   /v1/polls/{poll_id}/audit [get]
func (s *Server) handleAuditPoll(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pathPollID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.AuditPollHandler(r.Context(), pollID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAddCandidate godoc
// @Summary  Add a candidate to a poll
// @Tags     candidates
// @Accept   json
// @Produce  json
// @Param    poll_id         path   int    true  "Poll id"
// @Param    X-User-Id       header string true  "Poll authority"
// @Param    Idempotency-Key header string false "Replay protection key"
// @Param    request body votinghttp.AddCandidateRequest true "Candidate"
// @Success  201 {object} votinghttp.CandidateResponse
// @Failure  403 {object} votinghttp.ErrorResponse
// @Failure  422 {object} votinghttp.ErrorResponse
// @Router   /v1/polls/{poll_id}/candidates [post]
func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	authority, ok := requireCaller(w, r)
	if !ok {
		return
	}
	pollID, ok := pathPollID(w, r)
	if !ok {
		return
	}
	var req votinghttp.AddCandidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.AddCandidateHandler(r.Context(), authority, r.Header.Get("Idempotency-Key"), pollID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// handleResults godoc
// @Summary  Candidates of a poll ranked by votes
// @Tags     candidates
// @Produce  json
// @Param    poll_id path int true "Poll id"
// @Success  200 {object} votinghttp.ResultsResponse
// @Router   /v1/polls/{poll_id}/candidates [get]
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pathPollID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.ResultsHandler(r.Context(), pollID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRegister godoc
// @Summary  Register the caller for a poll
// @Tags     registrations
// @Produce  json
// @Param    poll_id   path   int    true "Poll id"
// @Param    X-User-Id header string true "Voter identity"
// @Success  201 {object} votinghttp.RegistrationResponse
// @Failure  409 {object} votinghttp.ErrorResponse
// @Router   /v1/polls/{poll_id}/registrations [post]
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	voter, ok := requireCaller(w, r)
	if !ok {
		return
	}
	pollID, ok := pathPollID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.RegisterHandler(r.Context(), voter, pollID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleGetRegistration godoc
// @Summary  Registration state of a voter in a poll
// @Tags     registrations
// @Produce  json
// @Param    poll_id path int    true "Poll id"
// @Param    voter   path string true "Voter identity"
// @Success  200 {object} votinghttp.RegistrationResponse
// @Failure  404 {object} votinghttp.ErrorResponse
// @Router   /v1/polls/{poll_id}/registrations/{voter} [get]
func (s *Server) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pathPollID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.GetRegistrationHandler(r.Context(), r.PathValue("voter"), pollID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCastVote godoc
// @Summary  Cast the caller's vote
// @Tags     votes
// @Accept   json
// @Produce  json
// @Param    poll_id   path   int    true "Poll id"
// @Param    X-User-Id header string true "Voter identity"
// @Param    request body votinghttp.CastVoteRequest true "Vote"
// @Success  200 {object} votinghttp.CastVoteResponse
// @Failure  409 {object} votinghttp.ErrorResponse
// @Failure  422 {object} votinghttp.ErrorResponse
// @Router   /v1/polls/{poll_id}/votes [post]
func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	voter, ok := requireCaller(w, r)
	if !ok {
		return
	}
	pollID, ok := pathPollID(w, r)
	if !ok {
		return
	}
	var req votinghttp.CastVoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.CastVoteHandler(r.Context(), voter, pollID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetVoter godoc
// @Summary  Voter with the polls it registered for
// @Tags     voters
// @Produce  json
// @Param    voter path string true "Voter identity"
// @Success  200 {object} votinghttp.VoterResponse
// @Failure  404 {object} votinghttp.ErrorResponse
// @Router   /v1/voters/{voter} [get]
func (s *Server) handleGetVoter(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.GetVoterHandler(r.Context(), r.PathValue("voter"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required", false)
		return "", false
	}
	return caller, true
}

func pathPollID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	pollID, err := strconv.ParseUint(r.PathValue("poll_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_poll_id", "poll_id must be an unsigned integer", false)
		return 0, false
	}
	return pollID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", false)
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := domainerrors.Code(err)
	retryable := domainerrors.IsRetryable(err)
	switch {
	case errors.Is(err, domainerrors.ErrPollNotFound),
		errors.Is(err, domainerrors.ErrCandidateNotFound),
		errors.Is(err, domainerrors.ErrNotRegistered):
		writeError(w, http.StatusNotFound, code, err.Error(), retryable)
	case errors.Is(err, domainerrors.ErrInvalidTimeRange),
		errors.Is(err, domainerrors.ErrInvalidPollInput),
		errors.Is(err, domainerrors.ErrInvalidCandidateInput),
		errors.Is(err, domainerrors.ErrInvalidVoterIdentity):
		writeError(w, http.StatusBadRequest, code, err.Error(), retryable)
	case errors.Is(err, domainerrors.ErrUnauthorized):
		writeError(w, http.StatusForbidden, code, err.Error(), retryable)
	case errors.Is(err, domainerrors.ErrAlreadyRegistered),
		errors.Is(err, domainerrors.ErrAlreadyVoted),
		errors.Is(err, domainerrors.ErrAlreadyInitialized),
		errors.Is(err, domainerrors.ErrIdempotencyConflict),
		errors.Is(err, domainerrors.ErrConflict):
		writeError(w, http.StatusConflict, code, err.Error(), retryable)
	case errors.Is(err, domainerrors.ErrPollAlreadyStarted),
		errors.Is(err, domainerrors.ErrPollClosed),
		errors.Is(err, domainerrors.ErrCandidateLimitExceeded),
		errors.Is(err, domainerrors.ErrCandidateMismatch):
		writeError(w, http.StatusUnprocessableEntity, code, err.Error(), retryable)
	case errors.Is(err, domainerrors.ErrCounterNotInitialized):
		writeError(w, http.StatusServiceUnavailable, code, err.Error(), retryable)
	case errors.Is(err, domainerrors.ErrOverflow):
		writeError(w, http.StatusInternalServerError, code, err.Error(), retryable)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", false)
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string, retryable bool) {
	writeJSON(w, status, votinghttp.ErrorResponse{
		Code:      code,
		Message:   message,
		Retryable: retryable,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
