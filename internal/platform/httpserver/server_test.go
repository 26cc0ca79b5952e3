package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	votingprogram "votingdapp/contexts/onchain-voting/voting-program"
	"votingdapp/contexts/onchain-voting/voting-program/domain/entities"
	votinghttp "votingdapp/contexts/onchain-voting/voting-program/transport/http"

	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	t      *testing.T
	module votingprogram.Module
	http   *httptest.Server
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	module := votingprogram.NewInMemoryModule(entities.DefaultCandidatePolicy(), logger)
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	server := New(module, logger, opts)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testServer{t: t, module: module, http: ts}
}

func (s *testServer) at(unix int64) {
	s.module.Store.SetNow(time.Unix(unix, 0))
}

func (s *testServer) do(method string, path string, caller string, body any, out any) int {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.http.URL+path, reader)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	if caller != "" {
		req.Header.Set("X-User-Id", caller)
	}
	resp, err := s.http.Client().Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) expectError(method string, path string, caller string, body any, status int, code string) {
	s.t.Helper()
	var errResp votinghttp.ErrorResponse
	got := s.do(method, path, caller, body, &errResp)
	if got != status || errResp.Code != code {
		s.t.Fatalf("%s %s: expected %d %s, got %d %s", method, path, status, code, got, errResp.Code)
	}
}

func TestPollLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})
	s.at(50)

	if status := s.do(http.MethodPost, "/v1/program/initialize", "", nil, nil); status != http.StatusCreated {
		t.Fatalf("initialize: expected 201, got %d", status)
	}
	s.expectError(http.MethodPost, "/v1/program/initialize", "", nil, http.StatusConflict, "already_initialized")

	var poll votinghttp.PollResponse
	if status := s.do(http.MethodPost, "/v1/polls", "authority", votinghttp.CreatePollRequest{
		Description: "Favourite colour",
		StartTime:   100,
		EndTime:     200,
	}, &poll); status != http.StatusCreated {
		t.Fatalf("create poll: expected 201, got %d", status)
	}
	pollPath := "/v1/polls/" + strconv.FormatUint(poll.PollID, 10)

	var first, second votinghttp.CandidateResponse
	if status := s.do(http.MethodPost, pollPath+"/candidates", "authority", votinghttp.AddCandidateRequest{Name: "A"}, &first); status != http.StatusCreated {
		t.Fatalf("add candidate A: expected 201, got %d", status)
	}
	if status := s.do(http.MethodPost, pollPath+"/candidates", "authority", votinghttp.AddCandidateRequest{Name: "B"}, &second); status != http.StatusCreated {
		t.Fatalf("add candidate B: expected 201, got %d", status)
	}

	s.at(120)
	if status := s.do(http.MethodPost, pollPath+"/registrations", "voter-v", nil, nil); status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", status)
	}
	s.expectError(http.MethodPost, pollPath+"/registrations", "voter-v", nil, http.StatusConflict, "already_registered")

	s.at(150)
	s.expectError(http.MethodPost, pollPath+"/candidates", "authority", votinghttp.AddCandidateRequest{Name: "C"},
		http.StatusUnprocessableEntity, "poll_already_started")

	var vote votinghttp.CastVoteResponse
	if status := s.do(http.MethodPost, pollPath+"/votes", "voter-v", votinghttp.CastVoteRequest{CandidateID: first.CandidateID}, &vote); status != http.StatusOK {
		t.Fatalf("cast vote: expected 200, got %d", status)
	}
	if !vote.Registration.HasVoted || vote.Candidate.VoteCount != 1 {
		t.Fatalf("unexpected vote response: %+v", vote)
	}
	s.expectError(http.MethodPost, pollPath+"/votes", "voter-v", votinghttp.CastVoteRequest{CandidateID: second.CandidateID},
		http.StatusConflict, "already_voted")
	s.expectError(http.MethodPost, pollPath+"/votes", "voter-w", votinghttp.CastVoteRequest{CandidateID: first.CandidateID},
		http.StatusNotFound, "not_registered")

	s.at(250)
	s.expectError(http.MethodPost, pollPath+"/registrations", "voter-x", nil, http.StatusUnprocessableEntity, "poll_closed")

	var results votinghttp.ResultsResponse
	if status := s.do(http.MethodGet, pollPath+"/candidates", "", nil, &results); status != http.StatusOK {
		t.Fatalf("results: expected 200, got %d", status)
	}
	if results.TotalVotes != 1 || len(results.Items) != 2 || results.Items[0].Name != "A" {
		t.Fatalf("unexpected results: %+v", results)
	}

	var registration votinghttp.RegistrationResponse
	if status := s.do(http.MethodGet, pollPath+"/registrations/voter-v", "", nil, &registration); status != http.StatusOK {
		t.Fatalf("get registration: expected 200, got %d", status)
	}
	if registration.State != "voted" || registration.VotedFor == nil || *registration.VotedFor != first.CandidateID {
		t.Fatalf("unexpected registration: %+v", registration)
	}

	var audit votinghttp.PollAuditResponse
	if status := s.do(http.MethodGet, pollPath+"/audit", "", nil, &audit); status != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", status)
	}
	if !audit.Consistent {
		t.Fatalf("expected consistent poll, got violations %v", audit.Violations)
	}

	var voter votinghttp.VoterResponse
	if status := s.do(http.MethodGet, "/v1/voters/voter-v", "", nil, &voter); status != http.StatusOK {
		t.Fatalf("get voter: expected 200, got %d", status)
	}
	if len(voter.VotedPolls) != 1 || voter.VotedPolls[0] != poll.PollID {
		t.Fatalf("unexpected voter: %+v", voter)
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, Options{})
	s.expectError(http.MethodPost, "/v1/polls", "", votinghttp.CreatePollRequest{}, http.StatusUnauthorized, "missing_user")
	s.expectError(http.MethodGet, "/v1/polls/abc", "", nil, http.StatusBadRequest, "invalid_poll_id")
	s.expectError(http.MethodGet, "/v1/polls/42", "", nil, http.StatusNotFound, "poll_not_found")
	s.expectError(http.MethodPost, "/v1/polls", "authority", votinghttp.CreatePollRequest{
		Description: "Inverted",
		StartTime:   200,
		EndTime:     100,
	}, http.StatusBadRequest, "invalid_time_range")
	s.expectError(http.MethodPost, "/v1/polls", "authority", votinghttp.CreatePollRequest{
		Description: "No counter yet",
		StartTime:   100,
		EndTime:     200,
	}, http.StatusServiceUnavailable, "counter_not_initialized")

	req, err := http.NewRequest(http.MethodPost, s.http.URL+"/v1/polls", bytes.NewBufferString(`{"unknown":1}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-User-Id", "authority")
	resp, err := s.http.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", resp.StatusCode)
	}
}

func TestOnlyPollAuthorityAddsCandidates(t *testing.T) {
	s := newTestServer(t, Options{})
	s.at(50)
	s.do(http.MethodPost, "/v1/program/initialize", "", nil, nil)

	var poll votinghttp.PollResponse
	if status := s.do(http.MethodPost, "/v1/polls", "authority", votinghttp.CreatePollRequest{
		Description: "Lunch",
		StartTime:   100,
		EndTime:     200,
	}, &poll); status != http.StatusCreated {
		t.Fatalf("create poll: expected 201, got %d", status)
	}
	candidatesPath := "/v1/polls/" + strconv.FormatUint(poll.PollID, 10) + "/candidates"

	s.expectError(http.MethodPost, candidatesPath, "", votinghttp.AddCandidateRequest{Name: "A"},
		http.StatusUnauthorized, "missing_user")
	s.expectError(http.MethodPost, candidatesPath, "mallory", votinghttp.AddCandidateRequest{Name: "A"},
		http.StatusForbidden, "unauthorized")

	var results votinghttp.ResultsResponse
	s.do(http.MethodGet, candidatesPath, "", nil, &results)
	if len(results.Items) != 0 {
		t.Fatalf("rejected adds must not create candidates, got %+v", results.Items)
	}
}

func TestCreatePollReplaysIdempotencyKey(t *testing.T) {
	s := newTestServer(t, Options{})
	s.at(50)
	s.do(http.MethodPost, "/v1/program/initialize", "", nil, nil)

	post := func() (int, votinghttp.PollResponse) {
		raw, _ := json.Marshal(votinghttp.CreatePollRequest{Description: "Lunch", StartTime: 100, EndTime: 200})
		req, err := http.NewRequest(http.MethodPost, s.http.URL+"/v1/polls", bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("X-User-Id", "authority")
		req.Header.Set("Idempotency-Key", "lunch-1")
		resp, err := s.http.Client().Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var poll votinghttp.PollResponse
		if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.StatusCode, poll
	}

	status, created := post()
	if status != http.StatusCreated || created.Replayed {
		t.Fatalf("expected fresh create, got %d %+v", status, created)
	}
	status, replayed := post()
	if status != http.StatusOK || !replayed.Replayed || replayed.PollID != created.PollID {
		t.Fatalf("expected replay of poll %d, got %d %+v", created.PollID, status, replayed)
	}

	var list votinghttp.ListPollsResponse
	s.do(http.MethodGet, "/v1/polls", "", nil, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected one poll, got %d", len(list.Items))
	}
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	s := newTestServer(t, Options{RateLimitPerSecond: 0.001, RateLimitBurst: 1})
	s.do(http.MethodPost, "/v1/program/initialize", "caller", nil, nil)
	s.expectError(http.MethodPost, "/v1/program/initialize", "caller", nil, http.StatusTooManyRequests, "rate_limited")

	if status := s.do(http.MethodGet, "/v1/polls", "caller", nil, nil); status != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", status)
	}
}

func TestRateLimitFollowsClientAddressAcrossCallers(t *testing.T) {
	s := newTestServer(t, Options{RateLimitPerSecond: 0.001, RateLimitBurst: 1})
	s.do(http.MethodPost, "/v1/program/initialize", "caller-1", nil, nil)
	s.expectError(http.MethodPost, "/v1/program/initialize", "caller-2", nil, http.StatusTooManyRequests, "rate_limited")
	s.expectError(http.MethodPost, "/v1/program/initialize", "", nil, http.StatusTooManyRequests, "rate_limited")
}

func TestCallerLimiterReturnsTokensWhenDenied(t *testing.T) {
	limiter := newCallerLimiter(0.001, 1)
	now := time.Unix(1000, 0)
	if !limiter.allow([]string{"user:b"}, now) {
		t.Fatalf("first request for user b must pass")
	}
	if limiter.allow([]string{"ip:10.0.0.1", "user:b"}, now) {
		t.Fatalf("exhausted user bucket must deny the request")
	}
	if !limiter.allow([]string{"ip:10.0.0.1", "user:c"}, now) {
		t.Fatalf("denied request must not consume the address bucket")
	}
}

func TestOperationalEndpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "votingdapp_test_total"})
	registry.MustRegister(counter)
	counter.Inc()
	s := newTestServer(t, Options{Gatherer: registry})

	if status := s.do(http.MethodGet, "/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", status)
	}

	resp, err := s.http.Client().Get(s.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(body, []byte("votingdapp_test_total 1")) {
		t.Fatalf("expected registered metric in output, got %s", body)
	}

	resp, err = s.http.Client().Get(s.http.URL + "/swagger/doc.json")
	if err != nil {
		t.Fatalf("swagger: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("/v1/polls/{poll_id}/votes")) {
		t.Fatalf("expected swagger document, got %d", resp.StatusCode)
	}
}
