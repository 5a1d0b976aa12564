package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nowwhat/placeagent/internal/agent"
	"github.com/nowwhat/placeagent/internal/budget"
	"github.com/nowwhat/placeagent/internal/capability"
)

type fixedOracle struct {
	result map[string]interface{}
	err    error
}

func (o *fixedOracle) Decide(_ context.Context, _ *agent.Session, _, _ int, _ time.Time) (agent.Decision, agent.TokenUsage, error) {
	if o.err != nil {
		return agent.Decision{}, agent.TokenUsage{}, o.err
	}
	return agent.Decision{Terminate: true, Result: o.result}, agent.TokenUsage{}, nil
}

type fixedEvaluator struct {
	eval agent.QueryEvaluation
	err  error
}

func (e *fixedEvaluator) EvaluateQuery(_ context.Context, _ string) (agent.QueryEvaluation, agent.TokenUsage, error) {
	return e.eval, agent.TokenUsage{}, e.err
}

func newTestServer(t *testing.T, oracle agent.DecisionOracle, evaluator QueryEvaluator, secret string) *Server {
	t.Helper()
	dispatcher := capability.NewDispatcher(capability.NewRegistry(), nil, 0, time.Second, nil, nil)
	loop, err := agent.NewLoop(dispatcher, oracle, budget.Config{
		MaxCalls: 20, Timeout: time.Minute, MaxEntities: 30, CallTimeout: time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return New(loop, evaluator, secret, nil)
}

func doJSON(e http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fixedOracle{}, nil, "")
	rec := doJSON(srv.Echo(), http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
}

func TestOrchestrateHappyPath(t *testing.T) {
	oracle := &fixedOracle{result: map[string]interface{}{"summary": "done"}}
	srv := newTestServer(t, oracle, nil, "")

	rec := doJSON(srv.Echo(), http.MethodPost, "/api/v1/orchestrate", `{"query":"cafes in gangnam"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["termination_reason"] != "explicit" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["query"] != "cafes in gangnam" {
		t.Fatalf("query not echoed: %v", payload["query"])
	}
}

func TestOrchestrateRequiresQuery(t *testing.T) {
	srv := newTestServer(t, &fixedOracle{}, nil, "")
	rec := doJSON(srv.Echo(), http.MethodPost, "/api/v1/orchestrate", `{}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrchestrateOracleFailure(t *testing.T) {
	srv := newTestServer(t, &fixedOracle{err: fmt.Errorf("oracle down")}, nil, "")
	rec := doJSON(srv.Echo(), http.MethodPost, "/api/v1/orchestrate", `{"query":"x"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error must be structured JSON: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("missing error message")
	}
}

func TestOrchestrateRewritesQuery(t *testing.T) {
	evaluator := &fixedEvaluator{eval: agent.QueryEvaluation{
		Valid:     true,
		Location:  "강남",
		Rewritten: "강남 카페",
	}}
	srv := newTestServer(t, &fixedOracle{}, evaluator, "")

	rec := doJSON(srv.Echo(), http.MethodPost, "/api/v1/orchestrate", `{"query":"강남에서 갈만한 카페 알려줘"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload["query"] != "강남 카페" {
		t.Fatalf("query not rewritten: %v", payload["query"])
	}
}

func TestOrchestrateRejectsInvalidQuery(t *testing.T) {
	evaluator := &fixedEvaluator{eval: agent.QueryEvaluation{Valid: false}}
	srv := newTestServer(t, &fixedOracle{}, evaluator, "")

	rec := doJSON(srv.Echo(), http.MethodPost, "/api/v1/orchestrate", `{"query":"what is the meaning of life"}`, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestOrchestrateEvaluatorFailureIsAdvisory(t *testing.T) {
	evaluator := &fixedEvaluator{err: fmt.Errorf("llm down")}
	srv := newTestServer(t, &fixedOracle{}, evaluator, "")

	rec := doJSON(srv.Echo(), http.MethodPost, "/api/v1/orchestrate", `{"query":"cafes"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluator outage must not block the session, got %d", rec.Code)
	}
}

func TestAuthGuardsAPI(t *testing.T) {
	srv := newTestServer(t, &fixedOracle{}, nil, "test-secret")
	e := srv.Echo()

	rec := doJSON(e, http.MethodPost, "/api/v1/orchestrate", `{"query":"x"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := IssueToken([]byte("test-secret"), "tester", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec = doJSON(e, http.MethodPost, "/api/v1/orchestrate", `{"query":"x"}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}

	bad, _ := IssueToken([]byte("other-secret"), "tester", time.Minute)
	rec = doJSON(e, http.MethodPost, "/api/v1/orchestrate", `{"query":"x"}`, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rec.Code)
	}

	// Health and metrics stay open.
	rec = doJSON(e, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must not require auth, got %d", rec.Code)
	}
}
