package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/queue"
	"github.com/shaiso/Tribunal/internal/repo"
)

// --- Store fakes ---

type fakeDefStore struct {
	def *domain.WorkflowDefinition
	err error
}

func (s *fakeDefStore) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	return s.err
}

func (s *fakeDefStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	return s.get()
}

func (s *fakeDefStore) GetLatest(ctx context.Context, caseType domain.CaseType) (*domain.WorkflowDefinition, error) {
	return s.get()
}

func (s *fakeDefStore) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	return nil, s.err
}

func (s *fakeDefStore) get() (*domain.WorkflowDefinition, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.def == nil {
		return nil, repo.ErrNotFound
	}
	return s.def, nil
}

type fakeCaseStore struct {
	createErr error
}

func (s *fakeCaseStore) Create(ctx context.Context, c *domain.Case) error {
	return s.createErr
}

func (s *fakeCaseStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error) {
	return nil, repo.ErrNotFound
}

func (s *fakeCaseStore) List(ctx context.Context, filter repo.CaseFilter) ([]domain.Case, error) {
	return nil, nil
}

func (s *fakeCaseStore) ListTransitions(ctx context.Context, caseID uuid.UUID) ([]domain.StateTransition, error) {
	return nil, nil
}

type fakeInstStore struct {
	createErr error
}

func (s *fakeInstStore) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	return s.createErr
}

func (s *fakeInstStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	return nil, repo.ErrNotFound
}

func (s *fakeInstStore) GetByCaseID(ctx context.Context, caseID uuid.UUID) (*domain.WorkflowInstance, error) {
	return nil, repo.ErrNotFound
}

func testWorkflowDefinition() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:       uuid.New(),
		CaseType: domain.CaseTypeCIFailure,
		Version:  1,
		Spec: domain.WorkflowSpec{
			Steps: []domain.StepSpec{{ID: "classify", Capability: "ci-log-parse"}},
		},
	}
}

func newTestHandler(t *testing.T) (*Handler, *queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.New(client, queue.Config{KeyPrefix: "test"}, slog.Default())
	h := NewHandler(Config{Queue: q, Logger: slog.Default()})
	return h, q
}

func serve(h *Handler) *httptest.Server {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func TestSubmitCase_InvalidBody(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/cases", "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitCase_MissingType(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/cases", "application/json", strings.NewReader(`{"payload":{}}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != ErrCodeBadRequest {
		t.Errorf("expected BAD_REQUEST, got %s", body.Error.Code)
	}
}

func TestSubmitCase_InvalidPriority(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/cases", "application/json",
		strings.NewReader(`{"type":"ci_failure","priority":"urgent"}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitCase_QueueUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := NewHandler(Config{
		CaseRepo: &fakeCaseStore{},
		DefRepo:  &fakeDefStore{def: testWorkflowDefinition()},
		InstRepo: &fakeInstStore{},
		Queue:    queue.New(client, queue.Config{KeyPrefix: "test"}, slog.Default()),
		Logger:   slog.Default(),
	})
	srv := serve(h)
	defer srv.Close()

	// Redis недоступен — submit должен ответить 503, а не 500
	mr.Close()

	resp, err := http.Post(srv.URL+"/api/v1/cases", "application/json",
		strings.NewReader(`{"type":"ci_failure","payload":{}}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != ErrCodeUnavailable {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %s", body.Error.Code)
	}
}

func TestSubmitCase_StoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := NewHandler(Config{
		CaseRepo: &fakeCaseStore{createErr: errors.New("failed to connect to database")},
		DefRepo:  &fakeDefStore{def: testWorkflowDefinition()},
		InstRepo: &fakeInstStore{},
		Queue:    queue.New(client, queue.Config{KeyPrefix: "test"}, slog.Default()),
		Logger:   slog.Default(),
	})
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/cases", "application/json",
		strings.NewReader(`{"type":"ci_failure","payload":{}}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestQueueStats(t *testing.T) {
	h, q := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	task := &domain.Task{
		ID:         uuid.New(),
		InstanceID: uuid.New(),
		CaseID:     uuid.New(),
		StepID:     "s1",
		Capability: "classify",
		Priority:   domain.PriorityHigh,
		EnqueuedAt: time.Now(),
	}
	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/queue/stats")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Data QueueStatsResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Depth["high"] != 1 {
		t.Errorf("expected high depth 1, got %d", body.Data.Depth["high"])
	}
	if body.Data.Total != 1 {
		t.Errorf("expected total 1, got %d", body.Data.Total)
	}
}

func TestListDeadLetters_Empty(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/queue/deadletters")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReplayDeadLetter_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/queue/deadletters/"+uuid.NewString()+"/replay", "application/json", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCorrelationID_Assigned(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/queue/stats")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get(HeaderCorrelationID) == "" {
		t.Error("correlation id header should be set")
	}
}

func TestCorrelationID_Preserved(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := serve(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/queue/stats", nil)
	req.Header.Set(HeaderCorrelationID, "my-trace-42")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get(HeaderCorrelationID); got != "my-trace-42" {
		t.Errorf("expected my-trace-42, got %q", got)
	}
}
