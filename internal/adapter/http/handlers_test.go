package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/buildhive/buildhive/internal/adapter/ws"
	"github.com/buildhive/buildhive/internal/agent"
	"github.com/buildhive/buildhive/internal/config"
	"github.com/buildhive/buildhive/internal/domain"
	"github.com/buildhive/buildhive/internal/domain/credit"
	"github.com/buildhive/buildhive/internal/domain/job"
	"github.com/buildhive/buildhive/internal/domain/project"
	"github.com/buildhive/buildhive/internal/domain/settings"
	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/domain/user"
	"github.com/buildhive/buildhive/internal/port/llm"
	"github.com/buildhive/buildhive/internal/service"
)

// fakeStore is an in-memory store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*user.User
	jobs     map[string]*job.Job
	projects map[string]*project.Project
	ledger   []credit.LedgerEntry
	settings []settings.Setting
	ownKey   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*user.User),
		jobs:     make(map[string]*job.Job),
		projects: make(map[string]*project.Project),
		ownKey:   make(map[string]bool),
	}
}

func (f *fakeStore) CreateJob(_ context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) GetUserJob(ctx context.Context, id, userID string) (*job.Job, error) {
	j, err := f.GetJob(ctx, id)
	if err != nil || j.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeStore) ListJobsByUser(_ context.Context, userID string, limit int) ([]job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []job.Job
	for _, j := range f.jobs {
		if j.UserID == userID && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkJobPlanned(_ context.Context, id string, tasks []task.Task, totalEstimated float64, plannerOutput string, plannerMeta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = job.StatusAwaitingApproval
	j.Tasks = tasks
	j.TotalEstimatedCredits = totalEstimated
	j.PlannerOutput = plannerOutput
	j.PlannerMetadata = plannerMeta
	return nil
}

func (f *fakeStore) MarkJobApproved(_ context.Context, id string, tasks []task.Task, totalEstimated float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = job.StatusApproved
	j.Tasks = tasks
	j.TotalEstimatedCredits = totalEstimated
	j.CreditsApproved = totalEstimated
	j.CurrentTaskIndex = 0
	return nil
}

func (f *fakeStore) MarkJobStarted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Status = job.StatusInProgress
	return nil
}

func (f *fakeStore) MarkJobPaused(_ context.Context, id string, cursor int, creditsNeeded float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = job.StatusNeedsMoreCredits
	j.CurrentTaskIndex = cursor
	j.CreditsNeeded = creditsNeeded
	return nil
}

func (f *fakeStore) MarkJobCompleted(_ context.Context, id string, creditsUsed float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = job.StatusCompleted
	j.CreditsUsed = creditsUsed
	return nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, id string, status job.Status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.Error = errMsg
	return nil
}

func (f *fakeStore) UpdateJobTask(_ context.Context, id string, index int, t task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Tasks[index] = t
	if (t.Status == task.StatusCompleted || t.Status == task.StatusFailed) && index+1 > j.CurrentTaskIndex {
		j.CurrentTaskIndex = index + 1
	}
	return nil
}

func (f *fakeStore) UpdateJobErrorCount(_ context.Context, id string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].ErrorCount = count
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UserCredits(_ context.Context, id string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return u.Credits, nil
}

func (f *fakeStore) DeductUserCredits(_ context.Context, id string, amount float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if u.Credits < amount {
		return 0, &credit.InsufficientError{Required: amount, Available: u.Credits}
	}
	u.Credits -= amount
	return u.Credits, nil
}

func (f *fakeStore) AddUserCredits(_ context.Context, id string, amount float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	u.Credits += amount
	return u.Credits, nil
}

func (f *fakeStore) HasActiveProviderKey(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownKey[userID], nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProjectFiles(_ context.Context, _ string, _ int) ([]project.File, error) {
	return nil, nil
}

func (f *fakeStore) UpsertProjectFile(_ context.Context, _, _, _ string) error { return nil }

func (f *fakeStore) AppendLedgerEntry(_ context.Context, e *credit.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledger = append(f.ledger, *e)
	return nil
}

func (f *fakeStore) ListLedgerEntries(_ context.Context, userID string, limit int) ([]credit.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []credit.LedgerEntry
	for i := len(f.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if f.ledger[i].UserID == userID {
			out = append(out, f.ledger[i])
		}
	}
	return out, nil
}

func (f *fakeStore) ListSettings(_ context.Context) ([]settings.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

// stubGenerator satisfies the generator port for handlers that never reach it.
type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string, string, int) (*llm.Response, error) {
	return &llm.Response{Content: "ok", TokensUsed: 10}, nil
}

func (stubGenerator) GenerateStream(context.Context, string, string, int) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, store *fakeStore) *httptest.Server {
	t.Helper()

	jobsCfg := config.Defaults().Jobs
	credits := service.NewCreditService(store, nil, 0)
	orch := service.NewOrchestratorService(store, credits, agent.NewRegistry(1024), stubGenerator{}, nil, nil, &jobsCfg)
	h := NewHandlers(orch, credits, store, ws.NewHub())

	r := chi.NewRouter()
	MountRoutes(r, h, store)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, userID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

func seedUser(store *fakeStore, id string, credits float64) {
	store.users[id] = &user.User{ID: id, Email: id + "@example.com", Credits: credits, CreditsEnabled: true}
}

func TestMissingUserHeader(t *testing.T) {
	srv := newTestServer(t, newFakeStore())

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestUnknownUser(t *testing.T) {
	srv := newTestServer(t, newFakeStore())

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs", "ghost", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGetJob(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 10)
	store.jobs["j1"] = &job.Job{ID: "j1", UserID: "u1", Status: job.StatusAwaitingApproval}
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs/j1", "u1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["id"] != "j1" || body["status"] != "awaiting_approval" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 10)
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs/missing", "u1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetJobOtherUsersJobHidden(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 10)
	seedUser(store, "u2", 10)
	store.jobs["j1"] = &job.Job{ID: "j1", UserID: "u2", Status: job.StatusCompleted}
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs/j1", "u1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateJobMissingPrompt(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 10)
	store.projects["p1"] = &project.Project{ID: "p1", UserID: "u1", Name: "demo"}
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/projects/p1/jobs", "u1", `{"prompt":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateJobForeignProject(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 10)
	store.projects["p1"] = &project.Project{ID: "p1", UserID: "someone-else"}
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/projects/p1/jobs", "u1", `{"prompt":"build it"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestApproveJobInsufficientCredits(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 1.0)
	store.jobs["j1"] = &job.Job{
		ID:     "j1",
		UserID: "u1",
		Status: job.StatusAwaitingApproval,
		Tasks: []task.Task{
			{ID: "t1", Title: "build", AgentType: task.AgentDeveloper, EstimatedTokens: 1500},
		},
	}
	srv := newTestServer(t, store)

	// 1500 tokens at the default project rate of 1.0/1k = 1.5 credits > 1.0.
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/jobs/j1/approve", "u1", "{}")
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["required_credits"].(float64) != 1.5 {
		t.Errorf("required_credits = %v, want 1.5", body["required_credits"])
	}
	if body["available_credits"].(float64) != 1.0 {
		t.Errorf("available_credits = %v, want 1.0", body["available_credits"])
	}
}

func TestApproveJobWrongState(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 100)
	store.jobs["j1"] = &job.Job{ID: "j1", UserID: "u1", Status: job.StatusCompleted}
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/jobs/j1/approve", "u1", "{}")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestApproveJob(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 100)
	store.jobs["j1"] = &job.Job{
		ID:     "j1",
		UserID: "u1",
		Status: job.StatusAwaitingApproval,
		Tasks: []task.Task{
			{ID: "t1", Title: "build", AgentType: task.AgentDeveloper, EstimatedTokens: 1000},
		},
	}
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/jobs/j1/approve", "u1", "{}")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "approved" {
		t.Errorf("status = %v, want approved", body["status"])
	}
	if body["current_task_index"].(float64) != 0 {
		t.Errorf("current_task_index = %v, want 0", body["current_task_index"])
	}
}

func TestContinueJobDecline(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 0)
	store.jobs["j1"] = &job.Job{ID: "j1", UserID: "u1", Status: job.StatusNeedsMoreCredits}
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/jobs/j1/continue", "u1", `{"approved":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "cancelled" {
		t.Errorf("status = %v, want cancelled", body["status"])
	}
}

func TestGetCredits(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 42.5)
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/credits", "u1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["balance"].(float64) != 42.5 {
		t.Errorf("balance = %v, want 42.5", body["balance"])
	}
}

func TestAddCredits(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 10)
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/credits/add", "u1", `{"amount":25}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["balance"].(float64) != 35 {
		t.Errorf("balance = %v, want 35", body["balance"])
	}
	if len(store.ledger) != 1 || store.ledger[0].Delta != 25 {
		t.Errorf("ledger = %+v, want one entry with delta 25", store.ledger)
	}
}

func TestAddCreditsRejectsNonPositive(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "u1", 10)
	srv := newTestServer(t, store)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/credits/add", "u1", `{"amount":-5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthNoAuth(t *testing.T) {
	srv := newTestServer(t, newFakeStore())

	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
