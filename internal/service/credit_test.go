package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/buildhive/buildhive/internal/domain"
	"github.com/buildhive/buildhive/internal/domain/credit"
	"github.com/buildhive/buildhive/internal/domain/job"
	"github.com/buildhive/buildhive/internal/domain/project"
	"github.com/buildhive/buildhive/internal/domain/settings"
	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/domain/user"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu       sync.Mutex
	users    map[string]*user.User
	jobs     map[string]*job.Job
	projects map[string]*project.Project
	files    map[string]map[string]string // projectID -> path -> content
	ledger   []credit.LedgerEntry
	settings []settings.Setting
	ownKey   map[string]bool

	settingsCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		users:    make(map[string]*user.User),
		jobs:     make(map[string]*job.Job),
		projects: make(map[string]*project.Project),
		files:    make(map[string]map[string]string),
		ownKey:   make(map[string]bool),
	}
}

func (m *mockStore) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	cp.Tasks = append([]task.Task(nil), j.Tasks...)
	m.jobs[j.ID] = &cp
	return nil
}

func (m *mockStore) GetJob(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	cp.Tasks = append([]task.Task(nil), j.Tasks...)
	return &cp, nil
}

func (m *mockStore) GetUserJob(ctx context.Context, id, userID string) (*job.Job, error) {
	j, err := m.GetJob(ctx, id)
	if err != nil || j.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (m *mockStore) ListJobsByUser(_ context.Context, userID string, limit int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.Job
	for _, j := range m.jobs {
		if j.UserID == userID && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *mockStore) MarkJobPlanned(_ context.Context, id string, tasks []task.Task, totalEstimated float64, plannerOutput string, plannerMeta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = job.StatusAwaitingApproval
	j.Tasks = tasks
	j.TotalEstimatedCredits = totalEstimated
	j.PlannerOutput = plannerOutput
	j.PlannerMetadata = plannerMeta
	return nil
}

func (m *mockStore) MarkJobApproved(_ context.Context, id string, tasks []task.Task, totalEstimated float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = job.StatusApproved
	j.Tasks = tasks
	j.TotalEstimatedCredits = totalEstimated
	j.CreditsApproved = totalEstimated
	j.CurrentTaskIndex = 0
	return nil
}

func (m *mockStore) MarkJobStarted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = job.StatusInProgress
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	return nil
}

func (m *mockStore) MarkJobPaused(_ context.Context, id string, cursor int, creditsNeeded float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = job.StatusNeedsMoreCredits
	j.CurrentTaskIndex = cursor
	j.CreditsNeeded = creditsNeeded
	return nil
}

func (m *mockStore) MarkJobCompleted(_ context.Context, id string, creditsUsed float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = job.StatusCompleted
	j.CreditsUsed = creditsUsed
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (m *mockStore) UpdateJobStatus(_ context.Context, id string, status job.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.Error = errMsg
	return nil
}

func (m *mockStore) UpdateJobTask(_ context.Context, id string, index int, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Tasks[index] = t
	if (t.Status == task.StatusCompleted || t.Status == task.StatusFailed) && index+1 > j.CurrentTaskIndex {
		j.CurrentTaskIndex = index + 1
	}
	return nil
}

func (m *mockStore) UpdateJobErrorCount(_ context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.ErrorCount = count
	return nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockStore) UserCredits(_ context.Context, id string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return u.Credits, nil
}

func (m *mockStore) DeductUserCredits(_ context.Context, id string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if u.Credits < amount {
		return 0, &credit.InsufficientError{Required: amount, Available: u.Credits}
	}
	u.Credits -= amount
	return u.Credits, nil
}

func (m *mockStore) AddUserCredits(_ context.Context, id string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	u.Credits += amount
	return u.Credits, nil
}

func (m *mockStore) HasActiveProviderKey(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownKey[userID], nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) ListProjectFiles(_ context.Context, projectID string, limit int) ([]project.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []project.File
	for path, content := range m.files[projectID] {
		if len(out) >= limit {
			break
		}
		out = append(out, project.File{ProjectID: projectID, Path: path, Content: content})
	}
	return out, nil
}

func (m *mockStore) UpsertProjectFile(_ context.Context, projectID, path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[projectID] == nil {
		m.files[projectID] = make(map[string]string)
	}
	m.files[projectID][path] = content
	return nil
}

func (m *mockStore) AppendLedgerEntry(_ context.Context, e *credit.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, *e)
	return nil
}

func (m *mockStore) ListLedgerEntries(_ context.Context, userID string, limit int) ([]credit.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []credit.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

func (m *mockStore) ListSettings(_ context.Context) ([]settings.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingsCalls++
	return m.settings, nil
}

func (m *mockStore) ledgerEntries() []credit.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]credit.LedgerEntry(nil), m.ledger...)
}

func (m *mockStore) seedUser(id string, credits float64, enabled bool) {
	m.users[id] = &user.User{ID: id, Email: id + "@example.com", Credits: credits, CreditsEnabled: enabled}
}

// mockCache is a simple map-backed cache.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func TestCalculate(t *testing.T) {
	store := newMockStore()
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	tests := []struct {
		name   string
		tokens int
		tier   credit.Tier
		want   float64
	}{
		{"chat default rate", 1000, credit.TierChat, 0.5},
		{"project default rate", 1000, credit.TierProject, 1.0},
		{"rounds to 4 places", 1234, credit.TierChat, 0.617},
		{"zero tokens", 0, credit.TierProject, 0},
		{"small amount rounds", 1, credit.TierProject, 0.001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Calculate(ctx, tt.tokens, tt.tier)
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Calculate(%d, %s) = %v, want %v", tt.tokens, tt.tier, got, tt.want)
			}
		})
	}
}

func TestCalculateUsesConfiguredRates(t *testing.T) {
	store := newMockStore()
	store.settings = []settings.Setting{
		{Key: "credits_per_1k_tokens_chat", Value: "0.25", Type: settings.TypeNumber},
		{Key: "credits_per_1k_tokens_project", Value: "2.0", Type: settings.TypeNumber},
	}
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	got, err := svc.Calculate(ctx, 1000, credit.TierChat)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got != 0.25 {
		t.Errorf("chat rate = %v, want 0.25", got)
	}

	got, err = svc.Calculate(ctx, 1000, credit.TierProject)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got != 2.0 {
		t.Errorf("project rate = %v, want 2.0", got)
	}
}

func TestRatesCached(t *testing.T) {
	store := newMockStore()
	svc := NewCreditService(store, newMockCache(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Calculate(ctx, 1000, credit.TierChat); err != nil {
			t.Fatalf("Calculate: %v", err)
		}
	}

	if store.settingsCalls != 1 {
		t.Errorf("settings loaded %d times, want 1", store.settingsCalls)
	}
}

func TestEstimateJob(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 10, true)
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	tasks := []task.Task{
		{ID: "t1", Title: "design", AgentType: task.AgentPlanner, EstimatedTokens: 1000},
		{ID: "t2", Title: "build", AgentType: task.AgentDeveloper, EstimatedTokens: 2500},
		{ID: "t3", Title: "verify", AgentType: task.AgentVerifier}, // no estimate
	}

	u, _ := store.GetUser(ctx, "u1")
	priced, est, err := svc.EstimateJob(ctx, tasks, u)
	if err != nil {
		t.Fatalf("EstimateJob: %v", err)
	}

	if est.FreeUsage {
		t.Error("FreeUsage = true, want false")
	}
	if !est.Sufficient {
		t.Error("Sufficient = false, want true")
	}
	// 1.0 + 2.5 + 0.5 (default 500 tokens for the unestimated task)
	if est.TotalCredits != 4.0 {
		t.Errorf("TotalCredits = %v, want 4.0", est.TotalCredits)
	}
	if est.TotalTokens != 4000 {
		t.Errorf("TotalTokens = %v, want 4000", est.TotalTokens)
	}
	if len(est.Breakdown) != 3 {
		t.Fatalf("Breakdown has %d entries, want 3", len(est.Breakdown))
	}
	if priced[2].EstimatedTokens != 500 || priced[2].EstimatedCredits != 0.5 {
		t.Errorf("unestimated task priced as %d tokens / %v credits, want 500 / 0.5",
			priced[2].EstimatedTokens, priced[2].EstimatedCredits)
	}
}

func TestEstimateJobInsufficient(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 0.5, true)
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	u, _ := store.GetUser(ctx, "u1")
	_, est, err := svc.EstimateJob(ctx, []task.Task{{ID: "t1", EstimatedTokens: 1000}}, u)
	if err != nil {
		t.Fatalf("EstimateJob: %v", err)
	}
	if est.Sufficient {
		t.Error("Sufficient = true, want false")
	}
	if est.TotalCredits != 1.0 {
		t.Errorf("TotalCredits = %v, want 1.0", est.TotalCredits)
	}
}

func TestEstimateJobOwnKeyExemption(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 0, true)
	store.ownKey["u1"] = true
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	u, _ := store.GetUser(ctx, "u1")
	_, est, err := svc.EstimateJob(ctx, []task.Task{{ID: "t1", EstimatedTokens: 99999}}, u)
	if err != nil {
		t.Fatalf("EstimateJob: %v", err)
	}
	if !est.FreeUsage {
		t.Error("FreeUsage = false, want true")
	}
	if est.TotalCredits != 0 {
		t.Errorf("TotalCredits = %v, want 0", est.TotalCredits)
	}
	if est.Message != "Using your own API key - no credits charged" {
		t.Errorf("unexpected message: %q", est.Message)
	}
}

func TestEstimateJobCreditsDisabled(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 0, false)
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	u, _ := store.GetUser(ctx, "u1")
	_, est, err := svc.EstimateJob(ctx, []task.Task{{ID: "t1", EstimatedTokens: 1000}}, u)
	if err != nil {
		t.Fatalf("EstimateJob: %v", err)
	}
	if !est.FreeUsage {
		t.Error("FreeUsage = false, want true")
	}
	if est.Message != "Credits disabled for your account" {
		t.Errorf("unexpected message: %q", est.Message)
	}
}

func TestDeduct(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 10, true)
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	balance, err := svc.Deduct(ctx, "u1", 2.5, "Task: build", "job_task", "t1")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if balance != 7.5 {
		t.Errorf("balance = %v, want 7.5", balance)
	}

	entries := store.ledgerEntries()
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Delta != -2.5 || e.BalanceAfter != 7.5 || e.Reason != "Task: build" || e.ReferenceID != "t1" {
		t.Errorf("unexpected ledger entry: %+v", e)
	}
}

func TestDeductInsufficient(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 1, true)
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	_, err := svc.Deduct(ctx, "u1", 2, "Task: build", "job_task", "t1")
	if !errors.Is(err, credit.ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}

	var ie *credit.InsufficientError
	if !errors.As(err, &ie) {
		t.Fatal("err does not unwrap to *InsufficientError")
	}
	if ie.Required != 2 || ie.Available != 1 {
		t.Errorf("required/available = %v/%v, want 2/1", ie.Required, ie.Available)
	}

	// Balance untouched, no ledger entry written.
	if balance, _ := store.UserCredits(ctx, "u1"); balance != 1 {
		t.Errorf("balance = %v, want 1", balance)
	}
	if len(store.ledgerEntries()) != 0 {
		t.Error("ledger entry written for rejected deduction")
	}
}

func TestDeductExemptUser(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 5, true)
	store.ownKey["u1"] = true
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	balance, err := svc.Deduct(ctx, "u1", 3, "Task: build", "job_task", "t1")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if balance != 5 {
		t.Errorf("balance = %v, want 5 (unchanged)", balance)
	}
	if len(store.ledgerEntries()) != 0 {
		t.Error("ledger entry written for exempt user")
	}
}

func TestConcurrentDeductionsNeverNegative(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 5, true)
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Deduct(ctx, "u1", 1, "Task: parallel", "job_task", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Errorf("%d deductions succeeded, want 5", succeeded)
	}
	if balance, _ := store.UserCredits(ctx, "u1"); balance != 0 {
		t.Errorf("final balance = %v, want 0", balance)
	}
}

func TestAdd(t *testing.T) {
	store := newMockStore()
	store.seedUser("u1", 1, true)
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	balance, err := svc.Add(ctx, "u1", 24, "Credit purchase", "purchase", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if balance != 25 {
		t.Errorf("balance = %v, want 25", balance)
	}

	entries := store.ledgerEntries()
	if len(entries) != 1 || entries[0].Delta != 24 || entries[0].BalanceAfter != 25 {
		t.Errorf("unexpected ledger: %+v", entries)
	}
}

func TestRemainingCost(t *testing.T) {
	store := newMockStore()
	svc := NewCreditService(store, nil, 0)
	ctx := context.Background()

	got, err := svc.RemainingCost(ctx, []task.Task{
		{EstimatedTokens: 1000},
		{EstimatedTokens: 0}, // defaults to 500
	})
	if err != nil {
		t.Fatalf("RemainingCost: %v", err)
	}
	if got != 1.5 {
		t.Errorf("RemainingCost = %v, want 1.5", got)
	}
}
