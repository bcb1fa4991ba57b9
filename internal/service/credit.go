package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/buildhive/buildhive/internal/domain/credit"
	"github.com/buildhive/buildhive/internal/domain/settings"
	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/domain/user"
	"github.com/buildhive/buildhive/internal/port/cache"
	"github.com/buildhive/buildhive/internal/port/database"
)

// Setting keys and defaults for token-to-credit conversion. Rates are
// configuration owned by the settings store, not hard-coded here.
const (
	settingChatRate    = "credits_per_1k_tokens_chat"
	settingProjectRate = "credits_per_1k_tokens_project"

	defaultChatRate    = 0.5
	defaultProjectRate = 1.0

	ratesCacheKey = "credit:rates"
)

// defaultTaskTokens is assumed for tasks missing a token estimate.
const defaultTaskTokens = 500

type rates struct {
	Chat    float64 `json:"chat"`
	Project float64 `json:"project"`
}

// CreditService owns all money-equivalent arithmetic and balance mutation.
// Balance decrements are delegated to the store, which performs the check
// and decrement as one atomic unit per user.
type CreditService struct {
	store    database.Store
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewCreditService creates a CreditService. cache may be nil to disable
// settings caching.
func NewCreditService(store database.Store, c cache.Cache, cacheTTL time.Duration) *CreditService {
	return &CreditService{store: store, cache: c, cacheTTL: cacheTTL}
}

// rates loads the conversion rates from the settings store, via the cache.
func (s *CreditService) rates(ctx context.Context) (rates, error) {
	r := rates{Chat: defaultChatRate, Project: defaultProjectRate}

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, ratesCacheKey); err == nil && ok {
			if err := json.Unmarshal(data, &r); err == nil {
				return r, nil
			}
		}
	}

	all, err := s.store.ListSettings(ctx)
	if err != nil {
		return r, fmt.Errorf("load credit settings: %w", err)
	}
	r.Chat = settings.Number(all, settingChatRate, defaultChatRate)
	r.Project = settings.Number(all, settingProjectRate, defaultProjectRate)

	if s.cache != nil {
		if data, err := json.Marshal(r); err == nil {
			_ = s.cache.Set(ctx, ratesCacheKey, data, s.cacheTTL)
		}
	}
	return r, nil
}

// Calculate converts token usage into credits at the tier's configured rate,
// rounded to 4 decimal places.
func (s *CreditService) Calculate(ctx context.Context, tokens int, tier credit.Tier) (float64, error) {
	r, err := s.rates(ctx)
	if err != nil {
		return 0, err
	}
	rate := r.Chat
	if tier == credit.TierProject {
		rate = r.Project
	}
	return credit.Round4(float64(tokens) / 1000 * rate), nil
}

// ShouldCharge reports whether credits apply to this user: false when the
// account has credits disabled or the user has an active personal provider
// credential configured (the own-key exemption).
func (s *CreditService) ShouldCharge(ctx context.Context, u *user.User) (bool, error) {
	if !u.CreditsEnabled {
		return false, nil
	}
	ownKey, err := s.store.HasActiveProviderKey(ctx, u.ID)
	if err != nil {
		return false, fmt.Errorf("check provider key: %w", err)
	}
	return !ownKey, nil
}

// EstimateJob prices a task list against the user's balance at the project
// rate. Each task's EstimatedCredits is filled in on the returned slice.
// Exempt users get a zero estimate with FreeUsage set and no balance check.
func (s *CreditService) EstimateJob(ctx context.Context, tasks []task.Task, u *user.User) ([]task.Task, *credit.Estimate, error) {
	charge, err := s.ShouldCharge(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	if !charge {
		msg := "Using your own API key - no credits charged"
		if !u.CreditsEnabled {
			msg = "Credits disabled for your account"
		}
		return tasks, &credit.Estimate{FreeUsage: true, Message: msg}, nil
	}

	r, err := s.rates(ctx)
	if err != nil {
		return nil, nil, err
	}

	est := &credit.Estimate{UserCredits: u.Credits}
	var total float64
	for i := range tasks {
		tokens := tasks[i].EstimatedTokens
		if tokens <= 0 {
			tokens = defaultTaskTokens
			tasks[i].EstimatedTokens = tokens
		}
		credits := credit.Round4(float64(tokens) / 1000 * r.Project)
		tasks[i].EstimatedCredits = credits
		total += credits
		est.TotalTokens += tokens
		est.Breakdown = append(est.Breakdown, credit.TaskEstimate{
			TaskID:           tasks[i].ID,
			Title:            tasks[i].Title,
			Agent:            tasks[i].AgentType,
			EstimatedTokens:  tokens,
			EstimatedCredits: credits,
		})
	}
	est.TotalCredits = credit.Round2(total)
	est.Sufficient = u.Credits >= total
	return tasks, est, nil
}

// RemainingCost estimates the cost of the still-pending tail of a task list
// at the project rate.
func (s *CreditService) RemainingCost(ctx context.Context, tasks []task.Task) (float64, error) {
	tokens := 0
	for i := range tasks {
		t := tasks[i].EstimatedTokens
		if t <= 0 {
			t = defaultTaskTokens
		}
		tokens += t
	}
	return s.Calculate(ctx, tokens, credit.TierProject)
}

// Deduct removes amount from the user's balance and appends a ledger entry.
// Exempt users are not charged. A deduction that would drive the balance
// negative is rejected with *credit.InsufficientError, never clamped.
func (s *CreditService) Deduct(ctx context.Context, userID string, amount float64, reason, refType, refID string) (float64, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}

	charge, err := s.ShouldCharge(ctx, u)
	if err != nil {
		return 0, err
	}
	if !charge {
		return u.Credits, nil
	}

	balance, err := s.store.DeductUserCredits(ctx, userID, amount)
	if err != nil {
		return 0, err
	}

	s.appendLedger(ctx, userID, -amount, reason, refType, refID, balance)

	slog.Info("credits deducted", "user_id", userID, "amount", amount, "balance", balance, "reason", reason)
	return balance, nil
}

// Add credits the user's balance (purchase, refund, top-up). It always
// succeeds for an existing user and always appends a ledger entry.
func (s *CreditService) Add(ctx context.Context, userID string, amount float64, reason, refType, refID string) (float64, error) {
	balance, err := s.store.AddUserCredits(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}

	s.appendLedger(ctx, userID, amount, reason, refType, refID, balance)

	slog.Info("credits added", "user_id", userID, "amount", amount, "balance", balance, "reason", reason)
	return balance, nil
}

// History returns the user's most recent ledger entries.
func (s *CreditService) History(ctx context.Context, userID string, limit int) ([]credit.LedgerEntry, error) {
	return s.store.ListLedgerEntries(ctx, userID, limit)
}

func (s *CreditService) appendLedger(ctx context.Context, userID string, delta float64, reason, refType, refID string, balance float64) {
	entry := &credit.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Delta:         delta,
		Reason:        reason,
		ReferenceType: refType,
		ReferenceID:   refID,
		BalanceAfter:  balance,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.AppendLedgerEntry(ctx, entry); err != nil {
		slog.Error("append ledger entry", "user_id", userID, "delta", delta, "error", err)
	}
}
