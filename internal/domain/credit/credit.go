// Package credit defines domain types for credit metering and the balance ledger.
package credit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/buildhive/buildhive/internal/domain/task"
)

// Tier selects the conversion rate between tokens and credits.
type Tier string

const (
	TierChat    Tier = "chat"
	TierProject Tier = "project"
)

// ErrInsufficient is the sentinel for a deduction or approval that exceeds the
// available balance. Use errors.As against *InsufficientError for the amounts.
var ErrInsufficient = errors.New("insufficient credits")

// InsufficientError carries the required vs. available amounts for a rejected
// charge. It unwraps to ErrInsufficient.
type InsufficientError struct {
	Required  float64
	Available float64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: required %.4f, available %.4f", e.Required, e.Available)
}

func (e *InsufficientError) Unwrap() error { return ErrInsufficient }

// LedgerEntry is an append-only record of one balance change.
type LedgerEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Delta         float64   `json:"delta"`
	Reason        string    `json:"reason"`
	ReferenceType string    `json:"reference_type,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	BalanceAfter  float64   `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskEstimate is the per-task line of a job cost estimate.
type TaskEstimate struct {
	TaskID           string         `json:"task_id"`
	Title            string         `json:"title"`
	Agent            task.AgentType `json:"agent"`
	EstimatedTokens  int            `json:"estimated_tokens"`
	EstimatedCredits float64        `json:"estimated_credits"`
}

// Estimate is the result of pricing a job's task list against a user's balance.
// FreeUsage is set when the user is exempt from charging; in that branch the
// totals are zero and no balance check was made.
type Estimate struct {
	TotalCredits float64        `json:"total_estimated_credits"`
	TotalTokens  int            `json:"total_estimated_tokens"`
	Breakdown    []TaskEstimate `json:"breakdown"`
	UserCredits  float64        `json:"user_credits"`
	Sufficient   bool           `json:"sufficient_credits"`
	FreeUsage    bool           `json:"free_usage"`
	Message      string         `json:"message,omitempty"`
}

// Round4 rounds a credit amount to 4 decimal places, the precision of all
// per-task credit arithmetic.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Round2 rounds a credit amount to 2 decimal places, used for job totals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
