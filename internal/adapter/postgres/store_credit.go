package postgres

import (
	"context"
	"fmt"

	"github.com/buildhive/buildhive/internal/domain/credit"
)

// AppendLedgerEntry records one balance mutation. The ledger is append-only;
// corrections are new entries, never updates.
func (s *Store) AppendLedgerEntry(ctx context.Context, e *credit.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credit_ledger (id, user_id, delta, reason, reference_type, reference_id, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Delta, e.Reason, e.ReferenceType, e.ReferenceID, e.BalanceAfter, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// ListLedgerEntries returns the user's most recent ledger entries, newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]credit.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, delta, reason, reference_type, reference_id, balance_after, created_at
		 FROM credit_ledger WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []credit.LedgerEntry
	for rows.Next() {
		var e credit.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.ReferenceType,
			&e.ReferenceID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
