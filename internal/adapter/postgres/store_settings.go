package postgres

import (
	"context"
	"fmt"

	"github.com/buildhive/buildhive/internal/domain/settings"
)

// ListSettings returns all system settings.
func (s *Store) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, value_type FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var result []settings.Setting
	for rows.Next() {
		var st settings.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Type); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}
