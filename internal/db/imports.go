package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ResolveLatestImportDBName returns the newest schedule database imported
// for feed, read from public.latest_successful_imports on the meta
// database (usually 'postgres').
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, feed string) (string, error) {
	feed = strings.TrimSpace(feed)
	if feed == "" {
		return "", fmt.Errorf("schedule feed name is required")
	}
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, feed).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no schedule database imported for feed %q: %w", feed, ErrNotFound)
		}
		return "", err
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("empty db_name for feed %q", feed)
	}
	return dbName.String, nil
}
