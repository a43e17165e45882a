package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/nestpulse/presence-api/internal/domain"
)

// SearchUsers performs a case-insensitive prefix match over the search index,
// keyset-paginated by the lowercased username. It probes one row past limit
// to report whether more results exist.
func (s *postgresStore) SearchUsers(ctx context.Context, prefix, afterUsername string, limit int) ([]*domain.User, bool, error) {
	if limit <= 0 {
		return nil, false, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM search_entries se
		JOIN users u ON u.id = se.user_id
		WHERE se.username_lower LIKE $1 ESCAPE '\'
		  AND se.username_lower > $2
		ORDER BY se.username_lower ASC
		LIMIT $3
	`, prefixedUserColumns("u"))

	pattern := escapeLike(strings.ToLower(prefix)) + "%"

	users, err := s.queryUsers(ctx, "search_users", query, pattern, strings.ToLower(afterUsername), limit+1)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(users) > limit
	if hasMore {
		users = users[:limit]
	}

	return users, hasMore, nil
}

// DeleteOrphanSearchEntries removes index rows whose user no longer carries
// the matching username, returning the number removed.
func (s *postgresStore) DeleteOrphanSearchEntries(ctx context.Context) (int64, error) {
	const query = `
		DELETE FROM search_entries se
		USING users u
		WHERE u.id = se.user_id AND lower(u.username) <> se.username_lower
	`

	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		s.logError("delete_orphan_search_entries", err)
		return 0, fmt.Errorf("delete orphan search entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("orphan cleanup rows affected: %w", err)
	}

	return removed, nil
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
