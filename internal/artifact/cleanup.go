package artifact

import (
	"fmt"
	"time"
)

// Cleanup removes artifacts in three passes: expired TTLs first, then
// artifacts older than maxAge, then the oldest artifacts beyond maxCount.
// A maxAge of zero skips the age pass; a maxCount of zero skips the count
// pass. Returns the number of artifacts removed.
func (s *Store) Cleanup(maxAge time.Duration, maxCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	// Pass 1: expired TTLs.
	expired, err := s.selectIDs(
		"SELECT id FROM artifacts WHERE expires_at IS NOT NULL AND expires_at <= ?",
		formatTime(now),
	)
	if err != nil {
		return removed, err
	}
	for _, id := range expired {
		ok, err := s.deleteLocked(id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}

	// Pass 2: older than maxAge.
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		old, err := s.selectIDs(
			"SELECT id FROM artifacts WHERE created_at < ?",
			formatTime(cutoff),
		)
		if err != nil {
			return removed, err
		}
		for _, id := range old {
			ok, err := s.deleteLocked(id)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}
	}

	// Pass 3: evict oldest-by-creation beyond the count ceiling.
	if maxCount > 0 {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts").Scan(&count); err != nil {
			return removed, fmt.Errorf("count artifacts: %w", err)
		}
		if excess := count - maxCount; excess > 0 {
			oldest, err := s.selectIDs(
				"SELECT id FROM artifacts ORDER BY created_at ASC LIMIT ?",
				excess,
			)
			if err != nil {
				return removed, err
			}
			for _, id := range oldest {
				ok, err := s.deleteLocked(id)
				if err != nil {
					return removed, err
				}
				if ok {
					removed++
				}
			}
		}
	}

	s.debugLog("[store] cleanup removed %d artifacts", removed)
	return removed, nil
}

// selectIDs runs a single-column ID query. Caller must hold s.mu.
func (s *Store) selectIDs(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
