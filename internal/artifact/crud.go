package artifact

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jshapiro/conveyor/pkg/models"
)

// insert writes metadata, tags, and summary in one transaction.
// Caller must hold s.mu.
func (s *Store) insert(meta *models.Artifact, summary *models.ArtifactSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}

	var expiresAt *string
	if meta.ExpiresAt != nil {
		e := formatTime(*meta.ExpiresAt)
		expiresAt = &e
	}

	_, err = tx.Exec(`
		INSERT INTO artifacts (
			id, owner_id, description, encoding, size, content_hash,
			usage_count, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`,
		meta.ID,
		meta.OwnerID,
		meta.Description,
		meta.Encoding,
		meta.Size,
		meta.ContentHash,
		formatTime(meta.CreatedAt),
		formatTime(meta.UpdatedAt),
		expiresAt,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert artifact: %w", err)
	}

	for _, tag := range meta.Tags {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO artifact_tags (artifact_id, tag) VALUES (?, ?)",
			meta.ID, tag,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert tag: %w", err)
		}
	}

	points, err := json.Marshal(summary.KeyPoints)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("encode key points: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO artifact_summaries (artifact_id, kind, digest, key_points) VALUES (?, ?, ?, ?)",
		meta.ID, string(summary.Kind), summary.Digest, string(points),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// Get retrieves an artifact's metadata by ID.
func (s *Store) Get(id string) (*models.Artifact, error) {
	var (
		meta           models.Artifact
		createdAt      string
		updatedAt      string
		lastAccessedAt sql.NullString
		expiresAt      sql.NullString
	)

	err := s.db.QueryRow(`
		SELECT id, owner_id, description, encoding, size, content_hash,
			   usage_count, created_at, updated_at, last_accessed_at, expires_at
		FROM artifacts WHERE id = ?
	`, id).Scan(
		&meta.ID,
		&meta.OwnerID,
		&meta.Description,
		&meta.Encoding,
		&meta.Size,
		&meta.ContentHash,
		&meta.UsageCount,
		&createdAt,
		&updatedAt,
		&lastAccessedAt,
		&expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact %s: %w", id, err)
	}

	meta.CreatedAt, _ = parseTime(createdAt)
	meta.UpdatedAt, _ = parseTime(updatedAt)
	if lastAccessedAt.Valid {
		meta.LastAccessedAt, _ = parseTime(lastAccessedAt.String)
	}
	if expiresAt.Valid {
		exp, _ := parseTime(expiresAt.String)
		meta.ExpiresAt = &exp
	}

	rows, err := s.db.Query("SELECT tag FROM artifact_tags WHERE artifact_id = ? ORDER BY tag", id)
	if err != nil {
		return nil, fmt.Errorf("query tags for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		meta.Tags = append(meta.Tags, tag)
	}

	return &meta, rows.Err()
}

// Summary retrieves the persisted summary for an artifact ID.
func (s *Store) Summary(id string) (*models.ArtifactSummary, error) {
	var (
		summary models.ArtifactSummary
		kind    string
		points  string
	)

	err := s.db.QueryRow(
		"SELECT artifact_id, kind, digest, key_points FROM artifact_summaries WHERE artifact_id = ?",
		id,
	).Scan(&summary.ArtifactID, &kind, &summary.Digest, &points)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query summary for %s: %w", id, err)
	}

	summary.Kind = models.ContentKind(kind)
	if err := json.Unmarshal([]byte(points), &summary.KeyPoints); err != nil {
		return nil, fmt.Errorf("decode key points for %s: %w", id, err)
	}
	return &summary, nil
}

// FindQuery narrows a Find call. Zero values are ignored.
type FindQuery struct {
	// OwnerID restricts results to one owner.
	OwnerID string
	// Tags restricts results to artifacts carrying every listed tag.
	Tags []string
	// Since restricts results to artifacts created at or after this time.
	Since time.Time
}

// Find returns artifact IDs matching the query, newest first.
func (s *Store) Find(q FindQuery) ([]string, error) {
	var (
		where []string
		args  []interface{}
	)

	if q.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	for _, tag := range q.Tags {
		where = append(where, "id IN (SELECT artifact_id FROM artifact_tags WHERE tag = ?)")
		args = append(args, tag)
	}

	query := "SELECT id FROM artifacts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find artifacts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan artifact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of indexed artifacts.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

// touch updates usage accounting for a load. Failures only lose a usage
// tick, so they are logged rather than surfaced.
func (s *Store) touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE artifacts SET usage_count = usage_count + 1, last_accessed_at = ? WHERE id = ?",
		formatTime(s.now()), id,
	)
	if err != nil {
		s.debugLog("[store] touch %s failed: %v", id, err)
	}
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
