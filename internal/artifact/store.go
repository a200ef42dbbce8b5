// Package artifact provides persistent, indexed storage for task results.
// Metadata lives in SQLite; content is compressed to per-artifact files
// under the store root.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite"

	"github.com/jshapiro/conveyor/pkg/models"
)

// ErrNotFound indicates the requested artifact does not exist.
// A read racing a delete of the same ID returns this and must be treated
// as "currently unavailable", never as a fault.
var ErrNotFound = errors.New("artifact not found")

const (
	// EncodingJSON marks content serialized with the structured encoder.
	EncodingJSON = "json"
	// EncodingRaw marks opaque binary content stored byte-for-byte.
	EncodingRaw = "raw"
)

// Store is SQLite-backed artifact storage with compressed content files.
// The metadata, owner, and tag indices are mutated inside one transaction
// under one mutex, so a concurrent Find never observes a partial update.
// Content reads are lock-free with respect to other reads.
type Store struct {
	db   *sql.DB
	root string
	mu   sync.Mutex
	// now is the clock, overridable in tests for expiry checks.
	now func() time.Time
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// DefaultRoot returns the artifact root under the user's data directory.
func DefaultRoot() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "conveyor", "artifacts")
}

// Open opens a store rooted at the given directory, creating it if needed.
// WAL mode is enabled for concurrent reads.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "content"), 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(root, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{
		db:       conn,
		root:     root,
		now:      time.Now,
		debugLog: func(format string, args ...interface{}) {},
	}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// SetDebugLog sets the debug logging function.
func (s *Store) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// SetClock overrides the store's clock. Used by tests to simulate expiry.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Store persists content under a new artifact ID and returns it.
// Content is serialized with the structured encoder when representable that
// way ([]byte passes through raw), hashed, compressed, and summarized.
// A ttl of zero means no expiry.
func (s *Store) Store(ownerID, description string, content interface{}, tags []string, ttl time.Duration) (string, error) {
	data, encoding, err := encodeContent(content)
	if err != nil {
		return "", fmt.Errorf("serialize content: %w", err)
	}
	hash := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now()
	id, err := s.uniqueID(ownerID, description, createdAt)
	if err != nil {
		return "", err
	}
	summary := Summarize(id, data, encoding)

	var expiresAt *time.Time
	if ttl > 0 {
		exp := createdAt.Add(ttl)
		expiresAt = &exp
	}

	meta := &models.Artifact{
		ID:          id,
		OwnerID:     ownerID,
		Description: description,
		Encoding:    encoding,
		Size:        int64(len(data)),
		ContentHash: hex.EncodeToString(hash[:]),
		Tags:        tags,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		ExpiresAt:   expiresAt,
	}

	// Write content first: an artifact without stored content cannot exist
	// in the index.
	if err := s.writeContent(id, data); err != nil {
		return "", err
	}

	if err := s.insert(meta, summary); err != nil {
		// The ID is unused, so the content file belongs to this attempt
		// alone; removing it leaves the indices in their last-known-good
		// state.
		os.Remove(s.contentPath(id))
		return "", err
	}

	s.debugLog("[store] stored artifact %s owner=%s size=%d kind=%s", id, ownerID, meta.Size, summary.Kind)
	return id, nil
}

// Load returns the decoded content for an artifact ID and updates its
// usage count and last-accessed time.
func (s *Store) Load(id string) (interface{}, error) {
	meta, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	data, err := s.readContent(id)
	if err != nil {
		return nil, err
	}

	s.touch(id)

	switch meta.Encoding {
	case EncodingRaw:
		return data, nil
	case EncodingJSON:
		var out interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", id, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("artifact %s has unknown encoding %q", id, meta.Encoding)
	}
}

// Delete removes an artifact from all indices and persisted storage as one
// logical operation. Returns true if the artifact existed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

// deleteLocked removes one artifact. Caller must hold s.mu.
func (s *Store) deleteLocked(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM artifacts WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete artifact %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	// Tags and summary rows cascade; the content file goes last.
	if err := os.Remove(s.contentPath(id)); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("remove content for %s: %w", id, err)
	}

	s.debugLog("[store] deleted artifact %s", id)
	return true, nil
}

// contentPath returns the compressed content file for an artifact ID.
func (s *Store) contentPath(id string) string {
	return filepath.Join(s.root, "content", id+".gz")
}

// writeContent compresses and writes content, renaming into place so a
// racing read never sees a partial file.
func (s *Store) writeContent(id string, data []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("compress content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress content: %w", err)
	}

	path := s.contentPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write content: %w", err)
	}
	return nil
}

// readContent reads and decompresses an artifact's content file.
func (s *Store) readContent(id string) ([]byte, error) {
	f, err := os.Open(s.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open content for %s: %w", id, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompress content for %s: %w", id, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read content for %s: %w", id, err)
	}
	return data, nil
}

// encodeContent serializes content for storage.
// Byte slices are stored raw; everything else goes through the structured
// (JSON) encoder, which covers text, numbers, sequences, and mappings.
func encodeContent(content interface{}) ([]byte, string, error) {
	if raw, ok := content.([]byte); ok {
		return raw, EncodingRaw, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, "", err
	}
	return data, EncodingJSON, nil
}

// uniqueID derives an artifact ID that is not yet in the index. Two stores
// with the same owner, description, and clock reading would otherwise
// collide and clobber the earlier artifact's content file. Caller must
// hold s.mu.
func (s *Store) uniqueID(ownerID, description string, createdAt time.Time) (string, error) {
	for seq := 0; ; seq++ {
		id := deriveID(ownerID, description, createdAt, seq)
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts WHERE id = ?", id).Scan(&n); err != nil {
			return "", fmt.Errorf("check artifact id: %w", err)
		}
		if n == 0 {
			return id, nil
		}
	}
}

// deriveID derives a deterministic artifact ID from owner, description,
// creation time, and a disambiguation sequence.
func deriveID(ownerID, description string, createdAt time.Time, seq int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", ownerID, description, createdAt.UnixNano())
	if seq > 0 {
		fmt.Fprintf(h, "|%d", seq)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
