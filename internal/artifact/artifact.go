// Package artifact stores exported RO-Crates that async export jobs point to.
// Artifacts are content-addressed: the id is the hex BLAKE3-256 digest of the
// content, so identical exports share one row.
package artifact

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/crategate/crategate/internal/crate"
)

// Artifact is a stored export.
type Artifact struct {
	ID          string
	ContentType string
	Content     []byte
	CreatedAt   time.Time
}

// Store persists artifacts.
type Store interface {
	// Put stores content and returns its id. Storing identical content again
	// refreshes its timestamp.
	Put(ctx context.Context, content []byte, contentType string) (string, error)
	// Get returns nil, nil for an unknown id.
	Get(ctx context.Context, id string) (*Artifact, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

const (
	encodingNone = "none"
	encodingZstd = "zstd"
)

// The encoder and decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// ID returns the content address of content.
func ID(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore runs the artifacts migrations on db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			id           TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			encoding     TEXT NOT NULL,
			size         INTEGER NOT NULL,
			data         BLOB NOT NULL,
			created_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("migrate artifacts: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put compresses JSON-LD with zstd. ZIP archives are already compressed and
// are stored as is.
func (s *SQLiteStore) Put(ctx context.Context, content []byte, contentType string) (string, error) {
	id := ID(content)

	encoding, data := encodingNone, content
	if contentType != crate.MediaTypeZip {
		if compressed := zstdEncoder.EncodeAll(content, nil); len(compressed) < len(content) {
			encoding, data = encodingZstd, compressed
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, content_type, encoding, size, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at
	`, id, contentType, encoding, len(content), data, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("put artifact %s: %w", id, err)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Artifact, error) {
	a := &Artifact{ID: id}
	var encoding string
	var size int
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT content_type, encoding, size, data, created_at FROM artifacts WHERE id = ?
	`, id).Scan(&a.ContentType, &encoding, &size, &data, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}

	switch encoding {
	case encodingNone:
		a.Content = data
	case encodingZstd:
		a.Content, err = zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("artifact %s: zstd decompress: %w", id, err)
		}
	default:
		return nil, fmt.Errorf("artifact %s: unknown encoding %q", id, encoding)
	}
	if len(a.Content) != size {
		return nil, fmt.Errorf("artifact %s: got %d bytes, expected %d", id, len(a.Content), size)
	}
	return a, nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	return res.RowsAffected()
}
