package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/metadata"
	"github.com/FranLegon/syncly/internal/model"
)

const DBFileName = "metadata.db"

// DB is the SQLite metadata store. Records are scoped to one owner.
type DB struct {
	conn  *sql.DB
	owner string
}

// Open opens (or creates) the database at path and ensures the schema exists.
// A file that is not a database is moved aside to path+".corrupt" and a
// fresh, empty database takes its place.
func Open(path, owner string) (*DB, error) {
	db, err := open(path, owner)
	if err == nil || !errors.Is(err, metadata.ErrCorrupt) {
		return db, err
	}

	logger.Error("%v; starting with empty metadata", err)
	if rerr := os.Rename(path, path+".corrupt"); rerr != nil {
		return nil, fmt.Errorf("failed to move corrupt database aside: %w", rerr)
	}
	logger.Warning("Corrupt database kept at %s", path+".corrupt")
	return open(path, owner)
}

func open(path, owner string) (*DB, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		return nil, err
	}

	// Fails early on a file that is not a database
	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM sqlite_master").Scan(&count); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to access database %s: %v", metadata.ErrCorrupt, path, err)
	}

	db := &DB{conn: conn, owner: owner}
	if err := db.Initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Exists reports whether a database file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Initialize creates the database schema
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		file_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_type TEXT,
		sha256 TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_owner_name ON uploads(owner, file_name);

	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		upload_id TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		chunk_name TEXT NOT NULL,
		provider TEXT NOT NULL,
		bucket_number INTEGER NOT NULL,
		account TEXT NOT NULL,
		file_id TEXT NOT NULL,
		byte_offset INTEGER NOT NULL,
		size INTEGER NOT NULL,
		sha256 TEXT,
		FOREIGN KEY(upload_id) REFERENCES uploads(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_upload_id ON chunks(upload_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Append inserts an upload and its chunks in one transaction.
func (db *DB) Append(ctx context.Context, m *model.UploadMetadata) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	uploadQuery := `
	INSERT INTO uploads (
		id, owner, file_name, size, content_type, sha256, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, uploadQuery,
		m.ID, db.owner, m.FileName, m.Size, m.ContentType, m.SHA256, m.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}

	chunkQuery := `
	INSERT INTO chunks (
		upload_id, sequence_number, chunk_name, provider, bucket_number, account, file_id, byte_offset, size, sha256
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, c := range m.Chunks {
		_, err = tx.ExecContext(ctx, chunkQuery,
			m.ID, i, c.ChunkName, string(c.Provider), c.BucketNumber, c.Account, c.FileID, c.Offset, c.Size, c.SHA256)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Find returns the most recently appended upload named fileName.
func (db *DB) Find(ctx context.Context, fileName string) (*model.UploadMetadata, error) {
	query := `
	SELECT id, owner, file_name, size, content_type, sha256, created_at
	FROM uploads
	WHERE owner = ? AND file_name = ?
	ORDER BY seq DESC
	LIMIT 1
	`
	m, err := scanUpload(db.conn.QueryRowContext(ctx, query, db.owner, fileName))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", fileName, metadata.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if m.Chunks, err = db.getChunks(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns every upload of the owner, oldest first.
func (db *DB) List(ctx context.Context) ([]*model.UploadMetadata, error) {
	query := `
	SELECT id, owner, file_name, size, content_type, sha256, created_at
	FROM uploads
	WHERE owner = ?
	ORDER BY seq ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, db.owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*model.UploadMetadata
	for rows.Next() {
		m, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, m := range uploads {
		if m.Chunks, err = db.getChunks(ctx, m.ID); err != nil {
			return nil, err
		}
	}
	return uploads, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*model.UploadMetadata, error) {
	m := &model.UploadMetadata{}
	var contentType, hash sql.NullString
	var createdAt int64
	if err := row.Scan(&m.ID, &m.Owner, &m.FileName, &m.Size, &contentType, &hash, &createdAt); err != nil {
		return nil, err
	}
	m.ContentType = contentType.String
	m.SHA256 = hash.String
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return m, nil
}

func (db *DB) getChunks(ctx context.Context, uploadID string) ([]model.ChunkPlacement, error) {
	query := `
	SELECT chunk_name, provider, bucket_number, account, file_id, byte_offset, size, sha256
	FROM chunks
	WHERE upload_id = ?
	ORDER BY sequence_number ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.ChunkPlacement
	for rows.Next() {
		var c model.ChunkPlacement
		var providerStr string
		var hash sql.NullString
		err := rows.Scan(&c.ChunkName, &providerStr, &c.BucketNumber, &c.Account, &c.FileID, &c.Offset, &c.Size, &hash)
		if err != nil {
			return nil, err
		}
		c.Provider = model.Provider(providerStr)
		c.SHA256 = hash.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

var _ metadata.Store = (*DB)(nil)
