package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ent0n29/confidant/internal/chat"
)

const createTranscriptsSQL = `
CREATE TABLE IF NOT EXISTS transcripts (
    key        TEXT PRIMARY KEY,
    updated_at INTEGER NOT NULL,
    messages   TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at ON transcripts(updated_at);
`

// SQLiteBackend keeps transcripts in a single local database file.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(createTranscriptsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, msgs []chat.Message) error {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO transcripts (key, updated_at, messages) VALUES (?, ?, ?)`,
		key, time.Now().UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]chat.Message, error) {
	var data string
	err := b.db.QueryRowContext(ctx, `SELECT messages FROM transcripts WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var msgs []chat.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", key, err)
	}
	return msgs, nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]RecordInfo, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, updated_at FROM transcripts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var infos []RecordInfo
	for rows.Next() {
		var (
			key string
			ns  int64
		)
		if err := rows.Scan(&key, &ns); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		infos = append(infos, RecordInfo{Key: key, ModifiedAt: time.Unix(0, ns)})
	}
	return infos, rows.Err()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
