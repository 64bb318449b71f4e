// Package store persists conversations in SQLite.
package store

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

	"docchat/internal/domain"
)

// SQLiteConversationStore implements domain.ConversationStore using SQLite.
type SQLiteConversationStore struct {
	db *sql.DB
}

// NewSQLiteConversationStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration. ":memory:" opens a private in-memory
// database.
func NewSQLiteConversationStore(dbPath string) (*SQLiteConversationStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation db: %w", err)
	}
	return &SQLiteConversationStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			messages      TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS conversations_updated_at ON conversations (updated_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}

// Save implements domain.ConversationStore. It replaces the stored
// messages of conversationID.
func (s *SQLiteConversationStore) Save(ctx context.Context, conversationID string, msgs []domain.Message) error {
	if conversationID == "" {
		return domain.NewDomainError("ConversationStore.Save", domain.ErrInvalidInput, "empty conversation id")
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, messages, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages = excluded.messages,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		conversationID, string(data), len(msgs), now, now,
	)
	if err != nil {
		return domain.NewDomainError("ConversationStore.Save", domain.ErrStoreFailure, err.Error())
	}
	return nil
}

// Load implements domain.ConversationStore. A missing conversation returns
// ErrNotFound.
func (s *SQLiteConversationStore) Load(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT messages FROM conversations WHERE id = ?", conversationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("store", "ConversationStore.Load", domain.ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, domain.NewDomainError("ConversationStore.Load", domain.ErrStoreFailure, err.Error())
	}

	var msgs []domain.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, domain.NewDomainError("ConversationStore.Load", domain.ErrStoreFailure, "decode messages: "+err.Error())
	}
	return msgs, nil
}

// Summary describes one stored conversation.
type Summary struct {
	ID           string
	MessageCount int
	UpdatedAt    time.Time
}

// List returns stored conversations, most recently updated first.
func (s *SQLiteConversationStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, message_count, updated_at FROM conversations ORDER BY updated_at DESC")
	if err != nil {
		return nil, domain.NewDomainError("ConversationStore.List", domain.ErrStoreFailure, err.Error())
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			updated string
		)
		if err := rows.Scan(&sum.ID, &sum.MessageCount, &updated); err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, domain.NewDomainError("ConversationStore.List", domain.ErrStoreFailure,
				fmt.Sprintf("conversation %s: bad updated_at %q", sum.ID, updated))
		}
		sum.UpdatedAt = at
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Reap deletes conversations not updated within retention and returns how
// many were removed. A non-positive retention keeps everything.
func (s *SQLiteConversationStore) Reap(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, domain.NewDomainError("ConversationStore.Reap", domain.ErrStoreFailure, err.Error())
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ domain.ConversationStore = (*SQLiteConversationStore)(nil)
