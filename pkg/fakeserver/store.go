package fakeserver

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/api"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

// Store persists conversations and their messages.
type Store interface {
	EnsureConversation(ctx context.Context, assistantID, convID string) error
	AppendMessage(ctx context.Context, convID string, sender history.Sender, mediaType protocol.MediaType, content string) (api.MessageRecord, error)
	ListMessages(ctx context.Context, convID string) ([]api.MessageRecord, error)
	Close() error
}

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite message store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite message store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
		  conv_id TEXT PRIMARY KEY,
		  assistant_id TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  conv_id TEXT NOT NULL REFERENCES conversations(conv_id),
		  sender_type TEXT NOT NULL,
		  media_type TEXT NOT NULL DEFAULT 'text',
		  content TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_conv
		  ON messages(conv_id, id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite message store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) EnsureConversation(ctx context.Context, assistantID, convID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite message store: db is nil")
	}
	if strings.TrimSpace(convID) == "" {
		return errors.New("sqlite message store: convID is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conv_id, assistant_id, created_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(conv_id) DO NOTHING
	`, convID, assistantID, time.Now().UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite message store: ensure conversation")
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, convID string, sender history.Sender, mediaType protocol.MediaType, content string) (api.MessageRecord, error) {
	if s == nil || s.db == nil {
		return api.MessageRecord{}, errors.New("sqlite message store: db is nil")
	}
	if !sender.Valid() {
		return api.MessageRecord{}, errors.Errorf("sqlite message store: invalid sender %q", sender)
	}
	if mediaType == "" {
		mediaType = protocol.MediaTypeText
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conv_id, sender_type, media_type, content, created_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`, convID, string(sender), string(mediaType), content, now.UnixMilli())
	if err != nil {
		return api.MessageRecord{}, errors.Wrap(err, "sqlite message store: append message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return api.MessageRecord{}, errors.Wrap(err, "sqlite message store: last insert id")
	}
	return api.MessageRecord{
		ID:             api.ID(strconv.FormatInt(id, 10)),
		ConversationID: api.ID(convID),
		SenderType:     string(sender),
		MediaType:      string(mediaType),
		Content:        content,
		CreatedAt:      api.Timestamp(time.UnixMilli(now.UnixMilli()).UTC()),
	}, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, convID string) ([]api.MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite message store: db is nil")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conv_id, sender_type, media_type, content, created_at_ms
		FROM messages
		WHERE conv_id = ?
		ORDER BY id ASC
	`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite message store: list messages")
	}
	defer func() { _ = rows.Close() }()

	out := []api.MessageRecord{}
	for rows.Next() {
		var (
			id        int64
			rec       api.MessageRecord
			conv      string
			createdMs int64
		)
		if err := rows.Scan(&id, &conv, &rec.SenderType, &rec.MediaType, &rec.Content, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite message store: scan message")
		}
		rec.ID = api.ID(strconv.FormatInt(id, 10))
		rec.ConversationID = api.ID(conv)
		rec.CreatedAt = api.Timestamp(time.UnixMilli(createdMs).UTC())
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite message store: iterate messages")
	}
	return out, nil
}
