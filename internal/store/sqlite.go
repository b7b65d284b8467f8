package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/logger"
)

// SQLite keeps the log in a private in-memory sqlite database. The database lives exactly as
// long as the store; nothing is written to disk.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite creates the database and its messages table.
func OpenSQLite() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// every pooled connection would get its own :memory: database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        msg_id TEXT NOT NULL,
        body TEXT NOT NULL,
        sender TEXT NOT NULL,
        ts INTEGER NOT NULL,
        attachment_url TEXT,
        attachment_kind TEXT
    );`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS messages_msg_id ON messages (msg_id);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create messages index: %w", err)
	}
	logger.L.Debug("sqlite message store initialized")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(msg chat.Message) error {
	url, kind := attachmentColumns(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO messages (msg_id, body, sender, ts, attachment_url, attachment_kind) VALUES (?,?,?,?,?,?);`,
		msg.ID, msg.Text, string(msg.Sender), msg.Timestamp, url, kind)
	if err != nil {
		return fmt.Errorf("append message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *SQLite) Replace(id string, msg chat.Message) (bool, error) {
	url, kind := attachmentColumns(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE messages SET msg_id = ?, body = ?, sender = ?, ts = ?, attachment_url = ?, attachment_kind = ?
        WHERE seq = (SELECT seq FROM messages WHERE msg_id = ? ORDER BY seq ASC LIMIT 1);`,
		msg.ID, msg.Text, string(msg.Sender), msg.Timestamp, url, kind, id)
	if err != nil {
		return false, fmt.Errorf("replace message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) ReplaceOrAppend(msg chat.Message) error {
	return replaceOrAppend(s, msg)
}

func (s *SQLite) Snapshot() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT msg_id, body, sender, ts, attachment_url, attachment_kind FROM messages ORDER BY seq ASC;`)
	if err != nil {
		logger.L.Error("sqlite snapshot failed", "error", err)
		return nil
	}
	defer rows.Close()

	out, err := scanMessages(rows)
	if err != nil {
		logger.L.Error("sqlite snapshot failed", "error", err)
		return nil
	}
	return out
}

// rowScanner is the part of *sql.Rows that scanMessages reads.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanMessages reads every row. A partial log is never returned: any scan or iteration error
// fails the whole read.
func scanMessages(rows rowScanner) ([]chat.Message, error) {
	out := []chat.Message{}
	for rows.Next() {
		var (
			m         chat.Message
			sender    string
			url, kind sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Text, &sender, &m.Timestamp, &url, &kind); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = chat.Sender(sender)
		if url.Valid || kind.Valid {
			m.Attachment = &chat.Attachment{URL: url.String, Kind: kind.String}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *SQLite) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM messages WHERE msg_id = ?;`, id).Scan(&n); err != nil {
		logger.L.Error("sqlite lookup failed", "error", err)
		return false
	}
	return n > 0
}

func (s *SQLite) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM messages;`).Scan(&n); err != nil {
		logger.L.Error("sqlite count failed", "error", err)
		return 0
	}
	return n
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func attachmentColumns(msg chat.Message) (sql.NullString, sql.NullString) {
	if msg.Attachment == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: msg.Attachment.URL, Valid: true},
		sql.NullString{String: msg.Attachment.Kind, Valid: true}
}
