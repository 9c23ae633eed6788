package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/xiaot623/campusconnect/internal/domain"
)

// SQLitePersister implements Persister using SQLite.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens the database at dsn and runs migrations.
func NewSQLitePersister(dsn string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// SQLite allows one writer. A single pooled connection serializes appends from
	// different sessions instead of failing them with "database is locked", and keeps
	// in-memory databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	p := &SQLitePersister{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return p, nil
}

// migrate runs database migrations.
func (p *SQLitePersister) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT,
			created_at DATETIME NOT NULL,
			last_activity DATETIME,
			context TEXT,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			language TEXT,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := p.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Intent tags were added after the first schema.
	if err := p.ensureColumn("messages", "intent", "ALTER TABLE messages ADD COLUMN intent TEXT"); err != nil {
		return err
	}
	return nil
}

func (p *SQLitePersister) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := p.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = p.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSession(ctx context.Context, db execer, session *domain.Session) error {
	contextData, err := json.Marshal(session.Context)
	if err != nil {
		return errors.Wrap(err, "failed to encode session context")
	}
	var lastActivity sql.NullTime
	if session.LastActivity != nil {
		lastActivity = sql.NullTime{Time: *session.LastActivity, Valid: true}
	}
	var userID sql.NullString
	if session.UserID != "" {
		userID = sql.NullString{String: session.UserID, Valid: true}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, last_activity, context, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			last_activity = excluded.last_activity,
			context = excluded.context,
			active = excluded.active`,
		session.SessionID, userID, session.CreatedAt, lastActivity, string(contextData), session.Active)
	return err
}

// SaveSession implements Persister.
func (p *SQLitePersister) SaveSession(ctx context.Context, session *domain.Session) error {
	return upsertSession(ctx, p.db, session)
}

// AppendMessage implements Persister. Every message of session past the highest stored
// sequence number is inserted, so a tail lost to an earlier failed write is repaired.
func (p *SQLitePersister) AppendMessage(ctx context.Context, session *domain.Session, _ domain.Message) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := upsertSession(ctx, tx, session); err != nil {
		return err
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM messages WHERE session_id = ?`, session.SessionID).Scan(&maxSeq); err != nil {
		return err
	}
	next := 0
	if maxSeq.Valid {
		next = int(maxSeq.Int64) + 1
	}

	for seq := next; seq < len(session.Messages); seq++ {
		m := session.Messages[seq]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, type, content, timestamp, intent, language) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session.SessionID, seq, string(m.Type), m.Content, m.Timestamp, nullString(m.Intent), nullString(m.Language))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load implements Persister.
func (p *SQLitePersister) Load(ctx context.Context) ([]*domain.Session, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT session_id, user_id, created_at, last_activity, context, active FROM sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.Session
	byID := make(map[string]*domain.Session)
	for rows.Next() {
		var sess domain.Session
		var userID, contextData sql.NullString
		var lastActivity sql.NullTime
		if err := rows.Scan(&sess.SessionID, &userID, &sess.CreatedAt, &lastActivity, &contextData, &sess.Active); err != nil {
			return nil, err
		}
		if userID.Valid {
			sess.UserID = userID.String
		}
		if lastActivity.Valid {
			t := lastActivity.Time
			sess.LastActivity = &t
		}
		sess.Context = map[string]any{}
		if contextData.Valid && contextData.String != "" {
			if err := json.Unmarshal([]byte(contextData.String), &sess.Context); err != nil {
				return nil, errors.Wrapf(err, "failed to decode context of session %s", sess.SessionID)
			}
		}
		sess.Messages = []domain.Message{}
		sessions = append(sessions, &sess)
		byID[sess.SessionID] = &sess
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := p.db.QueryContext(ctx,
		`SELECT session_id, type, content, timestamp, intent, language FROM messages ORDER BY session_id, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var sessionID, msgType string
		var msg domain.Message
		var intent, lang sql.NullString
		if err := msgRows.Scan(&sessionID, &msgType, &msg.Content, &msg.Timestamp, &intent, &lang); err != nil {
			return nil, err
		}
		msg.Type = domain.MessageType(msgType)
		msg.Intent = intent.String
		msg.Language = lang.String
		if sess, ok := byID[sessionID]; ok {
			sess.Messages = append(sess.Messages, msg)
		}
	}
	return sessions, msgRows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
