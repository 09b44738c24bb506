package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Dialect selects the SQL flavour of the repo.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type repo struct {
	db      *sql.DB
	dialect Dialect
}

func NewRepo(db *sql.DB, dialect Dialect) Repo {
	return &repo{db: db, dialect: dialect}
}

const sessionColumns = `id, customer_contact, status, assigned_agent_id, assigned_agent_name, closed_by, created_at, updated_at`

func (r *repo) CreateSession(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, customer_contact, status, assigned_agent_id, assigned_agent_name, closed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		s.ID,
		s.CustomerContact,
		string(s.Status),
		nullString(s.AssignedAgentID),
		s.AssignedAgentName,
		s.ClosedBy,
		s.CreatedAt.UnixNano(),
		s.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *repo) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ClaimSession is a compare-and-swap on status: the WHERE clause is the whole
// synchronisation between competing agents.
func (r *repo) ClaimSession(ctx context.Context, id, agentID, agentName string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $2, assigned_agent_id = $3, assigned_agent_name = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`, id, string(StatusAssigned), agentID, agentName, at.UnixNano(), string(StatusOpen))
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	return affectedOne(res)
}

func (r *repo) CloseSession(ctx context.Context, id, closedBy string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $2, assigned_agent_id = NULL, assigned_agent_name = '', closed_by = $3, updated_at = $4
		WHERE id = $1 AND status <> $2
	`, id, string(StatusClosed), closedBy, at.UnixNano())
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	return affectedOne(res)
}

func (r *repo) ListOpen(ctx context.Context) ([]Session, error) {
	return r.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = $1
		ORDER BY created_at DESC
	`, string(StatusOpen))
}

func (r *repo) ListAssigned(ctx context.Context, agentID string) ([]Session, error) {
	return r.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE assigned_agent_id = $1 AND status = $2
		ORDER BY updated_at DESC
	`, agentID, string(StatusAssigned))
}

func (r *repo) ListIdle(ctx context.Context, before time.Time) ([]Session, error) {
	return r.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status <> $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`, string(StatusClosed), before.UnixNano())
}

func (r *repo) listSessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *repo) AppendMessage(ctx context.Context, msg *Message, allowed ...Status) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	// Row lock on postgres; sqlite runs on a single connection so the
	// transaction is already exclusive.
	lock := ""
	if r.dialect == Postgres {
		lock = " FOR UPDATE"
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = $1`+lock, msg.SessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	if !statusIn(Status(status), allowed) {
		return &StatusConflictError{Status: Status(status)}
	}

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = $1`, msg.ID).Scan(&one)
	if err == nil {
		return ErrDuplicateMessage
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check message id: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, session_id, sender, agent_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`,
		msg.ID,
		msg.SessionID,
		string(msg.Sender.Kind),
		msg.Sender.AgentID,
		msg.Text,
		msg.CreatedAt.UnixNano(),
	).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if Status(status) != StatusClosed {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = $2 WHERE id = $1`,
			msg.SessionID, msg.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

const messageColumns = `seq, id, session_id, sender, agent_id, text, created_at`

func (r *repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s                Session
		status           string
		agentID          sql.NullString
		created, updated int64
	)
	if err := row.Scan(
		&s.ID,
		&s.CustomerContact,
		&status,
		&agentID,
		&s.AssignedAgentName,
		&s.ClosedBy,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	if agentID.Valid {
		id := agentID.String
		s.AssignedAgentID = &id
	}
	s.CreatedAt = time.Unix(0, created).UTC()
	s.UpdatedAt = time.Unix(0, updated).UTC()
	return &s, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m       Message
		sender  string
		created int64
	)
	if err := row.Scan(
		&m.Seq,
		&m.ID,
		&m.SessionID,
		&sender,
		&m.Sender.AgentID,
		&m.Text,
		&created,
	); err != nil {
		return nil, err
	}
	m.Sender.Kind = SenderKind(sender)
	m.CreatedAt = time.Unix(0, created).UTC()
	return &m, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func statusIn(s Status, allowed []Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
