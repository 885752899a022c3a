package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/sortkey"
)

// SessionRepository implements archive.SessionRepository for SQLite
type SessionRepository struct {
	q      dbtx
	notify func(table string)
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(q dbtx, notify func(table string)) *SessionRepository {
	return &SessionRepository{q: q, notify: notify}
}

// Create inserts a session. The creation date is the unique key, so creating
// the same date twice fails with ErrConflict at the constraint layer.
func (r *SessionRepository) Create(ctx context.Context, sess *archive.Session) error {
	query := `INSERT INTO sessions (creation_date, sortkey) VALUES (?, ?)`

	_, err := r.q.ExecContext(ctx, query, sess.CreationDate, sess.SortKey.High)
	if err != nil {
		if isUniqueViolation(err) {
			return archive.ErrConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.notify(archive.TableSessions)
	return nil
}

// Get retrieves a session by creation date
func (r *SessionRepository) Get(ctx context.Context, date int64) (*archive.Session, error) {
	query := `SELECT creation_date, sortkey FROM sessions WHERE creation_date = ?`

	var sess archive.Session
	var key int64
	err := r.q.QueryRowContext(ctx, query, date).Scan(&sess.CreationDate, &key)
	if err == sql.ErrNoRows {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.SortKey = sortkey.Scalar(key)
	return &sess, nil
}

// List returns all sessions
func (r *SessionRepository) List(ctx context.Context) ([]archive.Session, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT creation_date, sortkey FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []archive.Session
	for rows.Next() {
		var sess archive.Session
		var key int64
		if err := rows.Scan(&sess.CreationDate, &key); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.SortKey = sortkey.Scalar(key)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Delete removes a session
func (r *SessionRepository) Delete(ctx context.Context, date int64) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE creation_date = ?`, date)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return archive.ErrNotFound
	}

	r.notify(archive.TableSessions)
	r.notify(archive.TableTabs)
	return nil
}

// TabCount returns how many archived tabs reference the session
func (r *SessionRepository) TabCount(ctx context.Context, date int64) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tab_sessions WHERE session_date = ?`, date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count session tabs: %w", err)
	}
	return count, nil
}
