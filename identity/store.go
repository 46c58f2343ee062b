package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Session is a persisted sign-in.
type Session struct {
	UID          string
	Email        string
	RefreshToken string
	UpdatedAt    time.Time
}

// SessionStore persists sessions. Only the most recently saved session is active.
type SessionStore interface {
	Save(ctx context.Context, s Session) error
	Active(ctx context.Context) (Session, error)
	Delete(ctx context.Context, uid string) error
}

// SQLiteStore keeps sessions in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) the session database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session db path is empty")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		`CREATE TABLE IF NOT EXISTS sessions (
			uid           TEXT PRIMARY KEY,
			email         TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL,
			updated_at    INTEGER NOT NULL
		);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate session db: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces the session and makes it the active one.
func (s *SQLiteStore) Save(ctx context.Context, session Session) error {
	if session.UID == "" || session.RefreshToken == "" {
		return fmt.Errorf("session requires uid and refresh token")
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (uid, email, refresh_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			email = excluded.email,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at`,
		session.UID, session.Email, session.RefreshToken, session.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Active returns the most recently saved session, or ErrNoPrincipal.
func (s *SQLiteStore) Active(ctx context.Context) (Session, error) {
	var (
		session Session
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, email, refresh_token, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT 1`,
	).Scan(&session.UID, &session.Email, &session.RefreshToken, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoPrincipal
	}
	if err != nil {
		return Session{}, fmt.Errorf("load active session: %w", err)
	}
	session.UpdatedAt = time.Unix(0, updated)
	return session, nil
}

// Delete removes a session. Deleting an unknown uid is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, uid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
