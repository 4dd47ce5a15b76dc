package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"prepq-backend/questions"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrQuestionNotFound = errors.New("question not found in session")
)

// Session is one saved practice set with whatever answers have been
// recorded so far. Answers maps question id to the chosen letter.
type Session struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	CreatedAt time.Time            `json:"created_at"`
	Questions []questions.Question `json:"questions"`
	Answers   map[int]string       `json:"answers"`
}

// Summary is the list view of a session.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Total     int       `json:"total"`
	Answered  int       `json:"answered"`
}

// Store keeps sessions in a local sqlite file. Sessions hold review
// material only; credit accounting never lives here.
type Store struct {
	db *sql.DB
}

// Open creates or opens the session database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The embedded engine allows a single writer; one connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			questions TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			question_id INTEGER NOT NULL,
			selected TEXT NOT NULL,
			answered_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, question_id)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("create session tables: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create saves a new session and returns its id. Satisfies the generation
// handler's Saver contract.
func (s *Store) Create(ctx context.Context, title string, qs []questions.Question) (string, error) {
	if len(qs) == 0 {
		return "", errors.New("refusing to create an empty session")
	}
	payload, err := json.Marshal(qs)
	if err != nil {
		return "", fmt.Errorf("encode questions: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, title, questions, created_at) VALUES (?, ?, ?, ?)",
		id, title, string(payload), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// List returns all sessions, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.questions, s.created_at,
		       (SELECT COUNT(*) FROM answers a WHERE a.session_id = s.id)
		FROM sessions s
		ORDER BY s.created_at DESC, s.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sm Summary
		var payload string
		if err := rows.Scan(&sm.ID, &sm.Title, &payload, &sm.CreatedAt, &sm.Answered); err != nil {
			return nil, err
		}
		var qs []questions.Question
		if err := json.Unmarshal([]byte(payload), &qs); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", sm.ID, err)
		}
		sm.Total = len(qs)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Get loads one session with its recorded answers.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	var sess Session
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, questions, created_at FROM sessions WHERE id = ?", id).
		Scan(&sess.ID, &sess.Title, &payload, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(payload), &sess.Questions); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}

	sess.Answers = map[int]string{}
	rows, err := s.db.QueryContext(ctx,
		"SELECT question_id, selected FROM answers WHERE session_id = ?", id)
	if err != nil {
		return Session{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var qid int
		var selected string
		if err := rows.Scan(&qid, &selected); err != nil {
			return Session{}, err
		}
		sess.Answers[qid] = selected
	}
	return sess, rows.Err()
}

// SetAnswer records the chosen letter for one question, overwriting any
// earlier choice. The question must exist in the session.
func (s *Store) SetAnswer(ctx context.Context, sessionID string, questionID int, selected string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if questionID < 1 || questionID > len(sess.Questions) {
		return ErrQuestionNotFound
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answers (session_id, question_id, selected, answered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, question_id)
		DO UPDATE SET selected = excluded.selected, answered_at = excluded.answered_at`,
		sessionID, questionID, selected, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	return nil
}

// Delete removes a session and its answers.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	// foreign_keys is a per-connection pragma in sqlite, so the cascade
	// cannot be relied on across pooled connections.
	_, err = s.db.ExecContext(ctx, "DELETE FROM answers WHERE session_id = ?", id)
	return err
}
