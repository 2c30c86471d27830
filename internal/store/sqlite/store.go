// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/store"
)

//go:embed schema.sql
var schemaFS embed.FS

const sessionColumns = `id, principal_id, anonymous_id, target, tier, wordlist, job_id,
	phase, progress, discovered, vulnerabilities, raw_result, result, error, reason,
	source_ip, created_at, updated_at`

// Store is a store.Store backed by SQLite.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at dsn and applies the schema.
// A bare file path gets busy-timeout, WAL and foreign-key pragmas appended.
func Open(dsn string, logger logging.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if !strings.Contains(dsn, "?") && !strings.Contains(dsn, ":memory:") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database and runs schema.sql against it.
func New(db *sql.DB, logger logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db, logger: logger.With(logging.Component("store.sqlite"))}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, sess *model.ScanSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	res, err := store.EncodeResult(sess.Result)
	if err != nil {
		return err
	}
	phase := sess.Phase
	if phase == "" {
		phase = model.PhasePending
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = sess.CreatedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullable(sess.PrincipalID), nullable(sess.AnonymousID),
		sess.Target, string(sess.Tier), sess.Wordlist, sess.JobID,
		string(phase), sess.Progress, sess.Discovered, sess.Vulnerabilities,
		sess.RawResult, res, sess.Error, string(sess.Reason),
		sess.SourceIP, sess.CreatedAt.UnixNano(), updated.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create session %s: %w", sess.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.ScanSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM scan_sessions WHERE id = ? LIMIT 1`, id)
	return scanSession(row)
}

func (s *Store) GetSessionByJobID(ctx context.Context, jobID string) (*model.ScanSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM scan_sessions WHERE job_id = ? LIMIT 1`, jobID)
	return scanSession(row)
}

func (s *Store) UpdateState(ctx context.Context, id string, st model.ScanState) error {
	res, err := store.EncodeResult(st.Result)
	if err != nil {
		return err
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	out, err := s.db.ExecContext(ctx,
		`UPDATE scan_sessions
		 SET phase = ?, progress = ?, discovered = ?, vulnerabilities = ?,
		     raw_result = COALESCE(?, raw_result), result = COALESCE(?, result),
		     error = ?, reason = ?, updated_at = ?
		 WHERE id = ?
		   AND (phase NOT IN ('finished', 'errored') OR (phase = ? AND result IS NULL))`,
		string(st.Phase), st.Progress, st.Discovered, st.Vulnerabilities,
		nullableBytes(st.RawResult), nullableBytes(res),
		st.Error, string(st.Reason), updated.UnixNano(),
		id, string(st.Phase),
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		s.logger.Debug("stale state update ignored",
			logging.Field{Key: "session_id", Value: id},
			logging.Field{Key: "phase", Value: st.Phase})
	}
	return nil
}

func (s *Store) CountAnonymousSince(ctx context.Context, anonymousID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_sessions WHERE anonymous_id = ? AND created_at >= ?`,
		anonymousID, since.UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count anonymous sessions: %w", err)
	}
	return n, nil
}

func (s *Store) ListActive(ctx context.Context) ([]model.ScanSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM scan_sessions
		 WHERE phase NOT IN ('finished', 'errored')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return collect(rows)
}

func (s *Store) ListByOwner(ctx context.Context, owner model.Identity, limit int) ([]model.ScanSession, error) {
	col, val := "anonymous_id", owner.SessionID
	if owner.IsAuthenticated() {
		col, val = "principal_id", owner.PrincipalID
	}
	if val == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM scan_sessions
		 WHERE `+col+` = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		val, store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions by owner: %w", err)
	}
	return collect(rows)
}

func (s *Store) UpsertPrincipal(ctx context.Context, p model.Principal) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (id, email, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email`,
		p.ID, p.Email, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("upsert principal %s: %w", p.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("upsert principal %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	var p model.Principal
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM principals WHERE id = ? LIMIT 1`, id,
	).Scan(&p.ID, &p.Email, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("get principal %s: %w", id, err)
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.ScanSession, error) {
	var (
		sess                    model.ScanSession
		principalID, anonID     sql.NullString
		tier, phase, reason     string
		rawResult, result       []byte
		createdAt, updatedAtUns int64
	)
	err := row.Scan(&sess.ID, &principalID, &anonID, &sess.Target, &tier, &sess.Wordlist, &sess.JobID,
		&phase, &sess.Progress, &sess.Discovered, &sess.Vulnerabilities, &rawResult, &result,
		&sess.Error, &reason, &sess.SourceIP, &createdAt, &updatedAtUns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	sess.PrincipalID = principalID.String
	sess.AnonymousID = anonID.String
	sess.Tier = model.ScanTier(tier)
	sess.Phase = model.Phase(phase)
	sess.Reason = model.ErrorReason(reason)
	sess.RawResult = rawResult
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	sess.UpdatedAt = time.Unix(0, updatedAtUns).UTC()
	if sess.Result, err = store.DecodeResult(result); err != nil {
		return nil, err
	}
	return &sess, nil
}

func collect(rows *sql.Rows) ([]model.ScanSession, error) {
	defer rows.Close()
	var out []model.ScanSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
