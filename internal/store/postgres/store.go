// Package postgres implements store.Store on PostgreSQL via pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/store"
)

const sessionColumns = `id, principal_id, anonymous_id, target, tier, wordlist, job_id,
	phase, progress, discovered, vulnerabilities, raw_result, result, error, reason,
	source_ip, created_at, updated_at`

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Config tunes the connection pool.
type Config struct {
	DSN      string
	MinConns int32
	MaxConns int32
}

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger logging.Logger
}

var _ store.Store = (*Store)(nil)

// New connects, pings and migrates the database.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewFromPool(pool, logger), nil
}

// NewFromPool wraps an already migrated pool.
func NewFromPool(pool *pgxpool.Pool, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Store{
		pool:   pool,
		tracer: otel.Tracer("web-scanner/store/postgres"),
		logger: logger.With(logging.Component("store.postgres")),
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// executeAndTrace wraps one database operation in a client span.
func (s *Store) executeAndTrace(ctx context.Context, spanName string, attrs []attribute.KeyValue, op func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	defer span.End()

	if err := op(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

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
	attrs := []attribute.KeyValue{
		attribute.String("session_id", sess.ID),
		attribute.String("job_id", sess.JobID),
	}
	return s.executeAndTrace(ctx, "postgres.create_session", attrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO scan_sessions (`+sessionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			sess.ID, nullable(sess.PrincipalID), nullable(sess.AnonymousID),
			sess.Target, string(sess.Tier), sess.Wordlist, sess.JobID,
			string(phase), sess.Progress, sess.Discovered, sess.Vulnerabilities,
			nullableBytes(sess.RawResult), nullableJSON(res), sess.Error, string(sess.Reason),
			sess.SourceIP, sess.CreatedAt, updated,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("create session %s: %w", sess.ID, store.ErrDuplicateKey)
			}
			return fmt.Errorf("create session %s: %w", sess.ID, err)
		}
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.ScanSession, error) {
	return s.getSession(ctx, "postgres.get_session", `id = $1`, id)
}

func (s *Store) GetSessionByJobID(ctx context.Context, jobID string) (*model.ScanSession, error) {
	return s.getSession(ctx, "postgres.get_session_by_job", `job_id = $1`, jobID)
}

func (s *Store) getSession(ctx context.Context, span, where string, arg string) (*model.ScanSession, error) {
	var sess *model.ScanSession
	err := s.executeAndTrace(ctx, span, []attribute.KeyValue{attribute.String("key", arg)}, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM scan_sessions WHERE `+where+` LIMIT 1`, arg)
		var err error
		sess, err = scanSession(row)
		return err
	})
	return sess, err
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
	attrs := []attribute.KeyValue{
		attribute.String("session_id", id),
		attribute.String("phase", string(st.Phase)),
	}
	return s.executeAndTrace(ctx, "postgres.update_state", attrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE scan_sessions
			 SET phase = $1, progress = $2, discovered = $3, vulnerabilities = $4,
			     raw_result = COALESCE($5, raw_result), result = COALESCE($6, result),
			     error = $7, reason = $8, updated_at = $9
			 WHERE id = $10
			   AND (phase NOT IN ('finished', 'errored') OR (phase = $1 AND result IS NULL))`,
			string(st.Phase), st.Progress, st.Discovered, st.Vulnerabilities,
			nullableBytes(st.RawResult), nullableJSON(res),
			st.Error, string(st.Reason), updated, id,
		)
		if err != nil {
			return fmt.Errorf("update session %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := s.pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM scan_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("update session %s: %w", id, err)
			}
			if !exists {
				return model.ErrSessionNotFound
			}
			s.logger.Debug("stale state update ignored",
				logging.Field{Key: "session_id", Value: id},
				logging.Field{Key: "phase", Value: st.Phase})
		}
		return nil
	})
}

func (s *Store) CountAnonymousSince(ctx context.Context, anonymousID string, since time.Time) (int, error) {
	var n int
	err := s.executeAndTrace(ctx, "postgres.count_anonymous", nil, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM scan_sessions WHERE anonymous_id = $1 AND created_at >= $2`,
			anonymousID, since,
		).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count anonymous sessions: %w", err)
	}
	return n, nil
}

func (s *Store) ListActive(ctx context.Context) ([]model.ScanSession, error) {
	var out []model.ScanSession
	err := s.executeAndTrace(ctx, "postgres.list_active", nil, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT `+sessionColumns+` FROM scan_sessions
			 WHERE phase NOT IN ('finished', 'errored')
			 ORDER BY created_at`)
		if err != nil {
			return fmt.Errorf("list active sessions: %w", err)
		}
		out, err = collect(rows)
		return err
	})
	return out, err
}

func (s *Store) ListByOwner(ctx context.Context, owner model.Identity, limit int) ([]model.ScanSession, error) {
	col, val := "anonymous_id", owner.SessionID
	if owner.IsAuthenticated() {
		col, val = "principal_id", owner.PrincipalID
	}
	if val == "" {
		return nil, nil
	}
	var out []model.ScanSession
	err := s.executeAndTrace(ctx, "postgres.list_by_owner", []attribute.KeyValue{attribute.String("owner_kind", string(owner.Kind))},
		func(ctx context.Context) error {
			rows, err := s.pool.Query(ctx,
				`SELECT `+sessionColumns+` FROM scan_sessions
				 WHERE `+col+` = $1
				 ORDER BY created_at DESC, id DESC
				 LIMIT $2`,
				val, store.ClampLimit(limit))
			if err != nil {
				return fmt.Errorf("list sessions by owner: %w", err)
			}
			out, err = collect(rows)
			return err
		})
	return out, err
}

func (s *Store) UpsertPrincipal(ctx context.Context, p model.Principal) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	return s.executeAndTrace(ctx, "postgres.upsert_principal", nil, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO principals (id, email, created_at) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`,
			p.ID, p.Email, p.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("upsert principal %s: %w", p.ID, store.ErrDuplicateKey)
			}
			return fmt.Errorf("upsert principal %s: %w", p.ID, err)
		}
		return nil
	})
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	var p model.Principal
	err := s.executeAndTrace(ctx, "postgres.get_principal", nil, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx,
			`SELECT id, email, created_at FROM principals WHERE id = $1`, id,
		).Scan(&p.ID, &p.Email, &p.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrPrincipalNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSession(row pgx.Row) (*model.ScanSession, error) {
	var (
		sess                model.ScanSession
		principalID, anonID *string
		tier, phase, reason string
		result              []byte
	)
	err := row.Scan(&sess.ID, &principalID, &anonID, &sess.Target, &tier, &sess.Wordlist, &sess.JobID,
		&phase, &sess.Progress, &sess.Discovered, &sess.Vulnerabilities, &sess.RawResult, &result,
		&sess.Error, &reason, &sess.SourceIP, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	if principalID != nil {
		sess.PrincipalID = *principalID
	}
	if anonID != nil {
		sess.AnonymousID = *anonID
	}
	sess.Tier = model.ScanTier(tier)
	sess.Phase = model.Phase(phase)
	sess.Reason = model.ErrorReason(reason)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	if sess.Result, err = store.DecodeResult(result); err != nil {
		return nil, err
	}
	return &sess, nil
}

func collect(rows pgx.Rows) ([]model.ScanSession, error) {
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

// nullableJSON passes encoded JSON as text so pgx sends it to a JSONB column.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Exec runs a raw statement; used by maintenance tooling and tests.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
