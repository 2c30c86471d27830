// Package store defines persistence for scan sessions and principals.
// Backends live in the sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

var (
	// ErrDuplicateKey is returned when a row with the same id or job id exists.
	ErrDuplicateKey = errors.New("duplicate")
)

// DefaultListLimit caps ListByOwner when no limit is given.
const DefaultListLimit = 50

// Store is the relational store used by the orchestrator. Session rows are
// created once and afterwards only their reconciled state changes.
type Store interface {
	CreateSession(ctx context.Context, s *model.ScanSession) error
	GetSession(ctx context.Context, id string) (*model.ScanSession, error)
	GetSessionByJobID(ctx context.Context, jobID string) (*model.ScanSession, error)

	// UpdateState writes the reconciled state of a session. Updates to a
	// session that is already terminal are ignored, except for attaching a
	// result to a terminal session that has none.
	UpdateState(ctx context.Context, id string, state model.ScanState) error

	// CountAnonymousSince counts sessions owned by an anonymous id created at
	// or after since.
	CountAnonymousSince(ctx context.Context, anonymousID string, since time.Time) (int, error)
	ListActive(ctx context.Context) ([]model.ScanSession, error)
	ListByOwner(ctx context.Context, owner model.Identity, limit int) ([]model.ScanSession, error)

	UpsertPrincipal(ctx context.Context, p model.Principal) error
	GetPrincipal(ctx context.Context, id string) (*model.Principal, error)

	Ping(ctx context.Context) error
	Close() error
}

// EncodeResult serializes a normalized result for storage. nil stays nil.
func EncodeResult(r *model.NormalizedResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

// DecodeResult is the inverse of EncodeResult.
func DecodeResult(b []byte) (*model.NormalizedResult, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var r model.NormalizedResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}

// ClampLimit applies DefaultListLimit to non-positive or oversized limits.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
