// Package postgres implements every store interface on PostgreSQL through
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/djlord-it/easy-remind/internal/api"
	"github.com/djlord-it/easy-remind/internal/delivery"
	"github.com/djlord-it/easy-remind/internal/dispatcher"
	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/orchestrator"
	"github.com/djlord-it/easy-remind/internal/policycache"
	"github.com/djlord-it/easy-remind/internal/reconciler"
	"github.com/djlord-it/easy-remind/internal/scheduler"
)

// DefaultOpTimeout bounds each store call that arrives without a deadline.
const DefaultOpTimeout = 5 * time.Second

const uniqueViolation = "23505"

//go:embed schema.sql
var schema string

var (
	terminalJobStatuses = pq.Array([]string{
		string(domain.JobStatusCompleted),
		string(domain.JobStatusFailed),
		string(domain.JobStatusCancelled),
	})
	terminalObligationStatuses = pq.Array([]string{
		string(domain.ObligationStatusCompleted),
		string(domain.ObligationStatusCancelled),
	})
)

type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

func New(db *sql.DB) *Store {
	return &Store{db: db, opTimeout: DefaultOpTimeout}
}

// WithOpTimeout sets the per-call timeout. Zero disables it.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListOrganizationIDs returns every organization that owns obligations or
// users.
func (s *Store) ListOrganizationIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListOrganizationIDs)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (s *Store) op(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// withTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// guardedUpdate runs an UPDATE whose WHERE clause carries the state guard.
// When no row changes it tells a missing row apart from a denied transition
// by running existsQuery.
func (s *Store) guardedUpdate(ctx context.Context, update string, updateArgs []any, existsQuery string, existsArgs ...any) error {
	res, err := s.db.ExecContext(ctx, update, updateArgs...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, existsQuery, existsArgs...).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrStatusTransitionDenied
}

// requireRow maps an UPDATE that touched nothing to domain.ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// marshalMap encodes a map for a nullable JSONB column. Nil maps become NULL.
// The value is passed as a string: lib/pq would send []byte as bytea.
func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	return marshalJSON(m)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMap(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var (
	_ dispatcher.Store             = (*Store)(nil)
	_ orchestrator.ObligationStore = (*Store)(nil)
	_ orchestrator.PolicyStore     = (*Store)(nil)
	_ policycache.Store            = (*Store)(nil)
	_ delivery.Store               = (*Store)(nil)
	_ scheduler.Store              = (*Store)(nil)
	_ reconciler.Store             = (*Store)(nil)
	_ api.Canceller                = (*Store)(nil)
	_ api.HealthChecker            = (*Store)(nil)
)
