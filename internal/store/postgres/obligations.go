package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// SaveObligation inserts the obligation when ID is zero, otherwise upserts
// it. Its organization is registered in the same transaction.
func (s *Store) SaveObligation(ctx context.Context, o domain.Obligation) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	if o.Status == "" {
		o.Status = domain.ObligationStatusPending
	}
	created := nowIfZero(o.CreatedAt)
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryEnsureOrganization, o.OrganizationID); err != nil {
			return fmt.Errorf("register organization: %w", err)
		}
		if o.ID == 0 {
			return tx.QueryRowContext(ctx, queryInsertObligation,
				o.OrganizationID, o.Title, nullTime(o.DueAt), string(o.Status),
				nullInt64(o.ReminderPolicyID), nullInt64(o.EscalationPolicyID),
				created, updated,
			).Scan(&o.ID)
		}
		_, err := tx.ExecContext(ctx, queryUpsertObligation,
			o.ID, o.OrganizationID, o.Title, nullTime(o.DueAt), string(o.Status),
			nullInt64(o.ReminderPolicyID), nullInt64(o.EscalationPolicyID),
			created, updated,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return o.ID, nil
}

func (s *Store) GetObligation(ctx context.Context, orgID, id int64) (domain.Obligation, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	o, err := scanObligation(s.db.QueryRowContext(ctx, queryGetObligation, orgID, id))
	return o, notFound(err)
}

// ListObligationsDueBetween returns non-terminal obligations of orgID with
// from <= due_at <= to.
func (s *Store) ListObligationsDueBetween(ctx context.Context, orgID int64, from, to time.Time) ([]domain.Obligation, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return s.listObligations(ctx, queryListObligationsDueBetween, orgID, from, to, terminalObligationStatuses)
}

func (s *Store) ListOverdueObligations(ctx context.Context, orgID int64, now time.Time) ([]domain.Obligation, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return s.listObligations(ctx, queryListOverdueObligations, orgID, now, terminalObligationStatuses)
}

func (s *Store) listObligations(ctx context.Context, query string, args ...any) ([]domain.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateObligationStatus refuses to move COMPLETED or CANCELLED obligations.
func (s *Store) UpdateObligationStatus(ctx context.Context, orgID, id int64, status domain.ObligationStatus) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	return s.guardedUpdate(ctx, queryUpdateObligationStatus,
		[]any{orgID, id, string(status), terminalObligationStatuses},
		queryObligationExists, orgID, id)
}

func (s *Store) SaveAssignment(ctx context.Context, a domain.ObligationAssignment) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertAssignment, a.ObligationID, string(a.AssigneeType), a.AssigneeID)
	return err
}

// ListAssignments returns nothing when the obligation belongs to another
// organization.
func (s *Store) ListAssignments(ctx context.Context, orgID, obligationID int64) ([]domain.ObligationAssignment, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAssignments, orgID, obligationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ObligationAssignment
	for rows.Next() {
		var a domain.ObligationAssignment
		var kind string
		if err := rows.Scan(&a.ObligationID, &kind, &a.AssigneeID); err != nil {
			return nil, err
		}
		a.AssigneeType = domain.AssigneeType(kind)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AppendObligationAction(ctx context.Context, action domain.ObligationAction) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	details, err := marshalMap(action.Details)
	if err != nil {
		return fmt.Errorf("encode action details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertObligationAction,
		action.ObligationID,
		action.OrganizationID,
		string(action.Action),
		details,
		nowIfZero(action.CreatedAt),
	)
	return err
}

func (s *Store) ListObligationActions(ctx context.Context, orgID, obligationID int64) ([]domain.ObligationAction, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListObligationActions, orgID, obligationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ObligationAction
	for rows.Next() {
		var (
			a       domain.ObligationAction
			kind    string
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.ObligationID, &a.OrganizationID, &kind, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Action = domain.ActionType(kind)
		if a.Details, err = unmarshalMap(details); err != nil {
			return nil, fmt.Errorf("decode details of action %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanObligation(row rowScanner) (domain.Obligation, error) {
	var (
		o                  domain.Obligation
		status             string
		dueAt              sql.NullTime
		reminder, escalate sql.NullInt64
	)
	err := row.Scan(
		&o.ID,
		&o.OrganizationID,
		&o.Title,
		&dueAt,
		&status,
		&reminder,
		&escalate,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return domain.Obligation{}, err
	}
	o.Status = domain.ObligationStatus(status)
	o.DueAt = timePtr(dueAt)
	o.ReminderPolicyID = int64Ptr(reminder)
	o.EscalationPolicyID = int64Ptr(escalate)
	return o, nil
}
