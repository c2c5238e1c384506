package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// SaveReminderPolicy keeps at most one default per organization: saving a
// default clears the flag on the others in the same transaction. A non-zero
// ID updates the existing policy and fails with domain.ErrNotFound when it
// does not exist in the organization.
func (s *Store) SaveReminderPolicy(ctx context.Context, p domain.ReminderPolicy) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rules, err := marshalJSON(p.Rules)
	if err != nil {
		return 0, fmt.Errorf("encode reminder rules: %w", err)
	}
	channels, err := marshalJSON(p.Channels)
	if err != nil {
		return 0, fmt.Errorf("encode channels: %w", err)
	}
	quiet, err := marshalJSON(p.QuietHours)
	if err != nil {
		return 0, fmt.Errorf("encode quiet hours: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryEnsureOrganization, p.OrganizationID); err != nil {
			return fmt.Errorf("register organization: %w", err)
		}
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, queryClearDefaultReminderPolicy, p.OrganizationID, p.ID); err != nil {
				return fmt.Errorf("clear previous default: %w", err)
			}
		}
		if p.ID == 0 {
			return tx.QueryRowContext(ctx, queryInsertReminderPolicy,
				p.OrganizationID, p.Name, rules, channels, quiet, p.IsActive, p.IsDefault,
			).Scan(&p.ID)
		}
		return requireRow(tx.ExecContext(ctx, queryUpdateReminderPolicy,
			p.OrganizationID, p.ID, p.Name, rules, channels, quiet, p.IsActive, p.IsDefault,
		))
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *Store) GetReminderPolicy(ctx context.Context, orgID, id int64) (domain.ReminderPolicy, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	p, err := scanReminderPolicy(s.db.QueryRowContext(ctx, queryGetReminderPolicy, orgID, id))
	return p, notFound(err)
}

func (s *Store) GetDefaultReminderPolicy(ctx context.Context, orgID int64) (domain.ReminderPolicy, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	p, err := scanReminderPolicy(s.db.QueryRowContext(ctx, queryGetDefaultReminderPolicy, orgID))
	return p, notFound(err)
}

func (s *Store) SaveEscalationPolicy(ctx context.Context, p domain.EscalationPolicy) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rules, err := marshalJSON(p.Rules)
	if err != nil {
		return 0, fmt.Errorf("encode escalation rules: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryEnsureOrganization, p.OrganizationID); err != nil {
			return fmt.Errorf("register organization: %w", err)
		}
		if p.ID == 0 {
			return tx.QueryRowContext(ctx, queryInsertEscalationPolicy,
				p.OrganizationID, p.Name, rules, p.IsActive,
			).Scan(&p.ID)
		}
		return requireRow(tx.ExecContext(ctx, queryUpdateEscalationPolicy,
			p.OrganizationID, p.ID, p.Name, rules, p.IsActive,
		))
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *Store) GetEscalationPolicy(ctx context.Context, orgID, id int64) (domain.EscalationPolicy, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var (
		p     domain.EscalationPolicy
		rules []byte
	)
	err := s.db.QueryRowContext(ctx, queryGetEscalationPolicy, orgID, id).
		Scan(&p.ID, &p.OrganizationID, &p.Name, &rules, &p.IsActive)
	if err != nil {
		return domain.EscalationPolicy{}, notFound(err)
	}
	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return domain.EscalationPolicy{}, fmt.Errorf("decode rules of escalation policy %d: %w", p.ID, err)
	}
	return p, nil
}

func scanReminderPolicy(row rowScanner) (domain.ReminderPolicy, error) {
	var (
		p                      domain.ReminderPolicy
		rules, channels, quiet []byte
	)
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &rules, &channels, &quiet, &p.IsActive, &p.IsDefault)
	if err != nil {
		return domain.ReminderPolicy{}, err
	}
	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return domain.ReminderPolicy{}, fmt.Errorf("decode rules of reminder policy %d: %w", p.ID, err)
	}
	if err := json.Unmarshal(channels, &p.Channels); err != nil {
		return domain.ReminderPolicy{}, fmt.Errorf("decode channels of reminder policy %d: %w", p.ID, err)
	}
	if err := json.Unmarshal(quiet, &p.QuietHours); err != nil {
		return domain.ReminderPolicy{}, fmt.Errorf("decode quiet hours of reminder policy %d: %w", p.ID, err)
	}
	return p, nil
}
