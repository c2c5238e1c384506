package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/djlord-it/easy-remind/internal/domain"
)

func (s *Store) SaveUser(ctx context.Context, u domain.User) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryEnsureOrganization, u.OrganizationID); err != nil {
			return fmt.Errorf("register organization: %w", err)
		}
		if u.ID == 0 {
			return tx.QueryRowContext(ctx, queryInsertUser,
				u.OrganizationID, u.Name, u.Email, u.Phone, u.Role,
			).Scan(&u.ID)
		}
		return requireRow(tx.ExecContext(ctx, queryUpdateUser,
			u.OrganizationID, u.ID, u.Name, u.Email, u.Phone, u.Role,
		))
	})
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

func (s *Store) GetUser(ctx context.Context, orgID, id int64) (domain.User, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var u domain.User
	err := s.db.QueryRowContext(ctx, queryGetUser, orgID, id).
		Scan(&u.ID, &u.OrganizationID, &u.Name, &u.Email, &u.Phone, &u.Role)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	return u, nil
}

func (s *Store) ListUserIDsByRole(ctx context.Context, orgID int64, role string) ([]int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListUserIDsByRole, orgID, role)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (s *Store) AddTeamMember(ctx context.Context, m domain.TeamMember) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertTeamMember, m.TeamID, m.UserID, m.OrganizationID)
	return err
}

func (s *Store) ListTeamMemberIDs(ctx context.Context, orgID, teamID int64) ([]int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTeamMemberIDs, orgID, teamID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}
