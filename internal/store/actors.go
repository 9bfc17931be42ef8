package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ncflow/internal/domain"
)

// PutActor inserts or replaces an actor in the directory.
func (s *Store) PutActor(ctx context.Context, a domain.Actor) error {
	if a.ID == "" {
		return errors.New("put actor: id is required")
	}
	for _, r := range a.Roles {
		if !r.Valid() {
			return fmt.Errorf("put actor %s: invalid role %q", a.ID, r)
		}
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO actors (id, name, roles, department_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				roles = excluded.roles,
				department_id = excluded.department_id
		`, a.ID, a.Name, marshalRoles(a.Roles), a.DepartmentID)
		if err != nil {
			return fmt.Errorf("put actor: %w", err)
		}
		return nil
	})
}

// Resolve returns the actor with the given id.
// Returns domain.ErrNotFound for an unknown user.
func (s *Store) Resolve(ctx context.Context, userID string) (domain.Actor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, roles, department_id FROM actors WHERE id = ?
	`, userID)
	a, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Actor{}, fmt.Errorf("resolve actor: %w", err)
	}
	return a, nil
}

// ListActors returns every actor ordered by id.
func (s *Store) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, roles, department_id FROM actors ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("list actors: %w", err)
		}
		actors = append(actors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actors: %w", err)
	}
	return actors, nil
}

// ActorsWithRole returns every actor holding role, ordered by id.
func (s *Store) ActorsWithRole(ctx context.Context, role domain.Role) ([]domain.Actor, error) {
	all, err := s.ListActors(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Actor
	for _, a := range all {
		if a.HasRole(role) {
			out = append(out, a)
		}
	}
	return out, nil
}

// DepartmentManagers returns the managers of departmentID.
func (s *Store) DepartmentManagers(ctx context.Context, departmentID string) ([]domain.Actor, error) {
	managers, err := s.ActorsWithRole(ctx, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	var out []domain.Actor
	for _, m := range managers {
		if departmentID != "" && m.DepartmentID == departmentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func scanActor(row rowScanner) (domain.Actor, error) {
	var (
		a     domain.Actor
		roles string
	)
	if err := row.Scan(&a.ID, &a.Name, &roles, &a.DepartmentID); err != nil {
		return domain.Actor{}, err
	}
	parsed, err := unmarshalRoles(roles)
	if err != nil {
		return domain.Actor{}, err
	}
	a.Roles = parsed
	return a, nil
}
