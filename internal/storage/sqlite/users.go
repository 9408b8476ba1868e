package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/decisionhub/backend/internal/storage/models"
)

func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, strings.ToLower(u.Email), millis(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *Repo) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var createdAt int64
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &createdAt)
	if err != nil {
		return nil, notFound(err, "user")
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	var createdAt int64
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE email = ?`, strings.ToLower(email),
	).Scan(&u.ID, &u.Name, &u.Email, &createdAt)
	if err != nil {
		return nil, notFound(err, "user")
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// GetUsersByIDs returns the users found, keyed by id. Missing ids are absent.
func (r *Repo) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		u.CreatedAt = fromMillis(createdAt)
		out[u.ID] = &u
	}
	return out, rows.Err()
}

// GetUsersByEmails returns the users found, keyed by lower-cased email.
func (r *Repo) GetUsersByEmails(ctx context.Context, emails []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(emails))
	if len(emails) == 0 {
		return out, nil
	}

	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(e)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE email IN (`+placeholders(len(lowered))+`)`,
		stringArgs(lowered)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		u.CreatedAt = fromMillis(createdAt)
		out[u.Email] = &u
	}
	return out, rows.Err()
}
