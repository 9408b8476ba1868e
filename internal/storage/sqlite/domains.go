package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const domainColumns = `id, owner_id, name, type, numeric_min, numeric_max, labels, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDomain(row rowScanner) (*models.ExpressionDomain, error) {
	var d models.ExpressionDomain
	var min, max sql.NullFloat64
	var labels sql.NullString
	var createdAt int64

	if err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Type, &min, &max, &labels, &createdAt); err != nil {
		return nil, err
	}
	if min.Valid && max.Valid {
		d.NumericRange = &models.NumericRange{Min: min.Float64, Max: max.Float64}
	}
	if err := decodeJSON(labels, &d.LinguisticLabels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	d.CreatedAt = fromMillis(createdAt)
	return &d, nil
}

func rangeArgs(nr *models.NumericRange) (sql.NullFloat64, sql.NullFloat64) {
	if nr == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: nr.Min, Valid: true}, sql.NullFloat64{Float64: nr.Max, Valid: true}
}

func (r *Repo) CreateDomain(ctx context.Context, d *models.ExpressionDomain) error {
	labels, err := encodeJSON(labelsOrEmpty(d.LinguisticLabels))
	if err != nil {
		return err
	}
	min, max := rangeArgs(d.NumericRange)

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO expression_domains (`+domainColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Name, d.Type, min, max, labels, millis(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create expression domain: %w", err)
	}
	return nil
}

// UpsertGlobalDomain inserts or refreshes a global domain by name.
func (r *Repo) UpsertGlobalDomain(ctx context.Context, d *models.ExpressionDomain) error {
	labels, err := encodeJSON(labelsOrEmpty(d.LinguisticLabels))
	if err != nil {
		return err
	}
	min, max := rangeArgs(d.NumericRange)

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO expression_domains (`+domainColumns+`) VALUES (?, '', ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, name) DO UPDATE SET
			type = excluded.type,
			numeric_min = excluded.numeric_min,
			numeric_max = excluded.numeric_max,
			labels = excluded.labels
	`, d.ID, d.Name, d.Type, min, max, labels, millis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert global domain: %w", err)
	}
	return nil
}

func (r *Repo) UpdateDomain(ctx context.Context, d *models.ExpressionDomain) error {
	labels, err := encodeJSON(labelsOrEmpty(d.LinguisticLabels))
	if err != nil {
		return err
	}
	min, max := rangeArgs(d.NumericRange)

	res, err := r.q.ExecContext(ctx,
		`UPDATE expression_domains SET name = ?, type = ?, numeric_min = ?, numeric_max = ?, labels = ? WHERE id = ?`,
		d.Name, d.Type, min, max, labels, d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expression domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("expression domain: %w", ErrNotFound)
	}
	return nil
}

func (r *Repo) DeleteDomain(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM expression_domains WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete expression domain: %w", err)
	}
	return nil
}

func (r *Repo) GetDomain(ctx context.Context, id string) (*models.ExpressionDomain, error) {
	d, err := scanDomain(r.q.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM expression_domains WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "expression domain")
	}
	return d, nil
}

// GetGlobalDomainByName looks up a domain owned by nobody.
func (r *Repo) GetGlobalDomainByName(ctx context.Context, name string) (*models.ExpressionDomain, error) {
	d, err := scanDomain(r.q.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM expression_domains WHERE owner_id = '' AND name = ?`, name))
	if err != nil {
		return nil, notFound(err, "expression domain")
	}
	return d, nil
}

// ListDomains returns the global domains plus the ones owned by userID.
func (r *Repo) ListDomains(ctx context.Context, userID string) ([]*models.ExpressionDomain, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM expression_domains WHERE owner_id = '' OR owner_id = ? ORDER BY owner_id, name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expression domains: %w", err)
	}
	defer rows.Close()

	var out []*models.ExpressionDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repo) GetDomainsByIDs(ctx context.Context, ids []string) ([]*models.ExpressionDomain, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM expression_domains WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get expression domains: %w", err)
	}
	defer rows.Close()

	var out []*models.ExpressionDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const snapshotColumns = `id, issue_id, source_domain_id, name, type, numeric_min, numeric_max, labels, created_at`

func scanSnapshot(row rowScanner) (*models.IssueExpressionDomain, error) {
	var s models.IssueExpressionDomain
	var min, max sql.NullFloat64
	var labels sql.NullString
	var createdAt int64

	if err := row.Scan(&s.ID, &s.IssueID, &s.SourceDomainID, &s.Name, &s.Type, &min, &max, &labels, &createdAt); err != nil {
		return nil, err
	}
	if min.Valid && max.Valid {
		s.NumericRange = &models.NumericRange{Min: min.Float64, Max: max.Float64}
	}
	if err := decodeJSON(labels, &s.LinguisticLabels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	s.CreatedAt = fromMillis(createdAt)
	return &s, nil
}

// InsertSnapshotIfAbsent stores s unless the issue already has a snapshot of
// the same source domain, and returns whichever row is stored.
func (r *Repo) InsertSnapshotIfAbsent(ctx context.Context, s *models.IssueExpressionDomain) (*models.IssueExpressionDomain, error) {
	labels, err := encodeJSON(labelsOrEmpty(s.LinguisticLabels))
	if err != nil {
		return nil, err
	}
	min, max := rangeArgs(s.NumericRange)

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO issue_expression_domains (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id, source_domain_id) DO NOTHING
	`, s.ID, s.IssueID, s.SourceDomainID, s.Name, s.Type, min, max, labels, millis(s.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create domain snapshot: %w", err)
	}

	return r.GetSnapshotBySource(ctx, s.IssueID, s.SourceDomainID)
}

func (r *Repo) GetSnapshotBySource(ctx context.Context, issueID, sourceDomainID string) (*models.IssueExpressionDomain, error) {
	s, err := scanSnapshot(r.q.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM issue_expression_domains WHERE issue_id = ? AND source_domain_id = ?`,
		issueID, sourceDomainID))
	if err != nil {
		return nil, notFound(err, "domain snapshot")
	}
	return s, nil
}

func (r *Repo) ListSnapshots(ctx context.Context, issueID string) ([]*models.IssueExpressionDomain, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM issue_expression_domains WHERE issue_id = ? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.IssueExpressionDomain
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func labelsOrEmpty(labels []models.LinguisticLabel) []models.LinguisticLabel {
	if labels == nil {
		return []models.LinguisticLabel{}
	}
	return labels
}
