package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const modelColumns = `id, name, endpoint, is_consensus, is_pairwise, domain_types, small_description,
	extend_description, more_info_url, parameters`

func scanModel(row rowScanner) (*models.IssueModel, error) {
	var m models.IssueModel
	var domainTypes, params, small, extended, moreInfo sql.NullString

	err := row.Scan(&m.ID, &m.Name, &m.Endpoint, &m.IsConsensus, &m.IsPairwise, &domainTypes, &small,
		&extended, &moreInfo, &params)
	if err != nil {
		return nil, err
	}
	m.SmallDescription = small.String
	m.ExtendDescription = extended.String
	m.MoreInfoURL = moreInfo.String
	if err := decodeJSON(domainTypes, &m.DomainTypes); err != nil {
		return nil, fmt.Errorf("failed to decode domain types: %w", err)
	}
	if err := decodeJSON(params, &m.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode model parameters: %w", err)
	}
	return &m, nil
}

// UpsertModel inserts a catalog entry or refreshes the one with the same name,
// keeping its id so issues keep pointing at it.
func (r *Repo) UpsertModel(ctx context.Context, m *models.IssueModel) error {
	domainTypes, err := encodeJSON(m.DomainTypes)
	if err != nil {
		return err
	}
	params, err := encodeJSON(m.Parameters)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO issue_models (`+modelColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			endpoint = excluded.endpoint,
			is_consensus = excluded.is_consensus,
			is_pairwise = excluded.is_pairwise,
			domain_types = excluded.domain_types,
			small_description = excluded.small_description,
			extend_description = excluded.extend_description,
			more_info_url = excluded.more_info_url,
			parameters = excluded.parameters
	`, m.ID, m.Name, m.Endpoint, m.IsConsensus, m.IsPairwise, domainTypes, m.SmallDescription,
		m.ExtendDescription, m.MoreInfoURL, params)
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", m.Name, err)
	}
	return nil
}

func (r *Repo) GetModel(ctx context.Context, id string) (*models.IssueModel, error) {
	m, err := scanModel(r.q.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM issue_models WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "model")
	}
	return m, nil
}

func (r *Repo) GetModelByName(ctx context.Context, name string) (*models.IssueModel, error) {
	m, err := scanModel(r.q.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM issue_models WHERE name = ?`, name))
	if err != nil {
		return nil, notFound(err, "model")
	}
	return m, nil
}

func (r *Repo) ListModels(ctx context.Context) ([]*models.IssueModel, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+modelColumns+` FROM issue_models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []*models.IssueModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
