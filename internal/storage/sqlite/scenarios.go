package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const scenarioColumns = `id, issue_id, created_by, name, target_model_id, target_model_name, domain_type,
	is_pairwise, status, error, config, inputs, outputs, created_at`

func scanScenario(row rowScanner) (*models.IssueScenario, error) {
	var s models.IssueScenario
	var errMsg, config, inputs, outputs sql.NullString
	var createdAt int64

	err := row.Scan(&s.ID, &s.IssueID, &s.CreatedBy, &s.Name, &s.TargetModelID, &s.TargetModelName, &s.DomainType,
		&s.IsPairwise, &s.Status, &errMsg, &config, &inputs, &outputs, &createdAt)
	if err != nil {
		return nil, err
	}
	s.Error = errMsg.String
	s.CreatedAt = fromMillis(createdAt)
	if err := decodeJSON(config, &s.Config); err != nil {
		return nil, fmt.Errorf("failed to decode scenario config: %w", err)
	}
	if err := decodeJSON(inputs, &s.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode scenario inputs: %w", err)
	}
	if err := decodeJSON(outputs, &s.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode scenario outputs: %w", err)
	}
	return &s, nil
}

func (r *Repo) CreateScenario(ctx context.Context, s *models.IssueScenario) error {
	config, err := encodeJSON(s.Config)
	if err != nil {
		return err
	}
	inputs, err := encodeJSON(s.Inputs)
	if err != nil {
		return err
	}
	outputs, err := encodeJSON(s.Outputs)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO issue_scenarios (`+scenarioColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.IssueID, s.CreatedBy, s.Name, s.TargetModelID, s.TargetModelName, s.DomainType,
		s.IsPairwise, s.Status, nullString(s.Error), config, inputs, outputs, millis(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create scenario: %w", err)
	}
	return nil
}

func (r *Repo) GetScenario(ctx context.Context, issueID, id string) (*models.IssueScenario, error) {
	s, err := scanScenario(r.q.QueryRowContext(ctx,
		`SELECT `+scenarioColumns+` FROM issue_scenarios WHERE issue_id = ? AND id = ?`, issueID, id))
	if err != nil {
		return nil, notFound(err, "scenario")
	}
	return s, nil
}

// ListScenarios returns the issue's scenarios, newest first.
func (r *Repo) ListScenarios(ctx context.Context, issueID string) ([]*models.IssueScenario, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+scenarioColumns+` FROM issue_scenarios WHERE issue_id = ? ORDER BY created_at DESC, rowid DESC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	defer rows.Close()

	var out []*models.IssueScenario
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteScenario(ctx context.Context, issueID, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM issue_scenarios WHERE issue_id = ? AND id = ?`, issueID, id)
	if err != nil {
		return fmt.Errorf("failed to delete scenario: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scenario: %w", ErrNotFound)
	}
	return nil
}
