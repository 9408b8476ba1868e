package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const consensusColumns = `id, issue_id, phase, level, timestamp, details, collective_evaluations`

func scanConsensus(row rowScanner) (*models.Consensus, error) {
	var c models.Consensus
	var level sql.NullFloat64
	var ts int64
	var details, collective sql.NullString

	if err := row.Scan(&c.ID, &c.IssueID, &c.Phase, &level, &ts, &details, &collective); err != nil {
		return nil, err
	}
	c.Level = floatPtr(level)
	c.Timestamp = fromMillis(ts)
	if err := decodeJSON(details, &c.Details); err != nil {
		return nil, fmt.Errorf("failed to decode consensus details: %w", err)
	}
	if err := decodeJSON(collective, &c.CollectiveEvaluations); err != nil {
		return nil, fmt.Errorf("failed to decode collective evaluations: %w", err)
	}
	return &c, nil
}

// CreateConsensus appends a phase record. The (issue, phase) key rejects a
// second record for the same phase.
func (r *Repo) CreateConsensus(ctx context.Context, c *models.Consensus) error {
	details, err := encodeJSON(c.Details)
	if err != nil {
		return err
	}
	collective, err := encodeJSON(c.CollectiveEvaluations)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO consensus (`+consensusColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.IssueID, c.Phase, nullFloat(c.Level), millis(c.Timestamp), details, collective,
	)
	if err != nil {
		return fmt.Errorf("failed to create consensus record: %w", err)
	}
	return nil
}

// GetLastConsensus returns the highest phase record, or ErrNotFound when the
// issue has never been resolved.
func (r *Repo) GetLastConsensus(ctx context.Context, issueID string) (*models.Consensus, error) {
	c, err := scanConsensus(r.q.QueryRowContext(ctx,
		`SELECT `+consensusColumns+` FROM consensus WHERE issue_id = ? ORDER BY phase DESC LIMIT 1`, issueID))
	if err != nil {
		return nil, notFound(err, "consensus record")
	}
	return c, nil
}

// LastPhase returns 0 when no phase was recorded.
func (r *Repo) LastPhase(ctx context.Context, issueID string) (int, error) {
	var phase sql.NullInt64
	if err := r.q.QueryRowContext(ctx,
		`SELECT MAX(phase) FROM consensus WHERE issue_id = ?`, issueID).Scan(&phase); err != nil {
		return 0, fmt.Errorf("failed to get last phase: %w", err)
	}
	return int(phase.Int64), nil
}

func (r *Repo) ListConsensus(ctx context.Context, issueID string) ([]*models.Consensus, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+consensusColumns+` FROM consensus WHERE issue_id = ? ORDER BY phase`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consensus records: %w", err)
	}
	defer rows.Close()

	var out []*models.Consensus
	for rows.Next() {
		c, err := scanConsensus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
