package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const exitColumns = `id, issue_id, user_id, hidden, timestamp, phase, stage, reason, history`

func scanExit(row rowScanner) (*models.ExitUserIssue, error) {
	var x models.ExitUserIssue
	var ts int64
	var phase sql.NullInt64
	var stage, reason, history sql.NullString

	if err := row.Scan(&x.ID, &x.IssueID, &x.UserID, &x.Hidden, &ts, &phase, &stage, &reason, &history); err != nil {
		return nil, err
	}
	x.Timestamp = fromMillis(ts)
	x.Phase = intPtr(phase)
	x.Stage = models.Stage(stage.String)
	x.Reason = reason.String
	if err := decodeJSON(history, &x.History); err != nil {
		return nil, fmt.Errorf("failed to decode exit history: %w", err)
	}
	return &x, nil
}

func (r *Repo) GetExit(ctx context.Context, issueID, userID string) (*models.ExitUserIssue, error) {
	x, err := scanExit(r.q.QueryRowContext(ctx,
		`SELECT `+exitColumns+` FROM exit_user_issues WHERE issue_id = ? AND user_id = ?`, issueID, userID))
	if err != nil {
		return nil, notFound(err, "exit record")
	}
	return x, nil
}

// SaveExit inserts or replaces the (user, issue) exit record.
func (r *Repo) SaveExit(ctx context.Context, x *models.ExitUserIssue) error {
	history := x.History
	if history == nil {
		history = []models.ExitEvent{}
	}
	encoded, err := encodeJSON(history)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO exit_user_issues (`+exitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, issue_id) DO UPDATE SET
			hidden = excluded.hidden,
			timestamp = excluded.timestamp,
			phase = excluded.phase,
			stage = excluded.stage,
			reason = excluded.reason,
			history = excluded.history
	`, x.ID, x.IssueID, x.UserID, x.Hidden, millis(x.Timestamp), nullInt(x.Phase),
		nullString(string(x.Stage)), nullString(x.Reason), encoded)
	if err != nil {
		return fmt.Errorf("failed to save exit record: %w", err)
	}
	return nil
}

func (r *Repo) ListExits(ctx context.Context, issueID string) ([]*models.ExitUserIssue, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+exitColumns+` FROM exit_user_issues WHERE issue_id = ? ORDER BY rowid`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exit records: %w", err)
	}
	defer rows.Close()

	var out []*models.ExitUserIssue
	for rows.Next() {
		x, err := scanExit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, x)
	}
	return out, rows.Err()
}
