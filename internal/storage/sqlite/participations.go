package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const participationColumns = `id, issue_id, expert_id, invitation_status, evaluation_completed,
	weights_completed, entry_phase, entry_stage, joined_at`

func scanParticipation(row rowScanner) (*models.Participation, error) {
	var p models.Participation
	var entryPhase sql.NullInt64
	var entryStage sql.NullString
	var joinedAt int64

	err := row.Scan(&p.ID, &p.IssueID, &p.ExpertID, &p.InvitationStatus, &p.EvaluationCompleted,
		&p.WeightsCompleted, &entryPhase, &entryStage, &joinedAt)
	if err != nil {
		return nil, err
	}
	p.EntryPhase = intPtr(entryPhase)
	p.EntryStage = models.Stage(entryStage.String)
	p.JoinedAt = fromMillis(joinedAt)
	return &p, nil
}

func (r *Repo) CreateParticipation(ctx context.Context, p *models.Participation) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO participations (`+participationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.IssueID, p.ExpertID, p.InvitationStatus, p.EvaluationCompleted,
		p.WeightsCompleted, nullInt(p.EntryPhase), nullString(string(p.EntryStage)), millis(p.JoinedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create participation: %w", err)
	}
	return nil
}

func (r *Repo) UpdateParticipation(ctx context.Context, p *models.Participation) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE participations SET invitation_status = ?, evaluation_completed = ?, weights_completed = ?
		WHERE id = ?
	`, p.InvitationStatus, p.EvaluationCompleted, p.WeightsCompleted, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update participation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("participation: %w", ErrNotFound)
	}
	return nil
}

func (r *Repo) GetParticipation(ctx context.Context, issueID, expertID string) (*models.Participation, error) {
	p, err := scanParticipation(r.q.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE issue_id = ? AND expert_id = ?`,
		issueID, expertID))
	if err != nil {
		return nil, notFound(err, "participation")
	}
	return p, nil
}

// ListParticipations returns every participation of the issue in join order.
func (r *Repo) ListParticipations(ctx context.Context, issueID string) ([]*models.Participation, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE issue_id = ? ORDER BY joined_at, rowid`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}
	defer rows.Close()

	var out []*models.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteParticipation(ctx context.Context, issueID, expertID string) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM participations WHERE issue_id = ? AND expert_id = ?`, issueID, expertID); err != nil {
		return fmt.Errorf("failed to delete participation: %w", err)
	}
	return nil
}

// ResetEvaluationCompleted clears every evaluation flag of the issue for a new round.
func (r *Repo) ResetEvaluationCompleted(ctx context.Context, issueID string) error {
	if _, err := r.q.ExecContext(ctx,
		`UPDATE participations SET evaluation_completed = 0 WHERE issue_id = ?`, issueID); err != nil {
		return fmt.Errorf("failed to reset evaluation flags: %w", err)
	}
	return nil
}
