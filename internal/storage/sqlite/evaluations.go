package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const evaluationColumns = `id, issue_id, expert_id, alternative_id, compared_alternative_id, criterion_id,
	domain_id, value, timestamp, consensus_phase, history`

func scanEvaluation(row rowScanner) (*models.Evaluation, error) {
	var (
		e         models.Evaluation
		value     sql.NullString
		timestamp sql.NullInt64
		phase     sql.NullInt64
		history   sql.NullString
	)

	err := row.Scan(&e.ID, &e.IssueID, &e.ExpertID, &e.AlternativeID, &e.ComparedAlternativeID, &e.CriterionID,
		&e.DomainID, &value, &timestamp, &phase, &history)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(value, &e.Value); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation value: %w", err)
	}
	if err := decodeJSON(history, &e.History); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation history: %w", err)
	}
	e.Timestamp = timePtr(timestamp)
	e.ConsensusPhase = intPtr(phase)
	return &e, nil
}

func valueArg(v models.CellValue) (sql.NullString, error) {
	if v.IsNull() {
		return sql.NullString{}, nil
	}
	s, err := encodeJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func (r *Repo) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	value, err := valueArg(e.Value)
	if err != nil {
		return err
	}
	history, err := encodeJSON(e.History)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO evaluations (`+evaluationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IssueID, e.ExpertID, e.AlternativeID, e.ComparedAlternativeID, e.CriterionID,
		e.DomainID, value, nullTime(e.Timestamp), nullInt(e.ConsensusPhase), history,
	)
	if err != nil {
		return fmt.Errorf("failed to create evaluation: %w", err)
	}
	return nil
}

// SaveEvaluation overwrites the value, timestamp, phase and history of an existing cell.
func (r *Repo) SaveEvaluation(ctx context.Context, e *models.Evaluation) error {
	value, err := valueArg(e.Value)
	if err != nil {
		return err
	}
	history, err := encodeJSON(e.History)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE evaluations SET value = ?, domain_id = ?, timestamp = ?, consensus_phase = ?, history = ?
		WHERE id = ?
	`, value, e.DomainID, nullTime(e.Timestamp), nullInt(e.ConsensusPhase), history, e.ID)
	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("evaluation: %w", ErrNotFound)
	}
	return nil
}

func (r *Repo) listEvaluations(ctx context.Context, query string, args ...interface{}) ([]*models.Evaluation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*models.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) ListEvaluations(ctx context.Context, issueID string) ([]*models.Evaluation, error) {
	return r.listEvaluations(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE issue_id = ? ORDER BY rowid`, issueID)
}

func (r *Repo) ListExpertEvaluations(ctx context.Context, issueID, expertID string) ([]*models.Evaluation, error) {
	return r.listEvaluations(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE issue_id = ? AND expert_id = ? ORDER BY rowid`,
		issueID, expertID)
}

// HasSubmittedEvaluation reports whether any of the expert's cells carries a
// submission timestamp.
func (r *Repo) HasSubmittedEvaluation(ctx context.Context, issueID, expertID string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluations WHERE issue_id = ? AND expert_id = ? AND timestamp IS NOT NULL`,
		issueID, expertID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check submitted evaluations: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) DeleteExpertEvaluations(ctx context.Context, issueID, expertID string) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM evaluations WHERE issue_id = ? AND expert_id = ?`, issueID, expertID); err != nil {
		return fmt.Errorf("failed to delete evaluations: %w", err)
	}
	return nil
}

const weightColumns = `id, issue_id, expert_id, best_criterion, worst_criterion, best_to_others,
	others_to_worst, manual_weights, consensus_phase, completed, updated_at`

func scanWeights(row rowScanner) (*models.CriteriaWeightEvaluation, error) {
	var w models.CriteriaWeightEvaluation
	var bestToOthers, othersToWorst, manual sql.NullString
	var updatedAt int64

	err := row.Scan(&w.ID, &w.IssueID, &w.ExpertID, &w.BestCriterion, &w.WorstCriterion, &bestToOthers,
		&othersToWorst, &manual, &w.ConsensusPhase, &w.Completed, &updatedAt)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw sql.NullString
		dst *map[string]float64
	}{{bestToOthers, &w.BestToOthers}, {othersToWorst, &w.OthersToWorst}, {manual, &w.ManualWeights}} {
		if err := decodeJSON(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode weights: %w", err)
		}
	}
	w.UpdatedAt = fromMillis(updatedAt)
	return &w, nil
}

// UpsertWeightEvaluation stores the expert's single weighting submission for the issue.
func (r *Repo) UpsertWeightEvaluation(ctx context.Context, w *models.CriteriaWeightEvaluation) error {
	enc := func(m map[string]float64) (string, error) {
		if m == nil {
			m = map[string]float64{}
		}
		return encodeJSON(m)
	}
	bestToOthers, err := enc(w.BestToOthers)
	if err != nil {
		return err
	}
	othersToWorst, err := enc(w.OthersToWorst)
	if err != nil {
		return err
	}
	manual, err := enc(w.ManualWeights)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO criteria_weight_evaluations (`+weightColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id, expert_id) DO UPDATE SET
			best_criterion = excluded.best_criterion,
			worst_criterion = excluded.worst_criterion,
			best_to_others = excluded.best_to_others,
			others_to_worst = excluded.others_to_worst,
			manual_weights = excluded.manual_weights,
			consensus_phase = excluded.consensus_phase,
			completed = excluded.completed,
			updated_at = excluded.updated_at
	`, w.ID, w.IssueID, w.ExpertID, w.BestCriterion, w.WorstCriterion, bestToOthers,
		othersToWorst, manual, w.ConsensusPhase, w.Completed, millis(w.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save weight evaluation: %w", err)
	}
	return nil
}

func (r *Repo) GetWeightEvaluation(ctx context.Context, issueID, expertID string) (*models.CriteriaWeightEvaluation, error) {
	w, err := scanWeights(r.q.QueryRowContext(ctx,
		`SELECT `+weightColumns+` FROM criteria_weight_evaluations WHERE issue_id = ? AND expert_id = ?`,
		issueID, expertID))
	if err != nil {
		return nil, notFound(err, "weight evaluation")
	}
	return w, nil
}

func (r *Repo) ListWeightEvaluations(ctx context.Context, issueID string) ([]*models.CriteriaWeightEvaluation, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+weightColumns+` FROM criteria_weight_evaluations WHERE issue_id = ? ORDER BY rowid`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list weight evaluations: %w", err)
	}
	defer rows.Close()

	var out []*models.CriteriaWeightEvaluation
	for rows.Next() {
		w, err := scanWeights(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWeightDrafts removes the expert's uncompleted weighting submission.
func (r *Repo) DeleteWeightDrafts(ctx context.Context, issueID, expertID string) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM criteria_weight_evaluations WHERE issue_id = ? AND expert_id = ? AND completed = 0`,
		issueID, expertID); err != nil {
		return fmt.Errorf("failed to delete weight drafts: %w", err)
	}
	return nil
}
