package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/decisionhub/backend/internal/storage/models"
)

const issueColumns = `id, admin_id, model_id, model_name, name, description, is_consensus,
	consensus_max_phases, consensus_threshold, active, current_stage, weighting_mode,
	model_parameters, alternative_order, leaf_criteria_order, creation_date, closure_date`

func scanIssue(row rowScanner) (*models.Issue, error) {
	var (
		is          models.Issue
		maxPhases   sql.NullInt64
		threshold   sql.NullFloat64
		params      sql.NullString
		altOrder    sql.NullString
		leafOrder   sql.NullString
		createdAt   int64
		closureDate sql.NullInt64
	)

	err := row.Scan(
		&is.ID, &is.AdminID, &is.ModelID, &is.ModelName, &is.Name, &is.Description, &is.IsConsensus,
		&maxPhases, &threshold, &is.Active, &is.CurrentStage, &is.WeightingMode,
		&params, &altOrder, &leafOrder, &createdAt, &closureDate,
	)
	if err != nil {
		return nil, err
	}

	is.ConsensusMaxPhases = intPtr(maxPhases)
	is.ConsensusThreshold = floatPtr(threshold)
	is.CreationDate = fromMillis(createdAt)
	is.ClosureDate = timePtr(closureDate)

	if err := decodeJSON(params, &is.ModelParameters); err != nil {
		return nil, fmt.Errorf("failed to decode model parameters: %w", err)
	}
	if is.ModelParameters == nil {
		is.ModelParameters = models.Params{}
	}
	if err := decodeJSON(altOrder, &is.AlternativeOrder); err != nil {
		return nil, fmt.Errorf("failed to decode alternative order: %w", err)
	}
	if err := decodeJSON(leafOrder, &is.LeafCriteriaOrder); err != nil {
		return nil, fmt.Errorf("failed to decode criteria order: %w", err)
	}
	return &is, nil
}

// orderArg stores nil orders as NULL so legacy rows stay distinguishable.
func orderArg(ids []string) (sql.NullString, error) {
	if ids == nil {
		return sql.NullString{}, nil
	}
	s, err := encodeJSON(ids)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func (r *Repo) CreateIssue(ctx context.Context, is *models.Issue) error {
	params, err := encodeJSON(paramsOrEmpty(is.ModelParameters))
	if err != nil {
		return err
	}
	altOrder, err := orderArg(is.AlternativeOrder)
	if err != nil {
		return err
	}
	leafOrder, err := orderArg(is.LeafCriteriaOrder)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		is.ID, is.AdminID, is.ModelID, is.ModelName, is.Name, is.Description, is.IsConsensus,
		nullInt(is.ConsensusMaxPhases), nullFloat(is.ConsensusThreshold), is.Active, is.CurrentStage, is.WeightingMode,
		params, altOrder, leafOrder, millis(is.CreationDate), nullTime(is.ClosureDate),
	)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

// UpdateIssue writes the mutable issue state: stage, activity, parameters and ordering.
func (r *Repo) UpdateIssue(ctx context.Context, is *models.Issue) error {
	params, err := encodeJSON(paramsOrEmpty(is.ModelParameters))
	if err != nil {
		return err
	}
	altOrder, err := orderArg(is.AlternativeOrder)
	if err != nil {
		return err
	}
	leafOrder, err := orderArg(is.LeafCriteriaOrder)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE issues SET active = ?, current_stage = ?, model_parameters = ?,
			alternative_order = ?, leaf_criteria_order = ?, closure_date = ?
		WHERE id = ?
	`, is.Active, is.CurrentStage, params, altOrder, leafOrder, nullTime(is.ClosureDate), is.ID)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("issue: %w", ErrNotFound)
	}
	return nil
}

func (r *Repo) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	is, err := scanIssue(r.q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "issue")
	}
	return is, nil
}

func (r *Repo) IssueNameExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check issue name: %w", err)
	}
	return n > 0, nil
}

// DeleteIssue removes the issue; every issue-scoped table cascades.
func (r *Repo) DeleteIssue(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	return nil
}

func (r *Repo) listIssues(ctx context.Context, query string, args ...interface{}) ([]*models.Issue, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var out []*models.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// ListActiveIssuesForUser returns active issues the user administers or takes
// part in without having declined, minus the ones the user hid.
func (r *Repo) ListActiveIssuesForUser(ctx context.Context, userID string) ([]*models.Issue, error) {
	return r.listIssues(ctx, `
		SELECT `+issueColumns+` FROM issues i
		WHERE i.active = 1
		  AND (i.admin_id = ? OR EXISTS (
				SELECT 1 FROM participations p
				WHERE p.issue_id = i.id AND p.expert_id = ? AND p.invitation_status != 'declined'))
		  AND NOT EXISTS (
				SELECT 1 FROM exit_user_issues x
				WHERE x.issue_id = i.id AND x.user_id = ? AND x.hidden = 1)
		ORDER BY i.creation_date DESC
	`, userID, userID, userID)
}

// ListFinishedIssuesForUser returns inactive issues the user was involved in
// and has not hidden.
func (r *Repo) ListFinishedIssuesForUser(ctx context.Context, userID string) ([]*models.Issue, error) {
	return r.listIssues(ctx, `
		SELECT `+issueColumns+` FROM issues i
		WHERE i.active = 0
		  AND (i.admin_id = ?
			OR EXISTS (SELECT 1 FROM participations p WHERE p.issue_id = i.id AND p.expert_id = ?)
			OR EXISTS (SELECT 1 FROM exit_user_issues x WHERE x.issue_id = i.id AND x.user_id = ?))
		  AND NOT EXISTS (
				SELECT 1 FROM exit_user_issues x
				WHERE x.issue_id = i.id AND x.user_id = ? AND x.hidden = 1)
		ORDER BY i.creation_date DESC
	`, userID, userID, userID, userID)
}

// ListIssuesDueForClosure returns active issues whose closure date is at or before cutoff.
func (r *Repo) ListIssuesDueForClosure(ctx context.Context, cutoff time.Time) ([]*models.Issue, error) {
	return r.listIssues(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE active = 1 AND closure_date IS NOT NULL AND closure_date <= ?
		ORDER BY closure_date, id
	`, millis(cutoff))
}

func (r *Repo) CreateAlternative(ctx context.Context, a *models.Alternative) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO alternatives (id, issue_id, name) VALUES (?, ?, ?)`, a.ID, a.IssueID, a.Name)
	if err != nil {
		return fmt.Errorf("failed to create alternative: %w", err)
	}
	return nil
}

func (r *Repo) ListAlternatives(ctx context.Context, issueID string) ([]*models.Alternative, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, issue_id, name FROM alternatives WHERE issue_id = ? ORDER BY rowid`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alternatives: %w", err)
	}
	defer rows.Close()

	var out []*models.Alternative
	for rows.Next() {
		var a models.Alternative
		if err := rows.Scan(&a.ID, &a.IssueID, &a.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *Repo) CreateCriterion(ctx context.Context, c *models.Criterion) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO criteria (id, issue_id, parent_id, name, type, is_leaf) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.IssueID, nullString(c.ParentID), c.Name, c.Type, c.IsLeaf,
	)
	if err != nil {
		return fmt.Errorf("failed to create criterion: %w", err)
	}
	return nil
}

func (r *Repo) ListCriteria(ctx context.Context, issueID string) ([]*models.Criterion, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, issue_id, parent_id, name, type, is_leaf FROM criteria WHERE issue_id = ? ORDER BY rowid`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list criteria: %w", err)
	}
	defer rows.Close()

	var out []*models.Criterion
	for rows.Next() {
		var c models.Criterion
		var parent sql.NullString
		if err := rows.Scan(&c.ID, &c.IssueID, &parent, &c.Name, &c.Type, &c.IsLeaf); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c.ParentID = parent.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

func paramsOrEmpty(p models.Params) models.Params {
	if p == nil {
		return models.Params{}
	}
	return p
}
