package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/domains"
	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

// CellInput addresses one of the caller's cells. ComparedAlternativeID is
// empty for direct evaluations.
type CellInput struct {
	AlternativeID         string           `json:"alternativeId"`
	ComparedAlternativeID string           `json:"comparedAlternativeId,omitempty"`
	CriterionID           string           `json:"criterionId"`
	Value                 models.CellValue `json:"value"`
}

type cellKey struct {
	alt, cmp, crit string
}

func keyOf(e *models.Evaluation) cellKey {
	return cellKey{e.AlternativeID, e.ComparedAlternativeID, e.CriterionID}
}

// SaveEvaluationDraft stores partial values. Null clears a cell; other values
// must already fit the cell's domain.
func (e *Engine) SaveEvaluationDraft(ctx context.Context, userID, issueID string, cells []CellInput) error {
	return classify(e.saveEvaluations(ctx, userID, issueID, cells, false))
}

// SubmitEvaluations merges cells into the stored draft and submits the result.
// Every cell must then hold a legal value; for pairwise issues each cell's
// mirrored comparison must be filled as well.
func (e *Engine) SubmitEvaluations(ctx context.Context, userID, issueID string, cells []CellInput) error {
	return classify(e.saveEvaluations(ctx, userID, issueID, cells, true))
}

func (e *Engine) saveEvaluations(ctx context.Context, userID, issueID string, cells []CellInput, submit bool) error {
	release, err := e.lock(ctx, issueID, "evaluations")
	if err != nil {
		return err
	}
	defer release()

	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		issue, err := e.getIssue(ctx, r, issueID)
		if err != nil {
			return err
		}
		if err := lifecycle.RequireActive(issue); err != nil {
			return err
		}
		p, err := participation(ctx, r, issueID, userID)
		if err != nil {
			return err
		}
		if err := lifecycle.RequireAccepted(p); err != nil {
			return err
		}
		if err := lifecycle.RequireStage(issue, models.StageAlternativeEvaluation); err != nil {
			return err
		}
		if submit && p.EvaluationCompleted {
			return conflict("evaluations", "evaluations for this round were already submitted")
		}

		rows, err := r.ListExpertEvaluations(ctx, issueID, userID)
		if err != nil {
			return err
		}
		snaps, err := r.ListSnapshots(ctx, issueID)
		if err != nil {
			return err
		}
		snapByID := make(map[string]*models.IssueExpressionDomain, len(snaps))
		for _, s := range snaps {
			snapByID[s.ID] = s
		}
		byKey := make(map[cellKey]*models.Evaluation, len(rows))
		for _, row := range rows {
			byKey[keyOf(row)] = row
		}

		changed := make(map[cellKey]bool, len(cells))
		for _, c := range cells {
			k := cellKey{c.AlternativeID, c.ComparedAlternativeID, c.CriterionID}
			row, ok := byKey[k]
			if !ok {
				return invalid("evaluations", "no cell for alternative %s, compared %q, criterion %s",
					c.AlternativeID, c.ComparedAlternativeID, c.CriterionID)
			}
			v := c.Value
			if !v.IsNull() {
				snap, ok := snapByID[row.DomainID]
				if !ok {
					return integrityf("cell %s references a missing domain snapshot", row.ID)
				}
				if v, err = domains.Normalize(snap, v); err != nil {
					return err
				}
			}
			row.Value = v
			changed[k] = true
		}

		var lastPhase int
		if submit {
			if lastPhase, err = r.LastPhase(ctx, issueID); err != nil {
				return err
			}
			if err := checkComplete(rows, byKey, snapByID); err != nil {
				return err
			}
		}

		now := e.now()
		for _, row := range rows {
			if !submit && !changed[keyOf(row)] {
				continue
			}
			if submit {
				phase := lastPhase + 1
				row.Timestamp = &now
				row.ConsensusPhase = &phase
			}
			if err := r.SaveEvaluation(ctx, row); err != nil {
				return err
			}
		}

		if submit {
			p.EvaluationCompleted = true
			return r.UpdateParticipation(ctx, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if submit {
		logger.Info("Evaluations submitted", zap.String("issue_id", issueID), zap.String("user_id", userID))
		e.publish(issueID, EventEvaluationsSubmitted, userID)
	}
	return nil
}

// checkComplete requires every pairwise value to have its mirrored comparison
// filled, then every cell to hold a value legal in its domain.
func checkComplete(rows []*models.Evaluation, byKey map[cellKey]*models.Evaluation, snaps map[string]*models.IssueExpressionDomain) error {
	for _, row := range rows {
		if row.ComparedAlternativeID == "" || row.Value.IsNull() {
			continue
		}
		inv, ok := byKey[cellKey{row.ComparedAlternativeID, row.AlternativeID, row.CriterionID}]
		if !ok || inv.Value.IsNull() {
			return invalid("evaluations", "the inverse comparison of %s vs %s on %s is missing",
				row.ComparedAlternativeID, row.AlternativeID, row.CriterionID)
		}
	}
	for _, row := range rows {
		if row.Value.IsNull() {
			return invalid("evaluations", "cell for alternative %s on criterion %s is empty",
				row.AlternativeID, row.CriterionID)
		}
		snap, ok := snaps[row.DomainID]
		if !ok {
			return integrityf("cell %s references a missing domain snapshot", row.ID)
		}
		if _, err := domains.Normalize(snap, row.Value); err != nil {
			return err
		}
	}
	return nil
}

func integrityf(format string, args ...interface{}) *Error {
	return newError(KindIntegrity, "", format, args...)
}

// EvaluationsView is the caller's cells plus the latest collective result.
type EvaluationsView struct {
	Cells                 []*models.Evaluation
	Snapshots             []*models.IssueExpressionDomain
	CollectiveEvaluations map[string]json.RawMessage
	LastPhase             int
}

func (e *Engine) GetEvaluations(ctx context.Context, userID, issueID string) (*EvaluationsView, error) {
	v, err := e.getEvaluations(ctx, userID, issueID)
	return v, classify(err)
}

func (e *Engine) getEvaluations(ctx context.Context, userID, issueID string) (*EvaluationsView, error) {
	if _, err := e.memberIssue(ctx, userID, issueID); err != nil {
		return nil, err
	}
	cells, err := e.db.ListExpertEvaluations(ctx, issueID, userID)
	if err != nil {
		return nil, err
	}
	snaps, err := e.db.ListSnapshots(ctx, issueID)
	if err != nil {
		return nil, err
	}
	lastPhase, err := e.db.LastPhase(ctx, issueID)
	if err != nil {
		return nil, err
	}

	v := &EvaluationsView{Cells: cells, Snapshots: snaps, LastPhase: lastPhase}
	if lastPhase > 0 {
		last, err := e.db.GetLastConsensus(ctx, issueID)
		if err != nil {
			return nil, err
		}
		v.CollectiveEvaluations = last.CollectiveEvaluations
	}
	return v, nil
}
