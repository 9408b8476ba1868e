package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/metrics"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

type CloseOutcome struct {
	IssueID string                `json:"issueId"`
	Action  lifecycle.CloseAction `json:"action"`
	Err     string                `json:"error,omitempty"`
}

// AutoClose handles every active issue whose closure date falls on or before
// the day of now. An issue whose evaluations are all in is resolved, forcing
// consensus issues to finish; one that never produced a result is removed;
// anything else is finalized as it stands. A failing issue does not stop the
// others.
func (e *Engine) AutoClose(ctx context.Context, now time.Time) ([]CloseOutcome, error) {
	y, m, d := now.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(24*time.Hour - time.Millisecond)

	due, err := e.db.ListIssuesDueForClosure(ctx, cutoff)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]CloseOutcome, 0, len(due))
	for _, issue := range due {
		action, err := e.closeIssue(ctx, issue)
		res := CloseOutcome{IssueID: issue.ID, Action: action}
		status := "success"
		if err != nil {
			status = "error"
			res.Err = classify(err).Error()
			logger.Warn("Automatic closure failed",
				zap.String("issue_id", issue.ID),
				zap.String("action", string(action)),
				zap.Error(err),
			)
		}
		metrics.AutoCloseActions.WithLabelValues(string(action), status).Inc()
		out = append(out, res)
	}

	logger.Info("Automatic closure pass finished", zap.Int("issues", len(due)))
	return out, nil
}

func (e *Engine) closeIssue(ctx context.Context, issue *models.Issue) (lifecycle.CloseAction, error) {
	release, err := e.lock(ctx, issue.ID, "autoclose")
	if err != nil {
		return "", err
	}
	defer release()

	parts, err := e.db.ListParticipations(ctx, issue.ID)
	if err != nil {
		return "", err
	}
	lastPhase, err := e.db.LastPhase(ctx, issue.ID)
	if err != nil {
		return "", err
	}

	action := lifecycle.AutoClose(issue, parts, lastPhase)
	switch action {
	case lifecycle.CloseResolve:
		_, err = e.resolve(ctx, issue, issue.IsConsensus)
	case lifecycle.CloseRemove:
		err = e.removeIssue(ctx, issue, "closed without a result")
	case lifecycle.CloseFinalize:
		err = e.finalize(ctx, issue.ID)
	}
	return action, err
}

// finalize ends an issue as it stands, keeping its last recorded phase as the
// result.
func (e *Engine) finalize(ctx context.Context, issueID string) error {
	err := e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		issue, err := r.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if !issue.Active {
			return nil
		}
		issue.Active = false
		issue.CurrentStage = models.StageFinished
		return r.UpdateIssue(ctx, issue)
	})
	if err != nil {
		return err
	}
	logger.Info("Issue finalized at closure date", zap.String("issue_id", issueID))
	e.publish(issueID, EventIssueFinished, issueID)
	return nil
}
