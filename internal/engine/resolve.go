package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/metrics"
	"github.com/decisionhub/backend/internal/params"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

type ResolveResult struct {
	Phase    int                        `json:"phase"`
	Level    *float64                   `json:"level,omitempty"`
	Finished bool                       `json:"finished"`
	Reason   lifecycle.Reason           `json:"reason"`
	Ranking  []models.RankedAlternative `json:"ranking"`
}

// Resolve runs one round: it assembles the matrices of every accepted expert,
// sends them to the issue's model, records the result as the next consensus
// phase, and either finishes the issue or opens a new round. force finishes a
// consensus issue regardless of its level.
func (e *Engine) Resolve(ctx context.Context, adminID, issueID string, force bool) (*ResolveResult, error) {
	release, err := e.lock(ctx, issueID, "resolve")
	if err != nil {
		return nil, classify(err)
	}
	defer release()

	issue, err := e.adminIssue(ctx, e.db.Repo, issueID, adminID)
	if err != nil {
		return nil, classify(err)
	}
	res, err := e.resolve(ctx, issue, force)
	return res, classify(err)
}

// resolve expects the caller to hold the issue lock. The model call happens
// outside any transaction; the commit re-checks that nothing it read moved.
func (e *Engine) resolve(ctx context.Context, issue *models.Issue, force bool) (*ResolveResult, error) {
	start := time.Now()

	parts, err := e.db.ListParticipations(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanResolve(issue, parts); err != nil {
		return nil, err
	}
	if _, err := e.orderer.EnsureOrder(ctx, e.db.Repo, issue); err != nil {
		return nil, err
	}
	rd, err := e.loadRound(ctx, e.db.Repo, issue, parts)
	if err != nil {
		return nil, err
	}
	mats, err := rd.matrices(rd.model.IsPairwise)
	if err != nil {
		return nil, err
	}

	resolved, err := params.Resolve(rd.model.Parameters, issue.ModelParameters, nil, len(rd.ordered.Leaves))
	if err != nil {
		return nil, err
	}
	if w, ok := issue.ModelParameters["weights"]; ok {
		if _, declared := resolved["weights"]; !declared {
			resolved["weights"] = w
		}
	}
	req := solver.Request{
		Matrices:        mats.Payload(),
		ModelParameters: resolved.Plain(),
		CriterionTypes:  rd.criterionTypes(),
	}
	if issue.IsConsensus {
		req.ConsensusThreshold = issue.ConsensusThreshold
	}

	raw, err := e.solver.Run(ctx, rd.model.Endpoint, req)
	if err != nil {
		return nil, err
	}
	outcome, err := solver.Normalize(raw, rd.model.IsPairwise, rd.ordered.Alternatives, rd.ordered.Leaves, mats.ExpertsOrder)
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Msg: err.Error(), Err: err}
	}

	phase := rd.lastPhase + 1
	decision := lifecycle.Terminate(issue, phase, outcome.Level, force)
	inRound := make(map[string]bool, len(rd.experts))
	for _, x := range rd.experts {
		inRound[x.ID] = true
	}

	var notified []string
	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		current, err := r.GetIssue(ctx, issue.ID)
		if err != nil {
			return err
		}
		if !current.Active || current.CurrentStage != models.StageAlternativeEvaluation {
			return conflict("issue", "the issue changed while the round was being computed")
		}
		last, err := r.LastPhase(ctx, issue.ID)
		if err != nil {
			return err
		}
		nowParts, err := r.ListParticipations(ctx, issue.ID)
		if err != nil {
			return err
		}
		if last != rd.lastPhase || fingerprint(nowParts) != fingerprint(parts) {
			return conflict("issue", "the issue changed while the round was being computed")
		}

		now := e.now()
		if err := r.CreateConsensus(ctx, &models.Consensus{
			ID:                    uuid.New().String(),
			IssueID:               issue.ID,
			Phase:                 phase,
			Level:                 outcome.Level,
			Timestamp:             now,
			Details:               outcome.Details,
			CollectiveEvaluations: outcome.CollectiveEvaluations,
		}); err != nil {
			return err
		}

		// Archive the value each cell held for this phase; the next round
		// edits the live value.
		evals, err := r.ListEvaluations(ctx, issue.ID)
		if err != nil {
			return err
		}
		for _, ev := range evals {
			if !inRound[ev.ExpertID] || ev.ConsensusPhase == nil {
				continue
			}
			ts := now
			if ev.Timestamp != nil {
				ts = *ev.Timestamp
			}
			if err := ev.History.Append(models.HistoryEntry{Phase: *ev.ConsensusPhase, Value: ev.Value, Timestamp: ts}); err != nil {
				return fmt.Errorf("evaluation %s: %w", ev.ID, err)
			}
			next := phase + 1
			ev.ConsensusPhase = &next
			if err := r.SaveEvaluation(ctx, ev); err != nil {
				return err
			}
		}

		if decision.Terminal {
			current.Active = false
			current.CurrentStage = models.StageFinished
		} else if err := r.ResetEvaluationCompleted(ctx, issue.ID); err != nil {
			return err
		}
		if err := r.UpdateIssue(ctx, current); err != nil {
			return err
		}

		kind, msg := NotificationNewRound, fmt.Sprintf("Round %d of %q is open; please review your evaluations", phase+1, current.Name)
		if decision.Terminal {
			kind, msg = NotificationFinished, fmt.Sprintf("The issue %q has finished", current.Name)
		}
		for _, x := range rd.experts {
			if x.ID == current.AdminID {
				continue
			}
			if err := notify(ctx, r, current, x.ID, kind, msg, now); err != nil {
				return err
			}
			notified = append(notified, x.Email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ResolveDuration.WithLabelValues(rd.model.Name).Observe(time.Since(start).Seconds())
	metrics.ConsensusRounds.WithLabelValues(string(decision.Reason)).Inc()
	if outcome.Level != nil {
		metrics.ConsensusLevel.Observe(*outcome.Level)
	}

	res := &ResolveResult{
		Phase:    phase,
		Level:    outcome.Level,
		Finished: decision.Terminal,
		Reason:   decision.Reason,
		Ranking:  outcome.Details.Ranking,
	}
	logger.Info("Round resolved",
		zap.String("issue_id", issue.ID),
		zap.Int("phase", phase),
		zap.Bool("finished", decision.Terminal),
		zap.String("reason", string(decision.Reason)),
	)
	e.publish(issue.ID, EventRoundResolved, res)
	if decision.Terminal {
		e.publish(issue.ID, EventIssueFinished, issue.ID)
		e.mail(notified, "Issue finished", fmt.Sprintf("The issue %q has finished.", issue.Name))
	} else {
		e.mail(notified, "New consensus round", fmt.Sprintf("A new round of %q is open.", issue.Name))
	}
	return res, nil
}

// ConsensusHistory returns every recorded phase, oldest first.
func (e *Engine) ConsensusHistory(ctx context.Context, userID, issueID string) ([]*models.Consensus, error) {
	if _, err := e.memberIssue(ctx, userID, issueID); err != nil {
		return nil, classify(err)
	}
	out, err := e.db.ListConsensus(ctx, issueID)
	return out, classify(err)
}
