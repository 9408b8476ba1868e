package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/params"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

// BWMInput is one best-worst submission keyed by leaf criterion name.
type BWMInput struct {
	BestCriterion  string             `json:"bestCriterion"`
	WorstCriterion string             `json:"worstCriterion"`
	BestToOthers   map[string]float64 `json:"bestToOthers"`
	OthersToWorst  map[string]float64 `json:"othersToWorst"`
}

// validate checks names and scores. Drafts may leave entries out; a complete
// submission scores every leaf on the 1-9 scale with the best and worst
// criteria scoring themselves 1.
func (b *BWMInput) validate(leaves []string, complete bool) error {
	isLeaf := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		isLeaf[l] = true
	}

	for field, name := range map[string]string{"bestCriterion": b.BestCriterion, "worstCriterion": b.WorstCriterion} {
		if name == "" {
			if complete {
				return invalid("bwm."+field, "is required")
			}
			continue
		}
		if !isLeaf[name] {
			return invalid("bwm."+field, "unknown leaf criterion %q", name)
		}
	}
	if complete && len(leaves) > 1 && b.BestCriterion == b.WorstCriterion {
		return invalid("bwm", "best and worst criteria must differ")
	}

	check := func(field string, m map[string]float64, self string) error {
		for name, v := range m {
			if !isLeaf[name] {
				return invalid("bwm."+field, "unknown leaf criterion %q", name)
			}
			if v < 1 || v > 9 || v != math.Trunc(v) {
				return invalid("bwm."+field, "score for %q must be an integer from 1 to 9", name)
			}
			if name == self && v != 1 {
				return invalid("bwm."+field, "%q compared with itself must score 1", name)
			}
		}
		if complete {
			for _, l := range leaves {
				if _, ok := m[l]; !ok {
					return invalid("bwm."+field, "missing score for %q", l)
				}
			}
		}
		return nil
	}
	if err := check("bestToOthers", b.BestToOthers, b.BestCriterion); err != nil {
		return err
	}
	return check("othersToWorst", b.OthersToWorst, b.WorstCriterion)
}

// vectors lays the scores out in the given leaf order.
func (b *BWMInput) vectors(order []string) solver.BWMInput {
	out := solver.BWMInput{MIC: make([]float64, len(order)), LIC: make([]float64, len(order))}
	for i, name := range order {
		out.MIC[i] = b.BestToOthers[name]
		out.LIC[i] = b.OthersToWorst[name]
	}
	return out
}

// WeightsInput is an expert's weighting submission. Best-worst issues fill
// BWM; plain consensus issues fill Manual, keyed by leaf name.
type WeightsInput struct {
	BWM    *BWMInput          `json:"bwm,omitempty"`
	Manual map[string]float64 `json:"manualWeights,omitempty"`
}

func validateManual(m map[string]float64, leaves []string, complete bool) error {
	isLeaf := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		isLeaf[l] = true
	}
	for name, v := range m {
		if !isLeaf[name] {
			return invalid("manualWeights", "unknown leaf criterion %q", name)
		}
		if v < 0 || v > 1 || math.IsNaN(v) {
			return invalid("manualWeights", "weight for %q must be in [0, 1]", name)
		}
	}
	if complete {
		for _, l := range leaves {
			if _, ok := m[l]; !ok {
				return invalid("manualWeights", "missing weight for %q", l)
			}
		}
	}
	return nil
}

func (e *Engine) SaveWeightsDraft(ctx context.Context, userID, issueID string, in WeightsInput) error {
	return classify(e.saveWeights(ctx, userID, issueID, in, false))
}

// SubmitWeights stores a complete weighting and moves the issue on once every
// remaining participant has submitted.
func (e *Engine) SubmitWeights(ctx context.Context, userID, issueID string, in WeightsInput) error {
	return classify(e.saveWeights(ctx, userID, issueID, in, true))
}

func (e *Engine) saveWeights(ctx context.Context, userID, issueID string, in WeightsInput, complete bool) error {
	release, err := e.lock(ctx, issueID, "weights")
	if err != nil {
		return err
	}
	defer release()

	var advanced bool
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
		if err := lifecycle.RequireStage(issue, models.StageCriteriaWeighting); err != nil {
			return err
		}

		crits, err := r.ListCriteria(ctx, issueID)
		if err != nil {
			return err
		}
		var leaves []string
		for _, c := range crits {
			if c.IsLeaf {
				leaves = append(leaves, c.Name)
			}
		}

		w := &models.CriteriaWeightEvaluation{IssueID: issueID, ExpertID: userID, Completed: complete, UpdatedAt: e.now()}
		if prev, err := r.GetWeightEvaluation(ctx, issueID, userID); err == nil {
			if prev.Completed {
				return conflict("weights", "weights were already submitted")
			}
			w.ID = prev.ID
		} else if !errors.Is(err, sqlite.ErrNotFound) {
			return err
		} else {
			w.ID = uuid.New().String()
		}

		switch issue.WeightingMode {
		case models.WeightingConsensusBWM:
			if in.BWM == nil {
				return invalid("bwm", "is required")
			}
			if err := in.BWM.validate(leaves, complete); err != nil {
				return err
			}
			w.BestCriterion, w.WorstCriterion = in.BWM.BestCriterion, in.BWM.WorstCriterion
			w.BestToOthers, w.OthersToWorst = in.BWM.BestToOthers, in.BWM.OthersToWorst
		default:
			if err := validateManual(in.Manual, leaves, complete); err != nil {
				return err
			}
			w.ManualWeights = in.Manual
		}
		if err := r.UpsertWeightEvaluation(ctx, w); err != nil {
			return err
		}
		if !complete {
			return nil
		}

		p.WeightsCompleted = true
		if err := r.UpdateParticipation(ctx, p); err != nil {
			return err
		}
		advanced, err = advanceIfWeighted(ctx, r, issue)
		return err
	})
	if err != nil {
		return err
	}

	if complete {
		logger.Info("Weights submitted", zap.String("issue_id", issueID), zap.String("user_id", userID))
		e.publish(issueID, EventWeightsSubmitted, userID)
	}
	if advanced {
		e.publish(issueID, EventStageChanged, string(models.StageWeightsFinished))
	}
	return nil
}

// weightVector lays crisp weights out as the parameter kind a model declares.
func weightVector(crisp []float64, kind models.ParamKind) (models.ParamValue, error) {
	w, ok := params.CoerceWeights(models.ArrayParam(crisp), kind)
	if !ok {
		return models.ParamValue{}, integrityf("weights cannot be stored as a %s parameter", kind)
	}
	return w, nil
}

// advanceIfWeighted moves a weighting issue to weightsFinished once every
// non-declined participant has submitted.
func advanceIfWeighted(ctx context.Context, r *sqlite.Repo, issue *models.Issue) (bool, error) {
	if issue.CurrentStage != models.StageCriteriaWeighting {
		return false, nil
	}
	parts, err := r.ListParticipations(ctx, issue.ID)
	if err != nil {
		return false, err
	}
	if !lifecycle.WeightsComplete(parts) {
		return false, nil
	}
	issue.CurrentStage = models.StageWeightsFinished
	return true, r.UpdateIssue(ctx, issue)
}

// GetWeights returns the caller's stored weighting, or nil.
func (e *Engine) GetWeights(ctx context.Context, userID, issueID string) (*models.CriteriaWeightEvaluation, error) {
	if _, err := e.memberIssue(ctx, userID, issueID); err != nil {
		return nil, classify(err)
	}
	w, err := e.db.GetWeightEvaluation(ctx, issueID, userID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, nil
	}
	return w, classify(err)
}

// memberIssue loads the issue for its admin or a participant.
func (e *Engine) memberIssue(ctx context.Context, userID, issueID string) (*models.Issue, error) {
	issue, err := e.getIssue(ctx, e.db.Repo, issueID)
	if err != nil {
		return nil, err
	}
	ok, err := canView(ctx, e.db.Repo, issue, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbidden("you are not part of this issue")
	}
	return issue, nil
}

// ComputeWeights aggregates every submitted weighting into the issue's
// weights and opens alternative evaluation. Best-worst submissions are
// aggregated by the model service; manual ones are averaged and normalized.
func (e *Engine) ComputeWeights(ctx context.Context, adminID, issueID string) (models.ParamValue, error) {
	w, err := e.computeWeights(ctx, adminID, issueID)
	return w, classify(err)
}

func (e *Engine) computeWeights(ctx context.Context, adminID, issueID string) (models.ParamValue, error) {
	release, err := e.lock(ctx, issueID, "compute_weights")
	if err != nil {
		return models.ParamValue{}, err
	}
	defer release()

	issue, err := e.adminIssue(ctx, e.db.Repo, issueID, adminID)
	if err != nil {
		return models.ParamValue{}, err
	}
	parts, err := e.db.ListParticipations(ctx, issueID)
	if err != nil {
		return models.ParamValue{}, err
	}
	if err := lifecycle.CanComputeWeights(issue, parts); err != nil {
		return models.ParamValue{}, err
	}
	model, err := e.db.GetModel(ctx, issue.ModelID)
	if err != nil {
		return models.ParamValue{}, err
	}
	if _, err := e.orderer.EnsureOrder(ctx, e.db.Repo, issue); err != nil {
		return models.ParamValue{}, err
	}
	ordered, err := e.orderer.Load(ctx, e.db.Repo, issue)
	if err != nil {
		return models.ParamValue{}, err
	}
	order := make([]string, len(ordered.Leaves))
	for i, l := range ordered.Leaves {
		order[i] = l.Name
	}

	submitted, err := e.db.ListWeightEvaluations(ctx, issueID)
	if err != nil {
		return models.ParamValue{}, err
	}
	counted := map[string]bool{}
	for _, p := range parts {
		if p.InvitationStatus != models.InvitationDeclined {
			counted[p.ExpertID] = true
		}
	}
	var rows []*models.CriteriaWeightEvaluation
	for _, w := range submitted {
		if w.Completed && counted[w.ExpertID] {
			rows = append(rows, w)
		}
	}
	if len(rows) == 0 {
		return models.ParamValue{}, precondition("weights", "no submitted weights to aggregate")
	}

	var crisp []float64
	if issue.WeightingMode == models.WeightingConsensusBWM {
		crisp, err = e.aggregateBWM(ctx, rows, order)
		if err != nil {
			return models.ParamValue{}, err
		}
	} else {
		crisp = averageManual(rows, order)
	}

	kind := models.ParamArray
	spec, declared := model.Param("weights")
	if declared && spec.Type != models.ParamNumber {
		kind = spec.Type
	}
	weights, err := weightVector(crisp, kind)
	if err != nil {
		return models.ParamValue{}, err
	}
	if declared {
		if err := params.Validate(spec, weights, len(order)); err != nil {
			return models.ParamValue{}, err
		}
	}

	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		current, err := r.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if current.CurrentStage != models.StageWeightsFinished {
			return conflict("issue", "the issue changed while weights were being computed")
		}
		current.ModelParameters = current.ModelParameters.Clone()
		current.ModelParameters["weights"] = weights
		current.CurrentStage = models.StageAlternativeEvaluation
		if err := r.UpdateIssue(ctx, current); err != nil {
			return err
		}
		now := e.now()
		for _, p := range lifecycle.Accepted(parts) {
			msg := fmt.Sprintf("Criteria weights of %q are ready; alternatives can now be evaluated", current.Name)
			if err := notify(ctx, r, current, p.ExpertID, NotificationStage, msg, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.ParamValue{}, err
	}

	logger.Info("Criteria weights computed",
		zap.String("issue_id", issueID),
		zap.String("mode", string(issue.WeightingMode)),
		zap.Int("submissions", len(rows)),
	)
	e.publish(issueID, EventWeightsComputed, string(models.StageAlternativeEvaluation))
	return weights, nil
}

func (e *Engine) aggregateBWM(ctx context.Context, rows []*models.CriteriaWeightEvaluation, order []string) ([]float64, error) {
	ids := make([]string, len(rows))
	for i, w := range rows {
		ids[i] = w.ExpertID
	}
	users, err := e.db.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	experts := make(map[string]solver.BWMInput, len(rows))
	for _, w := range rows {
		u, ok := users[w.ExpertID]
		if !ok {
			continue
		}
		in := BWMInput{BestToOthers: w.BestToOthers, OthersToWorst: w.OthersToWorst}
		experts[u.Email] = in.vectors(order)
	}
	weights, err := e.solver.BWM(ctx, experts)
	if err != nil {
		return nil, err
	}
	if len(weights) != len(order) {
		return nil, &solver.RemoteError{Endpoint: solver.EndpointBWM,
			Msg: fmt.Sprintf("model service returned %d weights for %d criteria", len(weights), len(order))}
	}
	return weights, nil
}

// averageManual averages each criterion across experts and normalizes the
// result to sum 1. All-zero input falls back to equal weights.
func averageManual(rows []*models.CriteriaWeightEvaluation, order []string) []float64 {
	out := make([]float64, len(order))
	for _, w := range rows {
		for i, name := range order {
			out[i] += w.ManualWeights[name]
		}
	}
	var sum float64
	for i := range out {
		out[i] /= float64(len(rows))
		sum += out[i]
	}
	for i := range out {
		if sum == 0 {
			out[i] = 1 / float64(len(out))
		} else {
			out[i] /= sum
		}
	}
	return out
}
