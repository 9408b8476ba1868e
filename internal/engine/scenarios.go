package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

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

type ScenarioInput struct {
	Name           string                 `json:"scenarioName"`
	TargetModel    string                 `json:"targetModel"`
	ParamOverrides map[string]interface{} `json:"paramOverrides,omitempty"`
}

// CreateScenario reruns the issue's current evaluations through another
// model. Nothing about the issue changes; the run is stored self-contained
// and only when the model answers.
func (e *Engine) CreateScenario(ctx context.Context, adminID, issueID string, in ScenarioInput) (*models.IssueScenario, error) {
	s, err := e.createScenario(ctx, adminID, issueID, in)
	return s, classify(err)
}

func (e *Engine) createScenario(ctx context.Context, adminID, issueID string, in ScenarioInput) (*models.IssueScenario, error) {
	release, err := e.lock(ctx, issueID, "scenario")
	if err != nil {
		return nil, err
	}
	defer release()

	issue, err := e.adminIssue(ctx, e.db.Repo, issueID, adminID)
	if err != nil {
		return nil, err
	}
	target, err := e.findModel(ctx, in.TargetModel)
	if err != nil {
		return nil, err
	}
	parts, err := e.db.ListParticipations(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanSimulate(parts); err != nil {
		return nil, err
	}

	rd, err := e.loadRound(ctx, e.db.Repo, issue, parts)
	if err != nil {
		return nil, err
	}
	if target.IsPairwise != rd.model.IsPairwise {
		return nil, precondition("targetModel", "%s and %s do not use the same evaluation structure", target.Name, rd.model.Name)
	}
	domainType, err := singleDomainType(rd.domainTypes())
	if err != nil {
		return nil, err
	}
	if !target.SupportsDomain(domainType) {
		return nil, precondition("targetModel", "%s does not accept %s domains", target.Name, domainType)
	}

	mats, err := rd.matrices(target.IsPairwise)
	if err != nil {
		return nil, err
	}

	leafCount := len(rd.ordered.Leaves)
	base := issue.ModelParameters.Clone()
	if spec, ok := target.Param("weights"); ok {
		if w, has := base["weights"]; has {
			if coerced, ok := params.CoerceWeights(w, spec.Type); ok {
				base["weights"] = coerced
			}
		}
	}
	resolved, err := params.Resolve(target.Parameters, base, in.ParamOverrides, leafCount)
	if err != nil {
		return nil, err
	}

	req := solver.Request{
		Matrices:        mats.Payload(),
		ModelParameters: resolved.Plain(),
		CriterionTypes:  rd.criterionTypes(),
	}
	if target.IsConsensus {
		threshold := e.cfg.DefaultThreshold
		if issue.ConsensusThreshold != nil {
			threshold = *issue.ConsensusThreshold
		}
		req.ConsensusThreshold = &threshold
	}

	raw, err := e.solver.Run(ctx, target.Endpoint, req)
	if err != nil {
		return nil, err
	}
	outcome, err := solver.Normalize(raw, target.IsPairwise, rd.ordered.Alternatives, rd.ordered.Leaves, mats.ExpertsOrder)
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Msg: err.Error(), Err: err}
	}

	matricesUsed, err := json.Marshal(mats)
	if err != nil {
		return nil, err
	}
	inputs := models.ScenarioInputs{
		ConsensusPhaseUsed: rd.lastPhase,
		ExpertsOrder:       mats.ExpertsOrder,
		MatricesUsed:       matricesUsed,
		SnapshotIDsUsed:    mats.SnapshotIDs,
	}
	for _, a := range rd.ordered.Alternatives {
		inputs.Alternatives = append(inputs.Alternatives, models.NamedRef{ID: a.ID, Name: a.Name})
	}
	for _, c := range rd.ordered.Leaves {
		inputs.Criteria = append(inputs.Criteria, models.ScenarioCriterion{ID: c.ID, Name: c.Name, CriterionType: c.Type})
	}
	if w, ok := resolved["weights"]; ok {
		inputs.WeightsUsed = &w
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = target.Name
	}
	s := &models.IssueScenario{
		ID:              uuid.New().String(),
		IssueID:         issueID,
		CreatedBy:       adminID,
		Name:            name,
		TargetModelID:   target.ID,
		TargetModelName: target.Name,
		DomainType:      domainType,
		IsPairwise:      target.IsPairwise,
		Status:          models.ScenarioDone,
		Config:          models.ScenarioConfig{ModelParameters: resolved, CriterionTypes: req.CriterionTypes},
		Inputs:          inputs,
		Outputs: models.ScenarioOutputs{
			Details:               outcome.Details,
			CollectiveEvaluations: outcome.CollectiveEvaluations,
			Level:                 outcome.Level,
			RawResults:            raw,
		},
		CreatedAt: e.now(),
	}
	if err := e.db.CreateScenario(ctx, s); err != nil {
		return nil, err
	}

	metrics.ScenariosCreated.WithLabelValues(target.Name).Inc()
	logger.Info("Scenario created",
		zap.String("issue_id", issueID),
		zap.String("scenario_id", s.ID),
		zap.String("model", target.Name),
	)
	e.publish(issueID, EventScenarioCreated, s.ID)
	return s, nil
}

// singleDomainType is the one snapshot type a scenario can be replayed with.
func singleDomainType(types []models.DomainType) (models.DomainType, error) {
	switch len(types) {
	case 0:
		return "", precondition("issue", "cannot detect the expression domain type of the issue")
	case 1:
		return types[0], nil
	}
	return "", precondition("targetModel", "the issue mixes numeric and linguistic domains")
}

// findModel accepts a catalog id or name.
func (e *Engine) findModel(ctx context.Context, ref string) (*models.IssueModel, error) {
	m, err := e.db.GetModel(ctx, ref)
	if errors.Is(err, sqlite.ErrNotFound) {
		m, err = e.db.GetModelByName(ctx, ref)
	}
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, invalid("targetModel", "unknown model %q", ref)
	}
	return m, err
}

func (e *Engine) ListScenarios(ctx context.Context, userID, issueID string) ([]*models.IssueScenario, error) {
	if _, err := e.memberIssue(ctx, userID, issueID); err != nil {
		return nil, classify(err)
	}
	out, err := e.db.ListScenarios(ctx, issueID)
	return out, classify(err)
}

func (e *Engine) GetScenario(ctx context.Context, userID, issueID, scenarioID string) (*models.IssueScenario, error) {
	if _, err := e.memberIssue(ctx, userID, issueID); err != nil {
		return nil, classify(err)
	}
	s, err := e.db.GetScenario(ctx, issueID, scenarioID)
	return s, classify(err)
}

// DeleteScenario is open to the issue admin and the scenario's author.
func (e *Engine) DeleteScenario(ctx context.Context, userID, issueID, scenarioID string) error {
	issue, err := e.getIssue(ctx, e.db.Repo, issueID)
	if err != nil {
		return classify(err)
	}
	s, err := e.db.GetScenario(ctx, issueID, scenarioID)
	if err != nil {
		return classify(err)
	}
	if issue.AdminID != userID && s.CreatedBy != userID {
		return forbidden("only the issue admin or the scenario author can delete it")
	}
	return classify(e.db.DeleteScenario(ctx, issueID, scenarioID))
}
