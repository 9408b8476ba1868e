package handlers

import (
	"encoding/json"
	"time"

	"github.com/decisionhub/backend/internal/criteria"
	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/storage/models"
)

// Views give stored entities their wire names.

type userView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newUserView(u *models.User) userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email}
}

type issueView struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	Model              string               `json:"model"`
	IsConsensus        bool                 `json:"isConsensus"`
	ConsensusThreshold *float64             `json:"consensusThreshold,omitempty"`
	ConsensusMaxPhases *int                 `json:"consensusMaxPhases,omitempty"`
	Active             bool                 `json:"active"`
	CurrentStage       models.Stage         `json:"currentStage"`
	WeightingMode      models.WeightingMode `json:"weightingMode"`
	ModelParameters    models.Params        `json:"modelParameters"`
	CreationDate       time.Time            `json:"creationDate"`
	ClosureDate        *time.Time           `json:"closureDate,omitempty"`
}

func newIssueView(is *models.Issue) issueView {
	return issueView{
		ID:                 is.ID,
		Name:               is.Name,
		Description:        is.Description,
		Model:              is.ModelName,
		IsConsensus:        is.IsConsensus,
		ConsensusThreshold: is.ConsensusThreshold,
		ConsensusMaxPhases: is.ConsensusMaxPhases,
		Active:             is.Active,
		CurrentStage:       is.CurrentStage,
		WeightingMode:      is.WeightingMode,
		ModelParameters:    is.ModelParameters,
		CreationDate:       is.CreationDate,
		ClosureDate:        is.ClosureDate,
	}
}

type summaryView struct {
	issueView
	IsAdmin          bool                    `json:"isAdmin"`
	InvitationStatus models.InvitationStatus `json:"invitationStatus,omitempty"`
	ActionRequired   bool                    `json:"actionRequired"`
}

func newSummaries(list []engine.IssueSummary) []summaryView {
	out := make([]summaryView, 0, len(list))
	for _, s := range list {
		out = append(out, summaryView{
			issueView:        newIssueView(s.Issue),
			IsAdmin:          s.IsAdmin,
			InvitationStatus: s.InvitationStatus,
			ActionRequired:   s.ActionRequired,
		})
	}
	return out
}

type leafView struct {
	ID   string               `json:"id"`
	Name string               `json:"name"`
	Type models.CriterionType `json:"type"`
}

type consensusView struct {
	Phase                 int                        `json:"phase"`
	Level                 *float64                   `json:"level,omitempty"`
	Timestamp             time.Time                  `json:"timestamp"`
	Details               models.ConsensusDetails    `json:"details"`
	CollectiveEvaluations map[string]json.RawMessage `json:"collectiveEvaluations,omitempty"`
}

func newConsensusView(c *models.Consensus) consensusView {
	return consensusView{
		Phase:                 c.Phase,
		Level:                 c.Level,
		Timestamp:             c.Timestamp,
		Details:               c.Details,
		CollectiveEvaluations: c.CollectiveEvaluations,
	}
}

func newConsensusViews(list []*models.Consensus) []consensusView {
	out := make([]consensusView, 0, len(list))
	for _, c := range list {
		out = append(out, newConsensusView(c))
	}
	return out
}

type domainView struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	Type             models.DomainType        `json:"type"`
	Global           bool                     `json:"global,omitempty"`
	NumericRange     *models.NumericRange     `json:"numericRange,omitempty"`
	LinguisticLabels []models.LinguisticLabel `json:"linguisticLabels,omitempty"`
}

func newDomainView(d *models.ExpressionDomain) domainView {
	return domainView{
		ID:               d.ID,
		Name:             d.Name,
		Type:             d.Type,
		Global:           d.OwnerID == "",
		NumericRange:     d.NumericRange,
		LinguisticLabels: d.LinguisticLabels,
	}
}

func newSnapshotViews(list []*models.IssueExpressionDomain) []domainView {
	out := make([]domainView, 0, len(list))
	for _, s := range list {
		out = append(out, domainView{
			ID:               s.ID,
			Name:             s.Name,
			Type:             s.Type,
			NumericRange:     s.NumericRange,
			LinguisticLabels: s.LinguisticLabels,
		})
	}
	return out
}

type issueDetailView struct {
	Issue          issueView             `json:"issue"`
	IsAdmin        bool                  `json:"isAdmin"`
	Admin          string                `json:"admin"`
	Alternatives   []models.NamedRef     `json:"alternatives"`
	Criteria       []*criteria.TreeNode  `json:"criteria"`
	LeafCriteria   []leafView            `json:"leafCriteria"`
	Experts        []engine.ExpertStatus `json:"experts"`
	Domains        []domainView          `json:"domains"`
	ConsensusPhase int                   `json:"consensusPhase"`
	LastConsensus  *consensusView        `json:"lastConsensus,omitempty"`
}

func newIssueDetailView(d *engine.IssueDetail) issueDetailView {
	v := issueDetailView{
		Issue:          newIssueView(d.Issue),
		IsAdmin:        d.IsAdmin,
		Admin:          d.AdminEmail,
		Criteria:       d.Criteria,
		Experts:        d.Experts,
		Domains:        newSnapshotViews(d.Snapshots),
		ConsensusPhase: d.LastPhase,
	}
	for _, a := range d.Alternatives {
		v.Alternatives = append(v.Alternatives, models.NamedRef{ID: a.ID, Name: a.Name})
	}
	for _, l := range d.Leaves {
		v.LeafCriteria = append(v.LeafCriteria, leafView{ID: l.ID, Name: l.Name, Type: l.Type})
	}
	if v.Experts == nil {
		v.Experts = []engine.ExpertStatus{}
	}
	if d.LastConsensus != nil {
		cv := newConsensusView(d.LastConsensus)
		v.LastConsensus = &cv
	}
	return v
}

type cellView struct {
	AlternativeID         string           `json:"alternativeId"`
	ComparedAlternativeID string           `json:"comparedAlternativeId,omitempty"`
	CriterionID           string           `json:"criterionId"`
	DomainID              string           `json:"domainId"`
	Value                 models.CellValue `json:"value"`
	ConsensusPhase        *int             `json:"consensusPhase,omitempty"`
	Timestamp             *time.Time       `json:"timestamp,omitempty"`
}

type evaluationsView struct {
	Cells                 []cellView                 `json:"cells"`
	Domains               []domainView               `json:"domains"`
	ConsensusPhase        int                        `json:"consensusPhase"`
	CollectiveEvaluations map[string]json.RawMessage `json:"collectiveEvaluations,omitempty"`
}

func newEvaluationsView(v *engine.EvaluationsView) evaluationsView {
	out := evaluationsView{
		Cells:                 make([]cellView, 0, len(v.Cells)),
		Domains:               newSnapshotViews(v.Snapshots),
		ConsensusPhase:        v.LastPhase,
		CollectiveEvaluations: v.CollectiveEvaluations,
	}
	for _, e := range v.Cells {
		out.Cells = append(out.Cells, cellView{
			AlternativeID:         e.AlternativeID,
			ComparedAlternativeID: e.ComparedAlternativeID,
			CriterionID:           e.CriterionID,
			DomainID:              e.DomainID,
			Value:                 e.Value,
			ConsensusPhase:        e.ConsensusPhase,
			Timestamp:             e.Timestamp,
		})
	}
	return out
}

type weightsView struct {
	BestCriterion  string             `json:"bestCriterion,omitempty"`
	WorstCriterion string             `json:"worstCriterion,omitempty"`
	BestToOthers   map[string]float64 `json:"bestToOthers,omitempty"`
	OthersToWorst  map[string]float64 `json:"othersToWorst,omitempty"`
	ManualWeights  map[string]float64 `json:"manualWeights,omitempty"`
	Completed      bool               `json:"completed"`
}

func newWeightsView(w *models.CriteriaWeightEvaluation) *weightsView {
	if w == nil {
		return nil
	}
	return &weightsView{
		BestCriterion:  w.BestCriterion,
		WorstCriterion: w.WorstCriterion,
		BestToOthers:   w.BestToOthers,
		OthersToWorst:  w.OthersToWorst,
		ManualWeights:  w.ManualWeights,
		Completed:      w.Completed,
	}
}

type scenarioView struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	TargetModel string                 `json:"targetModel"`
	DomainType  models.DomainType      `json:"domainType"`
	IsPairwise  bool                   `json:"isPairwise"`
	Status      models.ScenarioStatus  `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Config      models.ScenarioConfig  `json:"config"`
	Inputs      models.ScenarioInputs  `json:"inputs"`
	Outputs     models.ScenarioOutputs `json:"outputs"`
	CreatedAt   time.Time              `json:"createdAt"`
}

func newScenarioView(s *models.IssueScenario) scenarioView {
	return scenarioView{
		ID:          s.ID,
		Name:        s.Name,
		TargetModel: s.TargetModelName,
		DomainType:  s.DomainType,
		IsPairwise:  s.IsPairwise,
		Status:      s.Status,
		Error:       s.Error,
		Config:      s.Config,
		Inputs:      s.Inputs,
		Outputs:     s.Outputs,
		CreatedAt:   s.CreatedAt,
	}
}

// scenarioListItem leaves out inputs and outputs.
type scenarioListItem struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	TargetModel string                `json:"targetModel"`
	Status      models.ScenarioStatus `json:"status"`
	CreatedAt   time.Time             `json:"createdAt"`
}

type notificationView struct {
	ID             string    `json:"id"`
	IssueID        string    `json:"issueId,omitempty"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	RequiresAction bool      `json:"requiresAction"`
	ActionTaken    *bool     `json:"actionTaken,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

func newNotificationView(n *models.Notification) notificationView {
	return notificationView{
		ID:             n.ID,
		IssueID:        n.IssueID,
		Type:           n.Type,
		Message:        n.Message,
		RequiresAction: n.RequiresAction,
		ActionTaken:    n.ActionTaken,
		Read:           n.Read,
		CreatedAt:      n.CreatedAt,
	}
}
