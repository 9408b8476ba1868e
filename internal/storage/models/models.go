package models

import (
	"encoding/json"
	"time"
)

type Stage string

const (
	StageCriteriaWeighting     Stage = "criteriaWeighting"
	StageWeightsFinished       Stage = "weightsFinished"
	StageAlternativeEvaluation Stage = "alternativeEvaluation"
	StageFinished              Stage = "finished"
)

type WeightingMode string

const (
	WeightingManual                WeightingMode = "manual"
	WeightingConsensus             WeightingMode = "consensus"
	WeightingBWM                   WeightingMode = "bwm"
	WeightingConsensusBWM          WeightingMode = "consensusBwm"
	WeightingSimulatedConsensusBWM WeightingMode = "simulatedConsensusBwm"
)

func (m WeightingMode) Valid() bool {
	switch m {
	case WeightingManual, WeightingConsensus, WeightingBWM, WeightingConsensusBWM, WeightingSimulatedConsensusBWM:
		return true
	}
	return false
}

// RequiresWeightingStage reports whether experts weight criteria themselves
// before alternatives can be evaluated.
func (m WeightingMode) RequiresWeightingStage() bool {
	return m == WeightingConsensus || m == WeightingConsensusBWM
}

// AdminBWM reports whether the admin supplies a single BWM submission at creation.
func (m WeightingMode) AdminBWM() bool {
	return m == WeightingBWM || m == WeightingSimulatedConsensusBWM
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

type DomainType string

const (
	DomainNumeric    DomainType = "numeric"
	DomainLinguistic DomainType = "linguistic"
)

type CriterionType string

const (
	CriterionBenefit CriterionType = "benefit"
	CriterionCost    CriterionType = "cost"
)

type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

type Issue struct {
	ID                 string
	AdminID            string
	ModelID            string
	ModelName          string
	Name               string
	Description        string
	IsConsensus        bool
	ConsensusMaxPhases *int
	ConsensusThreshold *float64
	Active             bool
	CurrentStage       Stage
	WeightingMode      WeightingMode
	ModelParameters    Params
	AlternativeOrder   []string
	LeafCriteriaOrder  []string
	CreationDate       time.Time
	ClosureDate        *time.Time
}

type Alternative struct {
	ID      string
	IssueID string
	Name    string
}

type Criterion struct {
	ID       string
	IssueID  string
	ParentID string
	Name     string
	Type     CriterionType
	IsLeaf   bool
}

type Participation struct {
	ID                  string
	IssueID             string
	ExpertID            string
	InvitationStatus    InvitationStatus
	EvaluationCompleted bool
	WeightsCompleted    bool
	EntryPhase          *int
	EntryStage          Stage
	JoinedAt            time.Time
}

type NumericRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

type LinguisticLabel struct {
	Label  string `json:"label" yaml:"label"`
	Values Triple `json:"values" yaml:"values"`
}

// ExpressionDomain is a live, editable evaluation scale. OwnerID is empty for
// global domains.
type ExpressionDomain struct {
	ID               string
	OwnerID          string
	Name             string
	Type             DomainType
	NumericRange     *NumericRange
	LinguisticLabels []LinguisticLabel
	CreatedAt        time.Time
}

// IssueExpressionDomain is the frozen copy of an ExpressionDomain used by one issue.
type IssueExpressionDomain struct {
	ID               string
	IssueID          string
	SourceDomainID   string
	Name             string
	Type             DomainType
	NumericRange     *NumericRange
	LinguisticLabels []LinguisticLabel
	CreatedAt        time.Time
}

// Evaluation is one sparse cell. ComparedAlternativeID is empty for direct
// evaluations. Timestamp stays nil until the expert submits.
type Evaluation struct {
	ID                    string
	IssueID               string
	ExpertID              string
	AlternativeID         string
	ComparedAlternativeID string
	CriterionID           string
	DomainID              string
	Value                 CellValue
	Timestamp             *time.Time
	ConsensusPhase        *int
	History               History
}

type CriteriaWeightEvaluation struct {
	ID             string
	IssueID        string
	ExpertID       string
	BestCriterion  string
	WorstCriterion string
	BestToOthers   map[string]float64
	OthersToWorst  map[string]float64
	ManualWeights  map[string]float64
	ConsensusPhase int
	Completed      bool
	UpdatedAt      time.Time
}

type RankedAlternative struct {
	AlternativeID string   `json:"alternativeId"`
	Name          string   `json:"name"`
	Score         *float64 `json:"score,omitempty"`
}

// ConsensusDetails is the normalized form of a solver result.
type ConsensusDetails struct {
	Ranking          []RankedAlternative `json:"ranking"`
	CollectiveScores []float64           `json:"collectiveScores,omitempty"`
	ConsensusMatrix  json.RawMessage     `json:"consensusMatrix,omitempty"`
	Plots            json.RawMessage     `json:"plots,omitempty"`
}

type Consensus struct {
	ID                    string
	IssueID               string
	Phase                 int
	Level                 *float64
	Timestamp             time.Time
	Details               ConsensusDetails
	CollectiveEvaluations map[string]json.RawMessage
}

type NamedRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ScenarioCriterion struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	CriterionType CriterionType `json:"criterionType"`
}

type ScenarioStatus string

const (
	ScenarioDone  ScenarioStatus = "done"
	ScenarioError ScenarioStatus = "error"
)

type ScenarioConfig struct {
	ModelParameters Params   `json:"modelParameters"`
	CriterionTypes  []string `json:"criterionTypes"`
}

type ScenarioInputs struct {
	ConsensusPhaseUsed int                 `json:"consensusPhaseUsed"`
	ExpertsOrder       []string            `json:"expertsOrder"`
	Alternatives       []NamedRef          `json:"alternatives"`
	Criteria           []ScenarioCriterion `json:"criteria"`
	WeightsUsed        *ParamValue         `json:"weightsUsed,omitempty"`
	MatricesUsed       json.RawMessage     `json:"matricesUsed"`
	SnapshotIDsUsed    []string            `json:"snapshotIdsUsed"`
}

type ScenarioOutputs struct {
	Details               ConsensusDetails           `json:"details"`
	CollectiveEvaluations map[string]json.RawMessage `json:"collectiveEvaluations,omitempty"`
	Level                 *float64                   `json:"level,omitempty"`
	RawResults            json.RawMessage            `json:"rawResults,omitempty"`
}

// IssueScenario is a self-contained what-if run. Nothing in it points at live
// evaluation rows.
type IssueScenario struct {
	ID              string
	IssueID         string
	CreatedBy       string
	Name            string
	TargetModelID   string
	TargetModelName string
	DomainType      DomainType
	IsPairwise      bool
	Status          ScenarioStatus
	Error           string
	Config          ScenarioConfig
	Inputs          ScenarioInputs
	Outputs         ScenarioOutputs
	CreatedAt       time.Time
}

type ExitAction string

const (
	ExitActionEntered ExitAction = "entered"
	ExitActionExited  ExitAction = "exited"
)

type ExitEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	Phase     *int       `json:"phase"`
	Stage     Stage      `json:"stage,omitempty"`
	Action    ExitAction `json:"action"`
	Reason    string     `json:"reason,omitempty"`
}

// ExitUserIssue is the per (issue, user) exit log. History only grows.
type ExitUserIssue struct {
	ID        string
	IssueID   string
	UserID    string
	Hidden    bool
	Timestamp time.Time
	Phase     *int
	Stage     Stage
	Reason    string
	History   []ExitEvent
}

type Notification struct {
	ID             string
	ExpertID       string
	IssueID        string
	Type           string
	Message        string
	RequiresAction bool
	ActionTaken    *bool
	Read           bool
	CreatedAt      time.Time
}

// IssueModel is a catalog entry describing one remote model.
type IssueModel struct {
	ID                string       `json:"id" yaml:"-"`
	Name              string       `json:"name" yaml:"name"`
	Endpoint          string       `json:"endpoint" yaml:"endpoint"`
	IsConsensus       bool         `json:"isConsensus" yaml:"isConsensus"`
	IsPairwise        bool         `json:"isPairwise" yaml:"isPairwise"`
	DomainTypes       []DomainType `json:"domainTypes" yaml:"domainTypes"`
	SmallDescription  string       `json:"smallDescription" yaml:"smallDescription"`
	ExtendDescription string       `json:"extendDescription" yaml:"extendDescription"`
	MoreInfoURL       string       `json:"moreInfoUrl" yaml:"moreInfoUrl"`
	Parameters        []ParamSpec  `json:"parameters" yaml:"parameters"`
}

func (m *IssueModel) SupportsDomain(t DomainType) bool {
	if len(m.DomainTypes) == 0 {
		return t == DomainNumeric
	}
	for _, d := range m.DomainTypes {
		if d == t {
			return true
		}
	}
	return false
}

func (m *IssueModel) Param(name string) (ParamSpec, bool) {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}
