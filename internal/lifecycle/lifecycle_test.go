package lifecycle

import (
	"errors"
	"testing"

	"github.com/decisionhub/backend/internal/storage/models"
)

func part(status models.InvitationStatus, weights, evals bool) *models.Participation {
	return &models.Participation{InvitationStatus: status, WeightsCompleted: weights, EvaluationCompleted: evals}
}

func intPtr(i int) *int { return &i }
func floatPtr(f float64) *float64 { return &f }

func TestInitialStage(t *testing.T) {
	tests := []struct {
		mode   models.WeightingMode
		leaves int
		want   models.Stage
	}{
		{models.WeightingConsensus, 3, models.StageCriteriaWeighting},
		{models.WeightingConsensusBWM, 2, models.StageCriteriaWeighting},
		{models.WeightingConsensus, 1, models.StageAlternativeEvaluation},
		{models.WeightingManual, 3, models.StageAlternativeEvaluation},
		{models.WeightingBWM, 3, models.StageAlternativeEvaluation},
	}
	for _, tt := range tests {
		if got := InitialStage(tt.mode, tt.leaves); got != tt.want {
			t.Errorf("InitialStage(%s, %d) = %s, want %s", tt.mode, tt.leaves, got, tt.want)
		}
	}
}

func TestCanResolve(t *testing.T) {
	issue := &models.Issue{Active: true, CurrentStage: models.StageAlternativeEvaluation}

	tests := []struct {
		name  string
		issue *models.Issue
		parts []*models.Participation
		want  error
	}{
		{
			name:  "all accepted submitted",
			issue: issue,
			parts: []*models.Participation{part(models.InvitationAccepted, true, true), part(models.InvitationDeclined, false, false)},
		},
		{
			name:  "one accepted pending",
			issue: issue,
			parts: []*models.Participation{part(models.InvitationAccepted, true, true), part(models.InvitationAccepted, true, false)},
			want:  ErrParticipantsIncomplete,
		},
		{
			name:  "nobody accepted",
			issue: issue,
			parts: []*models.Participation{part(models.InvitationPending, false, false)},
			want:  ErrParticipantsIncomplete,
		},
		{
			name:  "wrong stage",
			issue: &models.Issue{Active: true, CurrentStage: models.StageCriteriaWeighting},
			parts: []*models.Participation{part(models.InvitationAccepted, true, true)},
			want:  ErrWrongStage,
		},
		{
			name:  "finished issue",
			issue: &models.Issue{CurrentStage: models.StageFinished},
			want:  ErrInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanResolve(tt.issue, tt.parts)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWeightsComplete_IgnoresDeclined(t *testing.T) {
	parts := []*models.Participation{
		part(models.InvitationAccepted, true, false),
		part(models.InvitationPending, false, false),
	}
	if WeightsComplete(parts) {
		t.Fatal("pending invitee must block weighting")
	}
	parts[1].InvitationStatus = models.InvitationDeclined
	if !WeightsComplete(parts) {
		t.Fatal("declined invitee must not block weighting")
	}
}

func TestTerminate(t *testing.T) {
	consensus := &models.Issue{IsConsensus: true, ConsensusThreshold: floatPtr(0.9), ConsensusMaxPhases: intPtr(3)}

	tests := []struct {
		name  string
		issue *models.Issue
		phase int
		level *float64
		force bool
		want  Decision
	}{
		{name: "non consensus", issue: &models.Issue{}, phase: 1, want: Decision{true, ReasonNotConsensus}},
		{name: "forced", issue: consensus, phase: 1, level: floatPtr(0.1), force: true, want: Decision{true, ReasonForced}},
		{name: "max phases", issue: consensus, phase: 3, level: floatPtr(0.1), want: Decision{true, ReasonMaxPhases}},
		{name: "threshold reached", issue: consensus, phase: 1, level: floatPtr(0.9), want: Decision{true, ReasonThreshold}},
		{name: "below threshold", issue: consensus, phase: 1, level: floatPtr(0.75), want: Decision{false, ReasonContinue}},
		{name: "no level", issue: consensus, phase: 2, want: Decision{false, ReasonContinue}},
		{
			name:  "unbounded phases",
			issue: &models.Issue{IsConsensus: true, ConsensusThreshold: floatPtr(0.9)},
			phase: 40,
			level: floatPtr(0.5),
			want:  Decision{false, ReasonContinue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Terminate(tt.issue, tt.phase, tt.level, tt.force); got != tt.want {
				t.Errorf("Terminate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAutoClose(t *testing.T) {
	done := []*models.Participation{part(models.InvitationAccepted, true, true)}
	open := []*models.Participation{part(models.InvitationAccepted, true, false)}
	eval := models.StageAlternativeEvaluation

	tests := []struct {
		name      string
		issue     *models.Issue
		parts     []*models.Participation
		lastPhase int
		want      CloseAction
	}{
		{name: "ready to resolve", issue: &models.Issue{CurrentStage: eval}, parts: done, want: CloseResolve},
		{name: "incomplete non consensus", issue: &models.Issue{CurrentStage: eval}, parts: open, want: CloseRemove},
		{name: "consensus without rounds", issue: &models.Issue{IsConsensus: true, CurrentStage: eval}, parts: open, want: CloseRemove},
		{name: "consensus with rounds", issue: &models.Issue{IsConsensus: true, CurrentStage: eval}, parts: open, lastPhase: 2, want: CloseFinalize},
		{name: "stuck in weighting", issue: &models.Issue{CurrentStage: models.StageCriteriaWeighting}, parts: done, want: CloseRemove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoClose(tt.issue, tt.parts, tt.lastPhase); got != tt.want {
				t.Errorf("AutoClose = %s, want %s", got, tt.want)
			}
		})
	}
}
