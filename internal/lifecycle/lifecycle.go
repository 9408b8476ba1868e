// Package lifecycle holds the issue stage machine as pure functions over
// loaded rows: who may act, in which stage, and when a consensus round ends
// the issue.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

var (
	ErrNotAdmin               = errors.New("only the issue admin can do this")
	ErrNotAccepted            = errors.New("caller has no accepted participation in this issue")
	ErrInactive               = errors.New("issue is no longer active")
	ErrStillActive            = errors.New("issue is still active")
	ErrWrongStage             = errors.New("issue is not in the required stage")
	ErrParticipantsIncomplete = errors.New("not every participant has finished")
	ErrPendingInvitations     = errors.New("there are pending invitations")
	ErrNoAcceptedExperts      = errors.New("no expert has accepted the invitation")
)

// InitialStage is where a new issue starts. Experts weight criteria only when
// the mode asks for it and there is more than one leaf to weight.
func InitialStage(mode models.WeightingMode, leafCount int) models.Stage {
	if mode.RequiresWeightingStage() && leafCount > 1 {
		return models.StageCriteriaWeighting
	}
	return models.StageAlternativeEvaluation
}

func RequireAdmin(issue *models.Issue, userID string) error {
	if issue.AdminID != userID {
		return ErrNotAdmin
	}
	return nil
}

func RequireAccepted(p *models.Participation) error {
	if p == nil || p.InvitationStatus != models.InvitationAccepted {
		return ErrNotAccepted
	}
	return nil
}

func RequireActive(issue *models.Issue) error {
	if !issue.Active {
		return ErrInactive
	}
	return nil
}

func RequireStage(issue *models.Issue, stages ...models.Stage) error {
	for _, s := range stages {
		if issue.CurrentStage == s {
			return nil
		}
	}
	return fmt.Errorf("%w: stage is %s, need %v", ErrWrongStage, issue.CurrentStage, stages)
}

func Accepted(parts []*models.Participation) []*models.Participation {
	var out []*models.Participation
	for _, p := range parts {
		if p.InvitationStatus == models.InvitationAccepted {
			out = append(out, p)
		}
	}
	return out
}

func PendingInvitations(parts []*models.Participation) int {
	n := 0
	for _, p := range parts {
		if p.InvitationStatus == models.InvitationPending {
			n++
		}
	}
	return n
}

// WeightsComplete reports whether every non-declined participant has
// submitted weights. Pending invitees count as outstanding.
func WeightsComplete(parts []*models.Participation) bool {
	counted := false
	for _, p := range parts {
		if p.InvitationStatus == models.InvitationDeclined {
			continue
		}
		counted = true
		if !p.WeightsCompleted {
			return false
		}
	}
	return counted
}

// EvaluationsComplete reports whether at least one expert accepted and every
// accepted expert has submitted.
func EvaluationsComplete(parts []*models.Participation) bool {
	accepted := Accepted(parts)
	if len(accepted) == 0 {
		return false
	}
	for _, p := range accepted {
		if !p.EvaluationCompleted {
			return false
		}
	}
	return true
}

// CanResolve checks the preconditions of a consensus round.
func CanResolve(issue *models.Issue, parts []*models.Participation) error {
	if err := RequireActive(issue); err != nil {
		return err
	}
	if err := RequireStage(issue, models.StageAlternativeEvaluation); err != nil {
		return err
	}
	if !EvaluationsComplete(parts) {
		return fmt.Errorf("%w: evaluations", ErrParticipantsIncomplete)
	}
	return nil
}

// CanComputeWeights checks the preconditions of weight aggregation.
func CanComputeWeights(issue *models.Issue, parts []*models.Participation) error {
	if err := RequireActive(issue); err != nil {
		return err
	}
	if err := RequireStage(issue, models.StageWeightsFinished); err != nil {
		return err
	}
	if !WeightsComplete(parts) {
		return fmt.Errorf("%w: weights", ErrParticipantsIncomplete)
	}
	return nil
}

// CanSimulate checks that a scenario can be run against the current evaluations.
func CanSimulate(parts []*models.Participation) error {
	if PendingInvitations(parts) > 0 {
		return ErrPendingInvitations
	}
	if len(Accepted(parts)) == 0 {
		return ErrNoAcceptedExperts
	}
	return nil
}

type Reason string

const (
	ReasonNotConsensus Reason = "notConsensus"
	ReasonForced       Reason = "forced"
	ReasonMaxPhases    Reason = "maxPhases"
	ReasonThreshold    Reason = "threshold"
	ReasonContinue     Reason = "continue"
)

type Decision struct {
	Terminal bool
	Reason   Reason
}

// Terminate applies the round termination policy, in order: non-consensus
// issues always finish, then a forced finalize, then the phase limit, then
// the consensus threshold. Anything else needs another round.
func Terminate(issue *models.Issue, phase int, level *float64, force bool) Decision {
	switch {
	case !issue.IsConsensus:
		return Decision{Terminal: true, Reason: ReasonNotConsensus}
	case force:
		return Decision{Terminal: true, Reason: ReasonForced}
	case issue.ConsensusMaxPhases != nil && phase >= *issue.ConsensusMaxPhases:
		return Decision{Terminal: true, Reason: ReasonMaxPhases}
	case level != nil && issue.ConsensusThreshold != nil && *level >= *issue.ConsensusThreshold:
		return Decision{Terminal: true, Reason: ReasonThreshold}
	}
	return Decision{Reason: ReasonContinue}
}

type CloseAction string

const (
	CloseResolve  CloseAction = "resolve"
	CloseRemove   CloseAction = "remove"
	CloseFinalize CloseAction = "finalize"
)

// AutoClose picks what the closure trigger does with an issue past its
// closure date. lastPhase is 0 when no round has been recorded.
func AutoClose(issue *models.Issue, parts []*models.Participation, lastPhase int) CloseAction {
	if issue.CurrentStage == models.StageAlternativeEvaluation && EvaluationsComplete(parts) {
		return CloseResolve
	}
	if !issue.IsConsensus || lastPhase == 0 {
		return CloseRemove
	}
	return CloseFinalize
}
