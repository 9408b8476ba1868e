package engine

// Live event kinds published per issue.
const (
	EventIssueCreated         = "issue.created"
	EventIssueRemoved         = "issue.removed"
	EventIssueFinished        = "issue.finished"
	EventExpertsChanged       = "experts.changed"
	EventStageChanged         = "stage.changed"
	EventWeightsSubmitted     = "weights.submitted"
	EventWeightsComputed      = "weights.computed"
	EventEvaluationsSubmitted = "evaluations.submitted"
	EventRoundResolved        = "round.resolved"
	EventScenarioCreated      = "scenario.created"
)

// Stored notification types.
const (
	NotificationInvitation   = "invitation"
	NotificationRemoved      = "removedFromIssue"
	NotificationIssueRemoved = "issueRemoved"
	NotificationNewRound     = "newRound"
	NotificationFinished     = "issueFinished"
	NotificationStage        = "stageChanged"
)
