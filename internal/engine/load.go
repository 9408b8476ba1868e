package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/matrix"
	"github.com/decisionhub/backend/internal/ordering"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/utils"
)

func (e *Engine) getIssue(ctx context.Context, r *sqlite.Repo, issueID string) (*models.Issue, error) {
	issue, err := r.GetIssue(ctx, issueID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, notFound("issue")
	}
	return issue, err
}

// adminIssue loads the issue and checks that userID administers it.
func (e *Engine) adminIssue(ctx context.Context, r *sqlite.Repo, issueID, userID string) (*models.Issue, error) {
	issue, err := e.getIssue(ctx, r, issueID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.RequireAdmin(issue, userID); err != nil {
		return nil, err
	}
	return issue, nil
}

// participation returns the caller's row, or nil when there is none.
func participation(ctx context.Context, r *sqlite.Repo, issueID, userID string) (*models.Participation, error) {
	p, err := r.GetParticipation(ctx, issueID, userID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// canView reports whether userID administers, takes part in, or once took
// part in the issue.
func canView(ctx context.Context, r *sqlite.Repo, issue *models.Issue, userID string) (bool, error) {
	if issue.AdminID == userID {
		return true, nil
	}
	p, err := participation(ctx, r, issue.ID, userID)
	if err != nil || p != nil {
		return p != nil, err
	}
	_, err = r.GetExit(ctx, issue.ID, userID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// round is everything one model run reads: accepted experts sorted by email,
// their evaluation rows, and the canonical alternative and leaf order.
type round struct {
	issue     *models.Issue
	model     *models.IssueModel
	ordered   *ordering.Ordered
	experts   []matrix.Expert
	evals     []*models.Evaluation
	snapshots map[string]*models.IssueExpressionDomain
	lastPhase int
}

func (e *Engine) loadRound(ctx context.Context, r *sqlite.Repo, issue *models.Issue, parts []*models.Participation) (*round, error) {
	model, err := r.GetModel(ctx, issue.ModelID)
	if err != nil {
		return nil, err
	}
	ordered, err := e.orderer.Load(ctx, r, issue)
	if err != nil {
		return nil, err
	}

	accepted := lifecycle.Accepted(parts)
	ids := make([]string, len(accepted))
	for i, p := range accepted {
		ids[i] = p.ExpertID
	}
	users, err := r.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	experts := make([]matrix.Expert, 0, len(accepted))
	inRound := make(map[string]bool, len(accepted))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			return nil, sqlite.ErrNotFound
		}
		experts = append(experts, matrix.Expert{ID: u.ID, Email: u.Email})
		inRound[u.ID] = true
	}
	sort.Slice(experts, func(i, j int) bool { return experts[i].Email < experts[j].Email })

	all, err := r.ListEvaluations(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	var evals []*models.Evaluation
	for _, ev := range all {
		if inRound[ev.ExpertID] {
			evals = append(evals, ev)
		}
	}

	snaps, err := r.ListSnapshots(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.IssueExpressionDomain, len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s
	}

	lastPhase, err := r.LastPhase(ctx, issue.ID)
	if err != nil {
		return nil, err
	}

	return &round{
		issue:     issue,
		model:     model,
		ordered:   ordered,
		experts:   experts,
		evals:     evals,
		snapshots: byID,
		lastPhase: lastPhase,
	}, nil
}

func (rd *round) matrices(pairwise bool) (*matrix.Result, error) {
	return matrix.Assemble(matrix.Input{
		Experts:      rd.experts,
		Alternatives: rd.ordered.Alternatives,
		Leaves:       rd.ordered.Leaves,
		Evaluations:  rd.evals,
		Snapshots:    rd.snapshots,
	}, pairwise)
}

func (rd *round) criterionTypes() []string {
	out := make([]string, len(rd.ordered.Leaves))
	for i, c := range rd.ordered.Leaves {
		out[i] = string(c.Type)
	}
	return out
}

// domainTypes lists the distinct snapshot types the round's cells use.
func (rd *round) domainTypes() []models.DomainType {
	seen := map[models.DomainType]bool{}
	var out []models.DomainType
	for _, ev := range rd.evals {
		s, ok := rd.snapshots[ev.DomainID]
		if !ok || seen[s.Type] {
			continue
		}
		seen[s.Type] = true
		out = append(out, s.Type)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fingerprint captures the participation state a round depends on.
func fingerprint(parts []*models.Participation) string {
	keys := make([]string, len(parts))
	for i, p := range parts {
		flag := "0"
		if p.EvaluationCompleted {
			flag = "1"
		}
		keys[i] = p.ExpertID + ":" + string(p.InvitationStatus) + ":" + flag
	}
	sort.Strings(keys)
	return utils.Digest(keys...)
}
