package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/criteria"
	"github.com/decisionhub/backend/internal/domains"
	"github.com/decisionhub/backend/internal/lifecycle"
	"github.com/decisionhub/backend/internal/metrics"
	"github.com/decisionhub/backend/internal/params"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

// DomainOverride assigns a domain to the cells matching every non-empty
// selector. Expert is an email, Alternative and Criterion are names.
type DomainOverride struct {
	Expert      string `json:"expert,omitempty"`
	Alternative string `json:"alternative,omitempty"`
	Criterion   string `json:"criterion,omitempty"`
	DomainID    string `json:"domainId"`
}

func (o DomainOverride) specificity() int {
	n := 0
	for _, s := range []string{o.Expert, o.Alternative, o.Criterion} {
		if s != "" {
			n++
		}
	}
	return n
}

func (o DomainOverride) matches(expert, alt, crit string) bool {
	return (o.Expert == "" || o.Expert == expert) &&
		(o.Alternative == "" || o.Alternative == alt) &&
		(o.Criterion == "" || o.Criterion == crit)
}

// DomainAssignment picks the source domain of every cell. The most specific
// matching override wins; the first declared breaks ties.
type DomainAssignment struct {
	Default   string           `json:"default"`
	Overrides []DomainOverride `json:"overrides,omitempty"`
}

func (a DomainAssignment) domainFor(expert, alt, crit string) string {
	best, score := a.Default, 0
	for _, o := range a.Overrides {
		if s := o.specificity(); s > score && o.matches(expert, alt, crit) {
			best, score = o.DomainID, s
		}
	}
	return best
}

type CreateIssueInput struct {
	Name               string                 `json:"issueName"`
	Description        string                 `json:"issueDescription"`
	ModelName          string                 `json:"selectedModel"`
	Alternatives       []string               `json:"alternatives"`
	Criteria           []criteria.Node        `json:"criteria"`
	Experts            []string               `json:"addedExperts"`
	Domains            DomainAssignment       `json:"domains"`
	ClosureDate        *time.Time             `json:"closureDate,omitempty"`
	ConsensusThreshold *float64               `json:"consensusThreshold,omitempty"`
	ConsensusMaxPhases *int                   `json:"consensusMaxPhases,omitempty"`
	WeightingMode      models.WeightingMode   `json:"weightingMode"`
	ModelParameters    map[string]interface{} `json:"modelParameters,omitempty"`
	BWM                *BWMInput              `json:"bwm,omitempty"`
}

// CreateIssue validates the whole definition, then writes the issue with its
// alternatives, criteria, domain snapshots, participations and empty
// evaluation cells in one transaction.
func (e *Engine) CreateIssue(ctx context.Context, adminID string, in CreateIssueInput) (*models.Issue, error) {
	issue, err := e.createIssue(ctx, adminID, in)
	return issue, classify(err)
}

func (e *Engine) createIssue(ctx context.Context, adminID string, in CreateIssueInput) (*models.Issue, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("issueName", "is required")
	}
	admin, err := e.db.GetUser(ctx, adminID)
	if err != nil {
		return nil, err
	}

	model, err := e.db.GetModelByName(ctx, in.ModelName)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, invalid("selectedModel", "unknown model %q", in.ModelName)
	}
	if err != nil {
		return nil, err
	}

	altNames, err := uniqueNames("alternatives", in.Alternatives)
	if err != nil {
		return nil, err
	}
	if len(altNames) < 2 {
		return nil, invalid("alternatives", "at least two alternatives are required")
	}

	emails, err := uniqueEmails(in.Experts)
	if err != nil {
		return nil, err
	}
	if len(emails) < 2 {
		return nil, invalid("addedExperts", "at least two experts are required")
	}
	users, err := e.db.GetUsersByEmails(ctx, emails)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, em := range emails {
		if _, ok := users[em]; !ok {
			unknown = append(unknown, em)
		}
	}
	if len(unknown) > 0 {
		return nil, invalid("addedExperts", "unknown users: %s", strings.Join(unknown, ", "))
	}

	issueID := uuid.New().String()
	tree, err := criteria.Build(issueID, in.Criteria)
	if err != nil {
		return nil, err
	}
	leafCount := len(tree.Leaves)

	mode := in.WeightingMode
	if mode == "" {
		mode = models.WeightingManual
	}
	if !mode.Valid() {
		return nil, invalid("weightingMode", "unknown weighting mode %q", mode)
	}

	var threshold *float64
	var maxPhases *int
	if model.IsConsensus {
		if in.ConsensusThreshold == nil {
			return nil, invalid("consensusThreshold", "is required for consensus models")
		}
		if t := *in.ConsensusThreshold; t <= 0 || t > 1 {
			return nil, invalid("consensusThreshold", "must be in (0, 1]")
		}
		if in.ConsensusMaxPhases != nil && *in.ConsensusMaxPhases < 1 {
			return nil, invalid("consensusMaxPhases", "must be at least 1")
		}
		threshold, maxPhases = in.ConsensusThreshold, in.ConsensusMaxPhases
	}

	now := e.now()
	if in.ClosureDate != nil && !in.ClosureDate.After(now) {
		return nil, invalid("closureDate", "must be in the future")
	}

	alts := make([]*models.Alternative, len(altNames))
	for i, n := range altNames {
		alts[i] = &models.Alternative{ID: uuid.New().String(), IssueID: issueID, Name: n}
	}

	sources, err := e.resolveDomains(ctx, adminID, model, &in.Domains, emails, altNames, tree)
	if err != nil {
		return nil, err
	}

	modelParams, err := e.initialParams(ctx, model, mode, admin, tree, in)
	if err != nil {
		return nil, err
	}

	altOrder, leafOrder := e.orderer.Compute(alts, tree.Leaves)
	issue := &models.Issue{
		ID:                 issueID,
		AdminID:            adminID,
		ModelID:            model.ID,
		ModelName:          model.Name,
		Name:               name,
		Description:        strings.TrimSpace(in.Description),
		IsConsensus:        model.IsConsensus,
		ConsensusMaxPhases: maxPhases,
		ConsensusThreshold: threshold,
		Active:             true,
		CurrentStage:       lifecycle.InitialStage(mode, leafCount),
		WeightingMode:      mode,
		ModelParameters:    modelParams,
		AlternativeOrder:   altOrder,
		LeafCriteriaOrder:  leafOrder,
		CreationDate:       now,
		ClosureDate:        in.ClosureDate,
	}

	var invited []string
	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		exists, err := r.IssueNameExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return conflict("issueName", "an issue named %q already exists", name)
		}

		if err := r.CreateIssue(ctx, issue); err != nil {
			return err
		}
		for _, a := range alts {
			if err := r.CreateAlternative(ctx, a); err != nil {
				return err
			}
		}
		for _, c := range tree.Nodes {
			if err := r.CreateCriterion(ctx, c); err != nil {
				return err
			}
		}

		snaps, err := domains.Snapshot(ctx, r, issueID, sources.list, now)
		if err != nil {
			return err
		}

		for _, em := range emails {
			u := users[em]
			status := models.InvitationPending
			if u.ID == adminID {
				status = models.InvitationAccepted
			}
			snapFor := func(a *models.Alternative, c *models.Criterion) string {
				return snaps[in.Domains.domainFor(em, a.Name, c.Name)].ID
			}
			if err := e.addExpert(ctx, r, issue, u.ID, status, alts, tree.Leaves, model.IsPairwise, snapFor, 0, now); err != nil {
				return err
			}
			if status == models.InvitationPending {
				if err := invite(ctx, r, issue, u.ID, admin.Email, now); err != nil {
					return err
				}
				invited = append(invited, u.Email)
			}
		}

		if in.BWM != nil && mode.AdminBWM() && leafCount > 1 {
			return r.UpsertWeightEvaluation(ctx, &models.CriteriaWeightEvaluation{
				ID:             uuid.New().String(),
				IssueID:        issueID,
				ExpertID:       adminID,
				BestCriterion:  in.BWM.BestCriterion,
				WorstCriterion: in.BWM.WorstCriterion,
				BestToOthers:   in.BWM.BestToOthers,
				OthersToWorst:  in.BWM.OthersToWorst,
				Completed:      true,
				UpdatedAt:      now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IssuesCreated.WithLabelValues(model.Name, string(mode)).Inc()
	logger.Info("Issue created",
		zap.String("issue_id", issueID),
		zap.String("model", model.Name),
		zap.String("stage", string(issue.CurrentStage)),
		zap.Int("experts", len(emails)),
	)
	e.publish(issueID, EventIssueCreated, issue.ID)
	e.mail(invited, "Invitation to "+name,
		fmt.Sprintf("%s invited you to take part in the decision %q.", admin.Email, name))
	return issue, nil
}

type domainSources struct {
	list []*models.ExpressionDomain
}

// resolveDomains loads every domain the assignment names, falling back to the
// configured global default, and checks visibility and model support.
func (e *Engine) resolveDomains(ctx context.Context, adminID string, model *models.IssueModel, a *DomainAssignment, emails, altNames []string, tree *criteria.Tree) (*domainSources, error) {
	if a.Default == "" {
		d, err := e.db.GetGlobalDomainByName(ctx, e.cfg.DefaultDomainName)
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, invalid("domains.default", "is required")
		}
		if err != nil {
			return nil, err
		}
		a.Default = d.ID
	}

	known := func(list []string, v string) bool {
		for _, x := range list {
			if x == v {
				return true
			}
		}
		return false
	}
	ids := []string{a.Default}
	for i, o := range a.Overrides {
		field := fmt.Sprintf("domains.overrides[%d]", i)
		switch {
		case o.DomainID == "":
			return nil, invalid(field, "domainId is required")
		case o.specificity() == 0:
			return nil, invalid(field, "needs at least one of expert, alternative or criterion")
		case o.Expert != "" && !known(emails, strings.ToLower(o.Expert)):
			return nil, invalid(field, "expert %q is not invited", o.Expert)
		case o.Alternative != "" && !known(altNames, o.Alternative):
			return nil, invalid(field, "unknown alternative %q", o.Alternative)
		}
		if o.Criterion != "" {
			if _, ok := tree.LeafByName(o.Criterion); !ok {
				return nil, invalid(field, "unknown leaf criterion %q", o.Criterion)
			}
		}
		a.Overrides[i].Expert = strings.ToLower(o.Expert)
		ids = append(ids, o.DomainID)
	}

	found, err := e.db.GetDomainsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.ExpressionDomain, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}

	out := &domainSources{}
	seen := map[string]bool{}
	for _, id := range ids {
		d, ok := byID[id]
		if !ok || (d.OwnerID != "" && d.OwnerID != adminID) {
			return nil, invalid("domains", "unknown expression domain %q", id)
		}
		if !model.SupportsDomain(d.Type) {
			return nil, invalid("domains", "model %s does not accept %s domains", model.Name, d.Type)
		}
		if !seen[id] {
			seen[id] = true
			out.list = append(out.list, d)
		}
	}
	return out, nil
}

// initialParams resolves the model parameters stored on a new issue. A single
// leaf always weighs 1; admin best-worst modes get their weights from the
// model service; expert-weighted modes start from equal weights that the
// weighting stage later replaces.
func (e *Engine) initialParams(ctx context.Context, model *models.IssueModel, mode models.WeightingMode, admin *models.User, tree *criteria.Tree, in CreateIssueInput) (models.Params, error) {
	leafCount := len(tree.Leaves)
	kind := models.ParamArray
	if spec, ok := model.Param("weights"); ok && spec.Type != models.ParamNumber {
		kind = spec.Type
	}

	overrides := make(map[string]interface{}, len(in.ModelParameters))
	for k, v := range in.ModelParameters {
		overrides[k] = v
	}
	base := models.Params{}

	switch {
	case leafCount == 1:
		delete(overrides, "weights")
		base["weights"] = params.UnitWeights(kind)
	case mode.AdminBWM():
		if in.BWM == nil {
			return nil, invalid("bwm", "is required for weighting mode %s", mode)
		}
		leafNames := make([]string, leafCount)
		for i, l := range tree.Leaves {
			leafNames[i] = l.Name
		}
		if err := in.BWM.validate(leafNames, true); err != nil {
			return nil, err
		}
		sorted := e.orderer.LeafCriteria(tree.Leaves, nil)
		ordered := make([]string, len(sorted))
		for i, l := range sorted {
			ordered[i] = l.Name
		}
		// Weights come back in canonical leaf order.
		w, err := e.solver.BWM(ctx, map[string]solver.BWMInput{admin.Email: in.BWM.vectors(ordered)})
		if err != nil {
			return nil, err
		}
		coerced, err := weightVector(w, kind)
		if err != nil {
			return nil, err
		}
		delete(overrides, "weights")
		base["weights"] = coerced
	case mode.RequiresWeightingStage():
		delete(overrides, "weights")
	}

	resolved, err := params.Resolve(model.Parameters, base, overrides, leafCount)
	if err != nil {
		return nil, err
	}
	if w, ok := base["weights"]; ok {
		if _, declared := resolved["weights"]; !declared {
			resolved["weights"] = w
		}
	}
	return resolved, nil
}

// addExpert creates the participation and the empty evaluation cells of one
// expert. lastPhase is the last recorded consensus phase, 0 before the first.
func (e *Engine) addExpert(ctx context.Context, r *sqlite.Repo, issue *models.Issue, expertID string, status models.InvitationStatus, alts []*models.Alternative, leaves []*models.Criterion, pairwise bool, snapFor func(*models.Alternative, *models.Criterion) string, lastPhase int, now time.Time) error {
	p := &models.Participation{
		ID:               uuid.New().String(),
		IssueID:          issue.ID,
		ExpertID:         expertID,
		InvitationStatus: status,
		WeightsCompleted: issue.CurrentStage != models.StageCriteriaWeighting,
		EntryStage:       issue.CurrentStage,
		JoinedAt:         now,
	}
	// Weights submitted before leaving survive the exit; they still count.
	if !p.WeightsCompleted {
		w, err := r.GetWeightEvaluation(ctx, issue.ID, expertID)
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return err
		}
		p.WeightsCompleted = err == nil && w.Completed
	}
	if lastPhase > 0 {
		next := lastPhase + 1
		p.EntryPhase = &next
	}
	if err := r.CreateParticipation(ctx, p); err != nil {
		return err
	}

	// Cells an expert submitted before leaving were kept; reuse them.
	kept, err := r.ListExpertEvaluations(ctx, issue.ID, expertID)
	if err != nil {
		return err
	}
	have := make(map[cellKey]bool, len(kept))
	for _, ev := range kept {
		have[keyOf(ev)] = true
	}
	create := func(a *models.Alternative, cmp string, c *models.Criterion) error {
		if have[cellKey{a.ID, cmp, c.ID}] {
			return nil
		}
		return r.CreateEvaluation(ctx, emptyCell(issue.ID, expertID, a.ID, cmp, c.ID, snapFor(a, c)))
	}
	for _, a := range alts {
		for _, c := range leaves {
			if !pairwise {
				if err := create(a, "", c); err != nil {
					return err
				}
				continue
			}
			for _, b := range alts {
				if b.ID == a.ID {
					continue
				}
				if err := create(a, b.ID, c); err != nil {
					return err
				}
			}
		}
	}

	// A returning expert keeps one exit log; record the re-entry on it.
	x, err := r.GetExit(ctx, issue.ID, expertID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	x.Hidden = false
	x.History = append(x.History, models.ExitEvent{
		Timestamp: now,
		Phase:     p.EntryPhase,
		Stage:     issue.CurrentStage,
		Action:    models.ExitActionEntered,
	})
	return r.SaveExit(ctx, x)
}

func emptyCell(issueID, expertID, altID, comparedID, critID, domainID string) *models.Evaluation {
	return &models.Evaluation{
		ID:                    uuid.New().String(),
		IssueID:               issueID,
		ExpertID:              expertID,
		AlternativeID:         altID,
		ComparedAlternativeID: comparedID,
		CriterionID:           critID,
		DomainID:              domainID,
	}
}

func invite(ctx context.Context, r *sqlite.Repo, issue *models.Issue, expertID, adminEmail string, now time.Time) error {
	return r.CreateNotification(ctx, &models.Notification{
		ID:             uuid.New().String(),
		ExpertID:       expertID,
		IssueID:        issue.ID,
		Type:           NotificationInvitation,
		Message:        fmt.Sprintf("%s invited you to the issue %q", adminEmail, issue.Name),
		RequiresAction: true,
		CreatedAt:      now,
	})
}

func notify(ctx context.Context, r *sqlite.Repo, issue *models.Issue, expertID, kind, msg string, now time.Time) error {
	return r.CreateNotification(ctx, &models.Notification{
		ID:        uuid.New().String(),
		ExpertID:  expertID,
		IssueID:   issue.ID,
		Type:      kind,
		Message:   msg,
		CreatedAt: now,
	})
}

func uniqueNames(field string, in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, invalid(field, "names must not be empty")
		}
		if seen[n] {
			return nil, invalid(field, "duplicate name %q", n)
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

func uniqueEmails(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, em := range in {
		em = strings.ToLower(strings.TrimSpace(em))
		if em == "" || !strings.Contains(em, "@") {
			return nil, invalid("addedExperts", "invalid email %q", em)
		}
		if !seen[em] {
			seen[em] = true
			out = append(out, em)
		}
	}
	return out, nil
}

// IssueDetail is the full read model of one issue for one caller.
type IssueDetail struct {
	Issue         *models.Issue
	IsAdmin       bool
	AdminEmail    string
	Alternatives  []*models.Alternative
	Criteria      []*criteria.TreeNode
	Leaves        []*models.Criterion
	Experts       []ExpertStatus
	Snapshots     []*models.IssueExpressionDomain
	LastPhase     int
	LastConsensus *models.Consensus
}

type ExpertStatus struct {
	UserID              string                  `json:"userId"`
	Email               string                  `json:"email"`
	Name                string                  `json:"name"`
	Status              models.InvitationStatus `json:"invitationStatus"`
	EvaluationCompleted bool                    `json:"evaluationCompleted"`
	WeightsCompleted    bool                    `json:"weightsCompleted"`
}

func (e *Engine) GetIssue(ctx context.Context, userID, issueID string) (*IssueDetail, error) {
	d, err := e.getIssueDetail(ctx, userID, issueID)
	return d, classify(err)
}

func (e *Engine) getIssueDetail(ctx context.Context, userID, issueID string) (*IssueDetail, error) {
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

	if _, err := e.orderer.EnsureOrder(ctx, e.db.Repo, issue); err != nil {
		return nil, err
	}
	ordered, err := e.orderer.Load(ctx, e.db.Repo, issue)
	if err != nil {
		return nil, err
	}
	crits, err := e.db.ListCriteria(ctx, issueID)
	if err != nil {
		return nil, err
	}
	parts, err := e.db.ListParticipations(ctx, issueID)
	if err != nil {
		return nil, err
	}
	ids := []string{issue.AdminID}
	for _, p := range parts {
		ids = append(ids, p.ExpertID)
	}
	users, err := e.db.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	snaps, err := e.db.ListSnapshots(ctx, issueID)
	if err != nil {
		return nil, err
	}
	lastPhase, err := e.db.LastPhase(ctx, issueID)
	if err != nil {
		return nil, err
	}

	d := &IssueDetail{
		Issue:        issue,
		IsAdmin:      issue.AdminID == userID,
		Alternatives: ordered.Alternatives,
		Criteria:     criteria.Nest(crits),
		Leaves:       ordered.Leaves,
		Snapshots:    snaps,
		LastPhase:    lastPhase,
	}
	if u, ok := users[issue.AdminID]; ok {
		d.AdminEmail = u.Email
	}
	for _, p := range parts {
		st := ExpertStatus{
			UserID:              p.ExpertID,
			Status:              p.InvitationStatus,
			EvaluationCompleted: p.EvaluationCompleted,
			WeightsCompleted:    p.WeightsCompleted,
		}
		if u, ok := users[p.ExpertID]; ok {
			st.Email, st.Name = u.Email, u.Name
		}
		d.Experts = append(d.Experts, st)
	}
	sort.Slice(d.Experts, func(i, j int) bool { return d.Experts[i].Email < d.Experts[j].Email })

	if lastPhase > 0 {
		d.LastConsensus, err = e.db.GetLastConsensus(ctx, issueID)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// IssueSummary is one row of the caller's issue lists.
type IssueSummary struct {
	Issue            *models.Issue
	IsAdmin          bool
	InvitationStatus models.InvitationStatus
	// ActionRequired is set when the caller owes the issue something in its
	// current stage.
	ActionRequired bool
}

func (e *Engine) ListActiveIssues(ctx context.Context, userID string) ([]IssueSummary, error) {
	issues, err := e.db.ListActiveIssuesForUser(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return e.summarize(ctx, userID, issues)
}

func (e *Engine) ListFinishedIssues(ctx context.Context, userID string) ([]IssueSummary, error) {
	issues, err := e.db.ListFinishedIssuesForUser(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return e.summarize(ctx, userID, issues)
}

func (e *Engine) summarize(ctx context.Context, userID string, issues []*models.Issue) ([]IssueSummary, error) {
	out := make([]IssueSummary, 0, len(issues))
	for _, is := range issues {
		s := IssueSummary{Issue: is, IsAdmin: is.AdminID == userID}
		p, err := participation(ctx, e.db.Repo, is.ID, userID)
		if err != nil {
			return nil, classify(err)
		}
		if p != nil {
			s.InvitationStatus = p.InvitationStatus
			switch {
			case !is.Active:
			case p.InvitationStatus == models.InvitationPending:
				s.ActionRequired = true
			case p.InvitationStatus == models.InvitationAccepted:
				s.ActionRequired = (is.CurrentStage == models.StageCriteriaWeighting && !p.WeightsCompleted) ||
					(is.CurrentStage == models.StageAlternativeEvaluation && !p.EvaluationCompleted)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// RemoveIssue deletes an active issue and everything scoped to it.
func (e *Engine) RemoveIssue(ctx context.Context, adminID, issueID string) error {
	release, err := e.lock(ctx, issueID, "remove")
	if err != nil {
		return classify(err)
	}
	defer release()

	issue, err := e.adminIssue(ctx, e.db.Repo, issueID, adminID)
	if err != nil {
		return classify(err)
	}
	if err := lifecycle.RequireActive(issue); err != nil {
		return classify(err)
	}
	return classify(e.removeIssue(ctx, issue, "removed by its admin"))
}

func (e *Engine) removeIssue(ctx context.Context, issue *models.Issue, reason string) error {
	var notified []string
	err := e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		parts, err := r.ListParticipations(ctx, issue.ID)
		if err != nil {
			return err
		}
		if err := r.DeleteIssue(ctx, issue.ID); err != nil {
			return err
		}
		now := e.now()
		for _, p := range parts {
			if p.ExpertID == issue.AdminID || p.InvitationStatus == models.InvitationDeclined {
				continue
			}
			// Issue-less notification: the row outlives the issue.
			if err := r.CreateNotification(ctx, &models.Notification{
				ID:        uuid.New().String(),
				ExpertID:  p.ExpertID,
				Type:      NotificationIssueRemoved,
				Message:   fmt.Sprintf("The issue %q was %s", issue.Name, reason),
				CreatedAt: now,
			}); err != nil {
				return err
			}
			notified = append(notified, p.ExpertID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Issue removed", zap.String("issue_id", issue.ID), zap.String("reason", reason))
	e.publish(issue.ID, EventIssueRemoved, issue.ID)
	e.mailUsers(ctx, notified, "Issue removed", fmt.Sprintf("The issue %q was %s.", issue.Name, reason))
	return nil
}

// RemoveFinishedIssue hides a finished issue for the caller. Once every
// involved user has hidden it the issue is deleted. The result reports
// whether that happened.
func (e *Engine) RemoveFinishedIssue(ctx context.Context, userID, issueID string) (bool, error) {
	deleted, err := e.removeFinishedIssue(ctx, userID, issueID)
	return deleted, classify(err)
}

func (e *Engine) removeFinishedIssue(ctx context.Context, userID, issueID string) (bool, error) {
	release, err := e.lock(ctx, issueID, "hide")
	if err != nil {
		return false, err
	}
	defer release()

	var deleted bool
	err = e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		issue, err := e.getIssue(ctx, r, issueID)
		if err != nil {
			return err
		}
		if issue.Active {
			return lifecycle.ErrStillActive
		}
		ok, err := canView(ctx, r, issue, userID)
		if err != nil {
			return err
		}
		if !ok {
			return forbidden("you are not part of this issue")
		}

		now := e.now()
		x, err := r.GetExit(ctx, issueID, userID)
		if errors.Is(err, sqlite.ErrNotFound) {
			x = &models.ExitUserIssue{ID: uuid.New().String(), IssueID: issueID, UserID: userID}
		} else if err != nil {
			return err
		}
		x.Hidden = true
		x.Timestamp = now
		if err := r.SaveExit(ctx, x); err != nil {
			return err
		}

		// Everyone involved: the admin, participants who did not decline, and
		// anyone who left.
		involved := map[string]bool{issue.AdminID: true}
		parts, err := r.ListParticipations(ctx, issueID)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if p.InvitationStatus != models.InvitationDeclined {
				involved[p.ExpertID] = true
			}
		}
		exits, err := r.ListExits(ctx, issueID)
		if err != nil {
			return err
		}
		hidden := map[string]bool{}
		for _, ex := range exits {
			involved[ex.UserID] = true
			if ex.Hidden {
				hidden[ex.UserID] = true
			}
		}
		for u := range involved {
			if !hidden[u] {
				return nil
			}
		}
		deleted = true
		return r.DeleteIssue(ctx, issueID)
	})
	if err != nil {
		return false, err
	}
	if deleted {
		logger.Info("Finished issue deleted", zap.String("issue_id", issueID))
	}
	return deleted, nil
}

// mailUsers resolves user ids to addresses and queues the mail.
func (e *Engine) mailUsers(ctx context.Context, userIDs []string, subject, body string) {
	if e.mailer == nil || len(userIDs) == 0 {
		return
	}
	users, err := e.db.GetUsersByIDs(ctx, userIDs)
	if err != nil {
		logger.Warn("Failed to resolve mail recipients", zap.Error(err))
		return
	}
	to := make([]string, 0, len(users))
	for _, id := range userIDs {
		if u, ok := users[id]; ok {
			to = append(to, u.Email)
		}
	}
	e.mail(to, subject, body)
}
