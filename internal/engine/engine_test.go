package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decisionhub/backend/internal/criteria"
	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/matrix"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
)

// fakeSolver answers every run with a fixed two-alternative ranking. Levels
// are handed out one per run; once exhausted the level is null.
type fakeSolver struct {
	mu       sync.Mutex
	levels   []float64
	err      error
	weights  []float64
	runs     []string
	requests []solver.Request
	bwmCalls []map[string]solver.BWMInput
}

func (f *fakeSolver) Run(_ context.Context, endpoint string, req solver.Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, endpoint)
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	cm := "null"
	if len(f.levels) > 0 {
		cm = strconv.FormatFloat(f.levels[0], 'f', -1, 64)
		f.levels = f.levels[1:]
	}
	return json.RawMessage(`{"alternatives_rankings":[1,0],"collective_scores":[0.25,0.75],"cm":` + cm + `}`), nil
}

func (f *fakeSolver) BWM(_ context.Context, experts map[string]solver.BWMInput) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bwmCalls = append(f.bwmCalls, experts)
	if f.err != nil {
		return nil, f.err
	}
	return append([]float64(nil), f.weights...), nil
}

func (f *fakeSolver) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	db     *sqlite.Client
	eng    *engine.Engine
	solver *fakeSolver
	now    time.Time
	users  map[string]*models.User
}

func newTestEnv(t *testing.T, opts ...engine.Option) *testEnv {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	env := &testEnv{
		t:      t,
		ctx:    context.Background(),
		db:     db,
		solver: &fakeSolver{},
		now:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		users:  map[string]*models.User{},
	}
	opts = append([]engine.Option{engine.WithClock(func() time.Time { return env.now })}, opts...)
	env.eng, err = engine.NewEngine(db, env.solver, engine.Config{
		DefaultDomainName: "Numeric 0-1",
		CollationLocale:   "es",
	}, opts...)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	catalog, err := solver.LoadCatalog("")
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	if err := env.eng.SeedCatalog(env.ctx, catalog); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	if err := env.eng.SeedGlobalDomains(env.ctx, engine.DefaultDomains("Numeric 0-1")); err != nil {
		t.Fatalf("failed to seed domains: %v", err)
	}
	for _, name := range []string{"admin", "ana", "ben", "cruz"} {
		u, err := env.eng.RegisterUser(env.ctx, name, name+"@example.com")
		if err != nil {
			t.Fatalf("failed to register %s: %v", name, err)
		}
		env.users[name] = u
	}
	return env
}

func (env *testEnv) id(name string) string {
	return env.users[name].ID
}

func emails(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n + "@example.com"
	}
	return out
}

func twoCriteria() []criteria.Node {
	return []criteria.Node{
		{Name: "Coste", Type: models.CriterionCost},
		{Name: "Calidad", Type: models.CriterionBenefit},
	}
}

func oneCriterion() []criteria.Node {
	return []criteria.Node{{Name: "Preferencia", Type: models.CriterionBenefit}}
}

func (env *testEnv) input(name, model string, experts ...string) engine.CreateIssueInput {
	closure := env.now.Add(24 * time.Hour)
	return engine.CreateIssueInput{
		Name:         name,
		ModelName:    model,
		Alternatives: []string{"Sur", "Norte"},
		Criteria:     twoCriteria(),
		Experts:      emails(experts...),
		ClosureDate:  &closure,
	}
}

func (env *testEnv) consensusInput(name string, threshold float64, maxPhases *int, experts ...string) engine.CreateIssueInput {
	in := env.input(name, "Herrera Viedma CRP", experts...)
	in.Criteria = oneCriterion()
	in.ConsensusThreshold = &threshold
	in.ConsensusMaxPhases = maxPhases
	return in
}

func (env *testEnv) create(in engine.CreateIssueInput) *models.Issue {
	env.t.Helper()
	issue, err := env.eng.CreateIssue(env.ctx, env.id("admin"), in)
	if err != nil {
		env.t.Fatalf("CreateIssue(%s) failed: %v", in.Name, err)
	}
	return issue
}

func (env *testEnv) accept(issueID string, names ...string) {
	env.t.Helper()
	for _, n := range names {
		if err := env.eng.ChangeInvitationStatus(env.ctx, env.id(n), issueID, true); err != nil {
			env.t.Fatalf("%s failed to accept: %v", n, err)
		}
	}
}

// cells sets every cell of the expert to v.
func (env *testEnv) cells(name, issueID string, v float64) []engine.CellInput {
	env.t.Helper()
	view, err := env.eng.GetEvaluations(env.ctx, env.id(name), issueID)
	if err != nil {
		env.t.Fatalf("GetEvaluations(%s) failed: %v", name, err)
	}
	out := make([]engine.CellInput, len(view.Cells))
	for i, c := range view.Cells {
		out[i] = engine.CellInput{
			AlternativeID:         c.AlternativeID,
			ComparedAlternativeID: c.ComparedAlternativeID,
			CriterionID:           c.CriterionID,
			Value:                 models.NumberValue(v),
		}
	}
	return out
}

func (env *testEnv) submit(issueID string, v float64, names ...string) {
	env.t.Helper()
	for _, n := range names {
		if err := env.eng.SubmitEvaluations(env.ctx, env.id(n), issueID, env.cells(n, issueID, v)); err != nil {
			env.t.Fatalf("%s failed to submit evaluations: %v", n, err)
		}
	}
}

func (env *testEnv) issue(id string) *models.Issue {
	env.t.Helper()
	is, err := env.db.GetIssue(env.ctx, id)
	if err != nil {
		env.t.Fatalf("GetIssue(%s) failed: %v", id, err)
	}
	return is
}

// rows renders every participation and evaluation of the issue keyed by id.
func (env *testEnv) rows(issueID string) map[string]string {
	env.t.Helper()
	out := map[string]string{}
	parts, err := env.db.ListParticipations(env.ctx, issueID)
	if err != nil {
		env.t.Fatalf("ListParticipations failed: %v", err)
	}
	for _, p := range parts {
		out["participation "+p.ID] = fmt.Sprintf("%s weights=%v evaluations=%v",
			p.InvitationStatus, p.WeightsCompleted, p.EvaluationCompleted)
	}
	evals, err := env.db.ListEvaluations(env.ctx, issueID)
	if err != nil {
		env.t.Fatalf("ListEvaluations failed: %v", err)
	}
	for _, ev := range evals {
		phase := 0
		if ev.ConsensusPhase != nil {
			phase = *ev.ConsensusPhase
		}
		out["evaluation "+ev.ID] = fmt.Sprintf("%s phase=%d history=%d",
			ev.Value.String(), phase, ev.History.Len())
	}
	return out
}

func wantKind(t *testing.T, err error, kind engine.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a %s error, got nil", kind)
	}
	if got := engine.KindOf(err); got != kind {
		t.Fatalf("expected a %s error, got %q: %v", kind, got, err)
	}
}

func TestCreateIssueValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.eng.CreateIssue(env.ctx, env.id("admin"), env.input("Taken", "TOPSIS", "admin", "ana")); err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}

	zero := 0
	tests := []struct {
		name   string
		mutate func(*engine.CreateIssueInput)
		kind   engine.Kind
	}{
		{"missing name", func(in *engine.CreateIssueInput) { in.Name = " " }, engine.KindValidation},
		{"unknown model", func(in *engine.CreateIssueInput) { in.ModelName = "Nope" }, engine.KindValidation},
		{"single alternative", func(in *engine.CreateIssueInput) { in.Alternatives = []string{"Sur"} }, engine.KindValidation},
		{"duplicate alternative", func(in *engine.CreateIssueInput) { in.Alternatives = []string{"Sur", "Sur"} }, engine.KindValidation},
		{"single expert", func(in *engine.CreateIssueInput) { in.Experts = emails("ana", "ana") }, engine.KindValidation},
		{"unknown expert", func(in *engine.CreateIssueInput) { in.Experts = []string{"ana@example.com", "ghost@example.com"} }, engine.KindValidation},
		{"no criteria", func(in *engine.CreateIssueInput) { in.Criteria = nil }, engine.KindValidation},
		{"duplicate leaf", func(in *engine.CreateIssueInput) {
			in.Criteria = []criteria.Node{{Name: "A", Type: models.CriterionBenefit}, {Name: "A", Type: models.CriterionCost}}
		}, engine.KindValidation},
		{"past closure", func(in *engine.CreateIssueInput) {
			past := env.now.Add(-time.Hour)
			in.ClosureDate = &past
		}, engine.KindValidation},
		{"weights not summing to one", func(in *engine.CreateIssueInput) {
			in.ModelParameters = map[string]interface{}{"weights": []interface{}{0.9, 0.9}}
		}, engine.KindValidation},
		{"undeclared parameter", func(in *engine.CreateIssueInput) {
			in.ModelParameters = map[string]interface{}{"beta": 0.5}
		}, engine.KindValidation},
		{"bwm mode without submission", func(in *engine.CreateIssueInput) { in.WeightingMode = models.WeightingBWM }, engine.KindValidation},
		{"unknown weighting mode", func(in *engine.CreateIssueInput) { in.WeightingMode = "vibes" }, engine.KindValidation},
		{"consensus without threshold", func(in *engine.CreateIssueInput) { in.ModelName = "Herrera Viedma CRP" }, engine.KindValidation},
		{"consensus zero phases", func(in *engine.CreateIssueInput) {
			th := 0.8
			in.ModelName = "Herrera Viedma CRP"
			in.ConsensusThreshold = &th
			in.ConsensusMaxPhases = &zero
		}, engine.KindValidation},
		{"domain unsupported by model", func(in *engine.CreateIssueInput) {
			d, err := env.db.GetGlobalDomainByName(env.ctx, "Five labels")
			if err != nil {
				t.Fatalf("GetGlobalDomainByName failed: %v", err)
			}
			in.Domains.Default = d.ID
		}, engine.KindValidation},
		{"override without selector", func(in *engine.CreateIssueInput) {
			in.Domains.Overrides = []engine.DomainOverride{{DomainID: "x"}}
		}, engine.KindValidation},
		{"duplicate name", func(in *engine.CreateIssueInput) { in.Name = "Taken" }, engine.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := env.input("Fresh", "TOPSIS", "admin", "ana")
			tt.mutate(&in)
			_, err := env.eng.CreateIssue(env.ctx, env.id("admin"), in)
			wantKind(t, err, tt.kind)
		})
	}

	active, err := env.eng.ListActiveIssues(env.ctx, env.id("admin"))
	if err != nil {
		t.Fatalf("ListActiveIssues failed: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("expected only the first issue to exist, got %d", len(active))
	}
}

func TestCreateIssueWritesParticipantsAndCells(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.input("Plant site", "TOPSIS", "admin", "ana", "ben"))

	if issue.CurrentStage != models.StageAlternativeEvaluation {
		t.Errorf("stage = %s, want %s", issue.CurrentStage, models.StageAlternativeEvaluation)
	}
	w := issue.ModelParameters["weights"]
	if w.Kind != models.ParamArray || len(w.Array) != 2 || w.Array[0] != 0.5 || w.Array[1] != 0.5 {
		t.Errorf("weights = %+v, want equal weights", w)
	}

	parts, err := env.db.ListParticipations(env.ctx, issue.ID)
	if err != nil {
		t.Fatalf("ListParticipations failed: %v", err)
	}
	status := map[string]models.InvitationStatus{}
	for _, p := range parts {
		status[p.ExpertID] = p.InvitationStatus
	}
	if status[env.id("admin")] != models.InvitationAccepted {
		t.Errorf("admin status = %s, want accepted", status[env.id("admin")])
	}
	for _, n := range []string{"ana", "ben"} {
		if status[env.id(n)] != models.InvitationPending {
			t.Errorf("%s status = %s, want pending", n, status[env.id(n)])
		}
	}

	evals, err := env.db.ListEvaluations(env.ctx, issue.ID)
	if err != nil {
		t.Fatalf("ListEvaluations failed: %v", err)
	}
	if len(evals) != 3*2*2 {
		t.Errorf("got %d cells, want 12", len(evals))
	}

	notes, err := env.eng.ListNotifications(env.ctx, env.id("ana"))
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != engine.NotificationInvitation || !notes[0].RequiresAction {
		t.Errorf("ana notifications = %+v, want one invitation", notes)
	}

	detail, err := env.eng.GetIssue(env.ctx, env.id("ana"), issue.ID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if detail.Alternatives[0].Name != "Norte" || detail.Leaves[0].Name != "Calidad" {
		t.Errorf("order = %s/%s, want collated Norte/Calidad first", detail.Alternatives[0].Name, detail.Leaves[0].Name)
	}
	if _, err := env.eng.GetIssue(env.ctx, env.id("cruz"), issue.ID); engine.KindOf(err) != engine.KindForbidden {
		t.Errorf("outsider GetIssue error = %v, want forbidden", err)
	}
}

func TestCreateIssuePairwiseSingleLeaf(t *testing.T) {
	env := newTestEnv(t)
	in := env.consensusInput("Pairs", 0.8, nil, "admin", "ana")
	in.Alternatives = []string{"A", "B", "C"}
	issue := env.create(in)

	evals, err := env.db.ListExpertEvaluations(env.ctx, issue.ID, env.id("ana"))
	if err != nil {
		t.Fatalf("ListExpertEvaluations failed: %v", err)
	}
	if len(evals) != 6 {
		t.Errorf("got %d pairwise cells, want 6", len(evals))
	}
	for _, e := range evals {
		if e.ComparedAlternativeID == "" || e.ComparedAlternativeID == e.AlternativeID {
			t.Errorf("cell %s compares %q with %q", e.ID, e.AlternativeID, e.ComparedAlternativeID)
		}
	}
	w := issue.ModelParameters["weights"]
	if len(w.Array) != 1 || w.Array[0] != 1 {
		t.Errorf("single leaf weights = %+v, want [1]", w)
	}
	if b := issue.ModelParameters["beta"]; b.Number != 0.8 {
		t.Errorf("beta = %+v, want catalog default 0.8", b)
	}
}

func TestCreateIssueAdminBWM(t *testing.T) {
	env := newTestEnv(t)
	env.solver.weights = []float64{0.75, 0.25}

	in := env.input("Best worst", "TOPSIS", "admin", "ana")
	in.WeightingMode = models.WeightingBWM
	in.BWM = &engine.BWMInput{
		BestCriterion:  "Calidad",
		WorstCriterion: "Coste",
		BestToOthers:   map[string]float64{"Calidad": 1, "Coste": 5},
		OthersToWorst:  map[string]float64{"Calidad": 5, "Coste": 1},
	}
	issue := env.create(in)

	if issue.CurrentStage != models.StageAlternativeEvaluation {
		t.Errorf("stage = %s, want alternativeEvaluation", issue.CurrentStage)
	}
	if w := issue.ModelParameters["weights"]; len(w.Array) != 2 || w.Array[0] != 0.75 {
		t.Errorf("weights = %+v, want the model service's [0.75 0.25]", w)
	}
	if len(env.solver.bwmCalls) != 1 {
		t.Fatalf("expected one bwm call, got %d", len(env.solver.bwmCalls))
	}
	got := env.solver.bwmCalls[0]["admin@example.com"]
	if len(got.MIC) != 2 || got.MIC[0] != 1 || got.MIC[1] != 5 || got.LIC[0] != 5 || got.LIC[1] != 1 {
		t.Errorf("bwm vectors = %+v, want canonical Calidad, Coste order", got)
	}

	w, err := env.db.GetWeightEvaluation(env.ctx, issue.ID, env.id("admin"))
	if err != nil {
		t.Fatalf("GetWeightEvaluation failed: %v", err)
	}
	if !w.Completed || w.BestCriterion != "Calidad" {
		t.Errorf("stored admin weighting = %+v", w)
	}

	bad := env.input("Best worst bad", "TOPSIS", "admin", "ana")
	bad.WeightingMode = models.WeightingBWM
	bad.BWM = &engine.BWMInput{
		BestCriterion:  "Coste",
		WorstCriterion: "Coste",
		BestToOthers:   map[string]float64{"Calidad": 1, "Coste": 1},
		OthersToWorst:  map[string]float64{"Calidad": 1, "Coste": 1},
	}
	_, err = env.eng.CreateIssue(env.ctx, env.id("admin"), bad)
	wantKind(t, err, engine.KindValidation)
}

func TestConsensusWeightingFlow(t *testing.T) {
	env := newTestEnv(t)
	in := env.input("Weighted", "TOPSIS", "admin", "ana")
	in.WeightingMode = models.WeightingConsensus
	issue := env.create(in)

	if issue.CurrentStage != models.StageCriteriaWeighting {
		t.Fatalf("stage = %s, want criteriaWeighting", issue.CurrentStage)
	}

	manual := func(calidad, coste float64) engine.WeightsInput {
		return engine.WeightsInput{Manual: map[string]float64{"Calidad": calidad, "Coste": coste}}
	}

	err := env.eng.SubmitWeights(env.ctx, env.id("ana"), issue.ID, manual(0.2, 0.2))
	wantKind(t, err, engine.KindForbidden)

	err = env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, nil)
	wantKind(t, err, engine.KindPrecondition)

	env.accept(issue.ID, "ana")

	err = env.eng.SubmitWeights(env.ctx, env.id("admin"), issue.ID, engine.WeightsInput{Manual: map[string]float64{"Calidad": 0.6}})
	wantKind(t, err, engine.KindValidation)

	if err := env.eng.SaveWeightsDraft(env.ctx, env.id("admin"), issue.ID, engine.WeightsInput{Manual: map[string]float64{"Calidad": 0.6}}); err != nil {
		t.Fatalf("SaveWeightsDraft failed: %v", err)
	}
	if err := env.eng.SubmitWeights(env.ctx, env.id("admin"), issue.ID, manual(0.6, 0.4)); err != nil {
		t.Fatalf("admin SubmitWeights failed: %v", err)
	}
	if got := env.issue(issue.ID).CurrentStage; got != models.StageCriteriaWeighting {
		t.Errorf("stage after one submission = %s, want criteriaWeighting", got)
	}

	_, err = env.eng.ComputeWeights(env.ctx, env.id("admin"), issue.ID)
	wantKind(t, err, engine.KindPrecondition)

	if err := env.eng.SubmitWeights(env.ctx, env.id("ana"), issue.ID, manual(0.2, 0.2)); err != nil {
		t.Fatalf("ana SubmitWeights failed: %v", err)
	}
	if got := env.issue(issue.ID).CurrentStage; got != models.StageWeightsFinished {
		t.Fatalf("stage after all submissions = %s, want weightsFinished", got)
	}

	err = env.eng.SubmitWeights(env.ctx, env.id("ana"), issue.ID, manual(0.5, 0.5))
	wantKind(t, err, engine.KindPrecondition)

	_, err = env.eng.ComputeWeights(env.ctx, env.id("ana"), issue.ID)
	wantKind(t, err, engine.KindForbidden)

	w, err := env.eng.ComputeWeights(env.ctx, env.id("admin"), issue.ID)
	if err != nil {
		t.Fatalf("ComputeWeights failed: %v", err)
	}
	// Averages are Calidad 0.4 and Coste 0.3, normalized in canonical order.
	want := []float64{4.0 / 7, 3.0 / 7}
	for i := range want {
		if diff := w.Array[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("weight %d = %v, want %v", i, w.Array[i], want[i])
		}
	}
	got := env.issue(issue.ID)
	if got.CurrentStage != models.StageAlternativeEvaluation {
		t.Errorf("stage after compute = %s, want alternativeEvaluation", got.CurrentStage)
	}
	if len(got.ModelParameters["weights"].Array) != 2 {
		t.Errorf("stored weights = %+v", got.ModelParameters["weights"])
	}
}

func TestDeclineCompletesWeighting(t *testing.T) {
	env := newTestEnv(t)
	in := env.input("Decline", "TOPSIS", "admin", "ana", "ben")
	in.WeightingMode = models.WeightingConsensus
	issue := env.create(in)
	env.accept(issue.ID, "ana")

	for _, n := range []string{"admin", "ana"} {
		if err := env.eng.SubmitWeights(env.ctx, env.id(n), issue.ID, engine.WeightsInput{
			Manual: map[string]float64{"Calidad": 0.5, "Coste": 0.5},
		}); err != nil {
			t.Fatalf("%s SubmitWeights failed: %v", n, err)
		}
	}
	if got := env.issue(issue.ID).CurrentStage; got != models.StageCriteriaWeighting {
		t.Fatalf("stage with a pending invitee = %s, want criteriaWeighting", got)
	}

	if err := env.eng.ChangeInvitationStatus(env.ctx, env.id("ben"), issue.ID, false); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if got := env.issue(issue.ID).CurrentStage; got != models.StageWeightsFinished {
		t.Errorf("stage after decline = %s, want weightsFinished", got)
	}

	err := env.eng.ChangeInvitationStatus(env.ctx, env.id("ben"), issue.ID, true)
	wantKind(t, err, engine.KindConflict)
}

func TestRejoinKeepsSubmittedWeights(t *testing.T) {
	env := newTestEnv(t)
	in := env.input("Rejoin weights", "TOPSIS", "admin", "ana", "ben")
	in.WeightingMode = models.WeightingConsensus
	issue := env.create(in)
	env.accept(issue.ID, "ana", "ben")

	weights := engine.WeightsInput{Manual: map[string]float64{"Calidad": 0.5, "Coste": 0.5}}
	if err := env.eng.SubmitWeights(env.ctx, env.id("ana"), issue.ID, weights); err != nil {
		t.Fatalf("ana SubmitWeights failed: %v", err)
	}
	if err := env.eng.LeaveIssue(env.ctx, env.id("ana"), issue.ID); err != nil {
		t.Fatalf("LeaveIssue failed: %v", err)
	}
	if err := env.eng.EditExperts(env.ctx, env.id("admin"), issue.ID, engine.EditExpertsInput{Add: emails("ana")}); err != nil {
		t.Fatalf("EditExperts add failed: %v", err)
	}
	env.accept(issue.ID, "ana")

	p, err := env.db.GetParticipation(env.ctx, issue.ID, env.id("ana"))
	if err != nil {
		t.Fatalf("GetParticipation failed: %v", err)
	}
	if !p.WeightsCompleted {
		t.Errorf("rejoined participation lost its submitted weights: %+v", p)
	}
	err = env.eng.SubmitWeights(env.ctx, env.id("ana"), issue.ID, weights)
	wantKind(t, err, engine.KindConflict)

	for _, n := range []string{"admin", "ben"} {
		if err := env.eng.SubmitWeights(env.ctx, env.id(n), issue.ID, weights); err != nil {
			t.Fatalf("%s SubmitWeights failed: %v", n, err)
		}
	}
	if got := env.issue(issue.ID).CurrentStage; got != models.StageWeightsFinished {
		t.Fatalf("stage after everyone submitted = %s, want weightsFinished", got)
	}
	if _, err := env.eng.ComputeWeights(env.ctx, env.id("admin"), issue.ID); err != nil {
		t.Fatalf("ComputeWeights failed: %v", err)
	}
}

func TestComputeWeightsPersistsMissingOrder(t *testing.T) {
	env := newTestEnv(t)
	in := env.input("Legacy order", "TOPSIS", "admin", "ana")
	in.WeightingMode = models.WeightingConsensus
	issue := env.create(in)
	env.accept(issue.ID, "ana")

	legacy := env.issue(issue.ID)
	legacy.AlternativeOrder, legacy.LeafCriteriaOrder = nil, nil
	if err := env.db.UpdateIssue(env.ctx, legacy); err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}

	for _, n := range []string{"admin", "ana"} {
		if err := env.eng.SubmitWeights(env.ctx, env.id(n), issue.ID, engine.WeightsInput{
			Manual: map[string]float64{"Calidad": 0.6, "Coste": 0.4},
		}); err != nil {
			t.Fatalf("%s SubmitWeights failed: %v", n, err)
		}
	}
	w, err := env.eng.ComputeWeights(env.ctx, env.id("admin"), issue.ID)
	if err != nil {
		t.Fatalf("ComputeWeights failed: %v", err)
	}

	stored := env.issue(issue.ID)
	if len(stored.LeafCriteriaOrder) != 2 || len(stored.AlternativeOrder) != 2 {
		t.Fatalf("orders were not persisted: %v / %v", stored.LeafCriteriaOrder, stored.AlternativeOrder)
	}
	crits, err := env.db.ListCriteria(env.ctx, issue.ID)
	if err != nil {
		t.Fatalf("ListCriteria failed: %v", err)
	}
	names := map[string]string{}
	for _, c := range crits {
		names[c.ID] = c.Name
	}
	want := map[string]float64{"Calidad": 0.6, "Coste": 0.4}
	for i, id := range stored.LeafCriteriaOrder {
		if diff := w.Array[i] - want[names[id]]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("weight %d (%s) = %v, want %v", i, names[id], w.Array[i], want[names[id]])
		}
	}
}

func TestSubmitEvaluations(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.input("Evaluate", "TOPSIS", "admin", "ana"))
	cells := env.cells("admin", issue.ID, 0.5)

	if err := env.eng.SaveEvaluationDraft(env.ctx, env.id("admin"), issue.ID, cells[:1]); err != nil {
		t.Fatalf("SaveEvaluationDraft failed: %v", err)
	}
	draft, err := env.db.ListExpertEvaluations(env.ctx, issue.ID, env.id("admin"))
	if err != nil {
		t.Fatalf("ListExpertEvaluations failed: %v", err)
	}
	for _, c := range draft {
		if c.Timestamp != nil || c.ConsensusPhase != nil {
			t.Errorf("draft cell %s was stamped", c.ID)
		}
	}

	err = env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, cells[1:2])
	wantKind(t, err, engine.KindValidation)

	outOfRange := append([]engine.CellInput(nil), cells...)
	outOfRange[0].Value = models.NumberValue(1.5)
	err = env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, outOfRange)
	wantKind(t, err, engine.KindValidation)

	unknown := []engine.CellInput{{AlternativeID: "nope", CriterionID: "nope", Value: models.NumberValue(0.1)}}
	err = env.eng.SaveEvaluationDraft(env.ctx, env.id("admin"), issue.ID, unknown)
	wantKind(t, err, engine.KindValidation)

	err = env.eng.SubmitEvaluations(env.ctx, env.id("ana"), issue.ID, cells)
	wantKind(t, err, engine.KindForbidden)

	if err := env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, cells); err != nil {
		t.Fatalf("SubmitEvaluations failed: %v", err)
	}
	stored, err := env.db.ListExpertEvaluations(env.ctx, issue.ID, env.id("admin"))
	if err != nil {
		t.Fatalf("ListExpertEvaluations failed: %v", err)
	}
	for _, c := range stored {
		if c.Timestamp == nil || c.ConsensusPhase == nil || *c.ConsensusPhase != 1 {
			t.Errorf("submitted cell %s not stamped for phase 1", c.ID)
		}
	}

	err = env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, cells)
	wantKind(t, err, engine.KindConflict)
}

func TestSubmitPairwiseRequiresInverse(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.consensusInput("Inverse", 0.8, nil, "admin", "ana"))
	cells := env.cells("admin", issue.ID, 0.7)
	if len(cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(cells))
	}

	err := env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, cells[:1])
	wantKind(t, err, engine.KindValidation)
	if !strings.Contains(err.Error(), "inverse") {
		t.Errorf("error %q does not mention the inverse comparison", err)
	}

	if err := env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, cells); err != nil {
		t.Fatalf("SubmitEvaluations with the inverse filled failed: %v", err)
	}
}

func TestResolveNonConsensus(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.input("Direct", "TOPSIS", "admin", "ana"))
	env.accept(issue.ID, "ana")

	env.submit(issue.ID, 0.4, "admin")
	_, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	wantKind(t, err, engine.KindPrecondition)

	env.submit(issue.ID, 0.6, "ana")
	_, err = env.eng.Resolve(env.ctx, env.id("ana"), issue.ID, false)
	wantKind(t, err, engine.KindForbidden)

	res, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Finished || res.Phase != 1 || res.Reason != "notConsensus" {
		t.Errorf("result = %+v, want finished phase 1", res)
	}
	if len(res.Ranking) != 2 || res.Ranking[0].Name != "Sur" {
		t.Errorf("ranking = %+v, want Sur first", res.Ranking)
	}

	req := env.solver.requests[0]
	if req.ConsensusThreshold != nil {
		t.Errorf("non-consensus request carried a threshold")
	}
	if len(req.CriterionTypes) != 2 || req.CriterionTypes[0] != "benefit" || req.CriterionTypes[1] != "cost" {
		t.Errorf("criterion types = %v, want canonical [benefit cost]", req.CriterionTypes)
	}
	if mats, ok := req.Matrices.(map[string][][]matrix.Cell); !ok || len(mats) != 2 {
		t.Errorf("matrices = %#v, want one direct matrix per expert", req.Matrices)
	}

	got := env.issue(issue.ID)
	if got.Active || got.CurrentStage != models.StageFinished {
		t.Errorf("issue after resolve: active=%v stage=%s", got.Active, got.CurrentStage)
	}
	_, err = env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	wantKind(t, err, engine.KindPrecondition)
}

func TestResolveConsensusRounds(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.consensusInput("Rounds", 0.8, nil, "admin", "ana"))
	env.accept(issue.ID, "ana")
	env.solver.levels = []float64{0.5, 0.9}

	env.submit(issue.ID, 0.3, "admin", "ana")
	first, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	if first.Finished || first.Reason != "continue" || first.Level == nil || *first.Level != 0.5 {
		t.Fatalf("first round = %+v, want an open round at 0.5", first)
	}
	if th := env.solver.requests[0].ConsensusThreshold; th == nil || *th != 0.8 {
		t.Errorf("consensus request threshold = %v, want 0.8", th)
	}

	parts, err := env.db.ListParticipations(env.ctx, issue.ID)
	if err != nil {
		t.Fatalf("ListParticipations failed: %v", err)
	}
	for _, p := range parts {
		if p.EvaluationCompleted {
			t.Errorf("participant %s still marked complete after a new round", p.ExpertID)
		}
	}
	notes, err := env.eng.ListNotifications(env.ctx, env.id("ana"))
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if notes[0].Type != engine.NotificationNewRound {
		t.Errorf("latest notification = %s, want newRound", notes[0].Type)
	}

	env.submit(issue.ID, 0.6, "admin", "ana")
	second, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if !second.Finished || second.Phase != 2 || second.Reason != "threshold" {
		t.Errorf("second round = %+v, want finished by threshold at phase 2", second)
	}

	history, err := env.eng.ConsensusHistory(env.ctx, env.id("ana"), issue.ID)
	if err != nil {
		t.Fatalf("ConsensusHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].Phase != 1 || history[1].Phase != 2 {
		t.Fatalf("history phases = %+v, want 1 then 2", history)
	}

	// Replaying each cell's history yields the value every round consumed.
	evals, err := env.db.ListEvaluations(env.ctx, issue.ID)
	if err != nil {
		t.Fatalf("ListEvaluations failed: %v", err)
	}
	for _, e := range evals {
		entries := e.History.Entries()
		if len(entries) != 2 {
			t.Fatalf("cell %s has %d history entries, want 2", e.ID, len(entries))
		}
		if entries[0].Phase != 1 || !entries[0].Value.Equal(models.NumberValue(0.3)) {
			t.Errorf("cell %s phase 1 entry = %+v", e.ID, entries[0])
		}
		if entries[1].Phase != 2 || !entries[1].Value.Equal(models.NumberValue(0.6)) {
			t.Errorf("cell %s phase 2 entry = %+v", e.ID, entries[1])
		}
	}
}

func TestResolveTerminationPolicy(t *testing.T) {
	one := 1
	tests := []struct {
		name      string
		maxPhases *int
		force     bool
		level     float64
		finished  bool
		reason    string
	}{
		{"below threshold continues", nil, false, 0.1, false, "continue"},
		{"forced finalize", nil, true, 0.1, true, "forced"},
		{"phase limit", &one, false, 0.1, true, "maxPhases"},
		{"threshold reached", nil, false, 0.8, true, "threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			issue := env.create(env.consensusInput("Policy", 0.8, tt.maxPhases, "admin", "ana"))
			env.accept(issue.ID, "ana")
			env.solver.levels = []float64{tt.level}
			env.submit(issue.ID, 0.5, "admin", "ana")

			res, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, tt.force)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if res.Finished != tt.finished || string(res.Reason) != tt.reason {
				t.Errorf("got finished=%v reason=%s, want %v %s", res.Finished, res.Reason, tt.finished, tt.reason)
			}
			if got := env.issue(issue.ID).Active; got == tt.finished {
				t.Errorf("issue active = %v after finished=%v", got, tt.finished)
			}
		})
	}
}

func TestResolveModelFailureLeavesIssueUntouched(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.input("Failing", "TOPSIS", "admin", "ana"))
	env.accept(issue.ID, "ana")
	env.submit(issue.ID, 0.5, "admin", "ana")

	env.solver.err = &solver.RemoteError{Endpoint: "topsis", Msg: "matrix is singular"}
	_, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	wantKind(t, err, engine.KindUpstream)
	if err.Error() != "matrix is singular" {
		t.Errorf("error = %q, want the model's message verbatim", err)
	}

	env.solver.err = solver.ErrUnavailable
	_, err = env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	wantKind(t, err, engine.KindUpstream)

	phase, err := env.db.LastPhase(env.ctx, issue.ID)
	if err != nil {
		t.Fatalf("LastPhase failed: %v", err)
	}
	if phase != 0 {
		t.Errorf("last phase = %d after failures, want 0", phase)
	}
	if got := env.issue(issue.ID); !got.Active || got.CurrentStage != models.StageAlternativeEvaluation {
		t.Errorf("issue changed after a failed round: %+v", got)
	}
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(), bool, error) {
	return nil, false, nil
}

func TestLockedIssueConflicts(t *testing.T) {
	env := newTestEnv(t, engine.WithLocker(busyLocker{}))
	issue := env.create(env.input("Locked", "TOPSIS", "admin", "ana"))

	_, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false)
	wantKind(t, err, engine.KindConflict)
	err = env.eng.SubmitEvaluations(env.ctx, env.id("admin"), issue.ID, nil)
	wantKind(t, err, engine.KindConflict)
	if env.solver.runCount() != 0 {
		t.Errorf("model service was called while the issue was locked")
	}
}

func TestMemoryLocker(t *testing.T) {
	l := engine.NewMemoryLocker()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "issue-1")
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	if _, ok, _ := l.Acquire(ctx, "issue-1"); ok {
		t.Fatal("second Acquire succeeded while held")
	}
	if _, ok, _ := l.Acquire(ctx, "issue-2"); !ok {
		t.Fatal("Acquire of another issue failed")
	}
	release()
	release()
	if _, ok, _ := l.Acquire(ctx, "issue-1"); !ok {
		t.Fatal("Acquire after release failed")
	}
}

func TestScenarios(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.input("What if", "TOPSIS", "admin", "ana", "ben"))
	env.accept(issue.ID, "ana")

	_, err := env.eng.CreateScenario(env.ctx, env.id("admin"), issue.ID, engine.ScenarioInput{TargetModel: "ARAS"})
	wantKind(t, err, engine.KindPrecondition)

	if err := env.eng.ChangeInvitationStatus(env.ctx, env.id("ben"), issue.ID, false); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	env.submit(issue.ID, 0.5, "admin", "ana")

	tests := []struct {
		name   string
		userID string
		target string
		kind   engine.Kind
	}{
		{"not admin", env.id("ana"), "ARAS", engine.KindForbidden},
		{"unknown model", env.id("admin"), "Nope", engine.KindValidation},
		{"pairwise target", env.id("admin"), "Herrera Viedma CRP", engine.KindPrecondition},
		{"unsupported domain", env.id("admin"), "Fuzzy TOPSIS", engine.KindPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.eng.CreateScenario(env.ctx, tt.userID, issue.ID, engine.ScenarioInput{TargetModel: tt.target})
			wantKind(t, err, tt.kind)
		})
	}

	before := env.rows(issue.ID)

	env.solver.err = &solver.RemoteError{Endpoint: "aras", Msg: "boom"}
	_, err = env.eng.CreateScenario(env.ctx, env.id("admin"), issue.ID, engine.ScenarioInput{TargetModel: "ARAS"})
	wantKind(t, err, engine.KindUpstream)
	if list, _ := env.eng.ListScenarios(env.ctx, env.id("admin"), issue.ID); len(list) != 0 {
		t.Fatalf("failed scenario was persisted: %d rows", len(list))
	}

	env.solver.err = nil
	s, err := env.eng.CreateScenario(env.ctx, env.id("admin"), issue.ID, engine.ScenarioInput{Name: "ARAS check", TargetModel: "ARAS"})
	if err != nil {
		t.Fatalf("CreateScenario failed: %v", err)
	}
	if s.Status != models.ScenarioDone || s.TargetModelName != "ARAS" || s.Inputs.WeightsUsed == nil {
		t.Errorf("scenario = %+v", s)
	}
	if len(s.Inputs.ExpertsOrder) != 2 || s.Inputs.ExpertsOrder[0] != "admin@example.com" {
		t.Errorf("experts order = %v, want sorted accepted experts", s.Inputs.ExpertsOrder)
	}
	if got := env.issue(issue.ID); !got.Active || got.CurrentStage != models.StageAlternativeEvaluation {
		t.Errorf("scenario changed the issue: %+v", got)
	}
	after := env.rows(issue.ID)
	if len(after) != len(before) {
		t.Fatalf("scenario changed the row count: %d before, %d after", len(before), len(after))
	}
	for key, was := range before {
		if now := after[key]; now != was {
			t.Errorf("scenario changed %s: %q became %q", key, was, now)
		}
	}

	fetched, err := env.eng.GetScenario(env.ctx, env.id("ana"), issue.ID, s.ID)
	if err != nil {
		t.Fatalf("GetScenario failed: %v", err)
	}
	if fetched.Name != "ARAS check" {
		t.Errorf("fetched name = %q", fetched.Name)
	}

	err = env.eng.DeleteScenario(env.ctx, env.id("ana"), issue.ID, s.ID)
	wantKind(t, err, engine.KindForbidden)
	if err := env.eng.DeleteScenario(env.ctx, env.id("admin"), issue.ID, s.ID); err != nil {
		t.Fatalf("DeleteScenario failed: %v", err)
	}
	_, err = env.eng.GetScenario(env.ctx, env.id("admin"), issue.ID, s.ID)
	wantKind(t, err, engine.KindNotFound)
}

func TestLeaveAndRejoin(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.consensusInput("Rejoin", 0.9, nil, "admin", "ana", "ben"))
	env.accept(issue.ID, "ana", "ben")
	env.solver.levels = []float64{0.2}

	err := env.eng.LeaveIssue(env.ctx, env.id("admin"), issue.ID)
	wantKind(t, err, engine.KindPrecondition)

	env.submit(issue.ID, 0.4, "admin", "ana", "ben")
	if _, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if err := env.eng.LeaveIssue(env.ctx, env.id("ana"), issue.ID); err != nil {
		t.Fatalf("LeaveIssue failed: %v", err)
	}
	if p, err := env.db.GetParticipation(env.ctx, issue.ID, env.id("ana")); err == nil {
		t.Fatalf("participation survived leaving: %+v", p)
	}
	exit, err := env.db.GetExit(env.ctx, issue.ID, env.id("ana"))
	if err != nil {
		t.Fatalf("GetExit failed: %v", err)
	}
	if exit.Phase == nil || *exit.Phase != 1 || exit.Reason != "left" {
		t.Errorf("exit = %+v, want phase 1 reason left", exit)
	}
	kept, err := env.db.ListExpertEvaluations(env.ctx, issue.ID, env.id("ana"))
	if err != nil {
		t.Fatalf("ListExpertEvaluations failed: %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("submitted cells were not kept: %d", len(kept))
	}

	err = env.eng.EditExperts(env.ctx, env.id("admin"), issue.ID, engine.EditExpertsInput{Add: emails("ben")})
	wantKind(t, err, engine.KindConflict)

	if err := env.eng.EditExperts(env.ctx, env.id("admin"), issue.ID, engine.EditExpertsInput{Add: emails("ana")}); err != nil {
		t.Fatalf("EditExperts add failed: %v", err)
	}
	p, err := env.db.GetParticipation(env.ctx, issue.ID, env.id("ana"))
	if err != nil {
		t.Fatalf("GetParticipation failed: %v", err)
	}
	if p.InvitationStatus != models.InvitationPending || p.EntryPhase == nil || *p.EntryPhase != 2 {
		t.Errorf("rejoined participation = %+v, want pending from phase 2", p)
	}
	again, err := env.db.ListExpertEvaluations(env.ctx, issue.ID, env.id("ana"))
	if err != nil {
		t.Fatalf("ListExpertEvaluations failed: %v", err)
	}
	if len(again) != 2 || again[0].History.Len() != 1 {
		t.Errorf("rejoined cells = %d with history %d, want the 2 kept cells", len(again), again[0].History.Len())
	}
	exit, err = env.db.GetExit(env.ctx, issue.ID, env.id("ana"))
	if err != nil {
		t.Fatalf("GetExit failed: %v", err)
	}
	if n := len(exit.History); n != 2 || exit.History[n-1].Action != models.ExitActionEntered {
		t.Errorf("exit history = %+v, want exited then entered", exit.History)
	}

	err = env.eng.EditExperts(env.ctx, env.id("admin"), issue.ID, engine.EditExpertsInput{Remove: emails("admin")})
	wantKind(t, err, engine.KindValidation)

	if err := env.eng.EditExperts(env.ctx, env.id("admin"), issue.ID, engine.EditExpertsInput{Remove: emails("ben")}); err != nil {
		t.Fatalf("EditExperts remove failed: %v", err)
	}
	notes, err := env.eng.ListNotifications(env.ctx, env.id("ben"))
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if notes[0].Type != engine.NotificationRemoved {
		t.Errorf("ben's latest notification = %s, want removedFromIssue", notes[0].Type)
	}
	detail, err := env.eng.GetIssue(env.ctx, env.id("admin"), issue.ID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if len(detail.Experts) != 2 {
		t.Errorf("experts after edits = %+v, want admin and ana", detail.Experts)
	}
}

func TestRemoveIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.input("Doomed", "TOPSIS", "admin", "ana"))
	env.accept(issue.ID, "ana")

	err := env.eng.RemoveIssue(env.ctx, env.id("ana"), issue.ID)
	wantKind(t, err, engine.KindForbidden)

	if err := env.eng.RemoveIssue(env.ctx, env.id("admin"), issue.ID); err != nil {
		t.Fatalf("RemoveIssue failed: %v", err)
	}
	_, err = env.eng.GetIssue(env.ctx, env.id("admin"), issue.ID)
	wantKind(t, err, engine.KindNotFound)

	notes, err := env.eng.ListNotifications(env.ctx, env.id("ana"))
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	var removed bool
	for _, n := range notes {
		if n.Type == engine.NotificationIssueRemoved {
			removed = true
		}
	}
	if !removed {
		t.Errorf("ana was not told about the removal: %+v", notes)
	}
}

func TestRemoveFinishedIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := env.create(env.input("Archive", "TOPSIS", "admin", "ana"))
	env.accept(issue.ID, "ana")

	_, err := env.eng.RemoveFinishedIssue(env.ctx, env.id("admin"), issue.ID)
	wantKind(t, err, engine.KindPrecondition)

	env.submit(issue.ID, 0.5, "admin", "ana")
	if _, err := env.eng.Resolve(env.ctx, env.id("admin"), issue.ID, false); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	_, err = env.eng.RemoveFinishedIssue(env.ctx, env.id("cruz"), issue.ID)
	wantKind(t, err, engine.KindForbidden)

	deleted, err := env.eng.RemoveFinishedIssue(env.ctx, env.id("admin"), issue.ID)
	if err != nil || deleted {
		t.Fatalf("admin hide = %v, %v; want hidden only", deleted, err)
	}
	finished, err := env.eng.ListFinishedIssues(env.ctx, env.id("admin"))
	if err != nil {
		t.Fatalf("ListFinishedIssues failed: %v", err)
	}
	if len(finished) != 0 {
		t.Errorf("hidden issue still listed for admin")
	}
	finished, err = env.eng.ListFinishedIssues(env.ctx, env.id("ana"))
	if err != nil {
		t.Fatalf("ListFinishedIssues failed: %v", err)
	}
	if len(finished) != 1 {
		t.Errorf("ana lost the finished issue before hiding it")
	}

	deleted, err = env.eng.RemoveFinishedIssue(env.ctx, env.id("ana"), issue.ID)
	if err != nil || !deleted {
		t.Fatalf("last hide = %v, %v; want deletion", deleted, err)
	}
	if _, err := env.db.GetIssue(env.ctx, issue.ID); err == nil {
		t.Errorf("issue survived every participant hiding it")
	}
}

func TestAutoClose(t *testing.T) {
	env := newTestEnv(t)
	env.solver.levels = []float64{0.1}

	consensus := env.create(env.consensusInput("Stalled", 0.9, nil, "admin", "ana"))
	env.accept(consensus.ID, "ana")
	env.submit(consensus.ID, 0.5, "admin", "ana")
	if _, err := env.eng.Resolve(env.ctx, env.id("admin"), consensus.ID, false); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	ready := env.create(env.input("Ready", "TOPSIS", "admin", "ana"))
	env.accept(ready.ID, "ana")
	env.submit(ready.ID, 0.5, "admin", "ana")

	empty := env.create(env.input("Empty", "TOPSIS", "admin", "ana"))

	later := env.input("Later", "TOPSIS", "admin", "ana")
	far := env.now.Add(30 * 24 * time.Hour)
	later.ClosureDate = &far
	untouched := env.create(later)

	outcomes, err := env.eng.AutoClose(env.ctx, env.now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("AutoClose failed: %v", err)
	}
	actions := map[string]string{}
	for _, o := range outcomes {
		if o.Err != "" {
			t.Errorf("issue %s failed: %s", o.IssueID, o.Err)
		}
		actions[o.IssueID] = string(o.Action)
	}
	want := map[string]string{consensus.ID: "finalize", ready.ID: "resolve", empty.ID: "remove"}
	for id, action := range want {
		if actions[id] != action {
			t.Errorf("issue %s action = %q, want %q", id, actions[id], action)
		}
	}
	if _, ok := actions[untouched.ID]; ok {
		t.Errorf("issue closing later was processed")
	}

	for _, id := range []string{consensus.ID, ready.ID} {
		got := env.issue(id)
		if got.Active || got.CurrentStage != models.StageFinished {
			t.Errorf("issue %s: active=%v stage=%s, want finished", id, got.Active, got.CurrentStage)
		}
	}
	if phase, _ := env.db.LastPhase(env.ctx, consensus.ID); phase != 1 {
		t.Errorf("finalized issue gained a phase: %d", phase)
	}
	if _, err := env.db.GetIssue(env.ctx, empty.ID); err == nil {
		t.Errorf("issue without a result was not removed")
	}
	if !env.issue(untouched.ID).Active {
		t.Errorf("issue closing later was closed")
	}
}

func TestDomains(t *testing.T) {
	env := newTestEnv(t)
	numeric := func(name string, lo, hi float64) *models.ExpressionDomain {
		return &models.ExpressionDomain{Name: name, Type: models.DomainNumeric, NumericRange: &models.NumericRange{Min: lo, Max: hi}}
	}

	d, err := env.eng.CreateDomain(env.ctx, env.id("ana"), numeric("Scale", 0, 10))
	if err != nil {
		t.Fatalf("CreateDomain failed: %v", err)
	}
	_, err = env.eng.CreateDomain(env.ctx, env.id("ana"), numeric("Scale", 0, 5))
	wantKind(t, err, engine.KindConflict)
	_, err = env.eng.CreateDomain(env.ctx, env.id("ana"), numeric("Backwards", 5, 1))
	wantKind(t, err, engine.KindValidation)

	updated, err := env.eng.UpdateDomain(env.ctx, env.id("ana"), d.ID, numeric("Scale", 1, 10))
	if err != nil {
		t.Fatalf("UpdateDomain failed: %v", err)
	}
	if updated.NumericRange.Min != 1 || updated.OwnerID != env.id("ana") {
		t.Errorf("updated domain = %+v", updated)
	}
	_, err = env.eng.UpdateDomain(env.ctx, env.id("ben"), d.ID, numeric("Mine", 0, 1))
	wantKind(t, err, engine.KindNotFound)

	global, err := env.db.GetGlobalDomainByName(env.ctx, "Numeric 0-1")
	if err != nil {
		t.Fatalf("GetGlobalDomainByName failed: %v", err)
	}
	err = env.eng.DeleteDomain(env.ctx, env.id("ana"), global.ID)
	wantKind(t, err, engine.KindForbidden)

	list, err := env.eng.ListDomains(env.ctx, env.id("ana"))
	if err != nil {
		t.Fatalf("ListDomains failed: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("ana sees %d domains, want 2 global plus her own", len(list))
	}
	if err := env.eng.DeleteDomain(env.ctx, env.id("ana"), d.ID); err != nil {
		t.Fatalf("DeleteDomain failed: %v", err)
	}
}

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.RegisterUser(env.ctx, "Ana again", "ANA@example.com")
	wantKind(t, err, engine.KindConflict)
	_, err = env.eng.RegisterUser(env.ctx, "Nobody", "not-an-email")
	wantKind(t, err, engine.KindValidation)

	u, err := env.eng.RegisterUser(env.ctx, "", " Dora@Example.com ")
	if err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if u.Email != "dora@example.com" || u.Name != u.Email {
		t.Errorf("user = %+v", u)
	}
}
