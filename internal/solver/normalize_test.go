package solver

import (
	"encoding/json"
	"testing"

	"github.com/decisionhub/backend/internal/storage/models"
)

var (
	alts = []*models.Alternative{
		{ID: "a1", Name: "North"},
		{ID: "a2", Name: "South"},
	}
	leaves = []*models.Criterion{
		{ID: "c1", Name: "Price", IsLeaf: true},
		{ID: "c2", Name: "Quality", IsLeaf: true},
	}
)

func TestNormalize_Consensus(t *testing.T) {
	raw := json.RawMessage(`{
		"alternatives_rankings": [1, 0],
		"cm": 0.75,
		"collective_scores": [0.4, 0.6],
		"collective_evaluations": {"Price": [[0.5, 0.3], [0.7, 0.5]]},
		"plots_graphic": {"expert_points": [[0.1, 0.2], [0.3, 0.4]], "collective_point": [0.2, 0.3]}
	}`)

	out, err := Normalize(raw, true, alts, leaves, []string{"ann@example.com", "bob@example.com"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if out.Level == nil || *out.Level != 0.75 {
		t.Errorf("level = %v, want 0.75", out.Level)
	}
	if len(out.Details.Ranking) != 2 || out.Details.Ranking[0].AlternativeID != "a2" || *out.Details.Ranking[0].Score != 0.6 {
		t.Errorf("ranking = %+v", out.Details.Ranking)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(out.CollectiveEvaluations["Price"], &rows); err != nil {
		t.Fatal(err)
	}
	if rows[1]["id"] != "South" || rows[1]["North"] != 0.7 {
		t.Errorf("collective rows = %v", rows)
	}
	if _, ok := out.CollectiveEvaluations["Quality"]; ok {
		t.Error("criterion missing from results must not appear")
	}

	var plots struct {
		ExpertPoints map[string][]float64 `json:"expertPoints"`
	}
	if err := json.Unmarshal(out.Details.Plots, &plots); err != nil {
		t.Fatal(err)
	}
	if plots.ExpertPoints["bob@example.com"][0] != 0.3 {
		t.Errorf("plots = %+v", plots)
	}
}

func TestNormalize_Direct(t *testing.T) {
	raw := json.RawMessage(`{
		"collective_ranking": [0, 1],
		"collective_scores": [0.9, null],
		"collective_matrix": [[0.1, 0.2], [0.3, 0.4]],
		"cm": [[1, 0], [0, 1]]
	}`)

	out, err := Normalize(raw, false, alts, leaves, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.Level != nil {
		t.Errorf("matrix cm must not become a level: %v", *out.Level)
	}
	if string(out.Details.ConsensusMatrix) != `[[1, 0], [0, 1]]` {
		t.Errorf("consensus matrix = %s", out.Details.ConsensusMatrix)
	}
	if out.Details.CollectiveScores != nil {
		t.Errorf("partial scores kept: %v", out.Details.CollectiveScores)
	}
	if out.Details.Ranking[1].Score != nil {
		t.Errorf("null score = %v", *out.Details.Ranking[1].Score)
	}

	var cells map[string]map[string]float64
	if err := json.Unmarshal(out.CollectiveEvaluations["South"], &cells); err != nil {
		t.Fatal(err)
	}
	if cells["Quality"]["value"] != 0.4 {
		t.Errorf("cells = %v", cells)
	}
}

func TestNormalize_RejectsBadIndex(t *testing.T) {
	if _, err := Normalize(json.RawMessage(`{"collective_ranking":[0,5]}`), false, alts, leaves, nil); err == nil {
		t.Error("expected error for out-of-range ranking index")
	}
}

func TestLoadCatalog_Default(t *testing.T) {
	catalog, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}

	byName := map[string]*models.IssueModel{}
	for _, m := range catalog {
		byName[m.Name] = m
	}
	crp, ok := byName["Herrera Viedma CRP"]
	if !ok || !crp.IsConsensus || !crp.IsPairwise {
		t.Fatalf("consensus model = %+v", crp)
	}
	if spec, ok := crp.Param("ag_lq"); !ok || spec.Restrictions.Length == nil || spec.Restrictions.Length.N != 2 {
		t.Errorf("ag_lq spec = %+v", spec)
	}
	topsis := byName["TOPSIS"]
	if spec, ok := topsis.Param("weights"); !ok || !spec.Restrictions.Length.MatchCriteria {
		t.Errorf("weights spec = %+v", spec)
	}
	if !byName["Fuzzy TOPSIS"].SupportsDomain(models.DomainLinguistic) {
		t.Error("Fuzzy TOPSIS must accept linguistic domains")
	}
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: "models: []"},
		{name: "duplicate", yaml: "models:\n  - {name: A, endpoint: a}\n  - {name: A, endpoint: b}"},
		{name: "missing endpoint", yaml: "models:\n  - {name: A}"},
		{name: "bad param type", yaml: "models:\n  - name: A\n    endpoint: a\n    parameters:\n      - {name: x, type: matrix}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
