// Package matrix turns the sparse evaluation rows of an issue into the dense
// per-expert matrices the solver consumes. Row and column positions come only
// from the canonical order the caller passes in.
package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/decisionhub/backend/internal/domains"
	"github.com/decisionhub/backend/internal/storage/models"
)

var ErrMissingSnapshot = errors.New("evaluation references a missing domain snapshot")

// Cell is one solver-ready value: a number, a fuzzy triple, or null.
type Cell struct {
	Crisp *float64
	Fuzzy *models.Triple
}

func Crisp(f float64) Cell {
	return Cell{Crisp: &f}
}

func Fuzzy(t models.Triple) Cell {
	return Cell{Fuzzy: &t}
}

func (c Cell) IsNull() bool {
	return c.Crisp == nil && c.Fuzzy == nil
}

func (c Cell) MarshalJSON() ([]byte, error) {
	switch {
	case c.Crisp != nil:
		return json.Marshal(*c.Crisp)
	case c.Fuzzy != nil:
		return json.Marshal([]float64{c.Fuzzy[0], c.Fuzzy[1], c.Fuzzy[2]})
	}
	return []byte("null"), nil
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*c = Cell{}
	case float64:
		*c = Crisp(v)
	case []interface{}:
		if len(v) != 3 {
			return fmt.Errorf("fuzzy cell needs 3 values, got %d", len(v))
		}
		var t models.Triple
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return fmt.Errorf("fuzzy cell component %d is not a number", i)
			}
			t[i] = f
		}
		*c = Fuzzy(t)
	default:
		return fmt.Errorf("unexpected cell value %v", v)
	}
	return nil
}

// IncompleteError names the first cell that kept a matrix from being dense.
// Compared is set only for pairwise matrices.
type IncompleteError struct {
	Expert      string
	Criterion   string
	Alternative string
	Compared    string
}

func (e *IncompleteError) Error() string {
	if e.Compared != "" {
		return fmt.Sprintf("incomplete evaluations: expert %s, criterion %s, alternatives %s vs %s",
			e.Expert, e.Criterion, e.Alternative, e.Compared)
	}
	return fmt.Sprintf("incomplete evaluations: expert %s, criterion %s, alternative %s",
		e.Expert, e.Criterion, e.Alternative)
}

type Expert struct {
	ID    string
	Email string
}

// Input is everything needed to assemble matrices. Alternatives and Leaves
// must already be in canonical order; Snapshots is keyed by snapshot id.
type Input struct {
	Experts      []Expert
	Alternatives []*models.Alternative
	Leaves       []*models.Criterion
	Evaluations  []*models.Evaluation
	Snapshots    map[string]*models.IssueExpressionDomain
}

// Result holds the assembled matrices. Direct maps expert email to an
// alternative x criterion matrix; ByCriterion maps expert email and criterion
// name to an alternative x alternative matrix.
type Result struct {
	Pairwise     bool
	ExpertsOrder []string
	Direct       map[string][][]Cell
	ByCriterion  map[string]map[string][][]Cell
	SnapshotIDs  []string
}

// Payload is the value sent to the solver as "matrices".
func (r *Result) Payload() interface{} {
	if r.Pairwise {
		return r.ByCriterion
	}
	return r.Direct
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Payload())
}

// Assemble builds pairwise or direct matrices depending on pairwise.
func Assemble(in Input, pairwise bool) (*Result, error) {
	if pairwise {
		return Pairwise(in)
	}
	return Direct(in)
}

type key struct {
	expert, alt, compared, crit string
}

func index(evals []*models.Evaluation, pairwise bool) map[key]*models.Evaluation {
	m := make(map[key]*models.Evaluation, len(evals))
	for _, e := range evals {
		if (e.ComparedAlternativeID != "") != pairwise {
			continue
		}
		m[key{e.ExpertID, e.AlternativeID, e.ComparedAlternativeID, e.CriterionID}] = e
	}
	return m
}

// Direct builds one alternative x criterion matrix per expert.
func Direct(in Input) (*Result, error) {
	evals := index(in.Evaluations, false)
	res := &Result{Direct: make(map[string][][]Cell, len(in.Experts))}
	used := map[string]bool{}

	for _, ex := range in.Experts {
		res.ExpertsOrder = append(res.ExpertsOrder, ex.Email)
		m := make([][]Cell, len(in.Alternatives))
		for i, alt := range in.Alternatives {
			m[i] = make([]Cell, len(in.Leaves))
			for j, crit := range in.Leaves {
				missing := &IncompleteError{Expert: ex.Email, Criterion: crit.Name, Alternative: alt.Name}
				e, ok := evals[key{ex.ID, alt.ID, "", crit.ID}]
				if !ok {
					return nil, missing
				}
				cell, err := coerce(in.Snapshots, e)
				if err != nil {
					return nil, err
				}
				if cell.IsNull() {
					return nil, missing
				}
				used[e.DomainID] = true
				m[i][j] = cell
			}
		}
		res.Direct[ex.Email] = m
	}

	res.SnapshotIDs = sortedKeys(used)
	return res, nil
}

// Pairwise builds one alternative x alternative matrix per expert and leaf
// criterion. The diagonal holds the domain's neutral value.
func Pairwise(in Input) (*Result, error) {
	evals := index(in.Evaluations, true)
	res := &Result{Pairwise: true, ByCriterion: make(map[string]map[string][][]Cell, len(in.Experts))}
	used := map[string]bool{}

	for _, ex := range in.Experts {
		res.ExpertsOrder = append(res.ExpertsOrder, ex.Email)
		byCrit := make(map[string][][]Cell, len(in.Leaves))

		for _, crit := range in.Leaves {
			n := len(in.Alternatives)
			m := make([][]Cell, n)
			var snap *models.IssueExpressionDomain

			for i, alt := range in.Alternatives {
				m[i] = make([]Cell, n)
				for j, cmp := range in.Alternatives {
					if i == j {
						continue
					}
					missing := &IncompleteError{Expert: ex.Email, Criterion: crit.Name, Alternative: alt.Name, Compared: cmp.Name}
					e, ok := evals[key{ex.ID, alt.ID, cmp.ID, crit.ID}]
					if !ok {
						return nil, missing
					}
					cell, err := coerce(in.Snapshots, e)
					if err != nil {
						return nil, err
					}
					if cell.IsNull() {
						return nil, missing
					}
					used[e.DomainID] = true
					if snap == nil {
						snap = in.Snapshots[e.DomainID]
					}
					m[i][j] = cell
				}
			}

			diag := Crisp(0.5)
			if snap != nil {
				diag = Neutral(snap)
			}
			for i := range m {
				m[i][i] = diag
			}
			byCrit[crit.Name] = m
		}
		res.ByCriterion[ex.Email] = byCrit
	}

	res.SnapshotIDs = sortedKeys(used)
	return res, nil
}

// coerce resolves an evaluation's raw value through its snapshot. Unparseable
// numbers and unknown labels come back as a null cell.
func coerce(snaps map[string]*models.IssueExpressionDomain, e *models.Evaluation) (Cell, error) {
	snap, ok := snaps[e.DomainID]
	if !ok {
		return Cell{}, fmt.Errorf("%w: evaluation %s, snapshot %q", ErrMissingSnapshot, e.ID, e.DomainID)
	}
	if e.Value.IsNull() {
		return Cell{}, nil
	}

	switch snap.Type {
	case models.DomainLinguistic:
		if t, ok := domains.LabelValues(snap, e.Value.Label); ok {
			return Fuzzy(t), nil
		}
	default:
		if f, ok := domains.Numeric(e.Value); ok {
			return Crisp(f), nil
		}
	}
	return Cell{}, nil
}

// Neutral is the indifference value of a domain: the midpoint of a numeric
// range, or the triple of the middle label.
func Neutral(snap *models.IssueExpressionDomain) Cell {
	if snap.Type == models.DomainLinguistic && len(snap.LinguisticLabels) > 0 {
		return Fuzzy(snap.LinguisticLabels[len(snap.LinguisticLabels)/2].Values)
	}
	if snap.NumericRange != nil {
		return Crisp((snap.NumericRange.Min + snap.NumericRange.Max) / 2)
	}
	return Crisp(0.5)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
