package solver

import (
	"encoding/json"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

// Outcome is a solver result mapped back onto the issue's entities.
type Outcome struct {
	Details               models.ConsensusDetails
	CollectiveEvaluations map[string]json.RawMessage
	Level                 *float64
}

type rawResults struct {
	AlternativesRankings  []int                          `json:"alternatives_rankings"`
	CollectiveRanking     []int                          `json:"collective_ranking"`
	CollectiveScores      []*float64                     `json:"collective_scores"`
	CM                    json.RawMessage                `json:"cm"`
	CollectiveEvaluations map[string][][]json.RawMessage `json:"collective_evaluations"`
	CollectiveMatrix      [][]json.RawMessage            `json:"collective_matrix"`
	PlotsGraphic          *struct {
		ExpertPoints    []json.RawMessage `json:"expert_points"`
		CollectivePoint json.RawMessage   `json:"collective_point"`
	} `json:"plots_graphic"`
}

// Normalize maps ranking indices to alternatives, keys collective values by
// alternative and criterion name, and attaches expert plot points to emails.
// alts and leaves must be in the canonical order the matrices were built with.
func Normalize(raw json.RawMessage, pairwise bool, alts []*models.Alternative, leaves []*models.Criterion, expertsOrder []string) (*Outcome, error) {
	var r rawResults
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode solver results: %w", err)
	}

	out := &Outcome{CollectiveEvaluations: map[string]json.RawMessage{}}

	ranking := r.AlternativesRankings
	if len(ranking) == 0 {
		ranking = r.CollectiveRanking
	}
	for _, idx := range ranking {
		if idx < 0 || idx >= len(alts) {
			return nil, fmt.Errorf("solver ranked alternative index %d of %d", idx, len(alts))
		}
		out.Details.Ranking = append(out.Details.Ranking, models.RankedAlternative{
			AlternativeID: alts[idx].ID,
			Name:          alts[idx].Name,
			Score:         scoreAt(r.CollectiveScores, idx),
		})
	}

	if len(r.CollectiveScores) == len(alts) {
		scores := make([]float64, 0, len(alts))
		for _, s := range r.CollectiveScores {
			if s == nil {
				scores = nil
				break
			}
			scores = append(scores, *s)
		}
		out.Details.CollectiveScores = scores
	}

	if len(r.CM) > 0 && string(r.CM) != "null" {
		var level float64
		if err := json.Unmarshal(r.CM, &level); err == nil {
			out.Level = &level
		} else {
			out.Details.ConsensusMatrix = r.CM
		}
	}

	var err error
	if pairwise {
		err = pairwiseCollective(out, r.CollectiveEvaluations, alts, leaves)
	} else {
		err = directCollective(out, r.CollectiveMatrix, alts, leaves)
	}
	if err != nil {
		return nil, err
	}

	if r.PlotsGraphic != nil && len(r.PlotsGraphic.ExpertPoints) > 0 {
		points := make(map[string]json.RawMessage, len(expertsOrder))
		for i, email := range expertsOrder {
			if i < len(r.PlotsGraphic.ExpertPoints) {
				points[email] = r.PlotsGraphic.ExpertPoints[i]
			} else {
				points[email] = json.RawMessage("null")
			}
		}
		plots, err := json.Marshal(map[string]interface{}{
			"expertPoints":    points,
			"collectivePoint": nullable(r.PlotsGraphic.CollectivePoint),
		})
		if err != nil {
			return nil, err
		}
		out.Details.Plots = plots
	}

	return out, nil
}

func scoreAt(scores []*float64, idx int) *float64 {
	if idx < len(scores) {
		return scores[idx]
	}
	return nil
}

func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// pairwiseCollective keys each criterion's collective matrix as rows of
// {"id": rowAlternative, <columnAlternative>: value}.
func pairwiseCollective(out *Outcome, byCrit map[string][][]json.RawMessage, alts []*models.Alternative, leaves []*models.Criterion) error {
	for _, crit := range leaves {
		m, ok := byCrit[crit.Name]
		if !ok {
			continue
		}
		if len(m) != len(alts) {
			return fmt.Errorf("collective matrix for %s has %d rows, want %d", crit.Name, len(m), len(alts))
		}
		rows := make([]map[string]interface{}, len(m))
		for i, row := range m {
			obj := map[string]interface{}{"id": alts[i].Name}
			for j, v := range row {
				if j < len(alts) {
					obj[alts[j].Name] = nullable(v)
				}
			}
			rows[i] = obj
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return err
		}
		out.CollectiveEvaluations[crit.Name] = b
	}
	return nil
}

// directCollective keys the alternative x criterion collective matrix as
// {<alternative>: {<criterion>: {"value": v}}}.
func directCollective(out *Outcome, m [][]json.RawMessage, alts []*models.Alternative, leaves []*models.Criterion) error {
	if m == nil {
		return nil
	}
	if len(m) != len(alts) {
		return fmt.Errorf("collective matrix has %d rows, want %d", len(m), len(alts))
	}
	for i, row := range m {
		cells := make(map[string]map[string]json.RawMessage, len(leaves))
		for j, v := range row {
			name := fmt.Sprintf("C%d", j+1)
			if j < len(leaves) {
				name = leaves[j].Name
			}
			cells[name] = map[string]json.RawMessage{"value": nullable(v)}
		}
		b, err := json.Marshal(cells)
		if err != nil {
			return err
		}
		out.CollectiveEvaluations[alts[i].Name] = b
	}
	return nil
}
