// Package domains owns expression domains: validating their definitions,
// freezing them into per-issue snapshots, and checking submitted cell values
// against a snapshot.
package domains

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/decisionhub/backend/internal/storage/models"
)

var ErrInvalidDomain = errors.New("invalid expression domain")

type Store interface {
	InsertSnapshotIfAbsent(ctx context.Context, s *models.IssueExpressionDomain) (*models.IssueExpressionDomain, error)
}

// Snapshot freezes each distinct source domain for the issue and returns the
// snapshots keyed by source domain id. A source that already has a snapshot in
// this issue gets the existing one back.
func Snapshot(ctx context.Context, st Store, issueID string, sources []*models.ExpressionDomain, now time.Time) (map[string]*models.IssueExpressionDomain, error) {
	out := make(map[string]*models.IssueExpressionDomain, len(sources))
	for _, d := range sources {
		if d == nil {
			continue
		}
		if _, done := out[d.ID]; done {
			continue
		}

		snap, err := st.InsertSnapshotIfAbsent(ctx, &models.IssueExpressionDomain{
			ID:               uuid.NewString(),
			IssueID:          issueID,
			SourceDomainID:   d.ID,
			Name:             d.Name,
			Type:             d.Type,
			NumericRange:     copyRange(d.NumericRange),
			LinguisticLabels: append([]models.LinguisticLabel(nil), d.LinguisticLabels...),
			CreatedAt:        now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot domain %s: %w", d.ID, err)
		}
		out[d.ID] = snap
	}
	return out, nil
}

func copyRange(r *models.NumericRange) *models.NumericRange {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ValidateDefinition checks a domain before it is stored.
func ValidateDefinition(d *models.ExpressionDomain) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDomain)
	}

	switch d.Type {
	case models.DomainNumeric:
		if d.NumericRange == nil {
			return fmt.Errorf("%w: numeric domains need a range", ErrInvalidDomain)
		}
		if !(d.NumericRange.Min < d.NumericRange.Max) {
			return fmt.Errorf("%w: range minimum must be below maximum", ErrInvalidDomain)
		}
		if len(d.LinguisticLabels) > 0 {
			return fmt.Errorf("%w: numeric domains take no labels", ErrInvalidDomain)
		}

	case models.DomainLinguistic:
		if len(d.LinguisticLabels) < 2 {
			return fmt.Errorf("%w: linguistic domains need at least two labels", ErrInvalidDomain)
		}
		seen := make(map[string]bool, len(d.LinguisticLabels))
		for _, l := range d.LinguisticLabels {
			label := strings.TrimSpace(l.Label)
			if label == "" {
				return fmt.Errorf("%w: empty label", ErrInvalidDomain)
			}
			if seen[label] {
				return fmt.Errorf("%w: duplicate label %q", ErrInvalidDomain, label)
			}
			seen[label] = true
			if !l.Values.Ordered() {
				return fmt.Errorf("%w: label %q must have ordered [l, m, u] values", ErrInvalidDomain, label)
			}
		}
		if d.NumericRange != nil {
			return fmt.Errorf("%w: linguistic domains take no numeric range", ErrInvalidDomain)
		}

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDomain, d.Type)
	}
	return nil
}

// ValueError describes a submitted value the snapshot does not accept.
type ValueError struct {
	Msg string
}

func (e *ValueError) Error() string {
	return e.Msg
}

// Normalize checks v against snap and returns it in canonical form: numbers
// for numeric domains (numeric strings are parsed), labels for linguistic
// ones. Null values are rejected.
func Normalize(snap *models.IssueExpressionDomain, v models.CellValue) (models.CellValue, error) {
	if v.IsNull() {
		return v, &ValueError{Msg: "value is required"}
	}

	switch snap.Type {
	case models.DomainNumeric:
		f, ok := numeric(v)
		if !ok {
			return v, &ValueError{Msg: fmt.Sprintf("%q is not a number", v.String())}
		}
		if snap.NumericRange != nil && (f < snap.NumericRange.Min || f > snap.NumericRange.Max) {
			return v, &ValueError{Msg: fmt.Sprintf("%g is outside [%g, %g]", f, snap.NumericRange.Min, snap.NumericRange.Max)}
		}
		if math.Round(f*100)/100 != f {
			return v, &ValueError{Msg: fmt.Sprintf("%g has more than two decimals", f)}
		}
		return models.NumberValue(f), nil

	case models.DomainLinguistic:
		if v.Number != nil {
			return v, &ValueError{Msg: "linguistic domains take a label"}
		}
		if _, ok := LabelValues(snap, v.Label); !ok {
			return v, &ValueError{Msg: fmt.Sprintf("unknown label %q", v.Label)}
		}
		return models.LabelValue(v.Label), nil
	}
	return v, &ValueError{Msg: fmt.Sprintf("unknown domain type %q", snap.Type)}
}

func numeric(v models.CellValue) (float64, bool) {
	if v.Number != nil {
		return *v.Number, !math.IsNaN(*v.Number) && !math.IsInf(*v.Number, 0)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Label), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Numeric returns the number a value holds in a numeric domain.
func Numeric(v models.CellValue) (float64, bool) {
	if v.IsNull() {
		return 0, false
	}
	return numeric(v)
}

// LabelValues looks up the fuzzy triple of label in snap.
func LabelValues(snap *models.IssueExpressionDomain, label string) (models.Triple, bool) {
	for _, l := range snap.LinguisticLabels {
		if l.Label == label {
			return l.Values, true
		}
	}
	return models.Triple{}, false
}
