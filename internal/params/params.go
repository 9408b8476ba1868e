// Package params resolves and validates model parameters against the schema
// a catalog model declares. Values are decoded once, at the boundary, into the
// tagged models.ParamValue union; nothing downstream inspects raw input.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/decisionhub/backend/internal/storage/models"
)

const sumTolerance = 1e-6

type Error struct {
	Param string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Msg)
}

func errorf(param, format string, args ...interface{}) *Error {
	return &Error{Param: param, Msg: fmt.Sprintf(format, args...)}
}

// Resolve builds the final parameter set for a model. For each declared
// parameter the first present source wins: overrides, then base, then the
// catalog default, then equal weights for criterion-length arrays.
// Overrides naming undeclared parameters are rejected.
func Resolve(specs []models.ParamSpec, base models.Params, overrides map[string]interface{}, leafCount int) (models.Params, error) {
	declared := make(map[string]bool, len(specs))
	for _, s := range specs {
		declared[s.Name] = true
	}
	for name := range overrides {
		if !declared[name] {
			return nil, errorf(name, "not declared by the model")
		}
	}

	out := make(models.Params, len(specs))
	for _, spec := range specs {
		v, err := resolveOne(spec, base, overrides, leafCount)
		if err != nil {
			return nil, err
		}
		if err := Validate(spec, v, leafCount); err != nil {
			return nil, err
		}
		out[spec.Name] = v
	}
	return out, nil
}

func resolveOne(spec models.ParamSpec, base models.Params, overrides map[string]interface{}, leafCount int) (models.ParamValue, error) {
	if raw, ok := overrides[spec.Name]; ok && !isEmpty(raw) {
		return Decode(spec.Name, spec.Type, raw)
	}
	if v, ok := base[spec.Name]; ok && v.Kind == spec.Type {
		return v, nil
	}
	if spec.Default != nil {
		return Decode(spec.Name, spec.Type, spec.Default)
	}
	if spec.Type != models.ParamNumber && spec.Restrictions.Length != nil && spec.Restrictions.Length.MatchCriteria {
		if leafCount <= 0 {
			return models.ParamValue{}, errorf(spec.Name, "no criteria to weight")
		}
		return EqualWeights(spec.Type, leafCount), nil
	}
	return models.ParamValue{}, errorf(spec.Name, "required")
}

// EqualWeights returns n equal weights of the given kind.
func EqualWeights(kind models.ParamKind, n int) models.ParamValue {
	w := 1 / float64(n)
	if kind == models.ParamFuzzyArray {
		out := make([]models.Triple, n)
		for i := range out {
			out[i] = models.Triple{w, w, w}
		}
		return models.FuzzyParam(out)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = w
	}
	return models.ArrayParam(out)
}

// UnitWeights is the trivial weight vector for a single criterion.
func UnitWeights(kind models.ParamKind) models.ParamValue {
	if kind == models.ParamFuzzyArray {
		return models.FuzzyParam([]models.Triple{{1, 1, 1}})
	}
	return models.ArrayParam([]float64{1})
}

func isEmpty(raw interface{}) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

// Decode converts a loosely typed value (JSON, YAML or already typed) into
// the tagged union for kind.
func Decode(name string, kind models.ParamKind, raw interface{}) (models.ParamValue, error) {
	switch kind {
	case models.ParamNumber:
		f, err := toFloat(raw)
		if err != nil {
			return models.ParamValue{}, errorf(name, "must be a number")
		}
		return models.NumberParam(f), nil

	case models.ParamArray:
		items, ok := toSlice(raw)
		if !ok {
			return models.ParamValue{}, errorf(name, "must be an array of numbers")
		}
		out := make([]float64, len(items))
		for i, it := range items {
			f, err := toFloat(it)
			if err != nil {
				return models.ParamValue{}, errorf(name, "element %d must be a number", i)
			}
			out[i] = f
		}
		return models.ArrayParam(out), nil

	case models.ParamFuzzyArray:
		items, ok := toSlice(raw)
		if !ok {
			return models.ParamValue{}, errorf(name, "must be an array of [l, m, u] triples")
		}
		out := make([]models.Triple, len(items))
		for i, it := range items {
			t, err := toTriple(it)
			if err != nil {
				return models.ParamValue{}, errorf(name, "element %d: %v", i, err)
			}
			out[i] = t
		}
		return models.FuzzyParam(out), nil
	}
	return models.ParamValue{}, errorf(name, "unknown type %q", kind)
}

// Validate checks v against the restrictions of spec.
func Validate(spec models.ParamSpec, v models.ParamValue, leafCount int) error {
	if v.Kind != spec.Type {
		return errorf(spec.Name, "expected %s, got %s", spec.Type, v.Kind)
	}
	r := spec.Restrictions

	inRange := func(f float64) bool {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if r.Min != nil && f < *r.Min {
			return false
		}
		if r.Max != nil && f > *r.Max {
			return false
		}
		return true
	}

	switch v.Kind {
	case models.ParamNumber:
		if len(r.Allowed) > 0 && !contains(r.Allowed, v.Number) {
			return errorf(spec.Name, "must be one of %v", r.Allowed)
		}
		if !inRange(v.Number) {
			return errorf(spec.Name, "%g is out of range", v.Number)
		}
		return nil

	case models.ParamArray:
		if err := checkLength(spec, v.Len(), leafCount); err != nil {
			return err
		}
		for i, f := range v.Array {
			if !inRange(f) {
				return errorf(spec.Name, "element %d (%g) is out of range", i, f)
			}
		}
		if r.Sum != nil {
			total := 0.0
			for _, f := range v.Array {
				total += f
			}
			if math.Abs(total-*r.Sum) > sumTolerance {
				return errorf(spec.Name, "must sum to %g, got %g", *r.Sum, total)
			}
		} else if len(v.Array) == 2 && !(r.Length != nil && r.Length.MatchCriteria) && v.Array[0] > v.Array[1] {
			return errorf(spec.Name, "interval lower bound exceeds upper bound")
		}
		return nil

	case models.ParamFuzzyArray:
		if err := checkLength(spec, v.Len(), leafCount); err != nil {
			return err
		}
		for i, t := range v.Fuzzy {
			if !t.Ordered() {
				return errorf(spec.Name, "element %d is not an ordered [l, m, u] triple", i)
			}
			for _, f := range t {
				if !inRange(f) {
					return errorf(spec.Name, "element %d (%v) is out of range", i, t)
				}
			}
		}
		return nil
	}
	return errorf(spec.Name, "unknown type %q", v.Kind)
}

func checkLength(spec models.ParamSpec, got, leafCount int) error {
	if spec.Restrictions.Length == nil {
		return nil
	}
	want := spec.Restrictions.Length.Resolve(leafCount)
	if got != want {
		if spec.Restrictions.Length.MatchCriteria {
			return errorf(spec.Name, "length must match the number of leaf criteria (%d), got %d", want, got)
		}
		return errorf(spec.Name, "length must be %d, got %d", want, got)
	}
	return nil
}

func contains(values []float64, f float64) bool {
	for _, v := range values {
		if v == f {
			return true
		}
	}
	return false
}

func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("not a number: %T", raw)
}

func toSlice(raw interface{}) ([]interface{}, bool) {
	switch v := raw.(type) {
	case []interface{}:
		return v, true
	case []float64:
		out := make([]interface{}, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	case [][]float64:
		out := make([]interface{}, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	case []models.Triple:
		out := make([]interface{}, len(v))
		for i, t := range v {
			out[i] = t
		}
		return out, true
	}
	return nil, false
}

func toTriple(raw interface{}) (models.Triple, error) {
	switch v := raw.(type) {
	case models.Triple:
		return v, nil
	case map[string]interface{}:
		var t models.Triple
		for i, key := range []string{"l", "m", "u"} {
			f, err := toFloat(v[key])
			if err != nil {
				return t, fmt.Errorf("missing %s", key)
			}
			t[i] = f
		}
		return t, nil
	}

	items, ok := toSlice(raw)
	if !ok || len(items) != 3 {
		return models.Triple{}, fmt.Errorf("must be a [l, m, u] triple")
	}
	var t models.Triple
	for i, it := range items {
		f, err := toFloat(it)
		if err != nil {
			return t, fmt.Errorf("component %d must be a number", i)
		}
		t[i] = f
	}
	return t, nil
}

// CoerceWeights converts a weight vector to kind so an issue's weights can
// feed a model that declares the other representation. Crisp weights become
// degenerate triples; triples collapse to their middle value. The result is
// normalized to sum 1 (triples by their middle values).
func CoerceWeights(v models.ParamValue, kind models.ParamKind) (models.ParamValue, bool) {
	switch kind {
	case models.ParamArray:
		var crisp []float64
		switch v.Kind {
		case models.ParamArray:
			crisp = append(crisp, v.Array...)
		case models.ParamFuzzyArray:
			for _, t := range v.Fuzzy {
				crisp = append(crisp, t[1])
			}
		default:
			return models.ParamValue{}, false
		}
		var sum float64
		for _, x := range crisp {
			sum += x
		}
		if sum != 0 {
			for i := range crisp {
				crisp[i] /= sum
			}
		}
		return models.ArrayParam(crisp), true

	case models.ParamFuzzyArray:
		var triples []models.Triple
		switch v.Kind {
		case models.ParamArray:
			for _, x := range v.Array {
				triples = append(triples, models.Triple{x, x, x})
			}
		case models.ParamFuzzyArray:
			triples = append(triples, v.Fuzzy...)
		default:
			return models.ParamValue{}, false
		}
		var sum float64
		for _, t := range triples {
			sum += t[1]
		}
		if sum != 0 {
			k := 1 / sum
			for i := range triples {
				triples[i] = models.Triple{triples[i][0] * k, triples[i][1] * k, triples[i][2] * k}
			}
		}
		return models.FuzzyParam(triples), true
	}
	return models.ParamValue{}, false
}
