package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type ParamKind string

const (
	ParamNumber     ParamKind = "number"
	ParamArray      ParamKind = "array"
	ParamFuzzyArray ParamKind = "fuzzyArray"
)

// ParamValue is a tagged union over the parameter kinds a model can declare.
// Exactly one of Number, Array or Fuzzy is meaningful, selected by Kind.
type ParamValue struct {
	Kind   ParamKind
	Number float64
	Array  []float64
	Fuzzy  []Triple
}

func NumberParam(f float64) ParamValue {
	return ParamValue{Kind: ParamNumber, Number: f}
}

func ArrayParam(values []float64) ParamValue {
	return ParamValue{Kind: ParamArray, Array: values}
}

func FuzzyParam(values []Triple) ParamValue {
	return ParamValue{Kind: ParamFuzzyArray, Fuzzy: values}
}

// Len is the element count for array kinds and 1 for numbers.
func (v ParamValue) Len() int {
	switch v.Kind {
	case ParamArray:
		return len(v.Array)
	case ParamFuzzyArray:
		return len(v.Fuzzy)
	default:
		return 1
	}
}

// Plain is the untagged form sent to the solver.
func (v ParamValue) Plain() interface{} {
	switch v.Kind {
	case ParamArray:
		return v.Array
	case ParamFuzzyArray:
		out := make([][]float64, len(v.Fuzzy))
		for i, t := range v.Fuzzy {
			out[i] = []float64{t[0], t[1], t[2]}
		}
		return out
	default:
		return v.Number
	}
}

type taggedParam struct {
	Type  ParamKind       `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v ParamValue) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Plain())
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedParam{Type: v.Kind, Value: raw})
}

func (v *ParamValue) UnmarshalJSON(data []byte) error {
	var t taggedParam
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	out := ParamValue{Kind: t.Type}
	var err error
	switch t.Type {
	case ParamNumber:
		err = json.Unmarshal(t.Value, &out.Number)
	case ParamArray:
		err = json.Unmarshal(t.Value, &out.Array)
	case ParamFuzzyArray:
		err = json.Unmarshal(t.Value, &out.Fuzzy)
	default:
		err = fmt.Errorf("unknown parameter type %q", t.Type)
	}
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// Params holds resolved model parameters by name.
type Params map[string]ParamValue

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		c := ParamValue{Kind: v.Kind, Number: v.Number}
		c.Array = append([]float64(nil), v.Array...)
		c.Fuzzy = append([]Triple(nil), v.Fuzzy...)
		out[k] = c
	}
	return out
}

func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (p Params) Plain() map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v.Plain()
	}
	return out
}

// LengthRule is either a fixed length or "matchCriteria".
type LengthRule struct {
	N             int
	MatchCriteria bool
}

const matchCriteria = "matchCriteria"

func (l LengthRule) Resolve(leafCount int) int {
	if l.MatchCriteria {
		return leafCount
	}
	return l.N
}

func (l LengthRule) MarshalJSON() ([]byte, error) {
	if l.MatchCriteria {
		return json.Marshal(matchCriteria)
	}
	return json.Marshal(l.N)
}

func (l *LengthRule) UnmarshalJSON(data []byte) error {
	return l.parse(strings.Trim(string(data), `"`))
}

func (l *LengthRule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return l.parse(s)
}

func (l *LengthRule) parse(s string) error {
	if s == matchCriteria {
		*l = LengthRule{MatchCriteria: true}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("length must be a non-negative integer or %q, got %q", matchCriteria, s)
	}
	*l = LengthRule{N: n}
	return nil
}

type Restrictions struct {
	Min     *float64    `json:"min,omitempty" yaml:"min"`
	Max     *float64    `json:"max,omitempty" yaml:"max"`
	Allowed []float64   `json:"allowed,omitempty" yaml:"allowed"`
	Length  *LengthRule `json:"length,omitempty" yaml:"length"`
	Sum     *float64    `json:"sum,omitempty" yaml:"sum"`
}

// ParamSpec declares one model parameter. Default keeps the loosely typed
// catalog value; it is decoded against Type when resolved.
type ParamSpec struct {
	Name         string       `json:"name" yaml:"name"`
	Type         ParamKind    `json:"type" yaml:"type"`
	Default      interface{}  `json:"default,omitempty" yaml:"default"`
	Restrictions Restrictions `json:"restrictions" yaml:"restrictions"`
}
