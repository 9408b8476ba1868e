package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Triple is a triangular fuzzy number (l, m, u).
type Triple [3]float64

func (t Triple) Ordered() bool {
	return t[0] <= t[1] && t[1] <= t[2]
}

// CellValue is the raw value an expert typed into a cell: a number, a
// linguistic label, or nothing yet.
type CellValue struct {
	Number *float64
	Label  string
}

func NumberValue(f float64) CellValue {
	return CellValue{Number: &f}
}

func LabelValue(label string) CellValue {
	return CellValue{Label: label}
}

func (v CellValue) IsNull() bool {
	return v.Number == nil && v.Label == ""
}

func (v CellValue) Equal(o CellValue) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	if v.Number != nil && o.Number != nil {
		return *v.Number == *o.Number
	}
	return v.Number == nil && o.Number == nil && v.Label == o.Label
}

func (v CellValue) String() string {
	switch {
	case v.Number != nil:
		return fmt.Sprintf("%g", *v.Number)
	case v.Label != "":
		return v.Label
	default:
		return "null"
	}
}

func (v CellValue) MarshalJSON() ([]byte, error) {
	if v.Number != nil {
		return json.Marshal(*v.Number)
	}
	if v.Label != "" {
		return json.Marshal(v.Label)
	}
	return []byte("null"), nil
}

func (v *CellValue) UnmarshalJSON(data []byte) error {
	*v = CellValue{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &v.Label)
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("cell value must be a number, a label or null: %w", err)
	}
	v.Number = &f
	return nil
}

type HistoryEntry struct {
	Phase     int       `json:"phase"`
	Value     CellValue `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

var ErrHistoryOrder = errors.New("history entries must have strictly increasing phases")

// History is the append-only log of values an evaluation held in earlier
// consensus phases. Entries are kept in phase order and never modified.
type History struct {
	entries []HistoryEntry
}

func NewHistory(entries ...HistoryEntry) (History, error) {
	var h History
	for _, e := range entries {
		if err := h.Append(e); err != nil {
			return History{}, err
		}
	}
	return h, nil
}

func (h *History) Append(e HistoryEntry) error {
	if n := len(h.entries); n > 0 && e.Phase <= h.entries[n-1].Phase {
		return fmt.Errorf("%w: phase %d after %d", ErrHistoryOrder, e.Phase, h.entries[n-1].Phase)
	}
	h.entries = append(h.entries, e)
	return nil
}

func (h History) Len() int {
	return len(h.entries)
}

// Entries returns a copy; callers cannot rewrite the log through it.
func (h History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Values replays the overwritten values in phase order.
func (h History) Values() []CellValue {
	out := make([]CellValue, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.Value
	}
	return out
}

func (h History) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

func (h *History) UnmarshalJSON(data []byte) error {
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	loaded, err := NewHistory(entries...)
	if err != nil {
		return err
	}
	*h = loaded
	return nil
}
