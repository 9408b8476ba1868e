// Package ordering fixes the canonical position of alternatives and leaf
// criteria inside every matrix an issue produces. The order is computed once
// with a locale-aware collator and persisted; afterwards readers project
// entities through the stored id list and never sort by name again.
package ordering

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/decisionhub/backend/internal/storage/models"
)

type Store interface {
	ListAlternatives(ctx context.Context, issueID string) ([]*models.Alternative, error)
	ListCriteria(ctx context.Context, issueID string) ([]*models.Criterion, error)
	UpdateIssue(ctx context.Context, is *models.Issue) error
}

type Orderer struct {
	tag language.Tag
}

func NewOrderer(locale string) (*Orderer, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid collation locale %q: %w", locale, err)
	}
	return &Orderer{tag: tag}, nil
}

// collator returns a fresh collator; collate.Collator is not safe for
// concurrent use. Comparison ignores case and accents and orders digit runs
// numerically.
func (o *Orderer) collator() *collate.Collator {
	return collate.New(o.tag, collate.Loose, collate.Numeric)
}

// Sort returns a copy of items ordered by collated name, ties broken by id.
func Sort[T any](o *Orderer, items []T, name, id func(T) string) []T {
	out := append([]T(nil), items...)
	c := o.collator()
	sort.SliceStable(out, func(i, j int) bool {
		if n := c.CompareString(name(out[i]), name(out[j])); n != 0 {
			return n < 0
		}
		return id(out[i]) < id(out[j])
	})
	return out
}

// Project returns items in the order of orderIDs. Items missing from the list
// are appended in collated order; ids with no matching item are skipped. An
// empty order list falls back to a plain collated sort.
func Project[T any](o *Orderer, items []T, orderIDs []string, name, id func(T) string) []T {
	if len(orderIDs) == 0 {
		return Sort(o, items, name, id)
	}

	byID := make(map[string]T, len(items))
	for _, it := range items {
		byID[id(it)] = it
	}

	out := make([]T, 0, len(items))
	used := make(map[string]bool, len(orderIDs))
	for _, oid := range orderIDs {
		if it, ok := byID[oid]; ok && !used[oid] {
			out = append(out, it)
			used[oid] = true
		}
	}

	var extras []T
	for _, it := range items {
		if !used[id(it)] {
			extras = append(extras, it)
		}
	}
	return append(out, Sort(o, extras, name, id)...)
}

func altName(a *models.Alternative) string { return a.Name }
func altID(a *models.Alternative) string { return a.ID }
func critName(c *models.Criterion) string { return c.Name }
func critID(c *models.Criterion) string { return c.ID }

// Compute derives fresh orders from the entity sets.
func (o *Orderer) Compute(alts []*models.Alternative, leaves []*models.Criterion) (altOrder, leafOrder []string) {
	for _, a := range Sort(o, alts, altName, altID) {
		altOrder = append(altOrder, a.ID)
	}
	for _, c := range Sort(o, leaves, critName, critID) {
		leafOrder = append(leafOrder, c.ID)
	}
	return altOrder, leafOrder
}

func (o *Orderer) Alternatives(alts []*models.Alternative, order []string) []*models.Alternative {
	return Project(o, alts, order, altName, altID)
}

func (o *Orderer) LeafCriteria(leaves []*models.Criterion, order []string) []*models.Criterion {
	return Project(o, leaves, order, critName, critID)
}

// EnsureOrder backfills missing or empty orders on issue and persists them.
// An issue that already carries both orders is returned untouched.
func (o *Orderer) EnsureOrder(ctx context.Context, st Store, issue *models.Issue) (bool, error) {
	needsAlt := len(issue.AlternativeOrder) == 0
	needsLeaf := len(issue.LeafCriteriaOrder) == 0
	if !needsAlt && !needsLeaf {
		return false, nil
	}

	alts, err := st.ListAlternatives(ctx, issue.ID)
	if err != nil {
		return false, err
	}
	crits, err := st.ListCriteria(ctx, issue.ID)
	if err != nil {
		return false, err
	}
	var leaves []*models.Criterion
	for _, c := range crits {
		if c.IsLeaf {
			leaves = append(leaves, c)
		}
	}

	altOrder, leafOrder := o.Compute(alts, leaves)
	if needsAlt {
		issue.AlternativeOrder = altOrder
	}
	if needsLeaf {
		issue.LeafCriteriaOrder = leafOrder
	}

	if err := st.UpdateIssue(ctx, issue); err != nil {
		return false, fmt.Errorf("failed to persist issue order: %w", err)
	}
	return true, nil
}

// Ordered is an issue's alternatives and leaf criteria in canonical order.
type Ordered struct {
	Alternatives []*models.Alternative
	Leaves       []*models.Criterion
}

// Load reads the entities of issue and projects them through its stored order.
func (o *Orderer) Load(ctx context.Context, st Store, issue *models.Issue) (*Ordered, error) {
	alts, err := st.ListAlternatives(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	crits, err := st.ListCriteria(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	var leaves []*models.Criterion
	for _, c := range crits {
		if c.IsLeaf {
			leaves = append(leaves, c)
		}
	}
	return &Ordered{
		Alternatives: o.Alternatives(alts, issue.AlternativeOrder),
		Leaves:       o.LeafCriteria(leaves, issue.LeafCriteriaOrder),
	}, nil
}
