// Package criteria turns a nested criterion definition into flat, persisted
// criterion rows. The tree invariants are checked here once: a node is a leaf
// exactly when it has no children, and leaf names are unique within an issue.
package criteria

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/decisionhub/backend/internal/storage/models"
)

// Node is one criterion as submitted by the client.
type Node struct {
	Name     string               `json:"name"`
	Type     models.CriterionType `json:"type"`
	Children []Node               `json:"children,omitempty"`
}

type Error struct {
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("criterion %q: %s", e.Path, e.Msg)
}

// Tree is the flattened build result. Nodes lists parents before their
// children; Leaves keeps submission order.
type Tree struct {
	Nodes  []*models.Criterion
	Leaves []*models.Criterion
}

func (t *Tree) LeafByName(name string) (*models.Criterion, bool) {
	for _, l := range t.Leaves {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// Build validates roots and assigns ids. Children are built before their
// parent so a parent only exists once its subtree is valid.
func Build(issueID string, roots []Node) (*Tree, error) {
	if len(roots) == 0 {
		return nil, &Error{Msg: "at least one criterion is required"}
	}

	b := &builder{issueID: issueID, leafNames: make(map[string]bool)}
	var subtrees [][]*models.Criterion
	for _, n := range roots {
		nodes, err := b.build(n, "")
		if err != nil {
			return nil, err
		}
		subtrees = append(subtrees, nodes)
	}

	t := &Tree{Leaves: b.leaves}
	for _, nodes := range subtrees {
		t.Nodes = append(t.Nodes, nodes...)
	}
	return t, nil
}

type builder struct {
	issueID   string
	leafNames map[string]bool
	leaves    []*models.Criterion
}

// build returns the subtree rooted at n with n first.
func (b *builder) build(n Node, parentPath string) ([]*models.Criterion, error) {
	name := strings.TrimSpace(n.Name)
	path := name
	if parentPath != "" {
		path = parentPath + " > " + name
	}
	if name == "" {
		return nil, &Error{Path: parentPath, Msg: "criterion name is required"}
	}

	typ := n.Type
	if typ == "" && len(n.Children) > 0 {
		typ = models.CriterionBenefit
	}
	if typ != models.CriterionBenefit && typ != models.CriterionCost {
		return nil, &Error{Path: path, Msg: fmt.Sprintf("type must be %q or %q", models.CriterionBenefit, models.CriterionCost)}
	}

	self := &models.Criterion{
		ID:      uuid.NewString(),
		IssueID: b.issueID,
		Name:    name,
		Type:    typ,
		IsLeaf:  len(n.Children) == 0,
	}

	if self.IsLeaf {
		if b.leafNames[name] {
			return nil, &Error{Path: path, Msg: "duplicate leaf criterion name"}
		}
		b.leafNames[name] = true
		b.leaves = append(b.leaves, self)
		return []*models.Criterion{self}, nil
	}

	siblings := make(map[string]bool, len(n.Children))
	var below []*models.Criterion
	for _, child := range n.Children {
		childName := strings.TrimSpace(child.Name)
		if siblings[childName] {
			return nil, &Error{Path: path, Msg: fmt.Sprintf("duplicate child %q", childName)}
		}
		siblings[childName] = true

		nodes, err := b.build(child, path)
		if err != nil {
			return nil, err
		}
		nodes[0].ParentID = self.ID
		below = append(below, nodes...)
	}

	return append([]*models.Criterion{self}, below...), nil
}

// TreeNode is the nested read model of stored criteria.
type TreeNode struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Type     models.CriterionType `json:"type"`
	IsLeaf   bool                 `json:"isLeaf"`
	Children []*TreeNode          `json:"children,omitempty"`
}

// Nest rebuilds the hierarchy from stored rows, keeping row order among siblings.
func Nest(rows []*models.Criterion) []*TreeNode {
	byID := make(map[string]*TreeNode, len(rows))
	for _, c := range rows {
		byID[c.ID] = &TreeNode{ID: c.ID, Name: c.Name, Type: c.Type, IsLeaf: c.IsLeaf}
	}

	var roots []*TreeNode
	for _, c := range rows {
		node := byID[c.ID]
		if parent, ok := byID[c.ParentID]; ok && c.ParentID != "" {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// Leaves filters the leaf rows.
func Leaves(rows []*models.Criterion) []*models.Criterion {
	var out []*models.Criterion
	for _, c := range rows {
		if c.IsLeaf {
			out = append(out, c)
		}
	}
	return out
}
