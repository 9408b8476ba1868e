package criteria

import (
	"errors"
	"testing"

	"github.com/decisionhub/backend/internal/storage/models"
)

func TestBuild_FlattensParentsBeforeChildren(t *testing.T) {
	tree, err := Build("issue-1", []Node{
		{Name: "Cost", Type: models.CriterionCost},
		{Name: "Quality", Children: []Node{
			{Name: "Durability", Type: models.CriterionBenefit},
			{Name: "Finish", Type: models.CriterionBenefit},
		}},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(tree.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(tree.Nodes))
	}
	if len(tree.Leaves) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(tree.Leaves))
	}

	seen := map[string]bool{}
	for _, n := range tree.Nodes {
		if n.ParentID != "" && !seen[n.ParentID] {
			t.Errorf("%s appears before its parent", n.Name)
		}
		if n.IssueID != "issue-1" {
			t.Errorf("%s has issue %q", n.Name, n.IssueID)
		}
		seen[n.ID] = true
	}

	quality := tree.Nodes[1]
	if quality.IsLeaf || quality.Type != models.CriterionBenefit {
		t.Errorf("parent node = %+v", quality)
	}
	finish, ok := tree.LeafByName("Finish")
	if !ok || finish.ParentID != quality.ID {
		t.Errorf("Finish parent = %q, want %q", finish.ParentID, quality.ID)
	}
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		roots []Node
	}{
		{name: "empty tree", roots: nil},
		{name: "blank name", roots: []Node{{Name: " ", Type: models.CriterionBenefit}}},
		{name: "leaf without type", roots: []Node{{Name: "Cost"}}},
		{name: "unknown type", roots: []Node{{Name: "Cost", Type: "max"}}},
		{
			name: "duplicate leaf across branches",
			roots: []Node{
				{Name: "A", Children: []Node{{Name: "Price", Type: models.CriterionCost}}},
				{Name: "B", Children: []Node{{Name: "Price", Type: models.CriterionCost}}},
			},
		},
		{
			name: "duplicate sibling",
			roots: []Node{
				{Name: "A", Children: []Node{
					{Name: "X", Children: []Node{{Name: "x1", Type: models.CriterionCost}}},
					{Name: "X", Children: []Node{{Name: "x2", Type: models.CriterionCost}}},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build("issue-1", tt.roots)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
		})
	}
}

func TestNest_RoundTripsBuild(t *testing.T) {
	tree, err := Build("issue-1", []Node{
		{Name: "Quality", Children: []Node{
			{Name: "Durability", Type: models.CriterionBenefit},
			{Name: "Finish", Type: models.CriterionBenefit},
		}},
		{Name: "Cost", Type: models.CriterionCost},
	})
	if err != nil {
		t.Fatal(err)
	}

	roots := Nest(tree.Nodes)
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	if roots[0].Name != "Quality" || len(roots[0].Children) != 2 || roots[0].Children[1].Name != "Finish" {
		t.Errorf("unexpected tree: %+v", roots[0])
	}
	if got := Leaves(tree.Nodes); len(got) != 3 {
		t.Errorf("Leaves = %d, want 3", len(got))
	}
}
