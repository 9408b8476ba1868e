package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
)

// setupTestDB opens a fresh database file with the production schema.
// A file is used rather than :memory: because each pooled connection would
// otherwise see its own empty database.
func setupTestDB(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := client.InitSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func seedUser(t *testing.T, c *sqlite.Client, id, email string) *models.User {
	t.Helper()
	u := &models.User{ID: id, Name: id, Email: email, CreatedAt: time.Now()}
	if err := c.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return u
}

func seedIssue(t *testing.T, c *sqlite.Client, id, adminID string) *models.Issue {
	t.Helper()
	closure := time.Now().Add(24 * time.Hour)
	is := &models.Issue{
		ID:              id,
		AdminID:         adminID,
		ModelID:         "model-topsis",
		ModelName:       "TOPSIS",
		Name:            "Issue " + id,
		Description:     "test issue",
		Active:          true,
		CurrentStage:    models.StageAlternativeEvaluation,
		WeightingMode:   models.WeightingManual,
		ModelParameters: models.Params{"weights": models.ArrayParam([]float64{1})},
		CreationDate:    time.Now(),
		ClosureDate:     &closure,
	}
	if err := c.CreateIssue(context.Background(), is); err != nil {
		t.Fatalf("failed to seed issue: %v", err)
	}
	return is
}

func seedParticipation(t *testing.T, c *sqlite.Client, issueID, expertID string, status models.InvitationStatus) *models.Participation {
	t.Helper()
	p := &models.Participation{
		ID:               issueID + "-" + expertID,
		IssueID:          issueID,
		ExpertID:         expertID,
		InvitationStatus: status,
		JoinedAt:         time.Now(),
	}
	if err := c.CreateParticipation(context.Background(), p); err != nil {
		t.Fatalf("failed to seed participation: %v", err)
	}
	return p
}

func seedSnapshot(t *testing.T, c *sqlite.Client, issueID, sourceID string) *models.IssueExpressionDomain {
	t.Helper()
	s, err := c.InsertSnapshotIfAbsent(context.Background(), &models.IssueExpressionDomain{
		ID:             issueID + "-snap-" + sourceID,
		IssueID:        issueID,
		SourceDomainID: sourceID,
		Name:           "Numeric 0-1",
		Type:           models.DomainNumeric,
		NumericRange:   &models.NumericRange{Min: 0, Max: 1},
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}
	return s
}
