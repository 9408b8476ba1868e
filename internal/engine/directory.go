package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/domains"
	"github.com/decisionhub/backend/internal/storage/models"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

func (e *Engine) RegisterUser(ctx context.Context, name, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, classify(invalid("email", "invalid email %q", email))
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}

	u := &models.User{ID: uuid.New().String(), Name: name, Email: email, CreatedAt: e.now()}
	if err := e.db.CreateUser(ctx, u); err != nil {
		if sqlite.IsConflict(err) {
			return nil, conflict("email", "%s is already registered", email)
		}
		return nil, classify(err)
	}
	logger.Info("User registered", zap.String("user_id", u.ID))
	return u, nil
}

func (e *Engine) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := e.db.GetUser(ctx, id)
	return u, classify(err)
}

// SeedCatalog upserts the model catalog.
func (e *Engine) SeedCatalog(ctx context.Context, catalog []*models.IssueModel) error {
	return classify(e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		for _, m := range catalog {
			if m.ID == "" {
				m.ID = uuid.New().String()
			}
			if err := r.UpsertModel(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (e *Engine) ListModels(ctx context.Context) ([]*models.IssueModel, error) {
	out, err := e.db.ListModels(ctx)
	return out, classify(err)
}

// DefaultDomains are the global domains every installation starts with.
func DefaultDomains(numericName string) []*models.ExpressionDomain {
	return []*models.ExpressionDomain{
		{
			Name:         numericName,
			Type:         models.DomainNumeric,
			NumericRange: &models.NumericRange{Min: 0, Max: 1},
		},
		{
			Name: "Five labels",
			Type: models.DomainLinguistic,
			LinguisticLabels: []models.LinguisticLabel{
				{Label: "Very low", Values: models.Triple{0, 0, 0.25}},
				{Label: "Low", Values: models.Triple{0, 0.25, 0.5}},
				{Label: "Medium", Values: models.Triple{0.25, 0.5, 0.75}},
				{Label: "High", Values: models.Triple{0.5, 0.75, 1}},
				{Label: "Very high", Values: models.Triple{0.75, 1, 1}},
			},
		},
	}
}

// SeedGlobalDomains upserts global domains by name.
func (e *Engine) SeedGlobalDomains(ctx context.Context, list []*models.ExpressionDomain) error {
	for _, d := range list {
		if err := domains.ValidateDefinition(d); err != nil {
			return classify(err)
		}
	}
	return classify(e.db.WithTx(ctx, func(r *sqlite.Repo) error {
		for _, d := range list {
			d.OwnerID = ""
			if d.ID == "" {
				d.ID = uuid.New().String()
			}
			if d.CreatedAt.IsZero() {
				d.CreatedAt = e.now()
			}
			if err := r.UpsertGlobalDomain(ctx, d); err != nil {
				return err
			}
		}
		return nil
	}))
}

// ListDomains returns the global domains and the caller's own.
func (e *Engine) ListDomains(ctx context.Context, userID string) ([]*models.ExpressionDomain, error) {
	out, err := e.db.ListDomains(ctx, userID)
	return out, classify(err)
}

func (e *Engine) CreateDomain(ctx context.Context, userID string, d *models.ExpressionDomain) (*models.ExpressionDomain, error) {
	if err := domains.ValidateDefinition(d); err != nil {
		return nil, classify(err)
	}
	d.ID = uuid.New().String()
	d.OwnerID = userID
	d.CreatedAt = e.now()
	if err := e.db.CreateDomain(ctx, d); err != nil {
		if sqlite.IsConflict(err) {
			return nil, conflict("name", "you already have a domain named %q", d.Name)
		}
		return nil, classify(err)
	}
	return d, nil
}

// UpdateDomain edits one of the caller's domains. Issues already using it
// keep their snapshot.
func (e *Engine) UpdateDomain(ctx context.Context, userID, id string, d *models.ExpressionDomain) (*models.ExpressionDomain, error) {
	current, err := e.ownDomain(ctx, userID, id)
	if err != nil {
		return nil, classify(err)
	}
	if err := domains.ValidateDefinition(d); err != nil {
		return nil, classify(err)
	}
	d.ID, d.OwnerID, d.CreatedAt = current.ID, current.OwnerID, current.CreatedAt
	if err := e.db.UpdateDomain(ctx, d); err != nil {
		if sqlite.IsConflict(err) {
			return nil, conflict("name", "you already have a domain named %q", d.Name)
		}
		return nil, classify(err)
	}
	return d, nil
}

func (e *Engine) DeleteDomain(ctx context.Context, userID, id string) error {
	if _, err := e.ownDomain(ctx, userID, id); err != nil {
		return classify(err)
	}
	return classify(e.db.DeleteDomain(ctx, id))
}

func (e *Engine) ownDomain(ctx context.Context, userID, id string) (*models.ExpressionDomain, error) {
	d, err := e.db.GetDomain(ctx, id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, notFound("expression domain")
	}
	if err != nil {
		return nil, err
	}
	if d.OwnerID == "" {
		return nil, forbidden("global domains cannot be changed")
	}
	if d.OwnerID != userID {
		return nil, notFound("expression domain")
	}
	return d, nil
}

func (e *Engine) ListNotifications(ctx context.Context, userID string) ([]*models.Notification, error) {
	out, err := e.db.ListNotifications(ctx, userID)
	return out, classify(err)
}

func (e *Engine) MarkNotificationsRead(ctx context.Context, userID string) (int64, error) {
	n, err := e.db.MarkNotificationsRead(ctx, userID)
	return n, classify(err)
}
