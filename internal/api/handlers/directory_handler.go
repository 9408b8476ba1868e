package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/middleware/identity"
	"github.com/decisionhub/backend/internal/storage/models"
)

// DirectoryHandler serves users, the model catalog, expression domains and
// notifications.
type DirectoryHandler struct {
	engine *engine.Engine
}

func NewDirectoryHandler(e *engine.Engine) *DirectoryHandler {
	return &DirectoryHandler{engine: e}
}

func (h *DirectoryHandler) RegisterUser(c *fiber.Ctx) error {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	u, err := h.engine.RegisterUser(c.Context(), req.Name, req.Email)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, "User registered", fiber.Map{"user": newUserView(u)})
}

func (h *DirectoryHandler) ListModels(c *fiber.Ctx) error {
	list, err := h.engine.ListModels(c.Context())
	if err != nil {
		return fail(c, err)
	}
	if list == nil {
		list = []*models.IssueModel{}
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"models": list})
}

type domainRequest struct {
	Name             string                   `json:"name"`
	Type             models.DomainType        `json:"type"`
	NumericRange     *models.NumericRange     `json:"numericRange,omitempty"`
	LinguisticLabels []models.LinguisticLabel `json:"linguisticLabels,omitempty"`
}

func (r domainRequest) toModel() *models.ExpressionDomain {
	return &models.ExpressionDomain{
		Name:             r.Name,
		Type:             r.Type,
		NumericRange:     r.NumericRange,
		LinguisticLabels: r.LinguisticLabels,
	}
}

func (h *DirectoryHandler) ListDomains(c *fiber.Ctx) error {
	list, err := h.engine.ListDomains(c.Context(), identity.UserID(c))
	if err != nil {
		return fail(c, err)
	}

	out := make([]domainView, 0, len(list))
	for _, d := range list {
		out = append(out, newDomainView(d))
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"domains": out})
}

func (h *DirectoryHandler) CreateDomain(c *fiber.Ctx) error {
	var req domainRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	d, err := h.engine.CreateDomain(c.Context(), identity.UserID(c), req.toModel())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, "Expression domain created", fiber.Map{"domain": newDomainView(d)})
}

func (h *DirectoryHandler) UpdateDomain(c *fiber.Ctx) error {
	var req domainRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	d, err := h.engine.UpdateDomain(c.Context(), identity.UserID(c), c.Params("id"), req.toModel())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Expression domain updated", fiber.Map{"domain": newDomainView(d)})
}

func (h *DirectoryHandler) DeleteDomain(c *fiber.Ctx) error {
	if err := h.engine.DeleteDomain(c.Context(), identity.UserID(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Expression domain deleted", nil)
}

func (h *DirectoryHandler) ListNotifications(c *fiber.Ctx) error {
	list, err := h.engine.ListNotifications(c.Context(), identity.UserID(c))
	if err != nil {
		return fail(c, err)
	}

	out := make([]notificationView, 0, len(list))
	for _, n := range list {
		out = append(out, newNotificationView(n))
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"notifications": out})
}

func (h *DirectoryHandler) MarkNotificationsRead(c *fiber.Ctx) error {
	n, err := h.engine.MarkNotificationsRead(c.Context(), identity.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Notifications marked as read", fiber.Map{"updated": n})
}
