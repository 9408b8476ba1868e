package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/middleware/identity"
)

type ScenarioHandler struct {
	engine *engine.Engine
}

func NewScenarioHandler(e *engine.Engine) *ScenarioHandler {
	return &ScenarioHandler{engine: e}
}

func (h *ScenarioHandler) Create(c *fiber.Ctx) error {
	var req engine.ScenarioInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	s, err := h.engine.CreateScenario(c.Context(), identity.UserID(c), c.Params("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, "Scenario created", fiber.Map{"scenario": newScenarioView(s)})
}

func (h *ScenarioHandler) List(c *fiber.Ctx) error {
	list, err := h.engine.ListScenarios(c.Context(), identity.UserID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}

	out := make([]scenarioListItem, 0, len(list))
	for _, s := range list {
		out = append(out, scenarioListItem{
			ID:          s.ID,
			Name:        s.Name,
			TargetModel: s.TargetModelName,
			Status:      s.Status,
			CreatedAt:   s.CreatedAt,
		})
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"scenarios": out})
}

func (h *ScenarioHandler) Get(c *fiber.Ctx) error {
	s, err := h.engine.GetScenario(c.Context(), identity.UserID(c), c.Params("id"), c.Params("scenarioId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"scenario": newScenarioView(s)})
}

func (h *ScenarioHandler) Delete(c *fiber.Ctx) error {
	if err := h.engine.DeleteScenario(c.Context(), identity.UserID(c), c.Params("id"), c.Params("scenarioId")); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Scenario deleted", nil)
}
