package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/middleware/identity"
)

// EvaluationHandler serves criteria weighting and alternative evaluation.
type EvaluationHandler struct {
	engine *engine.Engine
}

func NewEvaluationHandler(e *engine.Engine) *EvaluationHandler {
	return &EvaluationHandler{engine: e}
}

func (h *EvaluationHandler) GetWeights(c *fiber.Ctx) error {
	w, err := h.engine.GetWeights(c.Context(), identity.UserID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"weights": newWeightsView(w)})
}

func (h *EvaluationHandler) SaveWeightsDraft(c *fiber.Ctx) error {
	var req engine.WeightsInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if err := h.engine.SaveWeightsDraft(c.Context(), identity.UserID(c), c.Params("id"), req); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Weights saved", nil)
}

func (h *EvaluationHandler) SubmitWeights(c *fiber.Ctx) error {
	var req engine.WeightsInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if err := h.engine.SubmitWeights(c.Context(), identity.UserID(c), c.Params("id"), req); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Weights submitted", nil)
}

func (h *EvaluationHandler) ComputeWeights(c *fiber.Ctx) error {
	w, err := h.engine.ComputeWeights(c.Context(), identity.UserID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Criteria weights computed", fiber.Map{"weights": w})
}

func (h *EvaluationHandler) GetEvaluations(c *fiber.Ctx) error {
	v, err := h.engine.GetEvaluations(c.Context(), identity.UserID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"evaluations": newEvaluationsView(v)})
}

type cellsRequest struct {
	Cells []engine.CellInput `json:"cells"`
}

func (h *EvaluationHandler) SaveEvaluationDraft(c *fiber.Ctx) error {
	var req cellsRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if err := h.engine.SaveEvaluationDraft(c.Context(), identity.UserID(c), c.Params("id"), req.Cells); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Evaluations saved", nil)
}

func (h *EvaluationHandler) SubmitEvaluations(c *fiber.Ctx) error {
	var req cellsRequest
	if err := parseOptional(c, &req); err != nil {
		return badBody(c, err)
	}
	if err := h.engine.SubmitEvaluations(c.Context(), identity.UserID(c), c.Params("id"), req.Cells); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Evaluations submitted", nil)
}
