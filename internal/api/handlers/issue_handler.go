package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/middleware/identity"
)

type IssueHandler struct {
	engine *engine.Engine
}

func NewIssueHandler(e *engine.Engine) *IssueHandler {
	return &IssueHandler{engine: e}
}

func (h *IssueHandler) CreateIssue(c *fiber.Ctx) error {
	var req engine.CreateIssueInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	issue, err := h.engine.CreateIssue(c.Context(), identity.UserID(c), req)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, "Issue "+issue.Name+" created", fiber.Map{
		"issue": newIssueView(issue),
	})
}

func (h *IssueHandler) ListActive(c *fiber.Ctx) error {
	list, err := h.engine.ListActiveIssues(c.Context(), identity.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"issues": newSummaries(list)})
}

func (h *IssueHandler) ListFinished(c *fiber.Ctx) error {
	list, err := h.engine.ListFinishedIssues(c.Context(), identity.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"issues": newSummaries(list)})
}

func (h *IssueHandler) GetIssue(c *fiber.Ctx) error {
	d, err := h.engine.GetIssue(c.Context(), identity.UserID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"issue": newIssueDetailView(d)})
}

func (h *IssueHandler) RemoveIssue(c *fiber.Ctx) error {
	if err := h.engine.RemoveIssue(c.Context(), identity.UserID(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Issue removed", nil)
}

func (h *IssueHandler) HideFinished(c *fiber.Ctx) error {
	deleted, err := h.engine.RemoveFinishedIssue(c.Context(), identity.UserID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	msg := "Issue hidden"
	if deleted {
		msg = "Issue removed for every participant"
	}
	return ok(c, fiber.StatusOK, msg, fiber.Map{"deleted": deleted})
}

func (h *IssueHandler) ChangeInvitation(c *fiber.Ctx) error {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	var accept bool
	switch req.Action {
	case "accepted":
		accept = true
	case "declined":
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"msg":     "action must be accepted or declined",
			"obj":     "action",
		})
	}

	if err := h.engine.ChangeInvitationStatus(c.Context(), identity.UserID(c), c.Params("id"), accept); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Invitation "+req.Action, nil)
}

func (h *IssueHandler) EditExperts(c *fiber.Ctx) error {
	var req engine.EditExpertsInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if err := h.engine.EditExperts(c.Context(), identity.UserID(c), c.Params("id"), req); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Experts updated", nil)
}

func (h *IssueHandler) Leave(c *fiber.Ctx) error {
	if err := h.engine.LeaveIssue(c.Context(), identity.UserID(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "You left the issue", nil)
}

func (h *IssueHandler) Resolve(c *fiber.Ctx) error {
	var req struct {
		ForceFinalize bool `json:"forceFinalize"`
	}
	if err := parseOptional(c, &req); err != nil {
		return badBody(c, err)
	}

	res, err := h.engine.Resolve(c.Context(), identity.UserID(c), c.Params("id"), req.ForceFinalize)
	if err != nil {
		return fail(c, err)
	}
	msg := "Issue resolved"
	if !res.Finished {
		msg = "Consensus not reached, a new round has started"
	}
	return ok(c, fiber.StatusOK, msg, fiber.Map{"result": res})
}

func (h *IssueHandler) ConsensusHistory(c *fiber.Ctx) error {
	list, err := h.engine.ConsensusHistory(c.Context(), identity.UserID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, "", fiber.Map{"phases": newConsensusViews(list)})
}
