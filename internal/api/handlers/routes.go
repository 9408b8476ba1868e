package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/middleware/identity"
	"github.com/decisionhub/backend/internal/notify"
	"github.com/decisionhub/backend/pkg/logger"
)

// Register mounts every issue route on api. Model listing and user
// registration are public; everything else requires a known X-User-ID.
func Register(api fiber.Router, e *engine.Engine, hub *notify.Hub) {
	directory := NewDirectoryHandler(e)
	issues := NewIssueHandler(e)
	evaluations := NewEvaluationHandler(e)
	scenarios := NewScenarioHandler(e)
	ws := NewWebSocketHandler(e, hub)

	api.Get("/models", directory.ListModels)
	api.Post("/users", directory.RegisterUser)

	caller := identity.Middleware(identity.Config{Users: e, Logger: logger.Named("identity")})

	api.Get("/ws/issues/:id", ws.Upgrade, caller, websocket.New(ws.HandleConnection))

	api.Get("/domains", caller, directory.ListDomains)
	api.Post("/domains", caller, directory.CreateDomain)
	api.Put("/domains/:id", caller, directory.UpdateDomain)
	api.Delete("/domains/:id", caller, directory.DeleteDomain)

	api.Get("/notifications", caller, directory.ListNotifications)
	api.Post("/notifications/read", caller, directory.MarkNotificationsRead)

	is := api.Group("/issues", caller)
	is.Post("/", issues.CreateIssue)
	is.Get("/active", issues.ListActive)
	is.Get("/finished", issues.ListFinished)
	is.Get("/:id", issues.GetIssue)
	is.Delete("/:id", issues.RemoveIssue)
	is.Post("/:id/hide", issues.HideFinished)
	is.Post("/:id/invitation", issues.ChangeInvitation)
	is.Post("/:id/experts", issues.EditExperts)
	is.Post("/:id/leave", issues.Leave)
	is.Post("/:id/resolve", issues.Resolve)
	is.Get("/:id/consensus", issues.ConsensusHistory)

	is.Get("/:id/weights", evaluations.GetWeights)
	is.Put("/:id/weights/draft", evaluations.SaveWeightsDraft)
	is.Post("/:id/weights", evaluations.SubmitWeights)
	is.Post("/:id/weights/compute", evaluations.ComputeWeights)
	is.Get("/:id/evaluations", evaluations.GetEvaluations)
	is.Put("/:id/evaluations/draft", evaluations.SaveEvaluationDraft)
	is.Post("/:id/evaluations", evaluations.SubmitEvaluations)

	is.Get("/:id/scenarios", scenarios.List)
	is.Post("/:id/scenarios", scenarios.Create)
	is.Get("/:id/scenarios/:scenarioId", scenarios.Get)
	is.Delete("/:id/scenarios/:scenarioId", scenarios.Delete)
}
