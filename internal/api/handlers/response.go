package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/pkg/logger"
)

func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation, engine.KindPrecondition, engine.KindIntegrity:
		return fiber.StatusBadRequest
	case engine.KindForbidden:
		return fiber.StatusForbidden
	case engine.KindNotFound:
		return fiber.StatusNotFound
	case engine.KindConflict:
		return fiber.StatusConflict
	case engine.KindUpstream:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// fail answers {success:false, msg, obj?}. Anything that is not an engine
// error is logged and hidden behind a generic message.
func fail(c *fiber.Ctx, err error) error {
	var ee *engine.Error
	if !errors.As(err, &ee) {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"msg":     "Internal server error",
		})
	}

	switch ee.Kind {
	case engine.KindUpstream, engine.KindIntegrity:
		logger.Warn("Request failed",
			zap.String("path", c.Path()),
			zap.String("kind", string(ee.Kind)),
			zap.Error(err),
		)
	default:
		logger.Debug("Request rejected",
			zap.String("path", c.Path()),
			zap.String("kind", string(ee.Kind)),
			zap.String("msg", ee.Msg),
		)
	}

	resp := fiber.Map{"success": false, "msg": ee.Msg}
	if ee.Field != "" {
		resp["obj"] = ee.Field
	}
	return c.Status(statusFor(ee.Kind)).JSON(resp)
}

func badBody(c *fiber.Ctx, err error) error {
	logger.Debug("Failed to parse request body", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"msg":     "Invalid request body",
	})
}

// parseOptional decodes the body when there is one.
func parseOptional(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(out)
}

func ok(c *fiber.Ctx, status int, msg string, extra fiber.Map) error {
	resp := fiber.Map{"success": true, "msg": msg}
	for k, v := range extra {
		resp[k] = v
	}
	return c.Status(status).JSON(resp)
}
