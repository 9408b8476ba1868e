package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

// Free-text fields checked wherever they appear at the top level of a body.
var textFields = []string{"issueName", "issueDescription", "scenarioName", "name", "email"}

// List fields capped at MaxListLength entries.
var listFields = []string{"alternatives", "addedExperts", "expertsToAdd", "expertsToRemove", "criteria", "cells"}

type Config struct {
	MaxTextLength       int
	MaxListLength       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects bodies that are not JSON, oversized free text, markup in
// names and descriptions, and runaway lists. Semantic checks stay with the
// engine.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxTextLength == 0 {
		cfg.MaxTextLength = 2000
	}
	if cfg.MaxListLength == 0 {
		cfg.MaxListLength = 500
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		body := c.Body()
		if len(body) == 0 {
			return c.Next()
		}
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if !allowedContentType(c.Get(fiber.HeaderContentType), cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type", "")
		}

		var req map[string]json.RawMessage
		if err := json.Unmarshal(body, &req); err != nil {
			return reject(c, fiber.StatusBadRequest, "Invalid JSON body", "")
		}

		for _, field := range textFields {
			raw, ok := req[field]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return reject(c, fiber.StatusBadRequest, field+" must be a string", field)
			}
			if len(s) > cfg.MaxTextLength {
				return reject(c, fiber.StatusBadRequest, field+" is too long", field)
			}
			if containsXSS(s) {
				cfg.Logger.Warn("Markup rejected in request body",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
					zap.String("field", field),
				)
				return reject(c, fiber.StatusBadRequest, field+" contains markup", field)
			}
		}

		for _, field := range listFields {
			raw, ok := req[field]
			if !ok {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return reject(c, fiber.StatusBadRequest, field+" must be a list", field)
			}
			if len(items) > cfg.MaxListLength {
				return reject(c, fiber.StatusBadRequest, field+" has too many entries", field)
			}
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	contentType = strings.ToLower(contentType)
	for _, a := range allowed {
		if strings.HasPrefix(contentType, a) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func reject(c *fiber.Ctx, status int, msg, field string) error {
	resp := fiber.Map{"success": false, "msg": msg}
	if field != "" {
		resp["obj"] = field
	}
	return c.Status(status).JSON(resp)
}
