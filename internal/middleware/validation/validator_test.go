package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{MaxTextLength: 20, MaxListLength: 2}))
	app.Post("/issues", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })
	app.Delete("/issues/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		want        int
	}{
		{"valid", http.MethodPost, "/issues", "application/json", `{"issueName":"Plan"}`, fiber.StatusCreated},
		{"charset suffix", http.MethodPost, "/issues", "application/json; charset=utf-8", `{"issueName":"Plan"}`, fiber.StatusCreated},
		{"empty body", http.MethodPost, "/issues", "", "", fiber.StatusCreated},
		{"delete skipped", http.MethodDelete, "/issues/1", "text/plain", "x", fiber.StatusNoContent},
		{"wrong content type", http.MethodPost, "/issues", "text/plain", `{"issueName":"Plan"}`, fiber.StatusUnsupportedMediaType},
		{"broken json", http.MethodPost, "/issues", "application/json", `{"issueName":`, fiber.StatusBadRequest},
		{"name not string", http.MethodPost, "/issues", "application/json", `{"issueName":3}`, fiber.StatusBadRequest},
		{"name too long", http.MethodPost, "/issues", "application/json", `{"issueName":"` + strings.Repeat("a", 21) + `"}`, fiber.StatusBadRequest},
		{"markup", http.MethodPost, "/issues", "application/json", `{"issueDescription":"<script>x</script>"}`, fiber.StatusBadRequest},
		{"too many alternatives", http.MethodPost, "/issues", "application/json", `{"alternatives":["a","b","c"]}`, fiber.StatusBadRequest},
		{"list not a list", http.MethodPost, "/issues", "application/json", `{"alternatives":"a"}`, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
