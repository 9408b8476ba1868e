package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/decisionhub/backend/internal/api/handlers"
	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/notify"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/sqlite"
)

type fakeSolver struct{}

func (fakeSolver) Run(context.Context, string, solver.Request) (json.RawMessage, error) {
	return json.RawMessage(`{"alternatives_rankings":[1,0],"collective_scores":[0.25,0.75],"cm":null}`), nil
}

func (fakeSolver) BWM(context.Context, map[string]solver.BWMInput) ([]float64, error) {
	return nil, errors.New("not used")
}

type apiEnv struct {
	t     *testing.T
	app   *fiber.App
	users map[string]string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	eng, err := engine.NewEngine(db, fakeSolver{}, engine.Config{DefaultDomainName: "Numeric 0-1"})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	catalog, err := solver.LoadCatalog("")
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	ctx := context.Background()
	if err := eng.SeedCatalog(ctx, catalog); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	if err := eng.SeedGlobalDomains(ctx, engine.DefaultDomains("Numeric 0-1")); err != nil {
		t.Fatalf("failed to seed domains: %v", err)
	}

	app := fiber.New()
	handlers.Register(app.Group("/api/v1"), eng, notify.NewHub(8))

	env := &apiEnv{t: t, app: app, users: map[string]string{}}
	for _, name := range []string{"admin", "ana"} {
		var resp struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		env.do(http.MethodPost, "/api/v1/users", "", `{"name":"`+name+`","email":"`+name+`@example.com"}`, fiber.StatusCreated, &resp)
		env.users[name] = resp.User.ID
	}
	return env
}

// do sends a request as the named user and checks the status. out, when
// non-nil, receives the decoded body.
func (env *apiEnv) do(method, path, user, body string, want int, out interface{}) {
	env.t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", env.users[user])
	}

	resp, err := env.app.Test(req, -1)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		env.t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			env.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Obj     string `json:"obj"`
}

func TestRegisterUserConflict(t *testing.T) {
	env := newAPIEnv(t)

	var resp envelope
	env.do(http.MethodPost, "/api/v1/users", "", `{"name":"Ana","email":"ANA@example.com"}`, fiber.StatusConflict, &resp)
	if resp.Success || resp.Obj != "email" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCallerRequired(t *testing.T) {
	env := newAPIEnv(t)

	env.do(http.MethodGet, "/api/v1/issues/active", "", "", fiber.StatusUnauthorized, nil)
	env.do(http.MethodGet, "/api/v1/models", "", "", fiber.StatusOK, nil)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	env := newAPIEnv(t)
	env.do(http.MethodGet, "/api/v1/ws/issues/any", "admin", "", fiber.StatusUpgradeRequired, nil)
}

const issueBody = `{
	"issueName": "Plant site",
	"selectedModel": "TOPSIS",
	"alternatives": ["Sur", "Norte"],
	"criteria": [{"name": "Coste", "type": "cost"}, {"name": "Calidad", "type": "benefit"}],
	"addedExperts": ["admin@example.com", "ana@example.com"],
	"closureDate": "2099-01-01T00:00:00Z"
}`

type cell struct {
	AlternativeID         string      `json:"alternativeId"`
	ComparedAlternativeID string      `json:"comparedAlternativeId,omitempty"`
	CriterionID           string      `json:"criterionId"`
	Value                 interface{} `json:"value"`
}

func (env *apiEnv) submitAll(issueID, user string, v float64) {
	env.t.Helper()

	var view struct {
		Evaluations struct {
			Cells []cell `json:"cells"`
		} `json:"evaluations"`
	}
	env.do(http.MethodGet, "/api/v1/issues/"+issueID+"/evaluations", user, "", fiber.StatusOK, &view)
	cells := view.Evaluations.Cells
	if len(cells) == 0 {
		env.t.Fatalf("%s has no cells", user)
	}
	for i := range cells {
		cells[i].Value = v
	}
	body, err := json.Marshal(map[string]interface{}{"cells": cells})
	if err != nil {
		env.t.Fatalf("encode cells: %v", err)
	}
	env.do(http.MethodPost, "/api/v1/issues/"+issueID+"/evaluations", user, string(body), fiber.StatusOK, nil)
}

func TestIssueLifecycle(t *testing.T) {
	env := newAPIEnv(t)

	var created struct {
		envelope
		Issue struct {
			ID           string `json:"id"`
			CurrentStage string `json:"currentStage"`
		} `json:"issue"`
	}
	env.do(http.MethodPost, "/api/v1/issues", "admin", issueBody, fiber.StatusCreated, &created)
	id := created.Issue.ID
	if !created.Success || id == "" {
		t.Fatalf("unexpected create response %+v", created)
	}
	if created.Issue.CurrentStage != "alternativeEvaluation" {
		t.Errorf("stage = %s", created.Issue.CurrentStage)
	}

	env.do(http.MethodPost, "/api/v1/issues", "admin", issueBody, fiber.StatusConflict, nil)

	var active struct {
		Issues []struct {
			ID               string `json:"id"`
			InvitationStatus string `json:"invitationStatus"`
			ActionRequired   bool   `json:"actionRequired"`
		} `json:"issues"`
	}
	env.do(http.MethodGet, "/api/v1/issues/active", "ana", "", fiber.StatusOK, &active)
	if len(active.Issues) != 1 || !active.Issues[0].ActionRequired || active.Issues[0].InvitationStatus != "pending" {
		t.Fatalf("unexpected active issues %+v", active.Issues)
	}

	env.do(http.MethodPost, "/api/v1/issues/"+id+"/invitation", "ana", `{"action":"maybe"}`, fiber.StatusBadRequest, nil)
	env.do(http.MethodPost, "/api/v1/issues/"+id+"/invitation", "ana", `{"action":"accepted"}`, fiber.StatusOK, nil)

	env.do(http.MethodPost, "/api/v1/issues/"+id+"/resolve", "admin", "", fiber.StatusBadRequest, nil)

	env.submitAll(id, "admin", 0.4)
	env.submitAll(id, "ana", 0.6)

	env.do(http.MethodPost, "/api/v1/issues/"+id+"/resolve", "ana", "", fiber.StatusForbidden, nil)

	var resolved struct {
		Result struct {
			Phase    int  `json:"phase"`
			Finished bool `json:"finished"`
			Ranking  []struct {
				Name string `json:"name"`
			} `json:"ranking"`
		} `json:"result"`
	}
	env.do(http.MethodPost, "/api/v1/issues/"+id+"/resolve", "admin", "", fiber.StatusOK, &resolved)
	if !resolved.Result.Finished || resolved.Result.Phase != 1 || len(resolved.Result.Ranking) != 2 {
		t.Fatalf("unexpected resolve result %+v", resolved.Result)
	}

	var history struct {
		Phases []struct {
			Phase int `json:"phase"`
		} `json:"phases"`
	}
	env.do(http.MethodGet, "/api/v1/issues/"+id+"/consensus", "ana", "", fiber.StatusOK, &history)
	if len(history.Phases) != 1 || history.Phases[0].Phase != 1 {
		t.Fatalf("unexpected history %+v", history.Phases)
	}

	var finished struct {
		Issues []struct {
			ID string `json:"id"`
		} `json:"issues"`
	}
	env.do(http.MethodGet, "/api/v1/issues/finished", "admin", "", fiber.StatusOK, &finished)
	if len(finished.Issues) != 1 || finished.Issues[0].ID != id {
		t.Fatalf("unexpected finished issues %+v", finished.Issues)
	}

	var hidden struct {
		Deleted bool `json:"deleted"`
	}
	env.do(http.MethodPost, "/api/v1/issues/"+id+"/hide", "ana", "", fiber.StatusOK, &hidden)
	if hidden.Deleted {
		t.Fatal("issue deleted before the admin hid it")
	}
	env.do(http.MethodPost, "/api/v1/issues/"+id+"/hide", "admin", "", fiber.StatusOK, &hidden)
	if !hidden.Deleted {
		t.Fatal("expected the issue to be deleted once everyone hid it")
	}
	env.do(http.MethodGet, "/api/v1/issues/"+id, "admin", "", fiber.StatusNotFound, nil)
}

func TestCreateIssueValidation(t *testing.T) {
	env := newAPIEnv(t)

	var resp envelope
	body := strings.Replace(issueBody, `["Sur", "Norte"]`, `["Sur"]`, 1)
	env.do(http.MethodPost, "/api/v1/issues", "admin", body, fiber.StatusBadRequest, &resp)
	if resp.Success || resp.Obj != "alternatives" {
		t.Errorf("unexpected response %+v", resp)
	}

	env.do(http.MethodPost, "/api/v1/issues", "admin", `{"issueName":`, fiber.StatusBadRequest, nil)
}

func TestDomains(t *testing.T) {
	env := newAPIEnv(t)

	var created struct {
		Domain struct {
			ID string `json:"id"`
		} `json:"domain"`
	}
	env.do(http.MethodPost, "/api/v1/domains", "ana", `{"name":"Scores","type":"numeric","numericRange":{"min":0,"max":10}}`, fiber.StatusCreated, &created)
	env.do(http.MethodPost, "/api/v1/domains", "ana", `{"name":"Scores","type":"numeric","numericRange":{"min":0,"max":5}}`, fiber.StatusConflict, nil)

	var list struct {
		Domains []struct {
			Name   string `json:"name"`
			Global bool   `json:"global"`
		} `json:"domains"`
	}
	env.do(http.MethodGet, "/api/v1/domains", "ana", "", fiber.StatusOK, &list)
	var own, global int
	for _, d := range list.Domains {
		if d.Global {
			global++
		} else {
			own++
		}
	}
	if own != 1 || global != 2 {
		t.Fatalf("got %d own and %d global domains", own, global)
	}

	env.do(http.MethodDelete, "/api/v1/domains/"+created.Domain.ID, "admin", "", fiber.StatusNotFound, nil)
	env.do(http.MethodDelete, "/api/v1/domains/"+created.Domain.ID, "ana", "", fiber.StatusOK, nil)
}

func TestNotifications(t *testing.T) {
	env := newAPIEnv(t)
	env.do(http.MethodPost, "/api/v1/issues", "admin", issueBody, fiber.StatusCreated, nil)

	var list struct {
		Notifications []struct {
			Type           string `json:"type"`
			RequiresAction bool   `json:"requiresAction"`
			Read           bool   `json:"read"`
		} `json:"notifications"`
	}
	env.do(http.MethodGet, "/api/v1/notifications", "ana", "", fiber.StatusOK, &list)
	if len(list.Notifications) != 1 || list.Notifications[0].Type != "invitation" || list.Notifications[0].Read {
		t.Fatalf("unexpected notifications %+v", list.Notifications)
	}

	var marked struct {
		Updated int64 `json:"updated"`
	}
	env.do(http.MethodPost, "/api/v1/notifications/read", "ana", "", fiber.StatusOK, &marked)
	if marked.Updated != 1 {
		t.Errorf("updated = %d", marked.Updated)
	}
}

func TestModels(t *testing.T) {
	env := newAPIEnv(t)

	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	env.do(http.MethodGet, "/api/v1/models", "", "", fiber.StatusOK, &resp)
	names := map[string]bool{}
	for _, m := range resp.Models {
		names[m.Name] = true
	}
	for _, want := range []string{"TOPSIS", "Herrera Viedma CRP"} {
		if !names[want] {
			t.Errorf("catalog is missing %s", want)
		}
	}
}

