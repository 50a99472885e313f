package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/httpx"
	"github.com/lumipay/lumipay/internal/logging"
)

func newTestApp(svc *Service, owner string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		if owner != "" {
			c.Locals(httpx.OwnerLocal, owner)
		}
		return c.Next()
	})
	app.Post("/transfers", NewHandler(svc).Transfer)
	return app
}

func postTransfer(t *testing.T, app *fiber.App, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/transfers", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHandlerTransfer(t *testing.T) {
	f := newFixture(t)
	f.open(t, "alice")
	bob := f.open(t, "bob")
	app := newTestApp(f.svc, "alice")

	resp, body := postTransfer(t, app, `{"recipient":"`+bob.AccountNumber+`","amount":"25000.50","narration":"rent"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["amount"] != "25000.50" || body["type"] != "debit" || body["balance_after"] != "74999.50" {
		t.Fatalf("unexpected body %v", body)
	}
	if id, _ := body["transaction_id"].(string); len(id) != 12 {
		t.Fatalf("expected 12 digit transaction id, got %v", body["transaction_id"])
	}
	if id, _ := body["session_id"].(string); len(id) != 12 {
		t.Fatalf("expected 12 digit session id, got %v", body["session_id"])
	}
}

func TestHandlerTransferErrors(t *testing.T) {
	f := newFixture(t)
	alice := f.open(t, "alice")
	bob := f.open(t, "bob")
	app := newTestApp(f.svc, "alice")

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"insufficient funds", `{"recipient":"` + bob.AccountNumber + `","amount":250000}`, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"self transfer", `{"recipient":"` + alice.AccountNumber + `","amount":"10"}`, http.StatusConflict, "self_transfer_rejected"},
		{"unknown recipient", `{"recipient":"9999999999","amount":"10"}`, http.StatusNotFound, "account_not_found"},
		{"short account number", `{"recipient":"123","amount":"10"}`, http.StatusBadRequest, "invalid_input"},
		{"zero amount", `{"recipient":"` + bob.AccountNumber + `","amount":"0"}`, http.StatusBadRequest, "invalid_amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := postTransfer(t, app, tc.body)
			if resp.StatusCode != tc.status || body["error"] != tc.code {
				t.Fatalf("expected %d %s, got %d %v", tc.status, tc.code, resp.StatusCode, body)
			}
			if body["retryable"] != false {
				t.Fatalf("expected non-retryable error, got %v", body["retryable"])
			}
		})
	}
}

func TestHandlerTransferRequiresOwner(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f.svc, "")
	resp, body := postTransfer(t, app, `{"recipient":"1234567890","amount":"10"}`)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %v", resp.StatusCode, body)
	}
}
