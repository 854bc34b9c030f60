package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *Service, *mockDispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service, dispatcher := newTestService()
	handler := NewHandler(service)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	return r, service, dispatcher
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestCreateSessionEndpoint(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w := doJSON(t, r, "POST", "/v1/escrow", validCreateRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	session, ok := body["session"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected session in response")
	}
	if session["status"] != "awaiting_recipient" {
		t.Errorf("Expected awaiting_recipient, got %v", session["status"])
	}
	if session["id"] == "" {
		t.Error("Expected session ID")
	}
}

func TestCreateSessionEndpoint_SanitizesNames(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	req := validCreateRequest()
	req.Initiator.CaptainName = "  Alice\x00  "
	req.Recipient.ContactAddress = "\x00bianca@example.com "

	w := doJSON(t, r, "POST", "/v1/escrow", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	session := decodeBody(t, w)["session"].(map[string]interface{})
	initiator := session["initiator"].(map[string]interface{})
	if initiator["captainName"] != "Alice" {
		t.Errorf("Captain name not scrubbed: %q", initiator["captainName"])
	}
	recipient := session["recipient"].(map[string]interface{})
	if recipient["contactAddress"] != "bianca@example.com" {
		t.Errorf("Contact address not scrubbed: %q", recipient["contactAddress"])
	}
}

func TestCreateSessionEndpoint_Invalid(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing initiator team", func(req *CreateRequest) { req.Initiator.TeamID = "" }},
		{"bad recipient channel", func(req *CreateRequest) { req.Recipient.ContactChannel = "pigeon" }},
		{"malformed ttl", func(req *CreateRequest) { req.TTL = "soon" }},
		{"negative ttl", func(req *CreateRequest) { req.TTL = "-1h" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			w := doJSON(t, r, "POST", "/v1/escrow", req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetSessionEndpoint_ViewerRedaction(t *testing.T) {
	r, service, _ := setupTestRouter(t)

	session, err := service.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The recipient must not see the sealed lineup before submitting.
	w := doJSON(t, r, "GET", "/v1/escrow/"+session.ID+"?viewer=recipient", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	got := decodeBody(t, w)["session"].(map[string]interface{})
	if lineup, ok := got["initiatorLineup"]; ok && lineup != "" {
		t.Errorf("Recipient view leaked the initiator lineup: %v", lineup)
	}

	// The initiator still sees their own.
	w = doJSON(t, r, "GET", "/v1/escrow/"+session.ID+"?viewer=initiator", nil)
	got = decodeBody(t, w)["session"].(map[string]interface{})
	if got["initiatorLineup"] != session.InitiatorLineup {
		t.Error("Initiator view missing their own lineup")
	}
}

func TestGetSessionEndpoint_NotFound(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w := doJSON(t, r, "GET", "/v1/escrow/esc_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestSubmitLineupEndpoint(t *testing.T) {
	r, service, dispatcher := setupTestRouter(t)

	session, _ := service.Create(context.Background(), validCreateRequest())

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/submit", SubmitRequest{
		RecipientLineup: "1. Bianca/Max",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["outcome"] != "disclosed" {
		t.Errorf("Expected disclosed, got %v", body["outcome"])
	}
	got := body["session"].(map[string]interface{})
	if got["initiatorLineup"] == "" || got["recipientLineup"] == "" {
		t.Error("Disclosed response missing lineups")
	}
	if dispatcher.callCount() != 1 {
		t.Errorf("Expected 1 dispatch, got %d", dispatcher.callCount())
	}

	// Retry is idempotent and still shows the disclosed session.
	w = doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/submit", SubmitRequest{
		RecipientLineup: "different lineup",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on retry, got %d", w.Code)
	}
	body = decodeBody(t, w)
	if body["outcome"] != "already_disclosed" {
		t.Errorf("Expected already_disclosed, got %v", body["outcome"])
	}
	if dispatcher.callCount() != 1 {
		t.Errorf("Expected 1 dispatch after retry, got %d", dispatcher.callCount())
	}
}

func TestSubmitLineupEndpoint_Closed(t *testing.T) {
	r, service, _ := setupTestRouter(t)

	session, _ := service.Create(context.Background(), validCreateRequest())
	_, _, _ = service.Cancel(context.Background(), session.ID, "team-a")

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/submit", SubmitRequest{
		RecipientLineup: "too late",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["outcome"] != "cancelled" {
		t.Errorf("Expected cancelled, got %v", body["outcome"])
	}
	if body["error"] != "no_longer_open" {
		t.Errorf("Expected no_longer_open, got %v", body["error"])
	}
}

func TestSubmitLineupEndpoint_MissingBody(t *testing.T) {
	r, service, _ := setupTestRouter(t)

	session, _ := service.Create(context.Background(), validCreateRequest())

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/submit", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestCancelSessionEndpoint(t *testing.T) {
	r, service, _ := setupTestRouter(t)

	session, _ := service.Create(context.Background(), validCreateRequest())

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/cancel", CancelRequest{
		RequesterTeamID: "team-a",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["outcome"] != "cancelled" {
		t.Error("Expected cancelled outcome")
	}
}

func TestCancelSessionEndpoint_WrongTeam(t *testing.T) {
	r, service, _ := setupTestRouter(t)

	session, _ := service.Create(context.Background(), validCreateRequest())

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/cancel", CancelRequest{
		RequesterTeamID: "team-b",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}

func TestCancelSessionEndpoint_AfterDisclosure(t *testing.T) {
	r, service, _ := setupTestRouter(t)
	ctx := context.Background()

	session, _ := service.Create(ctx, validCreateRequest())
	_, _, _ = service.SubmitRecipientLineup(ctx, session.ID, "lineup")

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/cancel", CancelRequest{
		RequesterTeamID: "team-a",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["outcome"] != "already_disclosed" {
		t.Error("Expected already_disclosed outcome")
	}
}

func TestUpdateContactEndpoint(t *testing.T) {
	r, service, _ := setupTestRouter(t)

	session, _ := service.Create(context.Background(), validCreateRequest())

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/contact", ContactRequest{
		Channel: ChannelSMS,
		Address: "+15550009999",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got := decodeBody(t, w)["session"].(map[string]interface{})
	recipient := got["recipient"].(map[string]interface{})
	if recipient["contactAddress"] != "+15550009999" {
		t.Errorf("Contact not updated: %v", recipient["contactAddress"])
	}
}

func TestUpdateContactEndpoint_ClosedSession(t *testing.T) {
	r, service, _ := setupTestRouter(t)
	ctx := context.Background()

	session, _ := service.Create(ctx, validCreateRequest())
	_, _, _ = service.SubmitRecipientLineup(ctx, session.ID, "lineup")

	w := doJSON(t, r, "POST", "/v1/escrow/"+session.ID+"/contact", ContactRequest{
		Channel: ChannelSMS,
		Address: "+15550009999",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}

func TestConfirmationEndpoint(t *testing.T) {
	r, service, _ := setupTestRouter(t)
	ctx := context.Background()

	session, _ := service.Create(ctx, validCreateRequest())

	// Before disclosure: status only, no lineups.
	w := doJSON(t, r, "GET", "/v1/escrow/"+session.ID+"/confirmation", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "awaiting_recipient" {
		t.Errorf("Expected awaiting_recipient, got %v", body["status"])
	}
	if _, ok := body["initiatorLineup"]; ok {
		t.Error("Confirmation leaked the initiator lineup before disclosure")
	}

	// After disclosure: both lineups.
	_, _, _ = service.SubmitRecipientLineup(ctx, session.ID, "1. Bianca/Max")
	w = doJSON(t, r, "GET", "/v1/escrow/"+session.ID+"/confirmation", nil)
	body = decodeBody(t, w)
	if body["status"] != "disclosed" {
		t.Errorf("Expected disclosed, got %v", body["status"])
	}
	if body["initiatorLineup"] == "" || body["recipientLineup"] == "" {
		t.Error("Confirmation missing lineups after disclosure")
	}
}
