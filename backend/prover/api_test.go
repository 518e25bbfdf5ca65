package prover

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"district-relay/backend/pkg/actiondomain"
	"district-relay/backend/pkg/apierr"
)

func newTestRouter(api *API) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/proof/generate", api.GenerateProof)
	r.POST("/action-domain/build", api.BuildActionDomain)
	r.GET("/health", api.HealthCheck)
	return r
}

func TestHealthCheckReportsHealthy(t *testing.T) {
	api := NewAPI(&Config{})
	router := newTestRouter(api)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %s", body["status"])
	}
}

func TestGenerateProofRejectsMalformedBody(t *testing.T) {
	api := NewAPI(&Config{})
	router := newTestRouter(api)

	req := httptest.NewRequest(http.MethodPost, "/proof/generate", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != apierr.HTTPStatus(apierr.KindInvalidShape) {
		t.Fatalf("expected status %d, got %d", apierr.HTTPStatus(apierr.KindInvalidShape), rec.Code)
	}
}

func TestGenerateProofFailsCleanlyWhenUninitialized(t *testing.T) {
	api := NewAPI(&Config{})
	router := newTestRouter(api)

	merklePath := make([]string, 20)
	merkleHelper := make([]string, 20)
	for i := range merklePath {
		merklePath[i] = "0"
		merkleHelper[i] = "0"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"user_root":       "1",
		"nullifier":       "2",
		"action_domain":   "3",
		"authority_level": "1",
		"identity_secret": "4",
		"identity_salt":   "5",
		"merkle_path":     merklePath,
		"merkle_helper":   merkleHelper,
	})

	req := httptest.NewRequest(http.MethodPost, "/proof/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != apierr.HTTPStatus(apierr.KindInitFailed) {
		t.Fatalf("expected status %d for an uninitialized circuit manager, got %d", apierr.HTTPStatus(apierr.KindInitFailed), rec.Code)
	}
}

func TestBuildActionDomainHandlerReturnsDomain(t *testing.T) {
	api := NewAPI(&Config{})
	router := newTestRouter(api)

	body, _ := json.Marshal(actiondomain.Params{
		Country:          "US",
		JurisdictionType: actiondomain.JurisdictionFederal,
		TemplateID:       "tmpl-1",
		SessionID:        "sess-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/action-domain/build", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if out["action_domain"] == "" {
		t.Error("expected a non-empty action_domain in the response")
	}
}

func TestBuildActionDomainHandlerRejectsInvalidInput(t *testing.T) {
	api := NewAPI(&Config{})
	router := newTestRouter(api)

	body, _ := json.Marshal(actiondomain.Params{
		Country:          "USA",
		JurisdictionType: actiondomain.JurisdictionFederal,
		TemplateID:       "tmpl-1",
		SessionID:        "sess-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/action-domain/build", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != apierr.HTTPStatus(apierr.KindInvalidInput) {
		t.Fatalf("expected status %d, got %d", apierr.HTTPStatus(apierr.KindInvalidInput), rec.Code)
	}
}
