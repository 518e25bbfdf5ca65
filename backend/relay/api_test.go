package relay

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"district-relay/backend/pkg/apierr"
)

func testConfig() *Config {
	return &Config{
		AllowedDepths:  []int{20},
		AllowedDomains: map[string]struct{}{"campaign-1": {}},
		MaxBlobBytes:   4096,
	}
}

func validRequest() SubmissionRequest {
	return SubmissionRequest{
		TemplateID:           "tmpl-1",
		Proof:                "deadbeef",
		PublicInputs:         []string{"1", "2", "campaign-1", "3"},
		VerifierDepth:        20,
		EncryptedAddressBlob: []byte("encrypted-address"),
		EncryptedMessageBlob: []byte("encrypted-message"),
	}
}

func TestValidateShapeAcceptsWellFormedRequest(t *testing.T) {
	req := validRequest()
	nullifier, domain, err := validateShape(&req, testConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if nullifier != "2" {
		t.Errorf("expected nullifier %q, got %q", "2", nullifier)
	}
	if domain != "campaign-1" {
		t.Errorf("expected domain %q, got %q", "campaign-1", domain)
	}
}

func TestValidateShapeRejectsWrongPublicInputCount(t *testing.T) {
	req := validRequest()
	req.PublicInputs = []string{"1", "2", "3"}
	_, _, err := validateShape(&req, testConfig())
	if apierr.KindOf(err) != apierr.KindInvalidShape {
		t.Fatalf("expected KindInvalidShape, got %v", err)
	}
}

func TestValidateShapeRejectsDisallowedDepth(t *testing.T) {
	req := validRequest()
	req.VerifierDepth = 99
	_, _, err := validateShape(&req, testConfig())
	if apierr.KindOf(err) != apierr.KindInvalidShape {
		t.Fatalf("expected KindInvalidShape, got %v", err)
	}
}

func TestValidateShapeRejectsOversizedBlob(t *testing.T) {
	req := validRequest()
	req.EncryptedAddressBlob = make([]byte, 5000)
	_, _, err := validateShape(&req, testConfig())
	if apierr.KindOf(err) != apierr.KindInvalidShape {
		t.Fatalf("expected KindInvalidShape, got %v", err)
	}
}

func TestValidateShapeRejectsEmptyBlob(t *testing.T) {
	req := validRequest()
	req.EncryptedMessageBlob = nil
	_, _, err := validateShape(&req, testConfig())
	if apierr.KindOf(err) != apierr.KindInvalidShape {
		t.Fatalf("expected KindInvalidShape, got %v", err)
	}
}

func TestValidateShapeRejectsNonHexNullifier(t *testing.T) {
	req := validRequest()
	req.PublicInputs[publicInputNullifier] = "not-hex!"
	_, _, err := validateShape(&req, testConfig())
	if apierr.KindOf(err) != apierr.KindInvalidShape {
		t.Fatalf("expected KindInvalidShape, got %v", err)
	}
}

func TestValidateShapeAcceptsHexNullifierWithLetters(t *testing.T) {
	req := validRequest()
	req.PublicInputs[publicInputNullifier] = "deadbeefcafe"
	nullifier, _, err := validateShape(&req, testConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want, _ := new(big.Int).SetString("deadbeefcafe", 16)
	got, _ := new(big.Int).SetString(nullifier, 16)
	if got.Cmp(want) != 0 {
		t.Errorf("expected nullifier %s, got %s", want, got)
	}
}

func TestBearerTokenAuthenticatorRejectsMissingHeader(t *testing.T) {
	auth := BearerTokenAuthenticator{}
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	_, err := auth.Authenticate(req)
	if apierr.KindOf(err) != apierr.KindUnauthorized {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
}

func TestBearerTokenAuthenticatorAcceptsBearerHeader(t *testing.T) {
	auth := BearerTokenAuthenticator{}
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.Header.Set("Authorization", "Bearer user-123")
	userID, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userID != "user-123" {
		t.Errorf("expected user-123, got %s", userID)
	}
}
