package actiondomain

import (
	"testing"

	"district-relay/backend/pkg/apierr"
)

func validParams() Params {
	return Params{
		Country:              "US",
		JurisdictionType:     JurisdictionFederal,
		RecipientSubdivision: "",
		TemplateID:           "tmpl-1",
		SessionID:            "sess-1",
	}
}

func TestBuildActionDomainIsDeterministic(t *testing.T) {
	a, err := BuildActionDomain(validParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := BuildActionDomain(validParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Cmp(b) != 0 {
		t.Errorf("expected identical inputs to produce identical domains, got %s vs %s", a, b)
	}
}

func TestBuildActionDomainDistinguishesFieldBoundaries(t *testing.T) {
	p1 := validParams()
	p1.TemplateID = "ab"
	p1.SessionID = "cd"

	p2 := validParams()
	p2.TemplateID = "a"
	p2.SessionID = "bcd"

	d1, err := BuildActionDomain(p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := BuildActionDomain(p2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1.Cmp(d2) == 0 {
		t.Error("expected length-prefix framing to prevent boundary aliasing between adjacent fields")
	}
}

func TestBuildActionDomainDistinguishesJurisdiction(t *testing.T) {
	p1 := validParams()
	p2 := validParams()
	p2.JurisdictionType = JurisdictionInternational

	d1, _ := BuildActionDomain(p1)
	d2, _ := BuildActionDomain(p2)
	if d1.Cmp(d2) == 0 {
		t.Error("expected different jurisdiction types to produce different domains")
	}
}

func TestBuildActionDomainRejectsBadCountryLength(t *testing.T) {
	p := validParams()
	p.Country = "USA"
	_, err := BuildActionDomain(p)
	if apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestBuildActionDomainRejectsUnknownJurisdiction(t *testing.T) {
	p := validParams()
	p.JurisdictionType = "planetary"
	_, err := BuildActionDomain(p)
	if apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestBuildActionDomainRequiresSubdivisionForStateJurisdiction(t *testing.T) {
	p := validParams()
	p.JurisdictionType = JurisdictionState
	p.RecipientSubdivision = ""
	_, err := BuildActionDomain(p)
	if apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}

	p.RecipientSubdivision = "CA"
	if _, err := BuildActionDomain(p); err != nil {
		t.Fatalf("expected no error once subdivision is supplied, got %v", err)
	}
}

func TestBuildActionDomainRequiresSubdivisionForLocalJurisdiction(t *testing.T) {
	p := validParams()
	p.JurisdictionType = JurisdictionLocal
	p.RecipientSubdivision = ""
	_, err := BuildActionDomain(p)
	if apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestBuildActionDomainAllowsEmptySubdivisionForFederal(t *testing.T) {
	p := validParams()
	p.JurisdictionType = JurisdictionFederal
	p.RecipientSubdivision = ""
	if _, err := BuildActionDomain(p); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestBuildActionDomainRejectsOversizedField(t *testing.T) {
	p := validParams()
	oversized := make([]byte, maxFieldLength+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	p.TemplateID = string(oversized)
	_, err := BuildActionDomain(p)
	if apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestBuildActionDomainRejectsDisallowedCharacters(t *testing.T) {
	p := validParams()
	p.TemplateID = "tmpl<script>"
	_, err := BuildActionDomain(p)
	if apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestBuildActionDomainRejectsDecomposedUnicodeForm(t *testing.T) {
	// permittedCharset only admits \p{L}/\p{N}: a combining accent (Mn
	// category, as in NFD-decomposed "e" + U+0301) is rejected before it
	// ever reaches the NFC normalization step, so a caller can never smuggle
	// a decomposed form through to the hash in the first place.
	p := validParams()
	p.TemplateID = "caf" + "e\u0301"
	_, err := BuildActionDomain(p)
	if apierr.KindOf(err) != apierr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput for a decomposed combining-mark form, got %v", err)
	}
}

func TestBuildActionDomainAcceptsPrecomposedAccentedLetter(t *testing.T) {
	p := validParams()
	p.TemplateID = "caf\u00e9"
	if _, err := BuildActionDomain(p); err != nil {
		t.Fatalf("expected a precomposed accented letter to be accepted, got %v", err)
	}
}
