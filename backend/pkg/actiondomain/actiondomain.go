// Package actiondomain builds the per-campaign-per-recipient scoping scalar
// (C1) that enters the proof's public inputs and, through the in-circuit
// nullifier derivation, makes "one message per recipient" the system's
// actual contract rather than "one message per template".
package actiondomain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"regexp"
	"unicode/utf8"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"

	"district-relay/backend/pkg/apierr"
)

// JurisdictionType enumerates the recognised scopes a recipient office can
// sit at.
type JurisdictionType string

const (
	JurisdictionFederal       JurisdictionType = "federal"
	JurisdictionState         JurisdictionType = "state"
	JurisdictionLocal         JurisdictionType = "local"
	JurisdictionInternational JurisdictionType = "international"
)

func (j JurisdictionType) valid() bool {
	switch j {
	case JurisdictionFederal, JurisdictionState, JurisdictionLocal, JurisdictionInternational:
		return true
	default:
		return false
	}
}

// requiresRecipientSubdivision reports whether an empty recipient
// subdivision is rejected for this jurisdiction type (spec §4.1 edge case).
func (j JurisdictionType) requiresRecipientSubdivision() bool {
	return j == JurisdictionState || j == JurisdictionLocal
}

const (
	maxFieldLength = 256
	countryLength  = 2
)

// permittedCharset matches the character set allowed in bounded string
// fields, checked on the raw input before Unicode normalization: letters, digits, and a small set of
// separators safe to frame unambiguously.
var permittedCharset = regexp.MustCompile(`^[\p{L}\p{N} ._:/-]*$`)

// Params are the inputs to BuildActionDomain, all caller-controlled and
// therefore validated before hashing.
type Params struct {
	Country             string
	JurisdictionType     JurisdictionType
	RecipientSubdivision string
	TemplateID           string
	SessionID            string
}

func (p Params) validate() error {
	if len(p.Country) != countryLength {
		return apierr.New(apierr.KindInvalidInput, "country must be a 2-letter code")
	}
	if !p.JurisdictionType.valid() {
		return apierr.New(apierr.KindInvalidInput, "unrecognized jurisdiction_type")
	}
	if p.JurisdictionType.requiresRecipientSubdivision() && p.RecipientSubdivision == "" {
		return apierr.New(apierr.KindInvalidInput, "recipient_subdivision required for state/local jurisdiction")
	}

	for name, v := range map[string]string{
		"country":               p.Country,
		"recipient_subdivision": p.RecipientSubdivision,
		"template_id":           p.TemplateID,
		"session_id":            p.SessionID,
	} {
		if err := validateBoundedString(name, v); err != nil {
			return err
		}
	}
	return nil
}

func validateBoundedString(name, v string) error {
	if len(v) > maxFieldLength {
		return apierr.New(apierr.KindInvalidInput, fmt.Sprintf("%s exceeds max length", name))
	}
	if !utf8.ValidString(v) {
		return apierr.New(apierr.KindInvalidInput, fmt.Sprintf("%s is not valid UTF-8", name))
	}
	if !permittedCharset.MatchString(v) {
		return apierr.New(apierr.KindInvalidInput, fmt.Sprintf("%s contains disallowed characters", name))
	}
	return nil
}

// BuildActionDomain is a pure function: equal inputs, after normalization,
// always produce bit-for-bit equal outputs, independent of platform.
//
// Framing: each field is normalized to Unicode NFC, length-prefixed with a
// big-endian uint32, and concatenated in a fixed order, so no ambiguous
// boundary between two adjacent fields can ever alias a different input
// combination to the same byte string. The concatenation is hashed with
// Keccak-256, and the digest is reduced into the BN254 scalar field the
// proving system uses by treating it as a big-endian integer and taking the
// value modulo the field order (gnark-crypto's fr.Element.SetBytes performs
// exactly that reduction), bounding any accidental digest collision inside
// the field to roughly 1/field_size.
func BuildActionDomain(p Params) (*big.Int, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 5*maxFieldLength)
	fields := []string{
		norm.NFC.String(p.Country),
		string(p.JurisdictionType),
		norm.NFC.String(p.RecipientSubdivision),
		norm.NFC.String(p.TemplateID),
		norm.NFC.String(p.SessionID),
	}
	for _, f := range fields {
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(f)))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, f...)
	}

	digest := crypto.Keccak256(buf)

	var fe fr.Element
	fe.SetBytes(digest)

	reduced := new(big.Int)
	fe.BigInt(reduced)
	return reduced, nil
}
