package relay

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/credentialstore"
	"district-relay/backend/pkg/logger"
	"district-relay/backend/pkg/registryclient"
)

// RegisterRequest is the C3/C2 registration input (spec §6: `POST
// /v1/register {identity_commitment, coords}`, extended with the
// identity-provider attestation fields spec §6's "inbound trust" paragraph
// requires before C3.Register is ever called).
type RegisterRequest struct {
	IdentityCommitment    string  `json:"identity_commitment" binding:"required"`
	Latitude              float64 `json:"latitude"`
	Longitude             float64 `json:"longitude"`
	AuthorityLevel        int     `json:"authority_level" binding:"required"`
	VerificationMethod    string  `json:"verification_method" binding:"required"`
	VerificationTimestamp int64   `json:"verification_timestamp" binding:"required"`
	ProviderSignature     string  `json:"provider_signature" binding:"required"`
}

// RegisterResponse mirrors spec §6's register response shape.
type RegisterResponse struct {
	LeafIndex  uint64   `json:"leaf_index"`
	MerklePath []string `json:"merkle_path"`
	MerkleRoot string   `json:"merkle_root"`
	DistrictID string   `json:"district_id"`
	Depth      int      `json:"depth"`
}

// RegistrationAPI wires C3 (district-registry client) and C2 (session
// credential store) into one HTTP-callable operation: resolve a district
// for the caller's coordinates, register their identity commitment into
// that district's tree, and cache the resulting membership material.
type RegistrationAPI struct {
	registry        *registryclient.Client
	credentials     credentialstore.Store
	auth            Authenticator
	providerAddress string // lowercase hex, "" disables signature verification
}

// NewRegistrationAPI builds a RegistrationAPI from its collaborators.
func NewRegistrationAPI(registry *registryclient.Client, credentials credentialstore.Store, auth Authenticator, providerAddress string) *RegistrationAPI {
	return &RegistrationAPI{
		registry:        registry,
		credentials:     credentials,
		auth:            auth,
		providerAddress: strings.ToLower(providerAddress),
	}
}

// Register handles POST /v1/register.
func (api *RegistrationAPI) Register(c *gin.Context) {
	userID, err := api.auth.Authenticate(c.Request)
	if err != nil {
		writeError(c, err)
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Wrap(apierr.KindInvalidShape, "malformed registration request", err))
		return
	}

	if req.AuthorityLevel < 1 || req.AuthorityLevel > 5 {
		writeError(c, apierr.New(apierr.KindInvalidInput, "authority_level out of bounds"))
		return
	}

	if err := api.verifyProviderAttestation(req); err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()

	lookup, err := api.registry.Lookup(ctx, registryclient.Coords{Latitude: req.Latitude, Longitude: req.Longitude})
	if err != nil {
		writeError(c, err)
		return
	}

	registered, err := api.registry.Register(ctx, req.IdentityCommitment, lookup.DistrictID)
	if err != nil {
		writeError(c, err)
		return
	}

	cred := credentialstore.Credential{
		UserID:             userID,
		Commitment:         req.IdentityCommitment,
		DistrictID:         registered.DistrictID,
		MerkleRoot:         registered.MerkleRoot,
		MerklePath:         registered.MerklePath,
		MerkleHelper:       deriveMerkleHelper(registered.LeafIndex, registered.Depth),
		LeafIndex:          registered.LeafIndex,
		Depth:              registered.Depth,
		AuthorityLevel:     req.AuthorityLevel,
		VerificationMethod: req.VerificationMethod,
	}
	if err := api.credentials.Put(ctx, userID, cred); err != nil {
		writeError(c, apierr.Wrap(apierr.KindInternal, "failed to cache registration credential", err))
		return
	}

	logger.Info("registration completed", zap.String("user_id", userID), zap.String("district_id", registered.DistrictID))
	c.JSON(http.StatusOK, RegisterResponse{
		LeafIndex:  registered.LeafIndex,
		MerklePath: registered.MerklePath,
		MerkleRoot: registered.MerkleRoot,
		DistrictID: registered.DistrictID,
		Depth:      registered.Depth,
	})
}

// verifyProviderAttestation recovers the signer of the canonical attested
// payload and checks it against the configured identity-provider address
// (spec §6: "the provider signature is verified before C3.register is
// called; failure → PolicyViolation"). An empty configured address disables
// the check, which is only acceptable for local/dev deployments; production
// must set IDENTITY_PROVIDER_ADDRESS.
func (api *RegistrationAPI) verifyProviderAttestation(req RegisterRequest) error {
	if api.providerAddress == "" {
		return nil
	}

	sig := strings.TrimPrefix(req.ProviderSignature, "0x")
	sigBytes, err := hex.DecodeString(sig)
	if err != nil || len(sigBytes) != 65 {
		return apierr.New(apierr.KindPolicyViolation, "provider_signature is not a valid 65-byte signature")
	}

	message := fmt.Sprintf("%s|%s|%d|%d", req.IdentityCommitment, req.VerificationMethod, req.AuthorityLevel, req.VerificationTimestamp)
	hash := crypto.Keccak256Hash([]byte(message))

	pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
	if err != nil {
		return apierr.Wrap(apierr.KindPolicyViolation, "failed to recover provider signature", err)
	}

	recovered := strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex())
	if recovered != api.providerAddress {
		return apierr.New(apierr.KindPolicyViolation, "registration attestation was not signed by the trusted identity provider")
	}
	return nil
}

// deriveMerkleHelper reconstructs the little-endian bit decomposition of
// leafIndex that circuit.MembershipCheck expects as MerkleHelper, padded to
// depth bits. The registry returns a leaf index and a path; it never
// returns helper bits directly, since they're a pure function of the index.
func deriveMerkleHelper(leafIndex uint64, depth int) []string {
	helper := make([]string, depth)
	for i := 0; i < depth; i++ {
		bit := (leafIndex >> uint(i)) & 1
		helper[i] = strconv.FormatUint(bit, 10)
	}
	return helper
}
