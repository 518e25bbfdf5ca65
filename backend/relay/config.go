package relay

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the relay service configuration.
type Config struct {
	Port              string
	DatabaseURL       string
	RelayerPrivateKey string // secp256k1 key used by C8a to sign on-chain transactions
	VerifierContract  string
	VerifierRPCURL    string
	ChainID           int64
	VerifierGasLimit  uint64
	TEEWorkerURL      string
	AllowedDepths     []int
	AllowedDomains    map[string]struct{} // action-domain allowlist (spec §4.7 policy 3)
	MaxBlobBytes      int

	// RegistryBaseURL/RegistryAllowedHosts configure C3's host allowlist
	// (spec §4.3 integrity rule 1: fail at startup, not on first request).
	RegistryBaseURL      string
	RegistryAllowedHosts []string
	RegistryRPS          float64
	RegistryBurst        int

	// IdentityProviderAddress is the Ethereum address whose ECDSA signature
	// over a registration's attested fields is trusted (spec §6 "inbound
	// trust"). A registration whose provider_signature doesn't recover to
	// this address is rejected with PolicyViolation.
	IdentityProviderAddress string

	// ProvingKeyPath/VerifyingKeyPath let this service run its own in-process
	// circuit manager for the server-side coordinator (C6) deployment
	// variant, sharing the same circuit artifacts cmd/prover loads.
	ProvingKeyPath   string
	VerifyingKeyPath string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Port:              getEnv("RELAY_PORT", "8081"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RelayerPrivateKey: getEnv("RELAYER_PRIVATE_KEY", ""),
		VerifierContract:  getEnv("VERIFIER_CONTRACT", ""),
		VerifierRPCURL:    getEnv("VERIFIER_RPC_URL", ""),
		ChainID:           parseInt64(getEnv("CHAIN_ID", "1")),
		VerifierGasLimit:  uint64(parseInt64(getEnv("VERIFIER_GAS_LIMIT", "500000"))),
		TEEWorkerURL:      getEnv("TEE_WORKER_URL", ""),
		AllowedDepths:     parseIntList(getEnv("ALLOWED_VERIFIER_DEPTHS", "20")),
		AllowedDomains:    parseAllowSet(getEnv("ALLOWED_ACTION_DOMAINS", "")),
		MaxBlobBytes:      4096,

		RegistryBaseURL:      getEnv("REGISTRY_BASE_URL", ""),
		RegistryAllowedHosts: parseStringList(getEnv("REGISTRY_ALLOWED_HOSTS", "")),
		RegistryRPS:          parseFloat(getEnv("REGISTRY_REQUESTS_PER_SEC", "5")),
		RegistryBurst:        int(parseInt64(getEnv("REGISTRY_BURST", "5"))),

		IdentityProviderAddress: getEnv("IDENTITY_PROVIDER_ADDRESS", ""),

		ProvingKeyPath:   getEnv("PROVING_KEY_PATH", "proving.key"),
		VerifyingKeyPath: getEnv("VERIFYING_KEY_PATH", "verifying.key"),
	}
}

func parseInt64(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(raw string) float64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseStringList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntList(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseAllowSet(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}

// DepthAllowed reports whether depth is one of the configured verifier depths.
func (c *Config) DepthAllowed(depth int) bool {
	for _, d := range c.AllowedDepths {
		if d == depth {
			return true
		}
	}
	return false
}

// DomainAllowed reports whether actionDomain is in the configured allow-set.
func (c *Config) DomainAllowed(actionDomain string) bool {
	_, ok := c.AllowedDomains[actionDomain]
	return ok
}
