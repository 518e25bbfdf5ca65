package prover

import "os"

// Config holds the prover service configuration, loaded once at startup and
// passed down by constructor injection (spec §1 ambient-stack policy).
type Config struct {
	Port             string
	ProvingKeyPath   string
	VerifyingKeyPath string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Port:             getEnv("PROVER_PORT", "8080"),
		ProvingKeyPath:   getEnv("PROVING_KEY_PATH", "./keys/proving.key"),
		VerifyingKeyPath: getEnv("VERIFYING_KEY_PATH", "./keys/verifying.key"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
