package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is built once at startup and passed by reference into the services
// that need thresholds. Core logic never reads the environment directly.
type Config struct {
	ServerPort int
	LogLevel   string

	// Store selection: "memory" (default) or "postgres".
	StoreBackend string
	DatabaseURL  string

	// Oracle selection: "k2" or "mock".
	OracleProvider string
	OracleAPIKey   string
	OracleBaseURL  string

	// Oracle-first claim extraction with heuristic fallback. Off by
	// default: it puts one blocking oracle call on every turn.
	OracleExtraction bool

	RateLimitRPS   float64
	RateLimitBurst int

	Escalation EscalationConfig
	Drift      DriftConfig
}

// EscalationConfig holds the policy-engine thresholds.
type EscalationConfig struct {
	HighSimilarityThreshold  float64 // polarity-flip similarity above this escalates
	StabilityThreshold       float64 // stability below this signals degradation
	ContradictionAccumCount  int     // polarity flips in window that escalate
	ConfidenceDeltaThreshold float64 // confidence shift boosting high-similarity
	EscalationThreshold      float64 // overall score needed to escalate
	DriftScoreThreshold      float64 // cumulative drift above this escalates
	DriftVelocityThreshold   float64 // drift per turn above this is immediate
	StructuralBreakDepth     int     // dependents making a commitment structural
	StanceInstability        float64 // stance variance above this is unstable
}

// DriftConfig holds the accumulator's decay and windowing parameters.
type DriftConfig struct {
	DecayFactor       float64 // multiplier applied per decay application
	StableTurnsNeeded int     // consecutive stable turns before decay kicks in
	VelocityWindow    int     // turns considered for velocity and recovery
}

func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		HighSimilarityThreshold:  0.7,
		StabilityThreshold:       0.4,
		ContradictionAccumCount:  3,
		ConfidenceDeltaThreshold: 0.5,
		EscalationThreshold:      0.6,
		DriftScoreThreshold:      2.0,
		DriftVelocityThreshold:   0.4,
		StructuralBreakDepth:     3,
		StanceInstability:        0.5,
	}
}

func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		DecayFactor:       0.95,
		StableTurnsNeeded: 3,
		VelocityWindow:    5,
	}
}

// Load reads the .env file named by CONTINUUM_ENV (default ".env"), plus a
// .secret sidecar if present, then builds the Config from flat env vars.
func Load() (*Config, error) {
	envFile := os.Getenv("CONTINUUM_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	cfg := &Config{
		ServerPort:       envInt("SERVER_PORT", 8080),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		StoreBackend:     envStr("GRAPH_STORE", "memory"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OracleProvider:   envStr("ORACLE_PROVIDER", "k2"),
		OracleAPIKey:     os.Getenv("ORACLE_API_KEY"),
		OracleBaseURL:    os.Getenv("ORACLE_BASE_URL"),
		OracleExtraction: envBool("ORACLE_EXTRACTION", false),
		RateLimitRPS:     envFloat("RATE_LIMIT_RPS", 100),
		RateLimitBurst:   envInt("RATE_LIMIT_BURST", 20),
		Escalation: EscalationConfig{
			HighSimilarityThreshold:  envFloat("ESCALATION_SIMILARITY_THRESHOLD", 0.7),
			StabilityThreshold:       envFloat("ESCALATION_STABILITY_THRESHOLD", 0.4),
			ContradictionAccumCount:  envInt("ESCALATION_CONTRADICTION_THRESHOLD", 3),
			ConfidenceDeltaThreshold: envFloat("ESCALATION_CONFIDENCE_DELTA", 0.5),
			EscalationThreshold:      envFloat("ESCALATION_THRESHOLD", 0.6),
			DriftScoreThreshold:      envFloat("DRIFT_ESCALATION_THRESHOLD", 2.0),
			DriftVelocityThreshold:   envFloat("DRIFT_VELOCITY_THRESHOLD", 0.4),
			StructuralBreakDepth:     envInt("STRUCTURAL_BREAK_THRESHOLD", 3),
			StanceInstability:        envFloat("STANCE_INSTABILITY_THRESHOLD", 0.5),
		},
		Drift: DriftConfig{
			DecayFactor:       envFloat("DRIFT_DECAY_FACTOR", 0.95),
			StableTurnsNeeded: envInt("STABILITY_THRESHOLD_TURNS", 3),
			VelocityWindow:    envInt("DRIFT_VELOCITY_WINDOW", 5),
		},
	}

	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("GRAPH_STORE=postgres requires DATABASE_URL")
	}
	return cfg, nil
}

func (c *Config) ServerAddr() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
