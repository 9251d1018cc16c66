package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// Trade tape configuration
	TapeWSURL  string
	TapeAssets []string

	// EVM transfer monitoring
	EVMChain  string
	EVMWSURL  string
	EVMTokens []Token

	// Solana transfer monitoring
	SolanaWSURL  string
	SolanaRPCURL string
	SolanaTokens []Token

	// Registry configuration
	Registry RegistryConfig

	// Classifier configuration
	Classifier ClassifierConfig

	// Pricing configuration
	Pricing PricingConfig

	// Flow pipeline configuration
	Flow FlowConfig

	// HTTP API port
	APIPort int
}

// Token describes a monitored token contract/mint
type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

// RegistryConfig holds tracked-entity registry parameters
type RegistryConfig struct {
	TopN            int
	Metric          string // ranking metric column: pnl_30d, roi_30d, volume_30d
	RefreshInterval time.Duration
	LeaderboardURL  string // empty disables venue leaderboard sync
}

// ClassifierConfig holds address classification parameters.
// An empty API key disables that provider tier, not the whole classifier.
type ClassifierConfig struct {
	LabelsAPIURL     string
	LabelsAPIKey     string
	ExplorerAPIURL   string
	ExplorerAPIKey   string
	HeuristicEnabled bool
	HotCacheTTL      time.Duration
	NegativeTTL      time.Duration
}

// PricingConfig holds price oracle parameters
type PricingConfig struct {
	InfoAPIURL string
	CacheTTL   time.Duration
	StaleGrace time.Duration
}

// FlowConfig holds flow event pipeline thresholds
type FlowConfig struct {
	MinDepositUSD     float64
	NoiseThresholdPct float64 // magnitude changes below this percent are suppressed
	DebounceWindow    time.Duration
	NotifDedupTTL     time.Duration
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "smartflow"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "smartflow"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "smartflow123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		// Trade tape configuration
		TapeWSURL:  getEnvOrDefault("TAPE_WS_URL", "wss://api.hyperliquid.xyz/ws"),
		TapeAssets: getEnvList("TAPE_ASSETS", "BTC,ETH,SOL"),

		// EVM transfer monitoring
		EVMChain:  getEnvOrDefault("EVM_CHAIN", "ethereum"),
		EVMWSURL:  os.Getenv("EVM_WS_URL"),
		EVMTokens: getEnvTokens("EVM_TOKENS", "USDC:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48:6,USDT:0xdac17f958d2ee523a2206206994597c13d831ec7:6"),

		// Solana transfer monitoring
		SolanaWSURL:  os.Getenv("SOLANA_WS_URL"),
		SolanaRPCURL: getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		SolanaTokens: getEnvTokens("SOLANA_TOKENS", "USDC:EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v:6"),

		// Registry configuration
		Registry: RegistryConfig{
			TopN:            getEnvInt("REGISTRY_TOP_N", 100),
			Metric:          getEnvOrDefault("REGISTRY_METRIC", "pnl_30d"),
			RefreshInterval: getEnvDuration("REGISTRY_REFRESH_INTERVAL", 1*time.Hour),
			LeaderboardURL:  getEnvOrDefault("REGISTRY_LEADERBOARD_URL", "https://stats-data.hyperliquid.xyz/Mainnet/leaderboard"),
		},

		// Classifier configuration
		Classifier: ClassifierConfig{
			LabelsAPIURL:     getEnvOrDefault("CLASSIFIER_LABELS_API_URL", "https://api.arkm.com/intelligence/address"),
			LabelsAPIKey:     os.Getenv("CLASSIFIER_LABELS_API_KEY"),
			ExplorerAPIURL:   getEnvOrDefault("CLASSIFIER_EXPLORER_API_URL", "https://api.etherscan.io/v2/api"),
			ExplorerAPIKey:   os.Getenv("CLASSIFIER_EXPLORER_API_KEY"),
			HeuristicEnabled: getEnvOrDefault("CLASSIFIER_HEURISTIC_ENABLED", "false") == "true",
			HotCacheTTL:      getEnvDuration("CLASSIFIER_HOT_CACHE_TTL", 10*time.Minute),
			NegativeTTL:      getEnvDuration("CLASSIFIER_NEGATIVE_TTL", 7*24*time.Hour),
		},

		// Pricing configuration
		Pricing: PricingConfig{
			InfoAPIURL: getEnvOrDefault("PRICE_INFO_API_URL", "https://api.hyperliquid.xyz/info"),
			CacheTTL:   getEnvDuration("PRICE_CACHE_TTL", 30*time.Second),
			StaleGrace: getEnvDuration("PRICE_STALE_GRACE", 5*time.Minute),
		},

		// Flow pipeline configuration
		Flow: FlowConfig{
			MinDepositUSD:     getEnvFloat("FLOW_MIN_DEPOSIT_USD", 1_000_000),
			NoiseThresholdPct: getEnvFloat("FLOW_NOISE_THRESHOLD_PCT", 1.0),
			DebounceWindow:    getEnvDuration("FLOW_DEBOUNCE_WINDOW", 2*time.Second),
			NotifDedupTTL:     getEnvDuration("FLOW_NOTIF_DEDUP_TTL", 5*time.Second),
		},

		APIPort: getEnvInt("API_PORT", 8080),
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvDuration gets environment variable as duration or returns default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList parses a comma-separated environment variable
func getEnvList(key, defaultValue string) []string {
	raw := getEnvOrDefault(key, defaultValue)
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvTokens parses a SYMBOL:address:decimals comma-separated token list
func getEnvTokens(key, defaultValue string) []Token {
	var tokens []Token
	for _, entry := range getEnvList(key, defaultValue) {
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			log.Printf("⚠️  Skipping malformed token entry %q in %s", entry, key)
			continue
		}
		var decimals int
		if _, err := fmt.Sscanf(fields[2], "%d", &decimals); err != nil {
			log.Printf("⚠️  Skipping token entry %q in %s: bad decimals", entry, key)
			continue
		}
		tokens = append(tokens, Token{
			Symbol:   strings.TrimSpace(fields[0]),
			Address:  strings.TrimSpace(fields[1]),
			Decimals: decimals,
		})
	}
	return tokens
}
