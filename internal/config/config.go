package config

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Region names in display order.
const (
	RegionJapanEast = "Japan East"
	RegionEastUS2   = "East US2"
)

// RegionNames lists the configured regions in display order.
var RegionNames = []string{RegionJapanEast, RegionEastUS2}

// Config holds all configuration for the chat server.
type Config struct {
	Port    int
	Version string

	Paths     PathConfig
	Regions   []RegionConfig
	LLM       LLMConfig
	Pricing   PricingConfig
	Logging   LogConfig
	Telemetry TelemetryConfig
	HTTP      HTTPConfig
	Notify    NotifyConfig
	Retention RetentionConfig
}

// PathConfig locates the config files and the chat log.
type PathConfig struct {
	ConfigDir         string
	DataDir           string
	LogFile           string
	ConstructorMaster string
	DeploymentModels  string
	PricingFile       string
	WatchCatalog      bool
}

// RegionConfig is the connection settings for one region.
type RegionConfig struct {
	Name              string
	APIKey            string
	Endpoint          string
	AnthropicEndpoint string
	APIVersion        string
	DeploymentFile    string
}

type LLMConfig struct {
	MaxConcurrent  int
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NamingTimeout  time.Duration
	PersistAPIKeys bool
}

type PricingConfig struct {
	USDToJPY float64
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type HTTPConfig struct {
	RateLimit   float64
	RateBurst   int
	AccessToken string
}

// NotifyConfig configures the outbound event webhook. An empty URL
// disables it.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
}

// RetentionConfig controls automatic purging of the trash. Zero days
// disables it; an empty archive dir purges without archiving.
type RetentionConfig struct {
	TrashDays  int
	Interval   time.Duration
	ArchiveDir string
	Compress   bool
}

// LoadEnvFile reads a .env file into the process environment. Variables
// that are already set are left alone. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	apiVersion := envStr("AZURE_OPENAI_API_VERSION", "2024-12-01-preview")
	configDir := envStr("CONFIG_DIR", "config")

	cfg := &Config{
		Port:    envInt("LLMCHAT_PORT", 8501),
		Version: envStr("LLMCHAT_VERSION", "0.1.0"),
		Paths: PathConfig{
			ConfigDir:         configDir,
			DataDir:           envStr("DATA_DIR", "data"),
			LogFile:           envStr("LOG_FILE_PATH", filepath.Join("data", "llm_select_chat_log.json")),
			ConstructorMaster: inDir(configDir, envStr("CONFIG_CONSTRUCTOR_MASTER", "deployment_constructor_master.csv")),
			DeploymentModels:  inDir(configDir, envStr("CONFIG_DEPLOYMENT_MODELS", "deployment_models.json")),
			PricingFile:       envStr("PRICING_FILE", ""),
			WatchCatalog:      envBool("CATALOG_WATCH", true),
		},
		LLM: LLMConfig{
			MaxConcurrent:  envInt("LLM_MAX_CONCURRENT", 4),
			MaxTokens:      envInt("LLM_MAX_TOKENS", 4000),
			Temperature:    envFloat("LLM_TEMPERATURE", 0.7),
			Timeout:        envDuration("LLM_TIMEOUT", 120*time.Second),
			ConnectTimeout: envDuration("LLM_CONNECT_TIMEOUT", 10*time.Second),
			NamingTimeout:  envDuration("LLM_NAMING_TIMEOUT", 30*time.Second),
			PersistAPIKeys: envBool("PERSIST_API_KEYS", false),
		},
		Pricing: PricingConfig{
			USDToJPY: envPositiveFloat("USD_TO_JPY", 150),
		},
		Logging: LogConfig{
			Level:      envStr("LOG_LEVEL", "debug"),
			File:       envStr("APP_LOG_FILE", filepath.Join("data", "app_debug.log")),
			MaxSizeMB:  envInt("APP_LOG_MAX_SIZE_MB", 10),
			MaxBackups: envInt("APP_LOG_MAX_BACKUPS", 5),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "llm-select-chat"),
		},
		HTTP: HTTPConfig{
			RateLimit:   envFloat("CHAT_RATE_LIMIT", 2),
			RateBurst:   envInt("CHAT_RATE_BURST", 5),
			AccessToken: envStr("ACCESS_TOKEN", ""),
		},
		Notify: NotifyConfig{
			WebhookURL:    envStr("NOTIFY_WEBHOOK_URL", ""),
			WebhookSecret: envStr("NOTIFY_WEBHOOK_SECRET", ""),
		},
		Retention: RetentionConfig{
			TrashDays:  envInt("TRASH_RETENTION_DAYS", 0),
			Interval:   envDuration("TRASH_RETENTION_INTERVAL", time.Hour),
			ArchiveDir: envStr("TRASH_ARCHIVE_DIR", ""),
			Compress:   envBool("TRASH_ARCHIVE_COMPRESS", true),
		},
	}

	for _, name := range RegionNames {
		cfg.Regions = append(cfg.Regions, loadRegion(name, configDir, apiVersion))
	}
	return cfg
}

// Region returns the settings for name, if configured.
func (c *Config) Region(name string) (RegionConfig, bool) {
	for _, r := range c.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return RegionConfig{}, false
}

// RegionEnvPrefix builds the env var prefix for a region,
// e.g. "East US2" → "AZURE_OPENAI_EAST_US2".
func RegionEnvPrefix(region string) string {
	return "AZURE_OPENAI_" + strings.ToUpper(strings.ReplaceAll(region, " ", "_"))
}

func loadRegion(name, configDir, apiVersion string) RegionConfig {
	base := RegionEnvPrefix(name)
	endpoint := envStr(base+"_ENDPOINT", "")

	var file string
	switch name {
	case RegionJapanEast:
		file = envStr("CONFIG_DEPLOYMENT_JAPAN_EAST", "deployment_name_JPEast.csv")
	case RegionEastUS2:
		file = envStr("CONFIG_DEPLOYMENT_EAST_US2", "deployment_name_EastUS2.csv")
	}

	return RegionConfig{
		Name:              name,
		APIKey:            envStr(base+"_API_KEY", ""),
		Endpoint:          endpoint,
		AnthropicEndpoint: envStr(base+"_ANTHROPIC_ENDPOINT", endpoint),
		APIVersion:        apiVersion,
		DeploymentFile:    inDir(configDir, file),
	}
}

func inDir(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envFloat ignores values that do not parse or are not finite.
func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return fallback
}

func envPositiveFloat(key string, fallback float64) float64 {
	if f := envFloat(key, fallback); f > 0 {
		return f
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
