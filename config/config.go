package config

import (
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// LLMProvider defines the structure for LLM provider configuration.
type LLMProvider struct {
	APIKey  string // Name of the environment variable holding the API key
	BaseURL string
}

// PartnerIdentity defines an AI conversation partner.
type PartnerIdentity struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Language     string `json:"language"` // Language the partner teaches
	Personality  string `json:"personality"`
	Model        string `json:"model"`
	Avatar       string `json:"avatar"`
	CustomPrompt string `mapstructure:"custom_prompt" json:"custom_prompt"`
}

// QuotaConfig holds the fixed daily limits for the five metered actions.
type QuotaConfig struct {
	Searches   int `mapstructure:"searches"`
	Messages   int `mapstructure:"messages"`
	AudioPlays int `mapstructure:"audio_plays"`
	Lessons    int `mapstructure:"lessons"`
	Quizzes    int `mapstructure:"quizzes"`
}

// NudgeConfig controls the idle nudge scheduler.
type NudgeConfig struct {
	WelcomeDelay time.Duration `mapstructure:"welcome_delay"` // empty conversation
	IdleDelay    time.Duration `mapstructure:"idle_delay"`    // subsequent nudges
	MaxNudges    int           `mapstructure:"max_nudges"`    // AI-initiated messages per conversation
}

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string
	}
	Database struct {
		DSN string // "memory" or file path for SQLite
	}
	LLMProviders      map[string]LLMProvider `mapstructure:"llm_providers"` // provider key -> provider config
	LLMModels         map[string]string      `mapstructure:"llm_models"`    // model name -> provider key
	Partners          []*PartnerIdentity     `mapstructure:"partners"`
	Quota             QuotaConfig            `mapstructure:"quota"`
	Nudge             NudgeConfig            `mapstructure:"nudge"`
	GenerationTimeout time.Duration          `mapstructure:"generation_timeout"`
	HistoryLimit      int                    `mapstructure:"history_limit"` // messages of context sent per generation
}

// AppConfig is the global configuration instance.
var AppConfig Config

// DefaultQuota returns the built-in daily limits.
func DefaultQuota() QuotaConfig {
	return QuotaConfig{Searches: 5, Messages: 20, AudioPlays: 5, Lessons: 10, Quizzes: 10}
}

// DefaultNudge returns the built-in idle nudge timings.
func DefaultNudge() NudgeConfig {
	return NudgeConfig{WelcomeDelay: 8 * time.Second, IdleDelay: 60 * time.Second, MaxNudges: 3}
}

// PartnerByID looks up a configured partner identity.
func PartnerByID(id string) *PartnerIdentity {
	for _, p := range AppConfig.Partners {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../config") // for running from locations like tests

	q := DefaultQuota()
	n := DefaultNudge()
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.dsn", "memory")
	viper.SetDefault("quota.searches", q.Searches)
	viper.SetDefault("quota.messages", q.Messages)
	viper.SetDefault("quota.audio_plays", q.AudioPlays)
	viper.SetDefault("quota.lessons", q.Lessons)
	viper.SetDefault("quota.quizzes", q.Quizzes)
	viper.SetDefault("nudge.welcome_delay", n.WelcomeDelay)
	viper.SetDefault("nudge.idle_delay", n.IdleDelay)
	viper.SetDefault("nudge.max_nudges", n.MaxNudges)
	viper.SetDefault("generation_timeout", 30*time.Second)
	viper.SetDefault("history_limit", 10)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("WARN: [Config] Configuration file (config.yaml) not found. Using environment variables and defaults.")
		} else {
			log.Fatalf("FATAL: [Config] Error reading configuration file: %v", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("FATAL: [Config] Failed to unmarshal configuration into AppConfig struct: %v", err)
	}

	// Environment variable overrides
	if port := os.Getenv("SERVER_PORT"); port != "" {
		AppConfig.Server.Port = port
		log.Printf("INFO: [Config] Server port overridden by environment variable SERVER_PORT: %s", port)
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		AppConfig.Database.DSN = dsn
		log.Println("INFO: [Config] Database DSN overridden by environment variable DATABASE_DSN.")
	}

	// The APIKey field of each provider names the environment variable that
	// carries the real key; resolve it here so nothing downstream touches env.
	for providerKey, providerConfig := range AppConfig.LLMProviders {
		envVarNameForKey := providerConfig.APIKey
		if envValue := os.Getenv(envVarNameForKey); envValue != "" {
			updatedConfig := providerConfig
			updatedConfig.APIKey = envValue
			AppConfig.LLMProviders[providerKey] = updatedConfig
			log.Printf("INFO: [Config] Loaded API Key for provider '%s' from environment variable '%s'.", providerKey, envVarNameForKey)
		} else {
			log.Printf("WARN: [Config] API Key for provider '%s' (env var '%s') is not set.", providerKey, envVarNameForKey)
		}
	}

	log.Println("INFO: [Config] Configuration loading complete.")
}
