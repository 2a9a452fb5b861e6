package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is everything the service reads from the environment (or an optional config.yaml).
type Config struct {
	ServiceName    string
	Port           int
	DatabaseURL    string
	AllowedOrigins []string
	GatewayToken   string

	XPBase        int64
	XPIncrement   int64
	MinXPReward   int64
	MaxXPReward   int64
	Timezone      *time.Location
	StaleAIWindow time.Duration

	AIVerifierURL     string
	AIVerifierAPIKey  string
	AIVerifierTimeout time.Duration

	RedisURL            string
	LeaderboardCacheTTL time.Duration

	MQURL          string
	MQExchange     string
	MQRoutingKey   string
	NotifyInterval time.Duration
	NotifyBatch    int
	NotifyAttempts int

	ProfileSyncURL  string
	ProfileSyncPath string
	ServiceToken    string
	SyncInterval    time.Duration

	R2AccountID    string
	R2AccessKey    string
	R2AccessSecret string
	R2Bucket       string
	CDNBaseURL     string

	ElasticURL string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "quest-progress-engine")
	v.SetDefault("PORT", 5200)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("XP_BASE", 50)
	v.SetDefault("XP_INCREMENT", 50)
	v.SetDefault("MIN_XP_REWARD", 1)
	v.SetDefault("MAX_XP_REWARD", 10000)
	v.SetDefault("ENGINE_TIMEZONE", "UTC")
	v.SetDefault("STALE_AI_WINDOW", "10m")
	v.SetDefault("AI_VERIFIER_TIMEOUT", "20s")
	v.SetDefault("LEADERBOARD_CACHE_TTL", "60s")
	v.SetDefault("MQ_EXCHANGE", "quest.notifications")
	v.SetDefault("MQ_ROUTING_KEY", "notification")
	v.SetDefault("NOTIFY_INTERVAL", "15s")
	v.SetDefault("NOTIFY_BATCH", 100)
	v.SetDefault("NOTIFY_MAX_ATTEMPTS", 5)
	v.SetDefault("PROFILE_SYNC_PATH", "/api/v1/public/profiles")
	v.SetDefault("SYNC_INTERVAL", "1m")
}

// Load reads .env (if present), then config.yaml (if present), then the process environment.
// Environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	loc, err := time.LoadLocation(v.GetString("ENGINE_TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("ENGINE_TIMEZONE: %w", err)
	}

	cfg := &Config{
		ServiceName:    v.GetString("SERVICE_NAME"),
		Port:           v.GetInt("PORT"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		GatewayToken:   v.GetString("GATEWAY_SERVICE_TOKEN"),

		XPBase:        v.GetInt64("XP_BASE"),
		XPIncrement:   v.GetInt64("XP_INCREMENT"),
		MinXPReward:   v.GetInt64("MIN_XP_REWARD"),
		MaxXPReward:   v.GetInt64("MAX_XP_REWARD"),
		Timezone:      loc,
		StaleAIWindow: v.GetDuration("STALE_AI_WINDOW"),

		AIVerifierURL:     v.GetString("AI_VERIFIER_URL"),
		AIVerifierAPIKey:  v.GetString("AI_VERIFIER_API_KEY"),
		AIVerifierTimeout: v.GetDuration("AI_VERIFIER_TIMEOUT"),

		RedisURL:            v.GetString("REDIS_URL"),
		LeaderboardCacheTTL: v.GetDuration("LEADERBOARD_CACHE_TTL"),

		MQURL:          v.GetString("MQ_URL"),
		MQExchange:     v.GetString("MQ_EXCHANGE"),
		MQRoutingKey:   v.GetString("MQ_ROUTING_KEY"),
		NotifyInterval: v.GetDuration("NOTIFY_INTERVAL"),
		NotifyBatch:    v.GetInt("NOTIFY_BATCH"),
		NotifyAttempts: v.GetInt("NOTIFY_MAX_ATTEMPTS"),

		ProfileSyncURL:  v.GetString("PROFILE_SYNC_URL"),
		ProfileSyncPath: v.GetString("PROFILE_SYNC_PATH"),
		ServiceToken:    v.GetString("SERVICE_TOKEN"),
		SyncInterval:    v.GetDuration("SYNC_INTERVAL"),

		R2AccountID:    v.GetString("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKey:    v.GetString("R2_ACCESS_KEY_ID"),
		R2AccessSecret: v.GetString("R2_ACCESS_KEY_SECRET"),
		R2Bucket:       v.GetString("R2_BUCKET_NAME"),
		CDNBaseURL:     v.GetString("CDN_BASE_URL"),

		ElasticURL: v.GetString("ELASTIC_URL"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.GatewayToken == "" {
		return fmt.Errorf("GATEWAY_SERVICE_TOKEN is required")
	}
	if c.XPBase <= 0 || c.XPIncrement < 0 {
		return fmt.Errorf("XP_BASE must be > 0 and XP_INCREMENT >= 0 (got %d, %d)", c.XPBase, c.XPIncrement)
	}
	if c.MinXPReward < 1 || c.MaxXPReward < c.MinXPReward {
		return fmt.Errorf("invalid XP reward bounds [%d, %d]", c.MinXPReward, c.MaxXPReward)
	}
	return nil
}

// R2Enabled reports whether proof uploads can go to object storage.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2Bucket != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
