package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"condo-session/internal/db"
	"condo-session/internal/identity"
	"condo-session/internal/service/session"
	"condo-session/internal/websocket"
)

type AppConfig struct {
	// Local API
	HTTPAddr string
	LogDev   bool

	// Storage tiers
	DataDir       string
	StorageSecret string
	StorageSalt   string
	Redis         db.RedisConfig
	RedisPrefix   string

	// Profiles
	Postgres db.PostgresConfig

	// Identity provider
	OAuth identity.OAuthConfig

	// Session policies
	Session           session.Config
	ProfileCooldown   time.Duration
	LastSeenInterval  time.Duration
	NetworkDebounce   time.Duration
	TokenSaveDebounce time.Duration

	// Connectivity
	HealthURL     string
	ProbeInterval time.Duration

	// Realtime, deep links, push
	Realtime        websocket.Config
	DeepLinkSchemes []string
	DevicePushToken string

	// Analytics
	AnalyticsBuffer int
	AnalyticsStream string
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	defaults := session.DefaultConfig()
	dataDir := getEnv("DATA_DIR", "./data")

	return AppConfig{
		HTTPAddr: getEnv("LOCAL_API_ADDR", "127.0.0.1:8787"),
		LogDev:   getEnvBool("LOG_DEV", false),

		DataDir:       dataDir,
		StorageSecret: getEnv("STORAGE_SECRET", ""),
		StorageSalt:   getEnv("DEVICE_ID", "condo-device"),
		Redis: db.RedisConfig{
			ClusterMode: getEnvBool("REDIS_CLUSTER", false),
			Addresses:   getEnvSlice("REDIS_ADDR", nil),
			Password:    getEnv("REDIS_PASS", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PoolSize:    getEnvInt("REDIS_POOL_SIZE", 4),
		},
		RedisPrefix: getEnv("REDIS_PREFIX", "condo-session:"),

		Postgres: db.PostgresConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 4)),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 5*time.Minute),
		},

		OAuth: identity.OAuthConfig{
			TokenURL:     getEnv("AUTH_TOKEN_URL", ""),
			RevokeURL:    getEnv("AUTH_REVOKE_URL", ""),
			ClientID:     getEnv("AUTH_CLIENT_ID", "condo-app"),
			ClientSecret: getEnv("AUTH_CLIENT_SECRET", ""),
			Scopes:       getEnvSlice("AUTH_SCOPES", []string{"openid", "email", "offline_access"}),
		},

		Session: session.Config{
			OfflineGracePeriod:    getEnvDuration("OFFLINE_GRACE_PERIOD", defaults.OfflineGracePeriod),
			InactivityTimeout:     getEnvDuration("INACTIVITY_TIMEOUT", defaults.InactivityTimeout),
			SignOutTimeout:        getEnvDuration("SIGNOUT_TIMEOUT", defaults.SignOutTimeout),
			AuthEventDedupWindow:  getEnvDuration("AUTH_EVENT_DEDUP_WINDOW", defaults.AuthEventDedupWindow),
			AuthEventDelay:        getEnvDuration("AUTH_EVENT_DELAY", defaults.AuthEventDelay),
			TokenRefreshThreshold: getEnvDuration("TOKEN_REFRESH_THRESHOLD", defaults.TokenRefreshThreshold),
		},
		ProfileCooldown:   getEnvDuration("PROFILE_RESOLVE_COOLDOWN", time.Second),
		LastSeenInterval:  getEnvDuration("LAST_SEEN_INTERVAL", 5*time.Minute),
		NetworkDebounce:   getEnvDuration("NETWORK_DEBOUNCE", 500*time.Millisecond),
		TokenSaveDebounce: getEnvDuration("TOKEN_SAVE_DEBOUNCE", time.Second),

		HealthURL:     getEnv("HEALTH_URL", ""),
		ProbeInterval: getEnvDuration("PROBE_INTERVAL", 10*time.Second),

		Realtime: websocket.Config{
			URL:          getEnv("REALTIME_URL", ""),
			ReconnectMin: getEnvDuration("REALTIME_RECONNECT_MIN", time.Second),
			ReconnectMax: getEnvDuration("REALTIME_RECONNECT_MAX", 30*time.Second),
		},
		DeepLinkSchemes: getEnvSlice("DEEP_LINK_SCHEMES", []string{"condo", "https"}),
		DevicePushToken: getEnv("DEVICE_PUSH_TOKEN", ""),

		AnalyticsBuffer: getEnvInt("ANALYTICS_BUFFER", 256),
		AnalyticsStream: getEnv("ANALYTICS_STREAM", ""),
	}
}

// SecureStorePath is the sealed tier's backing file.
func (c AppConfig) SecureStorePath() string {
	return filepath.Join(c.DataDir, "secure.json")
}

// FallbackStorePath is the plaintext tier's backing file.
func (c AppConfig) FallbackStorePath() string {
	return filepath.Join(c.DataDir, "fallback.json")
}

// Validate reports settings the agent cannot start without.
func (c AppConfig) Validate() error {
	var errs []error
	if len(c.StorageSecret) < 16 {
		errs = append(errs, errors.New("STORAGE_SECRET must be at least 16 characters"))
	}
	if c.OAuth.TokenURL == "" {
		errs = append(errs, errors.New("AUTH_TOKEN_URL is required"))
	}
	if c.Postgres.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Redis.ClusterMode && !c.Redis.Enabled() {
		errs = append(errs, errors.New("REDIS_CLUSTER needs REDIS_ADDR"))
	}
	return errors.Join(errs...)
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// getEnvDuration accepts Go durations ("24h") or plain seconds ("600").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
