// Package config loads the runtime configuration of the admin console from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every knob of the console binary.
type Config struct {
	LogLevel string
	HTTPAddr string

	// APIURL is the backend origin; requests go to APIURL + "/api".
	APIURL         string
	RequestTimeout time.Duration

	TokenCookie     string
	ProtectedPrefix string

	KeepUnusedFor  time.Duration
	ResultCacheMax int

	// ResultStore selects the query result store: "memory", "redis" or "firestore".
	ResultStore    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTTL       time.Duration
	RedisKeyPrefix string

	// SessionStore selects the display slot store: "memory" or "redis".
	SessionStore string

	ProjectID           string
	CredentialsFile     string
	FirestoreCollection string

	InvalidationTopic        string
	InvalidationSubscription string

	AuditDataset string
	AuditTable   string

	MediaBucket string
	// MediaRoot is the local directory media paths resolve against when no
	// bucket is configured.
	MediaRoot string

	ShutdownTimeout time.Duration
}

// NewDefaults provides a config with sensible defaults.
func NewDefaults() Config {
	return Config{
		LogLevel:            "info",
		HTTPAddr:            ":3000",
		APIURL:              "http://localhost:5000",
		RequestTimeout:      30 * time.Second,
		TokenCookie:         "admin_token",
		ProtectedPrefix:     "/dashboard",
		KeepUnusedFor:       60 * time.Second,
		ResultCacheMax:      512,
		ResultStore:         "memory",
		RedisKeyPrefix:      "catalogadmin:",
		SessionStore:        "memory",
		FirestoreCollection: "catalogadmin-query-results",
		ShutdownTimeout:     15 * time.Second,
	}
}

// Load reads .env (if present) and then overrides the defaults from the environment.
func Load(logger zerolog.Logger) Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := NewDefaults()
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.APIURL = getenv("API_URL", cfg.APIURL)
	cfg.RequestTimeout = durenv("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.TokenCookie = getenv("TOKEN_COOKIE", cfg.TokenCookie)
	cfg.ProtectedPrefix = getenv("PROTECTED_PREFIX", cfg.ProtectedPrefix)
	cfg.KeepUnusedFor = durenv("KEEP_UNUSED_FOR", cfg.KeepUnusedFor)
	cfg.ResultCacheMax = atoienv("RESULT_CACHE_MAX", cfg.ResultCacheMax)
	cfg.ResultStore = getenv("RESULT_STORE", cfg.ResultStore)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = atoienv("REDIS_DB", cfg.RedisDB)
	cfg.RedisTTL = durenv("REDIS_TTL", cfg.RedisTTL)
	cfg.RedisKeyPrefix = getenv("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	cfg.SessionStore = getenv("SESSION_STORE", cfg.SessionStore)
	cfg.ProjectID = getenv("GCP_PROJECT_ID", cfg.ProjectID)
	cfg.CredentialsFile = getenv("GOOGLE_APPLICATION_CREDENTIALS", cfg.CredentialsFile)
	cfg.FirestoreCollection = getenv("FIRESTORE_COLLECTION", cfg.FirestoreCollection)
	cfg.InvalidationTopic = getenv("INVALIDATION_TOPIC", cfg.InvalidationTopic)
	cfg.InvalidationSubscription = getenv("INVALIDATION_SUBSCRIPTION", cfg.InvalidationSubscription)
	cfg.AuditDataset = getenv("AUDIT_DATASET", cfg.AuditDataset)
	cfg.AuditTable = getenv("AUDIT_TABLE", cfg.AuditTable)
	cfg.MediaBucket = getenv("MEDIA_BUCKET", cfg.MediaBucket)
	cfg.MediaRoot = getenv("MEDIA_ROOT", cfg.MediaRoot)
	cfg.ShutdownTimeout = durenv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	return cfg
}

// UsesGCP reports whether any Google Cloud backed component is configured.
func (c Config) UsesGCP() bool {
	return c.ResultStore == "firestore" || c.InvalidationTopic != "" ||
		c.AuditDataset != "" || c.MediaBucket != ""
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// durenv accepts Go duration strings ("90s", "2m").
func durenv(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
