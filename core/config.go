package core

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings for the portal processes.
// It is built once at startup and passed by value into constructors.
type Config struct {
	Port                 string        // HTTP listen port (e.g., "5000")
	DatabaseURL          string        // PostgreSQL DSN of the FreeRADIUS database
	DBMaxConns           int32         // upper bound of the pgx pool
	DBMinConns           int32         // connections kept open
	SessionKey           string        // Cookie signing key
	SessionEncryptionKey string        // Cookie encryption key (derived from SessionKey when empty)
	CookieSecure         bool          // Whether to set Secure flag on session cookie
	CookieSameSite       string        // SameSite policy: Strict/Lax/None
	AllowedOrigins       []string      // allowed origins for CORS/CSRF origin check
	LogDir               string        // Directory to write application logs (stdout only when empty)
	LogLevel             string        // debug/info/warn/error
	IdentityHeader       string        // header set by the authenticating reverse proxy
	CodeLength           int           // length of generated provisioning codes
	AuditLimit           int           // default number of audit events shown per account
	CodeStash            string        // pending code backend: memory or redis
	RedisURL             string        // Redis URL (redis://host:port/db), used by the redis code stash
	PendingCodeTTL       time.Duration // lifetime of a pending code in the redis stash
}

// Load populates Config from environment variables with sane defaults.
// A .env file in the working directory is read first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                 firstNonEmpty(os.Getenv("PORT"), "5000"),
		DatabaseURL:          firstNonEmpty(os.Getenv("DATABASE_URL"), databaseURLFromParts()),
		DBMaxConns:           int32(intFromEnv("DB_MAX_CONNS", 5)),
		DBMinConns:           int32(intFromEnv("DB_MIN_CONNS", 1)),
		SessionKey:           firstNonEmpty(os.Getenv("SESSION_KEY"), os.Getenv("APP_SECRET"), "dev-secret-change-me"),
		SessionEncryptionKey: os.Getenv("SESSION_ENCRYPTION_KEY"),
		CookieSecure:         boolFromEnv("COOKIE_SECURE", false),
		CookieSameSite:       firstNonEmpty(os.Getenv("COOKIE_SAMESITE"), "Strict"),
		AllowedOrigins:       parseCSV(os.Getenv("ALLOWED_ORIGINS")),
		LogDir:               os.Getenv("LOG_DIR"),
		LogLevel:             firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		IdentityHeader:       firstNonEmpty(os.Getenv("IDENTITY_HEADER"), "X-Remote-User"),
		CodeLength:           intFromEnv("CODE_LENGTH", DefaultCodeLength),
		AuditLimit:           intFromEnv("AUDIT_LIMIT", DefaultAuditLimit),
		CodeStash:            strings.ToLower(firstNonEmpty(os.Getenv("CODE_STASH"), "memory")),
		RedisURL:             firstNonEmpty(os.Getenv("REDIS_URL"), "redis://localhost:6379/0"),
		PendingCodeTTL:       durationFromEnv("PENDING_CODE_TTL", 10*time.Minute),
	}
}

// databaseURLFromParts builds a DSN from the discrete RADIUS_DB_* variables.
func databaseURLFromParts() string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", firstNonEmpty(os.Getenv("RADIUS_DB_HOST"), "localhost"), intFromEnv("RADIUS_DB_PORT", 5432)),
		User:   url.UserPassword(firstNonEmpty(os.Getenv("RADIUS_DB_USER"), "radius"), os.Getenv("RADIUS_DB_PASS")),
		Path:   firstNonEmpty(os.Getenv("RADIUS_DB_NAME"), "radius"),
	}
	q := u.Query()
	q.Set("sslmode", firstNonEmpty(os.Getenv("RADIUS_DB_SSLMODE"), "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// intFromEnv reads an int from env var name, falling back to defaultVal when empty or invalid.
func intFromEnv(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// durationFromEnv accepts Go durations ("90s", "10m").
func durationFromEnv(name string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
