// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Privacy  PrivacyConfig
	APIKeys  []string
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// PrivacyConfig controls the differential privacy engine and the
// per-principal budget accountant.
type PrivacyConfig struct {
	// TotalEpsilon is the privacy budget granted to every principal.
	TotalEpsilon float64
	// MaxQueryEpsilon caps the epsilon a single query may request.
	MaxQueryEpsilon float64
	// MeanCountFraction is the share of a mean query's epsilon given to
	// its count sub-query; the sum sub-query receives the rest.
	MeanCountFraction float64
	// SumSensitivity bounds the contribution of a single record to a sum.
	// It is configuration, never derived from the data itself.
	SumSensitivity float64
	// HistoryLimit bounds the number of query records returned by the
	// budget history endpoint.
	HistoryLimit int
	// SnapshotKey is the Redis key used to persist ledger state across
	// restarts. Empty disables snapshotting.
	SnapshotKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-this-secret"),
			Expiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		Privacy: PrivacyConfig{
			TotalEpsilon:      getFloatEnv("PRIVACY_TOTAL_EPSILON", 10.0),
			MaxQueryEpsilon:   getFloatEnv("PRIVACY_MAX_QUERY_EPSILON", 10.0),
			MeanCountFraction: getFloatEnv("PRIVACY_MEAN_COUNT_FRACTION", 0.5),
			SumSensitivity:    getFloatEnv("PRIVACY_SUM_SENSITIVITY", 1.0),
			HistoryLimit:      getIntEnv("PRIVACY_HISTORY_LIMIT", 50),
			SnapshotKey:       getEnv("PRIVACY_SNAPSHOT_KEY", "privacy:ledgers"),
		},
		APIKeys: getListEnv("NEXUS_API_KEYS"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
