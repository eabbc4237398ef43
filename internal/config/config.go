// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"

	PODBackendDisk   = "disk"
	PODBackendGridFS = "gridfs"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port    string
	Storage string

	MongoURI string
	MongoDB  string

	JWTSecret string
	JWTExpiry time.Duration

	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	PODBackend  string
	PODDir      string
	PODMaxBytes int64

	RedisAddr string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	AdminEmail    string
	AdminPassword string
	AdminName     string

	LoginRateLimit  int
	ShutdownTimeout time.Duration
}

// Load reads envFile when it exists and then builds the config from the
// environment. Variables already set in the environment win over the file.
func Load(envFile string) *Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("file", envFile).Warn("Error loading env file")
		}
	}
	return fromEnv()
}

func fromEnv() *Config {
	cfg := &Config{
		Port:    GetEnv("PORT", "8080"),
		Storage: strings.ToLower(GetEnv("STORAGE", StorageMongo)),

		MongoURI: GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  GetEnv("MONGO_DB", "freight"),

		JWTSecret: GetEnv("JWT_SECRET", ""),
		JWTExpiry: GetEnvAsDuration("JWT_EXPIRY", 7*24*time.Hour),

		CORSOrigins: GetEnvAsList("CORS_ORIGINS", []string{"*"}),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "text"),

		PODBackend:  strings.ToLower(GetEnv("POD_BACKEND", PODBackendDisk)),
		PODDir:      GetEnv("POD_DIR", "pod_uploads"),
		PODMaxBytes: GetEnvAsInt64("POD_MAX_BYTES", 10<<20),

		RedisAddr: GetEnv("REDIS_ADDR", ""),

		MQTTBroker:   GetEnv("MQTT_BROKER", ""),
		MQTTTopic:    GetEnv("MQTT_TOPIC", "trips/events"),
		MQTTClientID: GetEnv("MQTT_CLIENT_ID", "freight-ledger"),

		AdminEmail:    GetEnv("ADMIN_EMAIL", ""),
		AdminPassword: GetEnv("ADMIN_PASSWORD", ""),
		AdminName:     GetEnv("ADMIN_NAME", "Admin"),

		LoginRateLimit:  GetEnvAsInt("LOGIN_RATE_LIMIT", 20),
		ShutdownTimeout: GetEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if cfg.Storage == StorageMemory && cfg.PODBackend == PODBackendGridFS {
		log.Warn("POD_BACKEND=gridfs needs mongo storage, falling back to disk")
		cfg.PODBackend = PODBackendDisk
	}
	return cfg
}

// ConfigureLogging applies the level and format to the standard logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("Invalid log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// GetEnv returns the variable or defaultValue when it is unset or empty.
func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.WithField("key", key).Warnf("Invalid integer value, using default: %d", defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.WithField("key", key).Warnf("Invalid int64 value, using default: %d", defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.WithField("key", key).Warnf("Invalid duration value, using default: %s", defaultValue)
		return defaultValue
	}
	return value
}

// GetEnvAsList splits a comma separated variable, dropping empty entries.
func GetEnvAsList(key string, defaultValue []string) []string {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
