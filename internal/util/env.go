package util

import (
	"os"
	"strconv"
	"time"

	"github.com/mirojs/graphrag-orchestration/pkg/logger"

	"github.com/joho/godotenv"
)

func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

func GetEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return ""
	}
	return value
}

func GetEnvString(key string, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}

	return value
}

func GetEnvFloat(key string, defaultValue float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Warn("Ignoring malformed numeric env", "key", key, "value", value)
		return defaultValue
	}

	return parsed
}

func GetEnvInt(key string, defaultValue int) int {
	return int(GetEnvFloat(key, float64(defaultValue)))
}

// GetEnvSeconds reads a duration expressed in whole or fractional seconds.
func GetEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	seconds := GetEnvFloat(key, defaultValue.Seconds())
	return time.Duration(seconds * float64(time.Second))
}

func GetEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}
