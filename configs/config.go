// config.go - Configuration loaded from environment variables (and an optional config file)

package configs

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// AI fallback configuration
	FALLBACK_PROVIDER       string // "gemini" or "mistral"
	GEMINI_API_KEY          string
	GEMINI_ENDPOINT         string
	FALLBACK_MODEL_NAME     string
	MISTRAL_API_KEY         string
	MISTRAL_MODEL_NAME      string
	MISTRAL_ENDPOINT        string
	AI_FALLBACK_TIMEOUT     time.Duration
	AI_FALLBACK_TEMPERATURE float64
	AI_FALLBACK_MAX_TOKENS  int
	AI_RATE_LIMIT_TOKENS    int
	AI_RATE_LIMIT_REFILL    time.Duration

	// Gemini Pricing Configuration (per 1M tokens in USD)
	GEMINI_INPUT_PRICE_PER_MILLION  float64
	GEMINI_OUTPUT_PRICE_PER_MILLION float64

	// Server Configuration
	PORT             string
	UPLOAD_DIR       string
	ALLOWED_ORIGINS  string
	MAX_UPLOAD_BYTES int64

	// Catalogue Configuration
	CATALOGUE_SOURCE          string // "csv" or "mongo"
	CATALOGUE_PATH            string
	MONGO_URI                 string
	MONGO_DB_NAME             string
	MONGO_MEDICINE_COLLECTION string

	// Recognition settings
	RECOGNITION_BACKEND        string // "tesseract", "handwriting" or "auto"
	RECOGNITION_TIMEOUT        time.Duration
	OCR_LANGUAGE               string
	ENABLE_IMAGE_PREPROCESSING bool
	MAX_IMAGE_DIMENSION        int

	// Handwriting model settings
	HANDWRITING_MODEL_PATH string
	HANDWRITING_ONNX_PATH  string
	ONNXRUNTIME_LIB        string
	HANDWRITING_WIDTH      int
	HANDWRITING_HEIGHT     int
	PRESCRIPTION_INVERT    string // "1" force invert, "0" never, anything else auto
	PRESCRIPTION_DEBUG     bool

	// Logging
	LOG_LEVEL  string
	LOG_FORMAT string
)

var v = viper.New()

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v.AutomaticEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("⚠️  Failed to read config file %s: %v", path, err)
		}
	}

	// Optional: without a key the AI fallback is disabled
	FALLBACK_PROVIDER = strings.ToLower(getEnv("FALLBACK_PROVIDER", "gemini"))
	GEMINI_API_KEY = getEnv("GEMINI_API_KEY", "")
	GEMINI_ENDPOINT = getEnv("GEMINI_ENDPOINT", "")
	FALLBACK_MODEL_NAME = getEnv("FALLBACK_MODEL_NAME", "gemini-2.0-flash")
	MISTRAL_API_KEY = getEnv("MISTRAL_API_KEY", "")
	MISTRAL_MODEL_NAME = getEnv("MISTRAL_MODEL_NAME", "mistral-small-latest")
	MISTRAL_ENDPOINT = getEnv("MISTRAL_ENDPOINT", "https://api.mistral.ai/v1/chat/completions")
	AI_FALLBACK_TIMEOUT = getEnvDuration("AI_FALLBACK_TIMEOUT", 20*time.Second)
	AI_FALLBACK_TEMPERATURE = getEnvFloat("AI_FALLBACK_TEMPERATURE", 0.1)
	AI_FALLBACK_MAX_TOKENS = getEnvInt("AI_FALLBACK_MAX_TOKENS", 500)
	AI_RATE_LIMIT_TOKENS = getEnvInt("AI_RATE_LIMIT_TOKENS", 12)
	AI_RATE_LIMIT_REFILL = getEnvDuration("AI_RATE_LIMIT_REFILL", 5*time.Second)

	GEMINI_INPUT_PRICE_PER_MILLION = getEnvFloat("GEMINI_INPUT_PRICE_PER_MILLION", 0.10)
	GEMINI_OUTPUT_PRICE_PER_MILLION = getEnvFloat("GEMINI_OUTPUT_PRICE_PER_MILLION", 0.40)

	PORT = getEnv("PORT", "8080")
	UPLOAD_DIR = getEnv("UPLOAD_DIR", "uploads/prescriptions")
	ALLOWED_ORIGINS = getEnv("ALLOWED_ORIGINS", "*")
	MAX_UPLOAD_BYTES = int64(getEnvInt("MAX_UPLOAD_BYTES", 5*1024*1024))

	CATALOGUE_SOURCE = strings.ToLower(getEnv("CATALOGUE_SOURCE", "csv"))
	CATALOGUE_PATH = getEnv("CATALOGUE_PATH", "datasets/raw/Extensive_A_Z_medicines_dataset_of_India.csv")
	MONGO_URI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	MONGO_DB_NAME = getEnv("MONGO_DB_NAME", "prescriptiondb")
	MONGO_MEDICINE_COLLECTION = getEnv("MONGO_MEDICINE_COLLECTION", "medicines")

	RECOGNITION_BACKEND = strings.ToLower(getEnv("RECOGNITION_BACKEND", "auto"))
	RECOGNITION_TIMEOUT = getEnvDuration("RECOGNITION_TIMEOUT", 45*time.Second)
	OCR_LANGUAGE = getEnv("OCR_LANGUAGE", "eng")
	ENABLE_IMAGE_PREPROCESSING = getEnvBool("ENABLE_IMAGE_PREPROCESSING", true)
	MAX_IMAGE_DIMENSION = getEnvInt("MAX_IMAGE_DIMENSION", 2500)

	HANDWRITING_MODEL_PATH = getEnv("HANDWRITING_MODEL_PATH", "datasets/models/prescription_handwriting/model.json")
	HANDWRITING_ONNX_PATH = getEnv("HANDWRITING_ONNX_PATH", "")
	ONNXRUNTIME_LIB = getEnv("ONNXRUNTIME_LIB", "")
	HANDWRITING_WIDTH = getEnvInt("HANDWRITING_WIDTH", 200)
	HANDWRITING_HEIGHT = getEnvInt("HANDWRITING_HEIGHT", 64)
	PRESCRIPTION_INVERT = getEnv("PRESCRIPTION_INVERT", "auto")
	PRESCRIPTION_DEBUG = isDebugFlag(getEnv("PRESCRIPTION_DEBUG", ""))

	LOG_LEVEL = getEnv("LOG_LEVEL", "info")
	LOG_FORMAT = getEnv("LOG_FORMAT", "json")

	log.Println("✓ Configuration loaded successfully")
}

// AIFallbackEnabled reports whether the configured fallback provider has credentials.
func AIFallbackEnabled() bool {
	switch FALLBACK_PROVIDER {
	case "mistral":
		return MISTRAL_API_KEY != ""
	default:
		return GEMINI_API_KEY != ""
	}
}

// "indexes" is accepted for compatibility with older deployments.
func isDebugFlag(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "indexes":
		return true
	}
	return false
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := v.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := v.GetString(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := v.GetString(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := v.GetString(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("20s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := v.GetString(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
