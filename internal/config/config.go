// Package config provides configuration for the conversation backend.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`
	RPCPort  int `yaml:"rpc_port"` // 0 disables the internal JSON-RPC listener

	// Session store
	StoreBackend string `yaml:"store_backend"` // file, sqlite, memory
	StorePath    string `yaml:"store_path"`    // document path for the file backend
	DatabaseURL  string `yaml:"database_url"`  // DSN for the sqlite backend

	// Responder
	Responder string `yaml:"responder"` // echo, llm
	LLMURL    string `yaml:"llm_url"`
	LLMAPIKey string `yaml:"llm_api_key"`
	LLMModel  string `yaml:"llm_model"`

	// Language pipeline
	Translator            string  `yaml:"translator"` // marker, http
	TranslatorURL         string  `yaml:"translator_url"`
	TranslatorAPIKey      string  `yaml:"translator_api_key"`
	DetectorMinConfidence float64 `yaml:"detector_min_confidence"`
	TranslationPolicyFile string  `yaml:"translation_policy_file"`

	// Timeouts
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// WebSocket settings
	PingInterval   time.Duration `yaml:"ws_ping_interval"`
	WriteTimeout   time.Duration `yaml:"ws_write_timeout"`
	ReadTimeout    time.Duration `yaml:"ws_read_timeout"`
	MaxMessageSize int64         `yaml:"ws_max_message_size"`

	// Event bus
	EventsBackend string `yaml:"events_backend"` // gochannel, redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisGroup    string `yaml:"redis_group"`
	RedisConsumer string `yaml:"redis_consumer"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:              getEnvInt("HTTP_PORT", 5000),
		RPCPort:               getEnvInt("RPC_PORT", 0),
		StoreBackend:          getEnv("STORE_BACKEND", "file"),
		StorePath:             getEnv("STORE_PATH", "conversations.json"),
		DatabaseURL:           getEnv("DATABASE_URL", "file:conversations.db?_busy_timeout=5000"),
		Responder:             getEnv("RESPONDER", "echo"),
		LLMURL:                getEnv("LLM_URL", "http://localhost:4000"),
		LLMAPIKey:             getEnv("LLM_API_KEY", ""),
		LLMModel:              getEnv("LLM_MODEL", "gpt-4o-mini"),
		Translator:            getEnv("TRANSLATOR", "marker"),
		TranslatorURL:         getEnv("TRANSLATOR_URL", "http://localhost:5001"),
		TranslatorAPIKey:      getEnv("TRANSLATOR_API_KEY", ""),
		DetectorMinConfidence: getEnvFloat("DETECTOR_MIN_CONFIDENCE", 0.5),
		TranslationPolicyFile: getEnv("TRANSLATION_POLICY_FILE", ""),
		ResponseTimeout:       time.Duration(getEnvInt("RESPONSE_TIMEOUT_MS", 30000)) * time.Millisecond,
		PingInterval:          time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:          time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:           time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:        int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		EventsBackend:         getEnv("EVENTS_BACKEND", "gochannel"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisGroup:            getEnv("REDIS_GROUP", "campusconnect"),
		RedisConsumer:         getEnv("REDIS_CONSUMER", hostnameOr("campusconnect-1")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogPretty:             getEnvBool("LOG_PRETTY", false),
	}
}

// LoadFile loads environment configuration and overlays the YAML file at path.
// Keys absent from the file keep their environment or default values.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	// Resolve secrets from the environment last so they never need to live in the file.
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLMAPIKey = key
	}
	if key := os.Getenv("TRANSLATOR_API_KEY"); key != "" {
		cfg.TranslatorAPIKey = key
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
