// Package config assembles the service configuration from defaults, an
// optional YAML file, a .env file and the process environment, in that
// order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the chat service.
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`

	UsersFile string `yaml:"users_file"`
	DataDir   string `yaml:"data_dir"`
	StaticDir string `yaml:"static_dir"`

	LLMAPIKey       string        `yaml:"llm_api_key"`
	LLMAPIURL       string        `yaml:"llm_api_url"`
	LLMModel        string        `yaml:"llm_model"`
	LLMTimeout      time.Duration `yaml:"llm_timeout"`
	LLMTemperature  float64       `yaml:"llm_temperature"`
	MaxInputLength  int           `yaml:"max_input_length"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	ContextTurns    int           `yaml:"context_turns"`

	TokenTTL                time.Duration `yaml:"token_ttl"`
	AllowPlaintextPasswords bool          `yaml:"allow_plaintext_passwords"`
	HashPasswords           bool          `yaml:"hash_passwords"`
	LoginRPS                float64       `yaml:"login_rps"`
	LoginBurst              int           `yaml:"login_burst"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	DebugRoutes  bool   `yaml:"debug_routes"`
}

// Default returns the settings the service runs with when nothing is configured.
func Default() *Config {
	return &Config{
		Port:                    "8000",
		Environment:             "local",
		ServiceName:             "llm-chat-service",
		LogLevel:                "info",
		UsersFile:               "users.json",
		DataDir:                 "data",
		StaticDir:               "static",
		LLMAPIURL:               "https://api.openai.com/v1/chat/completions",
		LLMModel:                "gpt-3.5-turbo",
		LLMTimeout:              60 * time.Second,
		LLMTemperature:          0.7,
		MaxInputLength:          2048,
		MaxOutputTokens:         300,
		ContextTurns:            15,
		AllowPlaintextPasswords: true,
		LoginRPS:                1,
		LoginBurst:              5,
		AMQPExchange:            "chat.audit",
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	// A missing .env is normal; existing environment variables take precedence.
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values from a YAML file. Keys absent from the file keep
// their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays values from environment variables.
func (c *Config) ApplyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.UsersFile = getEnv("USERS_FILE", c.UsersFile)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)
	c.LLMAPIKey = getEnv("GPT_TEAM_TOKEN", c.LLMAPIKey)
	c.LLMAPIURL = getEnv("GPT_API_URL", c.LLMAPIURL)
	c.LLMModel = getEnv("GPT_MODEL", c.LLMModel)
	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(getEnvDuration("LLM_TIMEOUT", &c.LLMTimeout))
	collect(getEnvFloat("LLM_TEMPERATURE", &c.LLMTemperature))
	collect(getEnvInt("MAX_USER_INPUT_LENGTH", &c.MaxInputLength))
	collect(getEnvInt("MAX_GPT_TOKENS", &c.MaxOutputTokens))
	collect(getEnvInt("CONTEXT_TURNS", &c.ContextTurns))
	collect(getEnvDuration("TOKEN_TTL", &c.TokenTTL))
	collect(getEnvBool("ALLOW_PLAINTEXT_PASSWORDS", &c.AllowPlaintextPasswords))
	collect(getEnvBool("HASH_PASSWORDS", &c.HashPasswords))
	collect(getEnvFloat("LOGIN_RPS", &c.LoginRPS))
	collect(getEnvInt("LOGIN_BURST", &c.LoginBurst))
	collect(getEnvBool("DEBUG_ROUTES", &c.DebugRoutes))
	return errors.Join(errs...)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LLMAPIKey) == "" {
		errs = append(errs, errors.New("GPT_TEAM_TOKEN is not set"))
	}
	if c.MaxInputLength <= 0 {
		errs = append(errs, errors.New("max input length must be positive"))
	}
	if c.MaxOutputTokens <= 0 {
		errs = append(errs, errors.New("max output tokens must be positive"))
	}
	if c.ContextTurns <= 0 {
		errs = append(errs, errors.New("context turns must be positive"))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("llm timeout must be positive"))
	}
	if c.TokenTTL < 0 {
		errs = append(errs, errors.New("token ttl must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, dst *int) error {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func getEnvFloat(key string, dst *float64) error {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func getEnvBool(key string, dst *bool) error {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, dst *time.Duration) error {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return nil
	}
	val = strings.TrimSpace(val)
	if secs, err := strconv.Atoi(val); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}
