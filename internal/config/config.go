package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	ServiceName      string        `mapstructure:"SERVICE_NAME"`
	SigningKeyFile   string        `mapstructure:"SIGNING_KEY_FILE"`
	SigningCertFile  string        `mapstructure:"SIGNING_CERT_FILE"`
	SigningAlgorithm string        `mapstructure:"SIGNING_ALGORITHM"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	OTLPEndpoint     string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRate  float64       `mapstructure:"OTEL_TRACES_SAMPLE_RATE"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TLSEnabled       bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile      string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile       string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"SERVICE_NAME",
	"SIGNING_KEY_FILE",
	"SIGNING_CERT_FILE",
	"SIGNING_ALGORITHM",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_TRACES_SAMPLE_RATE",
	"BODY_LIMIT",
	"REQUEST_TIMEOUT",
	"TLS_ENABLED",
	"TLS_CERT_FILE",
	"TLS_KEY_FILE",
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory. The database is optional: without DATABASE_URL
// outcomes are not recorded.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVICE_NAME", "xchange")
	v.SetDefault("SIGNING_ALGORITHM", "rsa-sha1")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("OTEL_TRACES_SAMPLE_RATE", 1.0)
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningEnabled reports whether a signing key pair is configured.
func (c *Config) SigningEnabled() bool {
	return c.SigningKeyFile != "" && c.SigningCertFile != ""
}

// Level returns the parsed LOG_LEVEL. Validate rejects unknown levels.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is safe to run. The signing key and
// certificate come as a pair, and production requires both.
func (c *Config) Validate() error {
	switch c.SigningAlgorithm {
	case "rsa-sha1", "rsa-sha256":
	default:
		return fmt.Errorf("SIGNING_ALGORITHM must be \"rsa-sha1\" or \"rsa-sha256\", got %q", c.SigningAlgorithm)
	}

	if (c.SigningKeyFile == "") != (c.SigningCertFile == "") {
		return fmt.Errorf("SIGNING_KEY_FILE and SIGNING_CERT_FILE must be set together")
	}
	if c.IsProduction() && !c.SigningEnabled() {
		return fmt.Errorf("SIGNING_KEY_FILE and SIGNING_CERT_FILE are required in production")
	}

	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("LOG_LEVEL is invalid: %w", err)
		}
	}

	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max >= 1", c.DBMinConns, c.DBMaxConns)
	}

	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATE must be between 0 and 1, got %g", c.TraceSampleRate)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
