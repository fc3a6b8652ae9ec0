// Package config loads command settings from MLICENSE_* environment
// variables. Command-line flags override these values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "MLICENSE"

// Config holds settings shared by the license commands.
type Config struct {
	// KeyDir is where mlkeygen writes keys and where key pickers start.
	KeyDir string `envconfig:"KEY_DIR" default:"."`

	// DefaultValidityDays is offered when the operator gives no expiry.
	DefaultValidityDays string `envconfig:"DEFAULT_VALIDITY_DAYS" default:"365"`

	// KeyPassphrase decrypts encrypted PEM private keys.
	KeyPassphrase string `envconfig:"KEY_PASSPHRASE"`

	ServerConfig

	Ledger LedgerConfig `envconfig:"LEDGER"`
	Log    LogConfig    `envconfig:"LOG"`
}

// LedgerConfig selects the issuance ledger. An empty URL keeps records in
// memory for the lifetime of the process.
type LedgerConfig struct {
	URL      string `envconfig:"URL"`
	Database string `envconfig:"DATABASE" default:"mlicense"`
}

// ServerConfig configures the local HTTP front end of mlsign serve.
type ServerConfig struct {
	ListenAddr   string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1:7311" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `envconfig:"FORMAT" default:"text" validate:"oneof=text json"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
