package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/logging"
)

// Config holds the project config values
type Config struct {
	URL          string `env:"DB_URI" envDefault:"mongodb://127.0.0.1:27017"`
	DatabaseName string `env:"DB_NAME" envDefault:"tours"`
	BaseURL      string `env:"BASE_URL"`
	Port         string `env:"PORT" envDefault:"8080"`
	Env          string `env:"APP_ENV" envDefault:"production"`

	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES" envDefault:"65536"`

	SendGridAPIKey     string `env:"SENDGRID_API_KEY"`
	MailFrom           string `env:"MAIL_FROM" envDefault:"no-reply@aett-tours.com"`
	OperatorAlertEmail string `env:"OPERATOR_ALERT_EMAIL"`

	// IdleSessionTimeout of zero disables the idle session sweeper.
	IdleSessionTimeout time.Duration `env:"CHAT_IDLE_TIMEOUT" envDefault:"24h"`
	IdleSweepSchedule  string        `env:"CHAT_IDLE_SWEEP_SCHEDULE" envDefault:"@every 15m"`
}

// New loads an optional .env file, parses the environment into a Config and
// installs the zap logger for the configured environment as the global logger.
func New() (*Config, error) {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	conf := &Config{}
	if err := env.Parse(conf); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	logger, err := logging.New(conf.Env)
	if err != nil {
		return nil, err
	}
	_ = zap.ReplaceGlobals(logger)

	return conf, nil
}
