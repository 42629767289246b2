package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config contains runtime configuration for both the API server and the
// sync daemon. Values come from the environment; a .env file is honored
// for local development.
type Config struct {
	ServiceEnvironment string `envconfig:"SERVICE_ENVIRONMENT" default:"development"`
	ServiceAPIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`

	DBHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	DBPort     string `envconfig:"POSTGRES_PORT" default:"5432"`
	DBName     string `envconfig:"POSTGRES_DB" default:"vrchat_events"`
	DBUser     string `envconfig:"POSTGRES_USER" default:"vrchat_user"`
	DBPassword string `envconfig:"POSTGRES_PASSWORD" default:""`

	CredentialsFile   string `envconfig:"GOOGLE_CREDENTIALS_FILE" default:"credentials.json"`
	TokenFile         string `envconfig:"GOOGLE_TOKEN_FILE" default:"token.json"`
	CalendarID        string `envconfig:"CALENDAR_ID" default:"vrchateventsdotcom@gmail.com"`
	PrivateCalendarID string `envconfig:"PRIVATE_CALENDAR_ID" default:"primary"`

	SyncIntervalSec int `envconfig:"SYNC_INTERVAL_SEC" default:"300"`

	EmbedderHost string `envconfig:"EMBEDDER_HOST" default:"http://localhost:11434"`
	EmbedModel   string `envconfig:"EMBED_MODEL" default:"nomic-embed-text"`
	IndexDir     string `envconfig:"INDEX_DIR" default:"embeddings"`
	DataDir      string `envconfig:"DATA_DIR" default:"data"`

	// IndexRefreshSpec is a cron expression for the periodic index rebuild.
	IndexRefreshSpec string `envconfig:"INDEX_REFRESH_SPEC" default:"@every 1h"`

	// APIKeys guards the write endpoints, format "key1,key2".
	APIKeys []string `envconfig:"API_KEYS" default:"local-dev-key"`
}

// Load reads configuration from the environment, after loading .env if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

// DatabaseURL assembles a pgx connection string from the discrete parts.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
