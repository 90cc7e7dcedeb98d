// Package config loads the pipeline configuration from the environment.
//
// All values have documented defaults except credentials (Telegram API and
// warehouse), whose absence is reported as an error before any connection
// attempt.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Warehouse connection. User and password have no defaults on purpose.
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME" envDefault:"medical_warehouse"`
	DBUser     string `env:"DB_USER,required"`
	DBPassword string `env:"DB_PASSWORD,required"`

	// Telegram source credentials.
	TGAPIID       int    `env:"TELEGRAM_API_ID,required"`
	TGAPIHash     string `env:"TELEGRAM_API_HASH,required"`
	TGPhone       string `env:"TELEGRAM_PHONE"`
	TG2FAPassword string `env:"TELEGRAM_2FA_PASSWORD"`
	TGSessionPath string `env:"TELEGRAM_SESSION_PATH" envDefault:"./tg.session"`

	// Channels to scrape: bare usernames or https://t.me/<name> URLs.
	Channels   []string `env:"TG_CHANNELS" envSeparator:","`
	FetchLimit int      `env:"FETCH_LIMIT" envDefault:"100"`
	RateRPS    float64  `env:"RATE_LIMIT_RPS" envDefault:"1"`

	// Filesystem layout.
	MessagesDir string `env:"MESSAGES_DIR" envDefault:"data/raw/telegram_messages"`
	ImagesDir   string `env:"IMAGES_DIR" envDefault:"data/raw/images"`
	OutputFile  string `env:"OUTPUT_FILE" envDefault:"image_enrichment/outputs/image_detections.json"`

	// Detection engine.
	DetectorURL         string        `env:"DETECTOR_URL" envDefault:"http://localhost:8501/detect"`
	DetectorTimeout     time.Duration `env:"DETECTOR_TIMEOUT" envDefault:"60s"`
	DetectionModel      string        `env:"YOLO_MODEL" envDefault:"yolov8n.pt"`
	ConfidenceThreshold float64       `env:"CONFIDENCE_THRESHOLD" envDefault:"0.25"`
	DetectionsFreshLoad bool          `env:"DETECTIONS_FRESH_LOAD" envDefault:"false"`

	MetricsPort int `env:"METRICS_PORT" envDefault:"0"`
}

// Load reads configuration from the environment, optionally seeded by a
// .env file. Missing required credentials fail here, before any I/O.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}

// PostgresDSN builds the connection string for the warehouse.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName)
}
