package config

import "github.com/kelseyhightower/envconfig"

// Config holds application configuration loaded from environment variables.
type Config struct {
	Addr          string `envconfig:"ADDR" default:":8080"`
	PostgresDSN   string `envconfig:"PG_DSN" default:""`
	AuthSecret    string `envconfig:"AUTH_SECRET" default:""`
	AuthIssuer    string `envconfig:"AUTH_ISSUER" default:"investsmart"`
	TokenTTLMin   int    `envconfig:"TOKEN_TTL_MINUTES" default:"60"`
	BcryptCost    int    `envconfig:"BCRYPT_COST" default:"10"`
	RateBurst     int    `envconfig:"RATE_BURST" default:"20"`
	RatePerSecond int    `envconfig:"RATE_PER_SECOND" default:"10"`

	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID" default:""`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET" default:""`
	GoogleRedirectURL  string `envconfig:"GOOGLE_REDIRECT_URL" default:""`

	IndicesTimeoutSec int    `envconfig:"INDICES_TIMEOUT_SECONDS" default:"8"`
	CoinsCurrency     string `envconfig:"COINS_CURRENCY" default:"inr"`
}

// Load reads configuration from INVESTSMART_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("investsmart", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
