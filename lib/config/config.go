package config

import (
	"arena/lib/duels"
	"arena/lib/settlement"
	"arena/lib/vault"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port     int    `env:"ARENA_PORT" envDefault:"8080"`
	LogFile  string `env:"ARENA_LOG_FILE"`
	LogLevel string `env:"ARENA_LOG_LEVEL" envDefault:"info"`

	CacheAddress  string `env:"CACHE_ADDRESS" envDefault:"localhost:6379"`
	CacheUsername string `env:"CACHE_USERNAME"`
	CachePassword string `env:"CACHE_PASSWORD"`

	DbDriver   string `env:"DB_DRIVER" envDefault:"sqlite"`
	DbAddress  string `env:"DB_ADDRESS" envDefault:"localhost:5432"`
	DbName     string `env:"DB_NAME" envDefault:"arena"`
	DbUser     string `env:"DB_USER" envDefault:"arena"`
	DbPassword string `env:"DB_PASSWORD"`
	SqlitePath string `env:"SQLITE_PATH" envDefault:"arena.db"`

	VaultAddress string `env:"VAULT_ADDR"`
	JwtKey       string `env:"ARENA_JWT_KEY"`
	ApiKey       string `env:"ARENA_API_KEY"`

	ChallengeTTL        time.Duration `env:"ARENA_CHALLENGE_TTL" envDefault:"30s"`
	ChallengeMaxTTL     time.Duration `env:"ARENA_CHALLENGE_MAX_TTL" envDefault:"5m"`
	TurnGrace           time.Duration `env:"ARENA_TURN_GRACE" envDefault:"15s"`
	IdleTimeout         time.Duration `env:"ARENA_IDLE_TIMEOUT" envDefault:"2m"`
	MaxMissedTurns      int           `env:"ARENA_MAX_MISSED_TURNS" envDefault:"3"`
	Resolution          string        `env:"ARENA_RESOLUTION" envDefault:"sequential"`
	RewardVariant       string        `env:"ARENA_REWARD_VARIANT" envDefault:"rich"`
	SettlementWorkers   int           `env:"ARENA_SETTLEMENT_WORKERS" envDefault:"4"`
	InboundWorkers      int           `env:"ARENA_INBOUND_WORKERS" envDefault:"8"`
	NotificationWorkers int           `env:"ARENA_NOTIFICATION_WORKERS" envDefault:"4"`

	OtelEndpoint string   `env:"OTEL_ENDPOINT"`
	CorsOrigins  []string `env:"ARENA_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads the environment. A .env file is picked up by the autoload
// import in bin/main.go.
func Load() (Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (config Config) Validate() error {
	var errs []error
	if config.Port <= 0 || config.Port > 65535 {
		errs = append(errs, fmt.Errorf("ARENA_PORT out of range: %d", config.Port))
	}
	if config.DbDriver != "pgx" && config.DbDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be pgx or sqlite, got %q", config.DbDriver))
	}
	if config.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("ARENA_CHALLENGE_TTL must be positive"))
	}
	if config.ChallengeMaxTTL < config.ChallengeTTL {
		errs = append(errs, errors.New("ARENA_CHALLENGE_MAX_TTL cannot be below ARENA_CHALLENGE_TTL"))
	}
	if config.TurnGrace <= 0 || config.IdleTimeout <= 0 {
		errs = append(errs, errors.New("ARENA_TURN_GRACE and ARENA_IDLE_TIMEOUT must be positive"))
	}
	if config.MaxMissedTurns <= 0 {
		errs = append(errs, errors.New("ARENA_MAX_MISSED_TURNS must be positive"))
	}
	if _, err := duels.ParseResolution(config.Resolution); err != nil {
		errs = append(errs, err)
	}
	if _, err := settlement.RewardsFor(settlement.Variant(config.RewardVariant)); err != nil {
		errs = append(errs, err)
	}
	if config.SettlementWorkers <= 0 || config.InboundWorkers <= 0 || config.NotificationWorkers <= 0 {
		errs = append(errs, errors.New("worker counts must be positive"))
	}
	if config.VaultAddress == "" && config.JwtKey == "" {
		errs = append(errs, errors.New("ARENA_JWT_KEY is required without VAULT_ADDR"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Rules builds the duel rules from the configured knobs.
func (config Config) Rules() duels.Rules {
	rules := duels.DefaultRules()
	if resolution, err := duels.ParseResolution(config.Resolution); err == nil {
		rules.Resolution = resolution
	}
	rules.TurnGrace = config.TurnGrace
	rules.IdleTimeout = config.IdleTimeout
	rules.MaxMissedTurns = config.MaxMissedTurns
	return rules
}

func (config Config) Rewards() settlement.Rewards {
	rewards, err := settlement.RewardsFor(settlement.Variant(config.RewardVariant))
	if err != nil {
		rewards, _ = settlement.RewardsFor(settlement.VariantRich)
	}
	return rewards
}

// Secrets returns the credentials given in the environment, used when no
// Vault is configured.
func (config Config) Secrets() vault.Secrets {
	return vault.Secrets{
		CachePassword: config.CachePassword,
		DbPassword:    config.DbPassword,
		JwtKey:        config.JwtKey,
		ApiKey:        config.ApiKey,
	}
}
