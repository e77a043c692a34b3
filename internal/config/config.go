package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	GinMode      string `env:"GIN_MODE" envDefault:"debug"`
	Storage      string `env:"STORAGE_DRIVER" envDefault:"postgres"` // postgres | memory
	BatchWorkers int    `env:"BATCH_WORKERS" envDefault:"4"`
	TradeWorkers int    `env:"TRADE_WORKERS" envDefault:"8"`
	Log          Log
	Postgres     Postgres
	Auth         Auth
	Redis        Redis
	Admin        Admin
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

type Postgres struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5433"`
	User            string        `env:"DB_USER" envDefault:"trader"`
	Password        string        `env:"DB_PASSWORD" envDefault:"trading123"`
	Name            string        `env:"DB_NAME" envDefault:"classroom_market"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN returns the lib/pq connection string
func (p Postgres) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Name, p.SSLMode,
	)
}

type Auth struct {
	JWTSecret  string        `env:"JWT_SECRET" envDefault:"change-me"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"10"`
}

type Redis struct {
	Addr       string        `env:"REDIS_ADDR"` // empty disables the ranking cache
	Password   string        `env:"REDIS_PASSWORD"`
	DB         int           `env:"REDIS_DB" envDefault:"0"`
	RankingTTL time.Duration `env:"RANKING_CACHE_TTL" envDefault:"10s"`
}

// Admin holds the credentials of the bootstrap administrator
type Admin struct {
	Username string `env:"ADMIN_USERNAME" envDefault:"admin"`
	Password string `env:"ADMIN_PASSWORD" envDefault:"admin1234"`
}

// Load reads .env (if any) and parses the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Storage != "postgres" && cfg.Storage != "memory" {
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage)
	}
	if cfg.BatchWorkers < 1 {
		cfg.BatchWorkers = 1
	}
	if cfg.TradeWorkers < 1 {
		cfg.TradeWorkers = 1
	}

	return cfg, nil
}
