package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel    string `env:"LOG_LEVEL"`
	Postgres    Postgres
	Redis       Redis
	API         API
	Cache       Cache
	Jobs        Jobs
	GoogleDrive GoogleDrive
	Engine      Engine
}

type Postgres struct {
	Host            string `env:"PG_HOST"`
	Port            int    `env:"PG_PORT"`
	DbName          string `env:"PG_DB_NAME"`
	Password        string `env:"PG_PASSWORD"`
	User            string `env:"PG_USER"`
	MaxOpenConns    int    `env:"PG_MAX_OPEN_CONNS"`
	ConnMaxLifetime int    `env:"PG_CONN_MAX_LIFETIME"`
	MaxIdleConns    int    `env:"PG_MAX_IDLE_CONNS"`
	ConnMaxIdleTime int    `env:"PG_CONN_MAX_IDLE_TIME"`
	MigrationDir    string `env:"PG_MIGRATION_DIR"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

type API struct {
	Debug   bool          `env:"API_DEBUG"`
	Timeout time.Duration `env:"API_TIMEOUT"`
	FxApi   FxApi
}

type FxApi struct {
	Url string `env:"FX_API_URL"`
}

type Cache struct {
	MetricsExpiration   time.Duration `env:"CACHE_METRICS_EXPIRATION"`
	PositionsExpiration time.Duration `env:"CACHE_POSITIONS_EXPIRATION"`
}

type Jobs struct {
	NightlyMetricsCrontab string `env:"NIGHTLY_METRICS_CRONTAB"`
}

type GoogleDrive struct {
	CredentialsFile string        `env:"GOOGLE_DRIVE_CREDENTIALS_FILE"`
	FileTTL         time.Duration `env:"GOOGLE_DRIVE_FILE_TTL"`
}

// Engine holds the knobs of the accounting and performance services.
//
// FxAssumeParity controls what happens when a trade arrives in a foreign
// currency without an FX rate and the rate provider has no quote either:
// true converts at 1.0 with a logged warning, false rejects the trade.
type Engine struct {
	BaseCurrency    string  `env:"ENGINE_BASE_CURRENCY"`
	FxAssumeParity  bool    `env:"ENGINE_FX_ASSUME_PARITY"`
	RiskFreeRate    float64 `env:"ENGINE_RISK_FREE_RATE" envDefault:"0.04"`
	LookbackDays    int     `env:"ENGINE_LOOKBACK_DAYS" envDefault:"365"`
	MwrLookbackDays int     `env:"ENGINE_MWR_LOOKBACK_DAYS" envDefault:"365"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
