// Package config loads the TOML runtime configuration. The compiled artifact
// captures the database dialect at compile time; everything else here is
// purely a serving concern.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server        Server        `toml:"server"`
	Security      Security      `toml:"security"`
	Database      Database      `toml:"database"`
	Cache         Cache         `toml:"cache"`
	Observability Observability `toml:"observability"`
}

type Server struct {
	Addr         string   `toml:"addr"`
	Pretty       bool     `toml:"pretty"`
	Timeout      Duration `toml:"timeout"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
}

type Security struct {
	JWTSecret         string       `toml:"jwt_secret"`
	WebhookHMACSecret string       `toml:"webhook_hmac_secret"`
	RateLimiting      RateLimiting `toml:"rate_limiting"`
	AuditLogging      AuditLogging `toml:"audit_logging"`
	CORS              CORS         `toml:"cors"`
}

type RateLimiting struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type AuditLogging struct {
	Enabled bool `toml:"enabled"`
}

type CORS struct {
	Enabled        bool     `toml:"enabled"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type Database struct {
	Driver            string   `toml:"driver"`
	DSN               string   `toml:"dsn"`
	PoolSize          int      `toml:"pool_size"`
	ConnectionTimeout Duration `toml:"connection_timeout"`
	StatementTimeout  Duration `toml:"statement_timeout"`
}

type Cache struct {
	Enabled    bool     `toml:"enabled"`
	DefaultTTL Duration `toml:"default_ttl"`
}

type Observability struct {
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	ServiceName   string `toml:"service_name"`
	Introspection bool   `toml:"introspection"`
}

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:         ":8080",
			Timeout:      Duration(10 * time.Second),
			MaxBodyBytes: 1 << 20,
		},
		Security: Security{
			RateLimiting: RateLimiting{RequestsPerSecond: 100, Burst: 200},
		},
		Database: Database{
			Driver:            "sqlite3",
			DSN:               ":memory:",
			PoolSize:          10,
			ConnectionTimeout: Duration(5 * time.Second),
			StatementTimeout:  Duration(30 * time.Second),
		},
		Cache: Cache{Enabled: true, DefaultTTL: Duration(60 * time.Second)},
		Observability: Observability{
			ServiceName:   "quarry",
			Introspection: true,
		},
	}
}

// Load reads path and merges it over the defaults. Unknown keys are
// rejected so a typo in a section name fails loudly at startup.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) check() error {
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive, got %d", c.Database.PoolSize)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Security.RateLimiting.Enabled && c.Security.RateLimiting.RequestsPerSecond <= 0 {
		return fmt.Errorf("security.rate_limiting.requests_per_second must be positive")
	}
	return nil
}
