package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full application configuration, loaded from YAML with
// environment variable overrides.
type Config struct {
	Server     ServerSection     `yaml:"server"`
	Database   DatabaseSection   `yaml:"database"`
	Redis      RedisSection      `yaml:"redis"`
	Admission  AdmissionSection  `yaml:"admission"`
	FloodGuard FloodGuardSection `yaml:"flood_guard"`
}

// ServerSection holds HTTP server settings.
type ServerSection struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
	CORSOrigin   string   `yaml:"cors_origin"`
}

// DatabaseSection holds the Postgres pool settings.
type DatabaseSection struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    Duration `yaml:"query_timeout"`
}

// RedisSection holds the optional deny-cache settings.
type RedisSection struct {
	Enabled bool     `yaml:"enabled"`
	Addr    string   `yaml:"addr"`
	DB      int      `yaml:"db"`
	Timeout Duration `yaml:"timeout"`
}

// AdmissionSection holds the purchase policy settings.
type AdmissionSection struct {
	Window Duration `yaml:"window"`
}

// FloodGuardSection holds the per-client request shedding settings.
// This guards the store against request floods; it is separate from
// the ledger-backed purchase policy.
type FloodGuardSection struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Default returns the configuration defaults used when a field is
// absent from both the YAML file and the environment.
func Default() *Config {
	return &Config{
		Server: ServerSection{
			Host:         "0.0.0.0",
			Port:         3000,
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
			CORSOrigin:   "*",
		},
		Database: DatabaseSection{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
			ConnMaxIdleTime: Duration(5 * time.Minute),
			QueryTimeout:    Duration(2 * time.Second),
		},
		Redis: RedisSection{
			Timeout: Duration(500 * time.Millisecond),
		},
		Admission: AdmissionSection{
			Window: Duration(60 * time.Second),
		},
		FloodGuard: FloodGuardSection{
			Enabled: true,
			RPS:     20,
			Burst:   40,
		},
	}
}

// Load reads configuration from the given YAML file (if it exists) on
// top of the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = val
		}
	}
	if origin := os.Getenv("FRONTEND_URL"); origin != "" {
		cfg.Server.CORSOrigin = origin
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if timeout := os.Getenv("PG_QUERY_TIMEOUT"); timeout != "" {
		if val, err := time.ParseDuration(timeout); err == nil {
			cfg.Database.QueryTimeout = Duration(val)
		}
	}
	if maxOpen := os.Getenv("PG_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			cfg.Database.MaxOpenConns = val
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr
	}
	if window := os.Getenv("PURCHASE_WINDOW"); window != "" {
		if val, err := time.ParseDuration(window); err == nil {
			cfg.Admission.Window = Duration(val)
		}
	}
}

// Validate checks invariants that would otherwise surface as runtime
// faults deep inside the serve path.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required (set database.dsn or DATABASE_URL)")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot exceed max_open_conns")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}
	if c.Admission.Window <= 0 {
		return fmt.Errorf("admission window must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	if c.FloodGuard.Enabled && (c.FloodGuard.RPS <= 0 || c.FloodGuard.Burst <= 0) {
		return fmt.Errorf("flood guard rps and burst must be positive when enabled")
	}
	return nil
}
