// Package config loads settings from defaults, an optional YAML file and
// LICENSE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix         = "LICENSE"
	DefaultConfigFile = "config/default.yaml"

	EnvDevelopment = "development"
	EnvProduction  = "production"

	devSigningKey = "dev-only-signing-key-do-not-use-in-production"
)

type Config struct {
	Env       string          `yaml:"env" envconfig:"ENV"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	NATS      NATSConfig      `yaml:"nats" envconfig:"NATS"`
	JWT       JWTConfig       `yaml:"jwt" envconfig:"JWT"`
	Admin     AdminConfig     `yaml:"admin" envconfig:"ADMIN"`
	Webhook   WebhookConfig   `yaml:"webhook" envconfig:"WEBHOOK"`
	Keys      KeysConfig      `yaml:"keys" envconfig:"KEYS"`
	Audit     AuditConfig     `yaml:"audit" envconfig:"AUDIT"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url" envconfig:"URL"` // overrides the parts below
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	User            string        `yaml:"user" envconfig:"USER"`
	Password        string        `yaml:"password" envconfig:"PASSWORD"`
	Name            string        `yaml:"name" envconfig:"NAME"`
	SSLMode         string        `yaml:"sslmode" envconfig:"SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

// DSN returns URL if set, otherwise a postgres URL built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"` // empty disables rate limiting
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

type NATSConfig struct {
	URL           string `yaml:"url" envconfig:"URL"` // empty disables event publishing
	SubjectPrefix string `yaml:"subject_prefix" envconfig:"SUBJECT_PREFIX"`
	MaxRetries    int    `yaml:"max_retries" envconfig:"MAX_RETRIES"`
}

type JWTConfig struct {
	SigningKey string `yaml:"signing_key" envconfig:"SIGNING_KEY"`
}

type AdminConfig struct {
	KeyHashes      HashList      `yaml:"key_hashes" envconfig:"KEY_HASHES"`
	KeyFile        string        `yaml:"key_file" envconfig:"KEY_FILE"` // one hash per line, reloaded on change
	ReloadInterval time.Duration `yaml:"reload_interval" envconfig:"RELOAD_INTERVAL"`
}

// HashList is a list of encoded admin key hashes. Encoded Argon2 hashes
// contain commas, so the environment form is whitespace separated.
type HashList []string

func (h *HashList) Decode(value string) error {
	*h = strings.Fields(value)
	return nil
}

type WebhookConfig struct {
	Secret string `yaml:"secret" envconfig:"SECRET"` // empty disables the purchase webhook
}

type KeysConfig struct {
	Prefix string `yaml:"prefix" envconfig:"PREFIX"`
}

type AuditConfig struct {
	SpoolDir       string        `yaml:"spool_dir" envconfig:"SPOOL_DIR"`
	SpoolMaxMB     int64         `yaml:"spool_max_mb" envconfig:"SPOOL_MAX_MB"`
	ReplayInterval time.Duration `yaml:"replay_interval" envconfig:"REPLAY_INTERVAL"`
}

type Limit struct {
	Rate   int           `yaml:"rate" envconfig:"RATE"`
	Window time.Duration `yaml:"window" envconfig:"WINDOW"`
}

type RateLimitConfig struct {
	Salt       string `yaml:"salt" envconfig:"SALT"`
	PerIP      Limit  `yaml:"per_ip" envconfig:"PER_IP"`
	Activate   Limit  `yaml:"activate" envconfig:"ACTIVATE"`
	PerLicense Limit  `yaml:"per_license" envconfig:"PER_LICENSE"`
}

type CacheConfig struct {
	Size int           `yaml:"size" envconfig:"SIZE"`
	TTL  time.Duration `yaml:"ttl" envconfig:"TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // json or text
}

func Default() *Config {
	return &Config{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "license",
			Name:            "license",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		NATS:  NATSConfig{SubjectPrefix: "licenses", MaxRetries: 3},
		Admin: AdminConfig{ReloadInterval: time.Minute},
		Keys:  KeysConfig{Prefix: "WPL"},
		Audit: AuditConfig{
			SpoolDir:       "data/audit_spool",
			SpoolMaxMB:     64,
			ReplayInterval: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerIP:      Limit{Rate: 120, Window: time.Minute},
			Activate:   Limit{Rate: 10, Window: time.Minute},
			PerLicense: Limit{Rate: 30, Window: time.Hour},
		},
		Cache: CacheConfig{Size: 256, TTL: 5 * time.Minute},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads .env (if present), the YAML file named by LICENSE_CONFIG_FILE
// (default config/default.yaml, skipped if absent), then LICENSE_* variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv(EnvPrefix + "_CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	return LoadFile(path, explicit)
}

// LoadFile is Load without the .env step. A missing file is an error only
// when required is set.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Env = strings.ToLower(cfg.Env)
	if cfg.Env == EnvDevelopment && cfg.JWT.SigningKey == "" {
		cfg.JWT.SigningKey = devSigningKey
	}
	if cfg.Env == EnvProduction && cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Production() bool { return c.Env == EnvProduction }

func (c *Config) Validate() error {
	var errs []error

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.URL == "" && (c.Database.Host == "" || c.Database.Name == "") {
		errs = append(errs, errors.New("database url or host/name is required"))
	}
	if c.Keys.Prefix == "" {
		errs = append(errs, errors.New("keys.prefix is required"))
	}

	if c.Production() {
		if c.JWT.SigningKey == "" || c.JWT.SigningKey == devSigningKey {
			errs = append(errs, errors.New("jwt.signing_key is required in production"))
		} else if len(c.JWT.SigningKey) < 32 {
			errs = append(errs, errors.New("jwt.signing_key must be at least 32 bytes"))
		}
		if len(c.Admin.KeyHashes) == 0 && c.Admin.KeyFile == "" {
			errs = append(errs, errors.New("admin.key_hashes or admin.key_file is required in production"))
		}
		if c.RateLimit.Salt == "" && c.Redis.Addr != "" {
			errs = append(errs, errors.New("rate_limit.salt is required in production"))
		}
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
