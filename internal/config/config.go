// Package config loads the server configuration from TOML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration reads TOML strings such as "1s" or "2h"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Store      StoreConfig      `toml:"store"`
	Cache      CacheConfig      `toml:"cache"`
	Sweeper    SweeperConfig    `toml:"sweeper"`
	Auth       AuthConfig       `toml:"auth"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Events     EventsConfig     `toml:"events"`
	Settlement SettlementConfig `toml:"settlement"`
	Mail       MailConfig       `toml:"mail"`
	Users      []SeedUser       `toml:"users"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	BaseURL         string   `toml:"base_url"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type StoreConfig struct {
	Driver string `toml:"driver"` // memory or postgres
	DSN    string `toml:"dsn"`
}

type CacheConfig struct {
	Size int `toml:"size"` // zero disables the highest-bid cache
}

type SweeperConfig struct {
	Interval Duration `toml:"interval"`
}

type AuthConfig struct {
	JWTSecret  string   `toml:"jwt_secret"`
	TokenTTL   Duration `toml:"token_ttl"`
	AdminKey   string   `toml:"admin_key"`
	BcryptCost int      `toml:"bcrypt_cost"`
}

type DispatchConfig struct {
	Workers int      `toml:"workers"`
	Timeout Duration `toml:"timeout"`
}

type EventsConfig struct {
	Buffer    int      `toml:"buffer"`
	Heartbeat Duration `toml:"heartbeat"`
}

type SettlementConfig struct {
	Storage string   `toml:"storage"` // local or s3
	Dir     string   `toml:"dir"`
	S3      S3Config `toml:"s3"`
}

type S3Config struct {
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Prefix        string `toml:"prefix"`
	PublicBaseURL string `toml:"public_base_url"`
}

type MailConfig struct {
	SendGridKey string `toml:"sendgrid_key"`
	FromAddress string `toml:"from_address"`
	FromName    string `toml:"from_name"`
}

// SeedUser is a user registered at startup
type SeedUser struct {
	ID     string `toml:"id"`
	Handle string `toml:"handle"`
	Email  string `toml:"email"`
	PIN    string `toml:"pin"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Log:        LogConfig{Level: "info", Format: "json"},
		Store:      StoreConfig{Driver: "memory"},
		Cache:      CacheConfig{Size: 1024},
		Sweeper:    SweeperConfig{Interval: Duration{time.Second}},
		Auth:       AuthConfig{TokenTTL: Duration{2 * time.Hour}, BcryptCost: 10},
		Dispatch:   DispatchConfig{Workers: 8, Timeout: Duration{30 * time.Second}},
		Events:     EventsConfig{Buffer: 64, Heartbeat: Duration{15 * time.Second}},
		Settlement: SettlementConfig{Storage: "local", Dir: "./documents"},
		Mail:       MailConfig{FromAddress: "no-reply@auction-house.local", FromName: "Auction House"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if p := getenv("PORT"); p != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(p, ":")
	}
	if dsn := getenv("DATABASE_URL"); dsn != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.DSN = dsn
	}
	if s := getenv("JWT_SECRET"); s != "" {
		cfg.Auth.JWTSecret = s
	}
	if k := getenv("ADMIN_KEY"); k != "" {
		cfg.Auth.AdminKey = k
	}
	if k := getenv("SENDGRID_API_KEY"); k != "" {
		cfg.Mail.SendGridKey = k
	}
	if f := getenv("FROM_EMAIL"); f != "" {
		cfg.Mail.FromAddress = f
	}
	if l := getenv("LOG_LEVEL"); l != "" {
		cfg.Log.Level = l
	}
}

// Validate reports the first inconsistent setting
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	switch c.Settlement.Storage {
	case "local":
		if c.Settlement.Dir == "" {
			return errors.New("config: settlement.dir required for local storage")
		}
	case "s3":
		if c.Settlement.S3.Bucket == "" {
			return errors.New("config: settlement.s3.bucket required for s3 storage")
		}
	default:
		return fmt.Errorf("config: unknown settlement.storage %q", c.Settlement.Storage)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret (or JWT_SECRET) required")
	}
	for i, u := range c.Users {
		if u.Handle == "" || u.PIN == "" {
			return fmt.Errorf("config: users[%d] needs handle and pin", i)
		}
	}
	return nil
}
