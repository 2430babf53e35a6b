package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "WARDEN_"

// Config is the full runtime configuration. Values come from Default, then an
// optional YAML file, then WARDEN_* environment variables.
type Config struct {
	Log         Log         `yaml:"log" envPrefix:"LOG_"`
	HTTP        HTTP        `yaml:"http" envPrefix:"HTTP_"`
	Storage     Storage     `yaml:"storage" envPrefix:"STORAGE_"`
	Fetchers    Fetchers    `yaml:"fetchers" envPrefix:"FETCHERS_"`
	Enforcement Enforcement `yaml:"enforcement" envPrefix:"ENFORCEMENT_"`
	Cache       Cache       `yaml:"cache" envPrefix:"CACHE_"`
	Events      Events      `yaml:"events" envPrefix:"EVENTS_"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// HTTP captures the admin API listener.
type HTTP struct {
	Addr        string `yaml:"addr" env:"ADDR"`
	AdminJWTKey string `yaml:"admin_jwt_key" env:"ADMIN_JWT_KEY"`
}

// Storage selects the relational backend and its pool bounds.
type Storage struct {
	Driver         string `yaml:"driver" env:"DRIVER"`
	DSN            string `yaml:"dsn" env:"DSN"`
	MinConnections int    `yaml:"min_connections" env:"MIN_CONNECTIONS"`
	MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	TablePrefix    string `yaml:"table_prefix" env:"TABLE_PREFIX"`
}

// Fetchers toggles the lookup sources of the resolver's fallback chains.
type Fetchers struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Names   NameFetchers  `yaml:"names" envPrefix:"NAMES_"`
	Geo     GeoFetchers   `yaml:"geo" envPrefix:"GEO_"`
}

type NameFetchers struct {
	Internal         bool   `yaml:"internal" env:"INTERNAL"`
	Ashcon           bool   `yaml:"ashcon" env:"ASHCON"`
	AshconURL        string `yaml:"ashcon_url" env:"ASHCON_URL"`
	Mojang           bool   `yaml:"mojang" env:"MOJANG"`
	MojangURL        string `yaml:"mojang_url" env:"MOJANG_URL"`
	MojangSessionURL string `yaml:"mojang_session_url" env:"MOJANG_SESSION_URL"`
}

type GeoFetchers struct {
	IPStack      IPStack `yaml:"ipstack" envPrefix:"IPSTACK_"`
	FreeGeoIP    bool    `yaml:"freegeoip" env:"FREEGEOIP"`
	FreeGeoIPURL string  `yaml:"freegeoip_url" env:"FREEGEOIP_URL"`
	IPAPI        bool    `yaml:"ipapi" env:"IPAPI"`
	IPAPIURL     string  `yaml:"ipapi_url" env:"IPAPI_URL"`
}

type IPStack struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Key     string `yaml:"key" env:"KEY"`
	URL     string `yaml:"url" env:"URL"`
}

type Enforcement struct {
	Strictness   string   `yaml:"strictness" env:"STRICTNESS"`
	MuteCommands []string `yaml:"mute_commands" env:"MUTE_COMMANDS"`
}

type Cache struct {
	GeoTTL          time.Duration `yaml:"geo_ttl" env:"GEO_TTL"`
	MuteNegativeTTL time.Duration `yaml:"mute_negative_ttl" env:"MUTE_NEGATIVE_TTL"`
	Redis           RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig configures the optional shared cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url" env:"URL"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type Events struct {
	Kafka Kafka `yaml:"kafka" envPrefix:"KAFKA_"`
}

// Kafka configures lifecycle notification publishing. No brokers disables it.
type Kafka struct {
	Brokers []string `yaml:"brokers" env:"BROKERS"`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

var (
	storageDrivers = []string{"pgx", "postgres", "sqlite"}
	strictness     = []string{"lenient", "normal", "strict"}
)

// Default returns a configuration suitable for a single local instance.
func Default() Config {
	return Config{
		Log:  Log{Level: "info", Format: "text"},
		HTTP: HTTP{Addr: ":8080"},
		Storage: Storage{
			Driver:         "sqlite",
			DSN:            "file:warden.db",
			MinConnections: 1,
			MaxConnections: 6,
		},
		Fetchers: Fetchers{
			Timeout: 5 * time.Second,
			Names: NameFetchers{
				Internal:         true,
				Ashcon:           true,
				AshconURL:        "https://api.ashcon.app/mojang/v2/user",
				Mojang:           true,
				MojangURL:        "https://api.mojang.com/users/profiles/minecraft",
				MojangSessionURL: "https://sessionserver.mojang.com/session/minecraft/profile",
			},
			Geo: GeoFetchers{
				IPStack:      IPStack{URL: "http://api.ipstack.com"},
				FreeGeoIP:    true,
				FreeGeoIPURL: "https://freegeoip.app/json",
				IPAPI:        true,
				IPAPIURL:     "http://ip-api.com/json",
			},
		},
		Enforcement: Enforcement{
			Strictness:   "normal",
			MuteCommands: []string{"me", "say", "msg", "tell", "whisper", "w", "r", "reply", "mail send"},
		},
		Cache: Cache{
			GeoTTL:          24 * time.Hour,
			MuteNegativeTTL: 20 * time.Second,
			Redis: RedisConfig{
				PoolSize:     10,
				MinIdleConns: 2,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Events: Events{Kafka: Kafka{Topic: "warden.punishments"}},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(storageDrivers, strings.ToLower(c.Storage.Driver)) {
		errs = append(errs, fmt.Errorf("storage.driver %q must be one of %s", c.Storage.Driver, strings.Join(storageDrivers, ", ")))
	}
	if c.Storage.MinConnections < 0 || c.Storage.MaxConnections < 1 {
		errs = append(errs, errors.New("storage connection bounds must be positive"))
	}
	if c.Storage.MinConnections > c.Storage.MaxConnections {
		errs = append(errs, fmt.Errorf("storage.min_connections (%d) exceeds storage.max_connections (%d)",
			c.Storage.MinConnections, c.Storage.MaxConnections))
	}
	if !slices.Contains(strictness, strings.ToLower(c.Enforcement.Strictness)) {
		errs = append(errs, fmt.Errorf("enforcement.strictness %q must be one of %s", c.Enforcement.Strictness, strings.Join(strictness, ", ")))
	}
	if c.Fetchers.Geo.IPStack.Enabled && c.Fetchers.Geo.IPStack.Key == "" {
		errs = append(errs, errors.New("fetchers.geo.ipstack.key is required when ipstack is enabled"))
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		errs = append(errs, errors.New("events.kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}
