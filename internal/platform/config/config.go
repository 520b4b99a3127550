package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full process configuration for the server and formctl.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	JWTSigningKey  string
	JWTIssuer      string
	RequestTimeout time.Duration
	TxTimeout      time.Duration
}

type DatabaseConfig struct {
	// URL empty means the in-memory stores are used.
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	// URL empty means the aggregate cache is disabled.
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	FormTTL      time.Duration
}

type KafkaConfig struct {
	// Brokers empty means the audit relay is disabled.
	Brokers      []string
	Topic        string
	ClientID     string
	Partitions   int32
	Replicas     int16
	PollInterval time.Duration
	BatchSize    int
}

// RateLimitConfig caps form writes per user. Writes of 0 disables the limit.
type RateLimitConfig struct {
	Writes int
	Window time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Default returns development defaults.
func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":8080",
			JWTSigningKey:  "dev-secret-key-change-in-production",
			JWTIssuer:      "baobab",
			RequestTimeout: 30 * time.Second,
			TxTimeout:      5 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			FormTTL:      5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic:        "baobab.application-form.audit",
			ClientID:     "baobab",
			Partitions:   3,
			Replicas:     1,
			PollInterval: time.Second,
			BatchSize:    100,
		},
		RateLimit: RateLimitConfig{Writes: 30, Window: time.Minute},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config from defaults, then the TOML file named by
// BAOBAB_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("BAOBAB_CONFIG"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Load without a config file, for callers that only use env vars.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type fileConfig struct {
	Server struct {
		Addr           string `toml:"addr"`
		JWTSigningKey  string `toml:"jwt_signing_key"`
		JWTIssuer      string `toml:"jwt_issuer"`
		RequestTimeout string `toml:"request_timeout"`
		TxTimeout      string `toml:"tx_timeout"`
	} `toml:"server"`
	Database struct {
		URL             string `toml:"url"`
		MaxOpenConns    int    `toml:"max_open_conns"`
		MaxIdleConns    int    `toml:"max_idle_conns"`
		ConnMaxLifetime string `toml:"conn_max_lifetime"`
	} `toml:"database"`
	Redis struct {
		URL      string `toml:"url"`
		PoolSize int    `toml:"pool_size"`
		FormTTL  string `toml:"form_ttl"`
	} `toml:"redis"`
	Kafka struct {
		Brokers      []string `toml:"brokers"`
		Topic        string   `toml:"topic"`
		ClientID     string   `toml:"client_id"`
		Partitions   int32    `toml:"partitions"`
		Replicas     int16    `toml:"replicas"`
		PollInterval string   `toml:"poll_interval"`
		BatchSize    int      `toml:"batch_size"`
	} `toml:"kafka"`
	RateLimit struct {
		Writes int    `toml:"writes"`
		Window string `toml:"window"`
	} `toml:"rate_limit"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// LoadFile overlays the keys defined in the TOML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %s", path, undecoded[0].String())
	}

	setString := func(key, v string, dst *string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*dst = strings.TrimSpace(v)
		}
	}
	setDuration := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(strings.Split(key, ".")...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString("server.addr", raw.Server.Addr, &cfg.Server.Addr)
	setString("server.jwt_signing_key", raw.Server.JWTSigningKey, &cfg.Server.JWTSigningKey)
	setString("server.jwt_issuer", raw.Server.JWTIssuer, &cfg.Server.JWTIssuer)
	setString("database.url", raw.Database.URL, &cfg.Database.URL)
	setString("redis.url", raw.Redis.URL, &cfg.Redis.URL)
	setString("kafka.topic", raw.Kafka.Topic, &cfg.Kafka.Topic)
	setString("kafka.client_id", raw.Kafka.ClientID, &cfg.Kafka.ClientID)
	setString("log.level", raw.Log.Level, &cfg.Log.Level)
	setString("log.format", raw.Log.Format, &cfg.Log.Format)

	for key, pair := range map[string]struct {
		v   string
		dst *time.Duration
	}{
		"server.request_timeout":     {raw.Server.RequestTimeout, &cfg.Server.RequestTimeout},
		"server.tx_timeout":          {raw.Server.TxTimeout, &cfg.Server.TxTimeout},
		"database.conn_max_lifetime": {raw.Database.ConnMaxLifetime, &cfg.Database.ConnMaxLifetime},
		"redis.form_ttl":             {raw.Redis.FormTTL, &cfg.Redis.FormTTL},
		"kafka.poll_interval":        {raw.Kafka.PollInterval, &cfg.Kafka.PollInterval},
		"rate_limit.window":          {raw.RateLimit.Window, &cfg.RateLimit.Window},
	} {
		if err := setDuration(key, pair.v, pair.dst); err != nil {
			return err
		}
	}

	if meta.IsDefined("database", "max_open_conns") {
		cfg.Database.MaxOpenConns = raw.Database.MaxOpenConns
	}
	if meta.IsDefined("database", "max_idle_conns") {
		cfg.Database.MaxIdleConns = raw.Database.MaxIdleConns
	}
	if meta.IsDefined("redis", "pool_size") {
		cfg.Redis.PoolSize = raw.Redis.PoolSize
	}
	if meta.IsDefined("kafka", "brokers") {
		cfg.Kafka.Brokers = normalizeList(raw.Kafka.Brokers)
	}
	if meta.IsDefined("kafka", "partitions") {
		cfg.Kafka.Partitions = raw.Kafka.Partitions
	}
	if meta.IsDefined("kafka", "replicas") {
		cfg.Kafka.Replicas = raw.Kafka.Replicas
	}
	if meta.IsDefined("kafka", "batch_size") {
		cfg.Kafka.BatchSize = raw.Kafka.BatchSize
	}
	if meta.IsDefined("rate_limit", "writes") {
		cfg.RateLimit.Writes = raw.RateLimit.Writes
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("BAOBAB_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := getenv("JWT_SIGNING_KEY"); v != "" {
		cfg.Server.JWTSigningKey = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = normalizeList(strings.Split(v, ","))
	}
	if v := getenv("KAFKA_AUDIT_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("TX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse TX_TIMEOUT: %w", err)
		}
		cfg.Server.TxTimeout = d
	}
	if v := getenv("RATE_LIMIT_WRITES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RATE_LIMIT_WRITES: %w", err)
		}
		cfg.RateLimit.Writes = n
	}
	if v := getenv("DB_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DB_MAX_OPEN_CONNS: %w", err)
		}
		cfg.Database.MaxOpenConns = n
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
