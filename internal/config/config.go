package config

import (
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Clamd     ClamdConfig     `yaml:"clamd"`
	Scan      ScanConfig      `yaml:"scan"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ClamdConfig locates the scanning daemon. Address accepts tcp://host:port,
// unix:///path, or a bare host:port (treated as TCP).
type ClamdConfig struct {
	Address        string        `yaml:"address"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type ScanConfig struct {
	// MaxBodyBytes rejects larger uploads before any bytes reach clamd.
	// Zero means unlimited.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// VerdictCacheTTL is how long verdicts stay cached in Redis, keyed by
	// content digest.
	VerdictCacheTTL time.Duration `yaml:"verdict_cache_ttl"`
	// RequestsPerMinute caps scans per caller. Zero disables rate limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8220,
			ReadTimeout:      5 * time.Minute,
			WriteTimeout:     5 * time.Minute,
			IdleTimeout:      2 * time.Minute,
			GracefulShutdown: 30 * time.Second,
		},
		Clamd: ClamdConfig{
			Address:        "tcp://localhost:3310",
			DialTimeout:    5 * time.Second,
			CommandTimeout: 10 * time.Second,
		},
		Scan: ScanConfig{
			MaxBodyBytes:      512 << 20,
			VerdictCacheTTL:   15 * time.Minute,
			RequestsPerMinute: 120,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "clamgate",
			User:            "clamgate",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}
