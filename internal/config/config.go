package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigEnv - переменная окружения с путём к YAML-конфигу
const ConfigEnv = "WORLD_CONFIG"

// Config корневая структура конфигурации worldsync.
type Config struct {
	Sync      SyncConfig      `yaml:"sync"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SyncConfig - параметры протокола синхронизации
type SyncConfig struct {
	MaxRetries    int    `yaml:"max_retries"`
	SettleDelayMs int    `yaml:"settle_delay_ms"`
	PacingDelayMs int    `yaml:"pacing_delay_ms"`
	AckTimeoutMs  int    `yaml:"ack_timeout_ms"`
	Collection    string `yaml:"collection"`
	Concurrency   int    `yaml:"concurrency"`
}

func (s SyncConfig) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelayMs) * time.Millisecond
}

func (s SyncConfig) PacingDelay() time.Duration {
	return time.Duration(s.PacingDelayMs) * time.Millisecond
}

func (s SyncConfig) AckTimeout() time.Duration {
	return time.Duration(s.AckTimeoutMs) * time.Millisecond
}

// Бэкенды хранилища документов
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMongo  = "mongo"
	BackendMaria  = "maria"
	BackendPG     = "postgres"
	BackendSQLite = "sqlite"
)

// StoreConfig - хранилище документов миров
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`     // file, badger
	Compress bool   `yaml:"compress"` // file: .json.zst
	URI      string `yaml:"uri"`      // mongo
	Database string `yaml:"database"` // mongo
	DSN      string `yaml:"dsn"`      // maria, postgres, sqlite (по умолчанию <path>/worlds.db)
}

// CacheConfig - кеш документов поверх хранилища
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RedisURL   string `yaml:"redis_url"` // пусто - локальный кеш в памяти
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	NATSURL    string `yaml:"nats_url"` // рассылка инвалидаций между узлами
}

// SessionConfig - соединение с игровым сервером
type SessionConfig struct {
	Transport   string `yaml:"transport"` // ws | kcp
	URL         string `yaml:"url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	KeepAliveMs int    `yaml:"keepalive_ms"`
	Compression bool   `yaml:"compression"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто - шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults заполняет незаданные поля
func (c *Config) ApplyDefaults() {
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = 16
	}
	if c.Sync.SettleDelayMs <= 0 {
		c.Sync.SettleDelayMs = 1000
	}
	if c.Sync.PacingDelayMs <= 0 {
		c.Sync.PacingDelayMs = 10
	}
	if c.Sync.AckTimeoutMs <= 0 {
		c.Sync.AckTimeoutMs = 30000
	}
	if c.Sync.Collection == "" {
		c.Sync.Collection = "worlds"
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 4
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Path == "" {
		c.Store.Path = "data"
	}
	if c.Store.Database == "" {
		c.Store.Database = "worldsync"
	}
	if c.Store.Backend == BackendSQLite && c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(c.Store.Path, "worlds.db")
	}

	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 30
	}

	if c.Session.Transport == "" {
		c.Session.Transport = "ws"
	}
	if c.Session.TimeoutMs <= 0 {
		c.Session.TimeoutMs = 10000
	}
	if c.Session.KeepAliveMs <= 0 {
		c.Session.KeepAliveMs = 15000
	}

	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "WORLDSYNC"
	}
	if c.EventBus.Retention <= 0 {
		c.EventBus.Retention = 24
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "worldsync"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendBadger, BackendSQLite:
	case BackendMongo:
		if c.Store.URI == "" {
			return fmt.Errorf("store.uri обязателен для бэкенда %s", c.Store.Backend)
		}
	case BackendMaria, BackendPG:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn обязателен для бэкенда %s", c.Store.Backend)
		}
	default:
		return fmt.Errorf("неизвестный бэкенд хранилища %q", c.Store.Backend)
	}

	switch c.Session.Transport {
	case "ws", "websocket", "kcp":
	default:
		return fmt.Errorf("неизвестный транспорт %q", c.Session.Transport)
	}
	return nil
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "WORLD_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "WORLD_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации и применяет значения по умолчанию.
// Если path == "", берётся WORLD_CONFIG; без файла возвращаются значения по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigEnv)
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфига %s: %w", path, err)
	}
	return Parse(data)
}

// Parse разбирает YAML и применяет значения по умолчанию
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор конфига: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
