package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"

	LockBackendEtcd  = "etcd"
	LockBackendRedis = "redis"
	LockBackendLocal = "local"

	envPrefix = "VOTE"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	ETCD     ETCDConfig     `mapstructure:"etcd"`
	Lock     LockConfig     `mapstructure:"lock"`
	Ticket   TicketConfig   `mapstructure:"ticket"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Results  ResultsConfig  `mapstructure:"results"`
	GraphQL  GraphQLConfig  `mapstructure:"graphql"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	StaticDir      string        `mapstructure:"static_dir"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Master       string `mapstructure:"master"`
	Replica      string `mapstructure:"replica"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// data node: results cache and admin sessions
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// independent nodes used by Redlock
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type ETCDConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type LockConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	RetryCount int           `mapstructure:"retry_count"`
}

type TicketConfig struct {
	CodeLength       int `mapstructure:"code_length"`
	MaxGenerate      int `mapstructure:"max_generate"`
	CollisionRetries int `mapstructure:"collision_retries"`
}

type AdminConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

type ResultsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

var AppConfig Config

// setDefaults registers every key so that AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5004)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.request_timeout", 10*time.Second)

	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.master", "")
	v.SetDefault("database.replica", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.data_address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.timeout", 2*time.Second)
	v.SetDefault("redis.lock_addresses", []string{})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "contestvote-events")
	v.SetDefault("kafka.group_id", "contestvote")

	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	v.SetDefault("lock.backend", LockBackendLocal)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_count", 3)

	v.SetDefault("ticket.code_length", 8)
	v.SetDefault("ticket.max_generate", 10000)
	v.SetDefault("ticket.collision_retries", 10)

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.session_ttl", 8*time.Hour)
	v.SetDefault("admin.cookie_name", "admin_session")
	v.SetDefault("admin.secure_cookie", false)

	v.SetDefault("results.cache_ttl", 2*time.Second)
	v.SetDefault("graphql.path", "/graphql")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
}

// LoadConfig loads the configuration file, applies VOTE_* environment
// overrides and validates the result. A missing file is allowed when path is
// empty.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &AppConfig, nil
}

// Normalize validates the configuration and rewrites MySQL DSNs so that
// timestamps scan into time.Time in UTC.
func (c *Config) Normalize() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Database.Driver == DriverMySQL {
		master, err := normalizeMySQLDSN(c.Database.Master)
		if err != nil {
			return fmt.Errorf("invalid database.master: %w", err)
		}
		c.Database.Master = master

		if c.Database.Replica != "" {
			replica, err := normalizeMySQLDSN(c.Database.Replica)
			if err != nil {
				return fmt.Errorf("invalid database.replica: %w", err)
			}
			c.Database.Replica = replica
		}
	}

	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.Master == "" {
		return errors.New("database.master is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}

	switch c.Lock.Backend {
	case LockBackendLocal, LockBackendEtcd:
	case LockBackendRedis:
		if len(c.Redis.LockAddresses) == 0 {
			return errors.New("lock.backend redis needs redis.lock_addresses")
		}
	default:
		return fmt.Errorf("unsupported lock.backend %q", c.Lock.Backend)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	if c.Ticket.CodeLength < 4 || c.Ticket.CodeLength > 20 {
		return fmt.Errorf("ticket.code_length must be within 4..20, got %d", c.Ticket.CodeLength)
	}
	if c.Ticket.MaxGenerate <= 0 {
		return errors.New("ticket.max_generate must be positive")
	}
	if c.Ticket.CollisionRetries <= 0 {
		return errors.New("ticket.collision_retries must be positive")
	}

	if c.Admin.Username == "" {
		return errors.New("admin.username is required")
	}
	if c.Admin.SessionTTL <= 0 {
		return errors.New("admin.session_ttl must be positive")
	}

	return nil
}

func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}
