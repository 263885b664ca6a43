package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion pipeline.
type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Server    ServerConfig    `yaml:"server"`
}

// RedisConfig holds connection settings for the shared dedup store.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port address for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresConfig holds connection settings for the operational store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns a lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// WarehouseConfig holds connection settings for the analytical store.
// Driver selects the database/sql driver: "clickhouse" (default) or
// "snowflake".
type WarehouseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Snowflake only
	Account   string `yaml:"account"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
}

// DSN returns the driver-specific connection string.
func (c WarehouseConfig) DSN() string {
	if c.Driver == "snowflake" {
		dsn := fmt.Sprintf("%s:%s@%s/%s/%s", c.User, c.Password, c.Account, c.Database, c.Schema)
		if c.Warehouse != "" {
			dsn += "?warehouse=" + c.Warehouse
		}
		return dsn
	}
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// PipelineConfig holds directory layout and scan cadence settings.
type PipelineConfig struct {
	InputDir        string `yaml:"input_dir"`
	OutputDir       string `yaml:"output_dir"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
	DedupTTLHours   int    `yaml:"dedup_ttl_hours"`
}

// Interval returns the scan interval as a duration.
func (c PipelineConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LockTTL returns the per-job lock TTL as a duration.
func (c PipelineConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// DedupTTL returns the whole-file dedup retention as a duration.
func (c PipelineConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

// ServerConfig holds the optional status API settings. Port 0 disables
// the HTTP server.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Load reads and parses the configuration file, filling defaults for
// anything unset. A missing file yields a pure-defaults config.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Defaults suitable for local development
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "retail_db"
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = "retail_user"
	}
	if cfg.Postgres.Password == "" {
		cfg.Postgres.Password = "retail_password"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Warehouse.Driver == "" {
		cfg.Warehouse.Driver = "clickhouse"
	}
	if cfg.Warehouse.Host == "" {
		cfg.Warehouse.Host = "localhost"
	}
	if cfg.Warehouse.Port == 0 {
		cfg.Warehouse.Port = 9000
	}
	if cfg.Warehouse.Database == "" {
		cfg.Warehouse.Database = "retail_dw"
	}
	if cfg.Warehouse.User == "" {
		cfg.Warehouse.User = "default"
	}
	if cfg.Pipeline.InputDir == "" {
		cfg.Pipeline.InputDir = "/csv_input"
	}
	if cfg.Pipeline.OutputDir == "" {
		cfg.Pipeline.OutputDir = "/csv_output"
	}
	if cfg.Pipeline.IntervalSeconds == 0 {
		cfg.Pipeline.IntervalSeconds = 60
	}
	if cfg.Pipeline.LockTTLSeconds == 0 {
		cfg.Pipeline.LockTTLSeconds = 60
	}
	if cfg.Pipeline.DedupTTLHours == 0 {
		cfg.Pipeline.DedupTTLHours = 24
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so connection secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		cfg.Redis.Port = atoiDefault(v, cfg.Redis.Port)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		cfg.Postgres.Port = atoiDefault(v, cfg.Postgres.Port)
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("WAREHOUSE_DRIVER"); v != "" {
		cfg.Warehouse.Driver = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		cfg.Warehouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PORT"); v != "" {
		cfg.Warehouse.Port = atoiDefault(v, cfg.Warehouse.Port)
	}
	if v := os.Getenv("CLICKHOUSE_DB"); v != "" {
		cfg.Warehouse.Database = v
	}
	if v := os.Getenv("CLICKHOUSE_USER"); v != "" {
		cfg.Warehouse.User = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Warehouse.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Warehouse.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}
	if v := os.Getenv("SNOWFLAKE_WAREHOUSE"); v != "" {
		cfg.Warehouse.Warehouse = v
	}
	if v := os.Getenv("INPUT_DIR"); v != "" {
		cfg.Pipeline.InputDir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Pipeline.OutputDir = v
	}

	return cfg, nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
