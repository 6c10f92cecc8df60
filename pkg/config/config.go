package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Relational RelationalConfig
	Neo4j      Neo4jConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Breaker    BreakerConfig
	Retrieval  RetrievalConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type RelationalConfig struct {
	Driver            string
	DSN               string
	ConnectTimeoutSec int
	MaxOpenConns      int
	MaxIdleConns      int
}

type Neo4jConfig struct {
	Enabled           bool
	URI               string
	Username          string
	Password          string
	Database          string
	ConnectTimeoutSec int
	QueryTimeoutSec   int
}

type RedisConfig struct {
	Enabled          bool
	Host             string
	Port             int
	Password         string
	DB               int
	RouteCacheTTLSec int
}

type LLMConfig struct {
	Enabled     bool
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	AgentModels map[string]string
}

// BreakerConfig holds fast-fail windows per backing store, in seconds.
type BreakerConfig struct {
	DefaultTTLSec int
	SQLTTLSec     int
	GraphTTLSec   int
}

type RetrievalConfig struct {
	RowLimit           int
	EquityLookbackBars int
	EarningsEventLimit int
	EarningsFetchLimit int
	EarningsWindowDays int
	RealEstateRowLimit int
	MaxTablesPerLookup int
	GraphRowLimit      int
	RequestTimeoutSec  int
	ConcurrentDispatch bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c RetrievalConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// TTLs returns the breaker windows keyed by breaker key.
func (c BreakerConfig) TTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"sql":   time.Duration(c.SQLTTLSec) * time.Second,
		"graph": time.Duration(c.GraphTTLSec) * time.Second,
	}
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/market-retriever")

	v.SetEnvPrefix("MARKET_RETRIEVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects values the retrieval core cannot run with.
func (c *Config) Validate() error {
	switch c.Relational.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported relational driver: %q", c.Relational.Driver)
	}
	if c.Retrieval.RowLimit <= 0 {
		return fmt.Errorf("retrieval.rowLimit must be positive, got %d", c.Retrieval.RowLimit)
	}
	if c.Retrieval.RequestTimeoutSec <= 0 {
		return fmt.Errorf("retrieval.requestTimeoutSec must be positive, got %d", c.Retrieval.RequestTimeoutSec)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.readTimeout", 10)
	v.SetDefault("server.writeTimeout", 10)

	v.SetDefault("relational.driver", "sqlite3")
	v.SetDefault("relational.dsn", "./data/market.db")
	v.SetDefault("relational.connectTimeoutSec", 3)
	v.SetDefault("relational.maxOpenConns", 10)
	v.SetDefault("relational.maxIdleConns", 5)

	v.SetDefault("neo4j.enabled", true)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.connectTimeoutSec", 3)
	v.SetDefault("neo4j.queryTimeoutSec", 5)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.routeCacheTTLSec", 3600)

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 256)
	v.SetDefault("llm.timeoutSec", 15)

	v.SetDefault("breaker.defaultTTLSec", 20)
	v.SetDefault("breaker.sqlTTLSec", 20)
	v.SetDefault("breaker.graphTTLSec", 20)

	v.SetDefault("retrieval.rowLimit", 5)
	v.SetDefault("retrieval.equityLookbackBars", 260)
	v.SetDefault("retrieval.earningsEventLimit", 3)
	v.SetDefault("retrieval.earningsFetchLimit", 20)
	v.SetDefault("retrieval.earningsWindowDays", 730)
	v.SetDefault("retrieval.realEstateRowLimit", 240)
	v.SetDefault("retrieval.maxTablesPerLookup", 8)
	v.SetDefault("retrieval.graphRowLimit", 25)
	v.SetDefault("retrieval.requestTimeoutSec", 20)
	v.SetDefault("retrieval.concurrentDispatch", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stderr")
}
