package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Milvus     MilvusConfig
	Neo4j      Neo4jConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Search     SearchConfig
	Intent     IntentConfig
	Semantic   SemanticConfig
	Diagnostic DiagnosticConfig
	Platform   PlatformConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	EmbeddingModel string
	EmbeddingDim   int
}

type SearchConfig struct {
	Enabled    bool
	SerpAPIKey string
	MaxResults int
	TimeoutSec int
}

type IntentConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

type SemanticConfig struct {
	SyncInterval  time.Duration
	MinSimilarity float64
	SearchLimit   int
	EmbeddingTTL  time.Duration
}

type DiagnosticConfig struct {
	EventLookbackHours  int
	RapidChangeCount    int
	RapidChangeWindow   time.Duration
	BranchTimeout       time.Duration
	AutomationThreshold float64
	SimilarDeviceLimit  int
}

// PlatformConfig points at the device platform bridge (SmartThings-compatible
// REST surface) the agent gathers evidence from.
type PlatformConfig struct {
	BaseURL    string
	Token      string
	LocationID string
	TimeoutSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/smarthome-agent")

	viper.SetEnvPrefix("SMARTHOME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "devices")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("sqlite.path", "./data/agent.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.maxResults", 3)
	viper.SetDefault("search.timeoutSec", 10)

	viper.SetDefault("intent.cacheSize", 500)
	viper.SetDefault("intent.cacheTTL", 30*time.Minute)

	viper.SetDefault("semantic.syncInterval", 5*time.Minute)
	viper.SetDefault("semantic.minSimilarity", 0.3)
	viper.SetDefault("semantic.searchLimit", 10)
	viper.SetDefault("semantic.embeddingTTL", 24*time.Hour)

	viper.SetDefault("diagnostic.eventLookbackHours", 24)
	viper.SetDefault("diagnostic.rapidChangeCount", 6)
	viper.SetDefault("diagnostic.rapidChangeWindow", 5*time.Minute)
	viper.SetDefault("diagnostic.branchTimeout", 5*time.Second)
	viper.SetDefault("diagnostic.automationThreshold", 0.5)
	viper.SetDefault("diagnostic.similarDeviceLimit", 5)

	viper.SetDefault("platform.baseURL", "https://api.smartthings.com/v1")
	viper.SetDefault("platform.timeoutSec", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
