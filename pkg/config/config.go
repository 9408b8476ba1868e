package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Solver    SolverConfig
	Consensus ConsensusConfig
	Issues    IssuesConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// SolverConfig points at the remote model-computation service.
type SolverConfig struct {
	BaseURL          string
	TimeoutSec       int
	MaxAttempts      int
	FailureThreshold int
	OpenTimeoutSec   int
	CacheTTLSec      int
}

type ConsensusConfig struct {
	// DefaultThreshold is sent to consensus models run as scenarios on issues
	// that were created without a threshold.
	DefaultThreshold float64
}

type IssuesConfig struct {
	DefaultDomainName string
	CatalogPath       string
	AutoCloseSpec     string
	AutoCloseEnabled  bool
	LockTTLSec        int
	CollationLocale   string
}

type NotifyConfig struct {
	MailFrom  string
	HubBuffer int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/decisionhub")

	v.SetEnvPrefix("DECISIONHUB")
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

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:5173"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/decisionhub.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("solver.baseURL", "http://localhost:7000")
	v.SetDefault("solver.timeoutSec", 60)
	v.SetDefault("solver.maxAttempts", 1)
	v.SetDefault("solver.failureThreshold", 5)
	v.SetDefault("solver.openTimeoutSec", 30)
	v.SetDefault("solver.cacheTTLSec", 3600)

	v.SetDefault("consensus.defaultThreshold", 0.8)

	v.SetDefault("issues.defaultDomainName", "Numeric 0-1")
	v.SetDefault("issues.catalogPath", "")
	v.SetDefault("issues.autoCloseSpec", "0 0 * * *")
	v.SetDefault("issues.autoCloseEnabled", true)
	v.SetDefault("issues.lockTTLSec", 120)
	v.SetDefault("issues.collationLocale", "es")

	v.SetDefault("notify.mailFrom", "noreply@decisionhub.local")
	v.SetDefault("notify.hubBuffer", 32)

	v.SetDefault("rateLimit.maxRequestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
