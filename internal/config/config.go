// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Invalid event policies applied by the aggregator's validation step
const (
	// InvalidEventsPropagate aggregates invalid events as they are
	InvalidEventsPropagate = "propagate"
	InvalidEventsSkip      = "skip"
	InvalidEventsFail      = "fail"
)

// Lease backends guarding aggregation runs
const (
	LeaseBackendDatabase = "database"
	LeaseBackendRedis    = "redis"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	Region      string   `mapstructure:"region"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Classification settings
	InternalIP       string `mapstructure:"internalip"`
	ClassifierCutoff string `mapstructure:"classifiercutoff"`

	// Aggregation settings
	DeleteBatchSize    int    `mapstructure:"deletebatchsize"`
	WriteBatchSize     int    `mapstructure:"writebatchsize"`
	WriteConcurrency   int    `mapstructure:"writeconcurrency"`
	InvalidEventPolicy string `mapstructure:"invalideventpolicy"`

	// Run lease settings
	LeaseBackend    string `mapstructure:"leasebackend"`
	LeaseTTLSeconds int    `mapstructure:"leasettlseconds"`
	RedisAddr       string `mapstructure:"redisaddr"`
	RedisPassword   string `mapstructure:"redispassword"`
	RedisDB         int    `mapstructure:"redisdb"`

	// Job scheduling settings
	JobsEnabled       bool   `mapstructure:"jobsenabled"`
	ClassifySchedule  string `mapstructure:"classifyschedule"`
	AggregateSchedule string `mapstructure:"aggregateschedule"`

	// Trigger endpoint protection (bcrypt hash of the bearer token, empty disables it)
	TriggerTokenHash string `mapstructure:"triggertokenhash"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		loaded, err := Load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	})
	return cfg
}

// Load builds a fresh configuration from defaults, the optional config file and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "viewrollup")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelInfo))
	v.SetDefault("region", "europe-west1")
	v.SetDefault("storagepath", "storage")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("internalip", "80.62.20.6")
	v.SetDefault("classifiercutoff", "2020-07-21T09:47:58.666Z")
	v.SetDefault("deletebatchsize", 50)
	v.SetDefault("writebatchsize", 100)
	v.SetDefault("writeconcurrency", 4)
	v.SetDefault("invalideventpolicy", InvalidEventsPropagate)
	v.SetDefault("leasebackend", LeaseBackendDatabase)
	v.SetDefault("leasettlseconds", 600)
	v.SetDefault("redisaddr", "localhost:6379")
	v.SetDefault("redisdb", 0)
	v.SetDefault("jobsenabled", false)
	v.SetDefault("classifyschedule", "*/5 * * * *")
	v.SetDefault("aggregateschedule", "15 0 * * *")

	v.BindEnv("appname", "VIEWROLLUP_APP_NAME")
	v.BindEnv("appport", "VIEWROLLUP_APP_PORT")
	v.BindEnv("environment", "VIEWROLLUP_ENV")
	v.BindEnv("loglevel", "VIEWROLLUP_LOG_LEVEL")
	v.BindEnv("region", "VIEWROLLUP_REGION")
	v.BindEnv("storagepath", "VIEWROLLUP_STORAGE_PATH")
	v.BindEnv("logsdir", "VIEWROLLUP_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "VIEWROLLUP_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "VIEWROLLUP_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "VIEWROLLUP_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("dbmaxopenconns", "VIEWROLLUP_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "VIEWROLLUP_DB_MAX_IDLE_CONNS")
	v.BindEnv("internalip", "VIEWROLLUP_INTERNAL_IP")
	v.BindEnv("classifiercutoff", "VIEWROLLUP_CLASSIFIER_CUTOFF")
	v.BindEnv("deletebatchsize", "VIEWROLLUP_DELETE_BATCH_SIZE")
	v.BindEnv("writebatchsize", "VIEWROLLUP_WRITE_BATCH_SIZE")
	v.BindEnv("writeconcurrency", "VIEWROLLUP_WRITE_CONCURRENCY")
	v.BindEnv("invalideventpolicy", "VIEWROLLUP_INVALID_EVENT_POLICY")
	v.BindEnv("leasebackend", "VIEWROLLUP_LEASE_BACKEND")
	v.BindEnv("leasettlseconds", "VIEWROLLUP_LEASE_TTL_SECONDS")
	v.BindEnv("redisaddr", "VIEWROLLUP_REDIS_ADDR")
	v.BindEnv("redispassword", "VIEWROLLUP_REDIS_PASSWORD")
	v.BindEnv("redisdb", "VIEWROLLUP_REDIS_DB")
	v.BindEnv("jobsenabled", "VIEWROLLUP_JOBS_ENABLED")
	v.BindEnv("classifyschedule", "VIEWROLLUP_CLASSIFY_SCHEDULE")
	v.BindEnv("aggregateschedule", "VIEWROLLUP_AGGREGATE_SCHEDULE")
	v.BindEnv("triggertokenhash", "VIEWROLLUP_TRIGGER_TOKEN_HASH")
	v.BindEnv("configfile", "VIEWROLLUP_CONFIG_FILE")

	if file := v.GetString("configfile"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.DatabaseName = c.GetDatabasePath()
	return c, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if net.ParseIP(c.InternalIP) == nil {
		return fmt.Errorf("invalid internal ip: %q", c.InternalIP)
	}
	if strings.TrimSpace(c.ClassifierCutoff) == "" {
		return fmt.Errorf("classifier cutoff is required")
	}

	if c.DeleteBatchSize <= 0 {
		return fmt.Errorf("delete batch size must be positive, got %d", c.DeleteBatchSize)
	}
	if c.WriteBatchSize <= 0 {
		return fmt.Errorf("write batch size must be positive, got %d", c.WriteBatchSize)
	}
	if c.WriteConcurrency <= 0 {
		return fmt.Errorf("write concurrency must be positive, got %d", c.WriteConcurrency)
	}

	switch c.InvalidEventPolicy {
	case InvalidEventsPropagate, InvalidEventsSkip, InvalidEventsFail:
	default:
		return fmt.Errorf("invalid event policy: %s", c.InvalidEventPolicy)
	}

	switch c.LeaseBackend {
	case LeaseBackendDatabase, LeaseBackendRedis:
	default:
		return fmt.Errorf("invalid lease backend: %s", c.LeaseBackend)
	}
	if c.LeaseTTLSeconds <= 0 {
		return fmt.Errorf("lease ttl must be positive, got %d", c.LeaseTTLSeconds)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the static assets directory (implements cartridge.Config interface).
// Nothing ships there; it only keeps cartridge's static handler off the
// working directory.
func (c *Config) GetPublicDirectory() string {
	return "public"
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return "/static"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret implements cartridge.FactoryConfig; the job endpoints are
// stateless, so there is no session.
func (c *Config) GetSessionSecret() string {
	return ""
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (room for the concurrent rollup writers)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
