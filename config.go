package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Supported catalog and ledger storage drivers.
const (
	StorageDriverRedis    = "redis"
	StorageDriverPostgres = "postgres"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit               string           `yaml:"git_commit" envconfig:"DLAP_GIT_COMMIT"`
	GitTag                  string           `yaml:"git_tag" envconfig:"DLAP_GIT_TAG"`
	BuildTime               string           `yaml:"build_time" envconfig:"DLAP_BUILD_TIME"`
	IsProduction            bool             `yaml:"is_production" envconfig:"DLAP_IS_PRODUCTION"`
	LogLevel                zapcore.Level    `yaml:"log_level" envconfig:"DLAP_LOG_LEVEL"`
	LogFolder               string           `yaml:"log_folder" envconfig:"DLAP_LOG_FOLDER"`
	LogMaxSize              int              `yaml:"log_max_size" envconfig:"DLAP_LOG_MAX_SIZE"`
	OpsEndpointsEnable      bool             `yaml:"ops_endpoints_enable" envconfig:"DLAP_OPS_ENDPOINTS_ENABLE"`
	ProfilerEndpointsEnable bool             `yaml:"profiler_endpoints_enable" envconfig:"DLAP_PROFILER_ENDPOINTS_ENABLE"`
	Server                  ServerConfig     `yaml:"server"`
	Storage                 StorageConfig    `yaml:"storage"`
	Redis                   RedisConfig      `yaml:"redis"`
	Postgres                PostgresConfig   `yaml:"postgres"`
	BoltDB                  BoltDBConfig     `yaml:"boltdb"`
	Auth                    AuthConfig       `yaml:"auth"`
	Pagination              PaginationConfig `yaml:"pagination"`
	Cache                   CacheConfig      `yaml:"cache"`
}

type ServerConfig struct {
	Host                    string        `yaml:"host" envconfig:"DLAP_SERVER_HOST"`
	Port                    string        `yaml:"port" envconfig:"DLAP_SERVER_PORT"`
	ReadTimeout             time.Duration `yaml:"read_timeout" envconfig:"DLAP_SERVER_READ_TIMEOUT"`
	WriteTimeout            time.Duration `yaml:"write_timeout" envconfig:"DLAP_SERVER_WRITE_TIMEOUT"`
	RequestTimeout          time.Duration `yaml:"request_timeout" envconfig:"DLAP_SERVER_REQUEST_TIMEOUT"` // Time to wait for a request to finish
	LongRequestWriteTimeout time.Duration `yaml:"long_request_write_timeout" envconfig:"DLAP_SERVER_LONG_REQUEST_WRITE_TIMEOUT"`
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout" envconfig:"DLAP_SERVER_SHUTDOWN_TIMEOUT"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"DLAP_STORAGE_DRIVER"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"DLAP_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"DLAP_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"DLAP_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"DLAP_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"DLAP_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"DLAP_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"DLAP_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"DLAP_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"DLAP_REDIS_PASSWORD" json:"-"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"DLAP_REDIS_DATABASE_INDEX"`
	TxMaxRetries  int           `yaml:"tx_max_retries" envconfig:"DLAP_REDIS_TX_MAX_RETRIES"`
}

type PostgresConfig struct {
	Host     string `yaml:"host" envconfig:"DLAP_POSTGRES_HOST"`
	Port     int    `yaml:"port" envconfig:"DLAP_POSTGRES_PORT"`
	User     string `yaml:"user" envconfig:"DLAP_POSTGRES_USER"`
	Password string `yaml:"password" envconfig:"DLAP_POSTGRES_PASSWORD" json:"-"`
	Database string `yaml:"database" envconfig:"DLAP_POSTGRES_DATABASE"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"DLAP_POSTGRES_SSL_MODE"`
	MaxConns int32  `yaml:"max_conns" envconfig:"DLAP_POSTGRES_MAX_CONNS"`
}

type BoltDBConfig struct {
	FilePath   string        `yaml:"filepath" envconfig:"DLAP_BOLTDB_FILE_PATH"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"DLAP_BOLTDB_TIMEOUT"`
	BucketName string        `yaml:"bucket_name" envconfig:"DLAP_BOLTDB_BUCKET_NAME"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret" envconfig:"DLAP_AUTH_SECRET" json:"-"`
	Issuer   string        `yaml:"issuer" envconfig:"DLAP_AUTH_ISSUER"`
	TokenTTL time.Duration `yaml:"token_ttl" envconfig:"DLAP_AUTH_TOKEN_TTL"`
}

type PaginationConfig struct {
	Page     int `yaml:"page" envconfig:"DLAP_PAGINATION_PAGE"`
	Limit    int `yaml:"limit" envconfig:"DLAP_PAGINATION_LIMIT"`
	MaxLimit int `yaml:"max_limit" envconfig:"DLAP_PAGINATION_MAX_LIMIT"`
}

type CacheConfig struct {
	Size int           `yaml:"size" envconfig:"DLAP_CACHE_SIZE"`
	TTL  time.Duration `yaml:"ttl" envconfig:"DLAP_CACHE_TTL"`
}

// DSN builds the postgres connection string.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.User, pc.Password, pc.Host, pc.Port, pc.Database, pc.SSLMode)
}

// MigrationURL builds the url expected by the pgx5 migrate driver.
func (pc *PostgresConfig) MigrationURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		pc.User, pc.Password, pc.Host, pc.Port, pc.Database, pc.SSLMode)
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	err = yd.Decode(cfg)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and provides an instance of the App config.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.Server.Host) == 0 || len(config.Server.Port) == 0 {
		return errors.New("make sure to set valid server address and port in configuration file")
	}

	if len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0 {
		return errors.New("make sure to set valid redis address and port in configuration file")
	}

	if len(config.Auth.Secret) == 0 {
		return errors.New("make sure to set the auth secret used to verify access tokens")
	}

	switch config.Storage.Driver {
	case "":
		config.Storage.Driver = StorageDriverRedis
	case StorageDriverRedis:
	case StorageDriverPostgres:
		if len(config.Postgres.Host) == 0 || config.Postgres.Port == 0 || len(config.Postgres.Database) == 0 {
			return errors.New("make sure to set valid postgres address, port and database in configuration file")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", config.Storage.Driver)
	}

	if config.Postgres.SSLMode == "" {
		config.Postgres.SSLMode = "disable"
	}
	if config.Redis.TxMaxRetries <= 0 {
		config.Redis.TxMaxRetries = 10
	}
	if config.LogMaxSize <= 0 {
		config.LogMaxSize = 100
	}
	if config.LogFolder == "" {
		config.LogFolder = "./logs"
	}
	if config.Auth.TokenTTL <= 0 {
		config.Auth.TokenTTL = 24 * time.Hour
	}
	if config.Pagination.Page <= 0 {
		config.Pagination.Page = 1
	}
	if config.Pagination.Limit <= 0 {
		config.Pagination.Limit = 10
	}
	if config.Pagination.MaxLimit < config.Pagination.Limit {
		config.Pagination.MaxLimit = 100
		if config.Pagination.MaxLimit < config.Pagination.Limit {
			config.Pagination.MaxLimit = config.Pagination.Limit
		}
	}
	if config.Cache.Size > 0 && config.Cache.TTL <= 0 {
		config.Cache.TTL = 5 * time.Minute
	}
	if config.BoltDB.BucketName == "" {
		config.BoltDB.BucketName = "journal"
	}

	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data.
func LoadAndInitConfigs(gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile("./config.yml")
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration.
	err = godotenv.Load("./config.env")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	// Use environment variables with prefix `DLAP`.
	err = LoadConfigEnvs("DLAP", config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
