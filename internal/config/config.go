// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Download DownloadConfig `mapstructure:"download"`
	Output   OutputConfig   `mapstructure:"output"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // minio, s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	MinIO     MinIOConfig `mapstructure:"minio"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// MinIOConfig holds MinIO (or any S3-compatible endpoint) configuration.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"` // host:port, without scheme
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// DownloadConfig holds download worker pool configuration.
type DownloadConfig struct {
	Workers         int           `mapstructure:"workers"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"`
}

// OutputConfig holds the local working tree and mosaic settings.
type OutputConfig struct {
	Root        string `mapstructure:"root"` // empty: fresh temporary directory
	MergeMethod string `mapstructure:"merge_method"`
	Compression string `mapstructure:"compression"` // deflate, none
}

// MetricsConfig holds Prometheus metrics export configuration.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Textfile  string `mapstructure:"textfile"` // node exporter textfile path
	PushURL   string `mapstructure:"push_url"` // Pushgateway URL
	PushJob   string `mapstructure:"push_job"`
}

// Enabled returns true if metrics are exported anywhere.
func (c *MetricsConfig) Enabled() bool {
	return c.Textfile != "" || c.PushURL != ""
}

// LedgerConfig holds run ledger configuration.
type LedgerConfig struct {
	Path string `mapstructure:"path"` // empty disables the ledger
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Storage defaults
	viper.SetDefault("storage.type", "minio")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.minio.use_ssl", true)
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Keys without a default are invisible to Unmarshal when set only
	// through the environment.
	for _, key := range []string{
		"storage.minio.endpoint", "storage.minio.bucket", "storage.minio.prefix", "storage.minio.region",
		"storage.minio.access_key", "storage.minio.secret_key",
		"storage.s3.bucket", "storage.s3.region", "storage.s3.prefix", "storage.s3.endpoint",
		"storage.s3.access_key_id", "storage.s3.secret_access_key",
		"storage.azure.container", "storage.azure.account_name", "storage.azure.account_key",
		"storage.azure.connection_string", "storage.azure.prefix",
		"storage.http.base_url", "storage.http.username", "storage.http.password",
		"metrics.textfile", "metrics.push_url", "ledger.path",
	} {
		viper.SetDefault(key, "")
	}

	// Download defaults
	viper.SetDefault("download.workers", 8)
	viper.SetDefault("download.retry_attempts", 3)
	viper.SetDefault("download.retry_backoff", 500*time.Millisecond)
	viper.SetDefault("download.retry_max_backoff", 10*time.Second)

	// Output defaults
	viper.SetDefault("output.root", "")
	viper.SetDefault("output.merge_method", "last")
	viper.SetDefault("output.compression", "deflate")

	// Metrics defaults
	viper.SetDefault("metrics.namespace", "tilemerge")
	viper.SetDefault("metrics.push_job", "tilemerge")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file and validates
// all of it.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Read loads configuration from environment and config file without
// validating it. Commands that only touch the run ledger use it together
// with ValidateLedger so they work without storage credentials.
func Read(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("TILEMERGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/tilemerge")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// ValidateLedger checks the sections needed to query the run ledger.
func (c *Config) ValidateLedger() error {
	if c.Ledger.Path == "" {
		return &domain.ConfigError{Field: "ledger.path", Message: "no run ledger configured"}
	}
	return c.validateLogging()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateJobSettings(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Type {
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			return &domain.ConfigError{Field: "storage.minio.endpoint", Message: "MinIO endpoint is required"}
		}
		if strings.Contains(c.Storage.MinIO.Endpoint, "://") {
			return &domain.ConfigError{Field: "storage.minio.endpoint", Message: "MinIO endpoint must not include a scheme"}
		}
		if c.Storage.MinIO.Bucket == "" {
			return &domain.ConfigError{Field: "storage.minio.bucket", Message: "MinIO bucket is required"}
		}
		if c.Storage.MinIO.AccessKey == "" || c.Storage.MinIO.SecretKey == "" {
			return &domain.ConfigError{Field: "storage.minio.access_key", Message: "MinIO access key and secret key are required"}
		}
	case "local":
		if c.Storage.LocalPath == "" {
			return &domain.ConfigError{Field: "storage.local_path", Message: "local storage path is required"}
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return &domain.ConfigError{Field: "storage.s3.bucket", Message: "S3 bucket is required"}
		}
		if c.Storage.S3.Region == "" {
			return &domain.ConfigError{Field: "storage.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return &domain.ConfigError{Field: "storage.azure.container", Message: "azure container is required"}
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "storage.azure.account_name", Message: "azure account name or connection string is required"}
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return &domain.ConfigError{Field: "storage.http.base_url", Message: "HTTP base URL is required"}
		}
	default:
		return &domain.ConfigError{Field: "storage.type", Message: fmt.Sprintf("unknown storage type: %s", c.Storage.Type)}
	}
	return nil
}

func (c *Config) validateJobSettings() error {
	if c.Download.Workers < 1 {
		return &domain.ConfigError{Field: "download.workers", Message: fmt.Sprintf("must be at least 1, got %d", c.Download.Workers)}
	}
	if c.Download.RetryAttempts < 1 {
		return &domain.ConfigError{Field: "download.retry_attempts", Message: fmt.Sprintf("must be at least 1, got %d", c.Download.RetryAttempts)}
	}
	if c.Download.RetryBackoff < 0 || c.Download.RetryMaxBackoff < 0 {
		return &domain.ConfigError{Field: "download.retry_backoff", Message: "backoff must not be negative"}
	}

	if _, err := domain.ParseMergeMethod(c.Output.MergeMethod); err != nil {
		return &domain.ConfigError{Field: "output.merge_method", Message: err.Error()}
	}
	switch c.Output.Compression {
	case "deflate", "zstd", "none":
	default:
		return &domain.ConfigError{Field: "output.compression", Message: fmt.Sprintf("unknown compression: %s", c.Output.Compression)}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "json", "text":
	default:
		return &domain.ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown log format: %s", c.Logging.Format)}
	}

	return nil
}
