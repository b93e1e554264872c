package dynamodel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvTableName        = "APPLICATION_TABLE_NAME"
	EnvEndpoint         = "ENDPOINT_URL"
	EnvRegion           = "AWS_REGION"
	EnvBatchConcurrency = "DYNAMODEL_BATCH_CONCURRENCY"
	EnvMaxAttempts      = "DYNAMODEL_MAX_ATTEMPTS"
)

// Config is the file or environment form of a table's settings.
type Config struct {
	TableName        string        `yaml:"table_name"`
	Region           string        `yaml:"region"`
	Endpoint         string        `yaml:"endpoint"`
	BatchWriteSize   int           `yaml:"batch_write_size"`
	BatchGetSize     int           `yaml:"batch_get_size"`
	MaxTransactItems int           `yaml:"max_transact_items"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
	PaginationTTL    time.Duration `yaml:"pagination_ttl"`
	Retry            RetryConfig   `yaml:"retry"`
}

// RetryConfig configures backoff for throttled requests.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// DefaultConfig returns the settings NewTable applies.
func DefaultConfig() *Config {
	retry := DefaultRetryOptions()
	return &Config{
		BatchWriteSize:   MaxBatchWriteSize,
		BatchGetSize:     MaxBatchGetSize,
		MaxTransactItems: DefaultMaxTransactItems,
		BatchConcurrency: 1,
		PaginationTTL:    24 * time.Hour,
		Retry: RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			MaxBackoff:  retry.MaxBackoff,
		},
	}
}

// LoadConfig loads configuration from a YAML file. Unset fields keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromEnv loads configuration from environment variables. A .env file
// in the working directory is loaded first when present; variables already
// set take precedence over it.
func ConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := DefaultConfig()
	cfg.TableName = os.Getenv(EnvTableName)
	cfg.Endpoint = os.Getenv(EnvEndpoint)
	cfg.Region = os.Getenv(EnvRegion)

	if v := os.Getenv(EnvBatchConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, validationErrorf("", "%s must be an integer: %v", EnvBatchConcurrency, err)
		}
		cfg.BatchConcurrency = n
	}
	if v := os.Getenv(EnvMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, validationErrorf("", "%s must be an integer: %v", EnvMaxAttempts, err)
		}
		cfg.Retry.MaxAttempts = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.TableName == "" {
		return validationErrorf("", "table name is required")
	}
	if c.BatchWriteSize < 0 || c.BatchWriteSize > MaxBatchWriteSize {
		return validationErrorf("", "batch write size must be between 1 and %d", MaxBatchWriteSize)
	}
	if c.BatchGetSize < 0 || c.BatchGetSize > MaxBatchGetSize {
		return validationErrorf("", "batch get size must be between 1 and %d", MaxBatchGetSize)
	}
	if c.BatchConcurrency < 0 {
		return validationErrorf("", "batch concurrency cannot be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return validationErrorf("", "max attempts cannot be negative")
	}
	return nil
}

// NewTable builds a table from the configuration.
func (c *Config) NewTable(logger *zap.Logger) *Table {
	t := NewTable(c.TableName)
	if c.BatchWriteSize > 0 {
		t.BatchWriteSize = c.BatchWriteSize
	}
	if c.BatchGetSize > 0 {
		t.BatchGetSize = c.BatchGetSize
	}
	if c.MaxTransactItems > 0 {
		t.MaxTransactItems = c.MaxTransactItems
	}
	if c.BatchConcurrency > 0 {
		t.BatchConcurrency = c.BatchConcurrency
	}
	if c.PaginationTTL > 0 {
		t.PaginationTTL = c.PaginationTTL
	}
	if c.Retry.MaxAttempts > 0 {
		t.Retry.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.MaxBackoff > 0 {
		t.Retry.MaxBackoff = c.Retry.MaxBackoff
	}
	if logger != nil {
		t.Logger = logger.With(zap.String("table", c.TableName))
	}
	return t
}

// NewClient creates a DynamoDB client from the default AWS configuration,
// overridden by the region and endpoint in cfg.
func NewClient(ctx context.Context, cfg *Config) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var ddbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, ddbOpts...), nil
}
