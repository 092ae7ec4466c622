package config

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zzenonn/zfetch/internal/fetcher"
	"github.com/zzenonn/zfetch/internal/repository/objectstore"
)

// BucketConfig represents a block storage bucket configuration
type BucketConfig struct {
	BucketName string `yaml:"bucket_name"`
	Platform   string `yaml:"platform"`
}

// FetchConfig holds the limits and tuning of a splitfile fetch
type FetchConfig struct {
	MaxOutputLength          int64  `yaml:"max_output_length"`
	MaxTempLength            int64  `yaml:"max_temp_length"`
	MaxDataBlocksPerSegment  int    `yaml:"max_data_blocks_per_segment"`
	MaxCheckBlocksPerSegment int    `yaml:"max_check_blocks_per_segment"`
	Persistent               bool   `yaml:"persistent"`
	TempDir                  string `yaml:"temp_dir"`
	Workers                  int    `yaml:"workers"`
	MaxRetries               int    `yaml:"max_retries"`
	// BlockCache is a badger directory for fetched blocks. Empty keeps them in memory.
	BlockCache string `yaml:"block_cache"`
}

// InsertConfig holds the segmentation and compression used when inserting
type InsertConfig struct {
	BlocksPerSegment      int      `yaml:"blocks_per_segment"`
	CheckBlocksPerSegment int      `yaml:"check_blocks_per_segment"`
	Compression           []string `yaml:"compression"`
}

// Config holds the application configuration
type Config struct {
	LogLevel string `yaml:"log_level"`
	// AwsConfig: AWS SDK uses a shared configuration object that contains
	// credentials, region, retry policies, etc. S3 and DynamoDB clients are
	// created from this single config.
	AwsConfig aws.Config
	// GcsClient: Google Cloud SDK clients configure themselves from the
	// environment, service account files, or the metadata service.
	GcsClient     *storage.Client
	DynamoDBTable string                  `yaml:"dynamodb_table"`
	Buckets       map[string]BucketConfig `yaml:"buckets"`
	Fetch         FetchConfig             `yaml:"fetch"`
	Insert        InsertConfig            `yaml:"insert"`
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	buckets, err := parseBuckets()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:      viper.GetString("log_level"),
		DynamoDBTable: viper.GetString("dynamodb_table"),
		Buckets:       buckets,
		Fetch:         parseFetch(),
		Insert:        parseInsert(),
	}

	if needsPlatform(buckets, "s3") || cfg.DynamoDBTable != "" {
		awsConfig, err := loadAWSConfig()
		if err != nil {
			return nil, err
		}
		cfg.AwsConfig = awsConfig
	}

	if needsPlatform(buckets, "gcs") {
		gcsClient, err := loadGCSClient()
		if err != nil {
			return nil, err
		}
		cfg.GcsClient = gcsClient
	}

	return cfg, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if rootCmd != nil {
		if err := bindFlags(rootCmd.PersistentFlags()); err != nil {
			return err
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// bindFlags binds every flag to the key of the same name with dashes
// replaced by underscores, so --log-level sets log_level.
func bindFlags(flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := viper.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// BindFlag binds a command flag to a nested configuration key such as fetch.temp_dir
func BindFlag(key string, cmd *cobra.Command, name string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
	}
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("dynamodb_table", "splitfile_manifests")
	viper.SetDefault("buckets", map[string]interface{}{
		"default-bucket": map[string]interface{}{
			"bucket_name": "default-bucket",
			"platform":    "s3",
		},
	})

	viper.SetDefault("fetch.max_output_length", int64(1)<<32)
	viper.SetDefault("fetch.max_temp_length", int64(1)<<32)
	viper.SetDefault("fetch.max_data_blocks_per_segment", 256)
	viper.SetDefault("fetch.max_check_blocks_per_segment", 256)
	viper.SetDefault("fetch.persistent", false)
	viper.SetDefault("fetch.temp_dir", "")
	viper.SetDefault("fetch.workers", 16)
	viper.SetDefault("fetch.max_retries", 2)
	viper.SetDefault("fetch.block_cache", "")

	viper.SetDefault("insert.blocks_per_segment", 128)
	viper.SetDefault("insert.check_blocks_per_segment", 128)
	viper.SetDefault("insert.compression", []string{"gzip"})
}

// loadAWSConfig loads AWS SDK configuration
func loadAWSConfig() (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %v", err)
	}
	return cfg, nil
}

// loadGCSClient loads Google Cloud Storage client
func loadGCSClient() (*storage.Client, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("unable to create GCS client: %v", err)
	}
	return client, nil
}

// parseBuckets parses bucket configuration from Viper. Buckets given as URLs
// (s3://name, gs://name, mem://name) replace the configured map.
func parseBuckets() (map[string]BucketConfig, error) {
	bucketsMap := make(map[string]BucketConfig)

	if urls := viper.GetStringSlice("bucket"); len(urls) > 0 {
		for _, u := range urls {
			bc, err := objectstore.ParseBucketConfig(u)
			if err != nil {
				return nil, fmt.Errorf("invalid bucket %q: %w", u, err)
			}
			bucketsMap[bc.Name] = BucketConfig{BucketName: bc.Name, Platform: string(bc.Type)}
		}
		return bucketsMap, nil
	}

	bucketsRaw := viper.GetStringMap("buckets")

	for key, value := range bucketsRaw {
		if bucketMap, ok := value.(map[string]interface{}); ok {
			bucketsMap[key] = BucketConfig{
				BucketName: getString(bucketMap, "bucket_name", key),
				Platform:   getString(bucketMap, "platform", "s3"),
			}
		}
	}

	return bucketsMap, nil
}

func parseFetch() FetchConfig {
	return FetchConfig{
		MaxOutputLength:          viper.GetInt64("fetch.max_output_length"),
		MaxTempLength:            viper.GetInt64("fetch.max_temp_length"),
		MaxDataBlocksPerSegment:  viper.GetInt("fetch.max_data_blocks_per_segment"),
		MaxCheckBlocksPerSegment: viper.GetInt("fetch.max_check_blocks_per_segment"),
		Persistent:               viper.GetBool("fetch.persistent"),
		TempDir:                  viper.GetString("fetch.temp_dir"),
		Workers:                  viper.GetInt("fetch.workers"),
		MaxRetries:               viper.GetInt("fetch.max_retries"),
		BlockCache:               viper.GetString("fetch.block_cache"),
	}
}

// FetchLimits returns the limits a fetch job enforces
func (c *Config) FetchLimits() fetcher.Limits {
	return fetcher.Limits{
		MaxOutputLength:          c.Fetch.MaxOutputLength,
		MaxTempLength:            c.Fetch.MaxTempLength,
		MaxDataBlocksPerSegment:  c.Fetch.MaxDataBlocksPerSegment,
		MaxCheckBlocksPerSegment: c.Fetch.MaxCheckBlocksPerSegment,
	}
}

func parseInsert() InsertConfig {
	return InsertConfig{
		BlocksPerSegment:      viper.GetInt("insert.blocks_per_segment"),
		CheckBlocksPerSegment: viper.GetInt("insert.check_blocks_per_segment"),
		Compression:           viper.GetStringSlice("insert.compression"),
	}
}

// needsPlatform reports whether any bucket is hosted on platform
func needsPlatform(buckets map[string]BucketConfig, platform string) bool {
	for _, b := range buckets {
		if b.Platform == platform {
			return true
		}
	}
	return false
}

// getString safely extracts string value from map with default
func getString(m map[string]interface{}, key, defaultValue string) string {
	if value, exists := m[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}
