package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zfetch/internal/config"
	"github.com/zzenonn/zfetch/internal/logging"
	"github.com/zzenonn/zfetch/internal/placement"
	"github.com/zzenonn/zfetch/internal/repository/db"
	"github.com/zzenonn/zfetch/internal/repository/objectstore"
	"github.com/zzenonn/zfetch/internal/service"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "zfetch",
	Short: "Store files as erasure-coded splitfiles and fetch them back",
	Long: "zfetch splits files into content-addressed blocks with Reed-Solomon check blocks, " +
		"spreads them over S3 and GCS buckets and reconstructs them from any sufficient subset.",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("dynamodb-table", "", "DynamoDB table holding manifests; empty disables it")
	rootCmd.PersistentFlags().StringSlice("bucket", nil, "Block bucket as s3://name, gs://name or mem://name; repeatable, replaces configured buckets")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize and migrate the database",
	Run: func(cmd *cobra.Command, args []string) {
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTable)
		if err != nil {
			fmt.Printf("Failed to connect to the database: %v\n", err)
			return
		}

		if err := dynamoDb.MigrateDb(context.Background()); err != nil {
			fmt.Printf("Failed to migrate the database: %v\n", err)
			return
		}

		fmt.Println("Database initialized and migrated successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTable)
		if err != nil {
			fmt.Printf("Failed to connect to the database: %v\n", err)
			return
		}

		if err := dynamoDb.MigrateDown(context.Background()); err != nil {
			fmt.Printf("Failed to roll back migrations: %v\n", err)
			return
		}

		fmt.Println("Database migrations rolled back successfully")
	},
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(configPath, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)
}

// newPlacer registers every configured bucket, in name order so that
// placement is the same on every run.
func newPlacer() (*placement.RoundRobinPlacer, error) {
	factory := objectstore.NewObjectRepositoryFactory(cfg.AwsConfig, cfg.GcsClient)
	placer := placement.NewRoundRobinPlacer()

	names := make([]string, 0, len(cfg.Buckets))
	for name := range cfg.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b := cfg.Buckets[name]
		repo, err := factory.CreateRepository(objectstore.BucketConfig{
			Name: b.BucketName,
			Type: objectstore.RepositoryType(b.Platform),
		})
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", name, err)
		}
		if err := placer.RegisterBucket(b.BucketName, repo); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"bucket": b.BucketName, "platform": b.Platform}).Debug("Registered bucket")
	}
	return placer, nil
}

// newManifestRepository returns nil when no manifest table is configured.
func newManifestRepository() (service.ManifestRepository, error) {
	if cfg.DynamoDBTable == "" {
		return nil, nil
	}
	dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTable)
	if err != nil {
		return nil, err
	}
	repo := db.NewManifestRepository(dynamoDb.Client, cfg.DynamoDBTable)
	return &repo, nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(downCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
