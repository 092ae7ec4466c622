package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/repository/db"
	"github.com/zzenonn/zfetch/internal/service"
)

func openManifestTable() (*db.ManifestRepository, error) {
	if cfg.DynamoDBTable == "" {
		return nil, ferrors.ConfigNotSetError("dynamodb_table")
	}
	dynamoDb, err := db.NewDatabase(cfg.AwsConfig, cfg.DynamoDBTable)
	if err != nil {
		return nil, err
	}
	repo := db.NewManifestRepository(dynamoDb.Client, cfg.DynamoDBTable)
	return &repo, nil
}

var lsCmd = &cobra.Command{
	Use:   "ls [zs://prefix]",
	Short: "List the manifests stored under a prefix",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prefix := "root"
		if len(args) == 1 {
			if !strings.HasPrefix(args[0], "zs://") {
				fmt.Printf("Error: URL must start with zs://\n")
				return
			}
			if p := strings.Trim(strings.TrimPrefix(args[0], "zs://"), "/"); p != "" {
				prefix = p
			}
		}

		repo, err := openManifestTable()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		manifests, err := repo.ListManifestsByPrefix(context.Background(), prefix)
		if err != nil {
			fmt.Printf("Error listing manifests: %v\n", err)
			return
		}
		for _, m := range manifests {
			fmt.Printf("%-40s %12d  %-24s %d+%d blocks\n",
				m.URI(), m.DataLength, m.MIMEType, len(m.DataKeys), len(m.CheckKeys))
		}
	},
}

// rmCmd removes only the manifest. Blocks are content addressed and may be
// shared with other splitfiles, so they stay in the buckets.
var rmCmd = &cobra.Command{
	Use:   "rm [zs://prefix/object]",
	Short: "Remove a manifest",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prefix, fileName, err := service.ParseURI(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		repo, err := openManifestTable()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if err := repo.DeleteManifest(context.Background(), prefix, fileName); err != nil {
			fmt.Printf("Error removing manifest: %v\n", err)
			return
		}
		fmt.Printf("Manifest removed: %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
}
