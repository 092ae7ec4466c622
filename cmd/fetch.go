package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zfetch/internal/blockset"
	"github.com/zzenonn/zfetch/internal/bucket"
	"github.com/zzenonn/zfetch/internal/config"
	"github.com/zzenonn/zfetch/internal/domain"
	"github.com/zzenonn/zfetch/internal/placement"
	"github.com/zzenonn/zfetch/internal/scheduler"
	"github.com/zzenonn/zfetch/internal/service"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [zs://prefix/object] [output-path]",
	Short: "Fetch and reconstruct a splitfile",
	Long:  "Fetch a splitfile by URI, or by manifest file with --manifest and only an output path.",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		manifestPath, _ := cmd.Flags().GetString("manifest")
		uri, outputPath := "", args[len(args)-1]
		if len(args) == 2 {
			uri = args[0]
		} else if manifestPath == "" {
			fmt.Println("Error: give a zs:// URI or --manifest")
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fs := afero.NewOsFs()
		placer, err := newPlacer()
		if err != nil {
			fmt.Printf("Error configuring buckets: %v\n", err)
			return
		}
		manifests, err := newManifestRepository()
		if err != nil {
			fmt.Printf("Failed to connect to the database: %v\n", err)
			return
		}

		blocks, closeBlocks, err := openBlockSet()
		if err != nil {
			fmt.Printf("Error opening block cache: %v\n", err)
			return
		}
		defer closeBlocks()

		sched := scheduler.NewBlockScheduler(placement.NewBlockSource(placer), scheduler.Options{
			Workers:    cfg.Fetch.Workers,
			MaxRetries: cfg.Fetch.MaxRetries,
		})
		defer sched.Close()

		tempDir := cfg.Fetch.TempDir
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		fetchService := service.NewFetchService(manifests, sched, service.FetchOptions{
			Limits:     cfg.FetchLimits(),
			Persistent: cfg.Fetch.Persistent,
			Fs:         fs,
			TempDir:    tempDir,
			BlockSet:   blocks,
			Buckets:    bucket.FileFactory{Fs: fs, Dir: filepath.Join(tempDir, "zfetch-buckets")},
			Quiet:      quiet,
		})

		var m domain.Manifest
		if manifestPath != "" {
			m, err = service.ReadManifestFile(fs, manifestPath)
			if err != nil {
				fmt.Printf("Error reading manifest: %v\n", err)
				return
			}
		}

		if stat, err := os.Stat(outputPath); err == nil && stat.IsDir() {
			name := m.FileName
			if name == "" {
				_, name, _ = service.ParseURI(uri)
			}
			outputPath = filepath.Join(outputPath, name)
		}
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			fmt.Printf("Error creating output directory: %v\n", err)
			return
		}
		outFile, err := os.Create(outputPath)
		if err != nil {
			fmt.Printf("Error creating output file: %v\n", err)
			return
		}
		defer outFile.Close()

		var n int64
		if manifestPath != "" {
			n, err = fetchService.FetchManifest(ctx, m, outFile)
		} else {
			n, err = fetchService.Fetch(ctx, uri, outFile)
		}
		if err != nil {
			outFile.Close()
			os.Remove(outputPath)
			fmt.Printf("Error fetching file: %v\n", err)
			return
		}
		fmt.Printf("File fetched successfully: %d bytes -> %s\n", n, outputPath)
	},
}

// openBlockSet opens the badger block cache when one is configured.
func openBlockSet() (blockset.BlockSet, func(), error) {
	if cfg.Fetch.BlockCache == "" {
		return blockset.NewMemorySet(), func() {}, nil
	}
	set, err := blockset.OpenBadger(cfg.Fetch.BlockCache)
	if err != nil {
		return nil, nil, err
	}
	return set, func() {
		if err := set.Close(); err != nil {
			log.Warnf("Failed to close block cache: %v", err)
		}
	}, nil
}

func init() {
	fetchCmd.Flags().BoolP("quiet", "q", false, "Suppress progress bars")
	fetchCmd.Flags().String("manifest", "", "Read the manifest from this file instead of the database")
	fetchCmd.Flags().Bool("persistent", false, "Keep the key index in files under --temp-dir")
	fetchCmd.Flags().String("temp-dir", "", "Directory for key index files and temporary buckets")
	fetchCmd.Flags().Int("workers", 16, "Concurrent block fetches")
	fetchCmd.Flags().Int("max-retries", 2, "Retries per block before it counts as not found")
	fetchCmd.Flags().String("block-cache", "", "Badger directory caching fetched blocks")
	fetchCmd.Flags().Int64("max-output-length", 1<<32, "Largest file accepted, in bytes")

	config.BindFlag("fetch.persistent", fetchCmd, "persistent")
	config.BindFlag("fetch.temp_dir", fetchCmd, "temp-dir")
	config.BindFlag("fetch.workers", fetchCmd, "workers")
	config.BindFlag("fetch.max_retries", fetchCmd, "max-retries")
	config.BindFlag("fetch.block_cache", fetchCmd, "block-cache")
	config.BindFlag("fetch.max_output_length", fetchCmd, "max-output-length")
	rootCmd.AddCommand(fetchCmd)
}
