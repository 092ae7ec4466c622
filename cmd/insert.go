package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zfetch/internal/compress"
	"github.com/zzenonn/zfetch/internal/config"
	"github.com/zzenonn/zfetch/internal/service"
)

var insertCmd = &cobra.Command{
	Use:   "insert [file-path] [zs://prefix/object]",
	Short: "Insert a file as a splitfile",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		filePath, uri := args[0], args[1]

		codecs, err := compress.ParseCodecs(cfg.Insert.Compression)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
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
		manifestOut, _ := cmd.Flags().GetString("manifest-out")
		if manifests == nil && manifestOut == "" {
			fmt.Println("Error: no manifest table configured, use --manifest-out")
			return
		}

		file, err := os.Open(filePath)
		if err != nil {
			fmt.Printf("Error opening file: %v\n", err)
			return
		}
		defer file.Close()

		mimeType, _ := cmd.Flags().GetString("mime")
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(filePath))
		}
		workers, _ := cmd.Flags().GetInt("workers")

		insertService := service.NewInsertService(placer, manifests, service.InsertOptions{
			BlocksPerSegment:      cfg.Insert.BlocksPerSegment,
			CheckBlocksPerSegment: cfg.Insert.CheckBlocksPerSegment,
			Codecs:                codecs,
			Workers:               workers,
		})
		m, err := insertService.Insert(context.Background(), uri, file, mimeType)
		if err != nil {
			fmt.Printf("Error inserting file: %v\n", err)
			return
		}

		if manifestOut != "" {
			if err := service.WriteManifestFile(afero.NewOsFs(), manifestOut, m); err != nil {
				fmt.Printf("Error writing manifest: %v\n", err)
				return
			}
		}
		fmt.Printf("File inserted successfully: %s -> %s (%d data, %d check blocks)\n",
			filePath, m.URI(), len(m.DataKeys), len(m.CheckKeys))
	},
}

func init() {
	insertCmd.Flags().String("mime", "", "MIME type; guessed from the file extension when empty")
	insertCmd.Flags().String("manifest-out", "", "Also write the manifest to this file")
	insertCmd.Flags().Int("workers", 8, "Concurrent block uploads")
	insertCmd.Flags().Int("blocks-per-segment", 128, "Data blocks per segment; 0 stores the file without check blocks")
	insertCmd.Flags().Int("check-blocks-per-segment", 128, "Check blocks per full segment")
	insertCmd.Flags().StringSlice("compression", []string{"gzip"}, "Codecs applied in order (gzip, bzip2, lzma, zstd, lz4)")

	config.BindFlag("insert.blocks_per_segment", insertCmd, "blocks-per-segment")
	config.BindFlag("insert.check_blocks_per_segment", insertCmd, "check-blocks-per-segment")
	config.BindFlag("insert.compression", insertCmd, "compression")
	rootCmd.AddCommand(insertCmd)
}
