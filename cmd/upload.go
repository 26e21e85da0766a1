package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/FranLegon/syncly/internal/logger"
)

var (
	uploadName        string
	uploadContentType string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file, splitting it across accounts if needed",
	Long: `Uploads a local file to the account with the most free space. When no single
account can hold it, the file is split into chunks named <name>_part1, <name>_part2, ...
and each chunk goes to the account with the most space left at that moment.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "Name to store the file under (default: base name of path)")
	uploadCmd.Flags().StringVar(&uploadContentType, "type", "", "Content type (default: detected from the extension)")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		meta, err := s.runner.Upload(ctx, args[0], uploadName, uploadContentType)
		if err != nil {
			return err
		}
		if meta == nil {
			return nil
		}

		fmt.Printf("%s (%s) stored as upload %s\n", meta.FileName, humanize.IBytes(uint64(meta.Size)), meta.ID)
		for _, c := range meta.Chunks {
			fmt.Printf("  %-40s %10s  %s #%d (%s)\n", c.ChunkName, humanize.IBytes(uint64(c.Size)), c.Provider, c.BucketNumber, c.Account)
		}
		logger.Debug("SHA-256 %s", meta.SHA256)
		return nil
	})
}
