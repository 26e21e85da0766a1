package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranLegon/syncly/internal/logger"
)

var downloadOut string

var downloadCmd = &cobra.Command{
	Use:   "download <name>",
	Short: "Download a file and reassemble its chunks",
	Long: `Looks the file up in the metadata store, or scans every account for it when no
record exists, fetches all of its chunks and joins them in order. A name without an
extension is also tried with common extensions (.pdf, .docx, .jpg, ...).`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOut, "out", "o", "", "Destination file or directory (default: current directory)")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		if safeMode {
			logger.DryRun("Would download %s", args[0])
			return nil
		}

		path, err := s.runner.Download(ctx, args[0], downloadOut)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	})
}
