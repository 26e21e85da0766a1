package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/FranLegon/syncly/internal/logger"
)

var listRemote bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded files",
	Long: `Lists the upload records in the metadata store. With --remote, lists the objects
actually present in every linked account instead.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listRemote, "remote", "r", false, "List the objects stored in each account")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		if listRemote {
			return printRemote(ctx, s)
		}

		uploads, err := s.runner.ListUploads(ctx)
		if err != nil {
			return err
		}
		if len(uploads) == 0 {
			logger.Info("No uploads recorded")
			return nil
		}
		for _, u := range uploads {
			fmt.Printf("%-40s %10s  %2d chunk(s)  %s  %s\n",
				u.FileName, humanize.IBytes(uint64(u.Size)), len(u.Chunks),
				u.CreatedAt.Local().Format("2006-01-02 15:04"), humanize.Time(u.CreatedAt))
		}
		return nil
	})
}

func printRemote(ctx context.Context, s *session) error {
	files, err := s.runner.ListRemote(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Info("No files found")
		return nil
	}
	for _, f := range files {
		fmt.Printf("[%s][%d] %-40s %10s  %s\n", f.Provider, f.BucketNumber, f.Name, humanize.IBytes(uint64(f.Size)), f.ID)
	}
	return nil
}
