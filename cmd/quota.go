package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/task"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Print used and free storage of every account",
	Long: `Queries the storage quota of every linked account and prints the used and free
space per account, followed by the totals across all accounts.`,
	RunE: runQuota,
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		quotas := s.runner.Quotas(ctx)
		if len(quotas) == 0 {
			logger.Warning("No accounts available")
			return nil
		}

		fmt.Println("Quota Summary:")
		fmt.Println("--------------")

		var total, used, free int64
		unlimited, failed := false, 0
		for _, q := range quotas {
			fmt.Printf("[%s][%d] %s\n", q.Provider, q.Number, q.Account)
			if q.Err != nil {
				fmt.Printf("  Error: %v\n\n", q.Err)
				failed++
				continue
			}

			fmt.Printf("  Total: %s\n", formatLimit(q))
			fmt.Printf("  Used:  %s\n", humanize.IBytes(uint64(q.Used)))
			if q.Limit <= 0 {
				fmt.Printf("  Free:  Unlimited\n\n")
				unlimited = true
			} else {
				fmt.Printf("  Free:  %s\n\n", humanize.IBytes(uint64(q.Free)))
				total += q.Limit
				free += q.Free
			}
			used += q.Used
		}

		fmt.Println("[Total]")
		if unlimited {
			fmt.Printf("  Total: Unlimited\n")
		} else {
			fmt.Printf("  Total: %s\n", humanize.IBytes(uint64(total)))
		}
		fmt.Printf("  Used:  %s\n", humanize.IBytes(uint64(used)))
		if unlimited {
			fmt.Printf("  Free:  Unlimited\n")
		} else {
			fmt.Printf("  Free:  %s\n", humanize.IBytes(uint64(free)))
		}

		if failed > 0 {
			return fmt.Errorf("could not read the quota of %d account(s)", failed)
		}
		return nil
	})
}

func formatLimit(q task.BucketQuota) string {
	if q.Limit <= 0 {
		return "Unlimited"
	}
	return humanize.IBytes(uint64(q.Limit))
}
