package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var checkTokensCmd = &cobra.Command{
	Use:   "check-tokens",
	Short: "Validate all authentication tokens",
	Long:  `Tests each refresh token to ensure it can still authenticate successfully.`,
	RunE:  runCheckTokens,
}

func init() {
	rootCmd.AddCommand(checkTokensCmd)
}

func runCheckTokens(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		return s.runner.CheckTokens(ctx)
	})
}
