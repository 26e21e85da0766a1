package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranLegon/syncly/internal/auth"
	"github.com/FranLegon/syncly/internal/config"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/model"
	"github.com/FranLegon/syncly/internal/task"
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account",
	Short: "Link another storage account",
	Long: `Runs the OAuth flow for a Google Drive, Dropbox or OneDrive account and adds it
to the configuration as the next bucket of that provider.`,
	RunE: runAddAccount,
}

func init() {
	rootCmd.AddCommand(addAccountCmd)
}

func runAddAccount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	settings, cfg, password, err := loadConfig()
	if err != nil {
		return err
	}

	items := make([]string, len(model.Providers))
	for i, p := range model.Providers {
		items[i] = string(p)
	}
	selected, err := config.PromptSelect("Select Provider", items)
	if err != nil {
		return fmt.Errorf("failed to select provider: %w", err)
	}
	provider, err := model.ParseProvider(selected)
	if err != nil {
		return err
	}

	creds := cfg.Credentials(provider)
	if creds.ID == "" {
		return fmt.Errorf("no %s client credentials configured", provider)
	}
	oauthConfig, err := auth.OAuthConfig(provider, creds)
	if err != nil {
		return err
	}

	account := model.Account{Provider: provider, Number: cfg.NextBucketNumber(provider)}
	if safeMode {
		logger.DryRun("Would authorize %s", account.Label())
		return nil
	}

	account.RefreshToken, err = auth.PerformOAuthFlow(ctx, provider, oauthConfig)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	bucket, err := task.DefaultFactory(ctx, cfg, account)
	if err != nil {
		return fmt.Errorf("failed to verify new account: %w", err)
	}
	account.Email = bucket.Account()

	for _, a := range cfg.Accounts {
		if a.Provider == provider && a.Email == account.Email {
			return fmt.Errorf("%s is already linked as %s", account.Email, a.Label())
		}
	}

	cfg.Accounts = append(cfg.Accounts, account)
	if err := config.SaveConfig(settings.Home, password, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	logger.InfoTagged([]string{string(provider), account.Email}, "Linked as %s", account.Label())
	return nil
}
