package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranLegon/syncly/internal/config"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/model"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the encrypted configuration",
	Long: `Performs first-time setup: asks for a master password and the OAuth client
credentials of each provider, then writes an empty encrypted configuration.
Providers you do not plan to use can be left blank.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	settings := config.LoadSettings()
	if config.Exists(settings.Home) {
		return fmt.Errorf("already initialized in %s", settings.Home)
	}

	logger.Info("First-time setup in %s", settings.Home)

	password, err := config.GetMasterPassword(settings, true)
	if err != nil {
		return fmt.Errorf("failed to read master password: %w", err)
	}

	cfg := &model.Config{Owner: settings.Owner}
	if cfg.Owner == "" {
		if cfg.Owner, err = config.PromptInput("User name (separates metadata of different users)"); err != nil {
			return err
		}
	}

	logger.Info("Enter the OAuth client credentials of each provider.")
	for _, p := range model.Providers {
		creds, err := promptCredentials(p)
		if err != nil {
			return err
		}
		switch p {
		case model.ProviderGoogle:
			cfg.GoogleClient = creds
		case model.ProviderDropbox:
			cfg.DropboxClient = creds
		case model.ProviderMicrosoft:
			cfg.MicrosoftClient = creds
		}
	}

	if safeMode {
		logger.DryRun("Would write configuration to %s", settings.Path(config.ConfigFileName))
		return nil
	}

	if err := config.Initialize(settings.Home, password, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	store, err := openStore(cmd.Context(), settings, cfg.Owner)
	if err != nil {
		return fmt.Errorf("failed to create metadata store: %w", err)
	}
	if err := store.Close(); err != nil {
		return err
	}

	logger.Info("Initialization complete. Link storage accounts with 'syncly add-account'.")
	return nil
}

func promptCredentials(p model.Provider) (model.ClientCredentials, error) {
	id, err := config.PromptInput(fmt.Sprintf("%s Client ID", p))
	if err != nil {
		return model.ClientCredentials{}, err
	}
	if id == "" {
		return model.ClientCredentials{}, nil
	}
	secret, err := config.PromptInput(fmt.Sprintf("%s Client Secret", p))
	if err != nil {
		return model.ClientCredentials{}, err
	}
	return model.ClientCredentials{ID: id, Secret: secret}, nil
}
