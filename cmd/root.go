package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranLegon/syncly/internal/config"
	"github.com/FranLegon/syncly/internal/database"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/metadata"
	"github.com/FranLegon/syncly/internal/metrics"
	"github.com/FranLegon/syncly/internal/model"
	"github.com/FranLegon/syncly/internal/task"
)

var (
	safeMode bool
	verbose  bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "syncly",
	Short: "Store files across many free cloud storage accounts",
	Long: `syncly pools the free storage of several Google Drive, Dropbox and OneDrive
accounts. Files that do not fit in one account are split into chunks spread over
the accounts with the most free space, and reassembled on download.

The configuration is kept encrypted (config.json.enc) in the data directory,
protected by a master password.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logger.LogLevelDebug)
		}
		if safeMode {
			logger.Info("Running in safe mode: no remote changes will be made")
		}
	},
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&safeMode, "safe", "s", false, "Dry run mode (no uploads or config changes)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug output")
}

// session is everything an operational command needs: the decrypted
// config, the metadata store and the runner built on them.
type session struct {
	settings config.Settings
	password string
	cfg      *model.Config
	metrics  *metrics.TransferMetrics
	runner   *task.Runner
}

// loadConfig resolves the settings and decrypts the configuration.
func loadConfig() (config.Settings, *model.Config, string, error) {
	settings := config.LoadSettings()
	if !config.Exists(settings.Home) {
		return settings, nil, "", fmt.Errorf("no configuration in %s: run 'syncly init' first", settings.Home)
	}

	password, err := config.GetMasterPassword(settings, false)
	if err != nil {
		return settings, nil, "", fmt.Errorf("failed to read master password: %w", err)
	}

	cfg, err := config.LoadConfig(settings.Home, password)
	if err != nil {
		return settings, nil, "", err
	}
	return settings, cfg, password, nil
}

func openSession(ctx context.Context) (*session, error) {
	settings, cfg, password, err := loadConfig()
	if err != nil {
		return nil, err
	}

	owner := settings.Owner
	if owner == "" {
		owner = cfg.Owner
	}

	store, err := openStore(ctx, settings, owner)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	runner := task.NewRunner(cfg, store, task.Options{
		Owner:         owner,
		SafeMode:      safeMode,
		Concurrency:   settings.Concurrency,
		RetryAttempts: settings.RetryAttempts,
		Metrics:       m,
	})

	return &session{settings: settings, password: password, cfg: cfg, metrics: m, runner: runner}, nil
}

// close persists rotated refresh tokens, pushes the metrics and releases
// the store. Failures are logged; the command's own result stands.
func (s *session) close() {
	if s.runner.SyncTokens() {
		if safeMode {
			logger.DryRun("Would save rotated refresh tokens")
		} else if err := config.SaveConfig(s.settings.Home, s.password, s.cfg); err != nil {
			logger.Error("Failed to save rotated refresh tokens: %v", err)
		} else {
			logger.Debug("Saved rotated refresh tokens")
		}
	}

	if s.settings.Pushgateway != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.metrics.Push(ctx, s.settings.Pushgateway, "syncly"); err != nil {
			logger.Warning("Failed to push metrics to %s: %v", s.settings.Pushgateway, err)
		}
	}

	if err := s.runner.Close(); err != nil {
		logger.Warning("Failed to close metadata store: %v", err)
	}
}

// openStore opens the metadata backend selected by the settings.
func openStore(ctx context.Context, s config.Settings, owner string) (metadata.Store, error) {
	switch s.MetadataBackend {
	case config.BackendSQLite:
		return database.Open(s.Path(database.DBFileName), owner)
	case config.BackendJSON:
		return metadata.OpenJSON(s.Path(metadata.JSONFileName), owner)
	case config.BackendMongo:
		return metadata.OpenMongo(ctx, s.MongoURI, owner)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q (use %s, %s or %s)",
			s.MetadataBackend, config.BackendSQLite, config.BackendJSON, config.BackendMongo)
	}
}

// withSession runs fn with an open session and always closes it.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return fn(ctx, s)
}
