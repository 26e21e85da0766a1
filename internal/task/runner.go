package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/auth"
	"github.com/FranLegon/syncly/internal/dropbox"
	"github.com/FranLegon/syncly/internal/google"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/metadata"
	"github.com/FranLegon/syncly/internal/metrics"
	"github.com/FranLegon/syncly/internal/microsoft"
	"github.com/FranLegon/syncly/internal/model"
	"github.com/FranLegon/syncly/internal/registry"
	"github.com/FranLegon/syncly/internal/retry"
)

// ClientFactory authenticates one configured account.
type ClientFactory func(ctx context.Context, cfg *model.Config, account model.Account) (api.Bucket, error)

// Options tunes a Runner. Zero values pick the defaults.
type Options struct {
	Owner         string
	SafeMode      bool
	Concurrency   int
	RetryAttempts int
	Metrics       *metrics.TransferMetrics
	Factory       ClientFactory
}

// Runner is the per-user session: it owns the configuration, the
// authenticated clients, the metadata store and the metrics.
type Runner struct {
	config   *model.Config
	store    metadata.Store
	metrics  *metrics.TransferMetrics
	factory  ClientFactory
	owner    string
	safeMode bool
	workers  int
	retry    retry.Policy

	mu       sync.Mutex
	clients  map[string]api.Bucket
	registry *registry.Registry
}

// NewRunner creates a new task runner
func NewRunner(cfg *model.Config, store metadata.Store, opts Options) *Runner {
	r := &Runner{
		config:   cfg,
		store:    store,
		metrics:  opts.Metrics,
		factory:  opts.Factory,
		owner:    opts.Owner,
		safeMode: opts.SafeMode,
		workers:  opts.Concurrency,
		retry:    retry.DefaultPolicy(api.IsTransient),
		clients:  make(map[string]api.Bucket),
	}
	if r.factory == nil {
		r.factory = DefaultFactory
	}
	if r.owner == "" {
		r.owner = cfg.Owner
	}
	if r.workers < 1 {
		r.workers = 4
	}
	if opts.RetryAttempts > 0 {
		r.retry.MaxAttempts = opts.RetryAttempts
	}
	return r
}

// DefaultFactory builds the provider client for an account.
func DefaultFactory(ctx context.Context, cfg *model.Config, account model.Account) (api.Bucket, error) {
	ts, err := auth.ForAccount(cfg, account)
	if err != nil {
		return nil, err
	}

	switch account.Provider {
	case model.ProviderGoogle:
		return google.NewClient(ctx, account, ts)
	case model.ProviderDropbox:
		return dropbox.NewClient(ctx, account, ts)
	case model.ProviderMicrosoft:
		return microsoft.NewClient(ctx, account, ts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", account.Provider)
	}
}

func clientKey(a model.Account) string {
	return fmt.Sprintf("%s:%d", a.Provider, a.Number)
}

// GetOrCreateClient gets or creates a client for an account
func (r *Runner) GetOrCreateClient(ctx context.Context, account model.Account) (api.Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientLocked(ctx, account)
}

func (r *Runner) clientLocked(ctx context.Context, account model.Account) (api.Bucket, error) {
	key := clientKey(account)
	if client, exists := r.clients[key]; exists {
		return client, nil
	}

	client, err := r.factory(ctx, r.config, account)
	if err != nil {
		if !errors.Is(err, api.ErrAuthenticationFailed) {
			err = fmt.Errorf("%w: %s: %w", api.ErrAuthenticationFailed, account.Label(), err)
		}
		return nil, err
	}

	r.clients[key] = client
	return client, nil
}

// Registry authenticates every configured account once per session.
// Accounts that fail are left out and reported by Registry.Failures.
func (r *Runner) Registry(ctx context.Context) *registry.Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registry != nil {
		return r.registry
	}

	var buckets []api.Bucket
	var failures []error
	for _, account := range r.config.Accounts {
		client, err := r.clientLocked(ctx, account)
		if err != nil {
			logger.ErrorTagged([]string{string(account.Provider), account.Email}, "Skipping bucket #%d: %v", account.Number, err)
			failures = append(failures, err)
			continue
		}
		buckets = append(buckets, client)
	}

	r.registry = registry.New(buckets, failures...)
	return r.registry
}

func (r *Runner) uploader(ctx context.Context) *Uploader {
	return &Uploader{
		Registry: r.Registry(ctx),
		Store:    r.store,
		Metrics:  r.metrics,
		Retry:    r.retryPolicy(),
		Owner:    r.owner,
		SafeMode: r.safeMode,
	}
}

func (r *Runner) downloader(ctx context.Context) *Downloader {
	return &Downloader{
		Registry:    r.Registry(ctx),
		Store:       r.store,
		Metrics:     r.metrics,
		Retry:       r.retryPolicy(),
		Concurrency: r.workers,
	}
}

func (r *Runner) retryPolicy() retry.Policy {
	p := r.retry
	p.Notify = func(attempt int, err error, delay time.Duration) {
		logger.Warning("Attempt %d failed, retrying in %v: %v", attempt, delay.Round(time.Millisecond), err)
	}
	return p
}

// Upload stores the file at path under name (defaults to its base name).
func (r *Runner) Upload(ctx context.Context, path, name, contentType string) (*model.UploadMetadata, error) {
	return r.uploader(ctx).Upload(ctx, path, name, contentType)
}

// Download reassembles name into dest and returns the written path.
func (r *Runner) Download(ctx context.Context, name, dest string) (string, error) {
	return r.downloader(ctx).Download(ctx, name, dest)
}

// ListUploads returns every metadata record of the session owner.
func (r *Runner) ListUploads(ctx context.Context) ([]*model.UploadMetadata, error) {
	return r.store.List(ctx)
}

// ListRemote lists the objects of every bucket, ordered by provider, bucket
// number, name and id. Buckets that fail to list are logged and skipped.
func (r *Runner) ListRemote(ctx context.Context) ([]model.RemoteFile, error) {
	reg := r.Registry(ctx)

	var files []model.RemoteFile
	for _, b := range reg.Buckets() {
		list, err := b.List(ctx, "")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WarningTagged(api.Tags(b), "Failed to list files: %v", err)
			continue
		}
		files = append(files, list...)
	}

	SortRemoteFiles(files)
	return files, nil
}

// SortRemoteFiles orders files by provider, bucket number, name and id.
func SortRemoteFiles(files []model.RemoteFile) {
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.BucketNumber != b.BucketNumber {
			return a.BucketNumber < b.BucketNumber
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// BucketQuota is the storage usage of one bucket.
type BucketQuota struct {
	Provider model.Provider
	Number   int
	Account  string
	Limit    int64
	Used     int64
	Free     int64
	Err      error
}

// Quotas reads the storage usage of every bucket. Unlimited buckets report
// a zero Limit and registry.UnlimitedFree as Free.
func (r *Runner) Quotas(ctx context.Context) []BucketQuota {
	reg := r.Registry(ctx)

	quotas := make([]BucketQuota, 0, len(reg.Buckets()))
	for _, b := range reg.Buckets() {
		bq := BucketQuota{Provider: b.Provider(), Number: b.Number(), Account: b.Account()}

		q, err := b.CheckStorage(ctx)
		if err != nil {
			logger.WarningTagged(api.Tags(b), "Failed to get quota: %v", err)
			bq.Err = err
			quotas = append(quotas, bq)
			continue
		}

		bq.Limit, bq.Used = q.Limit, q.Used
		switch {
		case q.Limit <= 0:
			bq.Free = registry.UnlimitedFree
		case q.Limit > q.Used:
			bq.Free = q.Limit - q.Used
		}
		r.metrics.SetFree(string(bq.Provider), bq.Account, bq.Free)
		quotas = append(quotas, bq)
	}
	return quotas
}

// CheckTokens validates every configured account by authenticating it and
// reading its quota.
func (r *Runner) CheckTokens(ctx context.Context) error {
	logger.Info("Checking all authentication tokens...")

	hasErrors := false
	for _, account := range r.config.Accounts {
		tags := []string{string(account.Provider), account.Email}

		client, err := r.GetOrCreateClient(ctx, account)
		if err != nil {
			logger.ErrorTagged(tags, "Failed to create client: %v", err)
			hasErrors = true
			continue
		}

		// Try a simple read operation
		if _, err := client.CheckStorage(ctx); err != nil {
			logger.ErrorTagged(tags, "Token validation failed: %v", err)
			hasErrors = true
			continue
		}
		logger.InfoTagged(tags, "Token is valid")
	}

	if hasErrors {
		return fmt.Errorf("%w: some tokens are invalid - re-authentication required", api.ErrAuthenticationFailed)
	}

	logger.Info("All tokens are valid")
	return nil
}

// tokenHolder is implemented by clients whose refresh token may rotate.
type tokenHolder interface {
	RefreshToken() string
}

// SyncTokens copies rotated refresh tokens back into the configuration and
// reports whether anything changed.
func (r *Runner) SyncTokens() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for i := range r.config.Accounts {
		account := &r.config.Accounts[i]
		holder, ok := r.clients[clientKey(*account)].(tokenHolder)
		if !ok {
			continue
		}
		if tok := holder.RefreshToken(); tok != "" && tok != account.RefreshToken {
			account.RefreshToken = tok
			changed = true
		}
	}
	return changed
}

// Close releases the metadata store.
func (r *Runner) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
