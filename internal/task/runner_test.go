package task

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/api/apitest"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/metadata"
	"github.com/FranLegon/syncly/internal/metrics"
	"github.com/FranLegon/syncly/internal/model"
	"github.com/FranLegon/syncly/internal/registry"
	"github.com/FranLegon/syncly/internal/retry"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fixture wires fake buckets into a Runner the way the CLI wires real ones.
type fixture struct {
	cfg     *model.Config
	store   metadata.Store
	buckets map[string]api.Bucket
	failing map[string]error
	metrics *metrics.TransferMetrics
}

func newFixture(t *testing.T, buckets ...api.Bucket) *fixture {
	t.Helper()

	store, err := metadata.OpenJSON(filepath.Join(t.TempDir(), metadata.JSONFileName), "alice")
	require.NoError(t, err)

	f := &fixture{
		cfg:     &model.Config{Owner: "alice"},
		store:   store,
		buckets: make(map[string]api.Bucket),
		failing: make(map[string]error),
		metrics: metrics.New(),
	}
	for _, b := range buckets {
		f.add(b)
	}
	return f
}

func (f *fixture) add(b api.Bucket) {
	account := model.Account{Provider: b.Provider(), Number: b.Number(), Email: b.Account(), RefreshToken: "rt-" + b.Account()}
	f.cfg.Accounts = append(f.cfg.Accounts, account)
	f.buckets[clientKey(account)] = b
}

func (f *fixture) fail(account model.Account, err error) {
	f.cfg.Accounts = append(f.cfg.Accounts, account)
	f.failing[clientKey(account)] = err
}

func (f *fixture) factory(ctx context.Context, cfg *model.Config, account model.Account) (api.Bucket, error) {
	if err, ok := f.failing[clientKey(account)]; ok {
		return nil, err
	}
	b, ok := f.buckets[clientKey(account)]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return b, nil
}

func (f *fixture) runner(opts Options) *Runner {
	opts.Factory = f.factory
	if opts.Metrics == nil {
		opts.Metrics = f.metrics
	}
	return NewRunner(f.cfg, f.store, opts)
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Retryable:   api.IsTransient,
	}
}

// writeFile creates a file of n pseudo-random bytes and returns its path and content.
func writeFile(t *testing.T, name string, n int) (string, []byte) {
	t.Helper()
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path, data
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRunnerDefaults(t *testing.T) {
	f := newFixture(t)
	r := f.runner(Options{})
	assert.Equal(t, "alice", r.owner)
	assert.Equal(t, 4, r.workers)
	assert.Equal(t, 3, r.retry.MaxAttempts)

	r = f.runner(Options{Owner: "bob", Concurrency: 2, RetryAttempts: 5})
	assert.Equal(t, "bob", r.owner)
	assert.Equal(t, 2, r.workers)
	assert.Equal(t, 5, r.retry.MaxAttempts)
}

func TestRegistryExcludesFailedAccounts(t *testing.T) {
	ok := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 100)
	f := newFixture(t, ok)
	f.fail(model.Account{Provider: model.ProviderDropbox, Number: 1, Email: "b@example.com"}, errors.New("invalid_grant"))

	reg := f.runner(Options{}).Registry(context.Background())
	require.Len(t, reg.Buckets(), 1)
	assert.Equal(t, "a@example.com", reg.Buckets()[0].Account())
	require.Len(t, reg.Failures(), 1)
	assert.ErrorIs(t, reg.Failures()[0], api.ErrAuthenticationFailed)
}

func TestCheckTokens(t *testing.T) {
	f := newFixture(t,
		apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 100),
		apitest.NewBucket(model.ProviderMicrosoft, 1, "c@example.com", 100),
	)
	require.NoError(t, f.runner(Options{}).CheckTokens(context.Background()))

	broken := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 100)
	broken.QuotaErr = api.ErrAuthenticationFailed
	f.add(broken)
	f.fail(model.Account{Provider: model.ProviderDropbox, Number: 2, Email: "d@example.com"}, errors.New("revoked"))

	err := f.runner(Options{}).CheckTokens(context.Background())
	assert.ErrorIs(t, err, api.ErrAuthenticationFailed)
}

func TestListRemoteIsSortedAndRepeatable(t *testing.T) {
	drop := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 0)
	g2 := apitest.NewBucket(model.ProviderGoogle, 2, "c@example.com", 0)
	g1 := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
	g1.Put("zeta", []byte("z"))
	g1.Put("alpha", []byte("a"))
	g2.Put("beta", []byte("b"))
	drop.Put("gamma", []byte("g"))

	f := newFixture(t, g2, drop, g1)
	r := f.runner(Options{})

	first, err := r.ListRemote(context.Background())
	require.NoError(t, err)
	second, err := r.ListRemote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var names []string
	for _, rf := range first {
		names = append(names, rf.Name)
	}
	assert.Equal(t, []string{"gamma", "alpha", "zeta", "beta"}, names)
}

func TestQuotas(t *testing.T) {
	limited := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 1000)
	limited.Put("x", make([]byte, 300))
	unlimited := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 0)
	broken := apitest.NewBucket(model.ProviderMicrosoft, 1, "c@example.com", 100)
	broken.QuotaErr = api.Transient(errors.New("503"))

	quotas := newFixture(t, limited, unlimited, broken).runner(Options{}).Quotas(context.Background())
	require.Len(t, quotas, 3)

	assert.Equal(t, int64(1000), quotas[0].Limit)
	assert.Equal(t, int64(300), quotas[0].Used)
	assert.Equal(t, int64(700), quotas[0].Free)
	assert.NoError(t, quotas[0].Err)

	assert.Equal(t, registry.UnlimitedFree, quotas[1].Free)
	assert.Error(t, quotas[2].Err)
}

type rotatingBucket struct {
	*apitest.Bucket
	token string
}

func (b rotatingBucket) RefreshToken() string { return b.token }

func TestSyncTokensCopiesRotatedTokens(t *testing.T) {
	rotated := rotatingBucket{Bucket: apitest.NewBucket(model.ProviderMicrosoft, 1, "a@example.com", 0), token: "new-token"}
	same := rotatingBucket{Bucket: apitest.NewBucket(model.ProviderGoogle, 1, "b@example.com", 0), token: "rt-b@example.com"}
	f := newFixture(t, rotated, same)
	r := f.runner(Options{})

	assert.False(t, r.SyncTokens(), "nothing authenticated yet")

	r.Registry(context.Background())
	assert.True(t, r.SyncTokens())
	assert.Equal(t, "new-token", f.cfg.Accounts[0].RefreshToken)
	assert.Equal(t, "rt-b@example.com", f.cfg.Accounts[1].RefreshToken)
	assert.False(t, r.SyncTokens())
}

func TestUploadThenDownloadThroughRunner(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 100)
	b := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 50)
	f := newFixture(t, a, b)
	r := f.runner(Options{})

	path, data := writeFile(t, "movie.bin", 120)
	meta, err := r.Upload(context.Background(), path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "movie.bin", meta.FileName)
	assert.Equal(t, "alice", meta.Owner)

	uploads, err := r.ListUploads(context.Background())
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, meta.ID, uploads[0].ID)

	out, err := r.Download(context.Background(), "movie.bin", filepath.Join(t.TempDir(), "movie.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, readFile(t, out)))
	require.NoError(t, r.Close())
}
