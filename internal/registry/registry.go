package registry

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/logger"
)

// UnlimitedFree stands in for buckets that report no fixed limit (1 PiB).
const UnlimitedFree int64 = 1 << 50

// FreeSpaceEntry is one bucket's free space at the moment of ranking.
type FreeSpaceEntry struct {
	Free   int64
	Bucket api.Bucket
	Index  int
}

// Registry holds every bucket authenticated for the current session.
type Registry struct {
	buckets  []api.Bucket
	failures []error
}

// New builds a registry. failures are the authentication errors of buckets
// that were left out.
func New(buckets []api.Bucket, failures ...error) *Registry {
	return &Registry{buckets: buckets, failures: failures}
}

// Buckets returns the authenticated buckets in registry order.
func (r *Registry) Buckets() []api.Bucket {
	return r.buckets
}

// Failures returns the errors of buckets that could not be authenticated.
func (r *Registry) Failures() []error {
	return r.failures
}

// RankByFreeSpace queries every bucket's quota and returns them sorted by free
// space, largest first. A bucket whose quota cannot be read ranks with zero.
func (r *Registry) RankByFreeSpace(ctx context.Context) []FreeSpaceEntry {
	entries := make([]FreeSpaceEntry, len(r.buckets))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range r.buckets {
		i, b := i, b
		g.Go(func() error {
			entries[i] = FreeSpaceEntry{Free: freeSpace(gctx, b), Bucket: b, Index: i}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Free > entries[b].Free
	})
	return entries
}

func freeSpace(ctx context.Context, b api.Bucket) int64 {
	q, err := b.CheckStorage(ctx)
	if err != nil {
		logger.WarningTagged(api.Tags(b), "Could not read storage quota: %v", err)
		return 0
	}
	if q.Limit <= 0 {
		return UnlimitedFree
	}
	free := q.Limit - q.Used
	if free < 0 {
		return 0
	}
	return free
}
