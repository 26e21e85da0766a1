package task

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranLegon/syncly/internal/api/apitest"
	"github.com/FranLegon/syncly/internal/model"
)

func (f *fixture) downloader(t *testing.T) *Downloader {
	t.Helper()
	d := f.runner(Options{Concurrency: 3}).downloader(context.Background())
	d.Retry = fastRetry()
	return d
}

func uploadFile(t *testing.T, f *fixture, name string, size int) []byte {
	t.Helper()
	path, data := writeFile(t, name, size)
	_, err := f.uploader(t).Upload(context.Background(), path, "", "")
	require.NoError(t, err)
	return data
}

func assertNoFile(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func TestDownloadReassemblesSplitUpload(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 40)
	b := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 40)
	c := apitest.NewBucket(model.ProviderMicrosoft, 1, "c@example.com", 40)
	f := newFixture(t, a, b, c)
	data := uploadFile(t, f, "split.bin", 110)

	dest := filepath.Join(t.TempDir(), "restored.bin")
	out, err := f.downloader(t).Download(context.Background(), "split.bin", dest)
	require.NoError(t, err)
	assert.Equal(t, dest, out)
	assert.True(t, bytes.Equal(data, readFile(t, out)))
}

func TestDownloadIntoDirectoryUsesName(t *testing.T) {
	f := newFixture(t, apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0))
	data := uploadFile(t, f, "song.mp3", 32)

	dir := t.TempDir()
	out, err := f.downloader(t).Download(context.Background(), "song.mp3", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "song.mp3"), out)
	assert.Equal(t, data, readFile(t, out))
}

func TestDownloadReturnsNewestUpload(t *testing.T) {
	f := newFixture(t, apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0))
	uploadFile(t, f, "same.txt", 10)
	newer := uploadFile(t, f, "same.txt", 20)

	out, err := f.downloader(t).Download(context.Background(), "same.txt", filepath.Join(t.TempDir(), "same.txt"))
	require.NoError(t, err)
	assert.Equal(t, newer, readFile(t, out))

	records, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDownloadScansBucketsWithoutMetadata(t *testing.T) {
	for _, sep := range []string{"_", "."} {
		t.Run("separator "+sep, func(t *testing.T) {
			a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
			b := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 0)
			// Stored out of order and across buckets.
			b.Put("report.pdf"+sep+"part3", []byte("CCC"))
			a.Put("report.pdf"+sep+"part1", []byte("A"))
			b.Put("report.pdf"+sep+"part2", []byte("BB"))
			a.Put("report.pdf.bak", []byte("noise"))
			f := newFixture(t, a, b)

			out, err := f.downloader(t).Download(context.Background(), "report.pdf", filepath.Join(t.TempDir(), "r.pdf"))
			require.NoError(t, err)
			assert.Equal(t, "ABBCCC", string(readFile(t, out)))
		})
	}
}

func TestDownloadScanOrdersPartsNumerically(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
	want := ""
	for i := 1; i <= 11; i++ {
		s := string(rune('a' + i - 1))
		want += s
		a.Put(ChunkName("n.bin", i), []byte(s))
	}
	f := newFixture(t, a)

	out, err := f.downloader(t).Download(context.Background(), "n.bin", filepath.Join(t.TempDir(), "n.bin"))
	require.NoError(t, err)
	assert.Equal(t, want, string(readFile(t, out)))
}

func TestDownloadScanPrefersWholeFile(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
	a.Put("x.txt_part1", []byte("part"))
	a.Put("x.txt", []byte("whole"))
	f := newFixture(t, a)

	out, err := f.downloader(t).Download(context.Background(), "x.txt", filepath.Join(t.TempDir(), "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "whole", string(readFile(t, out)))
}

func TestDownloadTriesCommonExtensions(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
	a.Put("notes.txt", []byte("hello"))
	f := newFixture(t, a)

	dir := t.TempDir()
	out, err := f.downloader(t).Download(context.Background(), "notes", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), out)
	assert.Equal(t, "hello", string(readFile(t, out)))
}

func TestDownloadNotFound(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
	a.Put("other.txt", []byte("x"))
	f := newFixture(t, a)

	dest := filepath.Join(t.TempDir(), "missing")
	_, err := f.downloader(t).Download(context.Background(), "missing", dest)
	require.ErrorIs(t, err, ErrNotFound)
	assertNoFile(t, dest)

	_, err = f.downloader(t).Download(context.Background(), "missing.doc", dest)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadScanGapIsIncomplete(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
	a.Put("gap.bin_part1", []byte("1"))
	a.Put("gap.bin_part3", []byte("3"))
	f := newFixture(t, a)

	dest := filepath.Join(t.TempDir(), "gap.bin")
	_, err := f.downloader(t).Download(context.Background(), "gap.bin", dest)
	require.ErrorIs(t, err, ErrIncompleteDownload)
	assertNoFile(t, dest)
}

func TestDownloadChunkFailureLeavesNoFile(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 50)
	b := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 50)
	f := newFixture(t, a, b)
	uploadFile(t, f, "fail.bin", 80)

	b.DownloadErr = errors.New("connection refused by policy")
	dir := t.TempDir()
	dest := filepath.Join(dir, "fail.bin")
	_, err := f.downloader(t).Download(context.Background(), "fail.bin", dest)
	require.ErrorIs(t, err, ErrIncompleteDownload)
	assertNoFile(t, dest)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files must be removed")
}

func TestDownloadDetectsCorruptChunk(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 0)
	f := newFixture(t, a)
	uploadFile(t, f, "bits.bin", 16)

	a.Corrupt = true
	dest := filepath.Join(t.TempDir(), "bits.bin")
	_, err := f.downloader(t).Download(context.Background(), "bits.bin", dest)
	require.ErrorIs(t, err, ErrIncompleteDownload)
	assertNoFile(t, dest)
}

func TestDownloadMissingBucketIsIncomplete(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 30)
	b := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 30)
	f := newFixture(t, a, b)
	uploadFile(t, f, "half.bin", 50)

	// A later session where the Dropbox account failed to authenticate.
	later := newFixture(t, a)
	later.store = f.store
	_, err := later.downloader(t).Download(context.Background(), "half.bin", filepath.Join(t.TempDir(), "half.bin"))
	assert.ErrorIs(t, err, ErrIncompleteDownload)
}

func TestDownloadOrderIndependentOfBucketOrder(t *testing.T) {
	a := apitest.NewBucket(model.ProviderGoogle, 1, "a@example.com", 30)
	b := apitest.NewBucket(model.ProviderDropbox, 1, "b@example.com", 30)
	c := apitest.NewBucket(model.ProviderMicrosoft, 1, "c@example.com", 30)
	f := newFixture(t, a, b, c)
	data := uploadFile(t, f, "order.bin", 75)

	reversed := newFixture(t, c, b, a)
	reversed.store = f.store
	out, err := reversed.downloader(t).Download(context.Background(), "order.bin", filepath.Join(t.TempDir(), "order.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, readFile(t, out))
}
