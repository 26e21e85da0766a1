// Package apitest provides an in-memory api.Bucket for tests.
package apitest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/model"
)

type object struct {
	name        string
	contentType string
	data        []byte
}

// Bucket is an in-memory api.Bucket. The zero Limit means unlimited.
// Uploads beyond Limit fail with api.ErrQuotaExceeded.
type Bucket struct {
	provider model.Provider
	number   int
	account  string

	mu      sync.Mutex
	limit   int64
	used    int64
	seq     int
	objects map[string]*object

	// ReportedLimit, when set, is what CheckStorage returns instead of Limit.
	ReportedLimit *int64
	// QuotaErr makes CheckStorage fail.
	QuotaErr error
	// UploadErrs are returned by successive Upload calls before any real write.
	UploadErrs []error
	// DownloadErr makes Download fail for every id.
	DownloadErr error
	// Corrupt flips the first byte of every downloaded object.
	Corrupt bool

	Uploads int
}

// NewBucket returns an empty bucket with the given capacity.
func NewBucket(p model.Provider, number int, account string, limit int64) *Bucket {
	return &Bucket{
		provider: p,
		number:   number,
		account:  account,
		limit:    limit,
		objects:  make(map[string]*object),
	}
}

func (b *Bucket) Provider() model.Provider { return b.provider }
func (b *Bucket) Number() int              { return b.number }
func (b *Bucket) Account() string          { return b.account }

func (b *Bucket) CheckStorage(ctx context.Context) (*model.QuotaInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.QuotaErr != nil {
		return nil, b.QuotaErr
	}
	limit := b.limit
	if b.ReportedLimit != nil {
		limit = *b.ReportedLimit
	}
	return &model.QuotaInfo{Limit: limit, Used: b.used}, nil
}

func (b *Bucket) Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (*model.RemoteFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Uploads++
	if len(b.UploadErrs) > 0 {
		err := b.UploadErrs[0]
		b.UploadErrs = b.UploadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if b.limit > 0 && b.used+size > b.limit {
		return nil, fmt.Errorf("%s: %w", b.account, api.ErrQuotaExceeded)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("short upload: got %d of %d bytes", len(data), size)
	}

	b.seq++
	id := fmt.Sprintf("%s-%d-%d", b.provider, b.number, b.seq)
	b.objects[id] = &object{name: name, contentType: contentType, data: data}
	b.used += size
	return b.remote(id, b.objects[id]), nil
}

func (b *Bucket) Download(ctx context.Context, id string, w io.Writer) error {
	b.mu.Lock()
	obj, ok := b.objects[id]
	derr := b.DownloadErr
	corrupt := b.Corrupt
	b.mu.Unlock()

	if derr != nil {
		return derr
	}
	if !ok {
		return errors.New("object not found: " + id)
	}
	data := obj.data
	if corrupt && len(data) > 0 {
		data = append([]byte{data[0] ^ 0xff}, data[1:]...)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (b *Bucket) List(ctx context.Context, nameFilter string) ([]model.RemoteFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []model.RemoteFile
	for id, obj := range b.objects {
		if nameFilter != "" && !strings.Contains(obj.name, nameFilter) {
			continue
		}
		out = append(out, *b.remote(id, obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put stores an object directly, bypassing quota checks.
func (b *Bucket) Put(name string, data []byte) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("%s-%d-%d", b.provider, b.number, b.seq)
	b.objects[id] = &object{name: name, data: data}
	b.used += int64(len(data))
	return id
}

// Used returns the bytes stored so far.
func (b *Bucket) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Objects returns stored object names keyed by id.
func (b *Bucket) Objects() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.objects))
	for id, obj := range b.objects {
		out[id] = obj.name
	}
	return out
}

// ContentTypes returns the content type each object was uploaded with, keyed by name.
func (b *Bucket) ContentTypes() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.objects))
	for _, obj := range b.objects {
		out[obj.name] = obj.contentType
	}
	return out
}

func (b *Bucket) remote(id string, obj *object) *model.RemoteFile {
	return &model.RemoteFile{
		ID:           id,
		Name:         obj.name,
		Size:         int64(len(obj.data)),
		Provider:     b.provider,
		BucketNumber: b.number,
		Account:      b.account,
	}
}

var _ api.Bucket = (*Bucket)(nil)
