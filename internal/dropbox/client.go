package dropbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	dbx "github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	dbxauth "github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/auth"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/model"
)

const (
	syncFolder = "/syncly"

	// Single-request uploads are limited to 150 MiB; larger objects go
	// through an upload session in sessionChunk pieces.
	singleUploadLimit = 150 * 1024 * 1024
	sessionChunk      = 64 * 1024 * 1024
)

// Client is a Dropbox bucket. Objects live under /syncly.
type Client struct {
	files       files.Client
	users       users.Client
	account     model.Account
	tokenSource *auth.TokenSource
}

// NewClient authenticates the account and creates a Dropbox client.
// An empty account email is filled in from the users API.
func NewClient(ctx context.Context, account model.Account, tokenSource *auth.TokenSource) (*Client, error) {
	if _, err := tokenSource.Token(); err != nil {
		return nil, fmt.Errorf("%s: %w", account.Label(), err)
	}

	cfg := dbx.Config{
		Client:   tokenSource.HTTPClient(ctx),
		LogLevel: dbx.LogOff,
	}

	c := &Client{
		files:       files.New(cfg),
		users:       users.New(cfg),
		account:     account,
		tokenSource: tokenSource,
	}

	if c.account.Email == "" {
		acct, err := c.users.GetCurrentAccount()
		if err != nil {
			return nil, fmt.Errorf("failed to get user info: %w", classify(err))
		}
		c.account.Email = acct.Email
	}

	return c, nil
}

func (c *Client) Provider() model.Provider { return model.ProviderDropbox }
func (c *Client) Number() int              { return c.account.Number }
func (c *Client) Account() string          { return c.account.Email }

// RefreshToken returns the refresh token currently in use.
func (c *Client) RefreshToken() string { return c.tokenSource.GetRefreshToken() }

// CheckStorage returns the allocated and used space. For team accounts the
// team allocation is reported.
func (c *Client) CheckStorage(ctx context.Context) (*model.QuotaInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usage, err := c.users.GetSpaceUsage()
	if err != nil {
		return nil, fmt.Errorf("failed to get space usage: %w", classify(err))
	}

	q := &model.QuotaInfo{Used: int64(usage.Used)}
	if usage.Allocation != nil {
		switch usage.Allocation.Tag {
		case users.SpaceAllocationIndividual:
			if usage.Allocation.Individual != nil {
				q.Limit = int64(usage.Allocation.Individual.Allocated)
			}
		case users.SpaceAllocationTeam:
			if usage.Allocation.Team != nil {
				q.Limit = int64(usage.Allocation.Team.Allocated)
				q.Used = int64(usage.Allocation.Team.Used)
			}
		}
	}
	return q, nil
}

// Upload stores r as /syncly/name. Dropbox picks the content type from the
// name, so contentType is unused. An existing object with the same name is
// kept and the new one is renamed by Dropbox; the returned RemoteFile carries
// the stored name.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (*model.RemoteFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := path.Join(syncFolder, name)

	var meta *files.FileMetadata
	var err error
	if size <= singleUploadLimit {
		arg := files.NewUploadArg(p)
		arg.Autorename = true
		meta, err = c.files.Upload(arg, r)
	} else {
		meta, err = c.uploadSession(ctx, p, r, size)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, classify(err))
	}

	warnRenamed(api.Tags(c), name, meta.Name)
	logger.InfoTagged(api.Tags(c), "Uploaded %s (%d bytes)", meta.Name, size)
	return c.remoteFile(meta), nil
}

// warnRenamed reports an autorenamed upload and returns whether it happened.
// Name scans will not find the renamed object under its requested name.
func warnRenamed(tags []string, requested, stored string) bool {
	if stored == "" || stored == path.Base(requested) {
		return false
	}
	logger.WarningTagged(tags, "%s already exists; stored as %s", requested, stored)
	return true
}

func (c *Client) uploadSession(ctx context.Context, p string, r io.Reader, size int64) (*files.FileMetadata, error) {
	first := min(size, sessionChunk)
	start, err := c.files.UploadSessionStart(files.NewUploadSessionStartArg(), io.LimitReader(r, first))
	if err != nil {
		return nil, err
	}

	offset := uint64(first)
	for int64(offset) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(size-int64(offset), sessionChunk)
		if int64(offset)+n == size {
			break
		}
		cursor := files.NewUploadSessionCursor(start.SessionId, offset)
		if err := c.files.UploadSessionAppendV2(files.NewUploadSessionAppendArg(cursor), io.LimitReader(r, n)); err != nil {
			return nil, err
		}
		offset += uint64(n)
	}

	commit := files.NewCommitInfo(p)
	commit.Autorename = true
	cursor := files.NewUploadSessionCursor(start.SessionId, offset)
	return c.files.UploadSessionFinish(files.NewUploadSessionFinishArg(cursor, commit), r)
}

// Download writes the content of the object with the given id to w.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, content, err := c.files.Download(files.NewDownloadArg(fileID))
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", fileID, classify(err))
	}
	defer content.Close()

	if _, err := io.Copy(w, content); err != nil {
		return fmt.Errorf("failed to read %s: %w", fileID, classify(err))
	}
	return nil
}

// List returns the objects under /syncly whose name contains nameFilter.
func (c *Client) List(ctx context.Context, nameFilter string) ([]model.RemoteFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := c.files.ListFolder(files.NewListFolderArg(syncFolder))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", classify(err))
	}

	var out []model.RemoteFile
	for {
		for _, entry := range res.Entries {
			f, ok := entry.(*files.FileMetadata)
			if !ok || !matches(f.Name, nameFilter) {
				continue
			}
			out = append(out, *c.remoteFile(f))
		}
		if !res.HasMore {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err = c.files.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", classify(err))
		}
	}
	return out, nil
}

func (c *Client) remoteFile(f *files.FileMetadata) *model.RemoteFile {
	return &model.RemoteFile{
		ID:           f.Id,
		Name:         f.Name,
		Size:         int64(f.Size),
		Provider:     model.ProviderDropbox,
		BucketNumber: c.account.Number,
		Account:      c.account.Email,
	}
}

// matches reports whether name contains filter. Dropbox paths are case-insensitive.
func matches(name, filter string) bool {
	return filter == "" || strings.Contains(strings.ToLower(name), strings.ToLower(filter))
}

func isNotFound(err error) bool {
	if apiErr, ok := asValue[files.ListFolderAPIError](err); ok {
		e := apiErr.EndpointError
		return e != nil && e.Path != nil && e.Path.Tag == files.LookupErrorNotFound
	}
	return false
}

// classify maps Dropbox SDK errors onto the api error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := asValue[files.UploadAPIError](err); ok {
		e := apiErr.EndpointError
		if e != nil && e.Path != nil && e.Path.Reason != nil && e.Path.Reason.Tag == files.WriteErrorInsufficientSpace {
			return fmt.Errorf("%w: %v", api.ErrQuotaExceeded, err)
		}
	}
	if apiErr, ok := asValue[files.UploadSessionFinishAPIError](err); ok {
		e := apiErr.EndpointError
		if e != nil && e.Path != nil && e.Path.Tag == files.WriteErrorInsufficientSpace {
			return fmt.Errorf("%w: %v", api.ErrQuotaExceeded, err)
		}
	}
	if _, ok := asValue[dbxauth.RateLimitAPIError](err); ok {
		return api.Transient(err)
	}
	if _, ok := asValue[dbxauth.AuthAPIError](err); ok {
		return fmt.Errorf("%w: %v", api.ErrAuthenticationFailed, err)
	}
	if internal, ok := asValue[dbx.SDKInternalError](err); ok {
		if internal.StatusCode == http.StatusTooManyRequests || internal.StatusCode >= 500 {
			return api.Transient(err)
		}
		return err
	}
	if api.IsNetworkError(err) {
		return api.Transient(err)
	}
	return err
}

// asValue matches SDK errors that may be returned either by value or by pointer.
func asValue[T error](err error) (T, bool) {
	var v T
	if errors.As(err, &v) {
		return v, true
	}
	var p *T
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return v, false
}

var _ api.Bucket = (*Client)(nil)
