package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/auth"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/model"
)

const (
	syncFolderName = "syncly"
	folderMimeType = "application/vnd.google-apps.folder"
	uploadChunk    = 8 * 1024 * 1024

	defaultContentType = "application/octet-stream"
)

// Client is a Google Drive bucket. Objects live in a "syncly" folder at the
// root of the drive.
type Client struct {
	service     *drive.Service
	account     model.Account
	tokenSource *auth.TokenSource

	folderMu     sync.Mutex
	syncFolderID string
}

// NewClient authenticates the account and creates a Google Drive client.
// An empty account email is filled in from the Drive API.
func NewClient(ctx context.Context, account model.Account, tokenSource *auth.TokenSource) (*Client, error) {
	// Ensure token is valid and refreshed if needed
	if _, err := tokenSource.Token(); err != nil {
		return nil, fmt.Errorf("%s: %w", account.Label(), err)
	}

	service, err := drive.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	c := &Client{
		service:     service,
		account:     account,
		tokenSource: tokenSource,
	}

	if c.account.Email == "" {
		about, err := service.About.Get().Fields("user(emailAddress)").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get user info: %w", classify(err))
		}
		if about.User != nil {
			c.account.Email = about.User.EmailAddress
		}
	}

	return c, nil
}

func (c *Client) Provider() model.Provider { return model.ProviderGoogle }
func (c *Client) Number() int              { return c.account.Number }
func (c *Client) Account() string          { return c.account.Email }

// RefreshToken returns the refresh token currently in use.
func (c *Client) RefreshToken() string { return c.tokenSource.GetRefreshToken() }

// CheckStorage returns the drive quota. Accounts without a fixed limit
// report a zero Limit.
func (c *Client) CheckStorage(ctx context.Context) (*model.QuotaInfo, error) {
	about, err := c.service.About.Get().Fields("storageQuota(limit,usage)").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get storage quota: %w", classify(err))
	}
	if about.StorageQuota == nil {
		return &model.QuotaInfo{}, nil
	}
	return &model.QuotaInfo{
		Limit: about.StorageQuota.Limit,
		Used:  about.StorageQuota.Usage,
	}, nil
}

// Upload stores r as name in the sync folder. Without a contentType the
// object is stored as application/octet-stream.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (*model.RemoteFile, error) {
	folderID, err := c.ensureSyncFolder(ctx)
	if err != nil {
		return nil, err
	}

	meta := newFileMeta(name, contentType, folderID)
	created, err := c.service.Files.Create(meta).
		Media(r, googleapi.ChunkSize(uploadChunk), googleapi.ContentType(meta.MimeType)).
		Fields("id, name, size").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, classify(err))
	}

	logger.InfoTagged(api.Tags(c), "Uploaded %s (%d bytes)", name, size)
	return c.remoteFile(created), nil
}

func newFileMeta(name, contentType, folderID string) *drive.File {
	if contentType == "" {
		contentType = defaultContentType
	}
	return &drive.File{
		Name:     name,
		MimeType: contentType,
		Parents:  []string{folderID},
	}
}

// Download writes the content of the file with the given id to w.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) error {
	resp, err := c.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", fileID, classify(err))
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read %s: %w", fileID, classify(err))
	}
	return nil
}

// List returns the files of the sync folder whose name contains nameFilter.
func (c *Client) List(ctx context.Context, nameFilter string) ([]model.RemoteFile, error) {
	folderID, err := c.findSyncFolder(ctx)
	if err != nil {
		return nil, err
	}
	if folderID == "" {
		return nil, nil
	}

	query := fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed=false", folderID, folderMimeType)
	if nameFilter != "" {
		query += fmt.Sprintf(" and name contains '%s'", escapeQuery(nameFilter))
	}

	var files []model.RemoteFile
	pageToken := ""
	for {
		call := c.service.Files.List().Q(query).
			Fields("nextPageToken, files(id, name, size)").
			PageSize(1000).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		fileList, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", classify(err))
		}
		for _, f := range fileList.Files {
			files = append(files, *c.remoteFile(f))
		}

		if fileList.NextPageToken == "" {
			break
		}
		pageToken = fileList.NextPageToken
	}

	return files, nil
}

// findSyncFolder returns the sync folder id, or "" when it does not exist yet.
func (c *Client) findSyncFolder(ctx context.Context) (string, error) {
	c.folderMu.Lock()
	defer c.folderMu.Unlock()
	return c.findSyncFolderLocked(ctx)
}

func (c *Client) findSyncFolderLocked(ctx context.Context) (string, error) {
	if c.syncFolderID != "" {
		return c.syncFolderID, nil
	}

	query := fmt.Sprintf("name='%s' and mimeType='%s' and 'root' in parents and trashed=false", syncFolderName, folderMimeType)
	fileList, err := c.service.Files.List().Q(query).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to search for sync folder: %w", classify(err))
	}

	if len(fileList.Files) > 1 {
		logger.WarningTagged(api.Tags(c), "Multiple '%s' folders found, using %s", syncFolderName, fileList.Files[0].Id)
	}
	if len(fileList.Files) > 0 {
		c.syncFolderID = fileList.Files[0].Id
	}
	return c.syncFolderID, nil
}

func (c *Client) ensureSyncFolder(ctx context.Context) (string, error) {
	c.folderMu.Lock()
	defer c.folderMu.Unlock()

	id, err := c.findSyncFolderLocked(ctx)
	if err != nil || id != "" {
		return id, err
	}

	folder := &drive.File{
		Name:     syncFolderName,
		MimeType: folderMimeType,
		Parents:  []string{"root"},
	}
	created, err := c.service.Files.Create(folder).Fields("id, name").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create sync folder: %w", classify(err))
	}

	c.syncFolderID = created.Id
	logger.InfoTagged(api.Tags(c), "Created sync folder '%s' (ID: %s)", syncFolderName, c.syncFolderID)
	return c.syncFolderID, nil
}

func (c *Client) remoteFile(f *drive.File) *model.RemoteFile {
	return &model.RemoteFile{
		ID:           f.Id,
		Name:         f.Name,
		Size:         f.Size,
		Provider:     model.ProviderGoogle,
		BucketNumber: c.account.Number,
		Account:      c.account.Email,
	}
}

// escapeQuery escapes a value for use inside a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// classify maps Drive API errors onto the api error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "storageQuotaExceeded", "teamDriveFileLimitExceeded":
				return fmt.Errorf("%w: %v", api.ErrQuotaExceeded, err)
			case "rateLimitExceeded", "userRateLimitExceeded", "backendError", "internalError":
				return api.Transient(err)
			}
		}
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", api.ErrAuthenticationFailed, err)
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return api.Transient(err)
		}
		return err
	}

	if api.IsNetworkError(err) {
		return api.Transient(err)
	}
	return err
}

var _ api.Bucket = (*Client)(nil)
