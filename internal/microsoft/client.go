package microsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	kiotaauth "github.com/microsoft/kiota-authentication-azure-go"
	msgraph "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/drives"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"golang.org/x/oauth2"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/auth"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/model"
)

const (
	syncFolder = "syncly"
	graphScope = "https://graph.microsoft.com/.default"

	// Simple uploads are limited to 4 MiB. Session fragments must be a
	// multiple of 320 KiB.
	simpleUploadLimit = 4 * 1024 * 1024
	fragmentSize      = 320 * 1024 * 32
)

// tokenSourceAdapter adapts oauth2.TokenSource to azcore.TokenCredential for the Graph SDK.
type tokenSourceAdapter struct {
	ts oauth2.TokenSource
}

func (t *tokenSourceAdapter) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	token, err := t.ts.Token()
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return azcore.AccessToken{
		Token:     token.AccessToken,
		ExpiresOn: token.Expiry,
	}, nil
}

// Client is a OneDrive bucket. Objects live in a "syncly" folder at the
// root of the user's drive.
type Client struct {
	graphClient *msgraph.GraphServiceClient
	httpClient  *http.Client
	account     model.Account
	tokenSource *auth.TokenSource
	driveID     string
}

// NewClient authenticates the account and creates a Microsoft Graph client.
// An empty account email is filled in from the /me endpoint.
func NewClient(ctx context.Context, account model.Account, tokenSource *auth.TokenSource) (*Client, error) {
	if _, err := tokenSource.Token(); err != nil {
		return nil, fmt.Errorf("%s: %w", account.Label(), err)
	}

	authProvider, err := kiotaauth.NewAzureIdentityAuthenticationProviderWithScopes(&tokenSourceAdapter{ts: tokenSource}, []string{graphScope})
	if err != nil {
		return nil, fmt.Errorf("error creating graph auth provider: %w", err)
	}
	adapter, err := msgraph.NewGraphRequestAdapter(authProvider)
	if err != nil {
		return nil, fmt.Errorf("error creating graph request adapter: %w", err)
	}

	c := &Client{
		graphClient: msgraph.NewGraphServiceClient(adapter),
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		account:     account,
		tokenSource: tokenSource,
	}

	drive, err := c.graphClient.Me().Drive().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get drive: %w", classify(err))
	}
	if drive.GetId() == nil {
		return nil, errors.New("drive has no id")
	}
	c.driveID = *drive.GetId()

	if c.account.Email == "" {
		user, err := c.graphClient.Me().Get(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get user info: %w", classify(err))
		}
		if upn := user.GetUserPrincipalName(); upn != nil && *upn != "" {
			c.account.Email = *upn
		} else if mail := user.GetMail(); mail != nil {
			c.account.Email = *mail
		}
	}

	return c, nil
}

func (c *Client) Provider() model.Provider { return model.ProviderMicrosoft }
func (c *Client) Number() int              { return c.account.Number }
func (c *Client) Account() string          { return c.account.Email }

// RefreshToken returns the refresh token currently in use.
func (c *Client) RefreshToken() string { return c.tokenSource.GetRefreshToken() }

func (c *Client) CheckStorage(ctx context.Context) (*model.QuotaInfo, error) {
	drive, err := c.graphClient.Me().Drive().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get drive quota: %w", classify(err))
	}
	q := &model.QuotaInfo{}
	if quota := drive.GetQuota(); quota != nil {
		if quota.GetTotal() != nil {
			q.Limit = *quota.GetTotal()
		}
		if quota.GetUsed() != nil {
			q.Used = *quota.GetUsed()
		}
	}
	return q, nil
}

func (c *Client) items() *drives.ItemItemsRequestBuilder {
	return c.graphClient.Drives().ByDriveId(c.driveID).Items()
}

func itemPath(name string) string {
	if name == "" {
		return "root:/" + syncFolder + ":"
	}
	return "root:/" + syncFolder + "/" + name + ":"
}

// Upload stores r as /syncly/name, creating the folder on first use.
// OneDrive derives the content type from the name, so contentType is unused.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (*model.RemoteFile, error) {
	var rf *model.RemoteFile
	var err error
	if size <= simpleUploadLimit {
		rf, err = c.simpleUpload(ctx, name, r)
	} else {
		rf, err = c.resumableUpload(ctx, name, r, size)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	logger.InfoTagged(api.Tags(c), "Uploaded %s (%d bytes)", rf.Name, size)
	return rf, nil
}

func (c *Client) simpleUpload(ctx context.Context, name string, r io.Reader) (*model.RemoteFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	item, err := c.items().ByDriveItemId(itemPath(name)).Content().Put(ctx, data, nil)
	if err != nil {
		return nil, classify(err)
	}
	return c.remoteFile(item), nil
}

func (c *Client) resumableUpload(ctx context.Context, name string, r io.Reader, size int64) (*model.RemoteFile, error) {
	body := drives.NewItemItemsItemCreateUploadSessionPostRequestBody()
	props := models.NewDriveItemUploadableProperties()
	props.SetAdditionalData(map[string]interface{}{"@microsoft.graph.conflictBehavior": "rename"})
	body.SetItem(props)

	session, err := c.items().ByDriveItemId(itemPath(name)).CreateUploadSession().Post(ctx, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", classify(err))
	}
	if session.GetUploadUrl() == nil {
		return nil, errors.New("upload session has no URL")
	}
	uploadURL := *session.GetUploadUrl()

	buffer := make([]byte, fragmentSize)
	var uploaded int64
	for uploaded < size {
		n := min(int64(fragmentSize), size-uploaded)
		if _, err := io.ReadFull(r, buffer[:n]); err != nil {
			return nil, err
		}

		result, done, err := c.putFragment(ctx, uploadURL, buffer[:n], uploaded, size)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		uploaded += n
	}
	return nil, errors.New("upload finished but did not receive a final 200/201 status")
}

// uploadedItem is the part of the final upload session response we keep.
type uploadedItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// putFragment sends one byte range of an upload session. The session URL is
// pre-authenticated, so no bearer token is attached.
func (c *Client) putFragment(ctx context.Context, uploadURL string, data []byte, offset, total int64) (*model.RemoteFile, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Length", strconv.Itoa(len(data)))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(data))-1, total))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, classify(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil, false, nil
	case http.StatusOK, http.StatusCreated:
		var item uploadedItem
		if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
			return nil, false, err
		}
		return &model.RemoteFile{
			ID:           item.ID,
			Name:         item.Name,
			Size:         item.Size,
			Provider:     model.ProviderMicrosoft,
			BucketNumber: c.account.Number,
			Account:      c.account.Email,
		}, true, nil
	}
	return nil, false, statusError(resp.StatusCode, resp.Status)
}

// Download streams the item through its pre-authenticated download URL,
// falling back to the content endpoint.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) error {
	item, err := c.items().ByDriveItemId(fileID).Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get item %s: %w", fileID, classify(err))
	}

	if u, ok := item.GetAdditionalData()["@microsoft.graph.downloadUrl"].(*string); ok && u != nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, *u, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", fileID, classify(err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to download %s: %w", fileID, statusError(resp.StatusCode, resp.Status))
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("failed to read %s: %w", fileID, classify(err))
		}
		return nil
	}

	data, err := c.items().ByDriveItemId(fileID).Content().Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", fileID, classify(err))
	}
	_, err = w.Write(data)
	return err
}

// List returns the files in /syncly whose name contains nameFilter.
func (c *Client) List(ctx context.Context, nameFilter string) ([]model.RemoteFile, error) {
	page, err := c.items().ByDriveItemId(itemPath("")).Children().Get(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", classify(err))
	}

	iterator, err := msgraphcore.NewPageIterator[models.DriveItemable](page, c.graphClient.GetAdapter(), models.CreateDriveItemCollectionResponseFromDiscriminatorValue)
	if err != nil {
		return nil, fmt.Errorf("failed to create page iterator: %w", err)
	}

	var out []model.RemoteFile
	err = iterator.Iterate(ctx, func(item models.DriveItemable) bool {
		if item.GetFile() == nil || item.GetName() == nil {
			return true
		}
		if nameFilter == "" || containsFold(*item.GetName(), nameFilter) {
			out = append(out, *c.remoteFile(item))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", classify(err))
	}
	return out, nil
}

func (c *Client) remoteFile(item models.DriveItemable) *model.RemoteFile {
	rf := &model.RemoteFile{
		Provider:     model.ProviderMicrosoft,
		BucketNumber: c.account.Number,
		Account:      c.account.Email,
	}
	if item.GetId() != nil {
		rf.ID = *item.GetId()
	}
	if item.GetName() != nil {
		rf.Name = *item.GetName()
	}
	if item.GetSize() != nil {
		rf.Size = *item.GetSize()
	}
	return rf
}

var _ api.Bucket = (*Client)(nil)
