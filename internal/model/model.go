package model

import (
	"fmt"
	"time"
)

// Provider represents a cloud storage provider
type Provider string

const (
	ProviderGoogle    Provider = "GoogleDrive"
	ProviderDropbox   Provider = "Dropbox"
	ProviderMicrosoft Provider = "OneDrive"
)

// Providers lists every provider an account can be linked with, in display order.
var Providers = []Provider{ProviderGoogle, ProviderDropbox, ProviderMicrosoft}

// ParseProvider maps user input onto a known provider.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported provider: %s", s)
}

// Account is one linked storage account (a "bucket") as persisted in the config.
type Account struct {
	Provider     Provider `json:"provider"`
	Number       int      `json:"number"`
	Email        string   `json:"email"`
	RefreshToken string   `json:"refresh_token"`
}

// Label identifies the account in logs and CLI output, e.g. "Dropbox #2".
func (a Account) Label() string {
	return fmt.Sprintf("%s #%d", a.Provider, a.Number)
}

// ClientCredentials holds the OAuth 2.0 client ID and secret for a provider's API.
type ClientCredentials struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// Config is the decrypted application configuration.
type Config struct {
	GoogleClient    ClientCredentials `json:"google_client"`
	DropboxClient   ClientCredentials `json:"dropbox_client"`
	MicrosoftClient ClientCredentials `json:"microsoft_client"`
	Owner           string            `json:"owner"`
	Accounts        []Account         `json:"accounts"`
}

// NextBucketNumber returns the lowest unused bucket number for a provider.
func (c *Config) NextBucketNumber(p Provider) int {
	used := make(map[int]bool)
	for _, a := range c.Accounts {
		if a.Provider == p {
			used[a.Number] = true
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return n
}

// Credentials returns the OAuth client credentials configured for a provider.
func (c *Config) Credentials(p Provider) ClientCredentials {
	switch p {
	case ProviderGoogle:
		return c.GoogleClient
	case ProviderDropbox:
		return c.DropboxClient
	case ProviderMicrosoft:
		return c.MicrosoftClient
	}
	return ClientCredentials{}
}

// QuotaInfo represents storage quota information for one bucket.
// A Limit of zero or less means the provider reported no fixed limit.
type QuotaInfo struct {
	Limit int64 `json:"limit"`
	Used  int64 `json:"used"`
}

// RemoteFile is an object as listed by a provider.
type RemoteFile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Size         int64    `json:"size"`
	Provider     Provider `json:"provider"`
	BucketNumber int      `json:"bucket_number"`
	Account      string   `json:"account"`
}

// ChunkPlacement records where one contiguous byte range of an upload lives.
// Its position inside UploadMetadata.Chunks is its order in reconstruction.
type ChunkPlacement struct {
	ChunkName    string   `json:"chunk_name" bson:"chunk_name"`
	Provider     Provider `json:"provider" bson:"provider"`
	BucketNumber int      `json:"bucket_number" bson:"bucket_number"`
	Account      string   `json:"account" bson:"account"`
	FileID       string   `json:"file_id" bson:"file_id"`
	Offset       int64    `json:"offset" bson:"offset"`
	Size         int64    `json:"size" bson:"size"`
	SHA256       string   `json:"sha256,omitempty" bson:"sha256,omitempty"`
}

// UploadMetadata is the record written after a successful upload.
type UploadMetadata struct {
	ID          string           `json:"id" bson:"_id"`
	Owner       string           `json:"owner,omitempty" bson:"owner,omitempty"`
	FileName    string           `json:"file_name" bson:"file_name"`
	Size        int64            `json:"size" bson:"size"`
	ContentType string           `json:"content_type,omitempty" bson:"content_type,omitempty"`
	SHA256      string           `json:"sha256,omitempty" bson:"sha256,omitempty"`
	CreatedAt   time.Time        `json:"created_at" bson:"created_at"`
	Chunks      []ChunkPlacement `json:"chunks" bson:"chunks"`
}

// Split reports whether the upload was stored as more than one chunk.
func (m *UploadMetadata) Split() bool {
	return len(m.Chunks) > 1
}
