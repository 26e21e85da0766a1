package model

import (
	"testing"
)

func TestProviderConstants(t *testing.T) {
	if ProviderGoogle != "GoogleDrive" {
		t.Errorf("Expected ProviderGoogle to be 'GoogleDrive', got %s", ProviderGoogle)
	}
	if ProviderDropbox != "Dropbox" {
		t.Errorf("Expected ProviderDropbox to be 'Dropbox', got %s", ProviderDropbox)
	}
	if ProviderMicrosoft != "OneDrive" {
		t.Errorf("Expected ProviderMicrosoft to be 'OneDrive', got %s", ProviderMicrosoft)
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("Dropbox")
	if err != nil {
		t.Fatalf("ParseProvider returned error: %v", err)
	}
	if p != ProviderDropbox {
		t.Errorf("Expected Dropbox, got %s", p)
	}

	if _, err := ParseProvider("Telegram"); err == nil {
		t.Error("Expected error for unsupported provider")
	}
}

func TestNextBucketNumber(t *testing.T) {
	config := Config{
		Accounts: []Account{
			{Provider: ProviderGoogle, Number: 1, Email: "a@example.com"},
			{Provider: ProviderGoogle, Number: 3, Email: "b@example.com"},
			{Provider: ProviderDropbox, Number: 1, Email: "c@example.com"},
		},
	}

	if n := config.NextBucketNumber(ProviderGoogle); n != 2 {
		t.Errorf("Expected next Google bucket 2, got %d", n)
	}
	if n := config.NextBucketNumber(ProviderDropbox); n != 2 {
		t.Errorf("Expected next Dropbox bucket 2, got %d", n)
	}
	if n := config.NextBucketNumber(ProviderMicrosoft); n != 1 {
		t.Errorf("Expected next OneDrive bucket 1, got %d", n)
	}
}

func TestCredentials(t *testing.T) {
	config := Config{
		GoogleClient:  ClientCredentials{ID: "g-id", Secret: "g-secret"},
		DropboxClient: ClientCredentials{ID: "d-id", Secret: "d-secret"},
	}

	if config.Credentials(ProviderDropbox).ID != "d-id" {
		t.Error("Dropbox credentials not returned")
	}
	if config.Credentials(ProviderMicrosoft).ID != "" {
		t.Error("Expected empty OneDrive credentials")
	}
}

func TestUploadMetadataSplit(t *testing.T) {
	meta := UploadMetadata{
		FileName: "report.pdf",
		Chunks:   []ChunkPlacement{{ChunkName: "report.pdf"}},
	}
	if meta.Split() {
		t.Error("Single chunk upload reported as split")
	}

	meta.Chunks = append(meta.Chunks, ChunkPlacement{ChunkName: "report.pdf_part2"})
	if !meta.Split() {
		t.Error("Two chunk upload not reported as split")
	}
}

func TestAccountLabel(t *testing.T) {
	account := Account{Provider: ProviderDropbox, Number: 2}
	if account.Label() != "Dropbox #2" {
		t.Errorf("Unexpected label %q", account.Label())
	}
}
