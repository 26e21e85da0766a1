package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/FranLegon/syncly/internal/model"
)

func TestSaveAndLoadConfig(t *testing.T) {
	home := t.TempDir()
	password := "testPassword123!"

	cfg := &model.Config{
		GoogleClient: model.ClientCredentials{ID: "g-id", Secret: "g-secret"},
		Owner:        "alice",
		Accounts: []model.Account{
			{Provider: model.ProviderGoogle, Number: 1, Email: "a@example.com", RefreshToken: "rt"},
		},
	}

	if err := Initialize(home, password, cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !Exists(home) {
		t.Fatal("Config file was not created")
	}

	loaded, err := LoadConfig(home, password)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Owner != "alice" || len(loaded.Accounts) != 1 {
		t.Fatalf("Unexpected config: %+v", loaded)
	}
	if loaded.Accounts[0].RefreshToken != "rt" {
		t.Error("Refresh token not round-tripped")
	}

	raw, err := os.ReadFile(filepath.Join(home, ConfigFileName))
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	if string(raw) == "" || bytes.Contains(raw, []byte("a@example.com")) {
		t.Error("Config file is not encrypted")
	}
}

func TestLoadConfigWrongPassword(t *testing.T) {
	home := t.TempDir()
	if err := Initialize(home, "correctPassword", &model.Config{}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, err := LoadConfig(home, "wrongPassword"); err == nil {
		t.Fatal("Config decrypted with wrong password (should have failed)")
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := LoadConfig(t.TempDir(), "whatever123"); err == nil {
		t.Fatal("Expected error when no config exists")
	}
}

func TestLoadSettingsFromEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SYNCLY_HOME", home)
	t.Setenv("SYNCLY_METADATA_BACKEND", BackendJSON)
	t.Setenv("SYNCLY_CONCURRENCY", "8")
	t.Setenv("SYNCLY_RETRY_ATTEMPTS", "not-a-number")

	s := LoadSettings()
	if s.Home != home {
		t.Errorf("Expected home %s, got %s", home, s.Home)
	}
	if s.MetadataBackend != BackendJSON {
		t.Errorf("Expected json backend, got %s", s.MetadataBackend)
	}
	if s.Concurrency != 8 {
		t.Errorf("Expected concurrency 8, got %d", s.Concurrency)
	}
	if s.RetryAttempts != 3 {
		t.Errorf("Expected default retry attempts, got %d", s.RetryAttempts)
	}
	if s.Path("metadata.db") != filepath.Join(home, "metadata.db") {
		t.Errorf("Unexpected path %s", s.Path("metadata.db"))
	}
}

func TestGetMasterPasswordFromEnv(t *testing.T) {
	password, err := GetMasterPassword(Settings{MasterPassword: "fromEnvironment"}, true)
	if err != nil {
		t.Fatalf("GetMasterPassword failed: %v", err)
	}
	if password != "fromEnvironment" {
		t.Errorf("Unexpected password %q", password)
	}
}
