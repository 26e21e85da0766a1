package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/FranLegon/syncly/internal/crypto"
	"github.com/FranLegon/syncly/internal/model"
	"github.com/joho/godotenv"
	"github.com/manifoldco/promptui"
)

const (
	// ConfigFileName is the name of the encrypted configuration file.
	ConfigFileName = "config.json.enc"
	// EnvFileName holds optional environment overrides.
	EnvFileName = ".env"

	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendMongo  = "mongo"
)

// Settings are the non-secret runtime options, read from the environment
// after the optional .env file in the data directory has been loaded.
type Settings struct {
	Home            string
	MetadataBackend string
	MongoURI        string
	Owner           string
	Concurrency     int
	RetryAttempts   int
	Pushgateway     string
	MasterPassword  string
}

// GetHome returns the data directory: SYNCLY_HOME or the executable's directory.
func GetHome() string {
	if home := os.Getenv("SYNCLY_HOME"); home != "" {
		return home
	}
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}

// LoadSettings loads .env (if present) and resolves all settings.
func LoadSettings() Settings {
	home := GetHome()
	_ = godotenv.Load(filepath.Join(home, EnvFileName))
	// SYNCLY_HOME may itself come from .env in the working directory.
	_ = godotenv.Load()
	home = GetHome()

	return Settings{
		Home:            home,
		MetadataBackend: getString("SYNCLY_METADATA_BACKEND", BackendSQLite),
		MongoURI:        getString("SYNCLY_MONGO_URI", "mongodb://localhost:27017"),
		Owner:           os.Getenv("SYNCLY_USER"),
		Concurrency:     getInt("SYNCLY_CONCURRENCY", 4),
		RetryAttempts:   getInt("SYNCLY_RETRY_ATTEMPTS", 3),
		Pushgateway:     os.Getenv("SYNCLY_PUSHGATEWAY"),
		MasterPassword:  os.Getenv("SYNCLY_MASTER_PASSWORD"),
	}
}

// Path returns a file path inside the data directory.
func (s Settings) Path(name string) string {
	return filepath.Join(s.Home, name)
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Exists reports whether an encrypted config is present in home.
func Exists(home string) bool {
	_, err := os.Stat(filepath.Join(home, ConfigFileName))
	return err == nil
}

// Initialize creates a fresh salt and writes cfg encrypted under password.
func Initialize(home, password string, cfg *model.Config) error {
	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if _, err := crypto.GenerateAndSaveSalt(filepath.Join(home, crypto.SaltFileName)); err != nil {
		return fmt.Errorf("failed to create salt: %w", err)
	}
	return SaveConfig(home, password, cfg)
}

// LoadConfig decrypts and loads the application configuration.
// It requires the user's master password to derive the decryption key.
func LoadConfig(home, password string) (*model.Config, error) {
	salt, err := crypto.LoadSalt(filepath.Join(home, crypto.SaltFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("salt file not found. please run the 'init' command first")
		}
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	ciphertext, err := os.ReadFile(filepath.Join(home, ConfigFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("config file not found. please run the 'init' command first")
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	plaintext, err := crypto.Decrypt(ciphertext, crypto.DeriveKey(password, salt))
	if err != nil {
		return nil, errors.New("failed to decrypt config: master password may be incorrect")
	}

	var cfg model.Config
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig encrypts cfg and writes it to the data directory.
func SaveConfig(home, password string, cfg *model.Config) error {
	salt, err := crypto.LoadSalt(filepath.Join(home, crypto.SaltFileName))
	if err != nil {
		return fmt.Errorf("failed to read salt before saving config: %w", err)
	}

	plaintext, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	ciphertext, err := crypto.Encrypt(plaintext, crypto.DeriveKey(password, salt))
	if err != nil {
		return fmt.Errorf("failed to encrypt config for saving: %w", err)
	}

	// Write with permissions that only allow the current user to read/write.
	return os.WriteFile(filepath.Join(home, ConfigFileName), ciphertext, 0600)
}

// GetMasterPassword returns SYNCLY_MASTER_PASSWORD when set, otherwise it
// prompts without echoing the characters to the terminal.
func GetMasterPassword(s Settings, confirm bool) (string, error) {
	if s.MasterPassword != "" {
		return s.MasterPassword, nil
	}

	validate := func(input string) error {
		if len(input) < 8 {
			return errors.New("password must be at least 8 characters long")
		}
		return nil
	}

	prompt := promptui.Prompt{
		Label:    "Enter Master Password",
		Mask:     '*',
		Validate: validate,
	}

	password, err := prompt.Run()
	if err != nil {
		return "", err
	}

	if confirm {
		confirmPrompt := promptui.Prompt{
			Label:    "Confirm Master Password",
			Mask:     '*',
			Validate: validate,
		}
		confirmation, err := confirmPrompt.Run()
		if err != nil {
			return "", err
		}
		if password != confirmation {
			return "", errors.New("passwords do not match")
		}
	}

	return password, nil
}

// PromptInput asks for a single line of input.
func PromptInput(label string) (string, error) {
	prompt := promptui.Prompt{Label: label}
	return prompt.Run()
}

// PromptSelect asks the user to pick one of items.
func PromptSelect(label string, items []string) (string, error) {
	prompt := promptui.Select{Label: label, Items: items}
	_, result, err := prompt.Run()
	return result, err
}
