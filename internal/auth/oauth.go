package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/model"
)

const (
	// OAuth redirect URI for local callback server
	RedirectURL  = "http://localhost:8080/callback"
	callbackAddr = "localhost:8080"
	flowTimeout  = 5 * time.Minute

	// Google OAuth scopes
	GoogleDriveScope = "https://www.googleapis.com/auth/drive"
	GoogleEmailScope = "https://www.googleapis.com/auth/userinfo.email"

	// Microsoft OAuth scopes
	MicrosoftFilesScope   = "files.readwrite.all"
	MicrosoftUserScope    = "user.read"
	MicrosoftOfflineScope = "offline_access"

	// Dropbox scopes; the app must have them enabled in its console
	DropboxWriteScope   = "files.content.write"
	DropboxReadScope    = "files.content.read"
	DropboxMetaScope    = "files.metadata.read"
	DropboxAccountScope = "account_info.read"
)

// OAuthConfig creates an OAuth2 configuration for a provider
func OAuthConfig(provider model.Provider, creds model.ClientCredentials) (*oauth2.Config, error) {
	switch provider {
	case model.ProviderGoogle:
		return &oauth2.Config{
			ClientID:     creds.ID,
			ClientSecret: creds.Secret,
			RedirectURL:  RedirectURL,
			Scopes: []string{
				GoogleDriveScope,
				GoogleEmailScope,
			},
			Endpoint: google.Endpoint,
		}, nil

	case model.ProviderDropbox:
		return &oauth2.Config{
			ClientID:     creds.ID,
			ClientSecret: creds.Secret,
			RedirectURL:  RedirectURL,
			Scopes: []string{
				DropboxWriteScope,
				DropboxReadScope,
				DropboxMetaScope,
				DropboxAccountScope,
			},
			Endpoint: dropbox.OAuthEndpoint(""),
		}, nil

	case model.ProviderMicrosoft:
		return &oauth2.Config{
			ClientID:     creds.ID,
			ClientSecret: creds.Secret,
			RedirectURL:  RedirectURL,
			Scopes: []string{
				MicrosoftFilesScope,
				MicrosoftUserScope,
				MicrosoftOfflineScope,
			},
			Endpoint: microsoft.AzureADEndpoint("common"), // Supports both personal and organizational accounts
		}, nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// authCodeOptions returns the parameters that make a provider issue a refresh token.
func authCodeOptions(provider model.Provider) []oauth2.AuthCodeOption {
	if provider == model.ProviderDropbox {
		return []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("token_access_type", "offline")}
	}
	return []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
}

// PerformOAuthFlow initiates the OAuth flow and returns the refresh token
func PerformOAuthFlow(ctx context.Context, provider model.Provider, config *oauth2.Config) (string, error) {
	state, err := generateRandomState()
	if err != nil {
		return "", err
	}

	authURL := config.AuthCodeURL(state, authCodeOptions(provider)...)

	logger.Info("Please visit this URL to authorize the application:")
	logger.Info("%s", authURL)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", callbackHandler(state, codeChan, errChan))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}

	var code string
	select {
	case code = <-codeChan:
		shutdown()
	case err := <-errChan:
		shutdown()
		return "", err
	case <-ctx.Done():
		shutdown()
		return "", ctx.Err()
	case <-time.After(flowTimeout):
		shutdown()
		return "", fmt.Errorf("OAuth flow timed out after %v", flowTimeout)
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if token.RefreshToken == "" {
		return "", fmt.Errorf("no refresh token received (user may have already authorized)")
	}

	return token.RefreshToken, nil
}

func callbackHandler(state string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			sendErr(errChan, fmt.Errorf("state mismatch"))
			fmt.Fprintf(w, "Error: State mismatch. You can close this window.")
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			sendErr(errChan, fmt.Errorf("no authorization code received"))
			fmt.Fprintf(w, "Error: No authorization code received. You can close this window.")
			return
		}

		select {
		case codeChan <- code:
		default:
		}
		fmt.Fprintf(w, "Authorization successful! You can close this window and return to the terminal.")
	}
}

func sendErr(errChan chan<- error, err error) {
	select {
	case errChan <- err:
	default:
	}
}

// generateRandomState creates a random state string for OAuth CSRF protection
func generateRandomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
