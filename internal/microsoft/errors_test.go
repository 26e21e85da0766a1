package microsoft

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"golang.org/x/oauth2"

	"github.com/FranLegon/syncly/internal/api"
)

func graphError(status int, code string) *odataerrors.ODataError {
	e := odataerrors.NewODataError()
	e.ResponseStatusCode = status
	main := odataerrors.NewMainError()
	main.SetCode(&code)
	msg := "message for " + code
	main.SetMessage(&msg)
	e.SetErrorEscaped(main)
	return e
}

func TestClassify(t *testing.T) {
	if err := classify(graphError(http.StatusInsufficientStorage, "quotaLimitReached")); !errors.Is(err, api.ErrQuotaExceeded) {
		t.Errorf("Expected quota error, got %v", err)
	}
	if err := classify(graphError(http.StatusTooManyRequests, "activityLimitReached")); !api.IsTransient(err) {
		t.Errorf("Expected transient error, got %v", err)
	}
	if err := classify(graphError(http.StatusServiceUnavailable, "serviceNotAvailable")); !api.IsTransient(err) {
		t.Errorf("Expected transient error, got %v", err)
	}
	if err := classify(graphError(http.StatusUnauthorized, "InvalidAuthenticationToken")); !errors.Is(err, api.ErrAuthenticationFailed) {
		t.Errorf("Expected auth error, got %v", err)
	}

	err := classify(graphError(http.StatusBadRequest, "invalidRequest"))
	if errors.Is(err, api.ErrQuotaExceeded) || api.IsTransient(err) {
		t.Errorf("Expected a plain error, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	if !errors.Is(statusError(507, "507 Insufficient Storage"), api.ErrQuotaExceeded) {
		t.Error("Expected 507 to be a quota error")
	}
	if !api.IsTransient(statusError(503, "503 Service Unavailable")) {
		t.Error("Expected 503 to be transient")
	}
	if api.IsTransient(statusError(416, "416 Requested Range Not Satisfiable")) {
		t.Error("Expected 416 not to be transient")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(graphError(http.StatusNotFound, "itemNotFound")) {
		t.Error("Expected itemNotFound to be detected")
	}
	if isNotFound(errors.New("boom")) {
		t.Error("Unexpected not found")
	}
}

func TestItemPath(t *testing.T) {
	if got := itemPath(""); got != "root:/syncly:" {
		t.Errorf("Unexpected folder path %s", got)
	}
	if got := itemPath("a.bin_part2"); got != "root:/syncly/a.bin_part2:" {
		t.Errorf("Unexpected item path %s", got)
	}
}

func TestTokenSourceAdapter(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	adapter := &tokenSourceAdapter{ts: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at", Expiry: expiry})}

	tok, err := adapter.GetToken(context.Background(), policy.TokenRequestOptions{Scopes: []string{graphScope}})
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if tok.Token != "at" || !tok.ExpiresOn.Equal(expiry) {
		t.Errorf("Unexpected token %+v", tok)
	}
}
