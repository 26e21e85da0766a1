package microsoft

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"github.com/FranLegon/syncly/internal/api"
)

var transientCodes = map[string]bool{
	"activityLimitReached": true,
	"throttled":            true,
	"serviceNotAvailable":  true,
	"resourceLocked":       true,
	"generalException":     true,
}

// graphCode returns the OData error code and status, if err is a Graph error.
func graphCode(err error) (string, int, bool) {
	var odataErr *odataerrors.ODataError
	if !errors.As(err, &odataErr) {
		return "", 0, false
	}
	code := ""
	if main := odataErr.GetErrorEscaped(); main != nil && main.GetCode() != nil {
		code = *main.GetCode()
	}
	return code, odataErr.GetStatusCode(), true
}

// classify maps Graph errors onto the api error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if code, status, ok := graphCode(err); ok {
		switch {
		case code == "quotaLimitReached" || status == http.StatusInsufficientStorage:
			return fmt.Errorf("%w: %v", api.ErrQuotaExceeded, describe(err))
		case transientCodes[code] || status == http.StatusTooManyRequests || status >= 500:
			return api.Transient(fmt.Errorf("%s: %w", code, err))
		case code == "InvalidAuthenticationToken" || status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", api.ErrAuthenticationFailed, describe(err))
		}
		return fmt.Errorf("graph API error: %w", err)
	}

	if api.IsNetworkError(err) {
		return api.Transient(err)
	}
	return err
}

// statusError classifies a raw upload/download response status.
func statusError(code int, status string) error {
	err := fmt.Errorf("unexpected status %s", status)
	switch {
	case code == http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %v", api.ErrQuotaExceeded, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return api.Transient(err)
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", api.ErrAuthenticationFailed, err)
	}
	return err
}

func isNotFound(err error) bool {
	code, status, ok := graphCode(err)
	return ok && (code == "itemNotFound" || status == http.StatusNotFound)
}

func describe(err error) string {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		if main := odataErr.GetErrorEscaped(); main != nil && main.GetMessage() != nil {
			return *main.GetMessage()
		}
	}
	return err.Error()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
