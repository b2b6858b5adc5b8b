package people

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
)

// IsTransientStatusCode reports whether an HTTP status is worth retrying.
func IsTransientStatusCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isAPINotEnabled(gerr *googleapi.Error) bool {
	msg := strings.ToLower(gerr.Message)
	return strings.Contains(msg, "accessnotconfigured") ||
		strings.Contains(msg, "has not been used") ||
		strings.Contains(msg, "it is disabled")
}

// classify maps a People API failure onto the sync error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case IsTransientStatusCode(gerr.Code):
			return apperrors.Wrap(apperrors.ErrTransient, op+" failed", err)
		case gerr.Code == http.StatusUnauthorized:
			return apperrors.Wrap(apperrors.ErrAuth, op+": credentials rejected", err)
		case gerr.Code == http.StatusForbidden && isAPINotEnabled(gerr):
			return apperrors.Wrap(apperrors.ErrPolicy, op+": People API is not enabled for this project", err)
		case gerr.Code == http.StatusForbidden:
			return apperrors.Wrap(apperrors.ErrAuth, op+": access denied", err)
		case gerr.Code == http.StatusNotFound:
			return apperrors.Wrap(apperrors.ErrData, op+": not found", err)
		default:
			return apperrors.Wrap(apperrors.ErrData, op+" rejected", err)
		}
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return apperrors.Wrap(apperrors.ErrAuth, op+": token refresh failed", err)
	}

	// Anything else failed in transport.
	return apperrors.Wrap(apperrors.ErrTransient, op+" failed", err)
}
