package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrMessageNotFound indicates the message id does not exist in the
	// user's mailbox.
	ErrMessageNotFound = errors.New("message not found")

	// ErrPermissionDenied indicates the granted scopes do not cover the
	// attempted operation.
	ErrPermissionDenied = errors.New("permission denied by provider")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited by provider")
)

// mapGoogleError translates googleapi errors into the gateway's error kinds.
// Anything unrecognized passes through wrapped with the operation name.
func mapGoogleError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, ErrMessageNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", op, ErrRateLimited)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
