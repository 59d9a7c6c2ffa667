package calendar

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrEventNotFound indicates the event id does not exist on the user's
	// primary calendar.
	ErrEventNotFound = errors.New("event not found")

	// ErrPermissionDenied indicates the granted scopes do not cover the
	// attempted operation.
	ErrPermissionDenied = errors.New("permission denied by provider")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited by provider")
)

func mapGoogleError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%s: %w", op, ErrEventNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", op, ErrRateLimited)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
