package credentials

import "errors"

// Error taxonomy for the credential lifecycle. Each sentinel maps to a
// distinct HTTP status at the server boundary; none are swallowed and none
// are retried automatically on the server side.
var (
	// ErrNoCredential means no record exists for the user; recoverable by
	// sending the user through the authorization flow.
	ErrNoCredential = errors.New("no credential stored for user")

	// ErrReauthRequired means the refresh token was rejected by the provider
	// (revoked or expired). Terminal until the user re-authenticates; the
	// stored record is left untouched.
	ErrReauthRequired = errors.New("refresh token rejected, re-authentication required")

	// ErrTransientRefresh means the refresh attempt failed for a reason that
	// may not recur (network error, provider 5xx, rate limit). Safe for the
	// caller to retry.
	ErrTransientRefresh = errors.New("transient token refresh failure")
)
