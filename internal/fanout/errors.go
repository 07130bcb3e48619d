// Package fanout implements the notification pipeline: resolve a recipient into device
// tokens, send one multicast, and clear the tokens the provider reports as dead.
package fanout

import "errors"

// Sentinel errors for pipeline stage discrimination.
// Transports map these to status codes with errors.Is.
var (
	ErrMissingParameter  = errors.New("missing parameter")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrNoTokensFound     = errors.New("no device tokens found")
	ErrProviderSend      = errors.New("push provider send failed")
	ErrStorage           = errors.New("device registry failure")
)

// IsClientError reports whether err is an expected, caller-correctable outcome.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingParameter) ||
		errors.Is(err, ErrRecipientNotFound) ||
		errors.Is(err, ErrNoTokensFound)
}
