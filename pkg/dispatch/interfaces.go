// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned by a Registry when a point lookup matches no user.
var ErrUserNotFound = errors.New("user not found")

// Provider defines the contract for a push-messaging backend (FCM, APNs, Web Push).
type Provider interface {
	// SendMulticast delivers msg to every token in msg.Tokens.
	// A non-nil error means the request as a whole could not be completed.
	// Otherwise exactly one Outcome is returned per token, in submission order,
	// and per-token failures are reported in the outcomes, not as an error.
	SendMulticast(ctx context.Context, msg Message) ([]Outcome, error)
}

// Registry defines the contract for the device registry: users and their device token.
type Registry interface {
	// GetAll scans every user record.
	GetAll(ctx context.Context) ([]UserRecord, error)

	// GetByIdentifier returns the user with the given identifier, or ErrUserNotFound.
	GetByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)

	// GetByTokenSet returns every user whose device token is one of tokens.
	// Callers must not pass more than MaxTokenSetSize tokens.
	GetByTokenSet(ctx context.Context, tokens []string) ([]UserRecord, error)

	// BatchClearTokens removes the device token from every record in one atomic write
	// and reports how many records were cleared.
	BatchClearTokens(ctx context.Context, records []UserRecord) (int, error)
}

// MaxTokenSetSize is the largest set GetByTokenSet accepts in one call.
const MaxTokenSetSize = 30
