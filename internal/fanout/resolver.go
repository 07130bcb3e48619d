package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// DefaultBroadcastSentinel is the recipient value that targets every registered device.
const DefaultBroadcastSentinel = "everyone"

// Resolver turns a recipient (identifier or broadcast sentinel) into the device tokens to send to.
type Resolver struct {
	registry  dispatch.Registry
	broadcast string
	logger    *slog.Logger
}

// NewResolver creates a Resolver. An empty sentinel falls back to DefaultBroadcastSentinel.
func NewResolver(registry dispatch.Registry, broadcastSentinel string, logger *slog.Logger) *Resolver {
	if broadcastSentinel == "" {
		broadcastSentinel = DefaultBroadcastSentinel
	}
	return &Resolver{
		registry:  registry,
		broadcast: broadcastSentinel,
		logger:    logger.With("component", "Resolver"),
	}
}

// IsBroadcast reports whether recipient addresses every user.
func (r *Resolver) IsBroadcast(recipient string) bool {
	return recipient == r.broadcast
}

// Resolve returns the deduplicated device tokens for recipient, in registry order.
// A known user without a token yields an empty slice and no error.
func (r *Resolver) Resolve(ctx context.Context, recipient string) ([]string, error) {
	if r.IsBroadcast(recipient) {
		users, err := r.registry.GetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning users: %w", ErrStorage, err)
		}
		tokens := collectTokens(users)
		r.logger.Debug("Resolved broadcast recipients", "users", len(users), "tokens", len(tokens))
		return tokens, nil
	}

	user, err := r.registry.GetByIdentifier(ctx, recipient)
	if err != nil {
		if errors.Is(err, dispatch.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, recipient)
		}
		return nil, fmt.Errorf("%w: looking up %s: %w", ErrStorage, recipient, err)
	}
	return collectTokens([]dispatch.UserRecord{*user}), nil
}

func collectTokens(users []dispatch.UserRecord) []string {
	seen := make(map[string]struct{}, len(users))
	tokens := make([]string, 0, len(users))
	for _, u := range users {
		if !u.HasToken() {
			continue
		}
		if _, dup := seen[u.DeviceToken]; dup {
			continue
		}
		seen[u.DeviceToken] = struct{}{}
		tokens = append(tokens, u.DeviceToken)
	}
	return tokens
}
