// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Provider implements dispatch.Provider over APNs.
type Provider struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewProvider creates a configured APNs provider.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &Provider{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSProvider"),
	}, nil
}

// SendMulticast pushes to each token in turn; the APNs HTTP/2 API has no multicast endpoint.
// Every failure is reported per token, so the call itself only fails on cancellation.
func (p *Provider) SendMulticast(ctx context.Context, msg dispatch.Message) ([]dispatch.Outcome, error) {
	builder := payload.NewPayload().
		AlertTitle(msg.Content.Title).
		AlertBody(msg.Content.Body)
	if msg.Content.Sound != "" {
		builder.Sound(msg.Content.Sound)
	}

	outcomes := make([]dispatch.Outcome, 0, len(msg.Tokens))
	for i, deviceToken := range msg.Tokens {
		if err := ctx.Err(); err != nil {
			if i == 0 {
				return nil, err
			}
			for _, rest := range msg.Tokens[i:] {
				outcomes = append(outcomes, dispatch.Failed(rest, dispatch.ErrorKindOther, err))
			}
			break
		}

		res, err := p.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       p.topic,
			Payload:     builder,
		})
		if err != nil {
			p.logger.Error("APNs transport failed", "token_fp", dispatch.Fingerprint(deviceToken), "err", err)
			outcomes = append(outcomes, dispatch.Failed(deviceToken, dispatch.ErrorKindOther, err))
			continue
		}
		if res.Sent() {
			outcomes = append(outcomes, dispatch.Succeeded(deviceToken))
			continue
		}

		kind := ClassifyReason(res.Reason)
		if kind == dispatch.ErrorKindOther {
			// TopicDisallowed, PayloadEmpty and the like point at our configuration, not the token.
			p.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
		outcomes = append(outcomes, dispatch.Failed(deviceToken, kind, fmt.Errorf("apns: %d %s", res.StatusCode, res.Reason)))
	}
	return outcomes, nil
}

// ClassifyReason maps an APNs rejection reason onto a dispatch.ErrorKind.
// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func ClassifyReason(reason string) dispatch.ErrorKind {
	switch reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.ErrorKindInvalidToken
	case apns2.ReasonUnregistered:
		return dispatch.ErrorKindNotRegistered
	default:
		return dispatch.ErrorKindOther
	}
}
