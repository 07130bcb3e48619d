// Package fcm delivers notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// MaxTokensPerBatch is the SendEachForMulticast limit.
const MaxTokensPerBatch = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Provider implements dispatch.Provider over FCM multicast.
type Provider struct {
	client MessagingClient
	logger *slog.Logger
}

func NewProvider(client MessagingClient, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With("component", "FCMProvider"),
	}
}

// SendMulticast sends msg to every token, MaxTokensPerBatch at a time.
// A transport failure on the first batch fails the call: nothing was delivered.
// A transport failure on a later batch marks that batch's tokens as ErrorKindOther,
// since earlier batches already reached devices.
func (p *Provider) SendMulticast(ctx context.Context, msg dispatch.Message) ([]dispatch.Outcome, error) {
	outcomes := make([]dispatch.Outcome, 0, len(msg.Tokens))

	for start := 0; start < len(msg.Tokens); start += MaxTokensPerBatch {
		end := min(start+MaxTokensPerBatch, len(msg.Tokens))
		batch := msg.Tokens[start:end]

		br, err := p.client.SendEachForMulticast(ctx, p.buildMessage(msg, batch))
		if err != nil {
			if start == 0 {
				return nil, fmt.Errorf("fcm transport failed: %w", err)
			}
			p.logger.Error("FCM batch failed after partial delivery", "batch_start", start, "batch_size", len(batch), "err", err)
			for _, tok := range batch {
				outcomes = append(outcomes, dispatch.Failed(tok, dispatch.ErrorKindOther, err))
			}
			continue
		}

		outcomes = append(outcomes, p.collect(batch, br)...)
	}
	return outcomes, nil
}

func (p *Provider) buildMessage(msg dispatch.Message, tokens []string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Content.Title,
			Body:  msg.Content.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Content.Title,
				Body:  msg.Content.Body,
				Icon:  "/assets/icons/icon-192x192.png",
			},
		},
	}
}

// collect maps the positional batch response back onto its tokens.
func (p *Provider) collect(tokens []string, br *messaging.BatchResponse) []dispatch.Outcome {
	outcomes := make([]dispatch.Outcome, len(tokens))
	for i, tok := range tokens {
		if br == nil || i >= len(br.Responses) || br.Responses[i] == nil {
			outcomes[i] = dispatch.Failed(tok, dispatch.ErrorKindOther, fmt.Errorf("no response for token"))
			continue
		}
		resp := br.Responses[i]
		if resp.Success {
			outcomes[i] = dispatch.Succeeded(tok)
			continue
		}
		outcomes[i] = dispatch.Failed(tok, ClassifyError(resp.Error), resp.Error)
	}
	return outcomes
}

// ClassifyError maps a per-token FCM error onto a dispatch.ErrorKind.
// FCM reports INVALID_ARGUMENT for malformed tokens and for rejected payloads
// ("Message is too big") alike; only the former is a token failure.
func ClassifyError(err error) dispatch.ErrorKind {
	switch {
	case err == nil:
		return dispatch.ErrorKindNone
	case messaging.IsUnregistered(err):
		return dispatch.ErrorKindNotRegistered
	case messaging.IsInvalidArgument(err) && isTokenError(err):
		return dispatch.ErrorKindInvalidToken
	default:
		return dispatch.ErrorKindOther
	}
}

func isTokenError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "registration token")
}
