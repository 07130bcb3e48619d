// Package web delivers notifications to browsers over the Web Push protocol.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-fanout-service/notificationservice/config"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// ErrMalformedSubscription marks a token that is not a usable subscription document.
var ErrMalformedSubscription = errors.New("malformed web push subscription")

// Provider implements dispatch.Provider over Web Push. Each device token is the
// JSON subscription the browser produced: {"endpoint", "keys": {"p256dh", "auth"}}.
type Provider struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

func NewProvider(cfg config.VapidConfig, logger *slog.Logger) *Provider {
	return &Provider{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        60,
		logger:     logger.With("component", "WebPushProvider"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Provider) SendMulticast(ctx context.Context, msg dispatch.Message) ([]dispatch.Outcome, error) {
	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": msg.Content.Title,
			"body":  msg.Content.Body,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	outcomes := make([]dispatch.Outcome, 0, len(msg.Tokens))
	for _, tok := range msg.Tokens {
		outcomes = append(outcomes, p.sendOne(ctx, payloadBytes, tok))
	}
	return outcomes, nil
}

func (p *Provider) sendOne(ctx context.Context, payload []byte, tok string) dispatch.Outcome {
	sub, err := ParseSubscription(tok)
	if err != nil {
		return dispatch.Failed(tok, dispatch.ErrorKindInvalidToken, err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      p.subscriber,
		VAPIDPublicKey:  p.publicKey,
		VAPIDPrivateKey: p.privateKey,
		TTL:             p.ttl,
		HTTPClient:      p.httpClient,
	})
	if err != nil {
		// Transport error (DNS, Timeout) - don't delete
		p.logger.Error("WebPush transport error", "token_fp", dispatch.Fingerprint(tok), "err", err)
		return dispatch.Failed(tok, dispatch.ErrorKindOther, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return classifyStatus(tok, resp.StatusCode)
}

func classifyStatus(tok string, status int) dispatch.Outcome {
	switch {
	case status >= 200 && status < 300:
		return dispatch.Succeeded(tok)
	case status == http.StatusGone, status == http.StatusNotFound:
		return dispatch.Failed(tok, dispatch.ErrorKindNotRegistered, fmt.Errorf("push service returned %d", status))
	default:
		return dispatch.Failed(tok, dispatch.ErrorKindOther, fmt.Errorf("push service returned %d", status))
	}
}

// ParseSubscription decodes a stored device token into a Web Push subscription.
func ParseSubscription(tok string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(tok), &sub); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSubscription, err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, fmt.Errorf("%w: missing endpoint or keys", ErrMalformedSubscription)
	}
	return &sub, nil
}
