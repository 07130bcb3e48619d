package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// ComposeTitle builds the displayed title. An empty appName still keeps the separator.
func ComposeTitle(appName, title string) string {
	return appName + " - " + title
}

// NewMessage builds the provider message for req addressed to tokens.
func NewMessage(req dispatch.Request, tokens []string) dispatch.Message {
	return dispatch.Message{
		Content: notification.NotificationContent{
			Title: ComposeTitle(req.AppName, req.Title),
			Body:  req.Body,
		},
		Tokens: tokens,
	}
}

// Report summarises one completed multicast.
type Report struct {
	Outcomes []dispatch.Outcome
	Sent     int
	Failed   int
}

// Dispatcher performs the single multicast call per request. It never retries.
type Dispatcher struct {
	provider dispatch.Provider
	logger   *slog.Logger
}

func NewDispatcher(provider dispatch.Provider, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		logger:   logger.With("component", "Dispatcher"),
	}
}

// Send delivers msg. Partial per-token failure is a completed send, not an error.
func (d *Dispatcher) Send(ctx context.Context, msg dispatch.Message) (*Report, error) {
	if len(msg.Tokens) == 0 {
		return nil, ErrNoTokensFound
	}

	outcomes, err := d.provider.SendMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderSend, err)
	}
	if len(outcomes) != len(msg.Tokens) {
		return nil, fmt.Errorf("%w: provider returned %d outcomes for %d tokens",
			ErrProviderSend, len(outcomes), len(msg.Tokens))
	}

	report := &Report{Outcomes: outcomes}
	for i, o := range outcomes {
		if o.Token == "" {
			outcomes[i].Token = msg.Tokens[i]
		}
		if o.Success {
			report.Sent++
			continue
		}
		report.Failed++
		d.logger.Debug("Token rejected",
			"token_fp", dispatch.Fingerprint(msg.Tokens[i]),
			"kind", o.ErrorKind.String(),
			"err", o.Err,
		)
	}
	return report, nil
}
