package fanout

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// reconcileTimeout bounds registry cleanup once it is detached from the caller.
const reconcileTimeout = 30 * time.Second

// Result is the outcome of a request that reached the provider.
type Result struct {
	RequestID string
	Tokens    int
	Sent      int
	Failed    int
	Removed   int
	Outcomes  []dispatch.Outcome

	// ReconcileErr is set when cleanup failed. It never downgrades the send.
	ReconcileErr error
}

// Orchestrator runs Validate -> Resolve -> Dispatch -> Reconcile for one request.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	resolver   *Resolver
	dispatcher *Dispatcher
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewOrchestrator(resolver *Resolver, dispatcher *Dispatcher, reconciler *Reconciler, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		resolver:   resolver,
		dispatcher: dispatcher,
		reconciler: reconciler,
		logger:     logger.With("component", "Orchestrator"),
	}
}

// Send processes req. The returned error wraps exactly one of the package sentinels.
func (o *Orchestrator) Send(ctx context.Context, req dispatch.Request) (*Result, error) {
	requestID := uuid.NewString()
	logger := o.logger.With("request_id", requestID, "recipient", req.Recipient)

	if err := ValidateRequest(req); err != nil {
		logger.Info("Rejected request", "err", err)
		return nil, err
	}

	tokens, err := o.resolver.Resolve(ctx, req.Recipient)
	if err != nil {
		if IsClientError(err) {
			logger.Info("Recipient could not be resolved", "err", err)
		} else {
			logger.Error("Failed to resolve recipient", "err", err)
		}
		return nil, err
	}
	if len(tokens) == 0 {
		logger.Info("No device tokens registered for recipient")
		return nil, ErrNoTokensFound
	}

	report, err := o.dispatcher.Send(ctx, NewMessage(req, tokens))
	if err != nil {
		logger.Error("Multicast send failed", "token_count", len(tokens), "err", err)
		return nil, err
	}
	logger.Info("Multicast sent", "token_count", len(tokens), "sent", report.Sent, "failed", report.Failed)

	result := &Result{
		RequestID: requestID,
		Tokens:    len(tokens),
		Sent:      report.Sent,
		Failed:    report.Failed,
		Outcomes:  report.Outcomes,
	}

	// Dead tokens are known once the send completed; a caller that goes away
	// now must not abort their cleanup.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer cancel()

	removed, err := o.reconciler.Reconcile(cleanupCtx, report.Outcomes)
	result.Removed = removed
	if err != nil {
		logger.Error("Token reconciliation failed", "removed", removed, "err", err)
		result.ReconcileErr = err
	} else if removed > 0 {
		logger.Info("Invalid tokens removed", "removed", removed)
	}
	return result, nil
}
