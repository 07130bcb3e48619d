package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fanout-service/internal/api"
	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// NewProcessor runs each streamed request through the notifier.
// Every message is acknowledged: client errors are not retryable, and
// provider or storage outages are reported in logs rather than redelivered.
func NewProcessor(notifier api.Notifier, logger *slog.Logger) messagepipeline.StreamProcessor[dispatch.Request] {
	logger = logger.With("component", "PipelineProcessor")

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.Request) error {
		procLogger := logger.With("pubsub_msg_id", original.ID, "recipient", request.Recipient)

		result, err := notifier.Send(ctx, *request)
		switch {
		case err == nil:
			procLogger.Info("Notification dispatched", "sent", result.Sent, "failed", result.Failed, "removed", result.Removed)
		case fanout.IsClientError(err):
			procLogger.Warn("Dropping notification", "reason", err)
		default:
			procLogger.Error("Notification failed; dropping", "err", err)
		}
		return nil
	}
}
