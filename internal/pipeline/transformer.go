// Package pipeline adapts the notification pipeline to a Pub/Sub stream.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// RequestTransformer is a dataflow Transformer that unmarshals a raw message payload
// into a dispatch.Request. Field validation is left to the Orchestrator so that both
// transports reject incomplete requests the same way.
func RequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.Request, bool, error) {
	var req dispatch.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true lets the StreamingService Nack; the subscription's DLQ policy takes it from there.
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
