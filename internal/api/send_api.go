// Package api exposes the notification pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// maxBodyBytes bounds the request body; notifications are a few hundred bytes.
const maxBodyBytes = 64 << 10

// Notifier runs one notification request end to end.
type Notifier interface {
	Send(ctx context.Context, req dispatch.Request) (*fanout.Result, error)
}

// SendResponse is the envelope for every handled request.
type SendResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Details *SendDetails `json:"details,omitempty"`
}

type SendDetails struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

type SendAPI struct {
	Notifier Notifier
	Logger   *slog.Logger
}

func NewSendAPI(notifier Notifier, logger *slog.Logger) *SendAPI {
	return &SendAPI{
		Notifier: notifier,
		Logger:   logger.With("component", "SendAPI"),
	}
}

// SendNotification handles POST /api/send-notification.
func (api *SendAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		api.Logger.Debug("SendNotification: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := api.Notifier.Send(r.Context(), req)
	if err != nil {
		status, message := statusFor(err)
		response.WriteJSON(w, status, SendResponse{Success: false, Message: message})
		return
	}

	response.WriteJSON(w, http.StatusOK, SendResponse{
		Success: true,
		Message: "Notifications sent successfully!",
		Details: &SendDetails{Sent: result.Sent, Failed: result.Failed, Removed: result.Removed},
	})
}

// statusFor maps a pipeline error onto its HTTP status and client message.
// Server-side causes are never echoed to the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, fanout.ErrMissingParameter):
		return http.StatusBadRequest, "Missing parameters: title, body, or recipient are required."
	case errors.Is(err, fanout.ErrRecipientNotFound):
		return http.StatusNotFound, "Recipient not found."
	case errors.Is(err, fanout.ErrNoTokensFound):
		return http.StatusNotFound, "No device tokens found for the specified recipient(s)."
	case errors.Is(err, fanout.ErrProviderSend):
		return http.StatusBadGateway, "Error sending notification."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}
