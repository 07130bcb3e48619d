package fcm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"google.golang.org/api/option"
)

const maxFakePayload = 4096

// fakeFCM answers messages:send the way the FCM v1 API does for a handful of tokens.
func fakeFCM(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message struct {
				Token        string `json:"token"`
				Notification struct {
					Body string `json:"body"`
				} `json:"notification"`
			} `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case len(req.Message.Notification.Body) > maxFakePayload:
			writeFCMError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Message is too big", "INVALID_ARGUMENT")
		case req.Message.Token == "dead-token":
			writeFCMError(w, http.StatusNotFound, "NOT_FOUND", "Requested entity was not found.", "UNREGISTERED")
		case req.Message.Token == "garbage-token":
			writeFCMError(w, http.StatusBadRequest, "INVALID_ARGUMENT",
				"The registration token is not a valid FCM registration token", "INVALID_ARGUMENT")
		case req.Message.Token == "busy-token":
			writeFCMError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "Quota exceeded.", "QUOTA_EXCEEDED")
		default:
			_, _ = fmt.Fprintf(w, `{"name":"projects/test-project/messages/%s"}`, req.Message.Token)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFCMError(w http.ResponseWriter, status int, grpcStatus, message, fcmCode string) {
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"status":%q,"message":%q,"details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":%q}]}}`,
		status, grpcStatus, message, fcmCode)
}

func newEndpointClient(t *testing.T, ctx context.Context) *messaging.Client {
	t.Helper()
	srv := fakeFCM(t)
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: "test-project"},
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	client, err := app.Messaging(ctx)
	require.NoError(t, err)
	return client
}

func TestFCMProvider_ClassifiesServerErrors(t *testing.T) {
	ctx := context.Background()
	provider := fcm.NewProvider(newEndpointClient(t, ctx), newTestLogger())
	content := notification.NotificationContent{Title: "App - Test", Body: "Body"}

	outcomes, err := provider.SendMulticast(ctx, dispatch.Message{
		Content: content,
		Tokens:  []string{"good-token", "dead-token", "garbage-token", "busy-token"},
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, dispatch.ErrorKindNotRegistered, outcomes[1].ErrorKind)
	assert.Equal(t, dispatch.ErrorKindInvalidToken, outcomes[2].ErrorKind)
	assert.Equal(t, dispatch.ErrorKindOther, outcomes[3].ErrorKind)
	assert.Equal(t, []string{"dead-token", "garbage-token"}, fanout.InvalidTokens(outcomes))
}

func TestFCMProvider_RejectedPayloadKeepsTokens(t *testing.T) {
	ctx := context.Background()
	provider := fcm.NewProvider(newEndpointClient(t, ctx), newTestLogger())
	content := notification.NotificationContent{Title: "App - Test", Body: strings.Repeat("x", 5000)}

	outcomes, err := provider.SendMulticast(ctx, dispatch.Message{
		Content: content,
		Tokens:  []string{"token-a", "token-b"},
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.False(t, o.Success)
		assert.True(t, messaging.IsInvalidArgument(o.Err), "server answered INVALID_ARGUMENT")
		assert.Equal(t, dispatch.ErrorKindOther, o.ErrorKind)
	}
	assert.Empty(t, fanout.InvalidTokens(outcomes))
}
