package fcm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func allSuccess(n int) *messaging.BatchResponse {
	br := &messaging.BatchResponse{SuccessCount: n}
	for i := range n {
		br.Responses = append(br.Responses, &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("msg-%d", i)})
	}
	return br
}

func tokens(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("token-%d", i)
	}
	return out
}

func TestFCMProvider_SendMulticast(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	content := notification.NotificationContent{Title: "App - Test", Body: "Body"}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return m.Notification.Title == "App - Test" && m.Notification.Body == "Body" && len(m.Tokens) == 2
		})).Return(allSuccess(2), nil)

		outcomes, err := provider.SendMulticast(ctx, dispatch.Message{Content: content, Tokens: []string{"token-1", "token-2"}})

		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Equal(t, dispatch.Succeeded("token-1"), outcomes[0])
		assert.Equal(t, dispatch.Succeeded("token-2"), outcomes[1])
		mockClient.AssertExpectations(t)
	})

	t.Run("Per-token failure keeps position", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)
		quota := errors.New("quota exceeded")

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: false, Error: quota},
				{Success: true, MessageID: "msg-2"},
			},
		}, nil)

		outcomes, err := provider.SendMulticast(ctx, dispatch.Message{Content: content, Tokens: []string{"token-1", "token-2"}})

		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.False(t, outcomes[0].Success)
		assert.Equal(t, "token-1", outcomes[0].Token)
		assert.Equal(t, dispatch.ErrorKindOther, outcomes[0].ErrorKind)
		assert.True(t, outcomes[1].Success)
	})

	t.Run("Transport Failure fails the call", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := provider.SendMulticast(ctx, dispatch.Message{Content: content, Tokens: []string{"token-1"}})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("Large sends are split into batches", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)
		all := tokens(fcm.MaxTokensPerBatch + 3)

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == fcm.MaxTokensPerBatch
		})).Return(allSuccess(fcm.MaxTokensPerBatch), nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 3
		})).Return(allSuccess(3), nil).Once()

		outcomes, err := provider.SendMulticast(ctx, dispatch.Message{Content: content, Tokens: all})

		require.NoError(t, err)
		require.Len(t, outcomes, len(all))
		assert.Equal(t, all[fcm.MaxTokensPerBatch], outcomes[fcm.MaxTokensPerBatch].Token)
		mockClient.AssertExpectations(t)
	})

	t.Run("Later batch failure is reported per token", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)
		all := tokens(fcm.MaxTokensPerBatch + 2)

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == fcm.MaxTokensPerBatch
		})).Return(allSuccess(fcm.MaxTokensPerBatch), nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 2
		})).Return(nil, errors.New("deadline exceeded")).Once()

		outcomes, err := provider.SendMulticast(ctx, dispatch.Message{Content: content, Tokens: all})

		require.NoError(t, err)
		require.Len(t, outcomes, len(all))
		last := outcomes[len(outcomes)-1]
		assert.False(t, last.Success)
		assert.Equal(t, dispatch.ErrorKindOther, last.ErrorKind)
		assert.False(t, last.ErrorKind.Permanent())
	})
}

func TestClassifyError_Basic(t *testing.T) {
	assert.Equal(t, dispatch.ErrorKindNone, fcm.ClassifyError(nil))
	assert.Equal(t, dispatch.ErrorKindOther, fcm.ClassifyError(errors.New("internal")))
}
