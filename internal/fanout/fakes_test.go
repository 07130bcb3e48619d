package fanout_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRegistry is an in-memory dispatch.Registry that counts calls.
type memRegistry struct {
	mu      sync.Mutex
	users   []dispatch.UserRecord
	reads   int
	writes  int
	lookups [][]string

	getAllErr   error
	getOneErr   error
	tokenSetErr error
	clearErr    error
}

func newMemRegistry(users ...dispatch.UserRecord) *memRegistry {
	return &memRegistry{users: users}
}

func (r *memRegistry) GetAll(_ context.Context) ([]dispatch.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.getAllErr != nil {
		return nil, r.getAllErr
	}
	return slices.Clone(r.users), nil
}

func (r *memRegistry) GetByIdentifier(_ context.Context, identifier string) (*dispatch.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.getOneErr != nil {
		return nil, r.getOneErr
	}
	for _, u := range r.users {
		if u.Identifier == identifier {
			found := u
			return &found, nil
		}
	}
	return nil, dispatch.ErrUserNotFound
}

func (r *memRegistry) GetByTokenSet(ctx context.Context, tokens []string) ([]dispatch.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.reads++
	r.lookups = append(r.lookups, slices.Clone(tokens))
	if r.tokenSetErr != nil {
		return nil, r.tokenSetErr
	}
	var out []dispatch.UserRecord
	for _, u := range r.users {
		if u.HasToken() && slices.Contains(tokens, u.DeviceToken) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memRegistry) BatchClearTokens(ctx context.Context, records []dispatch.UserRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.writes++
	if r.clearErr != nil {
		return 0, r.clearErr
	}
	cleared := 0
	for _, rec := range records {
		for i := range r.users {
			if r.users[i].ID == rec.ID && r.users[i].DeviceToken == rec.DeviceToken && rec.DeviceToken != "" {
				r.users[i].DeviceToken = ""
				cleared++
			}
		}
	}
	return cleared, nil
}

func (r *memRegistry) token(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u.DeviceToken
		}
	}
	return ""
}

func (r *memRegistry) counts() (reads, writes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads, r.writes
}

// mockProvider is a testify mock for dispatch.Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) SendMulticast(ctx context.Context, msg dispatch.Message) ([]dispatch.Outcome, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.Outcome), args.Error(1)
}

func user(id, email, token string) dispatch.UserRecord {
	return dispatch.UserRecord{ID: id, Identifier: email, DeviceToken: token}
}

// providerFunc adapts a function to dispatch.Provider.
type providerFunc func(ctx context.Context, msg dispatch.Message) ([]dispatch.Outcome, error)

func (f providerFunc) SendMulticast(ctx context.Context, msg dispatch.Message) ([]dispatch.Outcome, error) {
	return f(ctx, msg)
}
