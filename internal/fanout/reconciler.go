package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// DefaultChunkSize bounds how many tokens are matched back to their owners per round.
const DefaultChunkSize = 10

// Reconciler clears permanently invalid tokens from the registry after a send.
type Reconciler struct {
	registry  dispatch.Registry
	chunkSize int
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler. chunkSize is clamped to [1, dispatch.MaxTokenSetSize].
func NewReconciler(registry dispatch.Registry, chunkSize int, logger *slog.Logger) *Reconciler {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > dispatch.MaxTokenSetSize {
		chunkSize = dispatch.MaxTokenSetSize
	}
	return &Reconciler{
		registry:  registry,
		chunkSize: chunkSize,
		logger:    logger.With("component", "Reconciler"),
	}
}

// InvalidTokens returns the distinct tokens whose outcome is a permanent failure,
// in outcome order. Transient failures are never included.
func InvalidTokens(outcomes []dispatch.Outcome) []string {
	seen := make(map[string]struct{})
	var invalid []string
	for _, o := range outcomes {
		if o.Success || !o.ErrorKind.Permanent() {
			continue
		}
		if _, dup := seen[o.Token]; dup {
			continue
		}
		seen[o.Token] = struct{}{}
		invalid = append(invalid, o.Token)
	}
	return invalid
}

// Reconcile clears the device token of every user owning a permanently invalid token.
// Each chunk is looked up and cleared atomically; chunks are independent of each other,
// so a failing chunk does not stop the rest. The count covers the chunks that committed.
func (r *Reconciler) Reconcile(ctx context.Context, outcomes []dispatch.Outcome) (int, error) {
	invalid := InvalidTokens(outcomes)
	if len(invalid) == 0 {
		return 0, nil
	}
	r.logger.Info("Cleaning up invalid tokens", "count", len(invalid))

	removed := 0
	var errs []error
	for start := 0; start < len(invalid); start += r.chunkSize {
		end := min(start+r.chunkSize, len(invalid))
		n, err := r.reconcileChunk(ctx, invalid[start:end])
		if err != nil {
			r.logger.Warn("Failed to clear invalid tokens", "chunk_start", start, "chunk_size", end-start, "err", err)
			errs = append(errs, err)
			continue
		}
		removed += n
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: %w", ErrStorage, errors.Join(errs...))
	}
	return removed, nil
}

func (r *Reconciler) reconcileChunk(ctx context.Context, tokens []string) (int, error) {
	owners, err := r.registry.GetByTokenSet(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("looking up token owners: %w", err)
	}
	if len(owners) == 0 {
		return 0, nil
	}
	for _, u := range owners {
		r.logger.Debug("Removing token from user", "user_id", u.ID, "token_fp", dispatch.Fingerprint(u.DeviceToken))
	}
	n, err := r.registry.BatchClearTokens(ctx, owners)
	if err != nil {
		return 0, fmt.Errorf("clearing %d tokens: %w", len(owners), err)
	}
	return n, nil
}
