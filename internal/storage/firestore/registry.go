package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

const (
	// DefaultCollection is the root collection holding one document per user.
	DefaultCollection = "users"

	identifierField = "email"
	tokenField      = "deviceToken"
)

// Registry implements dispatch.Registry on a flat Firestore collection:
// users/{docID} = { email, deviceToken? }.
type Registry struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewRegistry(client *firestore.Client, collection string, logger *slog.Logger) *Registry {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Registry{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreRegistry"),
	}
}

// userDocument is the stored representation of a user.
type userDocument struct {
	Email       string `firestore:"email"`
	DeviceToken string `firestore:"deviceToken,omitempty"`
}

// --- READS ---

func (r *Registry) GetAll(ctx context.Context) ([]dispatch.UserRecord, error) {
	return r.collect(r.users().Documents(ctx))
}

func (r *Registry) GetByIdentifier(ctx context.Context, identifier string) (*dispatch.UserRecord, error) {
	records, err := r.collect(r.users().Where(identifierField, "==", identifier).Limit(1).Documents(ctx))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", identifier, dispatch.ErrUserNotFound)
	}
	return &records[0], nil
}

func (r *Registry) GetByTokenSet(ctx context.Context, tokens []string) ([]dispatch.UserRecord, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > dispatch.MaxTokenSetSize {
		return nil, fmt.Errorf("token set of %d exceeds the 'in' query limit of %d", len(tokens), dispatch.MaxTokenSetSize)
	}
	return r.collect(r.users().Where(tokenField, "in", tokens).Documents(ctx))
}

// --- WRITES ---

// BatchClearTokens deletes the deviceToken field of every record inside one transaction.
// A document whose token changed since it was read (re-registration) is left untouched,
// as is a document that no longer exists.
func (r *Registry) BatchClearTokens(ctx context.Context, records []dispatch.UserRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	expected := make(map[string]string, len(records))
	refs := make([]*firestore.DocumentRef, 0, len(records))
	for _, rec := range records {
		if _, dup := expected[rec.ID]; dup || rec.ID == "" {
			continue
		}
		expected[rec.ID] = rec.DeviceToken
		refs = append(refs, r.users().Doc(rec.ID))
	}
	if len(refs) == 0 {
		return 0, nil
	}

	var cleared int
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cleared = 0 // the function may be retried

		snaps, err := tx.GetAll(refs)
		if err != nil {
			return fmt.Errorf("reading users: %w", err)
		}
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			var doc userDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decoding user %s: %w", snap.Ref.ID, err)
			}
			if doc.DeviceToken == "" || doc.DeviceToken != expected[snap.Ref.ID] {
				continue
			}
			if err := tx.Update(snap.Ref, []firestore.Update{{Path: tokenField, Value: firestore.Delete}}); err != nil {
				return err
			}
			cleared++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clear tokens transaction failed: %w", err)
	}
	return cleared, nil
}

// --- Helpers ---

func (r *Registry) users() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

func (r *Registry) collect(iter *firestore.DocumentIterator) ([]dispatch.UserRecord, error) {
	defer iter.Stop()

	records := make([]dispatch.UserRecord, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var d userDocument
		if err := doc.DataTo(&d); err != nil {
			// A malformed document cannot be a target; skip it rather than fail the scan.
			r.logger.Debug("Skipping malformed user document", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		records = append(records, dispatch.UserRecord{
			ID:          doc.Ref.ID,
			Identifier:  d.Email,
			DeviceToken: d.DeviceToken,
		})
	}
	return records, nil
}
