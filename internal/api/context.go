package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/simplesync/internal/multistore"
)

// storeContextKey is the context key for the resolved dataset.
type storeContextKey struct{}

// storeIDContextKey is the context key for the store ID (for logging).
type storeIDContextKey struct{}

// snappyContextKey marks requests that arrived snappy-encoded.
type snappyContextKey struct{}

// ErrNoStoreInContext indicates no store was found in the context.
var ErrNoStoreInContext = errors.New("no store in context")

// WithStore returns a new context with the dataset attached.
func WithStore(ctx context.Context, s *multistore.ManagedStore) context.Context {
	return context.WithValue(ctx, storeContextKey{}, s)
}

// StoreFromContext extracts the dataset from the context.
// Returns ErrNoStoreInContext if not present or nil.
func StoreFromContext(ctx context.Context) (*multistore.ManagedStore, error) {
	s, ok := ctx.Value(storeContextKey{}).(*multistore.ManagedStore)
	if !ok || s == nil {
		return nil, ErrNoStoreInContext
	}
	return s, nil
}

// WithStoreID returns a new context with the store ID attached.
func WithStoreID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, storeIDContextKey{}, id)
}

// StoreIDFromContext extracts the store ID from the context.
// Returns "default" if not present or empty.
func StoreIDFromContext(ctx context.Context) string {
	id, ok := ctx.Value(storeIDContextKey{}).(string)
	if !ok || id == "" {
		return multistore.DefaultStoreID
	}
	return id
}

func withSnappy(ctx context.Context) context.Context {
	return context.WithValue(ctx, snappyContextKey{}, true)
}

func snappyRequested(ctx context.Context) bool {
	v, _ := ctx.Value(snappyContextKey{}).(bool)
	return v
}

// StoreMiddleware resolves {store_id} through the manager and attaches the
// dataset to the request context.
func StoreMiddleware(manager *multistore.StoreManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			storeID, err := multistore.StoreIDFromParam(chi.URLParam(r, "store_id"))
			if err != nil {
				WriteProblem(w, r, http.StatusBadRequest, err.Error())
				return
			}

			managed, err := manager.GetStore(r.Context(), storeID)
			switch {
			case errors.Is(err, multistore.ErrInvalidStoreID):
				WriteProblem(w, r, http.StatusBadRequest, err.Error())
				return
			case errors.Is(err, multistore.ErrStoreNotFound):
				WriteProblem(w, r, http.StatusNotFound, "Store not found")
				return
			case err != nil:
				slog.Error("store resolution failed",
					"component", "api",
					"store_id", storeID,
					"error", err,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
				return
			}

			ctx := WithStoreID(WithStore(r.Context(), managed), storeID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
