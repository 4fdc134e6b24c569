package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/simplesync/internal/hub"
	"github.com/hyperengineering/simplesync/internal/multistore"
	"github.com/hyperengineering/simplesync/internal/snapshot"
)

// maxSchemaSize bounds an uploaded schema manifest.
const maxSchemaSize = 1 << 20

// Handler implements the API handlers
type Handler struct {
	manager  *multistore.StoreManager
	apiKey   string
	version  string
	uploader snapshot.Uploader
}

// NewHandler creates a new Handler over the dataset manager.
func NewHandler(manager *multistore.StoreManager, apiKey, version string) *Handler {
	return &Handler{
		manager:  manager,
		apiKey:   apiKey,
		version:  version,
		uploader: snapshot.NoopUploader{},
	}
}

// WithUploader sets where snapshots are shipped. Snapshot downloads
// redirect to a pre-signed URL when the uploader supports it.
func (h *Handler) WithUploader(u snapshot.Uploader) *Handler {
	if u != nil {
		h.uploader = u
	}
	return h
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Stores  int    `json:"stores"`
}

// ListStoresResponse is the body of GET /api/v1/stores.
type ListStoresResponse struct {
	Stores []multistore.StoreInfo `json:"stores"`
	Total  int                    `json:"total"`
}

// CreateStoreRequest is the body of POST /api/v1/stores. Schema is an
// optional YAML manifest.
type CreateStoreRequest struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema,omitempty"`
}

// StoreInfoResponse is the body of GET /api/v1/stores/{store_id}.
type StoreInfoResponse struct {
	ID           string    `json:"id"`
	Description  string    `json:"description,omitempty"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
	hub.Stats
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stores, err := h.manager.ListStores(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store root unavailable")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Stores:  len(stores),
	})
}

// ListStores handles GET /api/v1/stores
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.manager.ListStores(r.Context())
	if err != nil {
		slog.Error("list stores failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if stores == nil {
		stores = []multistore.StoreInfo{}
	}
	writeJSON(w, http.StatusOK, ListStoresResponse{Stores: stores, Total: len(stores)})
}

// CreateStore handles POST /api/v1/stores
func (h *Handler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var req CreateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	var schema []byte
	if req.Schema != "" {
		schema = []byte(req.Schema)
	}
	managed, err := h.manager.CreateStore(r.Context(), req.ID, req.Description, schema)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	h.writeStoreInfo(w, r, http.StatusCreated, managed)
}

// GetStore handles GET /api/v1/stores/{store_id}
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	managed, err := StoreFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, "Store not found")
		return
	}
	h.writeStoreInfo(w, r, http.StatusOK, managed)
}

func (h *Handler) writeStoreInfo(w http.ResponseWriter, r *http.Request, status int, managed *multistore.ManagedStore) {
	stats, err := managed.Hub.Stats(r.Context())
	if err != nil {
		slog.Error("store stats failed", "component", "api", "store_id", managed.ID, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, status, StoreInfoResponse{
		ID:           managed.ID,
		Description:  managed.Meta.Description,
		Created:      managed.Meta.Created,
		LastAccessed: managed.Meta.LastAccessed,
		Stats:        stats,
	})
}

// DeleteStore handles DELETE /api/v1/stores/{store_id}
func (h *Handler) DeleteStore(w http.ResponseWriter, r *http.Request) {
	storeID := StoreIDFromContext(r.Context())
	if err := h.manager.DeleteStore(r.Context(), storeID); err != nil {
		MapSyncError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutSchema handles PUT /api/v1/stores/{store_id}/schema. The body is a
// YAML manifest; the dataset migrates to it before the response is sent.
func (h *Handler) PutSchema(w http.ResponseWriter, r *http.Request) {
	managed, err := StoreFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, "Store not found")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSchemaSize))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Unreadable request body")
		return
	}
	if err := managed.InstallSchema(r.Context(), raw); err != nil {
		slog.Warn("schema install rejected",
			"component", "api",
			"action", "schema_install_failed",
			"store_id", managed.ID,
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}
	h.writeStoreInfo(w, r, http.StatusOK, managed)
}
