package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/hyperengineering/simplesync/internal/hub"
	"github.com/hyperengineering/simplesync/internal/snapshot"
)

// Snapshot handles GET /api/v1/stores/{store_id}/snapshot.
//
// With object storage configured the client is redirected to a pre-signed
// URL for the last uploaded snapshot. Otherwise a fresh snapshot is written
// to disk and streamed back.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	managed, err := StoreFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Store not in context")
		return
	}

	url, _, err := h.uploader.PresignedURL(r.Context(), managed.ID)
	switch {
	case err == nil:
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	case !errors.Is(err, snapshot.ErrNotConfigured):
		slog.Warn("presign failed, serving local snapshot",
			"component", "api",
			"store_id", managed.ID,
			"error", err,
		)
	}

	if err := managed.GenerateSnapshot(r.Context()); err != nil {
		if errors.Is(err, hub.ErrSnapshotUnsupported) {
			w.Header().Set("Retry-After", "60")
			WriteProblem(w, r, http.StatusServiceUnavailable, "Snapshot not available for this store")
			return
		}
		slog.Error("snapshot generation failed",
			"component", "api",
			"store_id", managed.ID,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Snapshot generation failed")
		return
	}

	f, err := os.Open(managed.SnapshotPath())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Snapshot generation failed")
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Snapshot generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="snapshot.db"`)
	http.ServeContent(w, r, "snapshot.db", fi.ModTime(), f)
}
