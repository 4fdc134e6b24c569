package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang/snappy"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
	"github.com/hyperengineering/simplesync/internal/validation"
)

// Sync handles POST /api/v1/stores/{store_id}/sync. The body is the
// form-encoded sync request; the response is either a delta reply or a
// schema update. Snappy-encoded requests get snappy-encoded responses.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	storeID := StoreIDFromContext(ctx)

	managed, err := StoreFromContext(ctx)
	if err != nil {
		WriteProblem(w, r, http.StatusNotFound, "Store not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid form body")
		return
	}
	req, err := ssync.DecodeRequest(r.PostForm)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	if errs := validation.ValidateSyncRequest(req); len(errs) > 0 {
		slog.Info("sync request rejected",
			"component", "api",
			"action", "sync_invalid",
			"store_id", storeID,
			"errors", len(errs),
		)
		WriteProblemWithErrors(w, r, fmt.Sprintf("%d invalid field(s)", len(errs)), errs)
		return
	}

	resp, err := managed.Hub.Handle(ctx, req)
	if err != nil {
		slog.Warn("sync round failed",
			"component", "api",
			"action", "sync_failed",
			"store_id", storeID,
			"db_ident", req.DBIdent,
			"conversation_id", req.ConversationID,
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}

	body, err := resp.Body()
	if err != nil {
		slog.Error("encode sync response failed", "component", "api", "store_id", storeID, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if resp.Update != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if snappyRequested(ctx) {
		w.Header().Set("Content-Encoding", EncodingSnappy)
		body = snappy.Encode(nil, body)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)

	slog.Info("sync completed",
		"component", "api",
		"action", "sync",
		"store_id", storeID,
		"db_ident", req.DBIdent,
		"update", resp.Update != nil,
		"entries", req.Delta.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
