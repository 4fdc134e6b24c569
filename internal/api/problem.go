package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/simplesync/internal/hub"
	"github.com/hyperengineering/simplesync/internal/migrate"
	"github.com/hyperengineering/simplesync/internal/multistore"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
	"github.com/hyperengineering/simplesync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusUnauthorized: {
		typeURI: "https://simplesync.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://simplesync.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://simplesync.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://simplesync.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://simplesync.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusConflict: {
		typeURI: "https://simplesync.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusForbidden: {
		typeURI: "https://simplesync.dev/errors/forbidden",
		title:   "Forbidden",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{
			typeURI: "https://simplesync.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapSyncError converts sync and dataset errors to Problem Details.
// Client-caused failures carry the error text; anything else is a 500
// whose detail never leaks internals.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ssync.ErrUnsupportedProtocol),
		errors.Is(err, ssync.ErrMalformedRequest),
		errors.Is(err, migrate.ErrInvalidManifest),
		errors.Is(err, migrate.ErrUnknownDefOp),
		errors.Is(err, migrate.ErrInvalidStepKey),
		errors.Is(err, migrate.ErrDuplicateVersion),
		errors.Is(err, multistore.ErrInvalidStoreID):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ssync.ErrInvalidID),
		errors.Is(err, ssync.ErrIDMismatch),
		errors.Is(err, ssync.ErrInvalidOp),
		errors.Is(err, hub.ErrUnknownTable):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, multistore.ErrStoreNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Store not found")
	case errors.Is(err, multistore.ErrStoreAlreadyExists):
		WriteProblem(w, r, http.StatusConflict, "Store already exists")
	case errors.Is(err, multistore.ErrDefaultStore):
		WriteProblem(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, migrate.ErrStepFailed):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
