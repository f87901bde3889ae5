package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/southpawriter02/twinraven/pkg/registry"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

// respondError writes the uniform error envelope: a short kind plus a
// one-line detail.
func respondError(c *gin.Context, status int, kind, detail string) {
	c.JSON(status, gin.H{"error": kind, "detail": detail})
}

// respondServiceError maps storage and registry errors to HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, registry.ErrToolNotFound):
		respondError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, storage.ErrDuplicateEvent),
		errors.Is(err, storage.ErrDuplicateCandidate),
		errors.Is(err, registry.ErrDuplicateTool):
		respondError(c, http.StatusConflict, "duplicate", err.Error())
	default:
		var transition *registry.TransitionError
		if errors.As(err, &transition) {
			respondError(c, http.StatusConflict, "invalid_transition", transition.Error())
			return
		}
		slog.Error("Unexpected service error", "error", err)
		respondError(c, http.StatusInternalServerError, "internal", "internal server error")
	}
}
