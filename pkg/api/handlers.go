package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/storage"
)

func (s *Server) handleSessionTimeline(c *gin.Context) {
	sessionID := c.Param("id")
	order := storage.EventOrder(c.DefaultQuery("order", string(storage.OrderTimestamp)))
	if order != storage.OrderTimestamp && order != storage.OrderChain {
		respondError(c, http.StatusBadRequest, "invalid_order", "order must be 'timestamp' or 'chain'")
		return
	}

	events, err := s.events.GetBySession(c.Request.Context(), sessionID, order)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "order": order, "events": events})
}

func (s *Server) handleListCandidates(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	chains, err := s.candidates.List(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": chains})
}

func (s *Server) handleListTools(c *gin.Context) {
	var status *models.ToolStatus
	if raw := c.Query("status"); raw != "" {
		st := models.ToolStatus(raw)
		switch st {
		case models.StatusDraft, models.StatusTesting, models.StatusPromoted, models.StatusRetired:
			status = &st
		default:
			respondError(c, http.StatusBadRequest, "invalid_status", "unknown lifecycle status")
			return
		}
	}

	records, err := s.registry.List(c.Request.Context(), status)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": records})
}

func (s *Server) handleGetTool(c *gin.Context) {
	doc, err := s.registry.CurrentDocument(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleToolVersions(c *gin.Context) {
	versions, err := s.registry.VersionHistory(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}
