package main

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerAdminRoutes(r *gin.Engine) {
	admin := r.Group("/v1/admin", s.requireAdmin)
	admin.GET("/stats", s.handleStats)
	admin.GET("/blocks", s.handleListBlocks)
	admin.POST("/unblock", s.handleUnblock)
}

func (s *Server) requireAdmin(c *gin.Context) {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if s.adminToken == "" || !secureCompare(token, s.adminToken) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
		return
	}
	c.Next()
}

// handleUnblock lifts every active block for an identifier. Idempotent: a
// second call reports zero updated records and succeeds.
func (s *Server) handleUnblock(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier"`
		AdminID    string `json:"admin_id"`
		Reason     string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || strings.TrimSpace(req.AdminID) == "" || strings.TrimSpace(req.Reason) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier, admin_id and reason are required"})
		return
	}

	count, err := s.blocks.Unblock(c.Request.Context(), req.Identifier, req.AdminID, req.Reason, s.now())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to unblock", s.logger)
		return
	}

	// Any stale counter window for this caller must not survive the lift.
	for _, category := range []Category{CategoryAuth, CategoryAdmin, CategoryPartner, CategoryPublic} {
		s.counter.forget(req.Identifier, category)
	}

	s.logger.Info().
		Str("identifier", req.Identifier).
		Str("admin_id", req.AdminID).
		Str("reason", req.Reason).
		Int64("records", count).
		Msg("admin unblock")

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.blocks.Stats(c.Request.Context(), s.now())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load stats", s.logger)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListBlocks(c *gin.Context) {
	records, err := s.blocks.ListActive(c.Request.Context(), s.now())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list blocks", s.logger)
		return
	}
	c.JSON(http.StatusOK, records)
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
