package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docusign-alternative/platform/realtime-service/internal/config"
	"github.com/docusign-alternative/platform/realtime-service/internal/conflict"
	"github.com/docusign-alternative/platform/realtime-service/internal/realtime"
	"github.com/docusign-alternative/platform/realtime-service/internal/registry"
)

const (
	serverName    = "docusign-alternative-realtime"
	serverVersion = "1.0.0"
)

// RealtimeHandler binds the transports and the platform-facing HTTP surface.
// Callers of the /api/v1 endpoints are trusted platform services supplying
// already-authorized identities.
type RealtimeHandler struct {
	cfg *config.Config
	reg *registry.Registry
	svc *realtime.Service
}

func NewRealtimeHandler(cfg *config.Config, reg *registry.Registry, svc *realtime.Service) *RealtimeHandler {
	return &RealtimeHandler{cfg: cfg, reg: reg, svc: svc}
}

// Register mounts all routes. handshakeMiddleware (rate limiting) applies to
// the transport endpoints only.
func (h *RealtimeHandler) Register(r *gin.Engine, handshakeMiddleware ...gin.HandlerFunc) {
	r.GET("/ws", append(handshakeMiddleware, h.handleWebSocket)...)
	r.GET("/events", append(handshakeMiddleware, h.handleSSE)...)

	api := r.Group("/api/v1/realtime")
	api.POST("/documents/:documentId/update", h.emitDocumentUpdate)
	api.POST("/signing-requests/:requestId/status", h.emitSignatureStatus)
	api.POST("/notifications", h.emitNotification)
	api.POST("/presence", h.emitPresence)
	api.POST("/activity", h.emitActivity)
	api.GET("/conflicts", h.conflictStatistics)
	api.GET("/conflicts/:documentId", h.activeConflicts)
	api.POST("/conflicts/:documentId/resolve", h.resolveConflicts)
	api.DELETE("/conflicts/:documentId", h.clearConflicts)
	api.GET("/metrics", h.serviceMetrics)
}

type documentUpdateRequest struct {
	OrganizationID string         `json:"organizationId" binding:"required"`
	UserID         string         `json:"userId" binding:"required"`
	Changes        map[string]any `json:"changes" binding:"required"`
}

func (h *RealtimeHandler) emitDocumentUpdate(c *gin.Context) {
	var req documentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	docID := c.Param("documentId")
	if err := h.svc.EmitDocumentUpdate(c.Request.Context(), req.OrganizationID, req.UserID, docID, req.Changes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "emitted", "documentId": docID})
}

type signatureStatusRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
	UserID         string `json:"userId"`
	DocumentID     string `json:"documentId"`
	Status         string `json:"status" binding:"required"`
}

func (h *RealtimeHandler) emitSignatureStatus(c *gin.Context) {
	var req signatureStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.svc.EmitSignatureStatusUpdate(c.Request.Context(), req.OrganizationID, req.UserID, c.Param("requestId"), req.DocumentID, req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "emitted"})
}

type notificationRequest struct {
	OrganizationID string         `json:"organizationId" binding:"required"`
	UserID         string         `json:"userId" binding:"required"`
	Payload        map[string]any `json:"payload" binding:"required"`
}

func (h *RealtimeHandler) emitNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.EmitNotification(c.Request.Context(), req.OrganizationID, req.UserID, req.Payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "emitted"})
}

type presenceRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
	UserID         string `json:"userId" binding:"required"`
	Status         string `json:"status" binding:"required"`
}

func validPresenceStatus(s string) bool {
	switch s {
	case "online", "offline", "away", "busy":
		return true
	}
	return false
}

func (h *RealtimeHandler) emitPresence(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validPresenceStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of online, offline, away, busy"})
		return
	}
	if err := h.svc.EmitUserPresence(c.Request.Context(), req.OrganizationID, req.UserID, req.Status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "emitted"})
}

type activityRequest struct {
	OrganizationID string         `json:"organizationId" binding:"required"`
	UserID         string         `json:"userId"`
	TeamID         string         `json:"teamId"`
	Activity       map[string]any `json:"activity" binding:"required"`
}

func (h *RealtimeHandler) emitActivity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.EmitOrganizationActivity(c.Request.Context(), req.OrganizationID, req.UserID, req.TeamID, req.Activity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "emitted"})
}

func (h *RealtimeHandler) activeConflicts(c *gin.Context) {
	docID := c.Param("documentId")
	conflicts := h.svc.ActiveConflicts(docID)
	resp := gin.H{"documentId": docID, "conflicts": conflicts}
	if res, ok := h.svc.ActiveResolution(docID); ok {
		resp["resolution"] = res
	}
	c.JSON(http.StatusOK, resp)
}

type resolveRequest struct {
	OrganizationID string                   `json:"organizationId" binding:"required"`
	Conflicts      []conflict.FieldConflict `json:"conflicts"`
	Strategy       conflict.Strategy        `json:"strategy" binding:"required"`
	ResolvedBy     string                   `json:"resolvedBy" binding:"required"`
}

func (h *RealtimeHandler) resolveConflicts(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.ResolveConflicts(c.Request.Context(), req.OrganizationID, c.Param("documentId"), req.Conflicts, req.Strategy, req.ResolvedBy)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, conflict.ErrNoActiveConflicts) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *RealtimeHandler) clearConflicts(c *gin.Context) {
	h.svc.ClearConflicts(c.Param("documentId"))
	c.Status(http.StatusNoContent)
}

func (h *RealtimeHandler) serviceMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetMetrics())
}

func (h *RealtimeHandler) conflictStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ConflictStatistics())
}
