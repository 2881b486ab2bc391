package room

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/music-jam-system/internal/jam"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/jam")
	{
		sessions.POST("/create", h.createSession)
		sessions.GET("/session/:code", h.getSession)
		sessions.GET("/active-sessions", h.activeSessions)
	}
}

type CreateSessionRequest struct {
	HostName string `json:"hostName" binding:"max=64"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	sess, err := h.service.CreateSession(c.Request.Context(), req.HostName)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"sessionCode": sess.Code(),
		"hostId":      sess.HostUserID(),
		"session":     sess.Snapshot(),
	})
}

func (h *Handler) getSession(c *gin.Context) {
	snap, err := h.service.GetSession(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": snap})
}

func (h *Handler) activeSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": h.service.ActiveSessions(c.Request.Context()),
	})
}

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jam.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Session not found"})
	case errors.Is(err, jam.ErrCodeSpaceExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Could not allocate a session code"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}
