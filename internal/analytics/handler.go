package analytics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/music-jam-system/pkg/models"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	defaultDays  = 7
)

// Archive is the read side of the play archive.
type Archive interface {
	TopTracks(ctx context.Context, since time.Time, limit int) ([]models.TrackPlayCount, error)
	RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error)
}

type Handler struct {
	archive Archive
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewHandler(archive Archive, log logrus.FieldLogger) *Handler {
	return &Handler{archive: archive, log: log, now: time.Now}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	analytics := r.Group("/analytics")
	{
		analytics.GET("/top-tracks", h.topTracks)
		analytics.GET("/sessions", h.recentSessions)
	}
}

// topTracks serves the most played tracks over the last ?days= days.
func (h *Handler) topTracks(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultLimit, 1, maxLimit)
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", defaultDays, 1, 365)
	if !ok {
		return
	}

	since := h.now().AddDate(0, 0, -days)
	tracks, err := h.archive.TopTracks(c.Request.Context(), since, limit)
	if err != nil {
		h.log.WithError(err).Error("failed to load top tracks")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load analytics"})
		return
	}
	if tracks == nil {
		tracks = []models.TrackPlayCount{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "days": days, "tracks": tracks})
}

func (h *Handler) recentSessions(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultLimit, 1, maxLimit)
	if !ok {
		return
	}
	sessions, err := h.archive.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("failed to load sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load analytics"})
		return
	}
	if sessions == nil {
		sessions = []models.SessionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

// queryInt reads an optional bounded integer query parameter and writes a
// 400 when it is malformed.
func queryInt(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   name + " must be between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi),
		})
		return 0, false
	}
	return n, true
}
