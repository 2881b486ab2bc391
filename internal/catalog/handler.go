package catalog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	catalog       *Catalog
	playlistsPath string
	log           logrus.FieldLogger
}

func NewHandler(c *Catalog, playlistsPath string, log logrus.FieldLogger) *Handler {
	return &Handler{catalog: c, playlistsPath: playlistsPath, log: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/songs", h.listSongs)
	r.GET("/playlists", h.listPlaylists)
}

// listSongs serves the catalog as a bare array, optionally filtered with
// ?q= and capped with ?limit=.
func (h *Handler) listSongs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, h.catalog.Search(c.Query("q"), limit))
}

// listPlaylists reads the playlists file on every request; it is small and
// edited by hand.
func (h *Handler) listPlaylists(c *gin.Context) {
	lists, err := ReadPlaylists(h.playlistsPath)
	if err != nil {
		h.log.WithError(err).WithField("path", h.playlistsPath).Error("failed to load playlists")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load playlists"})
		return
	}
	c.JSON(http.StatusOK, lists)
}

// RegisterMedia serves audio and artwork under /media. Players on other
// origins load these directly, so the resource policy is opened up.
func RegisterMedia(r gin.IRouter, dir string) {
	media := r.Group("/media")
	media.Use(func(c *gin.Context) {
		c.Header("Cross-Origin-Resource-Policy", "cross-origin")
		c.Next()
	})
	media.Static("/", dir)
}
