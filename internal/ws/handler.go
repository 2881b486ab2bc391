package ws

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/music-jam-system/internal/jam"
	"github.com/music-jam-system/pkg/events"
	"github.com/music-jam-system/pkg/models"
)

// TrackSource supplies the server catalog used when a client asks for
// recommendations without sending its own song list.
type TrackSource interface {
	Tracks() []models.Track
}

type Options struct {
	// AllowedOrigins restricts browser origins. Empty or "*" allows all;
	// localhost is always allowed.
	AllowedOrigins []string
	// Rand drives recommendation jitter. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// Handler is the realtime gateway. It binds connections to sessions and
// broadcasts state changes to everyone in a session.
type Handler struct {
	store    *jam.Store
	catalog  TrackSource
	events   events.Publisher
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	rooms map[string]*room
}

// room serializes everything that happens in one session. Holding mu while
// mutating and enqueueing keeps broadcast order equal to mutation order.
type room struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func NewHandler(store *jam.Store, catalog TrackSource, publisher events.Publisher, log logrus.FieldLogger, opts Options) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	h := &Handler{
		store:   store,
		catalog: catalog,
		events:  publisher,
		log:     log.WithField("component", "ws"),
		rng:     rng,
		rooms:   make(map[string]*room),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.HandleWebSocket)
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	client := newClient(h, conn, uuid.NewString())
	client.log.WithField("remote", c.ClientIP()).Debug("client connected")

	go client.WritePump()
	client.ReadPump()
}

// Forget drops the room of a deleted session.
func (h *Handler) Forget(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, code)
}

// forgetIfEmpty drops r if it is still the registered, empty room for code.
func (h *Handler) forgetIfEmpty(code string, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[code] != r {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) == 0 {
		delete(h.rooms, code)
	}
}

func (h *Handler) room(code string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[code]
	if !ok {
		r = &room{clients: make(map[string]*Client)}
		h.rooms[code] = r
	}
	return r
}

func (h *Handler) lookupRoom(code string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[code]
}

// broadcast sends one frame to every client in the room except the one
// with id except. Callers hold r.mu.
func (r *room) broadcast(log logrus.FieldLogger, typ string, data any, except string) {
	frame, err := encode(typ, data)
	if err != nil {
		log.WithError(err).WithField("type", typ).Error("failed to encode broadcast")
		return
	}
	for id, c := range r.clients {
		if id == except {
			continue
		}
		c.enqueue(frame)
	}
}

func (h *Handler) publish(typ events.EventType, code, userID string, payload interface{}) {
	e, err := events.New(typ, code, userID, payload)
	if err != nil {
		h.log.WithError(err).Error("failed to build event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.events.Publish(ctx, e); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"session": code, "event": typ}).Warn("failed to publish event")
	}
}

func (h *Handler) recommend(s *jam.Session, pool []models.Track) []models.Track {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return s.Recommend(pool, h.rng)
}

func (h *Handler) catalogTracks() []models.Track {
	if h.catalog == nil {
		return nil
	}
	return h.catalog.Tracks()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	open := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			open = true
		}
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if open || origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
