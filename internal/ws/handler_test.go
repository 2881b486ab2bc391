package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-jam-system/internal/jam"
	"github.com/music-jam-system/pkg/events"
	"github.com/music-jam-system/pkg/models"
)

type staticCatalog []models.Track

func (s staticCatalog) Tracks() []models.Track { return s }

type eventLog struct {
	mu  sync.Mutex
	got []events.Event
}

func (l *eventLog) Publish(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, e)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, len(l.got))
	for i, e := range l.got {
		out[i] = e.Type
	}
	return out
}

type gateway struct {
	store   *jam.Store
	handler *Handler
	events  *eventLog
	url     string
}

func newGateway(t *testing.T, catalog staticCatalog, opts ...func(*jam.StoreConfig)) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()

	var h *Handler
	cfg := jam.DefaultStoreConfig()
	cfg.Logger = logger
	cfg.OnDelete = func(s *jam.Session) { h.Forget(s.Code()) }
	for _, opt := range opts {
		opt(&cfg)
	}
	store := jam.NewStore(cfg)
	t.Cleanup(store.Shutdown)

	evs := &eventLog{}
	h = NewHandler(store, catalog, evs, logger, Options{Rand: rand.New(rand.NewSource(1))})
	r := gin.New()
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &gateway{
		store:   store,
		handler: h,
		events:  evs,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (g *gateway) roomCount() int {
	g.handler.mu.Lock()
	defer g.handler.mu.Unlock()
	return len(g.handler.rooms)
}

func (g *gateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(g.url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	frame, err := encode(typ, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one of type typ arrives and decodes its data.
func expect(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Type != typ {
			continue
		}
		if v != nil {
			require.NoError(t, json.Unmarshal(env.Data, v))
		}
		return
	}
}

// expectNone asserts no frame of type typ arrives within the wait. The read
// deadline poisons the connection for further reads.
func expectNone(t *testing.T, conn *websocket.Conn, typ string, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.NotEqual(t, typ, env.Type, "unexpected %s frame", typ)
	}
}

func join(t *testing.T, conn *websocket.Conn, code, userID, name string) sessionJoinedEvent {
	t.Helper()
	send(t, conn, TypeJoinSession, joinPayload{SessionCode: code, UserName: name, UserID: userID})
	var joined sessionJoinedEvent
	expect(t, conn, TypeSessionJoined, &joined)
	return joined
}

func song(id, title, artist, genre string) models.Track {
	return models.Track{ID: models.TrackID(id), Title: title, Artist: artist, Genre: genre, Path: "/music/" + id + ".mp3"}
}

func TestJoinUnknownSession(t *testing.T) {
	g := newGateway(t, nil)
	conn := g.dial(t)

	send(t, conn, TypeJoinSession, joinPayload{SessionCode: "NOPE00", UserName: "Alice"})
	var e errorEvent
	expect(t, conn, TypeError, &e)
	assert.Equal(t, "Session not found", e.Message)
}

func TestJoinAnnouncesParticipants(t *testing.T) {
	g := newGateway(t, nil)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	alice := g.dial(t)
	joined := join(t, alice, strings.ToLower(s.Code()), "u1", "Alice")
	assert.Equal(t, "u1", joined.UserID)
	assert.Equal(t, s.Code(), joined.Session.ID)
	assert.Equal(t, "u1", joined.Session.HostID)
	var self participantJoinedEvent
	expect(t, alice, TypeParticipantJoined, &self)
	assert.Equal(t, 1, self.ParticipantCount)

	bob := g.dial(t)
	join(t, bob, s.Code(), "", "")
	var other participantJoinedEvent
	expect(t, alice, TypeParticipantJoined, &other)
	assert.Equal(t, 2, other.ParticipantCount)
	assert.Equal(t, "Anonymous", other.Participant.Name)
	assert.NotEmpty(t, other.Participant.ID)

	assert.Equal(t, 2, s.ParticipantCount())
}

func TestQueueVoteAndPlayNextBroadcast(t *testing.T) {
	g := newGateway(t, nil)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	alice := g.dial(t)
	join(t, alice, s.Code(), "u1", "Alice")
	bob := g.dial(t)
	join(t, bob, s.Code(), "u2", "Bob")

	send(t, alice, TypeAddToQueue, addToQueuePayload{Song: ptr(song("1", "First", "A", "rock"))})
	var q queueUpdatedEvent
	expect(t, bob, TypeQueueUpdated, &q)
	require.Len(t, q.Queue, 1)
	assert.Equal(t, "Alice", q.Queue[0].AddedBy)
	first := q.Queue[0].ID
	expect(t, alice, TypeQueueUpdated, nil)

	send(t, bob, TypeAddToQueue, addToQueuePayload{Song: ptr(song("2", "Second", "B", "pop"))})
	expect(t, alice, TypeQueueUpdated, &q)
	require.Len(t, q.Queue, 2)
	second := q.Queue[1].ID
	expect(t, bob, TypeQueueUpdated, nil)

	send(t, alice, TypeVote, votePayload{QueueItemID: second, VoteValue: 1})
	expect(t, bob, TypeQueueUpdated, &q)
	require.Len(t, q.Queue, 2)
	assert.Equal(t, second, q.Queue[0].ID)
	assert.Equal(t, 1, q.Queue[0].Score)
	assert.Equal(t, map[string]int{"u1": 1}, q.Queue[0].Votes)

	send(t, bob, TypePlayNext, nil)
	var np nowPlayingEvent
	expect(t, alice, TypeNowPlaying, &np)
	assert.Equal(t, second, np.Song.ID)
	require.Len(t, np.Queue, 1)
	assert.Equal(t, first, np.Queue[0].ID)

	assert.True(t, s.Playback().IsPlaying)
	assert.Eventually(t, func() bool {
		types := g.events.types()
		return len(types) > 0 && types[len(types)-1] == events.EventTypeSongStarted
	}, time.Second, 10*time.Millisecond)
}

func TestInvalidVoteIsIgnored(t *testing.T) {
	g := newGateway(t, nil)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	alice := g.dial(t)
	join(t, alice, s.Code(), "u1", "Alice")
	send(t, alice, TypeAddToQueue, addToQueuePayload{Song: ptr(song("1", "First", "A", ""))})
	var q queueUpdatedEvent
	expect(t, alice, TypeQueueUpdated, &q)

	send(t, alice, TypeVote, votePayload{QueueItemID: q.Queue[0].ID, VoteValue: 5})
	send(t, alice, TypeVote, votePayload{QueueItemID: "missing", VoteValue: 1})
	expectNone(t, alice, TypeQueueUpdated, 200*time.Millisecond)
	assert.Equal(t, 0, s.Queue()[0].Score)
}

func TestQueueFullAndRemovePermissionErrors(t *testing.T) {
	g := newGateway(t, nil)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	host := g.dial(t)
	join(t, host, s.Code(), "h", "Host")
	guest := g.dial(t)
	join(t, guest, s.Code(), "g", "Guest")

	send(t, host, TypeAddToQueue, addToQueuePayload{Song: ptr(song("1", "First", "A", ""))})
	var q queueUpdatedEvent
	expect(t, guest, TypeQueueUpdated, &q)

	send(t, guest, TypeRemoveFromQueue, removeFromQueuePayload{QueueItemID: q.Queue[0].ID})
	var e errorEvent
	expect(t, guest, TypeError, &e)
	assert.Equal(t, "Permission denied", e.Message)

	send(t, guest, TypeRemoveFromQueue, removeFromQueuePayload{QueueItemID: "missing"})
	expect(t, guest, TypeError, &e)
	assert.Equal(t, "Song not found in queue", e.Message)

	for i := 0; i < 49; i++ {
		_, err := s.AddToQueue(song("x", "x", "x", ""), "Host", "h")
		require.NoError(t, err)
	}
	send(t, guest, TypeAddToQueue, addToQueuePayload{Song: ptr(song("2", "Second", "B", ""))})
	expect(t, guest, TypeError, &e)
	assert.Equal(t, "Queue is full", e.Message)
}

func TestPlaybackUpdateOnlyFromHost(t *testing.T) {
	g := newGateway(t, nil)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	host := g.dial(t)
	join(t, host, s.Code(), "h", "Host")
	guest := g.dial(t)
	join(t, guest, s.Code(), "g", "Guest")

	send(t, guest, TypePlaybackUpdate, map[string]any{"action": "play", "currentTime": 10})
	expectNone(t, host, TypePlaybackSync, 200*time.Millisecond)
	assert.False(t, s.Playback().IsPlaying)

	send(t, host, TypePlaybackUpdate, map[string]any{"action": "play", "currentTime": 12.5})
	var delta map[string]any
	expect(t, guest, TypePlaybackSync, &delta)
	assert.Equal(t, "play", delta["action"])
	assert.Equal(t, 12.5, delta["currentTime"])

	assert.True(t, s.Playback().IsPlaying)
	assert.Equal(t, 12.5, s.Playback().Position)
}

func TestHostDisconnectPromotesNextParticipant(t *testing.T) {
	g := newGateway(t, nil)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	host := g.dial(t)
	join(t, host, s.Code(), "h", "Host")
	guest := g.dial(t)
	join(t, guest, s.Code(), "g", "Guest")

	require.NoError(t, host.Close())

	var left participantLeftEvent
	expect(t, guest, TypeParticipantLeft, &left)
	assert.Equal(t, "h", left.UserID)
	assert.Equal(t, 1, left.ParticipantCount)
	assert.True(t, left.NewHost)
	assert.Equal(t, "g", left.HostID)
	assert.Equal(t, "g", s.HostUserID())

	send(t, guest, TypeLeaveSession, nil)
	assert.Eventually(t, func() bool { return s.ParticipantCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "", s.HostConnID())
}

func TestEventsBeforeJoinAreIgnored(t *testing.T) {
	g := newGateway(t, nil)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	conn := g.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, TypeAddToQueue, addToQueuePayload{Song: ptr(song("1", "First", "A", ""))})
	send(t, conn, TypePlayNext, nil)
	join(t, conn, s.Code(), "u1", "Alice")

	assert.Empty(t, s.Queue())
	assert.Nil(t, s.Current())
}

func TestRejoinLeavesPreviousSession(t *testing.T) {
	g := newGateway(t, nil)
	first, err := g.store.Create("One")
	require.NoError(t, err)
	second, err := g.store.Create("Two")
	require.NoError(t, err)

	conn := g.dial(t)
	join(t, conn, first.Code(), "u1", "Alice")
	join(t, conn, second.Code(), "u1", "Alice")

	assert.Equal(t, 0, first.ParticipantCount())
	assert.Equal(t, 1, second.ParticipantCount())
}

func TestRecommendationsFallBackToCatalog(t *testing.T) {
	catalog := staticCatalog{
		song("1", "One", "A", "rock"),
		song("2", "Two", "B", "rock"),
		song("3", "Three", "C", "jazz"),
	}
	g := newGateway(t, catalog)
	s, err := g.store.Create("Host")
	require.NoError(t, err)

	conn := g.dial(t)
	join(t, conn, s.Code(), "u1", "Alice")
	send(t, conn, TypeAddToQueue, addToQueuePayload{Song: ptr(catalog[0])})
	expect(t, conn, TypeQueueUpdated, nil)

	send(t, conn, TypeGetRecommendations, recommendationsRequest{})
	var recs recommendationsEvent
	expect(t, conn, TypeRecommendations, &recs)
	require.Len(t, recs.Songs, 2)
	assert.Equal(t, models.TrackID("2"), recs.Songs[0].ID)

	send(t, conn, TypeGetRecommendations, recommendationsRequest{AllSongs: []models.Track{song("9", "Nine", "Z", "")}})
	expect(t, conn, TypeRecommendations, &recs)
	require.Len(t, recs.Songs, 1)
	assert.Equal(t, models.TrackID("9"), recs.Songs[0].ID)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://jam.example.com/"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("")))
	assert.True(t, check(req("https://jam.example.com")))
	assert.True(t, check(req("http://localhost:3000")))
	assert.False(t, check(req("https://evil.example.com")))
	assert.True(t, originChecker(nil)(req("https://anything.example.com")))
	assert.True(t, originChecker([]string{"*"})(req("https://anything.example.com")))
}

func TestEmptyRoomGraceFollowsMembership(t *testing.T) {
	const grace = 250 * time.Millisecond
	g := newGateway(t, nil, func(cfg *jam.StoreConfig) { cfg.EmptyGrace = grace })
	s, err := g.store.Create("Ada")
	require.NoError(t, err)
	code := s.Code()

	conn := g.dial(t)
	join(t, conn, code, "ada", "Ada")

	// an occupied session outlives the grace period
	time.Sleep(2 * grace)
	_, err = g.store.Get(code)
	require.NoError(t, err)

	// leaving arms the timer, rejoining within the grace disarms it
	send(t, conn, TypeLeaveSession, nil)
	require.Eventually(t, func() bool { return s.ParticipantCount() == 0 }, time.Second, 5*time.Millisecond)
	join(t, conn, code, "ada", "Ada")
	time.Sleep(2 * grace)
	_, err = g.store.Get(code)
	require.NoError(t, err)

	// the last disconnect schedules deletion
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		_, err := g.store.Get(code)
		return errors.Is(err, jam.ErrSessionNotFound)
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return g.roomCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestForgetIfEmptyDropsOnlyIdleRooms(t *testing.T) {
	g := newGateway(t, nil)
	h := g.handler

	idle := h.room("AAAAAA")
	h.forgetIfEmpty("AAAAAA", idle)
	assert.Nil(t, h.lookupRoom("AAAAAA"))

	busy := h.room("BBBBBB")
	busy.clients["c1"] = &Client{id: "c1"}
	h.forgetIfEmpty("BBBBBB", busy)
	assert.Same(t, busy, h.lookupRoom("BBBBBB"))

	stale := h.room("CCCCCC")
	h.Forget("CCCCCC")
	fresh := h.room("CCCCCC")
	h.forgetIfEmpty("CCCCCC", stale)
	assert.Same(t, fresh, h.lookupRoom("CCCCCC"))
}

func ptr[T any](v T) *T { return &v }
