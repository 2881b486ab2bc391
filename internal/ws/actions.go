package ws

import (
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/music-jam-system/internal/jam"
	"github.com/music-jam-system/pkg/events"
)

type action func(h *Handler, c *Client, data json.RawMessage)

var actions = map[string]action{
	TypeJoinSession:        (*Handler).handleJoin,
	TypeLeaveSession:       (*Handler).handleLeave,
	TypeAddToQueue:         (*Handler).handleAddToQueue,
	TypeVote:               (*Handler).handleVote,
	TypeRemoveFromQueue:    (*Handler).handleRemoveFromQueue,
	TypePlayNext:           (*Handler).handlePlayNext,
	TypePlaybackUpdate:     (*Handler).handlePlaybackUpdate,
	TypeGetRecommendations: (*Handler).handleGetRecommendations,
}

func (h *Handler) dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.WithError(err).Warn("malformed frame")
		return
	}
	act, ok := actions[env.Type]
	if !ok {
		c.log.WithField("type", env.Type).Debug("unknown event type")
		return
	}
	if env.Type != TypeJoinSession && !c.joined() {
		c.log.WithField("type", env.Type).Debug("ignoring event before join")
		return
	}
	act(h, c, env.Data)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return json.Unmarshal(data, v)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, jam.ErrSessionNotFound):
		return msgSessionNotFound
	case errors.Is(err, jam.ErrQueueFull):
		return msgQueueFull
	case errors.Is(err, jam.ErrItemNotFound):
		return msgItemNotFound
	case errors.Is(err, jam.ErrPermissionDenied):
		return msgPermissionDenied
	case errors.Is(err, jam.ErrQueueEmpty):
		return msgQueueEmpty
	}
	return err.Error()
}

// withSession runs fn under the room lock of the client's session. When
// the session is gone the client gets an error event only if notify is set.
func (h *Handler) withSession(c *Client, notify bool, fn func(s *jam.Session, r *room)) {
	s, err := h.store.Get(c.sessionCode)
	if err != nil {
		c.log.WithError(err).Debug("session lookup failed")
		if notify {
			c.emitError(msgSessionNotFound)
		}
		return
	}
	r := h.room(s.Code())
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(s, r)
}

func (h *Handler) handleJoin(c *Client, data json.RawMessage) {
	var p joinPayload
	if err := decode(data, &p); err != nil {
		c.log.WithError(err).Warn("malformed join-session payload")
		return
	}
	if c.joined() {
		h.leave(c)
	}

	s, err := h.store.Get(p.SessionCode)
	if err != nil {
		c.emitError(msgSessionNotFound)
		return
	}

	userID := p.UserID
	if userID == "" {
		userID = c.id
	}
	name := p.UserName
	if name == "" {
		name = defaultUserName
	}
	code := s.Code()

	r := h.room(code)
	r.mu.Lock()
	res := s.Join(c.id, userID, name)
	if cur, err := h.store.Get(code); err != nil || cur != s {
		// deleted between lookup and join
		s.RemoveParticipant(c.id)
		empty := len(r.clients) == 0
		r.mu.Unlock()
		if empty {
			h.forgetIfEmpty(code, r)
		}
		c.emitError(msgSessionNotFound)
		return
	}
	h.store.CancelEmptyDelete(code)

	r.clients[c.id] = c
	c.sessionCode, c.userID, c.userName = code, userID, name

	c.emit(TypeSessionJoined, sessionJoinedEvent{Session: res.Snapshot, UserID: userID})
	r.broadcast(c.log, TypeParticipantJoined, participantJoinedEvent{
		Participant:      participantInfo{ID: userID, Name: name},
		ParticipantCount: res.ParticipantCount,
	}, "")
	r.mu.Unlock()

	c.log.WithFields(logrus.Fields{"session": code, "user": userID, "host": res.IsHost}).Info("joined session")
	h.publish(events.EventTypeUserJoined, code, userID, events.UserJoinedPayload{UserName: name})
}

func (h *Handler) handleLeave(c *Client, _ json.RawMessage) {
	h.leave(c)
}

func (h *Handler) disconnect(c *Client) {
	if c.joined() {
		h.leave(c)
	}
}

// leave unbinds the client, announces the departure and arms the empty
// grace timer when nobody is left.
func (h *Handler) leave(c *Client) {
	code, userID := c.sessionCode, c.userID
	c.sessionCode, c.userID, c.userName = "", "", ""

	r := h.lookupRoom(code)
	if r == nil {
		return
	}

	var change jam.HostChange
	r.mu.Lock()
	delete(r.clients, c.id)
	s, err := h.store.Get(code)
	if err == nil {
		change = s.RemoveParticipant(c.id)
		r.broadcast(c.log, TypeParticipantLeft, participantLeftEvent{
			UserID:           userID,
			ParticipantCount: change.Remaining,
			NewHost:          change.Changed,
			HostID:           change.NewHostUserID,
		}, "")
		if change.Remaining == 0 {
			h.store.ScheduleEmptyDelete(code)
		}
	}
	r.mu.Unlock()

	if err != nil || !change.Removed {
		return
	}
	c.log.WithFields(logrus.Fields{"session": code, "user": userID, "remaining": change.Remaining}).Info("left session")
	h.publish(events.EventTypeUserLeft, code, userID, events.UserLeftPayload{
		Remaining: change.Remaining,
		NewHostID: change.NewHostUserID,
	})
}

func (h *Handler) handleAddToQueue(c *Client, data json.RawMessage) {
	var p addToQueuePayload
	if err := decode(data, &p); err != nil || p.Song == nil {
		c.log.WithError(err).Warn("malformed add-to-queue payload")
		return
	}

	var item *jam.QueueItem
	h.withSession(c, true, func(s *jam.Session, r *room) {
		name, ok := s.ParticipantName(c.id)
		if !ok {
			name = defaultUserName
		}
		it, err := s.AddToQueue(*p.Song, name, c.userID)
		if err != nil {
			c.emitError(errorMessage(err))
			return
		}
		item = it
		r.broadcast(c.log, TypeQueueUpdated, queueUpdatedEvent{Queue: s.QueueView()}, "")
	})
	if item == nil {
		return
	}
	h.publish(events.EventTypeSongAdded, c.sessionCode, c.userID, events.SongAddedPayload{
		QueueItemID: item.ID,
		TrackID:     string(item.Track.ID),
		Title:       item.Track.Title,
		Artist:      item.Track.Artist,
	})
}

func (h *Handler) handleVote(c *Client, data json.RawMessage) {
	var p votePayload
	if err := decode(data, &p); err != nil {
		c.log.WithError(err).Warn("malformed vote payload")
		return
	}
	v, err := jam.ParseVote(p.VoteValue)
	if err != nil {
		c.log.WithError(err).Debug("rejected vote")
		return
	}

	var item *jam.QueueItem
	h.withSession(c, false, func(s *jam.Session, r *room) {
		if !s.VotingEnabled() {
			return
		}
		it, err := s.Vote(p.QueueItemID, c.userID, v)
		if err != nil {
			c.log.WithError(err).Debug("vote failed")
			return
		}
		item = it
		r.broadcast(c.log, TypeQueueUpdated, queueUpdatedEvent{Queue: s.QueueView()}, "")
	})
	if item == nil {
		return
	}
	h.publish(events.EventTypeSongVoted, c.sessionCode, c.userID, events.SongVotedPayload{
		QueueItemID: item.ID,
		Value:       int(v),
		Score:       item.Score,
	})
}

func (h *Handler) handleRemoveFromQueue(c *Client, data json.RawMessage) {
	var p removeFromQueuePayload
	if err := decode(data, &p); err != nil {
		c.log.WithError(err).Warn("malformed remove-from-queue payload")
		return
	}

	removed := false
	h.withSession(c, false, func(s *jam.Session, r *room) {
		if err := s.RemoveFromQueue(p.QueueItemID, c.userID); err != nil {
			c.emitError(errorMessage(err))
			return
		}
		removed = true
		r.broadcast(c.log, TypeQueueUpdated, queueUpdatedEvent{Queue: s.QueueView()}, "")
	})
	if removed {
		h.publish(events.EventTypeSongRemoved, c.sessionCode, c.userID, events.SongRemovedPayload{QueueItemID: p.QueueItemID})
	}
}

func (h *Handler) handlePlayNext(c *Client, _ json.RawMessage) {
	var item *jam.QueueItem
	h.withSession(c, false, func(s *jam.Session, r *room) {
		it, err := s.PlayNext()
		if err != nil {
			c.log.WithError(err).WithField("session", s.Code()).Info("play-next failed")
			return
		}
		item = it
		r.broadcast(c.log, TypeNowPlaying, nowPlayingEvent{Song: it.View(), Queue: s.QueueView()}, "")
	})
	if item == nil {
		return
	}
	h.publish(events.EventTypeSongStarted, c.sessionCode, c.userID, events.SongStartedPayload{
		QueueItemID: item.ID,
		TrackID:     string(item.Track.ID),
		Title:       item.Track.Title,
		Artist:      item.Track.Artist,
		Genre:       item.Track.Genre,
		AddedBy:     item.AddedByName,
		Score:       item.Score,
	})
}

func (h *Handler) handlePlaybackUpdate(c *Client, data json.RawMessage) {
	var u jam.PlaybackUpdate
	if err := decode(data, &u); err != nil {
		c.log.WithError(err).Warn("malformed playback-update payload")
		return
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	h.withSession(c, false, func(s *jam.Session, r *room) {
		if !s.IsHostConn(c.id) {
			c.log.Debug("ignoring playback-update from non-host")
			return
		}
		s.UpdatePlayback(u)
		r.broadcast(c.log, TypePlaybackSync, data, c.id)
	})
}

func (h *Handler) handleGetRecommendations(c *Client, data json.RawMessage) {
	var p recommendationsRequest
	if err := decode(data, &p); err != nil {
		c.log.WithError(err).Warn("malformed get-recommendations payload")
		return
	}
	pool := p.AllSongs
	if len(pool) == 0 {
		pool = h.catalogTracks()
	}

	h.withSession(c, false, func(s *jam.Session, _ *room) {
		c.emit(TypeRecommendations, recommendationsEvent{Songs: h.recommend(s, pool)})
	})
}
