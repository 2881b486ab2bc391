package ws

import (
	"encoding/json"

	"github.com/music-jam-system/internal/jam"
	"github.com/music-jam-system/pkg/models"
)

// Inbound event types.
const (
	TypeJoinSession        = "join-session"
	TypeLeaveSession       = "leave-session"
	TypeAddToQueue         = "add-to-queue"
	TypeVote               = "vote"
	TypeRemoveFromQueue    = "remove-from-queue"
	TypePlayNext           = "play-next"
	TypePlaybackUpdate     = "playback-update"
	TypeGetRecommendations = "get-recommendations"
)

// Outbound event types.
const (
	TypeSessionJoined     = "session-joined"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeQueueUpdated      = "queue-updated"
	TypeNowPlaying        = "now-playing"
	TypePlaybackSync      = "playback-sync"
	TypeRecommendations   = "recommendations"
	TypeError             = "error"
)

// Messages shown to clients in error events.
const (
	msgSessionNotFound  = "Session not found"
	msgQueueFull        = "Queue is full"
	msgItemNotFound     = "Song not found in queue"
	msgPermissionDenied = "Permission denied"
	msgQueueEmpty       = "Queue is empty"
)

const defaultUserName = "Anonymous"

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	SessionCode string `json:"sessionCode"`
	UserName    string `json:"userName"`
	UserID      string `json:"userId,omitempty"`
}

type addToQueuePayload struct {
	Song *models.Track `json:"song"`
}

type votePayload struct {
	QueueItemID string `json:"queueItemId"`
	VoteValue   int    `json:"voteValue"`
}

type removeFromQueuePayload struct {
	QueueItemID string `json:"queueItemId"`
}

type recommendationsRequest struct {
	AllSongs []models.Track `json:"allSongs"`
}

type sessionJoinedEvent struct {
	Session jam.Snapshot `json:"session"`
	UserID  string       `json:"userId"`
}

type participantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type participantJoinedEvent struct {
	Participant      participantInfo `json:"participant"`
	ParticipantCount int             `json:"participantCount"`
}

type participantLeftEvent struct {
	UserID           string `json:"userId"`
	ParticipantCount int    `json:"participantCount"`
	NewHost          bool   `json:"newHost"`
	HostID           string `json:"hostId,omitempty"`
}

type queueUpdatedEvent struct {
	Queue []jam.QueueItemView `json:"queue"`
}

type nowPlayingEvent struct {
	Song  jam.QueueItemView   `json:"song"`
	Queue []jam.QueueItemView `json:"queue"`
}

type recommendationsEvent struct {
	Songs []models.Track `json:"songs"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// encode builds a wire frame. A json.RawMessage payload is embedded as is.
func encode(typ string, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}
