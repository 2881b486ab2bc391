package jam

import "time"

// ParticipantView is the public shape of a participant.
type ParticipantView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
}

// Snapshot is the full serializable state of a session.
type Snapshot struct {
	ID               string            `json:"id"`
	HostID           string            `json:"hostId"`
	HostConnID       string            `json:"hostConnectionId"`
	HostName         string            `json:"hostName"`
	Participants     []ParticipantView `json:"participants"`
	ParticipantCount int               `json:"participantCount"`
	Queue            []QueueItemView   `json:"queue"`
	CurrentSong      *QueueItemView    `json:"currentSong"`
	PlaybackState    PlaybackState     `json:"playbackState"`
	Settings         Settings          `json:"settings"`
	History          []QueueItemView   `json:"history"`
	CreatedAt        int64             `json:"createdAt"`
}

// Summary is the listing entry for an active session.
type Summary struct {
	Code             string `json:"code"`
	HostName         string `json:"hostName"`
	ParticipantCount int    `json:"participantCount"`
	QueueSize        int    `json:"queueSize"`
	CreatedAt        int64  `json:"createdAt"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	ps := s.participantsLocked()
	participants := make([]ParticipantView, len(ps))
	for i, p := range ps {
		participants[i] = ParticipantView{ID: p.UserID, Name: p.Name, JoinedAt: p.JoinedAt.UnixMilli()}
	}

	var current *QueueItemView
	if s.current != nil {
		v := s.current.View()
		current = &v
	}

	history := s.history
	if len(history) > snapshotHistoryLimit {
		history = history[:snapshotHistoryLimit]
	}

	return Snapshot{
		ID:               s.code,
		HostID:           s.hostUserID,
		HostConnID:       s.hostConnID,
		HostName:         s.hostName,
		Participants:     participants,
		ParticipantCount: len(participants),
		Queue:            viewItems(s.queue),
		CurrentSong:      current,
		PlaybackState:    s.playback,
		Settings:         s.settings,
		History:          viewItems(history),
		CreatedAt:        s.createdAt.UnixMilli(),
	}
}

// QueueView returns the ranked queue in wire form.
func (s *Session) QueueView() []QueueItemView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return viewItems(s.queue)
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Code:             s.code,
		HostName:         s.hostName,
		ParticipantCount: len(s.participants),
		QueueSize:        len(s.queue),
		CreatedAt:        s.createdAt.UnixMilli(),
	}
}

// CreatedAt reports when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// HostName returns the current host display name.
func (s *Session) HostName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostName
}
