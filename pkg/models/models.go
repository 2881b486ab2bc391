package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TrackID is a catalog identifier. Catalog files use numeric ids while
// clients may send strings, so both JSON forms are accepted.
type TrackID string

func (id *TrackID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TrackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("track id: %w", err)
	}
	*id = TrackID(n.String())
	return nil
}

// Track is a song as supplied by the catalog or by a client.
type Track struct {
	ID       TrackID `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album,omitempty"`
	Genre    string  `json:"genre,omitempty"`
	Path     string  `json:"path"`
	Cover    string  `json:"cover,omitempty"`
	Duration float64 `json:"duration"`
}

// PlayedTrack is one archived play of a jam session.
type PlayedTrack struct {
	ID          uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SessionCode string    `json:"session_code" gorm:"size:6;index"`
	TrackID     string    `json:"track_id" gorm:"size:128;index"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Genre       string    `json:"genre"`
	AddedBy     string    `json:"added_by"`
	Score       int       `json:"score"`
	PlayedAt    time.Time `json:"played_at" gorm:"index"`
}

// SessionRecord summarises a jam session once it has been closed.
type SessionRecord struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Code         string    `json:"code" gorm:"size:6;index"`
	HostName     string    `json:"host_name"`
	TracksPlayed int       `json:"tracks_played"`
	CreatedAt    time.Time `json:"created_at"`
	ClosedAt     time.Time `json:"closed_at"`
}

// TrackPlayCount is an aggregate row of the most played tracks.
type TrackPlayCount struct {
	TrackID string `json:"track_id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Plays   int64  `json:"plays"`
}
