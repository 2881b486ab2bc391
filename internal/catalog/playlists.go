package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Playlist is kept as raw fields so whatever the file carries is passed
// through; only songIds is normalized.
type Playlist map[string]json.RawMessage

var emptyIDs = json.RawMessage("[]")

// LoadPlaylists parses a playlists document, either {"playlists": [...]}
// or a bare array. Each entry gets a songIds field taken from songIds,
// then songs, then an empty list.
func LoadPlaylists(data []byte) ([]Playlist, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []Playlist{}, nil
	}

	var lists []Playlist
	if data[0] == '[' {
		if err := json.Unmarshal(data, &lists); err != nil {
			return nil, fmt.Errorf("parse playlists: %w", err)
		}
	} else {
		var doc struct {
			Playlists []Playlist `json:"playlists"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse playlists: %w", err)
		}
		lists = doc.Playlists
	}

	out := make([]Playlist, 0, len(lists))
	for _, l := range lists {
		if l == nil {
			continue
		}
		ids := firstPresent(l["songIds"], l["songs"])
		if ids == nil {
			ids = emptyIDs
		}
		l["songIds"] = ids
		out = append(out, l)
	}
	return out, nil
}

func firstPresent(vals ...json.RawMessage) json.RawMessage {
	for _, v := range vals {
		if len(v) > 0 && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v
		}
	}
	return nil
}

// ReadPlaylists loads the playlists file. A missing file is an empty list.
func ReadPlaylists(path string) ([]Playlist, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Playlist{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read playlists: %w", err)
	}
	return LoadPlaylists(data)
}
