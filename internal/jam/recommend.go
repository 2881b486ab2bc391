package jam

import (
	"math/rand"
	"sort"

	"github.com/music-jam-system/pkg/models"
)

const (
	maxRecommendations = 10
	genreWeight        = 3
	artistWeight       = 2
	jitterRange        = 2.0
)

// Listening is what a session has queued, played and is playing.
type Listening struct {
	Queued  []models.Track
	History []models.Track
	Current *models.Track
}

// Recommend scores catalog tracks by how often their genre and artist occur
// in the listening data, plus a small random jitter, and returns the top 10.
// Tracks already queued, played or playing are never returned. A nil rng
// uses the shared math/rand source.
func Recommend(l Listening, catalog []models.Track, rng *rand.Rand) []models.Track {
	genres := make(map[string]int)
	artists := make(map[string]int)
	seen := make(map[models.TrackID]struct{})

	for _, group := range [][]models.Track{l.Queued, l.History} {
		for _, t := range group {
			if t.Genre != "" {
				genres[t.Genre]++
			}
			if t.Artist != "" {
				artists[t.Artist]++
			}
			seen[t.ID] = struct{}{}
		}
	}
	if l.Current != nil {
		seen[l.Current.ID] = struct{}{}
	}

	jitter := rand.Float64
	if rng != nil {
		jitter = rng.Float64
	}

	type scored struct {
		track models.Track
		score float64
	}
	candidates := make([]scored, 0, len(catalog))
	for _, t := range catalog {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		score := 0.0
		if t.Genre != "" {
			score += float64(genres[t.Genre] * genreWeight)
		}
		if t.Artist != "" {
			score += float64(artists[t.Artist] * artistWeight)
		}
		score += jitter() * jitterRange
		candidates = append(candidates, scored{track: t, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxRecommendations {
		candidates = candidates[:maxRecommendations]
	}

	out := make([]models.Track, len(candidates))
	for i, c := range candidates {
		out[i] = c.track
	}
	return out
}

// Recommend runs the engine over this session's queue, history and current track.
func (s *Session) Recommend(catalog []models.Track, rng *rand.Rand) []models.Track {
	s.mu.Lock()
	l := Listening{
		Queued:  make([]models.Track, len(s.queue)),
		History: make([]models.Track, len(s.history)),
	}
	for i, it := range s.queue {
		l.Queued[i] = it.Track
	}
	for i, it := range s.history {
		l.History[i] = it.Track
	}
	if s.current != nil {
		t := s.current.Track
		l.Current = &t
	}
	s.mu.Unlock()

	return Recommend(l, catalog, rng)
}
