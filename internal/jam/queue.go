package jam

import (
	"sort"
	"time"

	"github.com/music-jam-system/pkg/models"
)

// QueueItem is a track waiting in a session queue.
type QueueItem struct {
	ID            string
	Track         models.Track
	AddedByUserID string
	AddedByName   string
	Score         int
	SubmittedAt   time.Time

	votes map[string]Vote
	seq   uint64
}

// Votes returns a copy of the per-user votes.
func (q *QueueItem) Votes() map[string]Vote {
	out := make(map[string]Vote, len(q.votes))
	for u, v := range q.votes {
		out[u] = v
	}
	return out
}

func (q *QueueItem) setVote(userID string, v Vote) {
	if v == NoVote {
		delete(q.votes, userID)
	} else {
		q.votes[userID] = v
	}
	score := 0
	for _, vv := range q.votes {
		score += int(vv)
	}
	q.Score = score
}

func (q *QueueItem) clone() *QueueItem {
	c := *q
	c.votes = q.Votes()
	return &c
}

// QueueItemView is the JSON shape of a queue item sent to clients.
type QueueItemView struct {
	ID        string         `json:"id"`
	Song      models.Track   `json:"song"`
	AddedBy   string         `json:"addedBy"`
	UserID    string         `json:"userId"`
	Votes     map[string]int `json:"votes"`
	VoteCount int            `json:"voteCount"`
	Score     int            `json:"score"`
	Timestamp int64          `json:"timestamp"`
}

// View flattens the item for the wire.
func (q *QueueItem) View() QueueItemView {
	votes := make(map[string]int, len(q.votes))
	for u, v := range q.votes {
		votes[u] = int(v)
	}
	return QueueItemView{
		ID:        q.ID,
		Song:      q.Track,
		AddedBy:   q.AddedByName,
		UserID:    q.AddedByUserID,
		Votes:     votes,
		VoteCount: len(votes),
		Score:     q.Score,
		Timestamp: q.SubmittedAt.UnixMilli(),
	}
}

// rankQueue orders items by score, then submission time, then insertion order.
func rankQueue(items []*QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.seq < b.seq
	})
}

func viewItems(items []*QueueItem) []QueueItemView {
	out := make([]QueueItemView, len(items))
	for i, it := range items {
		out[i] = it.View()
	}
	return out
}
