package jam

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/music-jam-system/pkg/models"
)

const (
	historyLimit         = 20
	snapshotHistoryLimit = 5
	defaultMaxQueueSize  = 50
)

// Settings are the per-session options. They are fixed at creation time.
type Settings struct {
	VotingEnabled     bool    `json:"allowVoting"`
	MaxQueueSize      int     `json:"maxQueueSize"`
	AutoAdvance       bool    `json:"autoPlay"`
	SkipVoteThreshold float64 `json:"skipThreshold"`
}

// DefaultSettings returns the settings new sessions start with.
func DefaultSettings() Settings {
	return Settings{
		VotingEnabled:     true,
		MaxQueueSize:      defaultMaxQueueSize,
		AutoAdvance:       true,
		SkipVoteThreshold: 0.5,
	}
}

// Participant is one connected member of a session.
type Participant struct {
	UserID   string
	Name     string
	JoinedAt time.Time
	seq      uint64
}

// PlaybackState is the host's last reported playback position. It is a
// best-effort snapshot, not wall-clock truth.
type PlaybackState struct {
	IsPlaying bool    `json:"isPlaying"`
	Position  float64 `json:"currentTime"`
	UpdatedAt int64   `json:"lastUpdateTime"`
}

// PlaybackUpdate is a partial playback state sent by the host.
type PlaybackUpdate struct {
	Action      string   `json:"action,omitempty"`
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
}

// HostChange reports the outcome of removing a participant.
type HostChange struct {
	Removed       bool
	Changed       bool
	NewHostUserID string
	NewHostConnID string
	Remaining     int
}

// JoinResult is everything the gateway needs to answer a join.
type JoinResult struct {
	Snapshot         Snapshot
	ParticipantCount int
	IsHost           bool
}

// Session is one jam room. All methods are safe for concurrent use; each
// call holds the session lock for its whole duration.
type Session struct {
	mu    sync.Mutex
	clock clock.Clock

	code       string
	hostConnID string
	hostUserID string
	hostName   string

	participants map[string]*Participant
	joinSeq      uint64

	queue   []*QueueItem
	itemSeq uint64
	current *QueueItem
	history []*QueueItem
	played  int

	playback PlaybackState
	settings Settings

	createdAt    time.Time
	lastActivity time.Time
}

// NewSession creates an empty session. A nil clock means wall time.
func NewSession(code, hostUserID, hostName string, settings Settings, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if settings.MaxQueueSize <= 0 {
		settings.MaxQueueSize = defaultMaxQueueSize
	}
	now := clk.Now()
	return &Session{
		clock:        clk,
		code:         code,
		hostUserID:   hostUserID,
		hostName:     hostName,
		participants: make(map[string]*Participant),
		playback:     PlaybackState{UpdatedAt: now.UnixMilli()},
		settings:     settings,
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) Code() string { return s.code }

func (s *Session) touch() time.Time {
	now := s.clock.Now()
	s.lastActivity = now
	return now
}

// AddParticipant inserts or overwrites the participant bound to connID.
// It never changes the host.
func (s *Session) AddParticipant(connID, userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addParticipantLocked(connID, userID, name)
}

func (s *Session) addParticipantLocked(connID, userID, name string) {
	now := s.touch()
	if p, ok := s.participants[connID]; ok {
		p.UserID = userID
		p.Name = name
		return
	}
	s.joinSeq++
	s.participants[connID] = &Participant{
		UserID:   userID,
		Name:     name,
		JoinedAt: now,
		seq:      s.joinSeq,
	}
}

// Join adds the participant and, if no connection holds the host role yet,
// grants it to connID.
func (s *Session) Join(connID, userID, name string) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addParticipantLocked(connID, userID, name)
	if s.hostConnID == "" {
		s.hostConnID = connID
		s.hostUserID = userID
		s.hostName = name
	}
	return JoinResult{
		Snapshot:         s.snapshotLocked(),
		ParticipantCount: len(s.participants),
		IsHost:           s.hostConnID == connID,
	}
}

// RemoveParticipant deletes the participant bound to connID. When the host
// leaves, the remaining participant that joined earliest is promoted.
func (s *Session) RemoveParticipant(connID string) HostChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[connID]; !ok {
		return HostChange{Remaining: len(s.participants)}
	}
	delete(s.participants, connID)
	s.touch()

	res := HostChange{Removed: true, Remaining: len(s.participants)}
	if s.hostConnID != connID {
		return res
	}
	if len(s.participants) == 0 {
		// Host identity stays for summaries; the connection slot is freed so
		// the next joiner can claim it.
		s.hostConnID = ""
		return res
	}

	nextConn, next := s.earliestParticipantLocked()
	s.hostConnID = nextConn
	s.hostUserID = next.UserID
	s.hostName = next.Name

	res.Changed = true
	res.NewHostConnID = nextConn
	res.NewHostUserID = next.UserID
	return res
}

func (s *Session) earliestParticipantLocked() (string, *Participant) {
	var (
		bestConn string
		best     *Participant
	)
	for conn, p := range s.participants {
		if best == nil || p.JoinedAt.Before(best.JoinedAt) ||
			(p.JoinedAt.Equal(best.JoinedAt) && p.seq < best.seq) {
			bestConn, best = conn, p
		}
	}
	return bestConn, best
}

// AddToQueue appends a track submitted by userID and re-ranks the queue.
func (s *Session) AddToQueue(track models.Track, addedBy, userID string) (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.settings.MaxQueueSize {
		return nil, ErrQueueFull
	}

	now := s.touch()
	s.itemSeq++
	item := &QueueItem{
		ID:            newItemID(now),
		Track:         track,
		AddedByUserID: userID,
		AddedByName:   addedBy,
		SubmittedAt:   now,
		votes:         make(map[string]Vote),
		seq:           s.itemSeq,
	}
	s.queue = append(s.queue, item)
	rankQueue(s.queue)
	return item.clone(), nil
}

// Vote replaces userID's vote on the item. NoVote clears it.
func (s *Session) Vote(itemID, userID string, v Vote) (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findLocked(itemID)
	if item == nil {
		return nil, fmt.Errorf("vote on %s: %w", itemID, ErrItemNotFound)
	}
	item.setVote(userID, v)
	rankQueue(s.queue)
	s.touch()
	return item.clone(), nil
}

// RemoveFromQueue deletes an item. Only its submitter or the host may do so.
func (s *Session) RemoveFromQueue(itemID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, it := range s.queue {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("remove %s: %w", itemID, ErrItemNotFound)
	}
	if s.queue[idx].AddedByUserID != userID && s.hostUserID != userID {
		return fmt.Errorf("remove %s by %s: %w", itemID, userID, ErrPermissionDenied)
	}
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	s.touch()
	return nil
}

// PlayNext moves the current track to history and starts the top ranked item.
func (s *Session) PlayNext() (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.history = append([]*QueueItem{s.current}, s.history...)
		if len(s.history) > historyLimit {
			s.history = s.history[:historyLimit]
		}
	}

	if len(s.queue) == 0 {
		s.current = nil
		s.playback.IsPlaying = false
		return nil, ErrQueueEmpty
	}

	now := s.touch()
	s.current = s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.played++
	s.playback = PlaybackState{IsPlaying: true, Position: 0, UpdatedAt: now.UnixMilli()}
	return s.current.clone(), nil
}

// UpdatePlayback merges a partial state into the playback snapshot. Values
// are not validated; the gateway only forwards updates from the host.
func (s *Session) UpdatePlayback(u PlaybackUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToLower(u.Action) {
	case "play":
		s.playback.IsPlaying = true
	case "pause":
		s.playback.IsPlaying = false
	}
	if u.IsPlaying != nil {
		s.playback.IsPlaying = *u.IsPlaying
	}
	if u.CurrentTime != nil {
		s.playback.Position = *u.CurrentTime
	}
	s.playback.UpdatedAt = s.touch().UnixMilli()
}

func (s *Session) IsHostConn(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return connID != "" && s.hostConnID == connID
}

func (s *Session) VotingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.VotingEnabled
}

// ParticipantName returns the display name bound to connID, if any.
func (s *Session) ParticipantName(connID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[connID]
	if !ok {
		return "", false
	}
	return p.Name, true
}

func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// HostConnID returns the connection currently holding the host role.
func (s *Session) HostConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostConnID
}

func (s *Session) HostUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostUserID
}

// TracksPlayed counts the tracks started in this session.
func (s *Session) TracksPlayed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

// Queue returns a copy of the ranked queue.
func (s *Session) Queue() []*QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*QueueItem, len(s.queue))
	for i, it := range s.queue {
		out[i] = it.clone()
	}
	return out
}

// Current returns the playing item, or nil.
func (s *Session) Current() *QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.clone()
}

// History returns played items, most recent first.
func (s *Session) History() []*QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*QueueItem, len(s.history))
	for i, it := range s.history {
		out[i] = it.clone()
	}
	return out
}

func (s *Session) Playback() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

func (s *Session) findLocked(itemID string) *QueueItem {
	for _, it := range s.queue {
		if it.ID == itemID {
			return it
		}
	}
	return nil
}

// participantsLocked lists participants in join order.
func (s *Session) participantsLocked() []*Participant {
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func newItemID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
