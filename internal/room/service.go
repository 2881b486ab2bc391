package room

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/music-jam-system/internal/jam"
	"github.com/music-jam-system/pkg/events"
)

// Service is the REST-facing side of the session store.
type Service struct {
	store  *jam.Store
	events events.Publisher
	log    logrus.FieldLogger
}

func NewService(store *jam.Store, publisher events.Publisher, log logrus.FieldLogger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:  store,
		events: publisher,
		log:    log.WithField("component", "room"),
	}
}

func (s *Service) CreateSession(ctx context.Context, hostName string) (*jam.Session, error) {
	sess, err := s.store.Create(strings.TrimSpace(hostName))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.publish(ctx, events.EventTypeSessionCreated, sess.Code(), sess.HostUserID(),
		events.SessionCreatedPayload{HostName: sess.HostName()})
	return sess, nil
}

func (s *Service) GetSession(_ context.Context, code string) (jam.Snapshot, error) {
	sess, err := s.store.Get(code)
	if err != nil {
		return jam.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Service) ActiveSessions(_ context.Context) []jam.Summary {
	return s.store.ListActive()
}

// SessionClosed records the end of a session. It is installed as the
// store's delete hook.
func (s *Service) SessionClosed(sess *jam.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.publish(ctx, events.EventTypeSessionClosed, sess.Code(), sess.HostUserID(), events.SessionClosedPayload{
		HostName:     sess.HostName(),
		TracksPlayed: sess.TracksPlayed(),
		CreatedAt:    sess.CreatedAt(),
	})
}

func (s *Service) publish(ctx context.Context, typ events.EventType, code, userID string, payload interface{}) {
	e, err := events.New(typ, code, userID, payload)
	if err != nil {
		s.log.WithError(err).Error("failed to build event")
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"session": code, "event": typ}).Warn("failed to publish event")
	}
}
