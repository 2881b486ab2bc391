package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/music-jam-system/pkg/events"
	"github.com/music-jam-system/pkg/models"
)

// Archive keeps a history of played tracks and closed sessions. Live
// session state never touches it.
type Archive struct {
	*gorm.DB
	log logrus.FieldLogger
}

// Open connects with the named driver ("mysql" or "sqlite") and migrates
// the schema.
func Open(driver, dsn string, gormLogger logger.Interface, log logrus.FieldLogger) (*Archive, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if driver == "mysql" {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, log)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB, log logrus.FieldLogger) (*Archive, error) {
	log = log.WithField("component", "archive")
	log.Debug("running database migrations")
	if err := db.AutoMigrate(&models.PlayedTrack{}, &models.SessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Archive{DB: db, log: log}, nil
}

func (a *Archive) RecordPlay(ctx context.Context, play *models.PlayedTrack) error {
	if play.ID == uuid.Nil {
		play.ID = uuid.New()
	}
	if err := a.WithContext(ctx).Create(play).Error; err != nil {
		return fmt.Errorf("failed to record play: %w", err)
	}
	return nil
}

func (a *Archive) RecordSession(ctx context.Context, rec *models.SessionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := a.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// TopTracks returns the most played tracks since the given time.
func (a *Archive) TopTracks(ctx context.Context, since time.Time, limit int) ([]models.TrackPlayCount, error) {
	var out []models.TrackPlayCount
	err := a.WithContext(ctx).
		Model(&models.PlayedTrack{}).
		Select("track_id, MAX(title) AS title, MAX(artist) AS artist, COUNT(*) AS plays").
		Where("played_at >= ?", since).
		Group("track_id").
		Order("plays DESC, track_id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query top tracks: %w", err)
	}
	return out, nil
}

// RecentSessions lists closed sessions, newest first.
func (a *Archive) RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	var out []models.SessionRecord
	if err := a.WithContext(ctx).Order("closed_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return out, nil
}

// Publish stores the events the archive cares about and ignores the rest,
// so the archive can sit next to Kafka as an event sink.
func (a *Archive) Publish(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.EventTypeSongStarted:
		var p events.SongStartedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		return a.RecordPlay(ctx, &models.PlayedTrack{
			SessionCode: e.SessionCode,
			TrackID:     p.TrackID,
			Title:       p.Title,
			Artist:      p.Artist,
			Genre:       p.Genre,
			AddedBy:     p.AddedBy,
			Score:       p.Score,
			PlayedAt:    e.Timestamp,
		})
	case events.EventTypeSessionClosed:
		var p events.SessionClosedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		return a.RecordSession(ctx, &models.SessionRecord{
			Code:         e.SessionCode,
			HostName:     p.HostName,
			TracksPlayed: p.TracksPlayed,
			CreatedAt:    p.CreatedAt,
			ClosedAt:     e.Timestamp,
		})
	}
	return nil
}

func (a *Archive) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
