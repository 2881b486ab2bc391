package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/music-jam-system/pkg/models"
)

// Catalog is the server's song library, loaded from a JSON file and
// reloaded whenever the file changes.
type Catalog struct {
	path string
	log  logrus.FieldLogger

	mu     sync.RWMutex
	tracks []models.Track

	watcher *fsnotify.Watcher
}

// Open loads the catalog file. A missing file yields an empty catalog that
// fills in once the file appears.
func Open(path string, log logrus.FieldLogger) (*Catalog, error) {
	c := &Catalog{
		path: filepath.Clean(path),
		log:  log.WithField("component", "catalog"),
	}

	if err := c.Reload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		c.log.WithField("path", c.path).Warn("catalog file not found, starting empty")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch catalog dir: %w", err)
	}
	c.watcher = watcher
	return c, nil
}

// Load parses a catalog document. Both {"songs": [...]} and a bare array
// are accepted.
func Load(data []byte) ([]models.Track, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var tracks []models.Track
	if data[0] == '[' {
		if err := json.Unmarshal(data, &tracks); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		return tracks, nil
	}

	var doc struct {
		Songs []models.Track `json:"songs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return doc.Songs, nil
}

// Reload reads the file again. On error the previous tracks are kept.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	tracks, err := Load(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tracks = tracks
	c.mu.Unlock()

	c.log.WithField("tracks", len(tracks)).Info("catalog loaded")
	return nil
}

// Tracks returns a copy of the current catalog.
func (c *Catalog) Tracks() []models.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// Search returns tracks whose title, artist or album contains query,
// case-insensitively. A non-positive limit means no limit.
func (c *Catalog) Search(query string, limit int) []models.Track {
	q := strings.ToLower(strings.TrimSpace(query))

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Track, 0)
	for _, t := range c.tracks {
		if q != "" &&
			!strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(t.Artist), q) &&
			!strings.Contains(strings.ToLower(t.Album), q) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Watch reloads the catalog on file changes until ctx is done.
func (c *Catalog) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.log.WithError(err).Warn("catalog reload failed, keeping previous tracks")
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.WithError(err).Warn("catalog watcher error")
		}
	}
}

func (c *Catalog) Close() error {
	return c.watcher.Close()
}
