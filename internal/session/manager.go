package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heimdex/chapter-agent/internal/chapterfmt"
	"github.com/heimdex/chapter-agent/internal/fetch"
	"github.com/heimdex/chapter-agent/internal/logging"
	"github.com/heimdex/chapter-agent/internal/store"
	"github.com/heimdex/chapter-agent/internal/timeline"
)

var ErrNotFound = errors.New("session not found")

// ManagerConfig wires a Manager. Fetcher and Images may be nil for
// sessions that never handle images.
type ManagerConfig struct {
	Images        store.ImageStore
	Fetcher       fetch.Fetcher
	ExportOptions chapterfmt.ExportOptions
	Logger        *slog.Logger
	Now           func() time.Time
}

// Manager tracks the live sessions. Sessions are never persisted; closing
// one drops its images from the store.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	images   store.ImageStore
	fetcher  fetch.Fetcher
	defaults chapterfmt.ExportOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		images:   cfg.Images,
		fetcher:  cfg.Fetcher,
		defaults: cfg.ExportOptions,
		logger:   logger,
		now:      now,
	}
}

// Create starts a session. A negative duration leaves it unknown.
func (m *Manager) Create(mediaFilename string, duration float64) *Session {
	id := uuid.NewString()
	logger := logging.WithSessionID(m.logger, id)
	created := m.now()

	s := &Session{
		ID:            id,
		CreatedAt:     created,
		timeline:      timeline.New(logger),
		images:        m.images,
		fetcher:       m.fetcher,
		logger:        logger,
		now:           m.now,
		mediaFilename: mediaFilename,
		exportOpts:    m.defaults,
		lastActive:    created,
	}
	if duration >= 0 {
		s.timeline.SetDuration(duration)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logger.Info("session created", "media_filename", mediaFilename)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns the sessions oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Latest returns the most recently active session, or nil.
func (m *Manager) Latest() *Session {
	var latest *Session
	for _, s := range m.List() {
		if latest == nil || s.LastActive().After(latest.LastActive()) {
			latest = s
		}
	}
	return latest
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close discards a session and its images. If the images cannot be
// deleted the session stays open so the close can be retried.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if m.images == nil {
		s.logger.Info("session closed")
		return nil
	}

	deleted, err := m.images.DeleteSessionImages(ctx, id)
	if err != nil {
		s.logger.Warn("failed to delete session images", "error", err)
		m.mu.Lock()
		if _, taken := m.sessions[id]; !taken {
			m.sessions[id] = s
		}
		m.mu.Unlock()
		return fmt.Errorf("close session: %w", err)
	}
	s.logger.Info("session closed", "images_deleted", deleted)
	return nil
}

// CloseIdle closes every session inactive for longer than ttl and returns
// how many were closed.
func (m *Manager) CloseIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	closed := 0
	for _, s := range m.List() {
		if s.LastActive().After(cutoff) {
			continue
		}
		if err := m.Close(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
			continue
		}
		closed++
	}
	return closed
}

// CloseAll discards every session.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, s := range m.List() {
		_ = m.Close(ctx, s.ID)
	}
}
