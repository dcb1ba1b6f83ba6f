package session

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxSessions   = 1000
	DefaultSweepInterval = 60 * time.Second
	DefaultTimeout       = 300 * time.Second
)

var (
	ErrConflict         = errors.New("session already active")
	ErrCapacityExceeded = errors.New("maximum connections reached")
)

type record struct {
	session       entity.Session
	lastHeartbeat time.Time
}

type RegistryConfig struct {
	MaxSessions int
	Timeout     time.Duration
	Clock       clockwork.Clock
}

// Registry owns every live session record. All access goes through its
// methods; callers only ever receive copies.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*record
	maxSessions int
	timeout     time.Duration
	clock       clockwork.Clock

	hookMu  sync.RWMutex
	onEvict []func(entity.Session)
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Registry{
		sessions:    make(map[string]*record),
		maxSessions: cfg.MaxSessions,
		timeout:     cfg.Timeout,
		clock:       cfg.Clock,
	}
}

// Admit registers a session for the claims' session identity. A live record
// for the same identity wins over the capacity check.
func (r *Registry) Admit(claims entity.Claims) (entity.Session, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[claims.SessionID]; ok {
		return entity.Session{}, ErrConflict
	}
	if len(r.sessions) >= r.maxSessions {
		return entity.Session{}, ErrCapacityExceeded
	}

	rec := &record{
		session: entity.Session{
			ID:           claims.SessionID,
			ConnectionID: uuid.New(),
			Subject:      claims.Subject,
			UserID:       claims.UserID,
			Permissions:  slices.Clone(claims.Permissions),
			ConnectedAt:  now,
		},
		lastHeartbeat: now,
	}
	r.sessions[claims.SessionID] = rec

	return rec.snapshot(), nil
}

func (r *Registry) Heartbeat(sessionID string) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.sessions[sessionID]; ok {
		rec.lastHeartbeat = now
	}
}

func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
}

// ReleaseAdmission removes the record only if it still belongs to the given
// admission. Returns false when the identity was already evicted or re-admitted.
func (r *Registry) ReleaseAdmission(session entity.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[session.ID]
	if !ok || rec.session.ConnectionID != session.ConnectionID {
		return false
	}
	delete(r.sessions, session.ID)
	return true
}

// Sweep evicts every session whose last heartbeat is older than timeout.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []entity.Session {
	r.mu.Lock()
	var evicted []entity.Session
	for id, rec := range r.sessions {
		if now.Sub(rec.lastHeartbeat) > timeout {
			evicted = append(evicted, rec.snapshot())
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}

	logrus.WithField("evicted", len(evicted)).Warn("cleaned up stale sessions")

	r.hookMu.RLock()
	hooks := slices.Clone(r.onEvict)
	r.hookMu.RUnlock()

	for _, session := range evicted {
		for _, hook := range hooks {
			hook(session)
		}
	}

	return evicted
}

// OnEvict registers fn to run, outside the registry lock, for every swept session.
func (r *Registry) OnEvict(fn func(entity.Session)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onEvict = append(r.onEvict, fn)
}

func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	go func() {
		ticker := r.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				r.Sweep(r.clock.Now(), r.timeout)
				logrus.WithFields(logrus.Fields{
					"active_sessions": r.Count(),
					"max_sessions":    r.maxSessions,
				}).Info("session sweep completed")
			}
		}
	}()
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) MaxSessions() int {
	return r.maxSessions
}

func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

func (r *Registry) Get(sessionID string) (entity.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return entity.Session{}, false
	}
	return rec.snapshot(), true
}

func (r *Registry) UserSessions(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, rec := range r.sessions {
		if rec.session.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Snapshot() []entity.Session {
	r.mu.Lock()
	sessions := make([]entity.Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		sessions = append(sessions, rec.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})
	return sessions
}

func (rec *record) snapshot() entity.Session {
	session := rec.session
	session.Permissions = slices.Clone(rec.session.Permissions)
	session.LastHeartbeat = rec.lastHeartbeat
	return session
}
