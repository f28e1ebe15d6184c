package session

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/frogbytes/frogbytes/internal/metrics"
)

// MemoryRegistry implements Registry with a ttlcache keyed by session id.
// The cache TTL equals the retention window and touch-on-hit is disabled,
// so expiry is anchored to each record's creation time. Expected
// cardinality is low, so pair lookups are linear scans.
type MemoryRegistry struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *Record]
}

// NewMemoryRegistry creates an in-memory registry. The cache's own sweep
// goroutine is started here and stopped by Close.
func NewMemoryRegistry(retention time.Duration) *MemoryRegistry {
	if retention <= 0 {
		retention = DefaultRetention
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Record](retention),
		ttlcache.WithDisableTouchOnHit[string, *Record](),
	)
	go cache.Start()

	return &MemoryRegistry{cache: cache}
}

// Register implements Registry.Register.
func (r *MemoryRegistry) Register(_ context.Context, sessionID, userID, targetURL string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item := r.cache.Get(sessionID); item != nil {
		log.Warn().
			Str("session_id", sessionID).
			Msg("register ignored: session id already tracked")
		metrics.IncSessionDuplicate()
		return copyRecord(item.Value()), ErrDuplicateID
	}

	if existing := r.findActiveLocked(userID, targetURL); existing != nil {
		log.Warn().
			Str("session_id", sessionID).
			Str("user_id", userID).
			Str("target_url", targetURL).
			Str("existing_session_id", existing.SessionID).
			Msg("register ignored: active session exists for user and url")
		metrics.IncSessionDuplicate()
		return copyRecord(existing), ErrActiveExists
	}

	rec := &Record{
		SessionID: sessionID,
		UserID:    userID,
		TargetURL: targetURL,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	r.cache.Set(sessionID, rec, ttlcache.DefaultTTL)

	log.Debug().
		Str("session_id", sessionID).
		Str("user_id", userID).
		Str("target_url", targetURL).
		Msg("session registered")
	metrics.IncSessionRegistered()
	metrics.SetActiveSessions(r.countActiveLocked())

	return copyRecord(rec), nil
}

// Unregister implements Registry.Unregister.
func (r *MemoryRegistry) Unregister(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(sessionID)
	if item == nil {
		log.Warn().
			Str("session_id", sessionID).
			Msg("unregister ignored: unknown session id")
		return nil
	}

	item.Value().Active = false
	log.Debug().Str("session_id", sessionID).Msg("session unregistered")
	metrics.SetActiveSessions(r.countActiveLocked())

	return nil
}

// Get implements Registry.Get.
func (r *MemoryRegistry) Get(_ context.Context, sessionID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(sessionID)
	if item == nil {
		return nil, ErrNotFound
	}
	return copyRecord(item.Value()), nil
}

// HasActiveSession implements Registry.HasActiveSession.
func (r *MemoryRegistry) HasActiveSession(_ context.Context, userID, targetURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.findActiveLocked(userID, targetURL) != nil, nil
}

// GetExistingSession implements Registry.GetExistingSession.
func (r *MemoryRegistry) GetExistingSession(_ context.Context, userID, targetURL string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findActiveLocked(userID, targetURL)
	if rec == nil {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// ActiveSessions implements Registry.ActiveSessions.
func (r *MemoryRegistry) ActiveSessions(_ context.Context) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Record
	for _, item := range r.cache.Items() {
		if item.Value().Active {
			out = append(out, copyRecord(item.Value()))
		}
	}
	return out, nil
}

// CleanupOldSessions implements Registry.CleanupOldSessions. The cache
// sweeps expired entries on its own; this forces an immediate pass.
func (r *MemoryRegistry) CleanupOldSessions(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.cache.Len()
	r.cache.DeleteExpired()
	removed := before - r.cache.Len()
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("session retention sweep")
	}
	metrics.SetActiveSessions(r.countActiveLocked())

	return nil
}

// ClearAll implements Registry.ClearAll.
func (r *MemoryRegistry) ClearAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.DeleteAll()
	metrics.SetActiveSessions(0)

	return nil
}

// Close stops the cache's sweep goroutine.
func (r *MemoryRegistry) Close() error {
	r.cache.Stop()
	return nil
}

// findActiveLocked scans for an active record matching the pair. More
// than one active match is an invariant violation; it is logged and the
// first match wins.
func (r *MemoryRegistry) findActiveLocked(userID, targetURL string) *Record {
	var found *Record
	for _, item := range r.cache.Items() {
		rec := item.Value()
		if !rec.Active || rec.UserID != userID || rec.TargetURL != targetURL {
			continue
		}
		if found != nil {
			log.Error().
				Str("user_id", userID).
				Str("target_url", targetURL).
				Str("first_session_id", found.SessionID).
				Str("second_session_id", rec.SessionID).
				Msg("invariant violation: multiple active sessions for pair")
			continue
		}
		found = rec
	}
	return found
}

func (r *MemoryRegistry) countActiveLocked() int {
	n := 0
	for _, item := range r.cache.Items() {
		if item.Value().Active {
			n++
		}
	}
	return n
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	return &cp
}

var _ Registry = (*MemoryRegistry)(nil)
