// Package session tracks in-flight browse sessions and deduplicates
// concurrent session starts for the same user and target URL.
package session

import (
	"context"
	"errors"
	"time"
)

// Record describes one tracked session.
type Record struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	TargetURL string    `json:"target_url"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

var (
	// ErrDuplicateID is returned by Register when the session id is
	// already tracked. The original record is left untouched.
	ErrDuplicateID = errors.New("session id already registered")

	// ErrActiveExists is returned by Register when an active session
	// already exists for the same (user, target URL) pair.
	ErrActiveExists = errors.New("active session already exists for user and url")

	// ErrNotFound is returned by lookups that miss.
	ErrNotFound = errors.New("session not found")
)

// Registry is the session bookkeeping interface. Implementations must be
// safe for concurrent use; in particular Register must perform its
// check-then-insert atomically so the one-active-session-per-(user,url)
// invariant holds under parallel calls.
type Registry interface {
	// Register inserts a new active record. It returns the existing
	// record together with ErrDuplicateID or ErrActiveExists when the
	// insertion is suppressed; the registry state is unchanged in
	// either case.
	Register(ctx context.Context, sessionID, userID, targetURL string) (*Record, error)

	// Unregister marks the record inactive. An unknown id is logged
	// and ignored; the record itself is retained until the retention
	// sweep removes it.
	Unregister(ctx context.Context, sessionID string) error

	// Get returns the record for sessionID, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// HasActiveSession reports whether an active record exists for the
	// (userID, targetURL) pair.
	HasActiveSession(ctx context.Context, userID, targetURL string) (bool, error)

	// GetExistingSession returns the active record for the pair, or
	// ErrNotFound.
	GetExistingSession(ctx context.Context, userID, targetURL string) (*Record, error)

	// ActiveSessions returns a snapshot of all active records.
	ActiveSessions(ctx context.Context) ([]*Record, error)

	// CleanupOldSessions removes every record older than the retention
	// window, active or not.
	CleanupOldSessions(ctx context.Context) error

	// ClearAll unconditionally resets the registry.
	ClearAll(ctx context.Context) error

	// Close releases background resources (sweep goroutines).
	Close() error
}

// DefaultRetention is the retention window applied when a registry is
// constructed with a non-positive value.
const DefaultRetention = time.Hour
