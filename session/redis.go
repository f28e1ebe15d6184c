package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/frogbytes/frogbytes/internal/metrics"
)

// RedisRegistry implements Registry on Redis for multi-process
// deployments. Each record lives in a hash under <prefix>:session:<id>
// with an expiry equal to the retention window; pair deduplication uses
// a secondary <prefix>:active:<user>|<url> key written with SET NX, which
// makes the check-then-insert race-free across processes.
type RedisRegistry struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisRegistry creates a Redis-backed registry. The client is owned
// by the caller and is not closed by Close.
func NewRedisRegistry(client *redis.Client, prefix string, retention time.Duration) *RedisRegistry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisRegistry{client: client, prefix: prefix, retention: retention}
}

func (r *RedisRegistry) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}

func (r *RedisRegistry) pairKey(userID, targetURL string) string {
	return fmt.Sprintf("%s:active:%s|%s", r.prefix, userID, targetURL)
}

// releasePairScript deletes the pair claim only while it still belongs
// to the unregistering session. Without the compare, a stale unregister
// could drop a claim already reissued to a newer session.
var releasePairScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Register implements Registry.Register.
func (r *RedisRegistry) Register(ctx context.Context, sessionID, userID, targetURL string) (*Record, error) {
	exists, err := r.client.Exists(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}
	if exists > 0 {
		log.Warn().
			Str("session_id", sessionID).
			Msg("register ignored: session id already tracked")
		metrics.IncSessionDuplicate()
		rec, getErr := r.Get(ctx, sessionID)
		if getErr != nil {
			return nil, ErrDuplicateID
		}
		return rec, ErrDuplicateID
	}

	ok, err := r.client.SetNX(ctx, r.pairKey(userID, targetURL), sessionID, r.retention).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim session pair: %w", err)
	}
	if !ok {
		log.Warn().
			Str("session_id", sessionID).
			Str("user_id", userID).
			Str("target_url", targetURL).
			Msg("register ignored: active session exists for user and url")
		metrics.IncSessionDuplicate()
		existing, getErr := r.GetExistingSession(ctx, userID, targetURL)
		if getErr != nil {
			return nil, ErrActiveExists
		}
		return existing, ErrActiveExists
	}

	rec := &Record{
		SessionID: sessionID,
		UserID:    userID,
		TargetURL: targetURL,
		// Truncated to seconds: the hash stores Unix seconds, and the
		// returned record must round-trip identically through Get.
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Active:    true,
	}
	key := r.sessionKey(sessionID)
	fields := map[string]interface{}{
		"session_id": rec.SessionID,
		"user_id":    rec.UserID,
		"target_url": rec.TargetURL,
		"created_at": rec.CreatedAt.Unix(),
		"active":     "1",
	}

	// Write the hash and its TTL in one transaction so no session can
	// ever land without an expiry; the sweep relies entirely on Redis
	// key expiration.
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		// Roll back the pair claim and any partial write so a retry
		// can succeed.
		r.client.Del(ctx, r.pairKey(userID, targetURL), key)
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	metrics.IncSessionRegistered()
	r.updateActiveGauge(ctx)

	return rec, nil
}

// Unregister implements Registry.Unregister.
func (r *RedisRegistry) Unregister(ctx context.Context, sessionID string) error {
	rec, err := r.Get(ctx, sessionID)
	if err == ErrNotFound {
		log.Warn().
			Str("session_id", sessionID).
			Msg("unregister ignored: unknown session id")
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.Active {
		// Repeated unregister. The pair claim may already belong to a
		// newer session, so it must not be touched here.
		log.Warn().
			Str("session_id", sessionID).
			Msg("unregister ignored: session already inactive")
		return nil
	}

	if _, err := r.client.HSet(ctx, r.sessionKey(sessionID), "active", "0").Result(); err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	// Release the pair claim so the user can start a fresh session.
	// Compare-and-delete: only this session's own claim is removed.
	if err := releasePairScript.Run(ctx, r.client, []string{r.pairKey(rec.UserID, rec.TargetURL)}, sessionID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release session pair: %w", err)
	}

	r.updateActiveGauge(ctx)

	return nil
}

// Get implements Registry.Get.
func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*Record, error) {
	res, err := r.client.HGetAll(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(res)
}

// HasActiveSession implements Registry.HasActiveSession.
func (r *RedisRegistry) HasActiveSession(ctx context.Context, userID, targetURL string) (bool, error) {
	n, err := r.client.Exists(ctx, r.pairKey(userID, targetURL)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check active session: %w", err)
	}
	return n > 0, nil
}

// GetExistingSession implements Registry.GetExistingSession.
func (r *RedisRegistry) GetExistingSession(ctx context.Context, userID, targetURL string) (*Record, error) {
	sessionID, err := r.client.Get(ctx, r.pairKey(userID, targetURL)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active session: %w", err)
	}
	return r.Get(ctx, sessionID)
}

// ActiveSessions implements Registry.ActiveSessions.
func (r *RedisRegistry) ActiveSessions(ctx context.Context) ([]*Record, error) {
	var out []*Record
	iter := r.client.Scan(ctx, 0, r.prefix+":session:*", 0).Iterator()
	for iter.Next(ctx) {
		res, err := r.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil || len(res) == 0 {
			continue
		}
		rec, err := recordFromHash(res)
		if err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("skipping malformed session hash")
			continue
		}
		if rec.Active {
			out = append(out, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return out, nil
}

// CleanupOldSessions implements Registry.CleanupOldSessions. Redis key
// expiry already enforces the retention window.
func (r *RedisRegistry) CleanupOldSessions(_ context.Context) error {
	return nil
}

// ClearAll implements Registry.ClearAll.
func (r *RedisRegistry) ClearAll(ctx context.Context) error {
	for _, pattern := range []string{r.prefix + ":session:*", r.prefix + ":active:*"} {
		iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if _, err := r.client.Del(ctx, iter.Val()).Result(); err != nil {
				return fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan sessions: %w", err)
		}
	}

	metrics.SetActiveSessions(0)

	return nil
}

// updateActiveGauge recomputes the active-session gauge by scanning the
// registry. Best effort: gauge maintenance never fails an operation.
func (r *RedisRegistry) updateActiveGauge(ctx context.Context) {
	records, err := r.ActiveSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to refresh active session gauge")
		return
	}
	metrics.SetActiveSessions(len(records))
}

// Close implements Registry.Close. The Redis client belongs to the
// caller, so there is nothing to release here.
func (r *RedisRegistry) Close() error {
	return nil
}

func recordFromHash(res map[string]string) (*Record, error) {
	createdAtUnix, err := strconv.ParseInt(res["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	return &Record{
		SessionID: res["session_id"],
		UserID:    res["user_id"],
		TargetURL: res["target_url"],
		CreatedAt: time.Unix(createdAtUnix, 0).UTC(),
		Active:    res["active"] == "1",
	}, nil
}

var _ Registry = (*RedisRegistry)(nil)
