package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/honeynil/AuthSessionService/internal/infrastructure/observability"
	"github.com/honeynil/AuthSessionService/internal/models"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	userIndexPrefix  = "user:"
	userIndexSuffix  = ":sessions"
)

const (
	rotateNotFound = -1
	rotateConflict = -2
)

// KEYS[1] session hash, KEYS[2] user index
// ARGV[1] expected generation, ARGV[2] ttl ms, ARGV[3] session id, ARGV[4..] field/value pairs
var rotateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local current = tonumber(redis.call('HGET', KEYS[1], 'generation'))
if current ~= tonumber(ARGV[1]) then
	return -2
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return current + 1
`)

var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'last_activity_at', ARGV[1])
	return 1
end
return 0
`)

// ARGV[1] index prefix, ARGV[2] index suffix, ARGV[3] session id
var deleteScript = redis.NewScript(`
local user = redis.call('HGET', KEYS[1], 'user_id')
local removed = redis.call('DEL', KEYS[1])
if user then
	redis.call('SREM', ARGV[1] .. user .. ARGV[2], ARGV[3])
end
return removed
`)

// ARGV[1] session key prefix
var deleteAllScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
	removed = removed + redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return removed
`)

// SessionStore keeps sessions as Redis hashes with a per-user set index.
type SessionStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewSessionStore(client redis.UniversalClient, timeout time.Duration) *SessionStore {
	return &SessionStore{client: client, timeout: timeout}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userIndexKey(userID string) string {
	return userIndexPrefix + userID + userIndexSuffix
}

func (s *SessionStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SessionStore) Create(ctx context.Context, session *models.Session, ttl time.Duration) (err error) {
	defer observe("create", time.Now(), &err)
	if session == nil || session.ID == "" || session.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", pkgerrors.ErrInvalidInput)
	}

	fields, err := encodeSession(session)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := sessionKey(session.ID)
	idx := userIndexKey(session.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields...)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, idx, session.ID)
		// all sessions share one ttl, so the newest one bounds the index
		pipe.PExpire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return unavailable("create", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (session *models.Session, err error) {
	defer observe("get", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(values) == 0 {
		return nil, pkgerrors.ErrSessionNotFound
	}
	return decodeSession(values)
}

func (s *SessionStore) Touch(ctx context.Context, sessionID string, at time.Time) (err error) {
	defer observe("touch", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := touchScript.Run(ctx, s.client, []string{sessionKey(sessionID)}, at.UnixNano()).Int64()
	if err != nil {
		return unavailable("touch", err)
	}
	if n == 0 {
		return pkgerrors.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) Rotate(ctx context.Context, next *models.Session, expectedGeneration int64, ttl time.Duration) (err error) {
	defer observe("rotate", time.Now(), &err)
	if next == nil || next.ID == "" || next.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", pkgerrors.ErrInvalidInput)
	}
	if next.Generation != expectedGeneration+1 {
		return fmt.Errorf("%w: next generation must be %d", pkgerrors.ErrInvalidInput, expectedGeneration+1)
	}

	fields, err := encodeSession(next)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := make([]interface{}, 0, 3+len(fields))
	args = append(args, expectedGeneration, ttl.Milliseconds(), next.ID)
	args = append(args, fields...)

	res, err := rotateScript.Run(ctx, s.client,
		[]string{sessionKey(next.ID), userIndexKey(next.UserID)}, args...).Int64()
	if err != nil {
		return unavailable("rotate", err)
	}
	switch res {
	case rotateNotFound:
		return pkgerrors.ErrSessionNotFound
	case rotateConflict:
		return pkgerrors.ErrGenerationMismatch
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) (deleted bool, err error) {
	defer observe("delete", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := deleteScript.Run(ctx, s.client, []string{sessionKey(sessionID)},
		userIndexPrefix, userIndexSuffix, sessionID).Int64()
	if err != nil {
		return false, unavailable("delete", err)
	}
	return n > 0, nil
}

func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (removed int, err error) {
	defer observe("delete_all", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := deleteAllScript.Run(ctx, s.client, []string{userIndexKey(userID)}, sessionKeyPrefix).Int64()
	if err != nil {
		return 0, unavailable("delete_all", err)
	}
	return int(n), nil
}

// ListForUser returns the live sessions of a user and drops index members
// whose session already expired.
func (s *SessionStore) ListForUser(ctx context.Context, userID string) (sessions []*models.Session, err error) {
	defer observe("list", time.Now(), &err)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	idx := userIndexKey(userID)
	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	if len(ids) == 0 {
		return []*models.Session{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list", err)
	}

	sessions = make([]*models.Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		session, err := decodeSession(values)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, idx, stale...).Err(); err != nil {
			observability.Logger(ctx).Warn("failed to prune session index", "user_id", userID, "error", err)
		}
	}
	return sessions, nil
}

func encodeSession(s *models.Session) ([]interface{}, error) {
	claims, err := json.Marshal(s.Claims)
	if err != nil {
		return nil, fmt.Errorf("marshal session claims: %w", err)
	}
	return []interface{}{
		"session_id", s.ID,
		"user_id", s.UserID,
		"device_id", s.DeviceID,
		"generation", s.Generation,
		"created_at", s.CreatedAt.UnixNano(),
		"last_activity_at", s.LastActivityAt.UnixNano(),
		"claims", string(claims),
	}, nil
}

func decodeSession(values map[string]string) (*models.Session, error) {
	generation, err := strconv.ParseInt(values["generation"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session generation: %v", pkgerrors.ErrStoreUnavailable, err)
	}
	createdAt, err := strconv.ParseInt(values["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session created_at: %v", pkgerrors.ErrStoreUnavailable, err)
	}
	lastActivity, err := strconv.ParseInt(values["last_activity_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session last_activity_at: %v", pkgerrors.ErrStoreUnavailable, err)
	}

	session := &models.Session{
		ID:             values["session_id"],
		UserID:         values["user_id"],
		DeviceID:       values["device_id"],
		Generation:     generation,
		CreatedAt:      time.Unix(0, createdAt).UTC(),
		LastActivityAt: time.Unix(0, lastActivity).UTC(),
	}
	if raw := values["claims"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &session.Claims); err != nil {
			return nil, fmt.Errorf("%w: corrupt session claims: %v", pkgerrors.ErrStoreUnavailable, err)
		}
	}
	return session, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", pkgerrors.ErrStoreUnavailable, op, err)
}

func observe(method string, start time.Time, errp *error) {
	status := "ok"
	switch err := *errp; {
	case err == nil:
	case errors.Is(err, pkgerrors.ErrSessionNotFound):
		status = "not_found"
	case errors.Is(err, pkgerrors.ErrGenerationMismatch):
		status = "conflict"
	default:
		status = "error"
	}
	observability.ObserveStore(method, status, start)
}
