package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/rtspsource/internal/logger"
)

var registerScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local id = ARGV[3]
	local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', active_key, id)
	return 1
`)

var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	local expired = {}
	for i, id in ipairs(active) do
		local rec = redis.call('GET', prefix .. id)
		if rec then
			table.insert(result, rec)
		else
			table.insert(expired, id)
		end
	end
	for i, id in ipairs(expired) do
		redis.call('SREM', active_key, id)
	end
	return result
`)

var updateStateScript = redis.NewScript(`
	local key = KEYS[1]
	local ttl = tonumber(ARGV[1])
	local state = ARGV[2]
	local now = ARGV[3]
	local data = redis.call('GET', key)
	if not data then
		return 0
	end
	local rec = cjson.decode(data)
	rec.state = state
	rec.last_heartbeat = now
	redis.call('SET', key, cjson.encode(rec), 'PX', ttl)
	return 1
`)

// RedisRegistry implements Registry with Redis as backend. Records expire
// after the TTL unless refreshed.
type RedisRegistry struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if prefix == "" {
		prefix = "rtspsource:sessions:"
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisRegistry{
		client: client,
		logger: log.WithField("component", "registry"),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) key(id string) string { return r.prefix + id }

func (r *RedisRegistry) activeKey() string { return r.prefix + "active" }

// Register adds rec, preserving CreatedAt when the session is already known.
func (r *RedisRegistry) Register(ctx context.Context, rec *Record) error {
	existing, err := r.Get(ctx, rec.ID)
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
		return r.Update(ctx, rec)
	case !errors.Is(err, ErrSessionNotFound):
		return fmt.Errorf("failed to check existing session: %w", err)
	}

	now := time.Now()
	rec.CreatedAt = now
	rec.LastHeartbeat = now
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := registerScript.Run(ctx, r.client,
		[]string{r.key(rec.ID), r.activeKey()},
		data, r.ttl.Milliseconds(), rec.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrSessionExists, rec.ID)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": rec.ID,
		"url":        rec.URL,
		"state":      rec.State,
	}).Info("Session registered")
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	if err := r.client.SRem(ctx, r.activeKey(), id).Err(); err != nil {
		r.logger.WithError(err).Warnf("Failed to remove session %s from active set", id)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	r.logger.WithField("session_id", id).Info("Session unregistered")
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Record, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

// List returns every live session and prunes expired ids from the active set.
func (r *RedisRegistry) List(ctx context.Context) ([]*Record, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	records := make([]*Record, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Warn("Invalid data type in result")
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal session")
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// UpdateState rewrites the state field in place.
func (r *RedisRegistry) UpdateState(ctx context.Context, id, state string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	updated, err := updateStateScript.Run(ctx, r.client, []string{r.key(id)},
		r.ttl.Milliseconds(), state, now).Int()
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": id,
		"state":      state,
	}).Debug("Session state updated")
	return nil
}

// Update replaces an existing record. It never recreates an expired one.
func (r *RedisRegistry) Update(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	rec.LastHeartbeat = time.Now()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.client.SetXX(ctx, r.key(rec.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, rec.ID)
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
