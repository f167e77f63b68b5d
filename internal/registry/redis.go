package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "slate:devices:"

// RedisRegistry implements Registry over a shared Redis instance. Entries
// carry a TTL; a node that stops heartbeating disappears from the fleet
// view on its own.
type RedisRegistry struct {
	client *redis.Client
	logger *logrus.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a Redis-backed registry.
func NewRedisRegistry(client *redis.Client, logger *logrus.Logger, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisRegistry{
		client: client,
		logger: logger,
		prefix: keyPrefix,
		ttl:    ttl,
	}
}

// Register adds a device entry, or refreshes an existing one while
// preserving its original registration time.
func (r *RedisRegistry) Register(ctx context.Context, entry *Entry) error {
	key := r.prefix + entry.ID

	existingData, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var existing Entry
		if uerr := json.Unmarshal(existingData, &existing); uerr == nil {
			entry.RegisteredAt = existing.RegisteredAt
		}
	case err == redis.Nil:
		entry.RegisteredAt = time.Now()
		existingData = nil
	default:
		return fmt.Errorf("failed to check existing device: %w", err)
	}
	entry.LastHeartbeat = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal device entry: %w", err)
	}

	if existingData == nil {
		// New entry: SetNX plus active-set membership must be atomic.
		registerScript := redis.NewScript(`
			local key = KEYS[1]
			local active_key = KEYS[2]
			local data = ARGV[1]
			local ttl = tonumber(ARGV[2])
			local device_id = ARGV[3]
			local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
			if not ok then
				return 0
			end
			redis.call('SADD', active_key, device_id)
			return 1
		`)

		result, err := registerScript.Run(ctx, r.client,
			[]string{key, r.prefix + "active"},
			data, r.ttl.Milliseconds(), entry.ID).Int()
		if err != nil {
			return fmt.Errorf("failed to register device: %w", err)
		}
		if result == 0 {
			return fmt.Errorf("device %s already registered", entry.ID)
		}

		r.logger.WithFields(logrus.Fields{
			"device_id": entry.ID,
			"node_id":   entry.NodeID,
			"model":     entry.ModelName,
		}).Info("Device registered")
		return nil
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh device: %w", err)
	}
	r.logger.WithField("device_id", entry.ID).Debug("Device entry refreshed")
	return nil
}

// Unregister removes a device entry.
func (r *RedisRegistry) Unregister(ctx context.Context, deviceID string) error {
	key := r.prefix + deviceID

	deleted, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to unregister device: %w", err)
	}
	if deleted == 0 {
		return ErrDeviceNotFound
	}

	if err := r.client.SRem(ctx, r.prefix+"active", deviceID).Err(); err != nil {
		r.logger.Warnf("Failed to remove device %s from active set: %v", deviceID, err)
	}

	r.logger.WithField("device_id", deviceID).Info("Device unregistered")
	return nil
}

// Get retrieves one device entry.
func (r *RedisRegistry) Get(ctx context.Context, deviceID string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.prefix+deviceID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device entry: %w", err)
	}
	return &entry, nil
}

// List returns every live entry, pruning expired IDs from the active set
// as a side effect.
func (r *RedisRegistry) List(ctx context.Context) ([]*Entry, error) {
	script := redis.NewScript(`
		local active_key = KEYS[1]
		local prefix = ARGV[1]
		local active = redis.call('SMEMBERS', active_key)
		local result = {}
		local to_remove = {}

		for i, id in ipairs(active) do
			local entry = redis.call('GET', prefix .. id)
			if entry then
				table.insert(result, entry)
			else
				table.insert(to_remove, id)
			end
		end

		for i, id in ipairs(to_remove) do
			redis.call('SREM', active_key, id)
		end

		return result
	`)

	res, err := script.Run(ctx, r.client, []string{r.prefix + "active"}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	entries := make([]*Entry, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Warn("Invalid data type in list result")
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal device entry")
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// UpdateHeartbeat refreshes the entry's TTL and heartbeat timestamp in a
// single round trip.
func (r *RedisRegistry) UpdateHeartbeat(ctx context.Context, deviceID string) error {
	script := redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local now = ARGV[2]
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("device not found")
		end
		local entry = cjson.decode(data)
		entry.last_heartbeat = now
		local updated = cjson.encode(entry)
		redis.call('SET', key, updated, 'PX', ttl)
		return "OK"
	`)

	_, err := script.Run(ctx, r.client, []string{r.prefix + deviceID},
		r.ttl.Milliseconds(), time.Now().Format(time.RFC3339Nano)).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// UpdateState sets the session state.
func (r *RedisRegistry) UpdateState(ctx context.Context, deviceID string, state DeviceState) error {
	script := redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local state = ARGV[2]
		local now = ARGV[3]
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("device not found")
		end
		local entry = cjson.decode(data)
		entry.state = state
		entry.last_heartbeat = now
		local updated = cjson.encode(entry)
		redis.call('SET', key, updated, 'PX', ttl)
		return "OK"
	`)

	_, err := script.Run(ctx, r.client, []string{r.prefix + deviceID},
		r.ttl.Milliseconds(), string(state), time.Now().Format(time.RFC3339Nano)).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to update state: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"state":     state,
	}).Debug("Device state updated")
	return nil
}

// UpdateStats refreshes the mirrored frame counters.
func (r *RedisRegistry) UpdateStats(ctx context.Context, deviceID string, stats *EntryStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	script := redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local stats_json = ARGV[2]
		local now = ARGV[3]
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("device not found")
		end
		local entry = cjson.decode(data)
		local stats = cjson.decode(stats_json)
		entry.frames_captured = stats.FramesCaptured
		entry.frames_played = stats.FramesPlayed
		entry.frames_dropped = stats.FramesDropped
		entry.last_heartbeat = now
		local updated = cjson.encode(entry)
		redis.call('SET', key, updated, 'PX', ttl)
		return "OK"
	`)

	_, err = script.Run(ctx, r.client, []string{r.prefix + deviceID},
		r.ttl.Milliseconds(), string(statsJSON), time.Now().Format(time.RFC3339Nano)).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (r *RedisRegistry) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
