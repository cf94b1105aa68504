package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/globalchat/backend/internal/logger"
)

const (
	keySenderProfile = "chat:sender:"
	senderProfileTTL = 10 * time.Minute

	// staleMarker replaces an invalidated profile for staleMarkerTTL so a
	// resolver holding a pre-edit snapshot cannot write it back.
	staleMarker    = "stale"
	staleMarkerTTL = 30 * time.Second
)

// setUnlessStale writes ARGV[1] with a PX of ARGV[2] unless the key holds
// the stale marker. Returns 1 when written.
var setUnlessStale = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[3] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// SenderProfile is the public display snapshot of a message sender.
type SenderProfile struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	ProfilePicture *string   `json:"profilePicture"`
}

type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client, log: logger.Default().WithComponent("cache")}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return "", false
	}
	if err != nil {
		c.log.Warn(ctx, "cache get failed", map[string]interface{}{"key": key, "error": err.Error()})
		return "", false
	}
	c.log.Debug(ctx, "cache hit", map[string]interface{}{"key": key})
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache set failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	return nil
}

// GetSenderProfile returns the cached profile of a sender, if present.
func (c *Cache) GetSenderProfile(ctx context.Context, id uuid.UUID) (*SenderProfile, bool) {
	raw, ok := c.Get(ctx, keySenderProfile+id.String())
	if !ok || raw == staleMarker {
		return nil, false
	}
	var p SenderProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	return &p, true
}

// SetSenderProfile caches a sender profile. It is a no-op while the profile
// is marked stale by a recent edit.
func (c *Cache) SetSenderProfile(ctx context.Context, p *SenderProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := keySenderProfile + p.ID.String()
	err = setUnlessStale.Run(ctx, c.client, []string{key}, string(data), senderProfileTTL.Milliseconds(), staleMarker).Err()
	if err != nil {
		c.log.Warn(ctx, "cache set failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return err
}

// InvalidateSenderProfile replaces a cached profile with the stale marker
// after the user edits it.
func (c *Cache) InvalidateSenderProfile(ctx context.Context, id uuid.UUID) error {
	return c.Set(ctx, keySenderProfile+id.String(), staleMarker, staleMarkerTTL)
}
