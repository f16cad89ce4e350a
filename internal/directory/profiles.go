package directory

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "profile:"

// CachedProfiles is a Redis read-through cache in front of a Profiles
// source. Cache failures fall back to the source; store failures after a
// fetch are logged and the profile is still returned.
type CachedProfiles struct {
	rdb    *redis.Client
	source Profiles
	ttl    time.Duration
}

func NewCachedProfiles(rdb *redis.Client, source Profiles, ttl time.Duration) *CachedProfiles {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProfiles{rdb: rdb, source: source, ttl: ttl}
}

// Get returns the profile for userID, consulting the cache first.
func (c *CachedProfiles) Get(ctx context.Context, userID string) (*Profile, error) {
	key := profileKeyPrefix + userID

	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return &Profile{
			UserID:    userID,
			Username:  fields["username"],
			AvatarURL: fields["avatar_url"],
		}, nil
	}
	if err != nil && err != redis.Nil {
		log.Printf("[directory] profile cache read failed for %s: %v", userID, err)
	}

	p, err := c.source.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "username", p.Username, "avatar_url", p.AvatarURL)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[directory] profile cache write failed for %s: %v", userID, err)
	}
	return p, nil
}
