// Package cache keeps assembled application forms in Redis for the public
// read path. Entries are keyed by event and dropped after every committed
// write; a fill prepared before that drop is refused.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
	"baobab/pkg/platform/sentinel"
)

const (
	keyPrefix  = "baobab:application-form:"
	defaultTTL = 5 * time.Minute
	// Generation counters outlive any read that could race an invalidation.
	generationTTL = 24 * time.Hour
	// entryVersion is bumped when the encoded shape changes so stale entries
	// from an older build read as misses.
	entryVersion = 1
	// NoFill is the generation reported when a fill must not happen. No
	// stored generation ever equals it.
	NoFill int64 = -1
)

// fillScript stores an entry only while the event's generation is still the
// one observed on the miss, and never replaces a newer form version.
//
// KEYS[1] entry hash, KEYS[2] generation counter
// ARGV[1] generation, ARGV[2] form version, ARGV[3] body, ARGV[4] ttl ms
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'body', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisCache implements service.FormCache. Each event has an entry hash and a
// generation counter that Invalidate bumps; both share a hash tag so the
// fill script runs on one cluster slot.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

type entry struct {
	V    int                     `json:"v"`
	Form *models.ApplicationForm `json:"form"`
}

func entryKey(eventID id.EventID) string {
	return keyPrefix + "{event:" + eventID.String() + "}"
}

func generationKey(eventID id.EventID) string {
	return entryKey(eventID) + ":gen"
}

// Get returns the cached form. On a miss it returns sentinel.ErrNotFound with
// the generation a later Set must present.
func (c *RedisCache) Get(ctx context.Context, eventID id.EventID) (*models.ApplicationForm, int64, error) {
	var (
		body *redis.StringCmd
		gen  *redis.StringCmd
	)
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		body = p.HGet(ctx, entryKey(eventID), "body")
		gen = p.Get(ctx, generationKey(eventID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, NoFill, fmt.Errorf("redis get: %w", err)
	}

	generation, err := gen.Int64()
	switch {
	case errors.Is(err, redis.Nil):
		generation = 0
	case err != nil:
		return nil, NoFill, fmt.Errorf("redis generation: %w", err)
	}

	raw, err := body.Bytes()
	if err != nil {
		return nil, generation, sentinel.ErrNotFound
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || e.V != entryVersion || e.Form == nil {
		return nil, generation, sentinel.ErrNotFound
	}
	normalize(e.Form)
	return e.Form, generation, nil
}

// Set fills the entry for form.EventID. The write is dropped when the
// event was invalidated after generation was read, or when a newer version
// is already cached.
func (c *RedisCache) Set(ctx context.Context, form *models.ApplicationForm, generation int64) error {
	if generation == NoFill {
		return nil
	}
	raw, err := json.Marshal(entry{V: entryVersion, Form: form})
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	err = fillScript.Run(ctx, c.client,
		[]string{entryKey(form.EventID), generationKey(form.EventID)},
		strconv.FormatInt(generation, 10),
		strconv.FormatInt(form.Version, 10),
		raw,
		c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis fill: %w", err)
	}
	return nil
}

// Invalidate drops the entry and bumps the generation in one transaction, so
// fills prepared before it are refused.
func (c *RedisCache) Invalidate(ctx context.Context, eventID id.EventID) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(eventID))
		p.Expire(ctx, generationKey(eventID), generationTTL)
		p.Del(ctx, entryKey(eventID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

var jsonNull = []byte("null")

// normalize restores nil for JSON values that were absent before encoding.
func normalize(form *models.ApplicationForm) {
	fix := func(r *json.RawMessage) {
		if bytes.Equal(*r, jsonNull) {
			*r = nil
		}
	}
	for _, s := range form.Sections {
		fix(&s.ShowForValues)
		for _, q := range s.Questions {
			fix(&q.Options)
			fix(&q.ShowForValues)
		}
	}
}
