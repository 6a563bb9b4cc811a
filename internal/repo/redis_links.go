package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tracklink/internal/metrics"
)

const DefaultRedisPrefix = "tracklink:"

// createScript inserts a link and trims the table in one step.
// KEYS: index, link. ARGV: prefix, id, video, now, cutoff, ttl ms, capacity.
// Returns {0} when the id is taken, else {1, expired, evicted}.
var createScript = redis.NewScript(`
local index, key = KEYS[1], KEYS[2]
local prefix, id, video = ARGV[1], ARGV[2], ARGV[3]
local now, cutoff, ttl = ARGV[4], ARGV[5], ARGV[6]
local capacity = tonumber(ARGV[7])

if redis.call('EXISTS', key) == 1 then
	return {0}
end

local expired = redis.call('ZRANGEBYSCORE', index, '-inf', '(' .. cutoff)
for _, old in ipairs(expired) do
	redis.call('DEL', prefix .. 'link:' .. old)
	redis.call('ZREM', index, old)
end

local evicted = 0
local excess = redis.call('ZCARD', index) - capacity + 1
if excess > 0 then
	local popped = redis.call('ZPOPMIN', index, excess)
	for i = 1, #popped, 2 do
		redis.call('DEL', prefix .. 'link:' .. popped[i])
		evicted = evicted + 1
	end
end

redis.call('HSET', key, 'video', video, 'created', now, 'last', now, 'visits', 0)
redis.call('PEXPIRE', key, ttl)
redis.call('ZADD', index, now, id)
return {1, #expired, evicted}
`)

// readScript loads a link and, when ARGV[4] is "1", records a visit.
// Expired or malformed entries are removed in the same step.
// KEYS: link, index. ARGV: id, now, cutoff, touch, ttl ms.
// Returns {0} missing, {1} expired, {2} malformed, else
// {3, video, created, last, visits}.
var readScript = redis.NewScript(`
local key, index = KEYS[1], KEYS[2]
local id, now, cutoff, touch, ttl = ARGV[1], ARGV[2], tonumber(ARGV[3]), ARGV[4], ARGV[5]

if redis.call('EXISTS', key) == 0 then
	redis.call('ZREM', index, id)
	return {0}
end

local f = redis.call('HMGET', key, 'video', 'created', 'last', 'visits')
local video, created, last, visits = f[1], f[2], f[3], f[4]
if not video or video == '' or not tonumber(created) or not tonumber(last) or not tonumber(visits) then
	redis.call('DEL', key)
	redis.call('ZREM', index, id)
	return {2}
end

if tonumber(last) < cutoff then
	redis.call('DEL', key)
	redis.call('ZREM', index, id)
	return {1}
end

if touch == '1' then
	visits = redis.call('HINCRBY', key, 'visits', 1)
	last = now
	redis.call('HSET', key, 'last', now)
	redis.call('PEXPIRE', key, ttl)
	redis.call('ZADD', index, now, id)
end
return {3, video, created, last, tostring(visits)}
`)

// RedisLinkTable shares the mapping table between processes. Every link is a
// hash under <prefix>link:<id>; the sorted set <prefix>links scores ids by
// last access in unix milliseconds and drives the sweep and eviction.
//
// Create and Resolve run as server-side scripts that derive link keys from
// the prefix, so on a cluster the prefix must carry a hash tag.
type RedisLinkTable struct {
	rdb    redis.UniversalClient
	log    *zerolog.Logger
	opts   LinkOptions
	prefix string
}

func NewRedisLinkTable(rdb redis.UniversalClient, log *zerolog.Logger, prefix string, opts LinkOptions) *RedisLinkTable {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLinkTable{
		rdb:    rdb,
		log:    log,
		opts:   opts.withDefaults(),
		prefix: prefix,
	}
}

func (t *RedisLinkTable) linkKey(shortID string) string {
	return t.prefix + "link:" + shortID
}

func (t *RedisLinkTable) indexKey() string {
	return t.prefix + "links"
}

func (t *RedisLinkTable) Create(ctx context.Context, videoID string) (*LinkEntity, error) {
	now := t.opts.Now()
	ms := now.UnixMilli()
	cutoff := now.Add(-t.opts.TTL).UnixMilli()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		shortID, err := t.opts.NewID()
		if err != nil {
			return nil, err
		}

		reply, err := createScript.Run(ctx, t.rdb,
			[]string{t.indexKey(), t.linkKey(shortID)},
			t.prefix, shortID, videoID, ms, cutoff, t.opts.TTL.Milliseconds(), t.opts.Capacity,
		).Int64Slice()
		if err != nil {
			return nil, fmt.Errorf("failed to store link %s: %w", shortID, err)
		}
		if len(reply) == 0 || reply[0] == 0 {
			continue
		}

		if len(reply) == 3 {
			if reply[1] > 0 {
				metrics.LinkEvictions.WithLabelValues("expired").Add(float64(reply[1]))
			}
			if reply[2] > 0 {
				metrics.LinkEvictions.WithLabelValues("capacity").Add(float64(reply[2]))
			}
		}

		return &LinkEntity{
			ShortID:    shortID,
			VideoID:    videoID,
			CreatedAt:  time.UnixMilli(ms),
			LastAccess: time.UnixMilli(ms),
		}, nil
	}
	return nil, ErrIDSpaceExhausted
}

func (t *RedisLinkTable) Resolve(ctx context.Context, shortID string) (*LinkEntity, error) {
	return t.read(ctx, shortID, true)
}

func (t *RedisLinkTable) Get(ctx context.Context, shortID string) (*LinkEntity, error) {
	return t.read(ctx, shortID, false)
}

const (
	readMissing = iota
	readExpired
	readMalformed
	readFound
)

func (t *RedisLinkTable) read(ctx context.Context, shortID string, touch bool) (*LinkEntity, error) {
	now := t.opts.Now()
	flag := "0"
	if touch {
		flag = "1"
	}

	reply, err := readScript.Run(ctx, t.rdb,
		[]string{t.linkKey(shortID), t.indexKey()},
		shortID, now.UnixMilli(), now.Add(-t.opts.TTL).UnixMilli(), flag, t.opts.TTL.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to load link %s: %w", shortID, err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("failed to load link %s: %w", shortID, errMalformedLink)
	}

	status, _ := reply[0].(int64)
	switch status {
	case readExpired:
		metrics.LinkEvictions.WithLabelValues("expired").Inc()
		return nil, ErrLinkNotFound
	case readMalformed:
		t.log.Warn().Msgf("dropped malformed link %s", shortID)
		return nil, ErrLinkNotFound
	case readFound:
	default:
		return nil, ErrLinkNotFound
	}

	fields := make([]string, 0, 4)
	for _, v := range reply[1:] {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("failed to load link %s: %w", shortID, errMalformedLink)
		}
		fields = append(fields, s)
	}
	return decodeLink(shortID, fields)
}

var errMalformedLink = errors.New("malformed link hash")

// decodeLink expects video, created, last and visits in that order.
func decodeLink(shortID string, fields []string) (*LinkEntity, error) {
	if len(fields) != 4 || fields[0] == "" {
		return nil, errMalformedLink
	}
	created, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: created: %v", errMalformedLink, err)
	}
	last, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: last: %v", errMalformedLink, err)
	}
	visits, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: visits: %v", errMalformedLink, err)
	}

	return &LinkEntity{
		ShortID:    shortID,
		VideoID:    fields[0],
		CreatedAt:  time.UnixMilli(created),
		LastAccess: time.UnixMilli(last),
		Visits:     visits,
	}, nil
}
