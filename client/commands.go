package client

import (
	"context"
	"strconv"
	"time"
)

// Typed helpers for common commands. Each queues exactly one command; the
// reply is read from Replies at the same position after Exec.

// Ping queues PING.
func (b *QueuedBatch) Ping(ctx context.Context) error {
	return b.Command(ctx, "PING")
}

// Echo queues ECHO message.
func (b *QueuedBatch) Echo(ctx context.Context, message string) error {
	return b.Command(ctx, "ECHO", message)
}

// Get queues GET key.
func (b *QueuedBatch) Get(ctx context.Context, key string) error {
	return b.Command(ctx, "GET", key)
}

// Set queues SET key value.
func (b *QueuedBatch) Set(ctx context.Context, key string, value interface{}) error {
	return b.Command(ctx, "SET", key, value)
}

// SetCondition restricts a SET to missing (NX) or existing (XX) keys.
type SetCondition string

const (
	SetAlways     SetCondition = ""
	SetIfNotExist SetCondition = "NX"
	SetIfExist    SetCondition = "XX"
)

// SetOptions are the optional arguments of SET.
type SetOptions struct {
	// Expiration is sent as EX seconds, or PX milliseconds when not a whole second.
	Expiration time.Duration
	Condition  SetCondition
}

// SetWithOptions queues SET with expiration and condition. A conditional SET
// that does not apply yields a nil reply in every batch mode.
func (b *QueuedBatch) SetWithOptions(ctx context.Context, key string, value interface{}, opts SetOptions) error {
	args := []string{"SET", key, formatArg(value)}

	if opts.Expiration > 0 {
		if opts.Expiration%time.Second == 0 {
			args = append(args, "EX", strconv.FormatInt(int64(opts.Expiration/time.Second), 10))
		} else {
			args = append(args, "PX", strconv.FormatInt(opts.Expiration.Milliseconds(), 10))
		}
	}

	rewrite := RewriteNone
	if opts.Condition != SetAlways {
		args = append(args, string(opts.Condition))
		rewrite = RewriteSet
	}

	return b.Append(ctx, Command{Args: args, Rewrite: rewrite})
}

// Del queues DEL keys...
func (b *QueuedBatch) Del(ctx context.Context, keys ...string) error {
	return b.Append(ctx, Command{Args: append([]string{"DEL"}, keys...)})
}

// Incr queues INCR key.
func (b *QueuedBatch) Incr(ctx context.Context, key string) error {
	return b.Command(ctx, "INCR", key)
}

// IncrBy queues INCRBY key delta.
func (b *QueuedBatch) IncrBy(ctx context.Context, key string, delta int64) error {
	return b.Command(ctx, "INCRBY", key, delta)
}

// Expire queues EXPIRE key seconds.
func (b *QueuedBatch) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.Command(ctx, "EXPIRE", key, ttl)
}

// HSet queues HSET key field value.
func (b *QueuedBatch) HSet(ctx context.Context, key, field string, value interface{}) error {
	return b.Command(ctx, "HSET", key, field, value)
}

// HGet queues HGET key field.
func (b *QueuedBatch) HGet(ctx context.Context, key, field string) error {
	return b.Command(ctx, "HGET", key, field)
}

// HMGet queues HMGET key fields...
func (b *QueuedBatch) HMGet(ctx context.Context, key string, fields ...string) error {
	return b.Append(ctx, Command{Args: append([]string{"HMGET", key}, fields...)})
}

// LPush queues LPUSH key values...
func (b *QueuedBatch) LPush(ctx context.Context, key string, values ...interface{}) error {
	return b.Append(ctx, Command{Args: append([]string{"LPUSH", key}, formatArgs(values)...)})
}

// LRange queues LRANGE key start stop.
func (b *QueuedBatch) LRange(ctx context.Context, key string, start, stop int64) error {
	return b.Command(ctx, "LRANGE", key, start, stop)
}

// GeoLocation is one member of a geo set.
type GeoLocation struct {
	Name      string
	Longitude float64
	Latitude  float64
}

// GeoAdd queues GEOADD key lon lat member...
func (b *QueuedBatch) GeoAdd(ctx context.Context, key string, locations ...GeoLocation) error {
	args := []string{"GEOADD", key}
	for _, loc := range locations {
		args = append(args, formatArg(loc.Longitude), formatArg(loc.Latitude), loc.Name)
	}
	return b.Append(ctx, Command{Args: args})
}

// GeoRadiusQuery are the search bounds and storage target of a GEORADIUS STORE.
type GeoRadiusQuery struct {
	Radius float64
	// Unit is m, km, mi or ft. Empty means km.
	Unit  string
	Count int
	// Store receives the matched members. StoreDist receives their distances
	// instead; exactly one must be set.
	Store     string
	StoreDist string
}

func (q GeoRadiusQuery) args() []string {
	unit := q.Unit
	if unit == "" {
		unit = "km"
	}
	args := []string{formatArg(q.Radius), unit}
	if q.Count > 0 {
		args = append(args, "COUNT", strconv.Itoa(q.Count))
	}
	if q.StoreDist != "" {
		return append(args, "STOREDIST", q.StoreDist)
	}
	return append(args, "STORE", q.Store)
}

// GeoRadiusStore queues GEORADIUS ... STORE. The reply is always the integer
// number of stored members.
func (b *QueuedBatch) GeoRadiusStore(ctx context.Context, key string, longitude, latitude float64, query GeoRadiusQuery) error {
	if query.Store == "" && query.StoreDist == "" {
		return errMissingStoreKey()
	}
	args := append([]string{"GEORADIUS", key, formatArg(longitude), formatArg(latitude)}, query.args()...)
	return b.Append(ctx, Command{Args: args, Rewrite: RewriteGeoRadiusStore})
}

// GeoRadiusByMemberStore queues GEORADIUSBYMEMBER ... STORE. The reply is
// always the integer number of stored members.
func (b *QueuedBatch) GeoRadiusByMemberStore(ctx context.Context, key, member string, query GeoRadiusQuery) error {
	if query.Store == "" && query.StoreDist == "" {
		return errMissingStoreKey()
	}
	args := append([]string{"GEORADIUSBYMEMBER", key, member}, query.args()...)
	return b.Append(ctx, Command{Args: args, Rewrite: RewriteGeoRadiusStore})
}

func errMissingStoreKey() *UsageError {
	return &UsageError{
		Code:    "E_INVALID_ARGUMENT",
		Type:    "USAGE_ERROR",
		Message: "GEORADIUS STORE requires a destination key",
	}
}
