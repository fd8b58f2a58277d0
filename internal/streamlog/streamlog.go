// Package streamlog is the log primitive every other pmbus component composes on.
//
// A store holds named append-only streams of (message id, flat field map)
// entries and consumer groups over them. Three stores share the Client
// contract: MemoryStore (in-process), RedisStore (Redis Streams) and
// SQLiteStore (durable single node). Semantics follow Redis Streams:
//
//   - Append assigns "ms-seq" ids, monotonically increasing per stream, and
//     approximately trims the stream to its maximum length.
//   - Read returns entries strictly after each cursor. "$" resolves to the
//     last id at call time.
//   - CreateGroup is idempotent and reports whether it created the group.
//   - ReadGroup with the ">" cursor hands each new entry to exactly one
//     consumer of the group and records it as pending until acknowledged.
//     Any other cursor returns the consumer's own pending history.
//   - Ack removes ids from the pending set and counts only those that were
//     pending.
package streamlog

import (
	"context"
	"time"
)

const (
	// StartFromBeginning is the cursor and group start id that covers the whole history.
	StartFromBeginning = "0"
	// StartFromNew is the cursor and group start id meaning "after the current last entry".
	StartFromNew = "$"
	// NewMessages requests entries never delivered to any consumer of the group.
	NewMessages = ">"

	// DefaultMaxLen bounds every stream unless a store is configured otherwise.
	DefaultMaxLen int64 = 10000

	// BlockForever makes reads wait until data arrives or the context ends.
	// Only suitable for batch tooling.
	BlockForever time.Duration = -1
)

// Message is one stream entry.
type Message struct {
	ID     string
	Fields map[string]string
}

// Stream groups the messages a read returned for one stream.
type Stream struct {
	Name     string
	Messages []Message
}

// Cursor pairs a stream with the id to read after.
type Cursor struct {
	Stream string
	ID     string
}

// ReadOptions bound a read. Count <= 0 means no per-stream limit. Block 0
// returns immediately, a positive Block waits at most that long for data and
// BlockForever waits until the context ends.
type ReadOptions struct {
	Count int64
	Block time.Duration
}

// PendingQuery filters a pending listing. Zero values mean no filter.
type PendingQuery struct {
	Consumer string
	MinIdle  time.Duration
	Count    int64
}

// PendingEntry describes a delivered but unacknowledged message.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// Client is the log contract. Implementations are safe for concurrent use by
// publishers and subscribers sharing one instance.
type Client interface {
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	Read(ctx context.Context, cursors []Cursor, opts ReadOptions) ([]Stream, error)
	CreateGroup(ctx context.Context, stream, group, startID string) (bool, error)
	ReadGroup(ctx context.Context, group, consumer string, cursors []Cursor, opts ReadOptions) ([]Stream, error)
	Ack(ctx context.Context, stream, group string, ids ...string) (int64, error)
	Pending(ctx context.Context, stream, group string, q PendingQuery) ([]PendingEntry, error)
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error)
	Close() error
}

// LiveTail returns ">" cursors for the given streams.
func LiveTail(streams ...string) []Cursor {
	return From(NewMessages, streams...)
}

// From returns cursors starting after id for every stream.
func From(id string, streams ...string) []Cursor {
	out := make([]Cursor, len(streams))
	for i, s := range streams {
		out[i] = Cursor{Stream: s, ID: id}
	}
	return out
}

// Total counts the messages across a read result.
func Total(streams []Stream) int {
	n := 0
	for _, s := range streams {
		n += len(s.Messages)
	}
	return n
}

func copyFields(f map[string]string) map[string]string {
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type options struct {
	maxLen int64
	now    func() time.Time
	poll   time.Duration
}

// Option tunes a store. Stores ignore options that do not apply to them.
type Option func(*options)

// WithMaxLen overrides the approximate per-stream length bound. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(o *options) { o.maxLen = n }
}

// WithClock overrides the time source used for ids and idle times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPollInterval sets how often blocked SQLite readers re-check for entries
// written by other processes.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.poll = d }
}

func buildOptions(opts []Option) options {
	o := options{maxLen: DefaultMaxLen, now: time.Now, poll: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
