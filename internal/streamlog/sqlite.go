package streamlog

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// SQLiteStore implements Client on a single SQLite database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
//
// Several processes may share one file. Transactions take the write lock when
// they begin, so a writer waits up to the busy timeout instead of failing on
// an upgrade; a timeout surfaces as a retryable store error. Blocking reads in
// one process only notice other processes' appends by polling.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	maxLen  int64
	now     func() time.Time
	poll    time.Duration
	closed  bool
	changed notifier
}

// NewSQLiteStore opens (and if needed initializes) the database at dbPath.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	o := buildOptions(opts)
	store := &SQLiteStore{db: db, maxLen: o.maxLen, now: o.now, poll: o.poll}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// sqliteDSN applies the per-connection settings every transaction relies on.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_pragma=busy_timeout(5000)"
}

// sqliteErr is errStore with lock contention marked retryable.
func sqliteErr(op string, cause error) error {
	var se *sqlite.Error
	if stderrors.As(cause, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.WrapError(cause, errors.CategoryStore, op+" failed: database busy").
				WithContext("op", op).
				Retryable().
				Build()
		}
	}
	return errStore(op, cause)
}

func (s *SQLiteStore) initialize() error {
	schema := `
	PRAGMA journal_mode = WAL;
	CREATE TABLE IF NOT EXISTS streams (
		name TEXT PRIMARY KEY,
		last_ms INTEGER NOT NULL,
		last_seq INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS entries (
		stream TEXT NOT NULL,
		ms INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		fields TEXT NOT NULL,
		PRIMARY KEY (stream, ms, seq)
	);
	CREATE TABLE IF NOT EXISTS consumer_groups (
		stream TEXT NOT NULL,
		name TEXT NOT NULL,
		last_ms INTEGER NOT NULL,
		last_seq INTEGER NOT NULL,
		PRIMARY KEY (stream, name)
	);
	CREATE TABLE IF NOT EXISTS pending_entries (
		stream TEXT NOT NULL,
		grp TEXT NOT NULL,
		ms INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		consumer TEXT NOT NULL,
		delivered_at INTEGER NOT NULL,
		deliveries INTEGER NOT NULL,
		PRIMARY KEY (stream, grp, ms, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_pending_consumer ON pending_entries(stream, grp, consumer);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if s.closed {
		return errClosed("sqlite")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return sqliteErr(op, err)
	}
	return nil
}

// Append adds an entry to stream, creating it if needed.
func (s *SQLiteStore) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", sqliteErr("append", fmt.Errorf("marshal fields: %w", err))
	}

	s.mu.Lock()
	var id ID
	err = s.withTx(ctx, "append", func(tx *sql.Tx) error {
		last, _, err := streamLast(ctx, tx, stream)
		if err != nil {
			return sqliteErr("append", err)
		}
		id = last.next(s.now())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO streams (name, last_ms, last_seq) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET last_ms = excluded.last_ms, last_seq = excluded.last_seq`,
			stream, id.Ms, id.Seq,
		); err != nil {
			return sqliteErr("append", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entries (stream, ms, seq, fields) VALUES (?, ?, ?, ?)",
			stream, id.Ms, id.Seq, string(payload),
		); err != nil {
			return sqliteErr("append", err)
		}
		if err := s.trim(ctx, tx, stream); err != nil {
			return sqliteErr("append", err)
		}
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.changed.broadcast()
	return id.String(), nil
}

func (s *SQLiteStore) trim(ctx context.Context, tx *sql.Tx, stream string) error {
	if s.maxLen <= 0 {
		return nil
	}
	var n int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE stream = ?", stream).Scan(&n); err != nil {
		return err
	}
	if n <= s.maxLen+trimSlack(s.maxLen) {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE stream = ? AND (ms, seq) < (
			SELECT ms, seq FROM entries WHERE stream = ? ORDER BY ms DESC, seq DESC LIMIT 1 OFFSET ?
		)`,
		stream, stream, s.maxLen-1,
	)
	return err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func streamLast(ctx context.Context, q querier, stream string) (ID, bool, error) {
	var id ID
	err := q.QueryRowContext(ctx, "SELECT last_ms, last_seq FROM streams WHERE name = ?", stream).Scan(&id.Ms, &id.Seq)
	if err == sql.ErrNoRows {
		return ID{}, false, nil
	}
	if err != nil {
		return ID{}, false, err
	}
	return id, true, nil
}

func groupLast(ctx context.Context, q querier, stream, group string) (ID, bool, error) {
	var id ID
	err := q.QueryRowContext(ctx,
		"SELECT last_ms, last_seq FROM consumer_groups WHERE stream = ? AND name = ?", stream, group,
	).Scan(&id.Ms, &id.Seq)
	if err == sql.ErrNoRows {
		return ID{}, false, nil
	}
	if err != nil {
		return ID{}, false, err
	}
	return id, true, nil
}

func sqlLimit(count int64) int64 {
	if count <= 0 {
		return -1
	}
	return count
}

func scanEntries(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var id ID
		var payload string
		if err := rows.Scan(&id.Ms, &id.Seq, &payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		fields := make(map[string]string)
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		out = append(out, Message{ID: id.String(), Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func entriesAfter(ctx context.Context, q querier, stream string, from ID, count int64) ([]Message, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT ms, seq, fields FROM entries WHERE stream = ? AND (ms, seq) > (?, ?) ORDER BY ms, seq LIMIT ?",
		stream, from.Ms, from.Seq, sqlLimit(count),
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Read returns entries after each cursor, waiting per opts.Block.
func (s *SQLiteStore) Read(ctx context.Context, cursors []Cursor, opts ReadOptions) ([]Stream, error) {
	if len(cursors) == 0 {
		return nil, errNoStreams()
	}

	from := make([]ID, len(cursors))
	s.mu.RLock()
	for i, c := range cursors {
		if c.ID == StartFromNew {
			last, _, err := streamLast(ctx, s.db, c.Stream)
			if err != nil {
				s.mu.RUnlock()
				return nil, sqliteErr("read", err)
			}
			from[i] = last
			continue
		}
		id, err := ParseID(c.ID)
		if err != nil {
			s.mu.RUnlock()
			return nil, errInvalidID(c.ID, err)
		}
		from[i] = id
	}
	s.mu.RUnlock()

	return blockingRead(ctx, opts.Block, &s.changed, s.poll, func() ([]Stream, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return nil, errClosed("sqlite")
		}
		var out []Stream
		for i, c := range cursors {
			msgs, err := entriesAfter(ctx, s.db, c.Stream, from[i], opts.Count)
			if err != nil {
				return nil, sqliteErr("read", err)
			}
			if len(msgs) > 0 {
				out = append(out, Stream{Name: c.Stream, Messages: msgs})
			}
		}
		return out, nil
	})
}

// CreateGroup registers group on stream, creating the stream if needed.
func (s *SQLiteStore) CreateGroup(ctx context.Context, stream, group, startID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	err := s.withTx(ctx, "create_group", func(tx *sql.Tx) error {
		_, exists, err := groupLast(ctx, tx, stream, group)
		if err != nil {
			return sqliteErr("create_group", err)
		}
		if exists {
			return nil
		}

		last, _, err := streamLast(ctx, tx, stream)
		if err != nil {
			return sqliteErr("create_group", err)
		}
		start := last
		if startID != StartFromNew {
			if start, err = ParseID(startID); err != nil {
				return errInvalidID(startID, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO streams (name, last_ms, last_seq) VALUES (?, 0, 0)", stream,
		); err != nil {
			return sqliteErr("create_group", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO consumer_groups (stream, name, last_ms, last_seq) VALUES (?, ?, ?, ?)",
			stream, group, start.Ms, start.Seq,
		); err != nil {
			return sqliteErr("create_group", err)
		}
		created = true
		return nil
	})
	return created, err
}

// ReadGroup delivers new entries (cursor ">") or replays the consumer's
// pending history (any other cursor, never blocks).
func (s *SQLiteStore) ReadGroup(ctx context.Context, group, consumer string, cursors []Cursor, opts ReadOptions) ([]Stream, error) {
	if len(cursors) == 0 {
		return nil, errNoStreams()
	}

	history := make([]bool, len(cursors))
	from := make([]ID, len(cursors))
	block := opts.Block
	for i, c := range cursors {
		if c.ID == NewMessages {
			continue
		}
		id, err := ParseID(c.ID)
		if err != nil {
			return nil, errInvalidID(c.ID, err)
		}
		history[i] = true
		from[i] = id
		block = 0
	}

	return blockingRead(ctx, block, &s.changed, s.poll, func() ([]Stream, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var out []Stream
		err := s.withTx(ctx, "read_group", func(tx *sql.Tx) error {
			out = nil
			now := s.now().UnixNano()
			for i, c := range cursors {
				last, ok, err := groupLast(ctx, tx, c.Stream, group)
				if err != nil {
					return sqliteErr("read_group", err)
				}
				if !ok {
					return errNoGroup(c.Stream, group)
				}

				var msgs []Message
				if history[i] {
					msgs, err = s.history(ctx, tx, c.Stream, group, consumer, from[i], opts.Count)
				} else {
					msgs, err = s.deliver(ctx, tx, c.Stream, group, consumer, last, opts.Count, now)
				}
				if err != nil {
					return sqliteErr("read_group", err)
				}
				if len(msgs) > 0 {
					out = append(out, Stream{Name: c.Stream, Messages: msgs})
				}
			}
			return nil
		})
		return out, err
	})
}

func (s *SQLiteStore) deliver(ctx context.Context, tx *sql.Tx, stream, group, consumer string, last ID, count, now int64) ([]Message, error) {
	msgs, err := entriesAfter(ctx, tx, stream, last, count)
	if err != nil || len(msgs) == 0 {
		return msgs, err
	}
	for _, m := range msgs {
		id, _ := ParseID(m.ID)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pending_entries (stream, grp, ms, seq, consumer, delivered_at, deliveries)
			 VALUES (?, ?, ?, ?, ?, ?, 1)`,
			stream, group, id.Ms, id.Seq, consumer, now,
		); err != nil {
			return nil, err
		}
		last = id
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE consumer_groups SET last_ms = ?, last_seq = ? WHERE stream = ? AND name = ?",
		last.Ms, last.Seq, stream, group,
	)
	return msgs, err
}

func (s *SQLiteStore) history(ctx context.Context, tx *sql.Tx, stream, group, consumer string, from ID, count int64) ([]Message, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT p.ms, p.seq, e.fields FROM pending_entries p
		 JOIN entries e ON e.stream = p.stream AND e.ms = p.ms AND e.seq = p.seq
		 WHERE p.stream = ? AND p.grp = ? AND p.consumer = ? AND (p.ms, p.seq) > (?, ?)
		 ORDER BY p.ms, p.seq LIMIT ?`,
		stream, group, consumer, from.Ms, from.Seq, sqlLimit(count),
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Ack removes ids from the group's pending set.
func (s *SQLiteStore) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	parsed := make([]ID, len(ids))
	for i, raw := range ids {
		id, err := ParseID(raw)
		if err != nil {
			return 0, errInvalidID(raw, err)
		}
		parsed[i] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var acked int64
	err := s.withTx(ctx, "ack", func(tx *sql.Tx) error {
		for _, id := range parsed {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM pending_entries WHERE stream = ? AND grp = ? AND ms = ? AND seq = ?",
				stream, group, id.Ms, id.Seq,
			)
			if err != nil {
				return sqliteErr("ack", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return sqliteErr("ack", err)
			}
			acked += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return acked, nil
}

// Pending lists unacknowledged entries in id order.
func (s *SQLiteStore) Pending(ctx context.Context, stream, group string, q PendingQuery) ([]PendingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("sqlite")
	}

	if _, ok, err := groupLast(ctx, s.db, stream, group); err != nil {
		return nil, sqliteErr("pending", err)
	} else if !ok {
		return nil, errNoGroup(stream, group)
	}

	now := s.now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT ms, seq, consumer, delivered_at, deliveries FROM pending_entries
		 WHERE stream = ? AND grp = ? AND (? = '' OR consumer = ?) AND delivered_at <= ?
		 ORDER BY ms, seq LIMIT ?`,
		stream, group, q.Consumer, q.Consumer, now.Add(-q.MinIdle).UnixNano(), sqlLimit(q.Count),
	)
	if err != nil {
		return nil, sqliteErr("pending", err)
	}
	defer rows.Close()

	var out []PendingEntry
	for rows.Next() {
		var id ID
		var e PendingEntry
		var deliveredAt int64
		if err := rows.Scan(&id.Ms, &id.Seq, &e.Consumer, &deliveredAt, &e.Deliveries); err != nil {
			return nil, sqliteErr("pending", err)
		}
		e.ID = id.String()
		e.Idle = now.Sub(time.Unix(0, deliveredAt))
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("pending", err)
	}
	return out, nil
}

// Claim moves pending ids idle for at least minIdle to consumer. Ids whose
// entries were trimmed are dropped from the pending set.
func (s *SQLiteStore) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	parsed := make([]ID, len(ids))
	for i, raw := range ids {
		id, err := ParseID(raw)
		if err != nil {
			return nil, errInvalidID(raw, err)
		}
		parsed[i] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	err := s.withTx(ctx, "claim", func(tx *sql.Tx) error {
		if _, ok, err := groupLast(ctx, tx, stream, group); err != nil {
			return sqliteErr("claim", err)
		} else if !ok {
			return errNoGroup(stream, group)
		}

		now := s.now()
		for _, id := range parsed {
			var deliveredAt int64
			err := tx.QueryRowContext(ctx,
				"SELECT delivered_at FROM pending_entries WHERE stream = ? AND grp = ? AND ms = ? AND seq = ?",
				stream, group, id.Ms, id.Seq,
			).Scan(&deliveredAt)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return sqliteErr("claim", err)
			}
			if now.Sub(time.Unix(0, deliveredAt)) < minIdle {
				continue
			}

			var payload string
			err = tx.QueryRowContext(ctx,
				"SELECT fields FROM entries WHERE stream = ? AND ms = ? AND seq = ?",
				stream, id.Ms, id.Seq,
			).Scan(&payload)
			if err == sql.ErrNoRows {
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM pending_entries WHERE stream = ? AND grp = ? AND ms = ? AND seq = ?",
					stream, group, id.Ms, id.Seq,
				); err != nil {
					return sqliteErr("claim", err)
				}
				continue
			}
			if err != nil {
				return sqliteErr("claim", err)
			}

			fields := make(map[string]string)
			if err := json.Unmarshal([]byte(payload), &fields); err != nil {
				return sqliteErr("claim", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE pending_entries SET consumer = ?, delivered_at = ?, deliveries = deliveries + 1
				 WHERE stream = ? AND grp = ? AND ms = ? AND seq = ?`,
				consumer, now.UnixNano(), stream, group, id.Ms, id.Seq,
			); err != nil {
				return sqliteErr("claim", err)
			}
			out = append(out, Message{ID: id.String(), Fields: fields})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database connection. Blocked readers return a connection error.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	s.closed = true
	err := s.db.Close()
	s.mu.Unlock()
	s.changed.broadcast()
	return err
}
