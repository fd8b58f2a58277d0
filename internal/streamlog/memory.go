package streamlog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps streams and groups in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]*memStream
	maxLen  int64
	now     func() time.Time
	closed  bool
	changed notifier
}

type memStream struct {
	entries []memEntry
	lastID  ID
	groups  map[string]*memGroup
}

type memEntry struct {
	id     ID
	fields map[string]string
}

type memGroup struct {
	lastDelivered ID
	pending       map[ID]*memPending
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		streams: make(map[string]*memStream),
		maxLen:  o.maxLen,
		now:     o.now,
	}
}

func (s *MemoryStore) stream(name string) *memStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memStream{groups: make(map[string]*memGroup)}
		s.streams[name] = st
	}
	return st
}

// Append adds an entry to stream, creating it if needed.
func (s *MemoryStore) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errClosed("memory")
	}
	st := s.stream(stream)
	id := st.lastID.next(s.now())
	st.lastID = id
	st.entries = append(st.entries, memEntry{id: id, fields: copyFields(fields)})
	st.trim(s.maxLen)
	s.mu.Unlock()

	s.changed.broadcast()
	return id.String(), nil
}

// trimSlack is how far a stream may exceed its bound before it is trimmed,
// mirroring Redis' node-granular "~" trimming.
func trimSlack(maxLen int64) int64 {
	slack := maxLen / 10
	if slack < 1 {
		slack = 1
	}
	if slack > 100 {
		slack = 100
	}
	return slack
}

func (st *memStream) trim(maxLen int64) {
	if maxLen <= 0 {
		return
	}
	n := int64(len(st.entries))
	if n <= maxLen+trimSlack(maxLen) {
		return
	}
	drop := n - maxLen
	kept := make([]memEntry, maxLen)
	copy(kept, st.entries[drop:])
	st.entries = kept
}

// after returns entries with id greater than from, at most count (count <= 0: all).
func (st *memStream) after(from ID, count int64) []memEntry {
	i := sort.Search(len(st.entries), func(i int) bool { return from.Less(st.entries[i].id) })
	end := len(st.entries)
	if count > 0 && int64(end-i) > count {
		end = i + int(count)
	}
	return st.entries[i:end]
}

func (st *memStream) lookup(id ID) (memEntry, bool) {
	i := sort.Search(len(st.entries), func(i int) bool { return !st.entries[i].id.Less(id) })
	if i < len(st.entries) && st.entries[i].id == id {
		return st.entries[i], true
	}
	return memEntry{}, false
}

func toMessages(entries []memEntry) []Message {
	out := make([]Message, len(entries))
	for i, e := range entries {
		out[i] = Message{ID: e.id.String(), Fields: copyFields(e.fields)}
	}
	return out
}

// Read returns entries after each cursor, waiting per opts.Block.
func (s *MemoryStore) Read(ctx context.Context, cursors []Cursor, opts ReadOptions) ([]Stream, error) {
	if len(cursors) == 0 {
		return nil, errNoStreams()
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errClosed("memory")
	}
	from := make([]ID, len(cursors))
	for i, c := range cursors {
		if c.ID == StartFromNew {
			if st, ok := s.streams[c.Stream]; ok {
				from[i] = st.lastID
			}
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

	return blockingRead(ctx, opts.Block, &s.changed, 0, func() ([]Stream, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return nil, errClosed("memory")
		}
		var out []Stream
		for i, c := range cursors {
			st, ok := s.streams[c.Stream]
			if !ok {
				continue
			}
			if entries := st.after(from[i], opts.Count); len(entries) > 0 {
				out = append(out, Stream{Name: c.Stream, Messages: toMessages(entries)})
			}
		}
		return out, nil
	})
}

// CreateGroup registers group on stream, creating the stream if needed.
func (s *MemoryStore) CreateGroup(ctx context.Context, stream, group, startID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed("memory")
	}

	st := s.stream(stream)
	if _, exists := st.groups[group]; exists {
		return false, nil
	}

	var start ID
	switch startID {
	case StartFromNew:
		start = st.lastID
	default:
		id, err := ParseID(startID)
		if err != nil {
			return false, errInvalidID(startID, err)
		}
		start = id
	}
	st.groups[group] = &memGroup{lastDelivered: start, pending: make(map[ID]*memPending)}
	return true, nil
}

// ReadGroup delivers new entries (cursor ">") or replays the consumer's
// pending history (any other cursor, never blocks).
func (s *MemoryStore) ReadGroup(ctx context.Context, group, consumer string, cursors []Cursor, opts ReadOptions) ([]Stream, error) {
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

	return blockingRead(ctx, block, &s.changed, 0, func() ([]Stream, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, errClosed("memory")
		}

		groups := make([]*memGroup, len(cursors))
		for i, c := range cursors {
			st, ok := s.streams[c.Stream]
			if !ok {
				return nil, errNoGroup(c.Stream, group)
			}
			g, ok := st.groups[group]
			if !ok {
				return nil, errNoGroup(c.Stream, group)
			}
			groups[i] = g
		}

		now := s.now()
		var out []Stream
		for i, c := range cursors {
			st, g := s.streams[c.Stream], groups[i]
			var msgs []Message
			if history[i] {
				msgs = g.history(st, consumer, from[i], opts.Count)
			} else {
				entries := st.after(g.lastDelivered, opts.Count)
				for _, e := range entries {
					g.pending[e.id] = &memPending{consumer: consumer, deliveredAt: now, deliveries: 1}
					g.lastDelivered = e.id
				}
				msgs = toMessages(entries)
			}
			if len(msgs) > 0 {
				out = append(out, Stream{Name: c.Stream, Messages: msgs})
			}
		}
		return out, nil
	})
}

func (g *memGroup) sortedPending() []ID {
	ids := make([]ID, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

func (g *memGroup) history(st *memStream, consumer string, from ID, count int64) []Message {
	var out []Message
	for _, id := range g.sortedPending() {
		if !from.Less(id) || g.pending[id].consumer != consumer {
			continue
		}
		e, ok := st.lookup(id)
		if !ok {
			continue
		}
		out = append(out, Message{ID: id.String(), Fields: copyFields(e.fields)})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out
}

// Ack removes ids from the group's pending set. Unknown groups and ids that
// are not pending count as zero.
func (s *MemoryStore) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

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
	if s.closed {
		return 0, errClosed("memory")
	}

	st, ok := s.streams[stream]
	if !ok {
		return 0, nil
	}
	g, ok := st.groups[group]
	if !ok {
		return 0, nil
	}
	var acked int64
	for _, id := range parsed {
		if _, pending := g.pending[id]; pending {
			delete(g.pending, id)
			acked++
		}
	}
	return acked, nil
}

// Pending lists unacknowledged entries in id order.
func (s *MemoryStore) Pending(ctx context.Context, stream, group string, q PendingQuery) ([]PendingEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memory")
	}

	g, err := s.group(stream, group)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []PendingEntry
	for _, id := range g.sortedPending() {
		p := g.pending[id]
		idle := now.Sub(p.deliveredAt)
		if q.Consumer != "" && p.consumer != q.Consumer {
			continue
		}
		if idle < q.MinIdle {
			continue
		}
		out = append(out, PendingEntry{ID: id.String(), Consumer: p.consumer, Idle: idle, Deliveries: p.deliveries})
		if q.Count > 0 && int64(len(out)) >= q.Count {
			break
		}
	}
	return out, nil
}

// Claim moves pending ids idle for at least minIdle to consumer. Ids whose
// entries were trimmed are dropped from the pending set.
func (s *MemoryStore) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

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
	if s.closed {
		return nil, errClosed("memory")
	}

	g, err := s.group(stream, group)
	if err != nil {
		return nil, err
	}
	st := s.streams[stream]
	now := s.now()
	var out []Message
	for _, id := range parsed {
		p, ok := g.pending[id]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		e, ok := st.lookup(id)
		if !ok {
			delete(g.pending, id)
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		out = append(out, Message{ID: id.String(), Fields: copyFields(e.fields)})
	}
	return out, nil
}

func (s *MemoryStore) group(stream, group string) (*memGroup, error) {
	st, ok := s.streams[stream]
	if !ok {
		return nil, errNoGroup(stream, group)
	}
	g, ok := st.groups[group]
	if !ok {
		return nil, errNoGroup(stream, group)
	}
	return g, nil
}

// Close releases the store. Blocked readers return a connection error.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.changed.broadcast()
	return nil
}
