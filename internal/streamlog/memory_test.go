package streamlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// idleBehaviour checks pending idle filters and claim against a controllable clock.
func idleBehaviour(t *testing.T, s Client, clock *fakeClock) {
	ctx := context.Background()
	_, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
	require.NoError(t, err)
	ids := appendN(t, s, "tasks", 2)

	_, err = s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 1})
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 1})
	require.NoError(t, err)
	clock.Advance(40 * time.Second)

	idle, err := s.Pending(ctx, "tasks", "g", PendingQuery{MinIdle: time.Minute})
	require.NoError(t, err)
	require.Len(t, idle, 1)
	require.Equal(t, ids[0], idle[0].ID)
	require.Equal(t, 70*time.Second, idle[0].Idle)

	claimed, err := s.Claim(ctx, "tasks", "g", "c2", time.Minute, ids...)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, ids[0], claimed[0].ID)

	all, err := s.Pending(ctx, "tasks", "g", PendingQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "c2", all[0].Consumer)
	require.Zero(t, all[0].Idle)
	require.Equal(t, "c1", all[1].Consumer)

	limited, err := s.Pending(ctx, "tasks", "g", PendingQuery{Count: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

// trimBehaviour checks approximate trimming and that claim drops trimmed entries.
func trimBehaviour(t *testing.T, s Client) {
	ctx := context.Background()
	_, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
	require.NoError(t, err)
	first := appendN(t, s, "tasks", 1)
	_, err = s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 1})
	require.NoError(t, err)

	ids := appendN(t, s, "tasks", 40)
	res, err := s.Read(ctx, From(StartFromBeginning, "tasks"), ReadOptions{})
	require.NoError(t, err)
	kept := messageIDs(res)
	require.GreaterOrEqual(t, len(kept), 10)
	require.LessOrEqual(t, len(kept), 11)
	require.Equal(t, ids[len(ids)-1], kept[len(kept)-1])

	claimed, err := s.Claim(ctx, "tasks", "g", "c2", 0, first...)
	require.NoError(t, err)
	require.Empty(t, claimed)
	pending, err := s.Pending(ctx, "tasks", "g", PendingQuery{})
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestMemoryStore_IdleAndClaim(t *testing.T) {
	clock := newFakeClock()
	idleBehaviour(t, NewMemoryStore(WithClock(clock.Now)), clock)
}

func TestMemoryStore_Trim(t *testing.T) {
	trimBehaviour(t, NewMemoryStore(WithMaxLen(10)))
}

func TestMemoryStore_NoTrimWhenUnbounded(t *testing.T) {
	s := NewMemoryStore(WithMaxLen(0))
	appendN(t, s, "tasks", 50)
	res, err := s.Read(context.Background(), From(StartFromBeginning, "tasks"), ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, 50, Total(res))
}

func TestMemoryStore_StoredFieldsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	fields := map[string]string{"k": "v"}
	_, err := s.Append(ctx, "tasks", fields)
	require.NoError(t, err)
	fields["k"] = "changed"

	res, err := s.Read(ctx, From(StartFromBeginning, "tasks"), ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, "v", res[0].Messages[0].Fields["k"])
	res[0].Messages[0].Fields["k"] = "mutated"

	res, err = s.Read(ctx, From(StartFromBeginning, "tasks"), ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, "v", res[0].Messages[0].Fields["k"])
}

func TestMemoryStore_ClosedIsConnectionError(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Append(context.Background(), "tasks", map[string]string{"k": "v"})
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConnection))
	require.True(t, ferrors.IsTransient(err))
}

func TestMemoryStore_CloseWakesBlockedReader(t *testing.T) {
	s := NewMemoryStore()
	done := make(chan error, 1)
	go func() {
		_, err := s.Read(context.Background(), From(StartFromNew, "tasks"), ReadOptions{Block: BlockForever})
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Close())
	select {
	case err := <-done:
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryConnection))
	case <-time.After(time.Second):
		t.Fatal("blocked reader did not return after close")
	}
}

func TestMemoryStore_InvalidCursor(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Read(context.Background(), From("bogus", "tasks"), ReadOptions{})
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = s.Read(context.Background(), nil, ReadOptions{})
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}
