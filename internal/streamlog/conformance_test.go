package streamlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

type storeFactory func(t *testing.T) Client

// runConformance exercises the Client contract shared by every store.
func runConformance(t *testing.T, newStore storeFactory) {
	t.Run("append assigns increasing ids", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var prev string
		for i := 0; i < 20; i++ {
			id, err := s.Append(ctx, "orders", map[string]string{"n": fmt.Sprint(i)})
			require.NoError(t, err)
			if prev != "" {
				require.Equal(t, 1, CompareIDs(id, prev), "id %s must follow %s", id, prev)
			}
			prev = id
		}
	})

	t.Run("read starts strictly after cursor", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := appendN(t, s, "orders", 5)

		res, err := s.Read(ctx, From(ids[1], "orders"), ReadOptions{})
		require.NoError(t, err)
		require.Equal(t, ids[2:], messageIDs(res))

		res, err = s.Read(ctx, From(StartFromBeginning, "orders"), ReadOptions{Count: 2})
		require.NoError(t, err)
		require.Equal(t, ids[:2], messageIDs(res))
		require.Equal(t, "1", res[0].Messages[1].Fields["n"])
	})

	t.Run("read dollar returns nothing without new data", func(t *testing.T) {
		s := newStore(t)
		appendN(t, s, "orders", 3)
		res, err := s.Read(context.Background(), From(StartFromNew, "orders"), ReadOptions{})
		require.NoError(t, err)
		require.Empty(t, res)
	})

	t.Run("read multiplexes streams", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := appendN(t, s, "alpha", 2)
		b := appendN(t, s, "beta", 3)

		res, err := s.Read(ctx, From(StartFromBeginning, "alpha", "beta", "gamma"), ReadOptions{Count: 10})
		require.NoError(t, err)
		byName := map[string][]string{}
		for _, st := range res {
			for _, m := range st.Messages {
				byName[st.Name] = append(byName[st.Name], m.ID)
			}
		}
		require.Equal(t, a, byName["alpha"])
		require.Equal(t, b, byName["beta"])
		require.NotContains(t, byName, "gamma")
	})

	t.Run("blocking read times out empty", func(t *testing.T) {
		s := newStore(t)
		start := time.Now()
		res, err := s.Read(context.Background(), From(StartFromNew, "quiet"), ReadOptions{Block: 150 * time.Millisecond})
		require.NoError(t, err)
		require.Empty(t, res)
		require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("blocking read wakes on append", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = s.Append(ctx, "wake", map[string]string{"k": "v"})
		}()

		res, err := s.Read(ctx, From(StartFromNew, "wake"), ReadOptions{Block: 5 * time.Second})
		require.NoError(t, err)
		require.Equal(t, 1, Total(res))
		require.Equal(t, "v", res[0].Messages[0].Fields["k"])
	})

	t.Run("block forever ends with context", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := s.Read(ctx, From(StartFromNew, "never"), ReadOptions{Block: BlockForever})
		require.Error(t, err)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ordering within group", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		created, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
		require.NoError(t, err)
		require.True(t, created)

		ids := appendN(t, s, "tasks", 50)
		var got []string
		for {
			res, err := s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 7})
			require.NoError(t, err)
			if len(res) == 0 {
				break
			}
			got = append(got, messageIDs(res)...)
		}
		require.Equal(t, ids, got)

		n, err := s.Ack(ctx, "tasks", "g", got...)
		require.NoError(t, err)
		require.EqualValues(t, 50, n)
	})

	t.Run("group starting at zero replays history", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := appendN(t, s, "tasks", 4)
		_, err := s.CreateGroup(ctx, "tasks", "replay", StartFromBeginning)
		require.NoError(t, err)
		res, err := s.ReadGroup(ctx, "replay", "c1", LiveTail("tasks"), ReadOptions{Count: 10})
		require.NoError(t, err)
		require.Equal(t, ids, messageIDs(res))
	})

	t.Run("competing consumers never share a message", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
		require.NoError(t, err)
		ids := appendN(t, s, "tasks", 20)

		acked := map[string][]string{}
		for turn := 0; ; turn++ {
			consumer := []string{"c1", "c2"}[turn%2]
			res, err := s.ReadGroup(ctx, "g", consumer, LiveTail("tasks"), ReadOptions{Count: 3})
			require.NoError(t, err)
			if len(res) == 0 {
				break
			}
			got := messageIDs(res)
			n, err := s.Ack(ctx, "tasks", "g", got...)
			require.NoError(t, err)
			require.EqualValues(t, len(got), n)
			acked[consumer] = append(acked[consumer], got...)
		}

		union := append(append([]string{}, acked["c1"]...), acked["c2"]...)
		sort.Slice(union, func(i, j int) bool { return CompareIDs(union[i], union[j]) < 0 })
		require.Equal(t, ids, union)
		require.NotEmpty(t, acked["c1"])
		require.NotEmpty(t, acked["c2"])
	})

	t.Run("concurrent consumers split pending work", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateGroup(ctx, "tasks", "g2", StartFromNew)
		require.NoError(t, err)
		ids := appendN(t, s, "tasks", 10)

		var mu sync.Mutex
		var errs []error
		var delivered [][]string
		var wg sync.WaitGroup
		for _, c := range []string{"c1", "c2"} {
			wg.Add(1)
			go func(consumer string) {
				defer wg.Done()
				res, err := s.ReadGroup(ctx, "g2", consumer, LiveTail("tasks"), ReadOptions{Count: 5})
				mu.Lock()
				defer mu.Unlock()
				errs = append(errs, err)
				delivered = append(delivered, messageIDs(res))
			}(c)
		}
		wg.Wait()

		seen := map[string]bool{}
		for _, err := range errs {
			require.NoError(t, err)
		}
		for _, batch := range delivered {
			for _, id := range batch {
				require.False(t, seen[id], "message %s delivered twice", id)
				seen[id] = true
			}
		}
		require.Len(t, seen, 10)
		for _, id := range ids {
			require.Contains(t, seen, id)
		}
	})

	t.Run("unacked message stays pending and can be claimed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
		require.NoError(t, err)
		ids := appendN(t, s, "tasks", 1)

		res, err := s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 10})
		require.NoError(t, err)
		require.Equal(t, ids, messageIDs(res))

		// Handler failed: no ack. The live tail does not hand it out again.
		res, err = s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 10})
		require.NoError(t, err)
		require.Empty(t, res)

		res, err = s.ReadGroup(ctx, "g", "c1", From(StartFromBeginning, "tasks"), ReadOptions{Count: 10})
		require.NoError(t, err)
		require.Equal(t, ids, messageIDs(res))

		pending, err := s.Pending(ctx, "tasks", "g", PendingQuery{})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, ids[0], pending[0].ID)
		require.Equal(t, "c1", pending[0].Consumer)
		require.EqualValues(t, 1, pending[0].Deliveries)

		claimed, err := s.Claim(ctx, "tasks", "g", "c2", 0, ids...)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.Equal(t, "0", claimed[0].Fields["n"])

		pending, err = s.Pending(ctx, "tasks", "g", PendingQuery{Consumer: "c2"})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.EqualValues(t, 2, pending[0].Deliveries)

		n, err := s.Ack(ctx, "tasks", "g", ids[0])
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
		pending, err = s.Pending(ctx, "tasks", "g", PendingQuery{})
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("group creation is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		created, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
		require.NoError(t, err)
		require.True(t, created)

		ids := appendN(t, s, "tasks", 3)
		res, err := s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 1})
		require.NoError(t, err)
		require.Equal(t, ids[:1], messageIDs(res))

		created, err = s.CreateGroup(ctx, "tasks", "g", StartFromNew)
		require.NoError(t, err)
		require.False(t, created)

		pending, err := s.Pending(ctx, "tasks", "g", PendingQuery{})
		require.NoError(t, err)
		require.Len(t, pending, 1)

		res, err = s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 10})
		require.NoError(t, err)
		require.Equal(t, ids[1:], messageIDs(res))
	})

	t.Run("create group makes the stream", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		created, err := s.CreateGroup(ctx, "fresh", "g", StartFromNew)
		require.NoError(t, err)
		require.True(t, created)
		res, err := s.ReadGroup(ctx, "g", "c1", LiveTail("fresh"), ReadOptions{})
		require.NoError(t, err)
		require.Empty(t, res)
	})

	t.Run("double ack counts once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
		require.NoError(t, err)
		appendN(t, s, "tasks", 1)
		res, err := s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 10})
		require.NoError(t, err)
		id := res[0].Messages[0].ID

		n, err := s.Ack(ctx, "tasks", "g", id)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
		n, err = s.Ack(ctx, "tasks", "g", id)
		require.NoError(t, err)
		require.EqualValues(t, 0, n)
	})

	t.Run("blocking group read wakes on append", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateGroup(ctx, "tasks", "g", StartFromNew)
		require.NoError(t, err)
		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = s.Append(ctx, "tasks", map[string]string{"k": "v"})
		}()
		res, err := s.ReadGroup(ctx, "g", "c1", LiveTail("tasks"), ReadOptions{Count: 10, Block: 5 * time.Second})
		require.NoError(t, err)
		require.Equal(t, 1, Total(res))
	})

	t.Run("missing group is not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		appendN(t, s, "tasks", 1)

		_, err := s.ReadGroup(ctx, "nope", "c1", LiveTail("tasks"), ReadOptions{})
		require.Error(t, err)
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound), "got %v", err)

		_, err = s.Pending(ctx, "tasks", "nope", PendingQuery{})
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound), "got %v", err)
	})
}

func appendN(t *testing.T, s Client, stream string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id, err := s.Append(context.Background(), stream, map[string]string{"n": fmt.Sprint(i)})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func messageIDs(streams []Stream) []string {
	var out []string
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, m.ID)
		}
	}
	return out
}

func TestMemoryStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Client {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Client {
		s, err := NewSQLiteStore(":memory:", WithPollInterval(20*time.Millisecond))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
