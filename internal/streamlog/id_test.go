package streamlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("1700000000000-5")
	require.NoError(t, err)
	require.Equal(t, ID{Ms: 1700000000000, Seq: 5}, id)
	require.Equal(t, "1700000000000-5", id.String())

	id, err = ParseID("0")
	require.NoError(t, err)
	require.True(t, id.IsZero())

	id, err = ParseID("42")
	require.NoError(t, err)
	require.Equal(t, ID{Ms: 42}, id)

	for _, bad := range []string{"", "$", ">", "1-x", "a-1", "-1"} {
		_, err := ParseID(bad)
		require.Error(t, err, bad)
	}
}

func TestCompareIDs(t *testing.T) {
	require.Equal(t, -1, CompareIDs("1-9", "2-0"))
	require.Equal(t, -1, CompareIDs("5-2", "5-10"))
	require.Equal(t, 0, CompareIDs("5-0", "5"))
	require.Equal(t, 1, CompareIDs("10-0", "9-99"))
	require.Equal(t, -1, CompareIDs("garbage", "1-0"))
}

func TestNextID(t *testing.T) {
	now := time.UnixMilli(1000)
	first := ID{}.next(now)
	require.Equal(t, ID{Ms: 1000}, first)
	require.Equal(t, ID{Ms: 1000, Seq: 1}, first.next(now))
	// Clock going backwards never produces a smaller id.
	require.Equal(t, ID{Ms: 1000, Seq: 1}, first.next(time.UnixMilli(900)))
	require.Equal(t, ID{Ms: 1001}, first.next(time.UnixMilli(1001)))
}
