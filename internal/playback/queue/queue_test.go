package queue

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vorce/amp/pkg/types"
)

func mkTracks(n int) []*Track {
	ts := make([]*Track, n)
	for i := 0; i < n; i++ {
		ts[i] = &Track{Song: &types.Song{Slug: string(rune('a' + i))}, Fingerprint: uint64(i + 1)}
	}
	return ts
}

func TestSetAndLinearNext(t *testing.T) {
	q := New()
	q.Set(mkTracks(3), 0)

	assert.Equal(t, uint64(1), q.CurrentTrack().Fingerprint)
	assert.Equal(t, uint64(2), q.Next().Fingerprint)
	assert.Equal(t, uint64(3), q.Next().Fingerprint)
	assert.Nil(t, q.Next(), "RepeatOff should stop at the end")
}

func TestRepeatAllCyclesBackToStart(t *testing.T) {
	q := New()
	q.Set(mkTracks(3), 0)
	q.SetRepeat(RepeatAll)

	q.Next()
	q.Next()
	got := q.Next()
	require.NotNil(t, got)
	assert.Equal(t, uint64(1), got.Fingerprint, "repeat-all should wrap to the first track")
}

func TestRepeatOneReturnsSameTrack(t *testing.T) {
	q := New()
	q.Set(mkTracks(3), 1)
	q.SetRepeat(RepeatOne)

	assert.Equal(t, uint64(2), q.Next().Fingerprint)
	assert.Equal(t, uint64(2), q.Next().Fingerprint)
}

func TestPreviousUsesHistoryBeforeLinearStep(t *testing.T) {
	q := New()
	q.Set(mkTracks(4), 0)

	q.Next() // -> index 1, history=[0]
	q.Next() // -> index 2, history=[0,1]

	got := q.Previous()
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Fingerprint, "previous should pop history back to index 1")
}

func TestSetWithShuffleSwapsStartIndexToFront(t *testing.T) {
	q := New()
	q.SetShuffle(true)
	q.Set(mkTracks(10), 7)

	require.NotEmpty(t, q.shuffleOrder)
	assert.Equal(t, 7, q.shuffleOrder[0], "start index must be swapped to the front of the shuffle order")
	assert.Equal(t, 0, q.shufflePosition)
}

func TestRemoveAdjustsCurrentIndex(t *testing.T) {
	q := New()
	q.Set(mkTracks(4), 2)

	require.NoError(t, q.Remove(0))
	assert.Equal(t, uint64(3), q.CurrentTrack().Fingerprint, "removing a track before current should shift current left")
}

func TestPeekUpcomingEmptyUnderRepeatOne(t *testing.T) {
	q := New()
	q.Set(mkTracks(5), 0)
	q.SetRepeat(RepeatOne)

	assert.Empty(t, q.PeekUpcoming(3))
}

// PropertyShuffleIsPermutation checks that the shuffle order is always
// a valid permutation of [0, n) regardless of how the queue has been
// mutated beforehand.
func TestPropertyShuffleIsPermutation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(rt, "n")
		q := New()
		q.SetShuffle(true)
		q.Set(mkTracks(n), rapid.IntRange(0, n-1).Draw(rt, "start"))

		ops := rapid.IntRange(0, 10).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			q.Next()
		}

		got := append([]int{}, q.shuffleOrder...)
		sort.Ints(got)
		want := make([]int, n)
		for i := range want {
			want[i] = i
		}
		assert.Equal(rt, want, got)
	})
}

// PropertyRepeatAllNeverStalls checks that under RepeatAll, Next()
// always returns a non-nil track regardless of shuffle or queue size.
func TestPropertyRepeatAllNeverStalls(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		q := New()
		q.SetShuffle(rapid.Bool().Draw(rt, "shuffle"))
		q.SetRepeat(RepeatAll)
		q.Set(mkTracks(n), 0)

		for i := 0; i < n*3; i++ {
			assert.NotNil(rt, q.Next())
		}
	})
}
