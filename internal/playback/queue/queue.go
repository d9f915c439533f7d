// Package queue implements the §4.F playback queue: an ordered track
// list with optional shuffle, three repeat modes, and a bounded
// play-history, ported from the original player's queue state
// machine.
package queue

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/vorce/amp/pkg/types"
)

// RepeatMode selects how Next behaves once the queue is exhausted.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

// maxHistory bounds the back-navigation stack, matching the original's
// VecDeque cap.
const maxHistory = 50

// maxUpcoming and maxHistorySnapshot bound the State snapshot's
// look-ahead/look-behind windows.
const (
	maxUpcoming        = 20
	maxHistorySnapshot = 10
)

// Track is a queue entry: the catalog song plus the fingerprint the
// cache/decoder pipeline resolves playback bytes against.
type Track struct {
	Song        *types.Song
	Fingerprint uint64
}

// State is a read-only snapshot for UI/telemetry consumers.
type State struct {
	Current     *Track
	Upcoming    []*Track
	History     []*Track
	Shuffle     bool
	Repeat      RepeatMode
	TotalTracks int
}

// Queue is the mutex-guarded queue state machine. All methods are
// safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	tracks       []*Track
	currentIndex int // -1 when empty

	shuffle         bool
	shuffleOrder    []int
	shufflePosition int

	repeat RepeatMode

	history []int // indices into tracks, oldest first, capped at maxHistory

	rng *rand.Rand
}

// New returns an empty queue with no current track.
func New() *Queue {
	return &Queue{
		currentIndex: -1,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Add appends a single track to the end of the queue.
func (q *Queue) Add(t *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, t)
	if q.currentIndex == -1 {
		q.currentIndex = 0
	}
	q.regenerateShuffleOrderLocked()
}

// AddMany appends a batch of tracks, preserving order.
func (q *Queue) AddMany(ts []*Track) {
	if len(ts) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, ts...)
	if q.currentIndex == -1 {
		q.currentIndex = 0
	}
	q.regenerateShuffleOrderLocked()
}

// AddNext inserts a track immediately after the currently playing
// position (in shuffle order if shuffle is enabled, else right after
// currentIndex), without reshuffling the rest of the queue.
func (q *Queue) AddNext(t *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	insertAt := q.currentIndex + 1
	if insertAt < 0 || insertAt > len(q.tracks) {
		insertAt = len(q.tracks)
	}

	q.tracks = append(q.tracks, nil)
	copy(q.tracks[insertAt+1:], q.tracks[insertAt:])
	q.tracks[insertAt] = t

	if q.currentIndex == -1 {
		q.currentIndex = 0
	} else if insertAt <= q.currentIndex {
		q.currentIndex++
	}

	for i, idx := range q.shuffleOrder {
		if idx >= insertAt {
			q.shuffleOrder[i] = idx + 1
		}
	}
	newPos := q.shufflePosition + 1
	if newPos > len(q.shuffleOrder) {
		newPos = len(q.shuffleOrder)
	}
	head := append([]int{}, q.shuffleOrder[:newPos]...)
	tail := append([]int{}, q.shuffleOrder[newPos:]...)
	q.shuffleOrder = append(append(head, insertAt), tail...)
}

// Set replaces the entire queue. If startIndex is non-negative it
// becomes the new current track. When shuffle is enabled, the queue
// generates a fresh shuffle order and then swaps startIndex's slot to
// the front so playback begins there immediately rather than wherever
// the permutation happened to place it; this also means the very next
// shuffle-driven advance is deterministic with respect to startIndex,
// not genuinely random, for that one step.
func (q *Queue) Set(ts []*Track, startIndex int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracks = append([]*Track{}, ts...)
	q.history = nil

	if len(q.tracks) == 0 {
		q.currentIndex = -1
		q.shuffleOrder = nil
		q.shufflePosition = 0
		return
	}

	if startIndex < 0 || startIndex >= len(q.tracks) {
		startIndex = 0
	}
	q.currentIndex = startIndex

	q.regenerateShuffleOrderLocked()

	if q.shuffle {
		for i, idx := range q.shuffleOrder {
			if idx == startIndex {
				q.shuffleOrder[0], q.shuffleOrder[i] = q.shuffleOrder[i], q.shuffleOrder[0]
				break
			}
		}
		q.shufflePosition = 0
	}
}

// Clear empties the queue entirely.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = nil
	q.currentIndex = -1
	q.shuffleOrder = nil
	q.shufflePosition = 0
	q.history = nil
}

// Remove deletes the track at index, adjusting the current position
// and shuffle order to account for the shift.
func (q *Queue) Remove(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.tracks) {
		return fmt.Errorf("queue: remove index %d out of bounds (len %d)", index, len(q.tracks))
	}

	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)

	switch {
	case len(q.tracks) == 0:
		q.currentIndex = -1
	case index < q.currentIndex:
		q.currentIndex--
	case index == q.currentIndex && q.currentIndex >= len(q.tracks):
		q.currentIndex = len(q.tracks) - 1
	}

	q.regenerateShuffleOrderLocked()
	return nil
}

// Move relocates the track at from to position to, adjusting the
// current index and regenerating the shuffle order.
func (q *Queue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if from < 0 || from >= len(q.tracks) || to < 0 || to >= len(q.tracks) {
		return fmt.Errorf("queue: move(%d, %d) out of bounds (len %d)", from, to, len(q.tracks))
	}
	if from == to {
		return nil
	}

	t := q.tracks[from]
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	q.tracks = append(q.tracks[:to], append([]*Track{t}, q.tracks[to:]...)...)

	switch {
	case q.currentIndex == from:
		q.currentIndex = to
	case from < q.currentIndex && to >= q.currentIndex:
		q.currentIndex--
	case from > q.currentIndex && to <= q.currentIndex:
		q.currentIndex++
	}

	q.regenerateShuffleOrderLocked()
	return nil
}

// CurrentTrack returns the track at currentIndex, or nil if the queue
// is empty.
func (q *Queue) CurrentTrack() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentLocked()
}

func (q *Queue) currentLocked() *Track {
	if q.currentIndex < 0 || q.currentIndex >= len(q.tracks) {
		return nil
	}
	return q.tracks[q.currentIndex]
}

// PeekNext returns what Next would select, without advancing state.
func (q *Queue) PeekNext() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return nil
	}
	if q.repeat == RepeatOne {
		return q.currentLocked()
	}

	if q.shuffle {
		pos := q.shufflePosition + 1
		if pos >= len(q.shuffleOrder) {
			if q.repeat != RepeatAll {
				return nil
			}
			pos = 0
		}
		return q.tracks[q.shuffleOrder[pos]]
	}

	idx := q.currentIndex + 1
	if idx >= len(q.tracks) {
		if q.repeat != RepeatAll {
			return nil
		}
		idx = 0
	}
	return q.tracks[idx]
}

// PeekUpcoming returns up to count tracks that would play after the
// current one, in order. Empty under RepeatOne, since the current
// track is all that will ever play next.
func (q *Queue) PeekUpcoming(count int) []*Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if count <= 0 || len(q.tracks) == 0 || q.repeat == RepeatOne {
		return nil
	}

	out := make([]*Track, 0, count)
	if q.shuffle {
		for i := 1; i <= len(q.shuffleOrder) && len(out) < count; i++ {
			pos := q.shufflePosition + i
			if pos >= len(q.shuffleOrder) {
				if q.repeat != RepeatAll {
					break
				}
				pos %= len(q.shuffleOrder)
			}
			out = append(out, q.tracks[q.shuffleOrder[pos]])
		}
		return out
	}

	for i := 1; i <= len(q.tracks) && len(out) < count; i++ {
		idx := q.currentIndex + i
		if idx >= len(q.tracks) {
			if q.repeat != RepeatAll {
				break
			}
			idx %= len(q.tracks)
		}
		out = append(out, q.tracks[idx])
	}
	return out
}

// Next advances playback per the current repeat/shuffle settings and
// returns the new current track (nil if the queue ran out under
// RepeatOff).
func (q *Queue) Next() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return nil
	}
	if q.repeat == RepeatOne {
		return q.currentLocked()
	}

	q.pushHistoryLocked(q.currentIndex)

	if q.shuffle {
		q.shufflePosition++
		if q.shufflePosition >= len(q.shuffleOrder) {
			if q.repeat != RepeatAll {
				q.shufflePosition = len(q.shuffleOrder)
				return nil
			}
			q.shufflePosition = 0
		}
		q.currentIndex = q.shuffleOrder[q.shufflePosition]
		return q.currentLocked()
	}

	q.currentIndex++
	if q.currentIndex >= len(q.tracks) {
		if q.repeat != RepeatAll {
			q.currentIndex = len(q.tracks)
			return nil
		}
		q.currentIndex = 0
	}
	return q.currentLocked()
}

// Previous pops the most recent history entry if present, otherwise
// steps back one position (wrapping under RepeatAll).
func (q *Queue) Previous() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return nil
	}

	if n := len(q.history); n > 0 {
		idx := q.history[n-1]
		q.history = q.history[:n-1]
		if idx >= len(q.tracks) {
			return q.currentLocked()
		}
		q.currentIndex = idx
		q.realignShufflePositionLocked()
		return q.currentLocked()
	}

	if q.shuffle {
		q.shufflePosition--
		if q.shufflePosition < 0 {
			if q.repeat != RepeatAll {
				q.shufflePosition = 0
				return q.currentLocked()
			}
			q.shufflePosition = len(q.shuffleOrder) - 1
		}
		q.currentIndex = q.shuffleOrder[q.shufflePosition]
		return q.currentLocked()
	}

	q.currentIndex--
	if q.currentIndex < 0 {
		if q.repeat != RepeatAll {
			q.currentIndex = 0
			return q.currentLocked()
		}
		q.currentIndex = len(q.tracks) - 1
	}
	return q.currentLocked()
}

// PlayIndex jumps directly to index, pushing the prior position onto
// history.
func (q *Queue) PlayIndex(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.tracks) {
		return fmt.Errorf("queue: play index %d out of bounds (len %d)", index, len(q.tracks))
	}

	q.pushHistoryLocked(q.currentIndex)
	q.currentIndex = index
	q.realignShufflePositionLocked()
	return nil
}

// SetShuffle toggles shuffle mode. Enabling it regenerates the
// permutation and realigns shufflePosition to wherever the current
// track landed; disabling it is a pure flag flip, leaving linear order
// as-is.
func (q *Queue) SetShuffle(enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if enabled && !q.shuffle {
		q.shuffle = true
		q.regenerateShuffleOrderLocked()
		return
	}
	q.shuffle = enabled
}

func (q *Queue) IsShuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffle
}

func (q *Queue) SetRepeat(mode RepeatMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeat = mode
}

func (q *Queue) GetRepeat() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

// State returns a bounded snapshot suitable for UI/telemetry
// consumers, without exposing the internal mutex or full slices.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := State{
		Shuffle:     q.shuffle,
		Repeat:      q.repeat,
		TotalTracks: len(q.tracks),
		Current:     q.currentLocked(),
	}

	s.Upcoming = q.peekUpcomingLocked(maxUpcoming)

	n := len(q.history)
	if n > maxHistorySnapshot {
		n = maxHistorySnapshot
	}
	s.History = make([]*Track, 0, n)
	for i := len(q.history) - 1; i >= 0 && len(s.History) < maxHistorySnapshot; i-- {
		idx := q.history[i]
		if idx >= 0 && idx < len(q.tracks) {
			s.History = append(s.History, q.tracks[idx])
		}
	}
	return s
}

// peekUpcomingLocked duplicates PeekUpcoming's logic under an
// already-held lock, for use from State().
func (q *Queue) peekUpcomingLocked(count int) []*Track {
	if count <= 0 || len(q.tracks) == 0 || q.repeat == RepeatOne {
		return nil
	}
	out := make([]*Track, 0, count)
	if q.shuffle {
		for i := 1; i <= len(q.shuffleOrder) && len(out) < count; i++ {
			pos := q.shufflePosition + i
			if pos >= len(q.shuffleOrder) {
				if q.repeat != RepeatAll {
					break
				}
				pos %= len(q.shuffleOrder)
			}
			out = append(out, q.tracks[q.shuffleOrder[pos]])
		}
		return out
	}
	for i := 1; i <= len(q.tracks) && len(out) < count; i++ {
		idx := q.currentIndex + i
		if idx >= len(q.tracks) {
			if q.repeat != RepeatAll {
				break
			}
			idx %= len(q.tracks)
		}
		out = append(out, q.tracks[idx])
	}
	return out
}

func (q *Queue) pushHistoryLocked(index int) {
	if index < 0 {
		return
	}
	q.history = append(q.history, index)
	if len(q.history) > maxHistory {
		q.history = q.history[len(q.history)-maxHistory:]
	}
}

// regenerateShuffleOrderLocked rebuilds the permutation via
// Fisher-Yates and realigns shufflePosition to wherever currentIndex
// now sits, so an in-progress shuffle traversal doesn't jump tracks
// purely because the queue contents changed.
func (q *Queue) regenerateShuffleOrderLocked() {
	n := len(q.tracks)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := q.rng.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	q.shuffleOrder = order
	q.realignShufflePositionLocked()
}

func (q *Queue) realignShufflePositionLocked() {
	for i, idx := range q.shuffleOrder {
		if idx == q.currentIndex {
			q.shufflePosition = i
			return
		}
	}
	q.shufflePosition = 0
}
