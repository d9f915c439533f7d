package streamsource

import (
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFromSecondsMonotonic(t *testing.T) {
	small := FromSeconds(2)
	large := FromSeconds(20)
	assert.Less(t, small.MinStartBytes, large.MinStartBytes)
}

func TestFromSpeedMbpsInverse(t *testing.T) {
	slow := FromSpeedMbps(1)
	fast := FromSpeedMbps(100)
	assert.Less(t, fast.MinStartBytes, slow.MinStartBytes)
}

// S2: underrun scenario from spec §8.
func TestUnderrunBlocksThenUnblocks(t *testing.T) {
	src := New(Config{MinStartBytes: 64 * 1024}, false)
	total := int64(2 * 1024 * 1024)
	src.SetExpectedTotal(total)

	require.NoError(t, src.Push(make([]byte, 64*1024)))
	require.True(t, src.HasMinBuffer())

	readDone := make(chan struct{})
	var n int
	var err error
	go func() {
		buf := make([]byte, 512*1024)
		n, err = io.ReadFull(src, buf)
		close(readDone)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-readDone:
		t.Fatal("read completed before enough bytes were pushed")
	default:
	}

	require.NoError(t, src.Push(make([]byte, 128*1024)))
	require.NoError(t, src.Push(make([]byte, 320*1024)))

	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after sufficient pushes")
	}

	require.NoError(t, err)
	assert.Equal(t, 512*1024, n)
}

// S3: seek-during-stream is rejected; succeeds after finish.
func TestSeekDuringStreamRejected(t *testing.T) {
	src := New(Config{MinStartBytes: 1024}, false)
	src.SetExpectedTotal(2 * 1024 * 1024)

	require.NoError(t, src.Push(make([]byte, 192*1024)))

	_, err := src.Seek(700000, io.SeekStart)
	assert.ErrorIs(t, err, ErrWouldBlock)

	src.Finish()

	pos, err := src.Seek(700000, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(700000), pos)
}

func TestCancelFailsSubsequentReads(t *testing.T) {
	src := New(Config{}, false)
	require.NoError(t, src.Push([]byte("hello")))
	src.Cancel(io.ErrClosedPipe)

	buf := make([]byte, 4)
	_, err := src.Read(buf)
	assert.Error(t, err)

	_, err = src.Read(buf)
	assert.Error(t, err)
}

func TestFinishShortReadOnlyAtEOF(t *testing.T) {
	src := New(Config{}, false)
	require.NoError(t, src.Push([]byte("abc")))
	src.Finish()

	buf := make([]byte, 10)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = src.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

// Property #3: for any interleaving of reader reads and writer pushes
// of a known byte sequence, the concatenation of read results equals
// the pushed prefix; at completion it equals the full sequence.
func TestPropertyStreamingReaderWriter(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		total := rapid.IntRange(1, 4096).Draw(rt, "total")
		data := make([]byte, total)
		rand.New(rand.NewSource(int64(total))).Read(data)

		chunkSizes := rapid.SliceOfN(rapid.IntRange(1, 256), 1, 32).Draw(rt, "chunks")

		src := New(Config{MinStartBytes: 1}, false)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			off := 0
			for _, sz := range chunkSizes {
				if off >= len(data) {
					break
				}
				end := off + sz
				if end > len(data) {
					end = len(data)
				}
				_ = src.Push(data[off:end])
				off = end
			}
			src.Finish()
		}()

		got := make([]byte, 0, total)
		buf := make([]byte, 37)
		for {
			n, err := src.Read(buf)
			got = append(got, buf[:n]...)
			if err == io.EOF {
				break
			}
			require.NoError(rt, err)
		}
		wg.Wait()

		assert.Equal(rt, data, got)
	})
}
