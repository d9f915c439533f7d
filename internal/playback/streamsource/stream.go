// Package streamsource implements the buffered streaming source of
// §4.A: an append-only growable byte buffer with a single writer and a
// single reader, blocking the reader on unreceived offsets and waking
// it on every push or terminal transition.
package streamsource

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/vorce/amp/internal/playback/perr"
)

// ErrWouldBlock is returned by Seek when the requested offset lies
// beyond the received window and the stream is still incomplete.
var ErrWouldBlock = errors.New("streamsource: seek would block")

// Config tunes the minimum-buffer gate and the prebuffer ceiling.
type Config struct {
	MinStartBytes     int64
	MaxPrebufferBytes int64
}

// canonicalBytesPerSecond approximates a high-resolution lossless
// bitrate (16-bit/44.1kHz stereo PCM-equivalent compressed source) for
// sizing a prebuffer from a target number of seconds. The exact value
// is implementation-chosen per spec §4.A; only the monotonic relation
// to target seconds is load-bearing.
const canonicalBytesPerSecond = 320 * 1024 / 8 // ~320kbps

// FromSeconds sizes MinStartBytes to hold roughly targetSeconds of
// audio at a canonical high-resolution bitrate. Higher seconds yields a
// larger prebuffer.
func FromSeconds(targetSeconds uint8) Config {
	min := int64(targetSeconds) * canonicalBytesPerSecond
	if min <= 0 {
		min = canonicalBytesPerSecond / 2
	}
	return Config{
		MinStartBytes:     min,
		MaxPrebufferBytes: min * 8,
	}
}

// FromSpeedMbps adapts the prebuffer inversely to measured fetch
// speed: faster links use smaller prebuffers since they can catch up
// quickly if the decoder outruns them.
func FromSpeedMbps(speedMbps float64) Config {
	if speedMbps <= 0 {
		speedMbps = 1
	}
	// 2 MiB at 1 Mbps, shrinking in proportion as the measured rate
	// grows, floored and capped to sane bounds.
	min := int64(2 * 1024 * 1024 / speedMbps)
	if min < 32*1024 {
		min = 32 * 1024
	}
	if min > 2*1024*1024 {
		min = 2 * 1024 * 1024
	}
	return Config{
		MinStartBytes:     min,
		MaxPrebufferBytes: min * 8,
	}
}

// Source is the shared state behind both the Writer and Reader roles.
// One writer, one reader; both may run on different goroutines. All
// access goes through a single mutex + condition variable, matching
// the teacher's StreamReader.
type Source struct {
	ID uuid.UUID

	cfg Config

	mu   sync.Mutex
	cond *sync.Cond

	buffer        []byte
	writeOffset   int64
	readOffset    int64
	expectedTotal *int64
	completed     bool
	cancelled     bool
	cancelErr     error

	debug bool
}

func New(cfg Config, debug bool) *Source {
	s := &Source{
		ID:    uuid.New(),
		cfg:   cfg,
		debug: debug,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetExpectedTotal records the fetcher's known content length (e.g.
// HTTP Content-Length). Safe to call once, before the first Push.
func (s *Source) SetExpectedTotal(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= 0 {
		s.expectedTotal = &n
	}
}

// Push appends a chunk in order. Pushing after Finish or Cancel is a
// programming error and is ignored (logged in debug mode). Pushing
// past expectedTotal clamps and drops the excess.
func (s *Source) Push(chunk []byte) error {
	s.mu.Lock()
	if s.completed || s.cancelled {
		s.mu.Unlock()
		if s.debug {
			log.Printf("[STREAMSOURCE] push after terminal state ignored: %s", s.ID)
		}
		if s.cancelled {
			return perr.New(perr.KindStreamCancelled, "streamsource.Push", s.cancelErr)
		}
		return nil
	}

	if s.expectedTotal != nil {
		remaining := *s.expectedTotal - s.writeOffset
		if remaining <= 0 {
			s.mu.Unlock()
			return nil
		}
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
	}

	s.buffer = append(s.buffer, chunk...)
	s.writeOffset = int64(len(s.buffer))
	s.mu.Unlock()

	s.cond.Broadcast()
	return nil
}

// Finish marks the stream complete; write_offset becomes the
// authoritative total length.
func (s *Source) Finish() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.completed = true
	total := s.writeOffset
	s.expectedTotal = &total
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.debug {
		log.Printf("[STREAMSOURCE] finished: %s (%d bytes)", s.ID, total)
	}
}

// Cancel is a terminal failure. Every subsequent Read returns an
// error; the writer must not Push afterward.
func (s *Source) Cancel(reason error) {
	s.mu.Lock()
	if s.completed || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.cancelErr = reason
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.debug {
		log.Printf("[STREAMSOURCE] cancelled: %s: %v", s.ID, reason)
	}
}

// HasMinBuffer reports whether enough bytes have arrived to begin
// decoding, or the stream is already complete.
func (s *Source) HasMinBuffer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOffset >= s.cfg.MinStartBytes || s.completed
}

// ByteLen returns the expected total length if known.
func (s *Source) ByteLen() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expectedTotal == nil {
		return 0, false
	}
	return *s.expectedTotal, true
}

// WriteOffset returns the number of bytes received so far.
func (s *Source) WriteOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOffset
}

// Read implements the reader contract: it blocks until bytes are
// available, Finish is called, or Cancel is called.
func (s *Source) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.cancelled {
			return 0, perr.New(perr.KindStreamCancelled, "streamsource.Read", s.cancelErr)
		}

		available := s.writeOffset - s.readOffset
		if available > 0 {
			n := int64(len(p))
			if n > available {
				n = available
			}
			start := s.readOffset
			copy(p, s.buffer[start:start+n])
			s.readOffset += n
			return int(n), nil
		}

		if s.completed {
			return 0, io.EOF
		}

		s.cond.Wait()
	}
}

// Seek repositions the read cursor. Seeking past the received window
// while the stream is incomplete returns ErrWouldBlock. Once complete,
// seeking is unrestricted within the total length.
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.readOffset + offset
	case io.SeekEnd:
		if s.expectedTotal == nil {
			return 0, perr.New(perr.KindStreamIncomplete, "streamsource.Seek", errors.New("total length unknown"))
		}
		target = *s.expectedTotal + offset
	default:
		return 0, errors.New("streamsource: invalid whence")
	}

	if target < 0 {
		return 0, errors.New("streamsource: negative position")
	}

	if !s.completed && target > s.writeOffset {
		return 0, ErrWouldBlock
	}

	s.readOffset = target
	return target, nil
}

// ReadOffset exposes the reader's current absolute position, used by
// end-of-track detection to disambiguate an engine-empty false
// positive from genuine completion (spec §9).
func (s *Source) ReadOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOffset
}

// Close implements io.Closer for callers (e.g. the decoder) that need
// an io.ReadCloser. It does not cancel the underlying fetch — only the
// fetcher or an explicit Cancel may terminate the writer side.
func (s *Source) Close() error { return nil }

// IsComplete reports whether Finish has been called.
func (s *Source) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// IsCancelled reports whether Cancel has been called.
func (s *Source) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// AtEndOfStream reports whether the reader has consumed every byte of
// a now-complete stream — the second half of the end-of-track
// heuristic spec §9 calls for alongside "engine reports empty".
func (s *Source) AtEndOfStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed && s.readOffset >= s.writeOffset
}

// Segment is a read-only view into a Source starting at a fixed
// absolute byte offset, used when the decoder is re-created mid-stream
// (e.g. a buffered seek). It does not share the parent's read cursor
// and closing it never cancels the underlying fetch, mirroring the
// teacher's SegmentReader.
type Segment struct {
	src    *Source
	start  int64
	cursor int64
}

func (s *Source) NewSegmentFrom(offset int64) *Segment {
	if offset < 0 {
		offset = 0
	}
	return &Segment{src: s, start: offset}
}

func (seg *Segment) Read(p []byte) (int, error) {
	s := seg.src
	s.mu.Lock()
	defer s.mu.Unlock()

	abs := seg.start + seg.cursor
	for {
		available := s.writeOffset - abs
		if available > 0 {
			n := int64(len(p))
			if n > available {
				n = available
			}
			copy(p, s.buffer[abs:abs+n])
			seg.cursor += n
			return int(n), nil
		}
		if s.completed {
			return 0, io.EOF
		}
		if s.cancelled {
			return 0, perr.New(perr.KindStreamCancelled, "streamsource.Segment.Read", s.cancelErr)
		}
		s.cond.Wait()
	}
}

func (seg *Segment) Close() error { return nil }
