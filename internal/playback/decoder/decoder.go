// Package decoder implements the incremental decoder adapter of §4.B:
// it presents a streamsource.Source as a sample-producing audio source
// that begins yielding samples once a minimal prefix has arrived.
package decoder

import (
	"context"
	"log"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"

	"github.com/vorce/amp/internal/playback/perr"
	"github.com/vorce/amp/internal/playback/streamsource"
)

// Adapter exposes the probed format and a beep.StreamSeekCloser that
// the output engine consumes directly.
type Adapter struct {
	Streamer beep.StreamSeekCloser
	Format   beep.Format
}

const minBufferPollInterval = 50 * time.Millisecond

// initialBufferTimeout bounds the wait for has_min_buffer per §5's
// "bounded wait (~30s) before surfacing failure".
const initialBufferTimeout = 30 * time.Second

// New blocks until src.HasMinBuffer() holds or src is cancelled, then
// probes the container and returns a ready decoder. expectedRate and
// expectedChannels are the caller's prior belief (e.g. from remote
// catalog metadata); if the probed format differs, the mismatch is
// logged and the probed values are returned — the caller (§4.D) is
// responsible for recreating the output stream accordingly.
func New(ctx context.Context, src *streamsource.Source, expectedRate int, expectedChannels int, debug bool) (*Adapter, error) {
	deadline := time.Now().Add(initialBufferTimeout)
	ticker := time.NewTicker(minBufferPollInterval)
	defer ticker.Stop()

	for !src.HasMinBuffer() {
		if src.IsCancelled() {
			return nil, perr.New(perr.KindStreamCancelled, "decoder.New", nil)
		}
		if time.Now().After(deadline) {
			return nil, perr.New(perr.KindStreamIncomplete, "decoder.New", context.DeadlineExceeded)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	streamer, format, err := mp3.Decode(src)
	if err != nil {
		return nil, perr.New(perr.KindDecodeError, "decoder.New", err)
	}

	if int(format.SampleRate) != expectedRate && expectedRate != 0 {
		if debug {
			log.Printf("[DECODER] sample rate mismatch: expected %d, probed %d", expectedRate, format.SampleRate)
		}
	}
	if format.NumChannels != expectedChannels && expectedChannels != 0 {
		if debug {
			log.Printf("[DECODER] channel count mismatch: expected %d, probed %d", expectedChannels, format.NumChannels)
		}
	}

	return &Adapter{Streamer: streamer, Format: format}, nil
}

// NewFromBytes decodes a fully-buffered in-memory track (cache hit or
// local file path) without the blocking prefix-wait, since all bytes
// are already present.
func NewFromBytes(r beep.StreamSeekCloser, format beep.Format) *Adapter {
	return &Adapter{Streamer: r, Format: format}
}
