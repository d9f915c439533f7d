package decoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vorce/amp/internal/playback/perr"
	"github.com/vorce/amp/internal/playback/streamsource"
)

func TestNewReturnsCancelledBeforeMinBuffer(t *testing.T) {
	src := streamsource.New(streamsource.Config{MinStartBytes: 1 << 20}, false)
	src.Cancel(nil)

	_, err := New(context.Background(), src, 44100, 2, false)
	assert.True(t, perr.Is(err, perr.KindStreamCancelled))
}

func TestNewRespectsContextCancellation(t *testing.T) {
	src := streamsource.New(streamsource.Config{MinStartBytes: 1 << 20}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, src, 44100, 2, false)
	assert.Error(t, err)
}
