package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vorce/amp/internal/playback/device"
)

// These tests construct an Engine without starting its run() goroutine
// so that white-box assertions on internal state never race against
// the command-processing loop; they exercise the command-channel
// plumbing and wall-clock position arithmetic without driving a real
// audio backend, since Play/PlayStreaming require a live speaker or
// portaudio device unavailable in CI.

func newTestEngine() *Engine {
	return &Engine{
		dev:      device.New(false),
		commands: make(chan command, commandQueueCap),
		closeCh:  make(chan struct{}),
	}
}

func TestCommandQueueFullReturnsError(t *testing.T) {
	e := newTestEngine()

	var lastErr error
	for i := 0; i < commandQueueCap+1; i++ {
		lastErr = e.submit(command{kind: cmdSetVolume, volume: 0.5})
	}
	assert.ErrorIs(t, lastErr, ErrCommandQueueFull)
}

func TestCurrentPositionClampsToDuration(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.duration = 10 * time.Second
	e.positionAtGo = 9 * time.Second
	e.playStartWall = time.Now().Add(-5 * time.Second)

	assert.Equal(t, 10*time.Second, e.currentPosition())
}

func TestCurrentPositionWhilePausedIsFrozen(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.duration = 30 * time.Second
	e.positionAtGo = 12 * time.Second
	e.playStartWall = time.Time{}

	assert.Equal(t, 12*time.Second, e.currentPosition())
}

func TestPollChannelBlocksWhenIdle(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.playing = false
	e.paused = false
	assert.Nil(t, e.pollChannel())
}

func TestSeekRejectedWithNoActivePlayback(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	err := e.handleSeek(5)
	assert.Error(t, err)
}

func TestTeardownResetsState(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.playing = true
	e.duration = 5 * time.Second
	e.positionAtGo = 2 * time.Second
	e.fullBytes = []byte{1, 2, 3}

	e.teardownLocked()

	assert.False(t, e.playing)
	assert.False(t, e.paused)
	assert.Equal(t, time.Duration(0), e.duration)
	assert.Nil(t, e.fullBytes)
	assert.Equal(t, time.Duration(0), e.Position())
}
