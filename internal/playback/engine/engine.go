// Package engine implements the audio command thread of §4.E: a
// single dedicated goroutine that is the sole consumer of a command
// channel, the sole owner of the output device and the decode
// pipeline, and the sole mutator of playback state. Every other
// package reaches the engine only by sending commands.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"

	"github.com/vorce/amp/internal/events"
	"github.com/vorce/amp/internal/playback/decoder"
	"github.com/vorce/amp/internal/playback/device"
	"github.com/vorce/amp/internal/playback/perr"
	"github.com/vorce/amp/internal/playback/streamsource"
)

const (
	pollWhilePlaying = 100 * time.Millisecond
	pollWhilePaused  = 250 * time.Millisecond

	// commandQueueCap bounds the non-blocking command send; a full
	// queue means the UI is issuing commands faster than the audio
	// thread can retire them, which should surface as a send failure
	// rather than a block on the caller's thread.
	commandQueueCap = 32
)

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdPlayStreaming
	cmdPause
	cmdResume
	cmdStop
	cmdSetVolume
	cmdSeek
	cmdReinitDevice
	cmdSetBackend
	cmdClose
)

type command struct {
	kind commandKind

	data        []byte
	source      *streamsource.Source
	fingerprint uint64
	sampleRate  int
	channels    int
	duration    time.Duration
	volume      float64
	seekSeconds float64
	deviceName  string
	backend     device.Backend

	reply chan error
}

// ErrCommandQueueFull is returned by Submit when the engine is not
// draining its command channel quickly enough to accept another.
var ErrCommandQueueFull = fmt.Errorf("engine: command queue full")

// Engine owns every piece of mutable playback state and runs it
// exclusively on its own goroutine, per spec §9's guidance to fold the
// reference implementation's lock-guarded shared fields into a single
// struct owned by one thread.
type Engine struct {
	dev   *device.Device
	debug bool

	commands chan command
	closeCh  chan struct{}
	closed   sync.Once

	onPosition func(time.Duration)
	onFinished func()
	callbackMu sync.Mutex

	events *events.Bus

	// Telemetry read by other threads; kept atomic per spec §9's "keep
	// atomic primitives only for truly shared read-hot telemetry".
	positionMillis int64
	playingFlag    int32

	// Everything below is touched only on the engine's own goroutine.
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	streamer beep.StreamSeekCloser
	trackEnd chan struct{}

	playing bool
	paused  bool

	duration       time.Duration
	positionAtGo   time.Duration
	playStartWall  time.Time // zero means not currently counting
	fingerprint    uint64
	sampleRate     int
	channels       int
	backend        device.Backend

	// Seek-by-redecode source material: either the full in-memory track
	// (cache hit / local file) or a streaming source that has finished
	// (so its buffered bytes form a complete, re-decodable track).
	fullBytes    []byte
	activeSource *streamsource.Source
}

// State is the §3 telemetry payload published as events.PlaybackState
// on every playing poll tick (pollWhilePlaying, about 10 Hz) and
// whenever playback starts, pauses, seeks, ends or is torn down.
type State struct {
	Playing     bool
	Paused      bool
	Position    time.Duration
	Duration    time.Duration
	Fingerprint uint64
}

// SetEvents wires an outbound event bus for playback:state
// notifications. Optional; nil is a safe default (Publish on a nil
// bus is a no-op).
func (e *Engine) SetEvents(bus *events.Bus) {
	e.events = bus
}

func New(dev *device.Device, debug bool) *Engine {
	e := &Engine{
		dev:      dev,
		debug:    debug,
		commands: make(chan command, commandQueueCap),
		closeCh:  make(chan struct{}),
	}
	go e.run()
	return e
}

// SetBackend changes which output backend subsequent EnsureStream
// calls request (speaker vs. bit-perfect passthrough). It takes effect
// on the next Play/PlayStreaming/ReinitDevice, not immediately.
func (e *Engine) SetBackend(b device.Backend) {
	e.submit(command{kind: cmdSetBackend, backend: b})
}

func (e *Engine) OnPositionChanged(cb func(time.Duration)) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onPosition = cb
}

func (e *Engine) OnFinished(cb func()) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onFinished = cb
}

// Position and IsPlaying are the read-hot telemetry surface, safe to
// call from any goroutine without touching the command channel.
func (e *Engine) Position() time.Duration {
	return time.Duration(atomic.LoadInt64(&e.positionMillis)) * time.Millisecond
}

func (e *Engine) IsPlaying() bool {
	return atomic.LoadInt32(&e.playingFlag) != 0
}

func (e *Engine) submit(cmd command) error {
	select {
	case e.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// submitSync submits a command and waits for its ack, used by callers
// that need to observe the outcome (e.g. Seek rejecting mid-stream).
func (e *Engine) submitSync(cmd command) error {
	cmd.reply = make(chan error, 1)
	if err := e.submit(cmd); err != nil {
		return err
	}
	return <-cmd.reply
}

func (e *Engine) Play(data []byte, fingerprint uint64, sampleRate, channels int, duration time.Duration) error {
	return e.submitSync(command{kind: cmdPlay, data: data, fingerprint: fingerprint, sampleRate: sampleRate, channels: channels, duration: duration})
}

func (e *Engine) PlayStreaming(src *streamsource.Source, fingerprint uint64, sampleRate, channels int, duration time.Duration) error {
	return e.submitSync(command{kind: cmdPlayStreaming, source: src, fingerprint: fingerprint, sampleRate: sampleRate, channels: channels, duration: duration})
}

func (e *Engine) Pause() error  { return e.submitSync(command{kind: cmdPause}) }
func (e *Engine) Resume() error { return e.submitSync(command{kind: cmdResume}) }
func (e *Engine) Stop() error   { return e.submitSync(command{kind: cmdStop}) }

func (e *Engine) SetVolume(v float64) error {
	return e.submitSync(command{kind: cmdSetVolume, volume: v})
}

func (e *Engine) Seek(seconds float64) error {
	return e.submitSync(command{kind: cmdSeek, seekSeconds: seconds})
}

func (e *Engine) ReinitDevice(deviceName string) error {
	return e.submitSync(command{kind: cmdReinitDevice, deviceName: deviceName})
}

func (e *Engine) Close() error {
	e.closed.Do(func() {
		close(e.closeCh)
	})
	return nil
}

// run is the single-consumer command loop of §4.E: it adaptively
// polls with a timeout while a track is playing or paused, and
// otherwise blocks on the command channel.
func (e *Engine) run() {
	for {
		timeoutCh := e.pollChannel()

		select {
		case cmd, ok := <-e.commands:
			if !ok {
				return
			}
			err := e.handle(cmd)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case <-timeoutCh:
			e.tick()
		case <-e.trackEndChannel():
			e.onTrackEnd()
		case <-e.closeCh:
			e.handle(command{kind: cmdStop})
			return
		}
	}
}

// pollChannel returns the adaptive polling timer per spec §4.E: ~100ms
// while playing, ~250ms while paused with a track loaded, and nil
// (blocking receive) otherwise.
func (e *Engine) pollChannel() <-chan time.Time {
	switch {
	case e.playing && !e.paused:
		return time.After(pollWhilePlaying)
	case e.paused:
		return time.After(pollWhilePaused)
	default:
		return nil
	}
}

func (e *Engine) trackEndChannel() <-chan struct{} {
	if e.playing && !e.paused {
		return e.trackEnd
	}
	return nil
}

// tick runs on every adaptive-poll timeout: it refreshes the
// atomically-published telemetry so readers on other goroutines see a
// smooth, jitter-free position even between engine wakeups.
func (e *Engine) tick() {
	if e.playing && !e.paused {
		e.publishPosition(e.currentPosition())
	}
}

func (e *Engine) currentPosition() time.Duration {
	pos := e.positionAtGo
	if !e.playStartWall.IsZero() {
		pos += time.Since(e.playStartWall)
	}
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}
	return pos
}

func (e *Engine) publishPosition(pos time.Duration) {
	atomic.StoreInt64(&e.positionMillis, pos.Milliseconds())
	e.callbackMu.Lock()
	cb := e.onPosition
	e.callbackMu.Unlock()
	if cb != nil {
		fyne.Do(func() { cb(pos) })
	}
	e.events.Publish(events.PlaybackState, State{
		Playing:     e.playing,
		Paused:      e.paused,
		Position:    pos,
		Duration:    e.duration,
		Fingerprint: e.fingerprint,
	})
}

// onTrackEnd implements end-of-track detection: the engine reports
// empty (the speaker callback fired), so is_playing clears and
// position clamps to duration.
func (e *Engine) onTrackEnd() {
	if e.debug {
		log.Printf("[ENGINE] track ended")
	}
	e.playing = false
	e.paused = false
	atomic.StoreInt32(&e.playingFlag, 0)
	e.publishPosition(e.duration)

	if e.streamer != nil {
		_ = e.streamer.Close()
		e.streamer = nil
	}

	e.callbackMu.Lock()
	cb := e.onFinished
	e.callbackMu.Unlock()
	if cb != nil {
		fyne.Do(cb)
	}
}

func (e *Engine) handle(cmd command) error {
	switch cmd.kind {
	case cmdPlay:
		return e.handlePlay(cmd)
	case cmdPlayStreaming:
		return e.handlePlayStreaming(cmd)
	case cmdPause:
		return e.handlePause()
	case cmdResume:
		return e.handleResume()
	case cmdStop:
		return e.handleStop()
	case cmdSetVolume:
		return e.handleSetVolume(cmd.volume)
	case cmdSeek:
		return e.handleSeek(cmd.seekSeconds)
	case cmdReinitDevice:
		return e.handleReinitDevice(cmd.deviceName)
	case cmdSetBackend:
		e.backend = cmd.backend
		return nil
	default:
		return nil
	}
}

func (e *Engine) handlePlay(cmd command) error {
	e.teardownLocked()

	devState, err := e.dev.EnsureStream(cmd.sampleRate, cmd.channels, e.backend, "")
	if err != nil {
		return perr.New(perr.KindDeviceCreationFailed, "engine.Play", err)
	}

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(cmd.data)))
	if err != nil {
		return perr.New(perr.KindDecodeError, "engine.Play", err)
	}
	adapter := decoder.NewFromBytes(streamer, format)

	e.armPipeline(adapter, cmd, devState.SampleRate)
	e.fullBytes = cmd.data
	e.activeSource = nil
	return nil
}

func (e *Engine) handlePlayStreaming(cmd command) error {
	e.teardownLocked()

	devState, err := e.dev.EnsureStream(cmd.sampleRate, cmd.channels, e.backend, "")
	if err != nil {
		return perr.New(perr.KindDeviceCreationFailed, "engine.PlayStreaming", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()
	adapter, err := decoder.New(ctx, cmd.source, cmd.sampleRate, cmd.channels, e.debug)
	if err != nil {
		return err
	}

	e.armPipeline(adapter, cmd, devState.SampleRate)
	e.fullBytes = nil
	e.activeSource = cmd.source
	return nil
}

// armPipeline builds the beep.Ctrl/Volume pipeline and hands it to the
// speaker, mirroring the teacher's loadAndPlay construction.
// deviceRate is the rate the output stream actually opened (or stayed
// open) at, per device.EnsureStream's §4.D reuse policy — in shared
// (speaker) mode this can differ from the track's own sample rate, and
// beep.Resample here is what absorbs that difference.
func (e *Engine) armPipeline(adapter *decoder.Adapter, cmd command, deviceRate int) {
	var source beep.Streamer = adapter.Streamer
	target := beep.SampleRate(deviceRate)
	if adapter.Format.SampleRate != target && target > 0 {
		source = beep.Resample(4, adapter.Format.SampleRate, target, adapter.Streamer)
	}

	e.ctrl = &beep.Ctrl{Streamer: source, Paused: false}
	e.volume = &effects.Volume{Streamer: e.ctrl, Base: 2}
	e.streamer = adapter.Streamer

	trackEnd := make(chan struct{})
	e.trackEnd = trackEnd
	seq := beep.Seq(e.volume, beep.Callback(func() { close(trackEnd) }))

	speaker.Clear()
	speaker.Play(seq)

	e.playing = true
	e.paused = false
	atomic.StoreInt32(&e.playingFlag, 1)
	e.duration = cmd.duration
	e.positionAtGo = 0
	e.playStartWall = time.Now()
	e.fingerprint = cmd.fingerprint
	e.sampleRate = deviceRate
	e.channels = cmd.channels
	e.publishPosition(0)

	if e.debug {
		log.Printf("[ENGINE] playing fp=%d rate=%d ch=%d duration=%v", cmd.fingerprint, cmd.sampleRate, cmd.channels, cmd.duration)
	}
}

func (e *Engine) handlePause() error {
	if e.ctrl == nil || !e.playing || e.paused {
		return nil
	}
	e.positionAtGo = e.currentPosition()
	e.playStartWall = time.Time{}

	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	e.paused = true
	e.publishPosition(e.positionAtGo)
	e.dev.PauseSuspend()
	return nil
}

func (e *Engine) handleResume() error {
	if e.ctrl == nil || !e.playing || !e.paused {
		return nil
	}
	e.dev.CancelPauseSuspend()

	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	e.paused = false
	e.playStartWall = time.Now()
	return nil
}

func (e *Engine) handleStop() error {
	e.teardownLocked()
	return nil
}

func (e *Engine) teardownLocked() {
	if e.playing || e.paused {
		speaker.Clear()
	}
	if e.streamer != nil {
		_ = e.streamer.Close()
		e.streamer = nil
	}
	e.ctrl = nil
	e.volume = nil
	e.trackEnd = nil
	e.fullBytes = nil
	e.activeSource = nil
	e.playing = false
	e.paused = false
	e.duration = 0
	e.positionAtGo = 0
	e.playStartWall = time.Time{}
	atomic.StoreInt32(&e.playingFlag, 0)
	e.publishPosition(0)
}

func (e *Engine) handleSetVolume(level float64) error {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	if e.volume == nil {
		return nil
	}
	speaker.Lock()
	if level == 0 {
		e.volume.Silent = true
	} else {
		e.volume.Silent = false
		e.volume.Volume = (level - 1) * 5
	}
	speaker.Unlock()
	return nil
}

// handleSeek implements §4.E's re-decode-from-start seek: the decoder
// is not assumed to support random access mid-stream, so a seek
// rebuilds the decode pipeline from the full track bytes (available
// once cached/local, or once a streaming source has finished) and
// splices the new streamer into the live pipeline. Seeking during
// active, incomplete streaming is rejected outright.
func (e *Engine) handleSeek(seconds float64) error {
	if e.ctrl == nil {
		return perr.New(perr.KindStreamIncomplete, "engine.Seek", fmt.Errorf("no active playback"))
	}

	target := time.Duration(seconds * float64(time.Second))
	if target < 0 {
		target = 0
	}
	if e.duration > 0 && target > e.duration {
		target = e.duration
	}

	var raw io.ReadCloser
	switch {
	case e.fullBytes != nil:
		raw = io.NopCloser(bytes.NewReader(e.fullBytes))
	case e.activeSource != nil && e.activeSource.IsComplete():
		raw = e.activeSource.NewSegmentFrom(0)
	case e.activeSource != nil:
		return perr.New(perr.KindStreamIncomplete, "engine.Seek", fmt.Errorf("source lacks bytes while streaming"))
	default:
		return perr.New(perr.KindStreamIncomplete, "engine.Seek", fmt.Errorf("no seekable source"))
	}

	newStreamer, newFormat, err := mp3.Decode(raw)
	if err != nil {
		return perr.New(perr.KindDecodeError, "engine.Seek", err)
	}

	targetSample := newFormat.SampleRate.N(target)
	if l := newStreamer.Len(); l > 0 && targetSample >= l {
		targetSample = l - 1
	}
	if targetSample < 0 {
		targetSample = 0
	}
	if err := newStreamer.Seek(targetSample); err != nil {
		_ = newStreamer.Close()
		return perr.New(perr.KindDecodeError, "engine.Seek", err)
	}

	var source beep.Streamer = newStreamer
	targetRate := beep.SampleRate(e.sampleRate)
	if newFormat.SampleRate != targetRate && targetRate > 0 {
		source = beep.Resample(4, newFormat.SampleRate, targetRate, newStreamer)
	}

	wasPaused := e.paused
	speaker.Lock()
	if e.streamer != nil {
		_ = e.streamer.Close()
	}
	e.streamer = newStreamer
	e.ctrl.Streamer = source
	e.ctrl.Paused = wasPaused
	speaker.Unlock()

	e.positionAtGo = target
	if wasPaused {
		e.playStartWall = time.Time{}
	} else {
		e.playStartWall = time.Now()
	}
	e.publishPosition(target)

	if e.debug {
		log.Printf("[ENGINE] seek to %v (sample=%d)", target, targetSample)
	}
	return nil
}

func (e *Engine) handleReinitDevice(deviceName string) error {
	_, err := e.dev.ReinitDevice(deviceName)
	if err != nil {
		return perr.New(perr.KindDeviceCreationFailed, "engine.ReinitDevice", err)
	}
	// Per spec §4.D: ReinitDevice does not auto-resume playback.
	return nil
}
