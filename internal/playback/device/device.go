// Package device owns the output-device lifecycle of §4.D: deciding
// when an active audio backend can be reused versus must be torn down
// and recreated, absorbing transient failures up to a threshold before
// forcing a reinit, and suspending the hardware stream during an
// extended pause.
package device

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/gordonklaus/portaudio"
)

// Stabilization delays mirror original_source/src-tauri/src/player/mod.rs:
// a freshly created stream is given time to settle before playback
// commands are issued against it, and a dropped stream is given time
// to fully release the hardware before a new one claims it.
const (
	postCreateStabilizeDelay = 150 * time.Millisecond
	postDropStabilizeDelay   = 100 * time.Millisecond

	// maxConsecutiveFailures is the number of write/underrun failures
	// tolerated before the device forces a reinit rather than retrying
	// in place.
	maxConsecutiveFailures = 3

	// pauseSuspendDelay is how long a paused stream is left warm before
	// the backend is torn down to free exclusive-mode hardware (DACs
	// doing bit-perfect passthrough in particular).
	pauseSuspendDelay = 2 * time.Second

	defaultSampleRate = 48000
)

// Backend selects how the device opens hardware output.
type Backend int

const (
	// BackendSpeaker is the default, shared-mode output via
	// gopxl/beep/speaker (wraps the platform mixer).
	BackendSpeaker Backend = iota
	// BackendBitPerfect opens the device directly via portaudio,
	// bypassing OS resampling/mixing so the requested sample rate
	// reaches the DAC unmodified.
	BackendBitPerfect
)

// Info describes an enumerated output device, from the §6 capability
// probe surface.
type Info struct {
	Name          string
	MaxChannels   int
	DefaultRateHz float64
	IsDefault     bool
}

// State is the device's current claim on hardware, or the zero value
// if nothing is open.
type State struct {
	SampleRate int
	Channels   int
	DeviceName string
	Backend    Backend
}

// Device tracks the currently open backend and implements the
// reuse-vs-recreate policy: EnsureStream keeps the open stream when
// canReuseLocked accepts it (an unchanged (sampleRate, channels,
// backend, deviceName) tuple, or a sample-rate-only change in speaker
// mode) and performs a full drop+create cycle otherwise.
type Device struct {
	mu sync.Mutex

	current             State
	open                bool
	consecutiveFailures int

	paStream *portaudio.Stream

	pauseTimer *time.Timer

	debug bool
}

func New(debug bool) *Device {
	return &Device{debug: debug}
}

// Init brings up the portaudio host API so device enumeration and the
// bit-perfect backend are available. Must be paired with Terminate.
func Init() error {
	return portaudio.Initialize()
}

func Terminate() error {
	return portaudio.Terminate()
}

// ListDevices implements the §6 capability probe.
func ListDevices() ([]Info, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate audio devices: %w", err)
	}

	defaultOut, _ := portaudio.DefaultOutputDevice()

	infos := make([]Info, 0, len(devices))
	for _, d := range devices {
		if d.MaxOutputChannels <= 0 {
			continue
		}
		infos = append(infos, Info{
			Name:          d.Name,
			MaxChannels:   d.MaxOutputChannels,
			DefaultRateHz: d.DefaultSampleRate,
			IsDefault:     defaultOut != nil && defaultOut.Name == d.Name,
		})
	}
	return infos, nil
}

func beepSampleRate(hz int) beep.SampleRate {
	return beep.SampleRate(hz)
}

// EnsureStream implements §4.D's reuse/recreate decision table: if
// canReuseLocked accepts the currently open stream for the requested
// format and backend, this is a no-op that returns the open stream's
// state (in speaker mode its sample rate can differ from the requested
// one). Otherwise the old stream (if any) is dropped, the
// post-drop stabilization delay is observed, a new stream is created,
// and the post-create stabilization delay is observed before
// returning. The caller is expected to hold off issuing playback
// commands against the returned state until EnsureStream returns.
func (d *Device) EnsureStream(sampleRate, channels int, backend Backend, deviceName string) (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
		d.pauseTimer = nil
	}

	wanted := State{SampleRate: sampleRate, Channels: channels, Backend: backend, DeviceName: deviceName}
	if d.open && d.canReuseLocked(wanted) {
		return d.current, nil
	}

	if d.open {
		d.dropLocked()
		time.Sleep(postDropStabilizeDelay)
	}

	if err := d.createLocked(wanted); err != nil {
		return State{}, err
	}

	time.Sleep(postCreateStabilizeDelay)
	if d.debug {
		log.Printf("[DEVICE] stream ready at %dHz/%dch backend=%d device=%q", d.current.SampleRate, channels, backend, deviceName)
	}
	return d.current, nil
}

// canReuseLocked implements the §4.D decision table: in shared (speaker)
// mode the device stays open across a sample-rate change, since
// engine.armPipeline's beep.Resample stage absorbs the difference
// against whatever rate the hardware stream actually opened at;
// bit-perfect mode claims hardware at an exact rate, so any rate
// change there forces a drop+recreate, as does a channel, backend, or
// device-name change under either backend. Must be called with d.mu
// held.
func (d *Device) canReuseLocked(wanted State) bool {
	if wanted.Backend != d.current.Backend {
		return false
	}
	if wanted.Backend == BackendBitPerfect {
		return d.current == wanted
	}
	return d.current.Channels == wanted.Channels && d.current.DeviceName == wanted.DeviceName
}

func (d *Device) createLocked(s State) error {
	switch s.Backend {
	case BackendBitPerfect:
		if err := d.createBitPerfectLocked(s); err != nil {
			return err
		}
	default:
		sr := beepSampleRate(s.SampleRate)
		buf := sr.N(200 * time.Millisecond)
		if err := speaker.Init(sr, buf); err != nil {
			return fmt.Errorf("init speaker backend: %w", err)
		}
	}
	d.current = s
	d.open = true
	d.consecutiveFailures = 0
	return nil
}

func (d *Device) createBitPerfectLocked(s State) error {
	params := portaudio.HighLatencyParameters(nil, nil)
	if s.DeviceName != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return fmt.Errorf("enumerate devices for bit-perfect open: %w", err)
		}
		for _, dev := range devices {
			if dev.Name == s.DeviceName && dev.MaxOutputChannels > 0 {
				params = portaudio.HighLatencyParameters(nil, dev)
				break
			}
		}
	}
	params.Output.Channels = s.Channels
	params.SampleRate = float64(s.SampleRate)

	stream, err := portaudio.OpenStream(params, func([][]float32) {})
	if err != nil {
		return fmt.Errorf("open bit-perfect stream at %dHz/%dch: %w", s.SampleRate, s.Channels, err)
	}
	if err := stream.Start(); err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			log.Printf("[DEVICE] failed to close stream after start failure: %v", closeErr)
		}
		return fmt.Errorf("start bit-perfect stream: %w", err)
	}
	d.paStream = stream
	return nil
}

// dropLocked tears down whatever backend is currently open.
func (d *Device) dropLocked() {
	switch d.current.Backend {
	case BackendBitPerfect:
		if d.paStream != nil {
			if err := d.paStream.Stop(); err != nil && d.debug {
				log.Printf("[DEVICE] stop bit-perfect stream: %v", err)
			}
			if err := d.paStream.Close(); err != nil && d.debug {
				log.Printf("[DEVICE] close bit-perfect stream: %v", err)
			}
			d.paStream = nil
		}
	default:
		speaker.Clear()
	}
	d.open = false
}

// RecordFailure tallies a playback write/underrun failure against the
// current stream. Once maxConsecutiveFailures is reached it forces a
// reinit at the last known-good format and reports that a reinit
// happened so the caller can re-arm playback against the fresh stream.
func (d *Device) RecordFailure() (reinited bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.consecutiveFailures++
	if d.debug {
		log.Printf("[DEVICE] consecutive failures=%d", d.consecutiveFailures)
	}
	if d.consecutiveFailures < maxConsecutiveFailures {
		return false, nil
	}

	last := d.current
	if last.SampleRate == 0 {
		last.SampleRate = defaultSampleRate
	}
	if last.Channels == 0 {
		last.Channels = 2
	}

	d.dropLocked()
	time.Sleep(postDropStabilizeDelay)
	if err := d.createLocked(last); err != nil {
		return false, fmt.Errorf("reinit device after %d failures: %w", maxConsecutiveFailures, err)
	}
	time.Sleep(postCreateStabilizeDelay)
	return true, nil
}

func (d *Device) RecordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFailures = 0
}

// ReinitDevice is the explicit inbound command (§6): drop whatever is
// open and recreate it, optionally switching device name, at the
// currently negotiated format.
func (d *Device) ReinitDevice(deviceName string) (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
		d.pauseTimer = nil
	}

	sampleRate := d.current.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	channels := d.current.Channels
	if channels == 0 {
		channels = 2
	}
	backend := d.current.Backend

	if d.open {
		d.dropLocked()
		time.Sleep(postDropStabilizeDelay)
	}

	wanted := State{SampleRate: sampleRate, Channels: channels, Backend: backend, DeviceName: deviceName}
	if err := d.createLocked(wanted); err != nil {
		return State{}, err
	}
	time.Sleep(postCreateStabilizeDelay)
	return d.current, nil
}

// PauseSuspend arms a timer that tears down the hardware stream if
// playback has not resumed within pauseSuspendDelay, freeing exclusive
// hardware claims during a long pause. Calling Resume (or any
// EnsureStream/ReinitDevice call) before the timer fires cancels it.
func (d *Device) PauseSuspend() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
	}
	d.pauseTimer = time.AfterFunc(pauseSuspendDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.open {
			if d.debug {
				log.Printf("[DEVICE] suspending idle stream after %s pause", pauseSuspendDelay)
			}
			d.dropLocked()
		}
	})
}

// CancelPauseSuspend disarms a pending suspend, called on Resume.
func (d *Device) CancelPauseSuspend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
		d.pauseTimer = nil
	}
}

func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Device) CurrentState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
	}
	if d.open {
		d.dropLocked()
	}
	return nil
}
