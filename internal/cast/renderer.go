// Package cast defines the boundary to DLNA/Chromecast output
// renderers. Per spec §1/§6 these are external collaborators: the
// core only needs an interface it can route audio telemetry to, not a
// SOAP or mDNS implementation.
package cast

import (
	"context"
	"errors"
)

// ErrNoRenderers is returned by Discover when no renderer
// implementation is wired in; the no-op discoverer always returns it.
var ErrNoRenderers = errors.New("cast: no renderer discovery configured")

// Renderer is a playback target reachable over the network, exposing
// just enough surface for the core to hand off an already-decoded
// stream URL and react to remote state changes. The wire protocol
// (DLNA SOAP, Chromecast's CASTV2) is entirely the implementation's
// concern.
type Renderer interface {
	Name() string
	Load(ctx context.Context, streamURL string, sampleRate, channels int) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SetVolume(ctx context.Context, level float64) error
}

// Discoverer finds renderers reachable on the local network.
type Discoverer interface {
	Discover(ctx context.Context) ([]Renderer, error)
}

// NoopDiscoverer implements Discoverer with no network activity,
// satisfying the collaborator boundary until a real DLNA/Chromecast
// backend is wired in.
type NoopDiscoverer struct{}

func (NoopDiscoverer) Discover(ctx context.Context) ([]Renderer, error) {
	return nil, ErrNoRenderers
}
