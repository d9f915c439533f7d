package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/vorce/amp/internal/api"
	"github.com/vorce/amp/internal/playback/streamsource"
)

// fetchTimeout bounds a single streaming fetch, per spec §5's "total
// timeout (tens of seconds for full download)".
const fetchTimeout = 60 * time.Second

// Play implements the §2 data-flow for starting a track: resolve the
// fingerprint against the remote catalog, probe the cache L1->L2, and
// on a miss open a streaming fetch that hands bytes to the engine as
// they arrive while simultaneously filling the cache for next time.
func (c *Core) Play(ctx context.Context, fp uint64, quality api.Quality) error {
	resolved, err := c.API.Resolve(ctx, fp, quality)
	if err != nil {
		return fmt.Errorf("resolve fp=%d: %w", fp, err)
	}

	if data, ok := c.Cache.Get(fp); ok {
		return c.Engine.Play(data, fp, resolved.SampleRate, resolved.Channels, resolved.Duration)
	}
	data, ok, err := c.Cache.GetFromDisk(ctx, fp)
	if err != nil {
		return fmt.Errorf("probe L2 cache for fp=%d: %w", fp, err)
	}
	if ok {
		return c.Engine.Play(data, fp, resolved.SampleRate, resolved.Channels, resolved.Duration)
	}

	return c.playStreaming(ctx, fp, resolved)
}

// playStreaming implements data-flow step 3's progressive-play branch:
// a streaming source is created, the fetcher writes into it on its own
// goroutine, and the engine is handed the source immediately rather
// than waiting for the fetch to complete. Once the fetch finishes, the
// fully-received bytes are inserted into the cache for the next play.
func (c *Core) playStreaming(ctx context.Context, fp uint64, resolved *api.ResolvedStream) error {
	if !c.Cache.MarkFetching(fp) {
		return c.waitForInFlightFetch(ctx, fp, resolved)
	}

	streamCfg := streamsource.Config{
		MinStartBytes:     c.Config.Audio.Cache.MinStartBytes,
		MaxPrebufferBytes: c.Config.Audio.Cache.MaxPrebufferBytes,
	}
	src := streamsource.New(streamCfg, c.Config.Debug)

	fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	go func() {
		defer cancel()
		defer c.Cache.UnmarkFetching(fp)

		if err := c.Fetcher.FetchStreaming(fetchCtx, resolved.URL, src, ctx.Done()); err != nil {
			log.Printf("[PLAY] streaming fetch failed fp=%d: %v", fp, err)
			return
		}
		c.cacheCompletedStream(fp, src)
	}()

	return c.Engine.PlayStreaming(src, fp, resolved.SampleRate, resolved.Channels, resolved.Duration)
}

// waitForInFlightFetch handles the case where another caller is
// already fetching this fingerprint: per §4.C, at most one concurrent
// fetch per fingerprint, so this caller waits for L1 to be populated
// rather than starting a second fetch of the same track.
func (c *Core) waitForInFlightFetch(ctx context.Context, fp uint64, resolved *api.ResolvedStream) error {
	for {
		if data, ok := c.Cache.Get(fp); ok {
			return c.Engine.Play(data, fp, resolved.SampleRate, resolved.Channels, resolved.Duration)
		}
		if !c.Cache.IsFetching(fp) {
			return fmt.Errorf("play fp=%d: in-flight fetch ended without caching a result", fp)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// cacheCompletedStream reads the now-fully-received bytes back out of
// a finished streaming source and inserts them into L1, so a repeat
// play of the same fingerprint hits the cache instead of re-fetching.
func (c *Core) cacheCompletedStream(fp uint64, src *streamsource.Source) {
	data, err := io.ReadAll(src.NewSegmentFrom(0))
	if err != nil {
		log.Printf("[PLAY] read completed stream for caching fp=%d: %v", fp, err)
		return
	}
	c.Cache.Insert(fp, data)
}
