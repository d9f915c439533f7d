package api

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/vorce/amp/pkg/types"
)

// Quality is the preferred-quality hint passed to Resolve. The catalog
// backing this client exposes a single encoded file per song, so
// fallback never needs to walk a ladder of bitrates; it exists so the
// core's §6 resolve(fp, preferred_quality) call site stays quality-aware
// even against a collaborator that doesn't vary encodes.
type Quality string

const (
	QualityHigh Quality = "high"
	QualityLow  Quality = "low"
)

// ResolvedStream is the §6 resolve(fp, preferred_quality) result:
// everything the engine needs to start decoding without a second round
// trip to the catalog.
type ResolvedStream struct {
	URL        string
	SampleRate int
	BitDepth   int
	Channels   int
	Duration   time.Duration
}

// Fingerprint derives the opaque §3 track identifier from a catalog
// slug. The remote catalog has no native fingerprint field, so the
// client computes a stable one the same way the radio engine derives
// its seeded index: an FNV-1a hash, here over the slug bytes.
func Fingerprint(slug string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(slug))
	return h.Sum64()
}

// slugIndex lets Resolve go from fingerprint back to slug for songs
// this client has already seen via GetSong/GetSongs/SearchAll. A
// fingerprint that was never observed through one of those calls
// cannot be resolved; the orchestrator is expected to have fetched
// metadata before requesting a stream.
type slugIndex struct {
	mu sync.RWMutex
	m  map[uint64]string
}

func newSlugIndex() *slugIndex {
	return &slugIndex{m: make(map[uint64]string)}
}

func (s *slugIndex) remember(slug string) uint64 {
	fp := Fingerprint(slug)
	s.mu.Lock()
	s.m[fp] = slug
	s.mu.Unlock()
	return fp
}

func (s *slugIndex) lookup(fp uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slug, ok := s.m[fp]
	return slug, ok
}

// rememberSong indexes every song a response surfaces so later
// Resolve(fp, ...) calls can find it.
func (c *Client) rememberSong(s *types.Song) {
	if s == nil || s.Slug == "" {
		return
	}
	c.slugs.remember(s.Slug)
}

func (c *Client) rememberSongs(songs []*types.Song) {
	for _, s := range songs {
		c.rememberSong(s)
	}
}

// Resolve implements the §6 remote-catalog collaborator contract:
// resolve(fp, preferred_quality) -> (url, sample_rate, bit_depth,
// channels, duration). preferred_quality is honored on a best-effort
// basis; this catalog serves one encode per song, so QualityLow simply
// resolves to the same file as QualityHigh.
func (c *Client) Resolve(ctx context.Context, fp uint64, preferred Quality) (*ResolvedStream, error) {
	slug, ok := c.slugs.lookup(fp)
	if !ok {
		return nil, fmt.Errorf("resolve fp=%d: unknown fingerprint, fetch metadata first", fp)
	}

	song, err := c.GetSong(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("resolve fp=%d: %w", fp, err)
	}

	return &ResolvedStream{
		URL:        song.Link,
		SampleRate: c.cfg.Audio.SampleRate,
		BitDepth:   c.cfg.Audio.BitDepth,
		Channels:   2,
		Duration:   time.Duration(song.Length) * time.Second,
	}, nil
}
