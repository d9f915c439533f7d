// Package radio implements the §4.G radio engine: a persistent,
// seed-deterministic selection algorithm layered over the
// internal/storage radio tables.
package radio

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/vorce/amp/internal/events"
	"github.com/vorce/amp/internal/storage"
)

// ErrExhausted is returned when the pool has no unused candidates and
// a reseed (driven by the caller, which owns catalog access) would be
// required to continue.
var ErrExhausted = errors.New("radio: pool exhausted")

// PoolFiller inserts fresh candidates into the pool for a session, at
// distances 0/1/2 from the seed. The radio engine itself has no
// catalog knowledge; the caller supplies this collaborator so create
// and reseed can discover new tracks.
type PoolFiller func(ctx context.Context, session *storage.RadioSession) error

// Selection is one chosen track, with a flag noting whether the
// artist-spacing constraint had to be relaxed to make the pick.
type Selection struct {
	Track    storage.RadioTrackRef
	Relaxed  bool
	Selected int64 // selection_count after this pick
}

// Engine drives selection for a single radio session against the
// storage layer. It holds no in-memory session state beyond the
// session id: selection_count and history live in SQLite so a radio
// can resume after a restart with an identical continuation.
type Engine struct {
	db     *storage.Database
	fill   PoolFiller
	events *events.Bus
	debug  bool
}

func New(db *storage.Database, fill PoolFiller, debug bool) *Engine {
	return &Engine{db: db, fill: fill, debug: debug}
}

// SetEvents wires an outbound event bus for radio:selected/exhausted
// notifications. Optional.
func (e *Engine) SetEvents(bus *events.Bus) {
	e.events = bus
}

// Create starts a new session and runs the initial pool fill.
func (e *Engine) Create(ctx context.Context, kind storage.RadioSeedKind, seedArtistID, seedTrackID string, rngSeed, artistSpacing, reseedEvery int64) (*storage.RadioSession, error) {
	session, err := e.db.CreateRadioSession(ctx, kind, seedArtistID, seedTrackID, rngSeed, artistSpacing, reseedEvery)
	if err != nil {
		return nil, fmt.Errorf("create radio session: %w", err)
	}
	if e.fill != nil {
		if err := e.fill(ctx, session); err != nil {
			return nil, fmt.Errorf("initial pool fill: %w", err)
		}
	}
	return session, nil
}

// Select runs one step of the §4.G selection algorithm: read recent
// artists, fetch unused candidates outside that window, relax the
// window if nothing qualifies, pick deterministically by seeded PRNG,
// and commit the atomic mark-used/history/selection-count transaction.
//
// Every reseedEvery selections a reseed runs before selection, adding
// candidates but never removing unused ones.
func (e *Engine) Select(ctx context.Context, sessionID string) (*Selection, error) {
	session, err := e.db.LoadRadioSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load radio session: %w", err)
	}

	if session.ReseedEvery > 0 && session.SelectionCount > 0 && session.SelectionCount%session.ReseedEvery == 0 {
		if e.fill != nil {
			if err := e.fill(ctx, session); err != nil {
				return nil, fmt.Errorf("reseed pool: %w", err)
			}
		}
	}

	candidates, relaxed, err := e.candidatesWithRelaxation(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		e.events.Publish(events.RadioExhausted, sessionID)
		return nil, ErrExhausted
	}

	idx := seededIndex(session.RngSeed, session.SelectionCount, len(candidates))
	chosen := candidates[idx]

	if err := e.db.MarkRadioTrackPlayed(ctx, sessionID, session.SelectionCount, chosen); err != nil {
		return nil, fmt.Errorf("mark radio track played: %w", err)
	}

	if e.debug {
		log.Printf("[RADIO] session=%s selected=%s artist=%s relaxed=%v", sessionID, chosen.TrackID, chosen.ArtistID, relaxed)
	}

	sel := &Selection{Track: chosen, Relaxed: relaxed, Selected: session.SelectionCount + 1}
	e.events.Publish(events.RadioSelected, sel)
	return sel, nil
}

// candidatesWithRelaxation implements steps 1-3 of the selection
// algorithm: start with the full artist_spacing exclusion window,
// halve it once if that yields nothing, then fall back to no
// exclusion at all.
func (e *Engine) candidatesWithRelaxation(ctx context.Context, session *storage.RadioSession) ([]storage.RadioTrackRef, bool, error) {
	spacing := session.ArtistSpacing
	constrained := false

	if spacing > 0 {
		recent, err := e.db.RecentRadioArtistIDs(ctx, session.ID, int(spacing))
		if err != nil {
			return nil, false, fmt.Errorf("recent radio artists: %w", err)
		}
		if len(recent) > 0 {
			constrained = true

			candidates, err := e.db.UnusedRadioCandidates(ctx, session.ID, recent)
			if err != nil {
				return nil, false, fmt.Errorf("unused radio candidates: %w", err)
			}
			if len(candidates) > 0 {
				return candidates, false, nil
			}

			halved := int(spacing) / 2
			if halved > 0 {
				recentHalf, err := e.db.RecentRadioArtistIDs(ctx, session.ID, halved)
				if err != nil {
					return nil, false, fmt.Errorf("recent radio artists (relaxed): %w", err)
				}
				candidates, err = e.db.UnusedRadioCandidates(ctx, session.ID, recentHalf)
				if err != nil {
					return nil, false, fmt.Errorf("unused radio candidates (relaxed): %w", err)
				}
				if len(candidates) > 0 {
					return candidates, true, nil
				}
			}
		}
	}

	// No artist-spacing constraint was ever in force (spacing disabled,
	// or too little history yet to have any recent artists to exclude),
	// so this unrestricted query isn't a relaxation — it's the ordinary
	// unconstrained pick. Only flag relaxed when a real constraint was
	// attempted and had to be given up on.
	candidates, err := e.db.UnusedRadioCandidates(ctx, session.ID, nil)
	if err != nil {
		return nil, false, fmt.Errorf("unused radio candidates (unrestricted): %w", err)
	}
	return candidates, constrained, nil
}

// seededIndex derives selection k's choice index from a hash of
// (rngSeed, k) modulo the candidate count, per the spec's determinism
// requirement: the PRNG state must be a pure function of the
// persistent seed and the monotonically growing selection count, not
// a global generator seeded once at session start, so that a resumed
// session reproduces the same sequence.
func seededIndex(rngSeed, selectionCount int64, candidateCount int) int {
	if candidateCount <= 0 {
		return 0
	}
	h := fnv.New64a()
	var buf [16]byte
	putInt64(buf[0:8], rngSeed)
	putInt64(buf[8:16], selectionCount)
	_, _ = h.Write(buf[:])
	return int(h.Sum64() % uint64(candidateCount))
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
