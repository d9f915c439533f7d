package radio

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vorce/amp/internal/config"
	"github.com/vorce/amp/internal/storage"
)

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Storage.CacheDir = filepath.Join(dir, "cache")
	cfg.Storage.EnableWAL = false

	db, err := storage.NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedPool inserts n tracks spread evenly across the given artists at
// distance 0, used by tests that don't need a real PoolFiller.
func seedPool(t *testing.T, db *storage.Database, sessionID string, artists []string, perArtist int) {
	t.Helper()
	ctx := context.Background()
	for ai, artist := range artists {
		for i := 0; i < perArtist; i++ {
			trackID := artist + "-track-" + string(rune('0'+i))
			require.NoError(t, db.InsertPoolTrack(ctx, sessionID, trackID, artist, "seed", 0))
			_ = ai
		}
	}
}

func noopFill(context.Context, *storage.RadioSession) error { return nil }

func TestRadioNoRepeat(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := New(db, noopFill, false)

	session, err := e.Create(ctx, storage.RadioSeedArtist, "artist-x", "", 42, 1, 1000)
	require.NoError(t, err)
	seedPool(t, db, session.ID, []string{"A", "B", "C"}, 4)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		sel, err := e.Select(ctx, session.ID)
		require.NoError(t, err)
		require.False(t, seen[sel.Track.TrackID], "track %s selected twice", sel.Track.TrackID)
		seen[sel.Track.TrackID] = true
	}
}

func TestRadioArtistSpacing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := New(db, noopFill, false)

	session, err := e.Create(ctx, storage.RadioSeedArtist, "artist-x", "", 7, 2, 1000)
	require.NoError(t, err)
	seedPool(t, db, session.ID, []string{"X", "Y", "Z"}, 4)

	var history []storage.RadioTrackRef
	for i := 0; i < 9; i++ {
		sel, err := e.Select(ctx, session.ID)
		require.NoError(t, err)
		history = append(history, sel.Track)
	}

	for i := 2; i < len(history); i++ {
		if history[i].ArtistID == history[i-1].ArtistID || history[i].ArtistID == history[i-2].ArtistID {
			t.Fatalf("artist spacing violated at index %d: %+v", i, history)
		}
	}
}

func TestRadioDeterminism(t *testing.T) {
	ctx := context.Background()

	run := func() []string {
		db := newTestDB(t)
		e := New(db, noopFill, false)
		session, err := e.Create(ctx, storage.RadioSeedArtist, "artist-x", "", 99, 1, 1000)
		require.NoError(t, err)
		seedPool(t, db, session.ID, []string{"A", "B", "C"}, 4)

		var ids []string
		for i := 0; i < 8; i++ {
			sel, err := e.Select(ctx, session.ID)
			require.NoError(t, err)
			ids = append(ids, sel.Track.TrackID)
		}
		return ids
	}

	first := run()
	second := run()
	require.Equal(t, first, second, "identical seed/pool must yield identical selection sequences")
}

// TestRadioFirstSelectionNotFlaggedRelaxed covers S5: relaxed must
// only be surfaced when an artist-spacing constraint was actually in
// force and had to be given up on. The very first selection of a
// session has no history yet, so there's nothing to relax.
func TestRadioFirstSelectionNotFlaggedRelaxed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := New(db, noopFill, false)

	session, err := e.Create(ctx, storage.RadioSeedArtist, "artist-x", "", 5, 3, 1000)
	require.NoError(t, err)
	seedPool(t, db, session.ID, []string{"A", "B"}, 4)

	sel, err := e.Select(ctx, session.ID)
	require.NoError(t, err)
	require.False(t, sel.Relaxed, "first pick has no history to relax against")
}

func TestRadioExhaustionReturnsSentinel(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := New(db, noopFill, false)

	session, err := e.Create(ctx, storage.RadioSeedArtist, "artist-x", "", 1, 1, 1000)
	require.NoError(t, err)
	seedPool(t, db, session.ID, []string{"A"}, 2)

	_, err = e.Select(ctx, session.ID)
	require.NoError(t, err)
	_, err = e.Select(ctx, session.ID)
	require.NoError(t, err)

	_, err = e.Select(ctx, session.ID)
	require.ErrorIs(t, err, ErrExhausted)
}
