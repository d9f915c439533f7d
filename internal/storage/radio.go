package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// RadioSeedKind distinguishes an artist seed from a track seed, per
// §4.G and original_source's RadioSeed enum.
type RadioSeedKind string

const (
	RadioSeedArtist RadioSeedKind = "artist"
	RadioSeedTrack  RadioSeedKind = "track"
)

// RadioSession mirrors radio_engine/db.rs's RadioSession, minus the
// Rust-side enum encoding (seed kind/artist/track are split columns
// here rather than packed into seed_type/seed_id strings).
type RadioSession struct {
	ID             string
	SeedKind       RadioSeedKind
	SeedArtistID   string
	SeedTrackID    string
	RngSeed        int64
	SelectionCount int64
	ArtistSpacing  int64
	ReseedEvery    int64
	CreatedAt      time.Time
}

// RadioTrackRef mirrors RadioTrackRef: a pool candidate with its
// discovery distance from the seed (0 = seed itself, 1 = direct
// collaborator/related, 2 = two hops out).
type RadioTrackRef struct {
	TrackID  string
	ArtistID string
	Source   string
	Distance int
}

func (d *Database) CreateRadioSession(ctx context.Context, kind RadioSeedKind, seedArtistID, seedTrackID string, rngSeed int64, artistSpacing, reseedEvery int64) (*RadioSession, error) {
	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	now := time.Now()
	id := fmt.Sprintf("radio_%d_%d", now.Unix(), rngSeed)

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO radio_session (id, seed_kind, seed_artist_id, seed_track_id, rng_seed, selection_count, artist_spacing, reseed_every, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, id, string(kind), seedArtistID, seedTrackID, rngSeed, artistSpacing, reseedEvery, now)
	if err != nil {
		return nil, fmt.Errorf("insert radio session: %w", err)
	}

	return &RadioSession{
		ID:            id,
		SeedKind:      kind,
		SeedArtistID:  seedArtistID,
		SeedTrackID:   seedTrackID,
		RngSeed:       rngSeed,
		ArtistSpacing: artistSpacing,
		ReseedEvery:   reseedEvery,
		CreatedAt:     now,
	}, nil
}

func (d *Database) LoadRadioSession(ctx context.Context, sessionID string) (*RadioSession, error) {
	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	s := &RadioSession{ID: sessionID}
	var kind string
	var seedArtistID, seedTrackID sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT seed_kind, seed_artist_id, seed_track_id, rng_seed, selection_count, artist_spacing, reseed_every, created_at
		FROM radio_session WHERE id = ?
	`, sessionID).Scan(&kind, &seedArtistID, &seedTrackID, &s.RngSeed, &s.SelectionCount, &s.ArtistSpacing, &s.ReseedEvery, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("radio session %s not found", sessionID)
		}
		return nil, fmt.Errorf("load radio session: %w", err)
	}
	s.SeedKind = RadioSeedKind(kind)
	s.SeedArtistID = seedArtistID.String
	s.SeedTrackID = seedTrackID.String
	return s, nil
}

// InsertPoolTrack implements the §4.G pool construction rule: a new
// track is recorded at its discovery distance, but if it's already
// present the row keeps whichever distance is smaller (a track found
// at distance 1 via one path and distance 2 via another keeps 1).
// Candidates more than two hops from the seed are dropped outright.
func (d *Database) InsertPoolTrack(ctx context.Context, sessionID, trackID, artistID, source string, distance int) error {
	if distance > 2 {
		return nil
	}
	if err := d.checkClosed(); err != nil {
		return err
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO radio_pool (session_id, track_id, artist_id, source, distance, used)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, sessionID, trackID, artistID, source, distance)
	if err != nil {
		return fmt.Errorf("insert radio pool track: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		UPDATE radio_pool SET distance = ?, source = ?
		WHERE session_id = ? AND track_id = ? AND distance > ?
	`, distance, source, sessionID, trackID, distance)
	if err != nil {
		return fmt.Errorf("tighten radio pool distance: %w", err)
	}
	return nil
}

func (d *Database) RadioPoolSize(ctx context.Context, sessionID string) (int, error) {
	return d.radioCount(ctx, "SELECT COUNT(*) FROM radio_pool WHERE session_id = ?", sessionID)
}

func (d *Database) RadioPoolUsedCount(ctx context.Context, sessionID string) (int, error) {
	return d.radioCount(ctx, "SELECT COUNT(*) FROM radio_pool WHERE session_id = ? AND used = TRUE", sessionID)
}

func (d *Database) RadioPoolUnusedCount(ctx context.Context, sessionID string) (int, error) {
	return d.radioCount(ctx, "SELECT COUNT(*) FROM radio_pool WHERE session_id = ? AND used = FALSE", sessionID)
}

func (d *Database) RadioHistoryLen(ctx context.Context, sessionID string) (int, error) {
	return d.radioCount(ctx, "SELECT COUNT(*) FROM radio_history WHERE session_id = ?", sessionID)
}

func (d *Database) radioCount(ctx context.Context, query, sessionID string) (int, error) {
	if err := d.checkClosed(); err != nil {
		return 0, err
	}
	var n int
	if err := d.db.QueryRowContext(ctx, query, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count radio rows: %w", err)
	}
	return n, nil
}

// RecentRadioArtistIDs returns the n most recently played artist ids
// for the session, newest first, used to enforce artist spacing.
func (d *Database) RecentRadioArtistIDs(ctx context.Context, sessionID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT artist_id FROM radio_history WHERE session_id = ? ORDER BY seq DESC LIMIT ?
	`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent radio artists: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	var artists []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan recent radio artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// UnusedRadioCandidates returns unplayed pool tracks, ordered by
// discovery distance then track id, optionally excluding a set of
// recently-played artist ids (the §4.G spacing constraint). Callers
// that exhaust this filtered list should retry with a shorter or
// empty exclusion set, per the original's relaxation fallback.
func (d *Database) UnusedRadioCandidates(ctx context.Context, sessionID string, excludeArtistIDs []string) ([]RadioTrackRef, error) {
	if err := d.checkClosed(); err != nil {
		return nil, err
	}

	query := `
		SELECT track_id, artist_id, source, distance
		FROM radio_pool
		WHERE session_id = ? AND used = FALSE AND distance <= 2
	`
	args := []interface{}{sessionID}

	if len(excludeArtistIDs) > 0 {
		placeholders := make([]string, len(excludeArtistIDs))
		for i, a := range excludeArtistIDs {
			placeholders[i] = "?"
			args = append(args, a)
		}
		query += " AND artist_id NOT IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY distance ASC, track_id ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query radio candidates: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	var candidates []RadioTrackRef
	for rows.Next() {
		var c RadioTrackRef
		if err := rows.Scan(&c.TrackID, &c.ArtistID, &c.Source, &c.Distance); err != nil {
			return nil, fmt.Errorf("scan radio candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// MarkRadioTrackPlayed is the atomic §4.G selection transaction: mark
// the pool row used, append a history entry at the next sequence
// number, and advance the session's selection_count — all three or
// none, matching original_source's mark_played.
func (d *Database) MarkRadioTrackPlayed(ctx context.Context, sessionID string, currentSelectionCount int64, track RadioTrackRef) error {
	if err := d.checkClosed(); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin radio transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			log.Printf("Failed to rollback radio transaction: %v", rollbackErr)
		}
	}()

	seq := currentSelectionCount + 1

	if _, err := tx.ExecContext(ctx, `
		UPDATE radio_pool SET used = TRUE WHERE session_id = ? AND track_id = ?
	`, sessionID, track.TrackID); err != nil {
		return fmt.Errorf("mark radio track used: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO radio_history (session_id, seq, track_id, artist_id, played_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, seq, track.TrackID, track.ArtistID, time.Now()); err != nil {
		return fmt.Errorf("insert radio history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE radio_session SET selection_count = ? WHERE id = ?
	`, seq, sessionID); err != nil {
		return fmt.Errorf("update radio session selection count: %w", err)
	}

	return tx.Commit()
}

func (d *Database) HasRadioTrackBeenPlayed(ctx context.Context, sessionID, trackID string) (bool, error) {
	if err := d.checkClosed(); err != nil {
		return false, err
	}
	var exists int
	err := d.db.QueryRowContext(ctx, `
		SELECT 1 FROM radio_history WHERE session_id = ? AND track_id = ? LIMIT 1
	`, sessionID, trackID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query radio history: %w", err)
	}
	return true, nil
}
