package storage

// createPlaybackTables adds the L2 audio cache index and the radio
// engine's persistent session/pool/history tables, per §3 and §4.C/G.
const createPlaybackTables = `
CREATE TABLE IF NOT EXISTS cache_index (
	fingerprint INTEGER PRIMARY KEY,
	file_path TEXT NOT NULL,
	size INTEGER NOT NULL,
	last_access_ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS radio_session (
	id TEXT PRIMARY KEY,
	seed_kind TEXT NOT NULL,
	seed_artist_id TEXT,
	seed_track_id TEXT,
	rng_seed INTEGER NOT NULL,
	selection_count INTEGER NOT NULL DEFAULT 0,
	artist_spacing INTEGER NOT NULL,
	reseed_every INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS radio_pool (
	session_id TEXT NOT NULL,
	track_id TEXT NOT NULL,
	artist_id TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	distance INTEGER NOT NULL,
	used BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (session_id, track_id),
	FOREIGN KEY (session_id) REFERENCES radio_session(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS radio_history (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	track_id TEXT NOT NULL,
	artist_id TEXT NOT NULL,
	played_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, seq),
	FOREIGN KEY (session_id) REFERENCES radio_session(id) ON DELETE CASCADE
);
`

const createPlaybackIndexes = `
CREATE INDEX IF NOT EXISTS idx_cache_index_last_access ON cache_index(last_access_ts);

CREATE INDEX IF NOT EXISTS idx_radio_pool_session_used ON radio_pool(session_id, used);
CREATE INDEX IF NOT EXISTS idx_radio_pool_artist ON radio_pool(session_id, artist_id);

CREATE INDEX IF NOT EXISTS idx_radio_history_session_seq ON radio_history(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_radio_history_artist ON radio_history(session_id, artist_id);
`
