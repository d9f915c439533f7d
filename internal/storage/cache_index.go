package storage

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// audioCacheDir is the subdirectory of the configured cache dir used
// for L2 audio cache spillover, kept separate from the teacher's
// generic "songs"/image cache_entries table.
const audioCacheDir = "audio_l2"

func (d *Database) audioCachePath(fp uint64) string {
	name := fmt.Sprintf("%x", sha1.Sum([]byte(fmt.Sprintf("%d", fp))))
	return filepath.Join(d.cacheDir, audioCacheDir, name[:2], name)
}

// Get implements cache.DiskIndex: a content-addressed L2 read that
// also touches last_access_ts on hit.
func (d *Database) Get(ctx context.Context, fp uint64) ([]byte, bool, error) {
	if err := d.checkClosed(); err != nil {
		return nil, false, err
	}

	var path string
	var size int64
	err := d.db.QueryRowContext(ctx,
		"SELECT file_path, size FROM cache_index WHERE fingerprint = ?", int64(fp),
	).Scan(&path, &size)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query cache index: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Orphan index row: file missing. Reconcile lazily by deleting
		// the row and reporting a miss rather than a hard error.
		_, _ = d.db.ExecContext(ctx, "DELETE FROM cache_index WHERE fingerprint = ?", int64(fp))
		return nil, false, nil
	}

	if int64(len(data)) != size {
		return nil, false, fmt.Errorf("cache integrity error: fp=%d size mismatch (index=%d, file=%d)", fp, size, len(data))
	}

	_, _ = d.db.ExecContext(ctx, "UPDATE cache_index SET last_access_ts = ? WHERE fingerprint = ?", time.Now(), int64(fp))
	return data, true, nil
}

// Put implements cache.DiskIndex: writes bytes to a content-addressed
// path and records it in the index, replacing any prior entry.
func (d *Database) Put(ctx context.Context, fp uint64, data []byte) error {
	if err := d.checkClosed(); err != nil {
		return err
	}

	path := d.audioCachePath(fp)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create L2 cache dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write L2 cache file: %w", err)
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO cache_index (fingerprint, file_path, size, last_access_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET file_path=excluded.file_path, size=excluded.size, last_access_ts=excluded.last_access_ts
	`, int64(fp), path, len(data), time.Now())
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			log.Printf("Failed to remove orphaned L2 cache file: %v", removeErr)
		}
		return fmt.Errorf("save cache index entry: %w", err)
	}

	return nil
}

// Reconcile implements cache.DiskIndex's startup integrity pass:
// entries whose files are missing are removed from the index. Files
// whose fingerprints are absent from the index are best-effort swept
// by walking the audio_l2 directory.
func (d *Database) Reconcile(ctx context.Context) error {
	if err := d.checkClosed(); err != nil {
		return err
	}

	rows, err := d.db.QueryContext(ctx, "SELECT fingerprint, file_path FROM cache_index")
	if err != nil {
		return fmt.Errorf("query cache index for reconcile: %w", err)
	}

	type row struct {
		fp   int64
		path string
	}
	var toDelete []int64
	var all []row
	for rows.Next() {
		var r row
		if scanErr := rows.Scan(&r.fp, &r.path); scanErr != nil {
			_ = rows.Close()
			return fmt.Errorf("scan cache index row: %w", scanErr)
		}
		all = append(all, r)
	}
	if closeErr := rows.Close(); closeErr != nil {
		log.Printf("Failed to close rows: %v", closeErr)
	}

	known := make(map[string]bool, len(all))
	for _, r := range all {
		if _, statErr := os.Stat(r.path); os.IsNotExist(statErr) {
			toDelete = append(toDelete, r.fp)
			continue
		}
		known[r.path] = true
	}

	for _, fp := range toDelete {
		if _, execErr := d.db.ExecContext(ctx, "DELETE FROM cache_index WHERE fingerprint = ?", fp); execErr != nil {
			return fmt.Errorf("delete orphan cache index row: %w", execErr)
		}
	}

	root := filepath.Join(d.cacheDir, audioCacheDir)
	_ = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info == nil || info.IsDir() {
			return nil
		}
		if !known[path] {
			if rmErr := os.Remove(path); rmErr != nil {
				log.Printf("Failed to remove orphan L2 cache file %s: %v", path, rmErr)
			}
		}
		return nil
	})

	if d.debug && len(toDelete) > 0 {
		log.Printf("[DB] reconciled L2 cache index: removed %d orphan entries", len(toDelete))
	}

	return nil
}
