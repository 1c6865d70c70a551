package database

import (
	"database/sql"
	"time"
)

// Snapshot is one persisted copy of a successfully resolved config.
type Snapshot struct {
	ID       int64
	URL      string
	Payload  []byte
	LoadedAt time.Time
}

const snapshotKeepPerURL = 3

// SaveSnapshot stores a resolved config payload and prunes old copies
// for the same URL beyond the retention window.
func (d *DB) SaveSnapshot(url string, payload []byte, loadedAt time.Time) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO config_snapshots (url, payload, loaded_at) VALUES (?, ?, ?)`,
		url, string(payload), loadedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`DELETE FROM config_snapshots WHERE url = ? AND id NOT IN (
		    SELECT id FROM config_snapshots WHERE url = ? ORDER BY id DESC LIMIT ?
		 )`,
		url, url, snapshotKeepPerURL,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestSnapshot returns the most recent snapshot for url, or nil when
// none exists.
func (d *DB) LatestSnapshot(url string) (*Snapshot, error) {
	var (
		s       Snapshot
		payload string
		loaded  string
	)
	err := d.conn.QueryRow(
		`SELECT id, url, payload, loaded_at FROM config_snapshots WHERE url = ? ORDER BY id DESC LIMIT 1`,
		url,
	).Scan(&s.ID, &s.URL, &payload, &loaded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Payload = []byte(payload)
	s.LoadedAt, _ = time.Parse(time.RFC3339Nano, loaded)
	return &s, nil
}

// DeleteSnapshots removes every snapshot for url.
func (d *DB) DeleteSnapshots(url string) error {
	_, err := d.conn.Exec(`DELETE FROM config_snapshots WHERE url = ?`, url)
	return err
}
