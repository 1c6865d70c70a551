package database

import (
	"database/sql"
	"time"
)

// ModuleRecord describes a validated module artifact on disk.
type ModuleRecord struct {
	Ref       string
	Checksum  string
	Path      string
	SizeBytes int64
	Kind      string
	FetchedAt time.Time
}

// UpsertModule records (or refreshes) an artifact.
func (d *DB) UpsertModule(r *ModuleRecord) error {
	_, err := d.conn.Exec(
		`INSERT INTO module_records (ref, checksum, path, size_bytes, kind, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET
		     checksum = excluded.checksum,
		     path = excluded.path,
		     size_bytes = excluded.size_bytes,
		     kind = excluded.kind,
		     fetched_at = excluded.fetched_at`,
		r.Ref, r.Checksum, r.Path, r.SizeBytes, r.Kind,
		r.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetModule returns the record for ref, or nil when absent.
func (d *DB) GetModule(ref string) (*ModuleRecord, error) {
	var (
		r       ModuleRecord
		fetched string
	)
	err := d.conn.QueryRow(
		`SELECT ref, checksum, path, size_bytes, kind, fetched_at FROM module_records WHERE ref = ?`,
		ref,
	).Scan(&r.Ref, &r.Checksum, &r.Path, &r.SizeBytes, &r.Kind, &fetched)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetched)
	return &r, nil
}

// DeleteModule removes the record for ref.
func (d *DB) DeleteModule(ref string) error {
	_, err := d.conn.Exec(`DELETE FROM module_records WHERE ref = ?`, ref)
	return err
}

// ListModules returns every recorded artifact, newest first.
func (d *DB) ListModules() ([]*ModuleRecord, error) {
	rows, err := d.conn.Query(
		`SELECT ref, checksum, path, size_bytes, kind, fetched_at FROM module_records ORDER BY fetched_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ModuleRecord
	for rows.Next() {
		var (
			r       ModuleRecord
			fetched string
		)
		if err := rows.Scan(&r.Ref, &r.Checksum, &r.Path, &r.SizeBytes, &r.Kind, &fetched); err != nil {
			return nil, err
		}
		r.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetched)
		records = append(records, &r)
	}
	return records, rows.Err()
}
