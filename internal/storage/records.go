package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRecordNotFound is returned when a record does not exist.
var ErrRecordNotFound = errors.New("record not found")

// ErrRecordExists is returned when creating a record whose id is taken.
var ErrRecordExists = errors.New("record already exists")

// RecordExists reports whether a bibrec row with the given id exists.
func (s *SQLiteStore) RecordExists(ctx context.Context, q Querier, recID int64) (bool, error) {
	if q == nil {
		q = s.db
	}
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM bibrec WHERE id = ?`, recID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check record %d: %w", recID, err)
	}
	return true, nil
}

// CreateRecord inserts a bibrec row. A zero recID lets the database allocate
// the next id. The id of the new row is returned.
func (s *SQLiteStore) CreateRecord(ctx context.Context, q Querier, recID int64) (int64, error) {
	if q == nil {
		q = s.db
	}
	if recID < 0 {
		return 0, fmt.Errorf("invalid record id %d", recID)
	}

	now := time.Now().UnixMilli()
	var (
		result sql.Result
		err    error
	)
	if recID == 0 {
		result, err = q.ExecContext(ctx, `
			INSERT INTO bibrec (creation_unix_ms, modification_unix_ms) VALUES (?, ?)
		`, now, now)
	} else {
		result, err = q.ExecContext(ctx, `
			INSERT INTO bibrec (id, creation_unix_ms, modification_unix_ms) VALUES (?, ?, ?)
		`, recID, now, now)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%w: %d", ErrRecordExists, recID)
		}
		return 0, fmt.Errorf("failed to create record: %w", err)
	}

	if recID != 0 {
		return recID, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read allocated record id: %w", err)
	}
	return id, nil
}

// TouchRecord bumps the modification time of a record.
func (s *SQLiteStore) TouchRecord(ctx context.Context, q Querier, recID int64) error {
	if q == nil {
		q = s.db
	}
	result, err := q.ExecContext(ctx, `
		UPDATE bibrec SET modification_unix_ms = ? WHERE id = ?
	`, time.Now().UnixMilli(), recID)
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", recID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, recID)
	}
	return nil
}

// PutFormat stores (or replaces) a formatted version of a record.
func (s *SQLiteStore) PutFormat(ctx context.Context, q Querier, recID int64, format string, value []byte) error {
	if q == nil {
		q = s.db
	}
	if format == "" {
		return errors.New("format is required")
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO bibfmt (id_bibrec, format, last_updated_unix_ms, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id_bibrec, format) DO UPDATE SET
			last_updated_unix_ms = excluded.last_updated_unix_ms,
			value = excluded.value
	`, recID, format, time.Now().UnixMilli(), value)
	if err != nil {
		return fmt.Errorf("failed to store format %s of record %d: %w", format, recID, err)
	}
	return nil
}

// GetFormat returns a formatted version of a record.
func (s *SQLiteStore) GetFormat(ctx context.Context, q Querier, recID int64, format string) ([]byte, error) {
	if q == nil {
		q = s.db
	}
	var value []byte
	err := q.QueryRowContext(ctx, `
		SELECT value FROM bibfmt WHERE id_bibrec = ? AND format = ?
	`, recID, format).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d (format %s)", ErrRecordNotFound, recID, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read format %s of record %d: %w", format, recID, err)
	}
	return value, nil
}

// ReplaceFields rewrites the field index of a record.
func (s *SQLiteStore) ReplaceFields(ctx context.Context, q Querier, recID int64, fields []Field) error {
	if q == nil {
		q = s.db
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM bibxxx WHERE id_bibrec = ?`, recID); err != nil {
		return fmt.Errorf("failed to clear fields of record %d: %w", recID, err)
	}
	for _, f := range fields {
		_, err := q.ExecContext(ctx, `
			INSERT INTO bibxxx (id_bibrec, field_number, tag, ind1, ind2, code, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, recID, f.FieldNumber, f.Tag, f.Ind1, f.Ind2, f.Code, f.Value)
		if err != nil {
			return fmt.Errorf("failed to index field %s of record %d: %w", f.Tag, recID, err)
		}
	}
	return nil
}

// FindRecords returns the ids of records with a field matching tag, code and
// value exactly. An empty code matches control fields.
func (s *SQLiteStore) FindRecords(ctx context.Context, tag, code, value string) ([]int64, error) {
	if tag == "" {
		return nil, errors.New("tag is required")
	}
	return s.QueryIDs(ctx, `
		SELECT DISTINCT id_bibrec FROM bibxxx
		WHERE tag = ? AND code = ? AND value = ?
		ORDER BY id_bibrec
	`, tag, code, value)
}

// CountRecords returns the number of bibrec rows.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bibrec`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// DeleteRecord removes the bibrec row and the bibfmt rows of a record.
// Deleting an absent record is not an error.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, recID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bibrec WHERE id=?`, recID); err != nil {
		return fmt.Errorf("failed to delete record %d: %w", recID, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bibfmt WHERE id_bibrec=?`, recID); err != nil {
		return fmt.Errorf("failed to delete formats of record %d: %w", recID, err)
	}
	return nil
}

// AppendHistory stores a snapshot of a record as written by a job.
func (s *SQLiteStore) AppendHistory(ctx context.Context, q Querier, entry *HistoryEntry) error {
	if q == nil {
		q = s.db
	}
	if entry == nil {
		return errors.New("history entry cannot be nil")
	}
	if entry.JobDateUnixMs == 0 {
		entry.JobDateUnixMs = time.Now().UnixMilli()
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO hstRECORD (
			id_bibrec, marcxml, job_id, job_name, job_person, job_date_unix_ms, job_details
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RecID,
		entry.MarcXML,
		entry.JobID,
		entry.JobName,
		entry.JobPerson,
		entry.JobDateUnixMs,
		entry.JobDetails,
	)
	if err != nil {
		return fmt.Errorf("failed to append history of record %d: %w", entry.RecID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListHistory returns the history of a record, newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, recID int64) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, id_bibrec, marcxml, job_id, job_name, job_person, job_date_unix_ms, job_details
		FROM hstRECORD WHERE id_bibrec = ?
		ORDER BY job_date_unix_ms DESC, id DESC
	`, recID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.RecID, &e.MarcXML, &e.JobID, &e.JobName,
			&e.JobPerson, &e.JobDateUnixMs, &e.JobDetails); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
