package store

import (
	"database/sql"
	"time"
)

// InsertSource inserts a source and returns its ID. Lifecycle fields start
// at their defaults (active, idle, never fetched).
func (s *Store) InsertSource(accountID int64, name string, kind SourceKind, address string, refreshMinutes int) (int64, error) {
	result, err := s.conn.Exec(
		`INSERT INTO sources (account_id, name, kind, address, refresh_interval_minutes)
		VALUES (?, ?, ?, ?, ?)`,
		accountID, name, string(kind), address, refreshMinutes,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetSource returns a source by ID, or nil if it does not exist.
func (s *Store) GetSource(id int64) (*Source, error) {
	row := s.conn.QueryRow(sourceColumns+" FROM sources WHERE id = ?", id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// DueSources returns sources eligible for fetching at the given instant:
// operationally selectable (active or error), fetch-idle, and past their
// refresh interval. Never-fetched sources sort first so a brand-new source
// is picked up on the very next tick.
func (s *Store) DueSources(now time.Time, limit int) ([]Source, error) {
	rows, err := s.conn.Query(
		sourceColumns+` FROM sources
		WHERE status IN ('active', 'error')
		  AND fetch_status = 'idle'
		  AND (last_fetched_at IS NULL
		       OR datetime(last_fetched_at, '+' || refresh_interval_minutes || ' minutes') <= datetime(?))
		ORDER BY last_fetched_at IS NOT NULL, last_fetched_at ASC, id ASC
		LIMIT ?`,
		formatTime(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

// MarkSourceQueued transitions a source IDLE -> QUEUED and stamps queuedAt.
// Returns false if the source was not idle (already claimed by another tick).
func (s *Store) MarkSourceQueued(id int64, now time.Time) (bool, error) {
	result, err := s.conn.Exec(
		`UPDATE sources SET fetch_status = 'queued', queued_at = ?
		WHERE id = ? AND fetch_status = 'idle'`,
		formatTime(now), id,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// RevertSourceQueued undoes a QUEUED transition after a rejected enqueue so
// the source is not orphaned outside the queue.
func (s *Store) RevertSourceQueued(id int64) error {
	_, err := s.conn.Exec(
		`UPDATE sources SET fetch_status = 'idle', queued_at = NULL
		WHERE id = ? AND fetch_status = 'queued'`, id,
	)
	return err
}

// MarkSourceFetching transitions a source QUEUED -> FETCHING and stamps
// fetchStartedAt. Returns false if the source was not queued.
func (s *Store) MarkSourceFetching(id int64, now time.Time) (bool, error) {
	result, err := s.conn.Exec(
		`UPDATE sources SET fetch_status = 'fetching', fetch_started_at = ?
		WHERE id = ? AND fetch_status = 'queued'`,
		formatTime(now), id,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// CompleteSourceFetch records a successful fetch: back to IDLE, clear the
// error and in-flight stamps, refresh lastFetchedAt. A source that had been
// in error status becomes active again. A pause or delete applied while the
// fetch was in flight is never overwritten.
func (s *Store) CompleteSourceFetch(id int64, now time.Time) error {
	_, err := s.conn.Exec(
		`UPDATE sources SET fetch_status = 'idle',
		status = CASE WHEN status IN ('active', 'error') THEN 'active' ELSE status END,
		last_fetched_at = ?, last_error = NULL, queued_at = NULL, fetch_started_at = NULL
		WHERE id = ?`,
		formatTime(now), id,
	)
	return err
}

// FailSourceFetch records a failed fetch: back to IDLE so the source returns
// to the pool, operational status ERROR with the message. lastFetchedAt is
// stamped with the attempt time so the source is interval-gated rather than
// retried on the very next tick. As with completion, a concurrent pause or
// delete wins over the fetch outcome.
func (s *Store) FailSourceFetch(id int64, message string, now time.Time) error {
	_, err := s.conn.Exec(
		`UPDATE sources SET fetch_status = 'idle',
		status = CASE WHEN status IN ('active', 'error') THEN 'error' ELSE status END,
		last_error = ?, last_fetched_at = ?, queued_at = NULL, fetch_started_at = NULL
		WHERE id = ?`,
		message, formatTime(now), id,
	)
	return err
}

// ResetStuckSources returns sources stuck in QUEUED or FETCHING since before
// the cutoff to IDLE. Returns the number of sources reset.
func (s *Store) ResetStuckSources(cutoff time.Time) (int64, error) {
	result, err := s.conn.Exec(
		`UPDATE sources SET fetch_status = 'idle', queued_at = NULL, fetch_started_at = NULL
		WHERE (fetch_status = 'queued' AND queued_at < ?)
		   OR (fetch_status = 'fetching' AND fetch_started_at < ?)`,
		formatTime(cutoff), formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetSourceStatus updates only the operational status axis.
func (s *Store) SetSourceStatus(id int64, status SourceStatus) error {
	_, err := s.conn.Exec(`UPDATE sources SET status = ? WHERE id = ?`, string(status), id)
	return err
}

const sourceColumns = `SELECT id, account_id, name, kind, address, status, fetch_status,
	refresh_interval_minutes, last_fetched_at, last_error, queued_at, fetch_started_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSourceFields(row rowScanner) (*Source, error) {
	var src Source
	var kind, status, fetchStatus, createdAt string
	var lastFetchedAt, lastError, queuedAt, fetchStartedAt *string
	if err := row.Scan(&src.ID, &src.AccountID, &src.Name, &kind, &src.Address,
		&status, &fetchStatus, &src.RefreshIntervalMinutes,
		&lastFetchedAt, &lastError, &queuedAt, &fetchStartedAt, &createdAt); err != nil {
		return nil, err
	}
	src.Kind = SourceKind(kind)
	src.Status = SourceStatus(status)
	src.FetchStatus = FetchStatus(fetchStatus)
	src.LastFetchedAt = parseTimePtr(lastFetchedAt)
	src.LastError = lastError
	src.QueuedAt = parseTimePtr(queuedAt)
	src.FetchStartedAt = parseTimePtr(fetchStartedAt)
	if t, err := parseTime(createdAt); err == nil {
		src.CreatedAt = t
	}
	return &src, nil
}

func scanSource(row *sql.Row) (*Source, error) {
	return scanSourceFields(row)
}

func scanSources(rows *sql.Rows) ([]Source, error) {
	var sources []Source
	for rows.Next() {
		src, err := scanSourceFields(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}
