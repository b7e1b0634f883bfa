package store

import (
	"database/sql"
	"time"
)

// InsertBriefing inserts a briefing configuration and returns its ID.
func (s *Store) InsertBriefing(b Briefing) (int64, error) {
	var dow *int
	if b.Cadence == CadenceWeekly {
		dow = b.DayOfWeek
	}
	maxItems := b.MaxItems
	if maxItems <= 0 {
		maxItems = 10
	}
	status := b.Status
	if status == "" {
		status = BriefingActive
	}
	result, err := s.conn.Exec(
		`INSERT INTO briefings (account_id, name, cadence, schedule_time, timezone, day_of_week, criteria, max_items, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.AccountID, b.Name, string(b.Cadence), b.ScheduleTime, b.Timezone, dow, b.Criteria, maxItems, string(status),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetBriefing returns a briefing by ID, or nil if it does not exist.
func (s *Store) GetBriefing(id int64) (*Briefing, error) {
	row := s.conn.QueryRow(briefingColumns+" FROM briefings WHERE id = ?", id)
	b, err := scanBriefingFields(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ActiveBriefings returns all briefings with active status. Due-ness is
// computed by the caller; this is the candidate pool.
func (s *Store) ActiveBriefings() ([]Briefing, error) {
	rows, err := s.conn.Query(briefingColumns + ` FROM briefings WHERE status = 'active' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var briefings []Briefing
	for rows.Next() {
		b, err := scanBriefingFields(rows)
		if err != nil {
			return nil, err
		}
		briefings = append(briefings, *b)
	}
	return briefings, rows.Err()
}

// LinkBriefingSource attaches a source to a briefing.
func (s *Store) LinkBriefingSource(briefingID, sourceID int64) error {
	_, err := s.conn.Exec(
		`INSERT OR IGNORE INTO briefing_sources (briefing_id, source_id) VALUES (?, ?)`,
		briefingID, sourceID,
	)
	return err
}

// BriefingSourceIDs returns the IDs of the sources linked to a briefing.
func (s *Store) BriefingSourceIDs(briefingID int64) ([]int64, error) {
	rows, err := s.conn.Query(
		`SELECT source_id FROM briefing_sources WHERE briefing_id = ? ORDER BY source_id ASC`,
		briefingID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateBriefingExecuted stamps lastExecutedAt after a successful run.
func (s *Store) UpdateBriefingExecuted(id int64, now time.Time) error {
	_, err := s.conn.Exec(
		`UPDATE briefings SET last_executed_at = ? WHERE id = ?`,
		formatTime(now), id,
	)
	return err
}

// SaveReport persists a generated report.
func (s *Store) SaveReport(r Report) error {
	_, err := s.conn.Exec(
		`INSERT INTO reports (id, briefing_id, account_id, title, body_markdown, item_count, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BriefingID, r.AccountID, r.Title, r.BodyMarkdown, r.ItemCount, formatTime(r.GeneratedAt),
	)
	return err
}

// GetReport returns a report by ID, or nil if it does not exist.
func (s *Store) GetReport(id string) (*Report, error) {
	row := s.conn.QueryRow(
		`SELECT id, briefing_id, account_id, title, body_markdown, item_count, generated_at
		FROM reports WHERE id = ?`, id,
	)
	var r Report
	var generatedAt string
	err := row.Scan(&r.ID, &r.BriefingID, &r.AccountID, &r.Title, &r.BodyMarkdown, &r.ItemCount, &generatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t, perr := parseTime(generatedAt); perr == nil {
		r.GeneratedAt = t
	}
	return &r, nil
}

// GetStats returns aggregate counts for the status surface.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	row := s.conn.QueryRow(`SELECT
		(SELECT COUNT(*) FROM sources WHERE status != 'deleted'),
		(SELECT COUNT(*) FROM sources WHERE fetch_status = 'fetching'),
		(SELECT COUNT(*) FROM sources WHERE fetch_status = 'queued'),
		(SELECT COUNT(*) FROM sources WHERE status = 'error'),
		(SELECT COUNT(*) FROM items),
		(SELECT COUNT(*) FROM items WHERE status IN ('new', 'summarized')),
		(SELECT COUNT(*) FROM items WHERE status = 'processed'),
		(SELECT COUNT(*) FROM items WHERE status = 'error'),
		(SELECT COUNT(*) FROM briefings WHERE status = 'active'),
		(SELECT COUNT(*) FROM reports),
		(SELECT COUNT(*) FROM account_credits WHERE balance > 0)`)
	if err := row.Scan(&st.Sources, &st.SourcesFetching, &st.SourcesQueued, &st.SourcesError,
		&st.Items, &st.ItemsNew, &st.ItemsProcessed, &st.ItemsError,
		&st.Briefings, &st.Reports, &st.CreditedAccounts); err != nil {
		return nil, err
	}
	return &st, nil
}

const briefingColumns = `SELECT id, account_id, name, cadence, schedule_time, timezone,
	day_of_week, criteria, max_items, status, last_executed_at, created_at`

func scanBriefingFields(row rowScanner) (*Briefing, error) {
	var b Briefing
	var cadence, status, createdAt string
	var lastExecutedAt *string
	if err := row.Scan(&b.ID, &b.AccountID, &b.Name, &cadence, &b.ScheduleTime, &b.Timezone,
		&b.DayOfWeek, &b.Criteria, &b.MaxItems, &status, &lastExecutedAt, &createdAt); err != nil {
		return nil, err
	}
	b.Cadence = Cadence(cadence)
	b.Status = BriefingStatus(status)
	b.LastExecutedAt = parseTimePtr(lastExecutedAt)
	if t, err := parseTime(createdAt); err == nil {
		b.CreatedAt = t
	}
	return &b, nil
}
