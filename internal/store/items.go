package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InsertItem inserts a candidate item in state NEW. Returns false without
// error when the (source_id, guid) pair already exists, making re-fetch of
// already-seen content a safe no-op.
func (s *Store) InsertItem(sourceID int64, c CandidateItem) (bool, error) {
	var content *string
	if c.Content != "" {
		content = &c.Content
	}
	var author *string
	if c.Author != "" {
		author = &c.Author
	}
	result, err := s.conn.Exec(
		`INSERT OR IGNORE INTO items (source_id, guid, title, link, author, published_at, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sourceID, c.GUID, c.Title, c.Link, author, formatTimePtr(c.PublishedAt), content,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// GetItem returns an item by ID with its owning account, or nil if absent.
func (s *Store) GetItem(id int64) (*Item, error) {
	row := s.conn.QueryRow(itemColumns+` FROM items i
		JOIN sources s ON s.id = i.source_id
		WHERE i.id = ?`, id)
	item, err := scanItemFields(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ProcessableItems returns items awaiting enrichment (new or summarized, not
// currently in flight), oldest first. The caller filters by credited account
// in memory; the limit here is an overscan window, not the batch size.
func (s *Store) ProcessableItems(limit int) ([]Item, error) {
	rows, err := s.conn.Query(
		itemColumns+` FROM items i
		JOIN sources s ON s.id = i.source_id
		WHERE i.status IN ('new', 'summarized') AND i.queued_at IS NULL
		  AND s.status != 'deleted'
		ORDER BY i.created_at ASC, i.id ASC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// MarkItemQueued stamps the processing in-flight marker. Returns false if the
// item is already queued or no longer awaiting enrichment.
func (s *Store) MarkItemQueued(id int64, now time.Time) (bool, error) {
	result, err := s.conn.Exec(
		`UPDATE items SET queued_at = ?
		WHERE id = ? AND queued_at IS NULL AND status IN ('new', 'summarized')`,
		formatTime(now), id,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// ClearItemQueued drops the in-flight marker without any other change, used
// when a worker declines an item (e.g. it vanished or lost eligibility).
func (s *Store) ClearItemQueued(id int64) error {
	_, err := s.conn.Exec(`UPDATE items SET queued_at = NULL WHERE id = ?`, id)
	return err
}

// FinishItemEnrichment persists enrichment output and attempts the credit
// decrement in a single transaction. When the decrement succeeds the item
// becomes PROCESSED; when the balance is empty the output is kept and the
// item parks as SUMMARIZED so the paid-for AI call is not repeated once the
// account is replenished. Returns whether a credit was charged.
func (s *Store) FinishItemEnrichment(id, accountID int64, e Enrichment, now time.Time) (bool, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	tags, err := marshalTags(e.Tags)
	if err != nil {
		return false, err
	}

	charged, err := decrementTx(tx, accountID, 1, now)
	if err != nil {
		return false, err
	}

	status := ItemSummarized
	var processedAt *string
	if charged {
		status = ItemProcessed
		ts := formatTime(now)
		processedAt = &ts
	}

	_, err = tx.Exec(
		`UPDATE items SET summary = ?, tags = ?, sentiment = ?, score = ?, reasoning = ?,
		status = ?, processed_at = ?, last_error = NULL, queued_at = NULL
		WHERE id = ?`,
		e.Summary, tags, e.Sentiment, e.Score, e.Reasoning, string(status), processedAt, id,
	)
	if err != nil {
		return false, err
	}

	return charged, tx.Commit()
}

// ChargeProcessedItem promotes a previously SUMMARIZED item to PROCESSED if
// the credit decrement succeeds; otherwise it only clears the in-flight
// marker and the item stays parked. Returns whether a credit was charged.
func (s *Store) ChargeProcessedItem(id, accountID int64, now time.Time) (bool, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	charged, err := decrementTx(tx, accountID, 1, now)
	if err != nil {
		return false, err
	}

	if charged {
		_, err = tx.Exec(
			`UPDATE items SET status = 'processed', processed_at = ?, queued_at = NULL
			WHERE id = ? AND status = 'summarized'`,
			formatTime(now), id,
		)
	} else {
		_, err = tx.Exec(`UPDATE items SET queued_at = NULL WHERE id = ?`, id)
	}
	if err != nil {
		return false, err
	}

	return charged, tx.Commit()
}

// FailItemEnrichment records an enrichment failure: bumps the retry count,
// stores the message and clears the in-flight marker. Once maxRetries is
// reached the item goes terminal ERROR. Returns true if the item is now
// terminal.
func (s *Store) FailItemEnrichment(id int64, message string, maxRetries int) (bool, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var retries int
	if err := tx.QueryRow(`SELECT retry_count FROM items WHERE id = ?`, id).Scan(&retries); err != nil {
		return false, err
	}

	retries++
	status := ItemNew
	if retries >= maxRetries {
		status = ItemError
	}

	_, err = tx.Exec(
		`UPDATE items SET retry_count = ?, last_error = ?, queued_at = NULL,
		status = CASE WHEN status = 'error' THEN status ELSE ? END
		WHERE id = ?`,
		retries, message, string(status), id,
	)
	if err != nil {
		return false, err
	}

	return status == ItemError, tx.Commit()
}

// ResetStuckItems clears in-flight markers stamped before the cutoff so the
// items are re-selected after a worker crash. Returns the number reset.
func (s *Store) ResetStuckItems(cutoff time.Time) (int64, error) {
	result, err := s.conn.Exec(
		`UPDATE items SET queued_at = NULL
		WHERE queued_at IS NOT NULL AND queued_at < ? AND status IN ('new', 'summarized')`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ProcessedItemsSince returns processed items from the given sources whose
// publication (falling back to processing time) is after since, best first:
// score descending, ties broken by most recent publishedAt.
func (s *Store) ProcessedItemsSince(sourceIDs []int64, since time.Time, limit int) ([]Item, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(sourceIDs))
	placeholders = placeholders[:len(placeholders)-2]
	args := make([]any, 0, len(sourceIDs)+2)
	for _, id := range sourceIDs {
		args = append(args, id)
	}
	args = append(args, formatTime(since), limit)

	rows, err := s.conn.Query(
		itemColumns+fmt.Sprintf(` FROM items i
		JOIN sources s ON s.id = i.source_id
		WHERE i.source_id IN (%s) AND i.status = 'processed'
		  AND COALESCE(i.published_at, i.processed_at) > ?
		ORDER BY i.score DESC, i.published_at DESC, i.id DESC
		LIMIT ?`, placeholders), args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

const itemColumns = `SELECT i.id, i.source_id, s.account_id, i.guid, i.title, i.link, i.author,
	i.published_at, i.content, i.status, i.summary, i.tags, i.sentiment, i.score, i.reasoning,
	i.retry_count, i.last_error, i.queued_at, i.processed_at, i.created_at`

func scanItemFields(row rowScanner) (*Item, error) {
	var it Item
	var status, createdAt string
	var publishedAt, tags, queuedAt, processedAt *string
	if err := row.Scan(&it.ID, &it.SourceID, &it.AccountID, &it.GUID, &it.Title, &it.Link,
		&it.Author, &publishedAt, &it.Content, &status, &it.Summary, &tags, &it.Sentiment,
		&it.Score, &it.Reasoning, &it.RetryCount, &it.LastError, &queuedAt, &processedAt,
		&createdAt); err != nil {
		return nil, err
	}
	it.Status = ItemStatus(status)
	it.PublishedAt = parseTimePtr(publishedAt)
	it.QueuedAt = parseTimePtr(queuedAt)
	it.ProcessedAt = parseTimePtr(processedAt)
	if t, err := parseTime(createdAt); err == nil {
		it.CreatedAt = t
	}
	if tags != nil {
		if err := json.Unmarshal([]byte(*tags), &it.Tags); err != nil {
			it.Tags = nil
		}
	}
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		it, err := scanItemFields(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func marshalTags(tags []string) (*string, error) {
	if tags == nil {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}
