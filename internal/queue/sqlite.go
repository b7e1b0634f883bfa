package queue

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// SQLite is the durable queue backend. Entries survive a process restart and
// are drained on the next start, trading a little latency for at-least-once
// handoff across crashes. Multiple named queues share one table.
type SQLite struct {
	conn         *sql.DB
	name         string
	capacity     int
	pollInterval time.Duration
	log          zerolog.Logger
}

// NewSQLite creates a durable queue named name on an existing connection.
// The work_queue table is part of the store schema.
func NewSQLite(conn *sql.DB, name string, capacity int, log zerolog.Logger) *SQLite {
	if capacity <= 0 {
		capacity = 100
	}
	return &SQLite{
		conn:         conn,
		name:         name,
		capacity:     capacity,
		pollInterval: 250 * time.Millisecond,
		log:          log.With().Str("component", "queue").Str("queue", name).Logger(),
	}
}

// Enqueue inserts an ID if the queue is under capacity.
func (q *SQLite) Enqueue(id int64) bool {
	tx, err := q.conn.Begin()
	if err != nil {
		q.log.Error().Err(err).Msg("enqueue: begin failed")
		return false
	}
	defer tx.Rollback()

	var depth int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM work_queue WHERE queue = ?`, q.name).Scan(&depth); err != nil {
		q.log.Error().Err(err).Msg("enqueue: depth check failed")
		return false
	}
	if depth >= q.capacity {
		return false
	}

	if _, err := tx.Exec(`INSERT INTO work_queue (queue, item_id) VALUES (?, ?)`, q.name, id); err != nil {
		q.log.Error().Err(err).Msg("enqueue: insert failed")
		return false
	}
	return tx.Commit() == nil
}

// CanAccept reports whether the queue is under capacity.
func (q *SQLite) CanAccept() bool {
	return q.Size() < q.capacity
}

// Size returns the current queue depth.
func (q *SQLite) Size() int {
	var depth int
	if err := q.conn.QueryRow(`SELECT COUNT(*) FROM work_queue WHERE queue = ?`, q.name).Scan(&depth); err != nil {
		q.log.Error().Err(err).Msg("size check failed")
		return 0
	}
	return depth
}

// Poll dequeues the oldest entry, re-checking every pollInterval until the
// timeout elapses.
func (q *SQLite) Poll(timeout time.Duration) (int64, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if id, ok := q.tryDequeue(); ok {
			return id, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, false
		}
		wait := q.pollInterval
		if remaining < wait {
			wait = remaining
		}
		time.Sleep(wait)
	}
}

func (q *SQLite) tryDequeue() (int64, bool) {
	tx, err := q.conn.Begin()
	if err != nil {
		return 0, false
	}
	defer tx.Rollback()

	var rowID, itemID int64
	err = tx.QueryRow(
		`SELECT id, item_id FROM work_queue WHERE queue = ? ORDER BY id ASC LIMIT 1`, q.name,
	).Scan(&rowID, &itemID)
	if err != nil {
		return 0, false
	}

	if _, err := tx.Exec(`DELETE FROM work_queue WHERE id = ?`, rowID); err != nil {
		return 0, false
	}
	if err := tx.Commit(); err != nil {
		return 0, false
	}
	return itemID, true
}
