package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sd-launcher/internal/txt2img"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	StatusPending   QueueStatus = "pending"
	StatusSkipped   QueueStatus = "skipped"
	StatusRunning   QueueStatus = "running"
	StatusCompleted QueueStatus = "completed"
	StatusFailed    QueueStatus = "failed"
)

// AllStatuses lists every queue status, in display order.
var AllStatuses = []QueueStatus{StatusPending, StatusSkipped, StatusRunning, StatusCompleted, StatusFailed}

// QueueItem is a pending or processed txt2img request.
type QueueItem struct {
	ID        string         `json:"id"`
	Params    txt2img.Params `json:"params"`
	Status    QueueStatus    `json:"status"`
	Position  int64          `json:"position"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Error     string         `json:"error,omitempty"`
}

// Enqueue appends one item per params in order, inside a single transaction.
func (d *RunDB) Enqueue(params ...txt2img.Params) ([]QueueItem, error) {
	if len(params) == 0 {
		return nil, nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRow("SELECT COALESCE(MAX(position), 0) FROM queue").Scan(&last); err != nil {
		return nil, err
	}

	now := d.timestamp()
	items := make([]QueueItem, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		last++
		item := QueueItem{
			ID:        newID(),
			Params:    p,
			Status:    StatusPending,
			Position:  last,
			CreatedAt: now,
		}
		_, err = tx.Exec(
			"INSERT INTO queue (id, params, status, position, created_at) VALUES (?, ?, ?, ?, ?)",
			item.ID, string(encoded), string(item.Status), item.Position, item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert queue item: %w", err)
		}
		items = append(items, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

const queueColumns = `id, params, status, position, created_at, started_at, ended_at,
	       elapsed_ms, error_message`

// ListQueue returns all items in queue order.
func (d *RunDB) ListQueue() ([]QueueItem, error) {
	return d.queryQueue("SELECT " + queueColumns + " FROM queue ORDER BY position ASC")
}

func (d *RunDB) GetQueueItem(id string) (QueueItem, error) {
	items, err := d.queryQueue("SELECT "+queueColumns+" FROM queue WHERE id = ?", id)
	if err != nil {
		return QueueItem{}, err
	}
	if len(items) == 0 {
		return QueueItem{}, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	return items[0], nil
}

// NextPending returns the pending item with the lowest position, or
// ErrNotFound when nothing is pending.
func (d *RunDB) NextPending() (QueueItem, error) {
	items, err := d.queryQueue(
		"SELECT "+queueColumns+" FROM queue WHERE status = ? ORDER BY position ASC LIMIT 1",
		string(StatusPending),
	)
	if err != nil {
		return QueueItem{}, err
	}
	if len(items) == 0 {
		return QueueItem{}, ErrNotFound
	}
	return items[0], nil
}

// UpdateQueueStatus moves an item to status. Running requires a pending
// item and stamps the start time; completed and failed stamp the end time
// and elapsed duration.
func (d *RunDB) UpdateQueueStatus(id string, status QueueStatus, errMsg string) error {
	now := d.timestamp()

	switch status {
	case StatusRunning:
		// Only a pending item can start; a skip or removal since NextPending wins.
		res, err := d.db.Exec(
			"UPDATE queue SET status = ?, started_at = ?, ended_at = NULL, elapsed_ms = 0, error_message = '' WHERE id = ? AND status = ?",
			string(status), now, id, string(StatusPending),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			item, err := d.GetQueueItem(id)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: cannot start %s item %s", ErrInvalidTransition, item.Status, id)
		}
		return nil

	case StatusCompleted, StatusFailed:
		item, err := d.GetQueueItem(id)
		if err != nil {
			return err
		}
		var elapsed int64
		if item.StartedAt != nil {
			elapsed = now.Sub(*item.StartedAt).Milliseconds()
		}
		_, err = d.db.Exec(
			"UPDATE queue SET status = ?, ended_at = ?, elapsed_ms = ?, error_message = ? WHERE id = ?",
			string(status), now, elapsed, errMsg, id,
		)
		return err

	case StatusPending, StatusSkipped:
		res, err := d.db.Exec("UPDATE queue SET status = ? WHERE id = ?", string(status), id)
		if err != nil {
			return err
		}
		return requireAffected(res, "queue item", id)
	}

	return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
}

// ToggleSkip flips an item between pending and skipped and returns the new
// status. Items in any other state are left alone.
func (d *RunDB) ToggleSkip(id string) (QueueStatus, error) {
	item, err := d.GetQueueItem(id)
	if err != nil {
		return "", err
	}

	var next QueueStatus
	switch item.Status {
	case StatusPending:
		next = StatusSkipped
	case StatusSkipped:
		next = StatusPending
	default:
		return item.Status, fmt.Errorf("%w: cannot skip %s item", ErrInvalidTransition, item.Status)
	}

	// status guard keeps a concurrent processor pick-up from being overwritten
	res, err := d.db.Exec("UPDATE queue SET status = ? WHERE id = ? AND status = ?", string(next), id, string(item.Status))
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: item %s changed state", ErrInvalidTransition, id)
	}
	return next, nil
}

// RemoveQueueItem deletes an item unless it is running.
func (d *RunDB) RemoveQueueItem(id string) error {
	item, err := d.GetQueueItem(id)
	if err != nil {
		return err
	}
	if item.Status == StatusRunning {
		return fmt.Errorf("%w: item %s is running", ErrInvalidTransition, id)
	}
	_, err = d.db.Exec("DELETE FROM queue WHERE id = ?", id)
	return err
}

// ClearCompleted removes completed items and returns how many were removed.
func (d *RunDB) ClearCompleted() (int64, error) {
	res, err := d.db.Exec("DELETE FROM queue WHERE status = ?", string(StatusCompleted))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearQueue removes every item that is not running.
func (d *RunDB) ClearQueue() (int64, error) {
	res, err := d.db.Exec("DELETE FROM queue WHERE status != ?", string(StatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetRunning returns items left running by an unclean shutdown to pending.
func (d *RunDB) ResetRunning() (int64, error) {
	res, err := d.db.Exec(
		"UPDATE queue SET status = ?, started_at = NULL WHERE status = ?",
		string(StatusPending), string(StatusRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueueCounts returns the number of items per status, with every status present.
func (d *RunDB) QueueCounts() (map[string]int, error) {
	rows, err := d.db.Query("SELECT status, COUNT(*) FROM queue GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[string(s)] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (d *RunDB) queryQueue(query string, args ...interface{}) ([]QueueItem, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		var params string
		var started, ended sql.NullTime
		err := rows.Scan(
			&item.ID, &params, &item.Status, &item.Position, &item.CreatedAt,
			&started, &ended, &item.ElapsedMS, &item.Error,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &item.Params); err != nil {
			return nil, fmt.Errorf("decode params of queue item %s: %w", item.ID, err)
		}
		if started.Valid {
			t := started.Time
			item.StartedAt = &t
		}
		if ended.Valid {
			t := ended.Time
			item.EndedAt = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// IsInvalidTransition reports whether err is a rejected status change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
