package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sd-launcher/internal/txt2img"
)

const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one finished txt2img invocation.
type Run struct {
	ID        string         `json:"id" csv:"id"`
	Prompt    string         `json:"prompt" csv:"prompt"`
	Params    txt2img.Params `json:"params" csv:"-"`
	Command   string         `json:"command" csv:"command"`
	StartedAt time.Time      `json:"started_at" csv:"started_at"`
	EndedAt   time.Time      `json:"ended_at" csv:"ended_at"`
	ElapsedMS int64          `json:"elapsed_ms" csv:"elapsed_ms"`
	ImageName string         `json:"image_name" csv:"image_name"`
	Rating    int            `json:"rating" csv:"rating"` // 0 = unrated
	Status    string         `json:"status" csv:"status"`
	Output    string         `json:"output,omitempty" csv:"-"`
	Error     string         `json:"error,omitempty" csv:"error"`
}

// RunFilter narrows ListRuns. Prompt matches as a case-insensitive
// substring; Order is "asc" or "desc" by end time (default desc).
type RunFilter struct {
	Prompt string
	Order  string
	Limit  int
}

// RecordRun inserts r, assigning an ID when empty, and returns the ID.
func (d *RunDB) RecordRun(r Run) (string, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Prompt == "" {
		r.Prompt = r.Params.Prompt
	}
	if r.Rating != 0 && (r.Rating < 1 || r.Rating > 5) {
		return "", ErrInvalidRating
	}
	params, err := json.Marshal(r.Params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}

	_, err = d.db.Exec(`
	INSERT INTO runs (
		id, prompt, params, command, started_at, ended_at, elapsed_ms,
		image_name, rating, status, output, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Prompt, string(params), r.Command,
		r.StartedAt.UTC(), r.EndedAt.UTC(), r.ElapsedMS,
		r.ImageName, r.Rating, r.Status, r.Output, r.Error,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return r.ID, nil
}

const runColumns = `id, prompt, params, command, started_at, ended_at, elapsed_ms,
	       image_name, rating, status, output, error_message`

func (d *RunDB) GetRun(id string) (Run, error) {
	runs, err := d.queryRuns("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns runs matching f, newest first unless f.Order is "asc".
func (d *RunDB) ListRuns(f RunFilter) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []interface{}

	if f.Prompt != "" {
		query += ` WHERE prompt LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(f.Prompt)+"%")
	}

	if f.Order == "asc" {
		query += " ORDER BY ended_at ASC, id ASC"
	} else {
		query += " ORDER BY ended_at DESC, id DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ?"
	args = append(args, limit)

	return d.queryRuns(query, args...)
}

func (d *RunDB) SetRating(id string, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	res, err := d.db.Exec("UPDATE runs SET rating = ? WHERE id = ?", rating, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "run", id)
}

// DeleteRun removes a run and returns it so callers can clean up its image.
func (d *RunDB) DeleteRun(id string) (Run, error) {
	r, err := d.GetRun(id)
	if err != nil {
		return Run{}, err
	}
	if _, err := d.db.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
		return Run{}, err
	}
	return r, nil
}

// ClearRuns deletes the whole history and returns the number of rows removed.
func (d *RunDB) ClearRuns() (int64, error) {
	res, err := d.db.Exec("DELETE FROM runs")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *RunDB) queryRuns(query string, args ...interface{}) ([]Run, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var params string
		err := rows.Scan(
			&r.ID, &r.Prompt, &params, &r.Command, &r.StartedAt, &r.EndedAt,
			&r.ElapsedMS, &r.ImageName, &r.Rating, &r.Status, &r.Output, &r.Error,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("decode params of run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
