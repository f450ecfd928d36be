package database

import (
	"database/sql"
	"time"
)

// RunStats holds aggregated statistics
type RunStats struct {
	TotalRuns     int
	Completed     int
	Failed        int
	Rated         int
	AvgRating     float64
	AvgElapsedMS  float64
	TotalElapsed  time.Duration
	ImagesCreated int
	StartDate     time.Time
	EndDate       time.Time
}

// GetRunStats returns statistics for runs that ended in the last days days.
// days <= 0 covers the whole history.
func (d *RunDB) GetRunStats(days int) (*RunStats, error) {
	now := d.timestamp()
	since := time.Time{}.UTC()
	if days > 0 {
		since = now.AddDate(0, 0, -days)
	}

	stats := &RunStats{
		StartDate: since,
		EndDate:   now,
	}

	var avgRating, avgElapsed sql.NullFloat64
	var totalElapsed int64
	err := d.db.QueryRow(`
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'completed' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			COUNT(CASE WHEN rating > 0 THEN 1 END),
			AVG(CASE WHEN rating > 0 THEN rating END),
			AVG(elapsed_ms),
			COALESCE(SUM(elapsed_ms), 0),
			COUNT(CASE WHEN image_name != '' THEN 1 END)
		FROM runs
		WHERE ended_at >= ?
	`, since).Scan(
		&stats.TotalRuns, &stats.Completed, &stats.Failed, &stats.Rated,
		&avgRating, &avgElapsed, &totalElapsed, &stats.ImagesCreated,
	)
	if err != nil {
		return nil, err
	}

	stats.AvgRating = avgRating.Float64
	stats.AvgElapsedMS = avgElapsed.Float64
	stats.TotalElapsed = time.Duration(totalElapsed) * time.Millisecond
	return stats, nil
}

// GetRatingCounts returns the number of runs per rating (0 = unrated)
func (d *RunDB) GetRatingCounts() (map[int]int, error) {
	rows, err := d.db.Query(`
	SELECT rating, COUNT(*)
	FROM runs
	GROUP BY rating
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			return nil, err
		}
		counts[rating] = count
	}

	return counts, rows.Err()
}

// DeleteOldRuns removes runs that ended more than olderThanDays days ago.
func (d *RunDB) DeleteOldRuns(olderThanDays int) (int64, error) {
	cutoff := d.timestamp().AddDate(0, 0, -olderThanDays)

	result, err := d.db.Exec(`
		DELETE FROM runs WHERE ended_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
