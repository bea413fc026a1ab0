package storage

import (
	"fmt"
	"time"
)

// DailyStats represents statistics for a single day
type DailyStats struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// StrategyStats counts the deliveries each strategy completed.
type StrategyStats struct {
	Strategy  string `json:"strategy"`
	Delivered int    `json:"delivered"`
}

// OverallStats summarises every attempt since a point in time.
type OverallStats struct {
	Total          int     `json:"total"`
	Delivered      int     `json:"delivered"`
	Failed         int     `json:"failed"`
	Skipped        int     `json:"skipped"`
	Pending        int     `json:"pending"`
	AvgInjectionMs float64 `json:"avg_injection_ms"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

func daysAgo(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}

// GetDailyStats retrieves statistics grouped by date for the last N days
func (db *DB) GetDailyStats(days int) ([]DailyStats, error) {
	query := `
		SELECT
			DATE(timestamp) as date,
			COUNT(*) as total,
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END) as delivered,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END) as skipped
		FROM injection_attempts
		WHERE timestamp >= ?
		GROUP BY DATE(timestamp)
		ORDER BY date DESC
	`

	rows, err := db.conn.Query(query, daysAgo(days))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStats
	for rows.Next() {
		var s DailyStats
		if err := rows.Scan(&s.Date, &s.Total, &s.Delivered, &s.Failed, &s.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetStrategyStats counts successful deliveries per strategy for the last N days
func (db *DB) GetStrategyStats(days int) ([]StrategyStats, error) {
	query := `
		SELECT
			json_extract(s.value, '$.strategy') as strategy,
			COUNT(*) as delivered
		FROM injection_attempts a, json_each(a.strategies) s
		WHERE a.timestamp >= ? AND json_extract(s.value, '$.status') = 'success'
		GROUP BY strategy
		ORDER BY delivered DESC, strategy
	`

	rows, err := db.conn.Query(query, daysAgo(days))
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy stats: %w", err)
	}
	defer rows.Close()

	var stats []StrategyStats
	for rows.Next() {
		var s StrategyStats
		if err := rows.Scan(&s.Strategy, &s.Delivered); err != nil {
			return nil, fmt.Errorf("failed to scan strategy stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetOverallStats retrieves overall statistics for the last N days
func (db *DB) GetOverallStats(days int) (*OverallStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) as delivered,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) as failed,
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0) as skipped,
			COALESCE(SUM(CASE WHEN recoverable = 1 AND recovered = 0 THEN 1 ELSE 0 END), 0) as pending,
			COALESCE(AVG(injection_ms), 0) as avg_injection_ms,
			COALESCE(AVG(CASE WHEN confidence > 0 THEN confidence END), 0) as avg_confidence
		FROM injection_attempts
		WHERE timestamp >= ?
	`

	var stats OverallStats
	err := db.conn.QueryRow(query, daysAgo(days)).Scan(
		&stats.Total,
		&stats.Delivered,
		&stats.Failed,
		&stats.Skipped,
		&stats.Pending,
		&stats.AvgInjectionMs,
		&stats.AvgConfidence,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query overall stats: %w", err)
	}
	return &stats, nil
}
