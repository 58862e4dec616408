package storage

import (
	"fmt"
	"time"
)

// Visitor is one recorded page view.
type Visitor struct {
	ID        int       `json:"id"`
	HashedIP  string    `json:"hashed_ip"`
	UserAgent string    `json:"user_agent"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// SectionReveals counts the profiles that scrolled a section into view.
type SectionReveals struct {
	Block string `json:"block"`
	Count int64  `json:"count"`
}

// Stats summarises the visitor log for the admin console.
type Stats struct {
	TotalVisitors    int64            `json:"total_visitors"`
	UniqueVisitors   int64            `json:"unique_visitors"`
	VisitorsToday    int64            `json:"visitors_today"`
	VisitorsThisWeek int64            `json:"visitors_this_week"`
	DarkProfiles     int64            `json:"dark_profiles"`
	LightProfiles    int64            `json:"light_profiles"`
	Reveals          []SectionReveals `json:"reveals"`
	RecentVisitors   []Visitor        `json:"recent_visitors"`
}

// RecordVisit appends a page view.
func (d *DB) RecordVisit(hashedIP, userAgent, path string) error {
	_, err := d.sql.Exec(`
		INSERT INTO visitors (hashed_ip, user_agent, path, timestamp)
		VALUES (?, ?, ?, ?)
	`, hashedIP, userAgent, path, formatTime(d.now()))
	if err != nil {
		return fmt.Errorf("recording visitor: %w", err)
	}
	return nil
}

// RecordReveal notes that profile saw block. Repeats are ignored.
func (d *DB) RecordReveal(profile, block string) error {
	_, err := d.sql.Exec(`
		INSERT OR IGNORE INTO reveals (profile_id, block_id, revealed_at)
		VALUES (?, ?, ?)
	`, profile, block, formatTime(d.now()))
	if err != nil {
		return fmt.Errorf("recording reveal: %w", err)
	}
	return nil
}

// CleanupVisitors deletes page views older than retention.
func (d *DB) CleanupVisitors(retention time.Duration) (int64, error) {
	cutoff := formatTime(d.now().Add(-retention))
	result, err := d.sql.Exec(`DELETE FROM visitors WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up visitors: %w", err)
	}
	return result.RowsAffected()
}

// RecentVisitors returns the latest page views, newest first.
func (d *DB) RecentVisitors(limit int) ([]Visitor, error) {
	rows, err := d.sql.Query(`
		SELECT id, hashed_ip, COALESCE(user_agent, ''), COALESCE(path, ''), timestamp
		FROM visitors
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing visitors: %w", err)
	}
	defer rows.Close()

	var visitors []Visitor
	for rows.Next() {
		var v Visitor
		var ts string
		if err := rows.Scan(&v.ID, &v.HashedIP, &v.UserAgent, &v.Path, &ts); err != nil {
			return nil, fmt.Errorf("scanning visitor: %w", err)
		}
		if v.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("visitor %d: %w", v.ID, err)
		}
		visitors = append(visitors, v)
	}
	return visitors, rows.Err()
}

// Stats gathers the admin dashboard numbers.
func (d *DB) Stats() (*Stats, error) {
	stats := &Stats{}
	now := d.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&stats.TotalVisitors, `SELECT COUNT(*) FROM visitors`, nil},
		{&stats.UniqueVisitors, `SELECT COUNT(DISTINCT hashed_ip) FROM visitors`, nil},
		{&stats.VisitorsToday, `SELECT COUNT(*) FROM visitors WHERE timestamp >= ?`,
			[]any{formatTime(startOfDay)}},
		{&stats.VisitorsThisWeek, `SELECT COUNT(*) FROM visitors WHERE timestamp >= ?`,
			[]any{formatTime(now.Add(-7 * 24 * time.Hour))}},
		{&stats.DarkProfiles, `SELECT COUNT(*) FROM preferences WHERE key = 'theme-preference' AND value = 'dark'`, nil},
		{&stats.LightProfiles, `SELECT COUNT(*) FROM preferences WHERE key = 'theme-preference' AND value = 'light'`, nil},
	}
	for _, c := range counts {
		if err := d.sql.QueryRow(c.query, c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}

	rows, err := d.sql.Query(`
		SELECT block_id, COUNT(*) FROM reveals
		GROUP BY block_id
		ORDER BY COUNT(*) DESC, block_id
	`)
	if err != nil {
		return nil, fmt.Errorf("counting reveals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r SectionReveals
		if err := rows.Scan(&r.Block, &r.Count); err != nil {
			return nil, fmt.Errorf("scanning reveals: %w", err)
		}
		stats.Reveals = append(stats.Reveals, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.RecentVisitors, err = d.RecentVisitors(50)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
