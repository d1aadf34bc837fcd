// Package timeline persists the agent's audit trail and small runtime
// settings in a local sqlite database.
package timeline

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type TimelineService struct {
	db *sql.DB
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TimelineService{db: db}, nil
}

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// Record appends an audit entry. A missing EventID gets a fresh UUID;
// re-recording the same EventID is a no-op.
func (s *TimelineService) Record(e *Entry) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO audit_log (event_id, kind, guild_id, title, body, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, e.EventID, e.Kind, e.GuildID, e.Title, e.Body, e.Metadata, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty guildID
// returns entries for every guild.
func (s *TimelineService) Recent(guildID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, event_id, kind, guild_id, title, body, metadata, created_at FROM audit_log`
	args := []any{}
	if guildID != "" {
		query += ` WHERE guild_id = ?`
		args = append(args, guildID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EventID, &e.Kind, &e.GuildID, &e.Title, &e.Body, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByKind returns the number of entries per kind.
func (s *TimelineService) CountByKind() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM audit_log GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// GetSetting returns a setting value; sql.ErrNoRows when unset.
func (s *TimelineService) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetSetting persists a setting value.
func (s *TimelineService) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

// UpsertScheduledJob records the last run status of a scheduler job.
func (s *TimelineService) UpsertScheduledJob(name, status string, tick time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_jobs (name, last_status, last_tick, updated_at) VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(name) DO UPDATE SET last_status = excluded.last_status, last_tick = excluded.last_tick, updated_at = excluded.updated_at
	`, name, status, tick.UTC())
	return err
}

// ScheduledJob is the last recorded run of a scheduler job.
type ScheduledJob struct {
	Name       string
	LastStatus string
	LastTick   time.Time
}

// ScheduledJobs lists the recorded scheduler jobs by name.
func (s *TimelineService) ScheduledJobs() ([]ScheduledJob, error) {
	rows, err := s.db.Query(`SELECT name, last_status, last_tick FROM scheduled_jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledJob
	for rows.Next() {
		var j ScheduledJob
		if err := rows.Scan(&j.Name, &j.LastStatus, &j.LastTick); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
