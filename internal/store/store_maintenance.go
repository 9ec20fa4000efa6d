package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"marginalia/internal/listening"
)

// DatabaseHealth captures diagnostic information about the database file.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	TotalSessions    int
	Error            string
}

// HealthSummary aggregates session counts for diagnostic output.
type HealthSummary struct {
	Total      int
	Active     int
	Processing int
	Complete   int
	Failed     int
	Stale      int
}

var expectedTables = []string{"books", "listening_sessions", "notes", "transcripts", "artifacts", "schema_version"}

// Stats returns a count of sessions grouped by status.
func (s *Store) Stats(ctx context.Context) (map[listening.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM listening_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[listening.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[listening.Status(status)] = count
	}
	return stats, rows.Err()
}

// Health aggregates session state. Stale counts processing sessions not
// updated since staleBefore, regardless of retry budget.
func (s *Store) Health(ctx context.Context, staleBefore time.Time) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch {
		case status == listening.StatusComplete:
			health.Complete += count
		case status == listening.StatusFailed:
			health.Failed += count
		case status.IsActive():
			health.Active += count
			if status == listening.StatusTranscribing || status == listening.StatusSynthesizing {
				health.Processing += count
			}
		}
	}
	for _, status := range listening.ProcessingStatuses() {
		var stale int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM listening_sessions WHERE status = ? AND updated_at < ?`,
			string(status), formatTime(staleBefore),
		).Scan(&stale); err != nil {
			return HealthSummary{}, fmt.Errorf("count stale sessions: %w", err)
		}
		health.Stale += stale
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	present := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = struct{}{}
	}
	rows.Close()
	for _, table := range expectedTables {
		if _, ok := present[table]; !ok {
			health.MissingTables = append(health.MissingTables, table)
		}
	}
	sort.Strings(health.MissingTables)

	if _, ok := present["schema_version"]; ok {
		if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
			health.Error = err.Error()
			return health, fmt.Errorf("read schema version: %w", err)
		}
	}
	if _, ok := present["listening_sessions"]; ok {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM listening_sessions").Scan(&health.TotalSessions); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count sessions: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
