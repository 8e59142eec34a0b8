// Package registry is the Hub's durable store of machines, projects,
// and pending joins, backed by modernc.org/sqlite exactly as the
// teacher's internal/db + internal/agents packages are: Init opens the
// database, enables WAL, creates schema, and runs migrations, following
// internal/db/db.go's Init/enableWAL/createSchema/migrateSchema
// sequence. Row scan/apply helpers follow internal/agents/db.go's
// scanAgentRow/applyAgentFields pattern.
package registry

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = "2006-01-02 15:04:05"

// Registry is an in-process façade over the durable SQLite store.
type Registry struct {
	db *sql.DB
}

// Init opens (creating if necessary) the database at path, enables WAL,
// and creates/migrates the schema.
func Init(path string) (*Registry, error) {
	if err := ensureDirectory(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to registry database: %w", err)
	}

	r := &Registry{db: db}
	r.enableWAL()
	if err := r.createSchema(); err != nil {
		return nil, err
	}
	r.migrateSchema()
	return r, nil
}

// DB exposes the underlying connection for packages (notify) that share
// the same database file, mirroring the teacher's package-level DB var
// being threaded into notify.NewDispatcher.
func (r *Registry) DB() *sql.DB { return r.db }

// Close releases the underlying database connection.
func (r *Registry) Close() error { return r.db.Close() }

func ensureDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create registry directory %s: %w", dir, err)
		}
	}
	return nil
}

func (r *Registry) enableWAL() {
	if _, err := r.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("registry: could not enable WAL mode: %v", err)
	}
}

func (r *Registry) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS machines (
		machine_id     TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL,
		overlay_ip     TEXT,
		daemon_url     TEXT,
		token          TEXT,
		status         TEXT NOT NULL DEFAULT 'pending',
		last_heartbeat DATETIME,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_machines_status ON machines(status);

	CREATE TABLE IF NOT EXISTS projects (
		machine_id  TEXT NOT NULL,
		project_id  TEXT NOT NULL,
		description TEXT,
		caps        TEXT,
		path        TEXT,
		PRIMARY KEY (machine_id, project_id),
		FOREIGN KEY (machine_id) REFERENCES machines(machine_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sessions_seen (
		session_id    TEXT PRIMARY KEY,
		machine_id    TEXT NOT NULL,
		project_id    TEXT NOT NULL,
		status        TEXT,
		summary       TEXT,
		last_seen     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_seen_project ON sessions_seen(machine_id, project_id);

	CREATE TABLE IF NOT EXISTS join_tokens (
		token      TEXT PRIMARY KEY,
		machine_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME,
		used_at    DATETIME
	);

	CREATE TABLE IF NOT EXISTS notification_settings (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		name               TEXT NOT NULL,
		service_type       TEXT NOT NULL,
		config_json        TEXT NOT NULL,
		enabled            INTEGER DEFAULT 1,
		notify_on_critical INTEGER DEFAULT 1,
		notify_on_warning  INTEGER DEFAULT 1,
		notify_on_healthy  INTEGER DEFAULT 0,
		created_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS notification_history (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		setting_id    INTEGER,
		event_type    TEXT NOT NULL,
		mission_id    TEXT,
		from_agent    TEXT,
		message       TEXT NOT NULL,
		status        TEXT NOT NULL,
		error_message TEXT,
		sent_at       DATETIME,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("create registry schema: %w", err)
	}
	return nil
}

func (r *Registry) migrateSchema() {
	r.db.Exec("ALTER TABLE machines ADD COLUMN revoked_at DATETIME")
}

// pendingGCAfter is the default interval after which pending/denied
// machine rows are garbage-collected (spec.md §3 Machine lifecycle,
// supplemented from original_source/src/hub/registry.py's sweep).
const pendingGCAfter = 24 * time.Hour

// GCPending removes pending/denied machines older than pendingGCAfter.
// Nothing in this module calls it on a schedule; a caller runs it explicitly.
func (r *Registry) GCPending() (int64, error) {
	cutoff := time.Now().UTC().Add(-pendingGCAfter).Format(timeFormat)
	res, err := r.db.Exec(`
		DELETE FROM machines
		WHERE status IN ('pending', 'denied') AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("gc pending machines: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
