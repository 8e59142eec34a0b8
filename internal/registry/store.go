package registry

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"intercom/internal/model"
)

// RegisterMachine upserts a machine row. A new row is inserted as
// pending with no token; for an existing row only display name, overlay
// IP and daemon URL are updated, so status and token are left as they
// are (ApproveJoin, DenyJoin and RevokeMachine change those).
func (r *Registry) RegisterMachine(machineID, displayName, overlayIP, daemonURL string) (*model.Machine, error) {
	existing, err := r.GetMachine(machineID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_, err := r.db.Exec(`
			UPDATE machines SET display_name = ?, overlay_ip = ?, daemon_url = ?
			WHERE machine_id = ?`, displayName, overlayIP, daemonURL, machineID)
		if err != nil {
			return nil, fmt.Errorf("update machine %s: %w", machineID, err)
		}
		return r.GetMachine(machineID)
	}

	_, err = r.db.Exec(`
		INSERT INTO machines (machine_id, display_name, overlay_ip, daemon_url, status)
		VALUES (?, ?, ?, ?, ?)`, machineID, displayName, overlayIP, daemonURL, model.MachineStatusPending)
	if err != nil {
		return nil, fmt.Errorf("register machine %s: %w", machineID, err)
	}
	return r.GetMachine(machineID)
}

// RegisterProject upserts a project row. The synthetic home project is
// set implicitly by callers passing model.HomeProjectID.
func (r *Registry) RegisterProject(machineID, projectID, description string, caps []string, path string) error {
	_, err := r.db.Exec(`
		INSERT INTO projects (machine_id, project_id, description, caps, path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(machine_id, project_id) DO UPDATE SET
			description = excluded.description,
			caps        = excluded.caps,
			path        = excluded.path`,
		machineID, projectID, description, strings.Join(caps, ","), path)
	if err != nil {
		return fmt.Errorf("register project %s/%s: %w", machineID, projectID, err)
	}
	return nil
}

// UpdateHeartbeat refreshes last_heartbeat and, when non-empty, overlayIP/daemonURL.
func (r *Registry) UpdateHeartbeat(machineID, overlayIP, daemonURL string) error {
	now := time.Now().UTC().Format(timeFormat)
	if overlayIP != "" || daemonURL != "" {
		_, err := r.db.Exec(`
			UPDATE machines SET last_heartbeat = ?,
				overlay_ip = CASE WHEN ? != '' THEN ? ELSE overlay_ip END,
				daemon_url = CASE WHEN ? != '' THEN ? ELSE daemon_url END
			WHERE machine_id = ?`,
			now, overlayIP, overlayIP, daemonURL, daemonURL, machineID)
		return err
	}
	_, err := r.db.Exec(`UPDATE machines SET last_heartbeat = ? WHERE machine_id = ?`, now, machineID)
	return err
}

// ApproveJoin transitions a machine to approved and mints its ongoing
// HMAC token, unless it is already approved (idempotent: same token
// returned per spec.md §8).
func (r *Registry) ApproveJoin(machineID string) (token string, err error) {
	m, err := r.GetMachine(machineID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("approve join: machine %s not found", machineID)
	}
	if m.Status == model.MachineStatusApproved {
		return m.Token, nil
	}

	token, err = generateToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	_, err = r.db.Exec(`
		UPDATE machines SET status = ?, token = ? WHERE machine_id = ?`,
		model.MachineStatusApproved, token, machineID)
	if err != nil {
		return "", fmt.Errorf("approve join %s: %w", machineID, err)
	}
	return token, nil
}

// DenyJoin transitions a machine to denied. Idempotent.
func (r *Registry) DenyJoin(machineID string) error {
	_, err := r.db.Exec(`
		UPDATE machines SET status = ? WHERE machine_id = ? AND status != ?`,
		model.MachineStatusDenied, machineID, model.MachineStatusApproved)
	if err != nil {
		return fmt.Errorf("deny join %s: %w", machineID, err)
	}
	return nil
}

// RevokeMachine transitions an approved machine to revoked, clearing its
// token. This is the one legal exception to status monotonicity.
func (r *Registry) RevokeMachine(machineID string) error {
	_, err := r.db.Exec(`
		UPDATE machines SET status = ?, token = NULL WHERE machine_id = ?`,
		model.MachineStatusRevoked, machineID)
	if err != nil {
		return fmt.Errorf("revoke machine %s: %w", machineID, err)
	}
	return nil
}

// GetMachine returns a machine by id, or nil if not found.
func (r *Registry) GetMachine(machineID string) (*model.Machine, error) {
	row := r.db.QueryRow(`
		SELECT machine_id, display_name, COALESCE(overlay_ip,''), COALESCE(daemon_url,''),
		       COALESCE(token,''), status, COALESCE(last_heartbeat,''), created_at
		FROM machines WHERE machine_id = ?`, machineID)
	return scanMachineRow(row)
}

// TokenForMachine resolves a machine's current token for auth.Verify.
// Returns ok=false for an unknown machine; returns token="" for a known
// but unapproved machine.
func (r *Registry) TokenForMachine(machineID string) (token string, ok bool) {
	m, err := r.GetMachine(machineID)
	if err != nil || m == nil {
		return "", false
	}
	return m.Token, true
}

// ListAgents lists projects joined with their owning machine's status,
// filtered per spec.md §6 (`all`, `online`, `machine:<id>`).
func (r *Registry) ListAgents(filter string) ([]model.Project, error) {
	query := `
		SELECT p.machine_id, p.project_id, COALESCE(p.description,''),
		       COALESCE(p.caps,''), COALESCE(p.path,'')
		FROM projects p
		JOIN machines m ON m.machine_id = p.machine_id`
	var args []interface{}

	switch {
	case filter == "" || filter == "all":
	case filter == "online":
		query += ` WHERE m.last_heartbeat IS NOT NULL AND
			(julianday('now') - julianday(m.last_heartbeat)) * 86400 <= 90`
	case strings.HasPrefix(filter, "machine:"):
		query += ` WHERE p.machine_id = ?`
		args = append(args, strings.TrimPrefix(filter, "machine:"))
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		var caps string
		if err := rows.Scan(&p.MachineID, &p.ProjectID, &p.Description, &caps, &p.Path); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if caps != "" {
			p.Caps = strings.Split(caps, ",")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPendingJoins returns machines awaiting operator decision.
func (r *Registry) GetPendingJoins() ([]model.Machine, error) {
	rows, err := r.db.Query(`
		SELECT machine_id, display_name, COALESCE(overlay_ip,''), COALESCE(daemon_url,''),
		       COALESCE(token,''), status, COALESCE(last_heartbeat,''), created_at
		FROM machines WHERE status = ? ORDER BY created_at`, model.MachineStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending joins: %w", err)
	}
	defer rows.Close()

	var out []model.Machine
	for rows.Next() {
		m, err := scanMachineRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMachineRow(row *sql.Row) (*model.Machine, error) {
	var m model.Machine
	var status string
	var lastHeartbeat, createdAt string
	err := row.Scan(&m.MachineID, &m.DisplayName, &m.OverlayIP, &m.DaemonURL,
		&m.Token, &status, &lastHeartbeat, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan machine: %w", err)
	}
	m.Status = model.MachineStatus(status)
	m.LastHeartbeat = parseTime(lastHeartbeat)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func scanMachineRows(rows *sql.Rows) (*model.Machine, error) {
	var m model.Machine
	var status string
	var lastHeartbeat, createdAt string
	if err := rows.Scan(&m.MachineID, &m.DisplayName, &m.OverlayIP, &m.DaemonURL,
		&m.Token, &status, &lastHeartbeat, &createdAt); err != nil {
		return nil, fmt.Errorf("scan machine: %w", err)
	}
	m.Status = model.MachineStatus(status)
	m.LastHeartbeat = parseTime(lastHeartbeat)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// ─── Join tokens ─────────────────────────────────────────────────────

// CreateJoinToken stores a one-time token gating a pending join request,
// grounded on agents.CreateRegistrationToken, though here it gates the
// join request itself rather than agent enrollment (spec.md §4.2).
func (r *Registry) CreateJoinToken(machineID string, expiresIn time.Duration) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().UTC().Add(expiresIn).Format(timeFormat)
	_, err = r.db.Exec(`
		INSERT INTO join_tokens (token, machine_id, expires_at) VALUES (?, ?, ?)`,
		token, machineID, expiresAt)
	if err != nil {
		return "", fmt.Errorf("create join token: %w", err)
	}
	return token, nil
}

// ConsumeJoinToken marks a join token used, returning the machine it was
// issued for. Returns ok=false if unknown, expired, or already used.
func (r *Registry) ConsumeJoinToken(token string) (machineID string, ok bool, err error) {
	row := r.db.QueryRow(`
		SELECT machine_id FROM join_tokens
		WHERE token = ? AND used_at IS NULL AND (expires_at IS NULL OR expires_at > datetime('now'))`, token)
	if err := row.Scan(&machineID); err == sql.ErrNoRows {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("consume join token: %w", err)
	}
	_, err = r.db.Exec(`UPDATE join_tokens SET used_at = ? WHERE token = ?`,
		time.Now().UTC().Format(timeFormat), token)
	return machineID, true, err
}
