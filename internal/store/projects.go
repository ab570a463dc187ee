package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Project is a locally owned board that may be linked to one GitHub
// repository.
type Project struct {
	ID             string
	Name           string
	OwnerID        string
	RepoFullName   string // "owner/repo", empty when unlinked
	RepoURL        string
	InstallationID string // GitHub App installation handle
	SyncEnabled    bool
	LastSyncAt     time.Time // project-level sync cursor, zero when never synced
	WebhookSecret  string
}

// Linked reports whether the project has a repository and credential
// configured.
func (p *Project) Linked() bool {
	return p.RepoFullName != "" && p.InstallationID != ""
}

// CreateProject inserts a new project. A missing ID is generated.
func (s *Store) CreateProject(p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	query := `
		INSERT INTO projects (id, name, owner_id, repo_full_name, repo_url,
			installation_id, sync_enabled, last_sync_at, webhook_secret)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.Exec(query,
		p.ID,
		p.Name,
		p.OwnerID,
		sql.NullString{String: p.RepoFullName, Valid: p.RepoFullName != ""},
		sql.NullString{String: p.RepoURL, Valid: p.RepoURL != ""},
		sql.NullString{String: p.InstallationID, Valid: p.InstallationID != ""},
		boolInt(p.SyncEnabled),
		timeText(p.LastSyncAt),
		sql.NullString{String: p.WebhookSecret, Valid: p.WebhookSecret != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.conn.QueryRow(`
		SELECT id, name, owner_id, repo_full_name, repo_url, installation_id,
		       sync_enabled, last_sync_at, webhook_secret
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

// FindProjectsByRepo retrieves all sync-enabled projects linked to the given
// repository, optionally narrowed to one installation. Used by the webhook
// dispatcher to resolve the owning project of an inbound event.
func (s *Store) FindProjectsByRepo(repoFullName, installationID string) ([]*Project, error) {
	query := `
		SELECT id, name, owner_id, repo_full_name, repo_url, installation_id,
		       sync_enabled, last_sync_at, webhook_secret
		FROM projects
		WHERE repo_full_name = ? AND sync_enabled = 1
	`
	args := []interface{}{repoFullName}
	if installationID != "" {
		query += " AND installation_id = ?"
		args = append(args, installationID)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return projects, nil
}

// LinkProject stores the repository linkage for a project and enables sync.
func (s *Store) LinkProject(id, repoFullName, repoURL, installationID, webhookSecret string) error {
	result, err := s.conn.Exec(`
		UPDATE projects
		SET repo_full_name = ?, repo_url = ?, installation_id = ?,
		    sync_enabled = 1, webhook_secret = ?
		WHERE id = ?
	`, repoFullName, repoURL, installationID, webhookSecret, id)
	if err != nil {
		return fmt.Errorf("failed to link project: %w", err)
	}
	return requireRow(result, "project", id)
}

// UnlinkProject clears all repository linkage from a project, including its
// sync cursor and webhook secret.
func (s *Store) UnlinkProject(id string) error {
	result, err := s.conn.Exec(`
		UPDATE projects
		SET repo_full_name = NULL, repo_url = NULL, installation_id = NULL,
		    sync_enabled = 0, last_sync_at = NULL, webhook_secret = NULL
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to unlink project: %w", err)
	}
	return requireRow(result, "project", id)
}

// ClearInstallationLinks clears the repository linkage of every project bound
// to the given installation. Sync history (records, issues, comments) is
// preserved.
func (s *Store) ClearInstallationLinks(installationID string) error {
	_, err := s.conn.Exec(`
		UPDATE projects
		SET repo_full_name = NULL, repo_url = NULL, installation_id = NULL,
		    sync_enabled = 0
		WHERE installation_id = ?
	`, installationID)
	if err != nil {
		return fmt.Errorf("failed to clear installation links: %w", err)
	}
	return nil
}

// SetProjectLastSync advances the project-level sync cursor.
func (s *Store) SetProjectLastSync(id string, t time.Time) error {
	result, err := s.conn.Exec(`UPDATE projects SET last_sync_at = ? WHERE id = ?`,
		timeText(t), id)
	if err != nil {
		return fmt.Errorf("failed to set last sync time: %w", err)
	}
	return requireRow(result, "project", id)
}

func scanProject(sc scanner) (*Project, error) {
	var p Project
	var repoName, repoURL, installID, lastSync, secret sql.NullString
	var syncEnabled int

	err := sc.Scan(&p.ID, &p.Name, &p.OwnerID, &repoName, &repoURL, &installID,
		&syncEnabled, &lastSync, &secret)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	p.RepoFullName = repoName.String
	p.RepoURL = repoURL.String
	p.InstallationID = installID.String
	p.SyncEnabled = syncEnabled == 1
	p.LastSyncAt = parseTime(lastSync)
	p.WebhookSecret = secret.String
	return &p, nil
}

func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
