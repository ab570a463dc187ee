package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memolab/issuesync/internal/status"
)

// Issue is a locally owned issue, optionally linked to a GitHub issue.
type Issue struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	Status       status.Status
	AssigneeID   string // empty when unassigned
	Labels       []string
	RemoteNumber int // 0 when not linked
	RemoteURL    string
	SyncEnabled  bool
	LastSyncedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const issueColumns = `id, project_id, title, description, status, assignee_id,
	labels, remote_number, remote_url, sync_enabled, last_synced_at,
	created_at, updated_at`

// CreateIssue inserts a new issue. A missing ID is generated and timestamps
// default to now.
func (s *Store) CreateIssue(issue *Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = now
	}

	labelsJSON, err := json.Marshal(issue.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
		INSERT INTO issues (` + issueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.Exec(query,
		issue.ID,
		issue.ProjectID,
		issue.Title,
		sql.NullString{String: issue.Description, Valid: issue.Description != ""},
		string(issue.Status),
		sql.NullString{String: issue.AssigneeID, Valid: issue.AssigneeID != ""},
		string(labelsJSON),
		issue.RemoteNumber,
		sql.NullString{String: issue.RemoteURL, Valid: issue.RemoteURL != ""},
		boolInt(issue.SyncEnabled),
		timeText(issue.LastSyncedAt),
		timeText(issue.CreatedAt),
		timeText(issue.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert issue: %w", err)
	}
	return nil
}

// UpdateIssue overwrites all mutable fields of an issue and bumps updated_at.
func (s *Store) UpdateIssue(issue *Issue) error {
	labelsJSON, err := json.Marshal(issue.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	issue.UpdatedAt = time.Now().UTC()

	result, err := s.conn.Exec(`
		UPDATE issues
		SET title = ?, description = ?, status = ?, assignee_id = ?, labels = ?,
		    remote_number = ?, remote_url = ?, sync_enabled = ?,
		    last_synced_at = ?, updated_at = ?
		WHERE id = ?
	`,
		issue.Title,
		sql.NullString{String: issue.Description, Valid: issue.Description != ""},
		string(issue.Status),
		sql.NullString{String: issue.AssigneeID, Valid: issue.AssigneeID != ""},
		string(labelsJSON),
		issue.RemoteNumber,
		sql.NullString{String: issue.RemoteURL, Valid: issue.RemoteURL != ""},
		boolInt(issue.SyncEnabled),
		timeText(issue.LastSyncedAt),
		timeText(issue.UpdatedAt),
		issue.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}
	return requireRow(result, "issue", issue.ID)
}

// GetIssue retrieves an issue by id.
func (s *Store) GetIssue(id string) (*Issue, error) {
	row := s.conn.QueryRow(`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	return scanIssue(row)
}

// ListIssues retrieves all issues for a project.
func (s *Store) ListIssues(projectID string) ([]*Issue, error) {
	return s.queryIssues(`
		SELECT `+issueColumns+` FROM issues
		WHERE project_id = ? ORDER BY created_at ASC
	`, projectID)
}

// ListIssuesUpdatedSince retrieves issues of a project updated strictly
// after the given time. A zero time returns every issue. The filter runs in
// Go because stored RFC3339Nano strings trim trailing zeros and do not sort
// lexicographically.
func (s *Store) ListIssuesUpdatedSince(projectID string, since time.Time) ([]*Issue, error) {
	issues, err := s.ListIssues(projectID)
	if err != nil || since.IsZero() {
		return issues, err
	}
	filtered := issues[:0]
	for _, issue := range issues {
		if issue.UpdatedAt.After(since) {
			filtered = append(filtered, issue)
		}
	}
	return filtered, nil
}

// CountIssues returns the number of issues in a project.
func (s *Store) CountIssues(projectID string) (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM issues WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return n, nil
}

// ClearIssueRemoteLink removes the remote-linkage fields from an issue,
// leaving its content untouched.
func (s *Store) ClearIssueRemoteLink(id string) error {
	result, err := s.conn.Exec(`
		UPDATE issues
		SET remote_number = 0, remote_url = NULL, sync_enabled = 0
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear issue remote link: %w", err)
	}
	return requireRow(result, "issue", id)
}

func (s *Store) queryIssues(query string, args ...interface{}) ([]*Issue, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []*Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issue rows: %w", err)
	}
	return issues, nil
}

func scanIssue(sc scanner) (*Issue, error) {
	var issue Issue
	var desc, assignee, labels, remoteURL, lastSynced, createdAt, updatedAt sql.NullString
	var st string
	var syncEnabled int

	err := sc.Scan(
		&issue.ID,
		&issue.ProjectID,
		&issue.Title,
		&desc,
		&st,
		&assignee,
		&labels,
		&issue.RemoteNumber,
		&remoteURL,
		&syncEnabled,
		&lastSynced,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("issue: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan issue: %w", err)
	}

	issue.Description = desc.String
	issue.Status = status.Status(st)
	issue.AssigneeID = assignee.String
	issue.RemoteURL = remoteURL.String
	issue.SyncEnabled = syncEnabled == 1
	issue.LastSyncedAt = parseTime(lastSynced)
	issue.CreatedAt = parseTime(createdAt)
	issue.UpdatedAt = parseTime(updatedAt)

	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &issue.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}
	return &issue, nil
}
