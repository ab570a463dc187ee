package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncRecord is the persistent 1:1 linkage between one local issue and one
// GitHub issue, carrying the pair's last-synchronized timestamp.
type SyncRecord struct {
	ID           string
	IssueID      string
	ProjectID    string
	RemoteNumber int
	RemoteNodeID string
	RepoFullName string
	LastSyncAt   time.Time
}

const recordColumns = `id, issue_id, project_id, remote_number, remote_node_id,
	repo_full_name, last_sync_at`

// UpsertSyncRecord inserts a sync record, or updates the existing one for the
// same issue. The upsert keys on the unique issue_id constraint so that a
// repeated create-or-update sequence (redelivered webhook, retried call)
// never produces duplicate records.
func (s *Store) UpsertSyncRecord(rec *SyncRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.LastSyncAt.IsZero() {
		rec.LastSyncAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_id) DO UPDATE SET
			remote_number = excluded.remote_number,
			remote_node_id = excluded.remote_node_id,
			repo_full_name = excluded.repo_full_name,
			last_sync_at = excluded.last_sync_at
	`
	_, err := s.conn.Exec(query,
		rec.ID,
		rec.IssueID,
		rec.ProjectID,
		rec.RemoteNumber,
		sql.NullString{String: rec.RemoteNodeID, Valid: rec.RemoteNodeID != ""},
		rec.RepoFullName,
		timeText(rec.LastSyncAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync record: %w", err)
	}
	return nil
}

// TouchSyncRecord bumps the last-sync timestamp of the record for an issue.
func (s *Store) TouchSyncRecord(issueID string, t time.Time) error {
	result, err := s.conn.Exec(`
		UPDATE sync_records SET last_sync_at = ? WHERE issue_id = ?
	`, timeText(t), issueID)
	if err != nil {
		return fmt.Errorf("failed to touch sync record: %w", err)
	}
	return requireRow(result, "sync record for issue", issueID)
}

// GetSyncRecordByIssue retrieves the sync record for a local issue.
func (s *Store) GetSyncRecordByIssue(issueID string) (*SyncRecord, error) {
	row := s.conn.QueryRow(`
		SELECT `+recordColumns+` FROM sync_records WHERE issue_id = ?
	`, issueID)
	return scanSyncRecord(row)
}

// GetSyncRecordByRemote retrieves the sync record claiming a remote issue
// number within a project.
func (s *Store) GetSyncRecordByRemote(projectID string, remoteNumber int) (*SyncRecord, error) {
	row := s.conn.QueryRow(`
		SELECT `+recordColumns+` FROM sync_records
		WHERE project_id = ? AND remote_number = ?
	`, projectID, remoteNumber)
	return scanSyncRecord(row)
}

// ListSyncRecords retrieves all sync records for a project.
func (s *Store) ListSyncRecords(projectID string) ([]*SyncRecord, error) {
	rows, err := s.conn.Query(`
		SELECT `+recordColumns+` FROM sync_records
		WHERE project_id = ? ORDER BY remote_number ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync records: %w", err)
	}
	defer rows.Close()

	var records []*SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync record rows: %w", err)
	}
	return records, nil
}

// CountSyncRecords returns the number of synced issues in a project.
func (s *Store) CountSyncRecords(projectID string) (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM sync_records WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync records: %w", err)
	}
	return n, nil
}

// DeleteSyncRecord removes the sync record for one issue. Used when the
// remote issue was deleted; the local issue survives.
func (s *Store) DeleteSyncRecord(issueID string) error {
	_, err := s.conn.Exec(`DELETE FROM sync_records WHERE issue_id = ?`, issueID)
	if err != nil {
		return fmt.Errorf("failed to delete sync record: %w", err)
	}
	return nil
}

// DeleteProjectSyncRecords removes every sync record of a project. Called
// when the project is unlinked from its repository.
func (s *Store) DeleteProjectSyncRecords(projectID string) error {
	_, err := s.conn.Exec(`DELETE FROM sync_records WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project sync records: %w", err)
	}
	return nil
}

func scanSyncRecord(sc scanner) (*SyncRecord, error) {
	var rec SyncRecord
	var nodeID, lastSync sql.NullString

	err := sc.Scan(&rec.ID, &rec.IssueID, &rec.ProjectID, &rec.RemoteNumber,
		&nodeID, &rec.RepoFullName, &lastSync)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sync record: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan sync record: %w", err)
	}

	rec.RemoteNodeID = nodeID.String
	rec.LastSyncAt = parseTime(lastSync)
	return &rec, nil
}
