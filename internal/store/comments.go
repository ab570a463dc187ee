package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Comment is a locally stored issue comment. Comments pulled from GitHub
// carry the remote comment id so repeated pulls stay idempotent.
type Comment struct {
	ID              string
	IssueID         string
	Content         string
	AuthorID        string // empty when the author could not be attributed
	IsAI            bool
	RemoteCommentID int64 // 0 for locally authored comments
	SyncEnabled     bool
	CreatedAt       time.Time
}

const commentColumns = `id, issue_id, content, author_id, is_ai,
	remote_comment_id, sync_enabled, created_at`

// CreateComment inserts a new comment. A missing ID is generated.
func (s *Store) CreateComment(c *Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO comments (` + commentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.Exec(query,
		c.ID,
		c.IssueID,
		c.Content,
		sql.NullString{String: c.AuthorID, Valid: c.AuthorID != ""},
		boolInt(c.IsAI),
		sql.NullInt64{Int64: c.RemoteCommentID, Valid: c.RemoteCommentID != 0},
		boolInt(c.SyncEnabled),
		timeText(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// UpdateCommentContent replaces the content of an existing comment.
func (s *Store) UpdateCommentContent(id, content string) error {
	result, err := s.conn.Exec(`UPDATE comments SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}
	return requireRow(result, "comment", id)
}

// GetCommentByRemoteID retrieves the comment mirroring a GitHub comment on
// the given issue, if one exists. This is the dedupe key for comment sync.
func (s *Store) GetCommentByRemoteID(issueID string, remoteCommentID int64) (*Comment, error) {
	row := s.conn.QueryRow(`
		SELECT `+commentColumns+` FROM comments
		WHERE issue_id = ? AND remote_comment_id = ?
	`, issueID, remoteCommentID)
	return scanComment(row)
}

// ListComments retrieves all comments for an issue, oldest first.
func (s *Store) ListComments(issueID string) ([]*Comment, error) {
	rows, err := s.conn.Query(`
		SELECT `+commentColumns+` FROM comments
		WHERE issue_id = ? ORDER BY created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comment rows: %w", err)
	}
	return comments, nil
}

// DeleteCommentByRemoteID removes the local mirror of a deleted GitHub
// comment.
func (s *Store) DeleteCommentByRemoteID(issueID string, remoteCommentID int64) error {
	_, err := s.conn.Exec(`
		DELETE FROM comments WHERE issue_id = ? AND remote_comment_id = ?
	`, issueID, remoteCommentID)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

func scanComment(sc scanner) (*Comment, error) {
	var c Comment
	var authorID, createdAt sql.NullString
	var remoteID sql.NullInt64
	var isAI, syncEnabled int

	err := sc.Scan(&c.ID, &c.IssueID, &c.Content, &authorID, &isAI,
		&remoteID, &syncEnabled, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("comment: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan comment: %w", err)
	}

	c.AuthorID = authorID.String
	c.RemoteCommentID = remoteID.Int64
	c.IsAI = isAI == 1
	c.SyncEnabled = syncEnabled == 1
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
