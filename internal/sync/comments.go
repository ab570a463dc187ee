package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memolab/issuesync/internal/logger"
	"github.com/memolab/issuesync/internal/store"
)

// agentBodyMarkers are body substrings that identify comments written by an
// AI coding agent. Matching is a heuristic, not a guarantee.
var agentBodyMarkers = []string{
	"@claude",
	"Claude Code is working",
	"Generated with [Claude Code]",
}

// syncCommentsForIssue pulls remote comments for a linked issue into the
// local store. Comments already present (deduped on issue id + remote
// comment id) have their content refreshed in place; new ones are created
// with author resolution and the agent-authorship heuristic. Returns the
// number of comments created.
//
// Comment sync is remote-to-local only; pushing local comments outward is a
// stated design boundary, not an omission.
func (e *Engine) syncCommentsForIssue(ctx context.Context, issueID string, remoteNumber int) (int, error) {
	remoteComments, err := e.client.ListComments(ctx, e.owner, e.repoName, remoteNumber)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, rc := range remoteComments {
		existing, err := e.store.GetCommentByRemoteID(issueID, rc.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return created, err
		}

		if existing != nil {
			// Edited remotely: refresh content, keeping the attribution
			// decision made when the comment was first pulled.
			content := rc.Body
			if strings.HasPrefix(existing.Content, attributionPrefix) {
				content = attributeComment(rc.User.Login, rc.Body)
			}
			if content != existing.Content {
				if err := e.store.UpdateCommentContent(existing.ID, content); err != nil {
					return created, err
				}
			}
			continue
		}

		authorID, err := e.resolver.Resolve(rc.User.Login, rc.User.ID)
		if err != nil {
			return created, err
		}

		content := rc.Body
		if authorID == "" {
			// Unattributable author: fall back to the project owner and keep
			// the remote identity in the content itself.
			authorID = e.project.OwnerID
			content = attributeComment(rc.User.Login, rc.Body)
		}

		if err := e.store.CreateComment(&store.Comment{
			IssueID:         issueID,
			Content:         content,
			AuthorID:        authorID,
			IsAI:            isAgentComment(rc.User.Login, rc.Body),
			RemoteCommentID: rc.ID,
			SyncEnabled:     true,
			CreatedAt:       rc.CreatedAt,
		}); err != nil {
			return created, err
		}
		created++
	}

	if created > 0 {
		logger.Debug("sync: created %d comments for issue %s (#%d)", created, issueID, remoteNumber)
	}
	return created, nil
}

// PullComments forces a comment sync for the issue linked to a remote
// number. Used by the webhook dispatcher on comment events; redeliveries are
// harmless because the pull dedupes on remote comment id.
func (e *Engine) PullComments(ctx context.Context, remoteNumber int) (int, error) {
	rec, err := e.store.GetSyncRecordByRemote(e.project.ID, remoteNumber)
	if err != nil {
		return 0, fmt.Errorf("pull comments for #%d: %w", remoteNumber, err)
	}
	return e.syncCommentsForIssue(ctx, rec.IssueID, remoteNumber)
}

// DropRemoteComment removes the local mirror of a deleted remote comment.
func (e *Engine) DropRemoteComment(remoteNumber int, remoteCommentID int64) error {
	rec, err := e.store.GetSyncRecordByRemote(e.project.ID, remoteNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.store.DeleteCommentByRemoteID(rec.IssueID, remoteCommentID)
}

const attributionPrefix = "**From GitHub"

// attributeComment prefixes content with the remote identity of an author
// that has no local account.
func attributeComment(login, body string) string {
	return fmt.Sprintf("%s (@%s):**\n\n%s", attributionPrefix, login, body)
}

// isAgentComment classifies a comment as AI-authored from the author login
// or known body signatures. Best effort only; it may misclassify.
func isAgentComment(login, body string) bool {
	lower := strings.ToLower(login)
	if strings.Contains(lower, "claude") || strings.HasSuffix(lower, "[bot]") {
		return true
	}
	for _, marker := range agentBodyMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}
