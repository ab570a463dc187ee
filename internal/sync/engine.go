// Package sync implements the bidirectional synchronization engine between
// the local issue store and a linked GitHub repository.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memolab/issuesync/internal/logger"
	"github.com/memolab/issuesync/internal/remote"
	"github.com/memolab/issuesync/internal/status"
	"github.com/memolab/issuesync/internal/store"
)

// ErrNotLinked is returned when a project has no repository or credential
// configured.
var ErrNotLinked = errors.New("project is not linked to a GitHub repository")

// Options controls a project sync pass.
type Options struct {
	SyncComments bool
	SyncLabels   bool
	// InitialSync makes the pass inbound-only: existing remote issues are
	// imported without re-exporting local ones, so a fresh link does not
	// duplicate issues in either direction.
	InitialSync bool
}

// Counts tallies the entities a pass touched.
type Counts struct {
	IssuesCreatedLocal  int
	IssuesUpdatedLocal  int
	IssuesCreatedRemote int
	IssuesUpdatedRemote int
	CommentsCreated     int
}

// Conflict records a per-item failure during a batch pass. It carries enough
// identity to retry the item by hand with PushIssue or PullIssue.
type Conflict struct {
	IssueID      string
	RemoteNumber int
	Description  string
}

// Result is the outcome of a project sync pass.
type Result struct {
	Success   bool
	Error     string
	Synced    Counts
	Conflicts []Conflict
}

// Notifier receives a best-effort signal after a successful pass. Failures
// have no effect on the sync result.
type Notifier interface {
	ProjectSynced(projectID string)
}

// Engine drives inbound and outbound passes for one project. Construct a
// fresh engine per operation; it holds a snapshot of the project row and a
// client scoped to the project's credential.
type Engine struct {
	store    *store.Store
	client   remote.Client
	project  *store.Project
	owner    string
	repoName string
	resolver *UserResolver
	notifier Notifier
}

// NewEngine builds an engine for a project. It fails with ErrNotLinked when
// the project has no repository or credential configured, and fails fast on a
// malformed repository name.
func NewEngine(st *store.Store, factory remote.Factory, projectID string, notifier Notifier) (*Engine, error) {
	project, err := st.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if !project.Linked() {
		return nil, ErrNotLinked
	}

	owner, repoName, err := parseRepo(project.RepoFullName)
	if err != nil {
		return nil, err
	}

	client, err := factory.ClientFor(project.InstallationID)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:    st,
		client:   client,
		project:  project,
		owner:    owner,
		repoName: repoName,
		resolver: NewUserResolver(st),
		notifier: notifier,
	}, nil
}

// parseRepo splits "owner/repo" into owner and repo name.
func parseRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q: must be owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// Sync runs one full pass: inbound (GitHub to local), then, unless this is
// an initial sync, outbound (local to GitHub). Items are processed strictly
// sequentially; a failure on one item is recorded as a conflict and the pass
// continues. Only a rate-limit error or a cancelled context aborts the whole
// call.
func (e *Engine) Sync(ctx context.Context, opts Options) *Result {
	result := &Result{Success: true}

	logger.Debug("sync: starting pass for project %s (%s), initial=%v",
		e.project.ID, e.project.RepoFullName, opts.InitialSync)

	records, err := e.store.ListSyncRecords(e.project.ID)
	if err != nil {
		return fail(result, err)
	}
	byRemote := make(map[int]*store.SyncRecord, len(records))
	for _, rec := range records {
		byRemote[rec.RemoteNumber] = rec
	}

	if err := e.syncInbound(ctx, byRemote, opts, result); err != nil {
		return fail(result, err)
	}

	if !opts.InitialSync {
		if err := e.syncOutbound(ctx, opts, result); err != nil {
			return fail(result, err)
		}
	}

	// The cursor advances even when individual items produced conflicts;
	// failed items are retried by identity from the conflicts list, not by
	// the next incremental pull.
	if err := e.store.SetProjectLastSync(e.project.ID, time.Now().UTC()); err != nil {
		return fail(result, err)
	}

	if e.notifier != nil {
		go e.notifier.ProjectSynced(e.project.ID)
	}

	logger.Info("sync: project %s done: %+v, %d conflicts",
		e.project.ID, result.Synced, len(result.Conflicts))
	return result
}

// syncInbound pulls remote issues into the local store.
func (e *Engine) syncInbound(ctx context.Context, byRemote map[int]*store.SyncRecord, opts Options, result *Result) error {
	listOpts := remote.ListIssuesOptions{State: "all"}
	if opts.InitialSync {
		listOpts.State = "open"
	} else if !e.project.LastSyncAt.IsZero() {
		// Server-side since filter bounds the payload for incremental runs.
		listOpts.Since = e.project.LastSyncAt
	}

	remoteIssues, err := e.client.ListIssues(ctx, e.owner, e.repoName, listOpts)
	if err != nil {
		return err
	}
	logger.Debug("sync: %d remote issues to process", len(remoteIssues))

	for _, ri := range remoteIssues {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.applyRemoteIssue(ctx, ri, byRemote[ri.Number], opts, result); err != nil {
			if _, ok := remote.IsRateLimit(err); ok {
				return err
			}
			result.Conflicts = append(result.Conflicts, Conflict{
				RemoteNumber: ri.Number,
				Description:  fmt.Sprintf("failed to sync issue: %v", err),
			})
		}
	}
	return nil
}

// applyRemoteIssue writes one remote issue into the local store, creating or
// updating the local issue and its sync record.
func (e *Engine) applyRemoteIssue(ctx context.Context, ri *remote.Issue, rec *store.SyncRecord, opts Options, result *Result) error {
	assigneeID, err := e.resolveAssignee(ri)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var issueID string

	if rec != nil {
		issue, err := e.store.GetIssue(rec.IssueID)
		if err != nil {
			return err
		}

		issue.Title = ri.Title
		issue.Description = ri.Body
		issue.AssigneeID = assigneeID
		issue.RemoteNumber = ri.Number
		issue.RemoteURL = ri.HTMLURL
		issue.LastSyncedAt = now
		// Status only moves when the remote issue is closed. An open remote
		// issue says nothing about which non-terminal column the local issue
		// belongs in, so a locally done issue is never pulled back to ready.
		if ri.State == status.StateClosed {
			issue.Status = status.FromGitHub(ri.State, ri.StateReason)
		}

		if err := e.store.UpdateIssue(issue); err != nil {
			return err
		}
		if err := e.store.TouchSyncRecord(issue.ID, now); err != nil {
			return err
		}
		issueID = issue.ID
		result.Synced.IssuesUpdatedLocal++
	} else {
		issue := &store.Issue{
			ProjectID:    e.project.ID,
			Title:        ri.Title,
			Description:  ri.Body,
			Status:       status.FromGitHub(ri.State, ri.StateReason),
			AssigneeID:   assigneeID,
			Labels:       ri.Labels,
			RemoteNumber: ri.Number,
			RemoteURL:    ri.HTMLURL,
			SyncEnabled:  true,
			LastSyncedAt: now,
		}
		if err := e.store.CreateIssue(issue); err != nil {
			return err
		}
		if err := e.store.UpsertSyncRecord(&store.SyncRecord{
			IssueID:      issue.ID,
			ProjectID:    e.project.ID,
			RemoteNumber: ri.Number,
			RemoteNodeID: ri.NodeID,
			RepoFullName: e.project.RepoFullName,
			LastSyncAt:   now,
		}); err != nil {
			return err
		}
		issueID = issue.ID
		result.Synced.IssuesCreatedLocal++
		logger.Debug("sync: created local issue for #%d: %s", ri.Number, ri.Title)
	}

	if opts.SyncComments {
		created, err := e.syncCommentsForIssue(ctx, issueID, ri.Number)
		if err != nil {
			return err
		}
		result.Synced.CommentsCreated += created
	}
	return nil
}

// syncOutbound pushes stale local issues to GitHub.
func (e *Engine) syncOutbound(ctx context.Context, opts Options, result *Result) error {
	issues, err := e.store.ListIssuesUpdatedSince(e.project.ID, e.project.LastSyncAt)
	if err != nil {
		return err
	}
	logger.Debug("sync: %d local issues to push", len(issues))

	for _, issue := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		action, err := e.pushLocalIssue(ctx, issue)
		if err != nil {
			if _, ok := remote.IsRateLimit(err); ok {
				return err
			}
			result.Conflicts = append(result.Conflicts, Conflict{
				IssueID:     issue.ID,
				Description: fmt.Sprintf("failed to sync issue: %v", err),
			})
			continue
		}
		switch action {
		case pushCreated:
			result.Synced.IssuesCreatedRemote++
		case pushUpdated:
			result.Synced.IssuesUpdatedRemote++
		}
	}
	return nil
}

type pushAction int

const (
	pushSkipped pushAction = iota
	pushCreated
	pushUpdated
)

// pushLocalIssue pushes one local issue outward: a full-overwrite update when
// a sync record exists, a create when the issue has sync enabled and none
// does. Remote creation is not idempotent, so the record lookup happens
// immediately before the create call.
func (e *Engine) pushLocalIssue(ctx context.Context, issue *store.Issue) (pushAction, error) {
	rec, err := e.store.GetSyncRecordByIssue(issue.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return pushSkipped, err
	}

	req := remote.IssueRequest{
		Title:  issue.Title,
		Body:   issue.Description,
		Labels: issue.Labels,
	}
	if issue.Labels == nil {
		req.Labels = []string{}
	}
	if issue.AssigneeID != "" {
		if user, err := e.store.GetUser(issue.AssigneeID); err == nil {
			req.Assignees = []string{user.Username}
		}
	}
	if req.Assignees == nil {
		req.Assignees = []string{}
	}

	now := time.Now().UTC()

	if rec != nil {
		req.State, req.StateReason = status.ToGitHub(issue.Status)
		if _, err := e.client.UpdateIssue(ctx, e.owner, e.repoName, rec.RemoteNumber, req); err != nil {
			return pushSkipped, err
		}
		if err := e.store.TouchSyncRecord(issue.ID, now); err != nil {
			return pushSkipped, err
		}
		return pushUpdated, nil
	}

	if !issue.SyncEnabled {
		return pushSkipped, nil
	}

	created, err := e.client.CreateIssue(ctx, e.owner, e.repoName, req)
	if err != nil {
		return pushSkipped, err
	}
	if err := e.store.UpsertSyncRecord(&store.SyncRecord{
		IssueID:      issue.ID,
		ProjectID:    e.project.ID,
		RemoteNumber: created.Number,
		RemoteNodeID: created.NodeID,
		RepoFullName: e.project.RepoFullName,
		LastSyncAt:   now,
	}); err != nil {
		return pushCreated, err
	}

	linked := *issue
	linked.RemoteNumber = created.Number
	linked.RemoteURL = created.HTMLURL
	linked.LastSyncedAt = now
	if err := e.store.UpdateIssue(&linked); err != nil {
		return pushCreated, err
	}
	return pushCreated, nil
}

// PushIssue forces an outbound sync of one issue, bypassing the timestamp
// filter of the batch pass. The returned bool reports whether anything was
// pushed; an unlinked issue with sync disabled is skipped, not failed.
func (e *Engine) PushIssue(ctx context.Context, issueID string) (bool, error) {
	issue, err := e.store.GetIssue(issueID)
	if err != nil {
		return false, err
	}
	action, err := e.pushLocalIssue(ctx, issue)
	if err != nil {
		return false, fmt.Errorf("push issue %s: %w", issueID, err)
	}
	return action != pushSkipped, nil
}

// PullIssue forces an inbound sync of one remote issue. Errors are surfaced
// directly.
func (e *Engine) PullIssue(ctx context.Context, remoteNumber int) error {
	ri, err := e.client.GetIssue(ctx, e.owner, e.repoName, remoteNumber)
	if err != nil {
		return fmt.Errorf("pull issue #%d: %w", remoteNumber, err)
	}

	rec, err := e.store.GetSyncRecordByRemote(e.project.ID, remoteNumber)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	result := &Result{}
	if err := e.applyRemoteIssue(ctx, ri, rec, Options{}, result); err != nil {
		return fmt.Errorf("pull issue #%d: %w", remoteNumber, err)
	}
	return nil
}

// DropRemoteIssue handles a remote issue deletion: the sync record is
// removed and the local issue keeps its content but loses its linkage.
func (e *Engine) DropRemoteIssue(remoteNumber int) error {
	rec, err := e.store.GetSyncRecordByRemote(e.project.ID, remoteNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := e.store.DeleteSyncRecord(rec.IssueID); err != nil {
		return err
	}
	if err := e.store.ClearIssueRemoteLink(rec.IssueID); err != nil {
		return err
	}
	logger.Info("sync: dropped linkage for issue %s (remote #%d deleted)", rec.IssueID, remoteNumber)
	return nil
}

// resolveAssignee maps the first remote assignee to a local user id, or
// empty when nobody resolves. No fuzzy fallback: a wrong assignment is worse
// than none.
func (e *Engine) resolveAssignee(ri *remote.Issue) (string, error) {
	if len(ri.Assignees) == 0 {
		return "", nil
	}
	first := ri.Assignees[0]
	return e.resolver.Resolve(first.Login, first.ID)
}

func fail(result *Result, err error) *Result {
	result.Success = false
	result.Error = err.Error()
	return result
}
