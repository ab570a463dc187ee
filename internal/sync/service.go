package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/memolab/issuesync/internal/logger"
	"github.com/memolab/issuesync/internal/remote"
	"github.com/memolab/issuesync/internal/store"
)

// Service exposes the public sync operations consumed by the CLI and the
// webhook dispatcher. It builds a fresh Engine per operation and serializes
// passes per project: the engine itself assumes single-flight execution, so
// an overlapping manual sync and webhook pull must not both observe
// "not yet synced" state.
type Service struct {
	store    *store.Store
	factory  remote.Factory
	notifier Notifier

	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

// NewService creates a Service. notifier may be nil.
func NewService(st *store.Store, factory remote.Factory, notifier Notifier) *Service {
	return &Service{
		store:    st,
		factory:  factory,
		notifier: notifier,
		locks:    make(map[string]*gosync.Mutex),
	}
}

// Store exposes the underlying store for callers that need read access.
func (s *Service) Store() *store.Store {
	return s.store
}

// projectLock returns the mutex serializing sync passes for one project.
func (s *Service) projectLock(projectID string) *gosync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[projectID]; !ok {
		s.locks[projectID] = &gosync.Mutex{}
	}
	return s.locks[projectID]
}

// EngineFor builds an engine for a project. Fails when the project is
// missing or not linked.
func (s *Service) EngineFor(projectID string) (*Engine, error) {
	return NewEngine(s.store, s.factory, projectID, s.notifier)
}

// SyncProject runs a full sync pass for a project. Configuration problems
// (unknown project, missing linkage, malformed repository name) return a
// failed result without partial work.
func (s *Service) SyncProject(ctx context.Context, projectID string, opts Options) *Result {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	engine, err := s.EngineFor(projectID)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	return engine.Sync(ctx, opts)
}

// PushIssue forces an outbound sync of one issue. The returned bool reports
// whether anything was pushed.
func (s *Service) PushIssue(ctx context.Context, issueID string) (bool, error) {
	issue, err := s.store.GetIssue(issueID)
	if err != nil {
		return false, err
	}

	lock := s.projectLock(issue.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	engine, err := s.EngineFor(issue.ProjectID)
	if err != nil {
		return false, err
	}
	return engine.PushIssue(ctx, issueID)
}

// PullIssue forces an inbound sync of one remote issue.
func (s *Service) PullIssue(ctx context.Context, projectID string, remoteNumber int) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	engine, err := s.EngineFor(projectID)
	if err != nil {
		return err
	}
	return engine.PullIssue(ctx, remoteNumber)
}

// PullComments forces a comment sync for the issue linked to a remote number.
func (s *Service) PullComments(ctx context.Context, projectID string, remoteNumber int) (int, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	engine, err := s.EngineFor(projectID)
	if err != nil {
		return 0, err
	}
	return engine.PullComments(ctx, remoteNumber)
}

// DropRemoteIssue handles a remote issue deletion for a project.
func (s *Service) DropRemoteIssue(projectID string, remoteNumber int) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	engine, err := s.EngineFor(projectID)
	if err != nil {
		return err
	}
	return engine.DropRemoteIssue(remoteNumber)
}

// DropRemoteComment removes the local mirror of a deleted remote comment.
func (s *Service) DropRemoteComment(projectID string, remoteNumber int, remoteCommentID int64) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	engine, err := s.EngineFor(projectID)
	if err != nil {
		return err
	}
	return engine.DropRemoteComment(remoteNumber, remoteCommentID)
}

// LinkRepository links a project to a GitHub repository after verifying the
// credential can reach it, and provisions a webhook secret for inbound
// events.
func (s *Service) LinkRepository(ctx context.Context, projectID, repoFullName, installationID string) error {
	owner, repoName, err := parseRepo(repoFullName)
	if err != nil {
		return err
	}

	if _, err := s.store.GetProject(projectID); err != nil {
		return err
	}

	client, err := s.factory.ClientFor(installationID)
	if err != nil {
		return err
	}
	repo, err := client.GetRepository(ctx, owner, repoName)
	if err != nil {
		return fmt.Errorf("repository not accessible: %w", err)
	}

	secret := newWebhookSecret()
	if err := s.store.LinkProject(projectID, repoFullName, repo.HTMLURL, installationID, secret); err != nil {
		return err
	}

	logger.Info("sync: linked project %s to %s", projectID, repoFullName)
	return nil
}

// UnlinkRepository clears a project's repository linkage and deletes its
// sync records.
func (s *Service) UnlinkRepository(projectID string) error {
	if err := s.store.UnlinkProject(projectID); err != nil {
		return err
	}
	if err := s.store.DeleteProjectSyncRecords(projectID); err != nil {
		return err
	}
	logger.Info("sync: unlinked project %s", projectID)
	return nil
}

// Status reports the sync state of a project.
type Status struct {
	IsLinked     bool
	RepoName     string
	RepoURL      string
	SyncEnabled  bool
	LastSyncAt   time.Time
	TotalIssues  int
	SyncedIssues int
}

// SyncStatus returns the sync state of a project.
func (s *Service) SyncStatus(projectID string) (*Status, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	total, err := s.store.CountIssues(projectID)
	if err != nil {
		return nil, err
	}
	synced, err := s.store.CountSyncRecords(projectID)
	if err != nil {
		return nil, err
	}

	return &Status{
		IsLinked:     project.RepoFullName != "",
		RepoName:     project.RepoFullName,
		RepoURL:      project.RepoURL,
		SyncEnabled:  project.SyncEnabled,
		LastSyncAt:   project.LastSyncAt,
		TotalIssues:  total,
		SyncedIssues: synced,
	}, nil
}

// newWebhookSecret generates a per-project secret for authenticating inbound
// webhook deliveries.
func newWebhookSecret() string {
	return fmt.Sprintf("ghs_%d_%s", time.Now().Unix(),
		uuid.NewString()[:13])
}
