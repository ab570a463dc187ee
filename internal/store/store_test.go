package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/memolab/issuesync/internal/status"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func createTestProject(t *testing.T, st *Store) *Project {
	t.Helper()

	p := &Project{
		Name:           "Test Project",
		OwnerID:        "owner-1",
		RepoFullName:   "acme/widgets",
		InstallationID: "12345",
		SyncEnabled:    true,
		WebhookSecret:  "secret-1",
	}
	if err := st.CreateProject(p); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return p
}

func TestProjectLifecycle(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	got, err := st.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.RepoFullName != "acme/widgets" {
		t.Errorf("repo = %q, want %q", got.RepoFullName, "acme/widgets")
	}
	if !got.Linked() {
		t.Error("expected project to be linked")
	}
	if !got.SyncEnabled {
		t.Error("expected sync to be enabled")
	}

	if err := st.UnlinkProject(p.ID); err != nil {
		t.Fatalf("UnlinkProject() error = %v", err)
	}
	got, err = st.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() after unlink error = %v", err)
	}
	if got.Linked() {
		t.Error("expected project to be unlinked")
	}
	if got.SyncEnabled {
		t.Error("expected sync to be disabled after unlink")
	}
	if !got.LastSyncAt.IsZero() {
		t.Error("expected sync cursor to be cleared after unlink")
	}
	if got.WebhookSecret != "" {
		t.Error("expected webhook secret to be cleared after unlink")
	}

	if err := st.LinkProject(p.ID, "acme/gadgets", "https://github.com/acme/gadgets", "67890", "secret-2"); err != nil {
		t.Fatalf("LinkProject() error = %v", err)
	}
	got, err = st.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() after relink error = %v", err)
	}
	if got.RepoFullName != "acme/gadgets" || got.InstallationID != "67890" {
		t.Errorf("relink stored %q/%q, want acme/gadgets/67890", got.RepoFullName, got.InstallationID)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetProject("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject(missing) error = %v, want ErrNotFound", err)
	}

	if err := st.UnlinkProject("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UnlinkProject(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFindProjectsByRepo(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	other := &Project{Name: "Other", OwnerID: "owner-2", RepoFullName: "acme/widgets",
		InstallationID: "99999", SyncEnabled: true}
	if err := st.CreateProject(other); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	// Disabled projects are never resolved for webhook deliveries.
	disabled := &Project{Name: "Disabled", OwnerID: "owner-3", RepoFullName: "acme/widgets",
		InstallationID: "12345", SyncEnabled: false}
	if err := st.CreateProject(disabled); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	all, err := st.FindProjectsByRepo("acme/widgets", "")
	if err != nil {
		t.Fatalf("FindProjectsByRepo() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 projects for repo, got %d", len(all))
	}

	narrowed, err := st.FindProjectsByRepo("acme/widgets", "12345")
	if err != nil {
		t.Fatalf("FindProjectsByRepo() error = %v", err)
	}
	if len(narrowed) != 1 || narrowed[0].ID != p.ID {
		t.Errorf("expected only project %s for installation 12345, got %d projects", p.ID, len(narrowed))
	}
}

func TestClearInstallationLinks(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	if err := st.ClearInstallationLinks("12345"); err != nil {
		t.Fatalf("ClearInstallationLinks() error = %v", err)
	}

	got, err := st.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Linked() || got.SyncEnabled {
		t.Error("expected linkage cleared after installation removal")
	}
}

func TestIssueLifecycle(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	issue := &Issue{
		ProjectID:   p.ID,
		Title:       "Fix login",
		Description: "Login fails on Safari",
		Status:      status.Ready,
		Labels:      []string{"bug", "auth"},
		SyncEnabled: true,
	}
	if err := st.CreateIssue(issue); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if issue.ID == "" {
		t.Fatal("expected generated issue id")
	}

	got, err := st.GetIssue(issue.ID)
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if got.Title != "Fix login" || got.Status != status.Ready {
		t.Errorf("got %q/%q, want Fix login/ready", got.Title, got.Status)
	}
	if len(got.Labels) != 2 || got.Labels[0] != "bug" {
		t.Errorf("labels = %v, want [bug auth]", got.Labels)
	}

	got.Status = status.Done
	got.RemoteNumber = 42
	got.RemoteURL = "https://github.com/acme/widgets/issues/42"
	if err := st.UpdateIssue(got); err != nil {
		t.Fatalf("UpdateIssue() error = %v", err)
	}

	got, err = st.GetIssue(issue.ID)
	if err != nil {
		t.Fatalf("GetIssue() after update error = %v", err)
	}
	if got.Status != status.Done || got.RemoteNumber != 42 {
		t.Errorf("got %q/#%d, want done/#42", got.Status, got.RemoteNumber)
	}

	if err := st.ClearIssueRemoteLink(issue.ID); err != nil {
		t.Fatalf("ClearIssueRemoteLink() error = %v", err)
	}
	got, err = st.GetIssue(issue.ID)
	if err != nil {
		t.Fatalf("GetIssue() after clear error = %v", err)
	}
	if got.RemoteNumber != 0 || got.RemoteURL != "" || got.SyncEnabled {
		t.Error("expected remote linkage cleared, content kept")
	}
	if got.Title != "Fix login" {
		t.Errorf("title = %q, want content preserved", got.Title)
	}
}

func TestListIssuesUpdatedSince(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	old := &Issue{ProjectID: p.ID, Title: "old", Status: status.Ready,
		UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	cursor := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	boundary := &Issue{ProjectID: p.ID, Title: "boundary", Status: status.Ready,
		UpdatedAt: cursor}
	fresh := &Issue{ProjectID: p.ID, Title: "fresh", Status: status.Ready,
		UpdatedAt: cursor.Add(time.Nanosecond)}
	for _, issue := range []*Issue{old, boundary, fresh} {
		if err := st.CreateIssue(issue); err != nil {
			t.Fatalf("CreateIssue(%s) error = %v", issue.Title, err)
		}
	}

	got, err := st.ListIssuesUpdatedSince(p.ID, cursor)
	if err != nil {
		t.Fatalf("ListIssuesUpdatedSince() error = %v", err)
	}
	// Strictly after: an issue whose update landed exactly at the cursor was
	// covered by the pass that set the cursor.
	if len(got) != 1 || got[0].Title != "fresh" {
		t.Fatalf("expected only the fresh issue, got %d issues", len(got))
	}

	all, err := st.ListIssuesUpdatedSince(p.ID, time.Time{})
	if err != nil {
		t.Fatalf("ListIssuesUpdatedSince(zero) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("zero cursor should list all issues, got %d", len(all))
	}
}

func TestUpsertSyncRecordIdempotent(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	rec := &SyncRecord{
		IssueID:      "issue-1",
		ProjectID:    p.ID,
		RemoteNumber: 10,
		RemoteNodeID: "node-a",
		RepoFullName: "acme/widgets",
	}
	if err := st.UpsertSyncRecord(rec); err != nil {
		t.Fatalf("UpsertSyncRecord() error = %v", err)
	}

	// Same issue again: the record is updated in place, never duplicated.
	again := &SyncRecord{
		IssueID:      "issue-1",
		ProjectID:    p.ID,
		RemoteNumber: 11,
		RemoteNodeID: "node-b",
		RepoFullName: "acme/widgets",
	}
	if err := st.UpsertSyncRecord(again); err != nil {
		t.Fatalf("second UpsertSyncRecord() error = %v", err)
	}

	n, err := st.CountSyncRecords(p.ID)
	if err != nil {
		t.Fatalf("CountSyncRecords() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 record after repeated upsert, got %d", n)
	}

	got, err := st.GetSyncRecordByIssue("issue-1")
	if err != nil {
		t.Fatalf("GetSyncRecordByIssue() error = %v", err)
	}
	if got.RemoteNumber != 11 || got.RemoteNodeID != "node-b" {
		t.Errorf("record = #%d/%s, want #11/node-b", got.RemoteNumber, got.RemoteNodeID)
	}
}

func TestSyncRecordRemoteUniqueness(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	first := &SyncRecord{IssueID: "issue-1", ProjectID: p.ID, RemoteNumber: 10,
		RepoFullName: "acme/widgets"}
	if err := st.UpsertSyncRecord(first); err != nil {
		t.Fatalf("UpsertSyncRecord() error = %v", err)
	}

	// A different local issue claiming the same remote number violates the
	// 1:1 linkage and must be rejected.
	dup := &SyncRecord{IssueID: "issue-2", ProjectID: p.ID, RemoteNumber: 10,
		RepoFullName: "acme/widgets"}
	if err := st.UpsertSyncRecord(dup); err == nil {
		t.Error("expected error for duplicate remote number, got nil")
	}
}

func TestSyncRecordLookupsAndDeletion(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	rec := &SyncRecord{IssueID: "issue-1", ProjectID: p.ID, RemoteNumber: 10,
		RepoFullName: "acme/widgets"}
	if err := st.UpsertSyncRecord(rec); err != nil {
		t.Fatalf("UpsertSyncRecord() error = %v", err)
	}

	byRemote, err := st.GetSyncRecordByRemote(p.ID, 10)
	if err != nil {
		t.Fatalf("GetSyncRecordByRemote() error = %v", err)
	}
	if byRemote.IssueID != "issue-1" {
		t.Errorf("issue id = %q, want issue-1", byRemote.IssueID)
	}

	if _, err := st.GetSyncRecordByRemote(p.ID, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup of unknown remote number error = %v, want ErrNotFound", err)
	}

	if err := st.DeleteSyncRecord("issue-1"); err != nil {
		t.Fatalf("DeleteSyncRecord() error = %v", err)
	}
	if _, err := st.GetSyncRecordByIssue("issue-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup after delete error = %v, want ErrNotFound", err)
	}
}

func TestDeleteProjectSyncRecords(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	for i := 1; i <= 3; i++ {
		rec := &SyncRecord{IssueID: fmt.Sprintf("issue-%d", i), ProjectID: p.ID,
			RemoteNumber: i, RepoFullName: "acme/widgets"}
		if err := st.UpsertSyncRecord(rec); err != nil {
			t.Fatalf("UpsertSyncRecord() error = %v", err)
		}
	}

	if err := st.DeleteProjectSyncRecords(p.ID); err != nil {
		t.Fatalf("DeleteProjectSyncRecords() error = %v", err)
	}
	n, err := st.CountSyncRecords(p.ID)
	if err != nil {
		t.Fatalf("CountSyncRecords() error = %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 records after project delete, got %d", n)
	}
}

func TestCommentDedupeLookup(t *testing.T) {
	st := openTestStore(t)

	c := &Comment{
		IssueID:         "issue-1",
		Content:         "looks good",
		AuthorID:        "user-1",
		RemoteCommentID: 555,
		SyncEnabled:     true,
	}
	if err := st.CreateComment(c); err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}

	got, err := st.GetCommentByRemoteID("issue-1", 555)
	if err != nil {
		t.Fatalf("GetCommentByRemoteID() error = %v", err)
	}
	if got.Content != "looks good" {
		t.Errorf("content = %q, want %q", got.Content, "looks good")
	}

	if _, err := st.GetCommentByRemoteID("issue-1", 556); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup of unknown remote comment error = %v, want ErrNotFound", err)
	}

	// The same remote comment on the same issue cannot be mirrored twice.
	dup := &Comment{IssueID: "issue-1", Content: "again", RemoteCommentID: 555}
	if err := st.CreateComment(dup); err == nil {
		t.Error("expected unique violation for duplicate remote comment, got nil")
	}

	if err := st.UpdateCommentContent(got.ID, "edited"); err != nil {
		t.Fatalf("UpdateCommentContent() error = %v", err)
	}
	got, err = st.GetCommentByRemoteID("issue-1", 555)
	if err != nil {
		t.Fatalf("GetCommentByRemoteID() after edit error = %v", err)
	}
	if got.Content != "edited" {
		t.Errorf("content = %q, want edited", got.Content)
	}

	if err := st.DeleteCommentByRemoteID("issue-1", 555); err != nil {
		t.Fatalf("DeleteCommentByRemoteID() error = %v", err)
	}
	if _, err := st.GetCommentByRemoteID("issue-1", 555); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup after delete error = %v, want ErrNotFound", err)
	}
}

// TestMultipleLocalComments checks that comment uniqueness only binds
// mirrored comments: any number of locally authored comments (no remote id)
// may live on one issue.
func TestMultipleLocalComments(t *testing.T) {
	st := openTestStore(t)

	for _, content := range []string{"first thought", "second thought"} {
		c := &Comment{IssueID: "issue-1", Content: content, AuthorID: "user-1"}
		if err := st.CreateComment(c); err != nil {
			t.Fatalf("CreateComment(%q) error = %v", content, err)
		}
	}

	comments, err := st.ListComments("issue-1")
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(comments))
	}
	for _, c := range comments {
		if c.RemoteCommentID != 0 {
			t.Errorf("remote comment id = %d, want 0 for local comment", c.RemoteCommentID)
		}
	}
}

func TestUsersAndAccounts(t *testing.T) {
	st := openTestStore(t)

	u := &User{Username: "octocat"}
	if err := st.CreateUser(u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	byName, err := st.GetUserByUsername("octocat")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if byName.ID != u.ID {
		t.Errorf("user id = %q, want %q", byName.ID, u.ID)
	}

	if err := st.LinkAccount(u.ID, "github", "583231"); err != nil {
		t.Fatalf("LinkAccount() error = %v", err)
	}
	byAccount, err := st.GetUserByAccount("github", "583231")
	if err != nil {
		t.Fatalf("GetUserByAccount() error = %v", err)
	}
	if byAccount.ID != u.ID {
		t.Errorf("user id = %q, want %q", byAccount.ID, u.ID)
	}

	if _, err := st.GetUserByAccount("github", "0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown account error = %v, want ErrNotFound", err)
	}
}

func TestTimestampPrecision(t *testing.T) {
	st := openTestStore(t)
	p := createTestProject(t, st)

	// Two writes in the same second must stay distinguishable through the
	// cursor filter.
	ts := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	if err := st.SetProjectLastSync(p.ID, ts); err != nil {
		t.Fatalf("SetProjectLastSync() error = %v", err)
	}

	got, err := st.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if !got.LastSyncAt.Equal(ts) {
		t.Errorf("cursor = %v, want %v", got.LastSyncAt, ts)
	}
}
