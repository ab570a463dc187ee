package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClientWithBaseURL("test-token", server.URL)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("failed to encode response: %v", err)
	}
}

func TestGetRepository(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"id":        1234,
			"full_name": "acme/widgets",
			"html_url":  "https://github.com/acme/widgets",
		})
	})

	client := newTestClient(t, mux)
	repo, err := client.GetRepository(context.Background(), "acme", "widgets")
	if err != nil {
		t.Fatalf("GetRepository() error = %v", err)
	}
	if repo.FullName != "acme/widgets" || repo.ID != 1234 {
		t.Errorf("repo = %+v", repo)
	}
}

func TestListIssuesPaginationAndPRFiltering(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			w.Header().Set("Link",
				fmt.Sprintf(`<%s/repos/acme/widgets/issues?page=2>; rel="next"`, server.URL))
			writeJSON(t, w, []map[string]interface{}{
				{
					"number":     1,
					"title":      "First",
					"state":      "open",
					"updated_at": "2026-03-01T10:00:00Z",
					"labels":     []map[string]string{{"name": "bug"}},
					"assignees":  []map[string]interface{}{{"id": 7, "login": "alice"}},
				},
				{
					"number":       2,
					"title":        "A pull request",
					"state":        "open",
					"updated_at":   "2026-03-01T11:00:00Z",
					"pull_request": map[string]string{"url": "https://api.github.com/repos/acme/widgets/pulls/2"},
				},
			})
		case "2":
			writeJSON(t, w, []map[string]interface{}{
				{
					"number":       3,
					"title":        "Third",
					"state":        "closed",
					"state_reason": "not_planned",
					"updated_at":   "2026-03-01T12:00:00Z",
				},
			})
		default:
			t.Errorf("unexpected page %q", page)
		}
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClientWithBaseURL("test-token", server.URL)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	issues, err := client.ListIssues(context.Background(), "acme", "widgets",
		ListIssuesOptions{State: "all"})
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}

	// The pull request on page 1 is dropped; both real issues survive.
	if len(issues) != 2 {
		t.Fatalf("issues = %d, want 2", len(issues))
	}
	if issues[0].Number != 1 || issues[1].Number != 3 {
		t.Errorf("numbers = %d/%d, want 1/3", issues[0].Number, issues[1].Number)
	}
	if len(issues[0].Labels) != 1 || issues[0].Labels[0] != "bug" {
		t.Errorf("labels = %v, want [bug]", issues[0].Labels)
	}
	if len(issues[0].Assignees) != 1 || issues[0].Assignees[0].Login != "alice" {
		t.Errorf("assignees = %v, want alice", issues[0].Assignees)
	}
	if issues[1].StateReason != "not_planned" {
		t.Errorf("state reason = %q, want not_planned", issues[1].StateReason)
	}
}

func TestListIssuesSinceParameter(t *testing.T) {
	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got == "" {
			t.Error("expected since query parameter")
		}
		writeJSON(t, w, []map[string]interface{}{})
	})

	client := newTestClient(t, mux)
	if _, err := client.ListIssues(context.Background(), "acme", "widgets",
		ListIssuesOptions{State: "all", Since: since}); err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
}

func TestUpdateIssueSendsState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/5", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		var req struct {
			Title       *string `json:"title"`
			State       *string `json:"state"`
			StateReason *string `json:"state_reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.State == nil || *req.State != "closed" {
			t.Error("expected state=closed in request")
		}
		if req.StateReason == nil || *req.StateReason != "not_planned" {
			t.Error("expected state_reason=not_planned in request")
		}
		writeJSON(t, w, map[string]interface{}{
			"number":       5,
			"title":        *req.Title,
			"state":        "closed",
			"state_reason": "not_planned",
			"updated_at":   "2026-03-01T10:00:00Z",
		})
	})

	client := newTestClient(t, mux)
	issue, err := client.UpdateIssue(context.Background(), "acme", "widgets", 5, IssueRequest{
		Title:       "Cancelled issue",
		State:       "closed",
		StateReason: "not_planned",
		Labels:      []string{},
		Assignees:   []string{},
	})
	if err != nil {
		t.Fatalf("UpdateIssue() error = %v", err)
	}
	if issue.State != "closed" || issue.StateReason != "not_planned" {
		t.Errorf("issue = %q/%q, want closed/not_planned", issue.State, issue.StateReason)
	}
}

func TestCreateIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req struct {
			Title  *string   `json:"title"`
			Body   *string   `json:"body"`
			Labels *[]string `json:"labels"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(t, w, map[string]interface{}{
			"number":     42,
			"node_id":    "node-42",
			"title":      *req.Title,
			"body":       *req.Body,
			"state":      "open",
			"html_url":   "https://github.com/acme/widgets/issues/42",
			"updated_at": "2026-03-01T10:00:00Z",
		})
	})

	client := newTestClient(t, mux)
	issue, err := client.CreateIssue(context.Background(), "acme", "widgets", IssueRequest{
		Title:     "New issue",
		Body:      "Body text",
		Labels:    []string{"bug"},
		Assignees: []string{},
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if issue.Number != 42 || issue.NodeID != "node-42" {
		t.Errorf("issue = #%d/%s, want #42/node-42", issue.Number, issue.NodeID)
	}
	if issue.HTMLURL != "https://github.com/acme/widgets/issues/42" {
		t.Errorf("html url = %q", issue.HTMLURL)
	}
}

func TestListComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]interface{}{
			{
				"id":         100,
				"body":       "first comment",
				"user":       map[string]interface{}{"id": 7, "login": "alice"},
				"created_at": "2026-03-01T10:00:00Z",
				"updated_at": "2026-03-01T10:00:00Z",
			},
		})
	})

	client := newTestClient(t, mux)
	comments, err := client.ListComments(context.Background(), "acme", "widgets", 1)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(comments))
	}
	if comments[0].ID != 100 || comments[0].User.Login != "alice" {
		t.Errorf("comment = %+v", comments[0])
	}
}

func TestRateLimitErrorConversion(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Limit", "5000")
		w.Header().Set("X-Ratelimit-Remaining", "0")
		w.Header().Set("X-Ratelimit-Reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusForbidden)
		writeJSON(t, w, map[string]string{"message": "API rate limit exceeded"})
	})

	client := newTestClient(t, mux)
	_, err := client.ListIssues(context.Background(), "acme", "widgets",
		ListIssuesOptions{State: "all"})
	if err == nil {
		t.Fatal("expected rate-limit error")
	}

	rle, ok := IsRateLimit(err)
	if !ok {
		t.Fatalf("IsRateLimit() = false for %v", err)
	}
	if rle.ResetTime.Unix() != reset {
		t.Errorf("reset = %v, want unix %d", rle.ResetTime, reset)
	}
	if rle.Limit != 5000 {
		t.Errorf("limit = %d, want 5000", rle.Limit)
	}
}

func TestIsRateLimitPassthrough(t *testing.T) {
	if _, ok := IsRateLimit(fmt.Errorf("plain error")); ok {
		t.Error("plain errors must not classify as rate limits")
	}

	wrapped := fmt.Errorf("outer: %w", &RateLimitError{ResetTime: time.Now()})
	if _, ok := IsRateLimit(wrapped); !ok {
		t.Error("wrapped rate-limit error should classify")
	}
}
