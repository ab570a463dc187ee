// Package remote wraps the GitHub issue and comment endpoints behind a small
// client interface, so the sync engine never touches the API types directly.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Actor identifies a GitHub user on an issue or comment.
type Actor struct {
	ID    int64
	Login string
}

// Issue is a read-only snapshot of a GitHub issue.
type Issue struct {
	Number      int
	NodeID      string
	Title       string
	Body        string
	State       string // "open" or "closed"
	StateReason string // "completed" or "not_planned", meaningful when closed
	Assignees   []Actor
	Labels      []string
	HTMLURL     string
	UpdatedAt   time.Time
}

// Comment is a read-only snapshot of a GitHub issue comment.
type Comment struct {
	ID        int64
	Body      string
	User      Actor
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is a read-only snapshot of a GitHub repository.
type Repository struct {
	ID       int64
	FullName string
	HTMLURL  string
}

// ListIssuesOptions narrows an issue listing. A zero Since lists without a
// time filter.
type ListIssuesOptions struct {
	State string // "open", "closed" or "all"
	Since time.Time
}

// IssueRequest carries the writable fields of a create or full-overwrite
// update call.
type IssueRequest struct {
	Title       string
	Body        string
	State       string // ignored on create; GitHub opens new issues
	StateReason string // set only when State is "closed"
	Labels      []string
	Assignees   []string
}

// Client is the surface of the GitHub API the sync engine needs.
type Client interface {
	GetRepository(ctx context.Context, owner, repo string) (*Repository, error)
	ListIssues(ctx context.Context, owner, repo string, opts ListIssuesOptions) ([]*Issue, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error)
	CreateIssue(ctx context.Context, owner, repo string, req IssueRequest) (*Issue, error)
	UpdateIssue(ctx context.Context, owner, repo string, number int, req IssueRequest) (*Issue, error)
	ListComments(ctx context.Context, owner, repo string, number int) ([]*Comment, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error)
}

// githubClient implements Client on top of go-github.
type githubClient struct {
	gh *github.Client
}

// NewClient creates a Client authenticated with the given token. An empty
// token yields an unauthenticated client.
func NewClient(token string) Client {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}
	return &githubClient{gh: github.NewClient(hc)}
}

// NewClientWithBaseURL creates a Client pointed at a custom API base URL,
// for tests against a local httptest server.
func NewClientWithBaseURL(token, baseURL string) (Client, error) {
	c := NewClient(token).(*githubClient)
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c.gh.BaseURL = u
	return c, nil
}

func (c *githubClient) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, wrapAPIError("get repository", err)
	}
	return &Repository{
		ID:       r.GetID(),
		FullName: r.GetFullName(),
		HTMLURL:  r.GetHTMLURL(),
	}, nil
}

func (c *githubClient) ListIssues(ctx context.Context, owner, repo string, opts ListIssuesOptions) ([]*Issue, error) {
	ghOpts := &github.IssueListByRepoOptions{
		State:       opts.State,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if !opts.Since.IsZero() {
		ghOpts.Since = opts.Since
	}

	var all []*Issue
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, repo, ghOpts)
		if err != nil {
			return nil, wrapAPIError("list issues", err)
		}
		for _, issue := range issues {
			// Pull requests share the issues endpoint; skip them.
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, convertIssue(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		ghOpts.Page = resp.NextPage
	}
	return all, nil
}

func (c *githubClient) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	issue, _, err := c.gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapAPIError("get issue", err)
	}
	return convertIssue(issue), nil
}

func (c *githubClient) CreateIssue(ctx context.Context, owner, repo string, req IssueRequest) (*Issue, error) {
	ghReq := &github.IssueRequest{
		Title:     github.String(req.Title),
		Body:      github.String(req.Body),
		Labels:    &req.Labels,
		Assignees: &req.Assignees,
	}
	issue, _, err := c.gh.Issues.Create(ctx, owner, repo, ghReq)
	if err != nil {
		return nil, wrapAPIError("create issue", err)
	}
	return convertIssue(issue), nil
}

func (c *githubClient) UpdateIssue(ctx context.Context, owner, repo string, number int, req IssueRequest) (*Issue, error) {
	ghReq := &github.IssueRequest{
		Title:     github.String(req.Title),
		Body:      github.String(req.Body),
		Labels:    &req.Labels,
		Assignees: &req.Assignees,
	}
	if req.State != "" {
		ghReq.State = github.String(req.State)
	}
	if req.StateReason != "" {
		ghReq.StateReason = github.String(req.StateReason)
	}
	issue, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, ghReq)
	if err != nil {
		return nil, wrapAPIError("update issue", err)
	}
	return convertIssue(issue), nil
}

func (c *githubClient) ListComments(ctx context.Context, owner, repo string, number int) ([]*Comment, error) {
	ghOpts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*Comment
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, ghOpts)
		if err != nil {
			return nil, wrapAPIError("list comments", err)
		}
		for _, comment := range comments {
			all = append(all, convertComment(comment))
		}
		if resp.NextPage == 0 {
			break
		}
		ghOpts.Page = resp.NextPage
	}
	return all, nil
}

func (c *githubClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return nil, wrapAPIError("create comment", err)
	}
	return convertComment(comment), nil
}

func convertIssue(issue *github.Issue) *Issue {
	out := &Issue{
		Number:      issue.GetNumber(),
		NodeID:      issue.GetNodeID(),
		Title:       issue.GetTitle(),
		Body:        issue.GetBody(),
		State:       issue.GetState(),
		StateReason: issue.GetStateReason(),
		HTMLURL:     issue.GetHTMLURL(),
		UpdatedAt:   issue.GetUpdatedAt().Time,
	}
	for _, a := range issue.Assignees {
		out.Assignees = append(out.Assignees, Actor{ID: a.GetID(), Login: a.GetLogin()})
	}
	for _, l := range issue.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

func convertComment(comment *github.IssueComment) *Comment {
	return &Comment{
		ID:   comment.GetID(),
		Body: comment.GetBody(),
		User: Actor{
			ID:    comment.GetUser().GetID(),
			Login: comment.GetUser().GetLogin(),
		},
		CreatedAt: comment.GetCreatedAt().Time,
		UpdatedAt: comment.GetUpdatedAt().Time,
	}
}
