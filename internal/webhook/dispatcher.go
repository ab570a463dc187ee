// Package webhook routes inbound GitHub event deliveries to the sync engine.
package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/go-github/v57/github"

	"github.com/memolab/issuesync/internal/logger"
	"github.com/memolab/issuesync/internal/sync"
)

// Dispatcher validates webhook deliveries and routes them to the matching
// sync operation after resolving the owning project.
type Dispatcher struct {
	service *sync.Service
	// globalSecret authenticates deliveries that carry no project-specific
	// secret match (e.g. installation lifecycle events).
	globalSecret string
}

// NewDispatcher creates a dispatcher over the given service.
func NewDispatcher(service *sync.Service, globalSecret string) *Dispatcher {
	return &Dispatcher{service: service, globalSecret: globalSecret}
}

// event is the subset of a webhook payload the dispatcher needs.
type event struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Issue *struct {
		Number int `json:"number"`
	} `json:"issue"`
	Comment *struct {
		ID int64 `json:"id"`
	} `json:"comment"`
}

// ServeHTTP handles POST deliveries from GitHub. Only signature failures are
// rejected; processing errors still answer 200 so GitHub does not retry a
// delivery that will keep failing — redeliveries are already safe because
// every downstream write is an idempotent upsert.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	signature := r.Header.Get("X-Hub-Signature-256")

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	installationID := ""
	if ev.Installation.ID != 0 {
		installationID = strconv.FormatInt(ev.Installation.ID, 10)
	}

	projects, err := d.resolveProjects(ev.Repository.FullName, installationID)
	if err != nil {
		logger.Error("webhook: failed to resolve projects: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !d.validSignature(signature, body, projects) {
		logger.Warn("webhook: invalid signature for %s delivery %s", eventType, deliveryID)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	logger.Info("webhook: received %s %q for %s (%s)",
		eventType, ev.Action, ev.Repository.FullName, deliveryID)

	if err := d.dispatch(r, eventType, &ev, installationID, projects); err != nil {
		// Answer 200 anyway; the failure is logged and the next sync pass
		// or redelivery will reconcile.
		logger.Error("webhook: processing %s delivery %s: %v", eventType, deliveryID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"message":"webhook processed"}`)
}

func (d *Dispatcher) resolveProjects(repoFullName, installationID string) ([]*projectRef, error) {
	if repoFullName == "" {
		return nil, nil
	}
	projects, err := d.service.Store().FindProjectsByRepo(repoFullName, installationID)
	if err != nil {
		return nil, err
	}
	refs := make([]*projectRef, len(projects))
	for i, p := range projects {
		refs[i] = &projectRef{id: p.ID, secret: p.WebhookSecret}
	}
	return refs, nil
}

type projectRef struct {
	id     string
	secret string
}

// validSignature checks the delivery signature against each candidate
// project's secret, then the global secret.
func (d *Dispatcher) validSignature(signature string, body []byte, projects []*projectRef) bool {
	for _, p := range projects {
		if p.secret == "" {
			continue
		}
		if github.ValidateSignature(signature, body, []byte(p.secret)) == nil {
			return true
		}
	}
	if d.globalSecret != "" {
		return github.ValidateSignature(signature, body, []byte(d.globalSecret)) == nil
	}
	return false
}

func (d *Dispatcher) dispatch(r *http.Request, eventType string, ev *event, installationID string, projects []*projectRef) error {
	ctx := r.Context()

	switch eventType {
	case "ping":
		return nil

	case "installation":
		// An uninstall clears repository linkage but keeps sync history so a
		// re-link can pick up where it left off.
		if ev.Action == "deleted" && installationID != "" {
			return d.service.Store().ClearInstallationLinks(installationID)
		}
		return nil

	case "issues":
		if ev.Issue == nil {
			return fmt.Errorf("issues event without issue payload")
		}
		var firstErr error
		for _, p := range projects {
			var err error
			switch ev.Action {
			case "opened", "edited", "closed", "reopened":
				err = d.service.PullIssue(ctx, p.id, ev.Issue.Number)
			case "deleted":
				err = d.service.DropRemoteIssue(p.id, ev.Issue.Number)
			default:
				logger.Debug("webhook: unhandled issues action %q", ev.Action)
			}
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("project %s: %w", p.id, err)
			}
		}
		return firstErr

	case "issue_comment":
		if ev.Issue == nil || ev.Comment == nil {
			return fmt.Errorf("issue_comment event missing issue or comment payload")
		}
		var firstErr error
		for _, p := range projects {
			var err error
			switch ev.Action {
			case "created", "edited":
				_, err = d.service.PullComments(ctx, p.id, ev.Issue.Number)
			case "deleted":
				err = d.service.DropRemoteComment(p.id, ev.Issue.Number, ev.Comment.ID)
			default:
				logger.Debug("webhook: unhandled issue_comment action %q", ev.Action)
			}
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("project %s: %w", p.id, err)
			}
		}
		return firstErr

	default:
		logger.Debug("webhook: unhandled event type %q", eventType)
		return nil
	}
}
