// Package search notifies an external search-index service that a project's
// content changed and should be re-indexed.
package search

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/memolab/issuesync/internal/logger"
)

// Trigger fires best-effort refresh requests. The sync engine never awaits
// or inspects the outcome; a failed refresh only delays search freshness.
type Trigger struct {
	url    string
	client *http.Client
}

// NewTrigger creates a trigger posting to the given URL. An empty URL yields
// a trigger that does nothing.
func NewTrigger(url string) *Trigger {
	return &Trigger{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ProjectSynced requests a re-index of the project's content.
func (t *Trigger) ProjectSynced(projectID string) {
	if t.url == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{"project_id": projectID})
	if err != nil {
		return
	}

	resp, err := t.client.Post(t.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Debug("search: refresh trigger for project %s failed: %v", projectID, err)
		return
	}
	resp.Body.Close()
	logger.Debug("search: refresh triggered for project %s", projectID)
}
