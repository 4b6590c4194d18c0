// ABOUTME: IndexClient for the search index service.
// ABOUTME: Submits a reindex of one puppet environment and waits for the task to finish.
package remote

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/engine"
)

// Compile-time check that IndexClient implements engine.Indexer.
var _ engine.Indexer = (*IndexClient)(nil)

// IndexClient reindexes puppet environment content.
type IndexClient struct {
	Tasks *TaskClient
}

// NewIndexClient returns an IndexClient backed by tasks.
func NewIndexClient(tasks *TaskClient) *IndexClient {
	return &IndexClient{Tasks: tasks}
}

type indexRequest struct {
	ContentViewID string `json:"content_view_id"`
	VersionID     string `json:"version_id"`
	EnvironmentID string `json:"environment_id,omitempty"`
	PulpID        string `json:"pulp_id"`
}

// IndexContent reindexes the entity's repository and returns the number of indexed units.
func (c *IndexClient) IndexContent(ctx context.Context, entity *content.PuppetEnvironment) (int, error) {
	req := indexRequest{
		ContentViewID: entity.ContentViewID,
		VersionID:     entity.VersionID,
		EnvironmentID: entity.EnvironmentID,
		PulpID:        entity.PulpID,
	}
	task, err := c.Tasks.Run(ctx, "index_content", "/index/puppet_environments/"+url.PathEscape(entity.ID), req)
	if err != nil || task == nil || len(task.Result) == 0 {
		return 0, err
	}
	var result struct {
		Indexed int `json:"indexed"`
	}
	if err := json.Unmarshal(task.Result, &result); err != nil {
		return 0, &content.RemoteOperationError{Op: "index_content", Message: "decode task result", Err: err}
	}
	return result.Indexed, nil
}
