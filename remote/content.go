// ABOUTME: ContentClient for the repository service: create, clear, copy units, publish metadata.
// ABOUTME: Implements engine.ContentService on top of TaskClient submit-and-poll calls.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
)

// Compile-time check that ContentClient implements engine.ContentService.
var _ engine.ContentService = (*ContentClient)(nil)

const (
	puppetUnitType      = "puppet_module"
	puppetImporter      = "puppet_importer"
	puppetDistributorID = "puppet_distributor"
)

// ContentClient manages puppet repositories on the content service.
type ContentClient struct {
	Tasks *TaskClient
}

// NewContentClient returns a ContentClient backed by tasks.
func NewContentClient(tasks *TaskClient) *ContentClient {
	return &ContentClient{Tasks: tasks}
}

type createRepositoryRequest struct {
	ID             string            `json:"id"`
	DisplayName    string            `json:"display_name"`
	ImporterTypeID string            `json:"importer_type_id"`
	Notes          map[string]string `json:"notes"`
	Distributors   []distributor     `json:"distributors"`
}

type distributor struct {
	DistributorTypeID string `json:"distributor_type_id"`
	DistributorID     string `json:"distributor_id"`
	AutoPublish       bool   `json:"auto_publish"`
}

// CreateRepository creates the repository. A 409 means it already exists and is treated as success.
func (c *ContentClient) CreateRepository(ctx context.Context, pulpID string, skipCompletenessCheck bool) error {
	notes := map[string]string{"_repo-type": "puppet-repo"}
	if skipCompletenessCheck {
		notes["skip_completeness_check"] = "true"
	}
	req := createRepositoryRequest{
		ID:             pulpID,
		DisplayName:    pulpID,
		ImporterTypeID: puppetImporter,
		Notes:          notes,
		Distributors: []distributor{{
			DistributorTypeID: "puppet_install_distributor",
			DistributorID:     puppetDistributorID,
		}},
	}

	_, err := c.Tasks.Run(ctx, "create_repository", "/repositories/", req)
	var remoteErr *content.RemoteOperationError
	if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusConflict {
		c.Tasks.logf("component=remote action=create_repository repo=%s exists=true", pulpID)
		return nil
	}
	return err
}

type unitCriteria struct {
	TypeIDs []string          `json:"type_ids"`
	Filters map[string]string `json:"filters,omitempty"`
	Fields  []string          `json:"fields,omitempty"`
}

// ClearRepository removes every puppet unit from the repository.
func (c *ContentClient) ClearRepository(ctx context.Context, pulpID string) error {
	body := map[string]any{"criteria": unitCriteria{TypeIDs: []string{puppetUnitType}}}
	_, err := c.Tasks.Run(ctx, "clear_repository", repoAction(pulpID, "unassociate"), body)
	return err
}

type associateRequest struct {
	SourceRepoID string       `json:"source_repo_id"`
	Criteria     unitCriteria `json:"criteria"`
}

// CopyUnits associates units from source into target and returns how many were copied.
func (c *ContentClient) CopyUnits(ctx context.Context, sourcePulpID, targetPulpID string, criteria *plan.Criteria) (int, error) {
	req := associateRequest{
		SourceRepoID: sourcePulpID,
		Criteria:     unitCriteria{TypeIDs: []string{puppetUnitType}},
	}
	if criteria != nil {
		req.Criteria.Filters = criteria.Filters
		req.Criteria.Fields = criteria.Fields
	}

	task, err := c.Tasks.Run(ctx, "copy_units", repoAction(targetPulpID, "associate"), req)
	if err != nil || task == nil || len(task.Result) == 0 {
		return 0, err
	}
	var result struct {
		UnitsSuccessful []json.RawMessage `json:"units_successful"`
	}
	if err := json.Unmarshal(task.Result, &result); err != nil {
		return 0, &content.RemoteOperationError{Op: "copy_units", Message: "decode task result", Err: err}
	}
	return len(result.UnitsSuccessful), nil
}

// GenerateMetadata publishes the repository through its puppet distributor.
func (c *ContentClient) GenerateMetadata(ctx context.Context, pulpID string) error {
	body := map[string]string{"id": puppetDistributorID}
	_, err := c.Tasks.Run(ctx, "generate_metadata", repoAction(pulpID, "publish"), body)
	return err
}

func repoAction(pulpID, action string) string {
	return "/repositories/" + url.PathEscape(pulpID) + "/actions/" + action + "/"
}
