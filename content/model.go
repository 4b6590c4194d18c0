// ABOUTME: Domain records for content views, versions, environments, and cloned puppet environments.
// ABOUTME: PuppetEnvironment is the entity a clone run creates or reuses; the rest are read-only inputs.
package content

import (
	"strings"
	"time"
)

// State is the lifecycle state of a PuppetEnvironment.
type State string

const (
	StateAbsent   State = "absent"
	StateNew      State = "new"
	StateActive   State = "active"
	StateArchived State = "archived"
)

// ContentView is a named set of content published as numbered versions.
type ContentView struct {
	ID                string `json:"id" yaml:"id"`
	Label             string `json:"label" yaml:"label"`
	OrganizationLabel string `json:"organization_label" yaml:"organization_label"`
}

// Version is one published snapshot of a content view.
type Version struct {
	ID            string    `json:"id" yaml:"id"`
	ContentViewID string    `json:"content_view_id" yaml:"content_view_id"`
	Number        int       `json:"number" yaml:"number"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}

// Environment is a lifecycle environment that consumers read content from.
type Environment struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// PuppetEnvironment is a copy of a version's puppet content, either scoped to an
// environment (visible to consumers) or kept as the version's archive.
type PuppetEnvironment struct {
	ID            string    `json:"id"`
	ContentViewID string    `json:"content_view_id"`
	VersionID     string    `json:"version_id"`
	EnvironmentID string    `json:"environment_id,omitempty"`
	PulpID        string    `json:"pulp_id"`
	State         State     `json:"state"`
	LockVersion   int       `json:"lock_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewRecord reports whether the entity has not been persisted yet.
func (e *PuppetEnvironment) NewRecord() bool {
	return e.LockVersion == 0
}

// Archive reports whether the entity is a version archive rather than an
// environment-scoped clone.
func (e *PuppetEnvironment) Archive() bool {
	return e.EnvironmentID == ""
}

// PersistedState is the state the entity takes once it is saved.
func (e *PuppetEnvironment) PersistedState() State {
	if e.Archive() {
		return StateArchived
	}
	return StateActive
}

// PulpID builds the repository identifier used by the content service,
// e.g. "acme-web-dev-puppet" or "acme-web-v3-puppet".
func PulpID(org, contentView, scope string) string {
	parts := []string{org, contentView, scope, "puppet"}
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.TrimSpace(p), " ", "_")
	}
	return strings.Join(parts, "-")
}
