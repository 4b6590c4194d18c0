// ABOUTME: Closed set of step kinds, each with its own typed input snapshot.
// ABOUTME: Executors dispatch on the concrete Input type rather than a runtime lookup.
package plan

import "github.com/2389-research/viewclone/content"

// Kind tags the operation a step performs.
type Kind string

const (
	KindCreate           Kind = "create"
	KindRelink           Kind = "relink"
	KindClear            Kind = "clear"
	KindCopy             Kind = "copy"
	KindMetadataGenerate Kind = "metadata_generate"
	KindIndexContent     Kind = "index_content"
)

// Input is the immutable parameter snapshot taken when a step is planned.
// The set of implementations is closed to this package.
type Input interface {
	Kind() Kind
	sealed()
}

// CreateInput persists a new entity and creates its repository.
type CreateInput struct {
	Entity content.PuppetEnvironment `json:"entity"`
	// SkipCompletenessCheck marks the repository as populated by the copy that
	// follows, so the content service does not validate it on creation.
	SkipCompletenessCheck bool `json:"skip_completeness_check"`
}

// RelinkInput points an existing entity at the version being cloned and saves it.
type RelinkInput struct {
	EntityID  string `json:"entity_id"`
	VersionID string `json:"version_id"`
}

// ClearInput removes all content from an existing entity's repository.
type ClearInput struct {
	EntityID string `json:"entity_id"`
	PulpID   string `json:"pulp_id"`
}

// Criteria narrows a copy to matching units. A nil *Criteria copies everything.
type Criteria struct {
	Filters map[string]string `json:"filters,omitempty"`
	Fields  []string          `json:"fields,omitempty"`
}

// CopyInput copies units from the archived source repository to the target.
type CopyInput struct {
	SourcePulpID string    `json:"source_pulp_id"`
	TargetPulpID string    `json:"target_pulp_id"`
	Criteria     *Criteria `json:"criteria"`
}

// MetadataGenerateInput regenerates published metadata for a live repository.
type MetadataGenerateInput struct {
	EntityID string `json:"entity_id"`
	PulpID   string `json:"pulp_id"`
}

// IndexContentInput reindexes an entity's content for search.
type IndexContentInput struct {
	EntityID string `json:"entity_id"`
}

func (CreateInput) Kind() Kind           { return KindCreate }
func (RelinkInput) Kind() Kind           { return KindRelink }
func (ClearInput) Kind() Kind            { return KindClear }
func (CopyInput) Kind() Kind             { return KindCopy }
func (MetadataGenerateInput) Kind() Kind { return KindMetadataGenerate }
func (IndexContentInput) Kind() Kind     { return KindIndexContent }

func (CreateInput) sealed()           {}
func (RelinkInput) sealed()           {}
func (ClearInput) sealed()            {}
func (CopyInput) sealed()             {}
func (MetadataGenerateInput) sealed() {}
func (IndexContentInput) sealed()     {}
