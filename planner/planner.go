// ABOUTME: Builds clone plans for puppet environments by inspecting existing persisted state.
// ABOUTME: Chooses create vs relink-and-clear, then copy, then concurrent metadata and index steps.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/plan"
)

// Options selects the clone target. Exactly one field must be set.
type Options struct {
	// EnvironmentID clones into the environment-scoped entity that consumers read.
	EnvironmentID string `json:"environment_id,omitempty"`
	// NewVersionID clones into the archive entity of a new version.
	NewVersionID string `json:"new_version_id,omitempty"`
}

// Planner builds clone plans. It only reads from the store.
type Planner struct {
	store  content.Store
	logger *log.Logger
}

// New creates a Planner reading from store. A nil logger uses the standard logger.
func New(store content.Store, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.Default()
	}
	return &Planner{store: store, logger: logger}
}

// PlanClone resolves the clone target for fromVersionID and returns the plan.
// It fails with *content.NotFoundError when the source version or its archived
// puppet environment is missing, and *content.ValidationError for bad options.
func (p *Planner) PlanClone(ctx context.Context, fromVersionID string, opts Options) (*plan.Plan, error) {
	if (opts.EnvironmentID == "") == (opts.NewVersionID == "") {
		return nil, &content.ValidationError{
			Field:   "options",
			Message: "exactly one of environment_id or new_version_id is required",
		}
	}

	from, err := p.store.GetVersion(ctx, fromVersionID)
	if err != nil {
		return nil, err
	}
	cv, err := p.store.GetContentView(ctx, from.ContentViewID)
	if err != nil {
		return nil, err
	}
	source, err := p.store.ArchivedForVersion(ctx, from.ID)
	if err != nil {
		return nil, err
	}

	var clone *content.PuppetEnvironment
	// linkTo is the version the reused entity must point at once relinked.
	linkTo := from.ID
	if opts.EnvironmentID != "" {
		clone, err = p.findOrBuildInEnvironment(ctx, cv, from, opts.EnvironmentID)
	} else {
		clone, err = p.findOrBuildArchive(ctx, cv, from, opts.NewVersionID)
		linkTo = opts.NewVersionID
	}
	if err != nil {
		return nil, err
	}
	// Clearing the target would wipe the archive every clone copies from.
	if clone.ID == source.ID || clone.PulpID == source.PulpID {
		return nil, &content.ValidationError{Field: "options", Message: "clone target is the source archive"}
	}

	var nodes []plan.Node
	if clone.NewRecord() {
		nodes = append(nodes, plan.NewStep(plan.CreateInput{Entity: *clone, SkipCompletenessCheck: true}))
	} else {
		nodes = append(nodes,
			plan.NewStep(plan.RelinkInput{EntityID: clone.ID, VersionID: linkTo}),
			plan.NewStep(plan.ClearInput{EntityID: clone.ID, PulpID: clone.PulpID}),
		)
	}

	nodes = append(nodes, plan.NewStep(plan.CopyInput{
		SourcePulpID: source.PulpID,
		TargetPulpID: clone.PulpID,
		Criteria:     nil,
	}))

	var post []plan.Node
	if opts.EnvironmentID != "" {
		post = append(post, plan.NewStep(plan.MetadataGenerateInput{EntityID: clone.ID, PulpID: clone.PulpID}))
	}
	post = append(post, plan.NewStep(plan.IndexContentInput{EntityID: clone.ID}))
	nodes = append(nodes, plan.Concurrent(post...))

	built, err := plan.New(clone.ID, clone.NewRecord(), nodes...)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	p.logger.Printf("component=planner action=plan_clone from_version=%s entity=%s new=%t shape=%q",
		from.ID, clone.ID, clone.NewRecord(), built.Describe())
	return built, nil
}

// findOrBuildInEnvironment returns the environment-scoped entity of the content
// view, or a new unsaved one linked to the source version.
func (p *Planner) findOrBuildInEnvironment(ctx context.Context, cv *content.ContentView, from *content.Version, environmentID string) (*content.PuppetEnvironment, error) {
	env, err := p.store.GetEnvironment(ctx, environmentID)
	if errors.Is(err, content.ErrNotFound) {
		return nil, &content.ValidationError{Field: "environment_id", Message: fmt.Sprintf("unknown environment %q", environmentID)}
	}
	if err != nil {
		return nil, err
	}

	existing, err := p.store.FindInEnvironment(ctx, cv.ID, env.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, content.ErrNotFound) {
		return nil, err
	}

	return &content.PuppetEnvironment{
		ID:            content.NewID(),
		ContentViewID: cv.ID,
		VersionID:     from.ID,
		EnvironmentID: env.ID,
		PulpID:        content.PulpID(cv.OrganizationLabel, cv.Label, env.Label),
		State:         content.StateNew,
	}, nil
}

// findOrBuildArchive returns the archive entity of the new version, or a new
// unsaved one.
func (p *Planner) findOrBuildArchive(ctx context.Context, cv *content.ContentView, from *content.Version, newVersionID string) (*content.PuppetEnvironment, error) {
	if newVersionID == from.ID {
		return nil, &content.ValidationError{Field: "new_version_id", Message: "must differ from the source version"}
	}
	newVersion, err := p.store.GetVersion(ctx, newVersionID)
	if errors.Is(err, content.ErrNotFound) {
		return nil, &content.ValidationError{Field: "new_version_id", Message: fmt.Sprintf("unknown version %q", newVersionID)}
	}
	if err != nil {
		return nil, err
	}
	if newVersion.ContentViewID != cv.ID {
		return nil, &content.ValidationError{Field: "new_version_id", Message: "version belongs to another content view"}
	}

	existing, err := p.store.ArchivedForVersion(ctx, newVersion.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, content.ErrNotFound) {
		return nil, err
	}

	return &content.PuppetEnvironment{
		ID:            content.NewID(),
		ContentViewID: cv.ID,
		VersionID:     newVersion.ID,
		PulpID:        content.PulpID(cv.OrganizationLabel, cv.Label, "v"+strconv.Itoa(newVersion.Number)),
		State:         content.StateNew,
	}, nil
}
