// ABOUTME: Clone, promote, and publish workflows: plan a clone and hand it to the executor.
// ABOUTME: Publish creates the next content view version before archive-cloning into it.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
	"github.com/2389-research/viewclone/planner"
)

// Result describes a started workflow.
type Result struct {
	Run  *engine.RunHandle
	Plan *plan.Plan
	// Version is the version created by Publish; nil for Clone and Promote.
	Version *content.Version
}

// Service wires the planner to the executor.
type Service struct {
	store    content.Store
	planner  *planner.Planner
	executor *engine.Executor
	logger   *log.Logger
}

// NewService creates a Service. A nil logger uses the standard logger.
func NewService(store content.Store, p *planner.Planner, exec *engine.Executor, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, planner: p, executor: exec, logger: logger}
}

// Clone plans a clone of fromVersionID and starts executing it. Planning
// errors are returned before any run exists.
func (s *Service) Clone(ctx context.Context, fromVersionID string, opts planner.Options) (*Result, error) {
	p, err := s.planner.PlanClone(ctx, fromVersionID, opts)
	if err != nil {
		return nil, err
	}
	label := "clone"
	if opts.EnvironmentID != "" {
		label = "promote"
	}
	h, err := s.executor.Execute(ctx, p, label)
	if err != nil {
		return nil, err
	}
	return &Result{Run: h, Plan: p}, nil
}

// Promote clones versionID into the environment envID.
func (s *Service) Promote(ctx context.Context, versionID, envID string) (*Result, error) {
	if envID == "" {
		return nil, &content.ValidationError{Field: "environment_id", Message: "is required"}
	}
	return s.Clone(ctx, versionID, planner.Options{EnvironmentID: envID})
}

// Publish creates version N+1 of the content view from its latest version N
// and archive-clones N's puppet content into it.
func (s *Service) Publish(ctx context.Context, contentViewID string) (*Result, error) {
	cv, err := s.store.GetContentView(ctx, contentViewID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestVersion(ctx, cv.ID)
	if err != nil {
		return nil, err
	}
	// Check the source archive before creating anything.
	if _, err := s.store.ArchivedForVersion(ctx, latest.ID); err != nil {
		return nil, err
	}

	next := &content.Version{ContentViewID: cv.ID, Number: latest.Number + 1}
	if err := s.store.CreateVersion(ctx, next); err != nil {
		return nil, fmt.Errorf("create version %d: %w", next.Number, err)
	}
	s.logger.Printf("component=publish action=create_version content_view=%s version=%s number=%d",
		cv.ID, next.ID, next.Number)

	p, err := s.planner.PlanClone(ctx, latest.ID, planner.Options{NewVersionID: next.ID})
	if err != nil {
		return nil, s.discardVersion(ctx, next, err)
	}
	h, err := s.executor.Execute(ctx, p, "publish")
	if err != nil {
		return nil, s.discardVersion(ctx, next, err)
	}
	return &Result{Run: h, Plan: p, Version: next}, nil
}

// discardVersion deletes a version whose archive clone never started, so the
// next publish still builds on an archived version. It returns cause, joined
// with the delete failure if there was one.
func (s *Service) discardVersion(ctx context.Context, v *content.Version, cause error) error {
	if err := s.store.DeleteVersion(context.WithoutCancel(ctx), v.ID); err != nil {
		s.logger.Printf("component=publish action=discard_version_failed version=%s err=%v", v.ID, err)
		return errors.Join(cause, fmt.Errorf("discard version %d: %w", v.Number, err))
	}
	s.logger.Printf("component=publish action=discard_version version=%s number=%d", v.ID, v.Number)
	return cause
}
