// ABOUTME: Domain StepRunner mapping each step kind to content store and remote service calls.
// ABOUTME: Create and relink are idempotent so that resumed runs can repeat them safely.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/plan"
)

// ContentService is the remote content (repository) service. Each call
// returns once the remote task reached a terminal state.
type ContentService interface {
	// CreateRepository creates the repository; an existing repository is not an error.
	CreateRepository(ctx context.Context, pulpID string, skipCompletenessCheck bool) error
	ClearRepository(ctx context.Context, pulpID string) error
	CopyUnits(ctx context.Context, sourcePulpID, targetPulpID string, criteria *plan.Criteria) (int, error)
	GenerateMetadata(ctx context.Context, pulpID string) error
}

// Indexer refreshes the search index for an entity's content.
type Indexer interface {
	IndexContent(ctx context.Context, entity *content.PuppetEnvironment) (int, error)
}

// Steps is the domain StepRunner.
type Steps struct {
	Content ContentService
	Index   Indexer
}

// Compile-time check that Steps implements StepRunner.
var _ StepRunner = (*Steps)(nil)

// RunStep dispatches on the step's input type.
func (s *Steps) RunStep(ctx context.Context, ec ExecutionContext, step *plan.Step) (plan.Output, error) {
	switch in := step.Input.(type) {
	case plan.CreateInput:
		return s.create(ctx, ec, in)
	case plan.RelinkInput:
		return s.relink(ctx, ec, in)
	case plan.ClearInput:
		if s.Content == nil {
			return nil, errNoContentService
		}
		if err := s.Content.ClearRepository(ctx, in.PulpID); err != nil {
			return nil, err
		}
		return plan.Output{"pulp_id": in.PulpID}, nil
	case plan.CopyInput:
		if s.Content == nil {
			return nil, errNoContentService
		}
		n, err := s.Content.CopyUnits(ctx, in.SourcePulpID, in.TargetPulpID, in.Criteria)
		if err != nil {
			return nil, err
		}
		ec.Logf("action=copy source=%s target=%s units=%d", in.SourcePulpID, in.TargetPulpID, n)
		return plan.Output{"units_copied": strconv.Itoa(n)}, nil
	case plan.MetadataGenerateInput:
		if s.Content == nil {
			return nil, errNoContentService
		}
		if err := s.Content.GenerateMetadata(ctx, in.PulpID); err != nil {
			return nil, err
		}
		return plan.Output{"pulp_id": in.PulpID}, nil
	case plan.IndexContentInput:
		return s.index(ctx, ec, in)
	default:
		return nil, fmt.Errorf("unsupported step kind %q", step.Kind())
	}
}

var errNoContentService = errors.New("no content service configured")

func (s *Steps) create(ctx context.Context, ec ExecutionContext, in plan.CreateInput) (plan.Output, error) {
	if s.Content == nil {
		return nil, errNoContentService
	}
	if ec.Entities == nil {
		return nil, errors.New("no entity store configured")
	}

	_, err := ec.Entities.GetEntity(ctx, in.Entity.ID)
	switch {
	case err == nil:
		ec.Logf("action=create entity=%s persisted=already", in.Entity.ID)
	case errors.Is(err, content.ErrNotFound):
		entity := in.Entity
		entity.State = entity.PersistedState()
		entity.LockVersion = 0
		if err := ec.Entities.CreateEntity(ctx, &entity); err != nil {
			return nil, fmt.Errorf("persist entity: %w", err)
		}
	default:
		return nil, fmt.Errorf("load entity: %w", err)
	}

	if err := s.Content.CreateRepository(ctx, in.Entity.PulpID, in.SkipCompletenessCheck); err != nil {
		return nil, err
	}
	return plan.Output{"entity_id": in.Entity.ID, "pulp_id": in.Entity.PulpID}, nil
}

func (s *Steps) relink(ctx context.Context, ec ExecutionContext, in plan.RelinkInput) (plan.Output, error) {
	if ec.Entities == nil {
		return nil, errors.New("no entity store configured")
	}
	entity, err := ec.Entities.GetEntity(ctx, in.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load entity: %w", err)
	}
	if entity.VersionID == in.VersionID {
		return plan.Output{"version_id": in.VersionID, "relinked": "false"}, nil
	}

	previous := entity.VersionID
	entity.VersionID = in.VersionID
	if err := ec.Entities.SaveEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("save entity: %w", err)
	}
	ec.Logf("action=relink entity=%s from=%s to=%s", entity.ID, previous, in.VersionID)
	return plan.Output{"version_id": in.VersionID, "relinked": "true"}, nil
}

func (s *Steps) index(ctx context.Context, ec ExecutionContext, in plan.IndexContentInput) (plan.Output, error) {
	if s.Index == nil {
		return nil, errors.New("no indexer configured")
	}
	if ec.Entities == nil {
		return nil, errors.New("no entity store configured")
	}
	entity, err := ec.Entities.GetEntity(ctx, in.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load entity: %w", err)
	}
	n, err := s.Index.IndexContent(ctx, entity)
	if err != nil {
		return nil, err
	}
	return plan.Output{"indexed": strconv.Itoa(n)}, nil
}
