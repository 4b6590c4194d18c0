// ABOUTME: Persistence interface consumed by the planner and step runners.
// ABOUTME: Saves use optimistic concurrency on PuppetEnvironment.LockVersion.
package content

import "context"

// Store persists content records. Lookups return *NotFoundError when nothing
// matches. SaveEntity returns *ConflictError when the stored lock version no
// longer matches the caller's copy.
type Store interface {
	GetContentView(ctx context.Context, id string) (*ContentView, error)
	CreateContentView(ctx context.Context, cv *ContentView) error

	GetVersion(ctx context.Context, id string) (*Version, error)
	LatestVersion(ctx context.Context, contentViewID string) (*Version, error)
	CreateVersion(ctx context.Context, v *Version) error
	// DeleteVersion removes a version no puppet environment references.
	DeleteVersion(ctx context.Context, id string) error

	GetEnvironment(ctx context.Context, id string) (*Environment, error)
	CreateEnvironment(ctx context.Context, env *Environment) error

	GetEntity(ctx context.Context, id string) (*PuppetEnvironment, error)
	// ArchivedForVersion returns the archive entity belonging to a version.
	ArchivedForVersion(ctx context.Context, versionID string) (*PuppetEnvironment, error)
	// FindInEnvironment returns the entity of a content view promoted to an environment.
	FindInEnvironment(ctx context.Context, contentViewID, environmentID string) (*PuppetEnvironment, error)
	// CreateEntity inserts a new entity and sets its LockVersion to 1.
	CreateEntity(ctx context.Context, e *PuppetEnvironment) error
	// SaveEntity updates an existing entity and increments its LockVersion.
	SaveEntity(ctx context.Context, e *PuppetEnvironment) error

	Close() error
}
