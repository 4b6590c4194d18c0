// ABOUTME: Per-entity leases that keep at most one in-flight run per entity.
// ABOUTME: Leases expire unless renewed, so a crashed holder's entity becomes available again.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/2389-research/viewclone/content"
)

// DefaultLeaseTTL is how long a lease survives without renewal.
const DefaultLeaseTTL = 30 * time.Second

// Leases grants per-entity leases. Executors sharing one implementation, even
// from different processes, never run two plans against the same entity.
type Leases interface {
	// AcquireLease takes the lease on entityID for runID, or returns
	// *content.ConflictError while another live lease exists.
	AcquireLease(ctx context.Context, entityID, runID string, ttl time.Duration) error
	// RenewLease extends a lease runID holds, or returns *content.ConflictError
	// when it was lost.
	RenewLease(ctx context.Context, entityID, runID string, ttl time.Duration) error
	// ReleaseLease drops the lease if runID still holds it.
	ReleaseLease(ctx context.Context, entityID, runID string) error
}

// memoryLeases is the process-local Leases used when none is configured.
type memoryLeases struct {
	mu   sync.Mutex
	held map[string]string // entity ID -> run ID
}

func newMemoryLeases() *memoryLeases {
	return &memoryLeases{held: make(map[string]string)}
}

func (l *memoryLeases) AcquireLease(_ context.Context, entityID, runID string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, ok := l.held[entityID]; ok {
		return &content.ConflictError{
			Resource: "puppet environment",
			ID:       entityID,
			Reason:   fmt.Sprintf("run %s is already in flight", holder),
		}
	}
	l.held[entityID] = runID
	return nil
}

func (l *memoryLeases) RenewLease(_ context.Context, entityID, runID string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[entityID] != runID {
		return &content.ConflictError{Resource: "puppet environment", ID: entityID, Reason: "lease lost"}
	}
	return nil
}

func (l *memoryLeases) ReleaseLease(_ context.Context, entityID, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[entityID] == runID {
		delete(l.held, entityID)
	}
	return nil
}

// keepLease renews the run's lease every third of the TTL until the returned
// stop function is called. Stop waits for the renewer to exit.
func (e *Executor) keepLease(entityID, runID string) (stop func()) {
	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(e.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if err := e.cfg.Leases.RenewLease(context.Background(), entityID, runID, e.cfg.LeaseTTL); err != nil {
					e.cfg.Logger.Printf("component=engine action=lease_renew_failed run=%s entity=%s err=%v",
						runID, entityID, err)
				}
			}
		}
	}()
	return func() {
		close(quit)
		<-exited
	}
}

func (e *Executor) releaseLease(entityID, runID string) {
	if err := e.cfg.Leases.ReleaseLease(context.Background(), entityID, runID); err != nil {
		e.cfg.Logger.Printf("component=engine action=lease_release_failed run=%s entity=%s err=%v",
			runID, entityID, err)
	}
}
