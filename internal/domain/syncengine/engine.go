// Package syncengine drains a terminal's offline sale queue against the
// backend once connectivity allows: one sale at a time, in capture order,
// assigning real correlative numbers at sync time and applying each sale
// idempotently so crash-and-retry can never double-number a sale.
package syncengine

import (
	"context"
	"fmt"
	"sync"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/document"
	"ventapos/internal/domain/sale"
	"ventapos/pkg/eventbus"
	"ventapos/pkg/logger"
)

// Event names delivered on the bus. The completed payload carries a Summary.
const (
	EventSyncStarted    = "sync_started"
	EventProcessingSale = "processing_sale"
	EventSaleProcessed  = "sale_processed"
	EventSaleFailed     = "sale_failed"
	EventSyncCompleted  = "sync_completed"
)

// Topic returns the bus topic carrying sync events for a business.
func Topic(businessID id.ID) string {
	return "sync:" + businessID.String()
}

// Queue is the terminal-resident durable queue the engine drains.
type Queue interface {
	// ListPending returns pending sales in FIFO order by capture time.
	ListPending(ctx context.Context, businessID id.ID) ([]sale.Queued, error)

	// MarkState transitions a queued sale's lifecycle state.
	MarkState(ctx context.Context, localID id.ID, state sale.State) error

	// MarkFailed records a failure, bumping the retry count. Permanent
	// failures (malformed payloads) park in failed immediately; transient
	// ones return to pending until the retry budget is spent.
	MarkFailed(ctx context.Context, localID id.ID, reason string, permanent bool) error

	// Remove deletes a sale whose numbered document is confirmed written.
	Remove(ctx context.Context, localID id.ID) error
}

// Allocator reserves the next correlative number for a series key.
// Terminal deployments back this with the server's allocation endpoint;
// tests and the server itself use allocator.Service directly.
type Allocator interface {
	Allocate(ctx context.Context, key series.Key) (series.Allocated, error)
}

// Summary is the outcome of one drain run.
type Summary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"` // already applied by an earlier run
}

// Engine drains the queue. One logical worker per terminal: Run refuses a
// second concurrent drain for the same business.
type Engine struct {
	queue     Queue
	allocator Allocator
	docs      document.Store
	bus       *eventbus.Bus
	log       *logger.Logger

	mu      sync.Mutex
	running map[id.ID]bool
}

// New creates a sync engine.
func New(queue Queue, alloc Allocator, docs document.Store, bus *eventbus.Bus, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		queue:     queue,
		allocator: alloc,
		docs:      docs,
		bus:       bus,
		log:       log.WithComponent("syncengine"),
		running:   make(map[id.ID]bool),
	}
}

func (e *Engine) acquire(businessID id.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[businessID] {
		return false
	}
	e.running[businessID] = true
	return true
}

func (e *Engine) release(businessID id.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, businessID)
}

func (e *Engine) publish(businessID id.ID, name string, payload any) {
	if e.bus != nil {
		e.bus.Publish(Topic(businessID), eventbus.Event{Name: name, Payload: payload})
	}
}

// Run drains all pending sales for the business in capture order. Per-sale
// failures are isolated: one bad sale never blocks the rest of the backlog.
// A store outage aborts the run early and leaves the queue intact for the
// next reconnection.
func (e *Engine) Run(ctx context.Context, businessID id.ID) (Summary, error) {
	if !e.acquire(businessID) {
		return Summary{}, apperror.NewSyncInProgress(businessID.String())
	}
	defer e.release(businessID)

	log := e.log.WithBusiness(businessID.String())

	pending, err := e.queue.ListPending(ctx, businessID)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending sales: %w", err)
	}

	e.publish(businessID, EventSyncStarted, map[string]any{"pending": len(pending)})
	log.Infow("sync started", "pending", len(pending))

	var summary Summary
	var runErr error

	for _, queued := range pending {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		e.publish(businessID, EventProcessingSale, map[string]any{"local_id": queued.LocalID})

		outcome, err := e.processSale(ctx, queued)
		switch outcome {
		case outcomeProcessed:
			summary.Processed++
			e.publish(businessID, EventSaleProcessed, map[string]any{"local_id": queued.LocalID})
		case outcomeSkipped:
			summary.Skipped++
			e.publish(businessID, EventSaleProcessed, map[string]any{"local_id": queued.LocalID, "replayed": true})
		case outcomeFailed:
			summary.Failed++
			e.publish(businessID, EventSaleFailed, map[string]any{"local_id": queued.LocalID, "error": err.Error()})
			log.Warnw("sale failed to sync", "local_id", queued.LocalID, "error", err)
		case outcomeAborted:
			// Store outage: nothing to gain by continuing. The sale was
			// returned to pending; so is the rest of the backlog.
			runErr = err
			log.Warnw("sync aborted early", "local_id", queued.LocalID, "error", err)
		}
		if outcome == outcomeAborted {
			break
		}
	}

	e.publish(businessID, EventSyncCompleted, summary)
	log.Infow("sync completed",
		"processed", summary.Processed, "failed", summary.Failed, "skipped", summary.Skipped)

	return summary, runErr
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeAborted
)

func (e *Engine) processSale(ctx context.Context, queued sale.Queued) (outcome, error) {
	if err := e.queue.MarkState(ctx, queued.LocalID, sale.StateSyncing); err != nil {
		return outcomeFailed, fmt.Errorf("mark syncing: %w", err)
	}

	// Crash tolerance: if a previous run wrote the document but died before
	// removing the sale, skip allocation entirely.
	existing, err := e.docs.FindByLocalID(ctx, queued.Payload.BusinessID, queued.LocalID)
	if err != nil {
		return e.abortSale(ctx, queued, err)
	}
	if existing != nil {
		if err := e.queue.Remove(ctx, queued.LocalID); err != nil {
			return outcomeFailed, fmt.Errorf("remove replayed sale: %w", err)
		}
		return outcomeSkipped, nil
	}

	if err := queued.Payload.Validate(ctx); err != nil {
		// Malformed payloads need manual correction; they never retry.
		_ = e.queue.MarkFailed(ctx, queued.LocalID, err.Error(), true)
		return outcomeFailed, err
	}

	allocated, err := e.allocator.Allocate(ctx, queued.Payload.SeriesKey())
	if err != nil {
		if apperror.IsStoreUnavailable(err) || ctx.Err() != nil {
			return e.abortSale(ctx, queued, err)
		}
		_ = e.queue.MarkFailed(ctx, queued.LocalID, err.Error(), false)
		return outcomeFailed, err
	}

	doc := buildDocument(queued, allocated)
	if err := e.docs.Insert(ctx, doc); err != nil {
		if apperror.IsDuplicateSubmission(err) {
			// Another run won the race after our idempotency check. The
			// number we allocated goes unused: a gap, which is acceptable.
			if rmErr := e.queue.Remove(ctx, queued.LocalID); rmErr != nil {
				return outcomeFailed, fmt.Errorf("remove replayed sale: %w", rmErr)
			}
			return outcomeSkipped, nil
		}
		if apperror.IsStoreUnavailable(err) || ctx.Err() != nil {
			return e.abortSale(ctx, queued, err)
		}
		_ = e.queue.MarkFailed(ctx, queued.LocalID, err.Error(), false)
		return outcomeFailed, err
	}

	// The numbered document is durably written. Record the confirmation,
	// then drop the sale from the queue. A crash between the two is safe:
	// synced leftovers are purged at startup, and the idempotency marker
	// blocks renumbering either way.
	if err := e.queue.MarkState(ctx, queued.LocalID, sale.StateSynced); err != nil {
		e.log.Warnw("failed to mark sale synced", "local_id", queued.LocalID, "error", err)
	}
	if err := e.queue.Remove(ctx, queued.LocalID); err != nil {
		return outcomeFailed, fmt.Errorf("remove synced sale: %w", err)
	}
	return outcomeProcessed, nil
}

// abortSale puts the sale back to pending and signals the run to stop.
func (e *Engine) abortSale(ctx context.Context, queued sale.Queued, cause error) (outcome, error) {
	// Reset with a fresh context: the run's context may already be dead.
	if err := e.queue.MarkState(context.WithoutCancel(ctx), queued.LocalID, sale.StatePending); err != nil {
		e.log.Warnw("failed to reset sale to pending", "local_id", queued.LocalID, "error", err)
	}
	return outcomeAborted, cause
}

func buildDocument(queued sale.Queued, allocated series.Allocated) *document.Document {
	localID := queued.LocalID
	return &document.Document{
		ID:           id.New(),
		BusinessID:   queued.Payload.BusinessID,
		BranchID:     queued.Payload.BranchID,
		DocumentType: queued.Payload.DocumentType,
		Label:        allocated.Label,
		Number:       allocated.Number,
		LocalID:      &localID,
		Payload:      queued.Payload,
		Status:       document.StatusIssued,
		IssuedAt:     queued.CapturedAt,
	}
}
