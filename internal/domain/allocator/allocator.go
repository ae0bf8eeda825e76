// Package allocator reserves correlative document numbers. It is the single
// synchronization point between terminals: every legal number a tenant issues
// comes out of Allocate, which loops read / compute / compare-and-swap against
// the series store until it wins or its retry budget is spent.
//
// Gaps are acceptable (a caller that crashes after reserving a number leaves a
// hole); duplicates never are.
package allocator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/series"
	"ventapos/pkg/retry"
)

var tracer = otel.Tracer("ventapos/allocator")

// Store is the durable series state the allocator mutates. Implementations
// must back CompareAndSwap with the store's native optimistic-concurrency
// mechanism; the allocator adds no locking of its own.
type Store interface {
	// Get returns the current series state, or nil if the key has never
	// allocated. Transient outages surface as apperror.CodeStoreUnavailable.
	Get(ctx context.Context, key series.Key) (*series.Series, error)

	// CompareAndSwap advances the counter from expected to next, creating the
	// series with the given label when absent (expected 0). Returns false
	// when another caller won between the read and the write.
	CompareAndSwap(ctx context.Context, key series.Key, label string, expected, next int64) (bool, error)
}

// Config tunes the CAS retry loop.
type Config struct {
	// MaxAttempts bounds the read-modify-write loop before AllocationConflict
	// is surfaced as fatal.
	MaxAttempts int

	// BaseDelay is the initial backoff between CAS attempts.
	BaseDelay time.Duration

	// LabelFor supplies the label for a lazily-created series. Defaults to
	// series.DefaultLabel with branch index 1.
	LabelFor func(key series.Key) string
}

// DefaultConfig matches the documented contract: up to 10 attempts, 50ms base.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
	}
}

// Service allocates numbers against a Store.
type Service struct {
	store Store
	cfg   Config
}

// New creates an allocator over the given store.
func New(store Store, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.LabelFor == nil {
		cfg.LabelFor = func(key series.Key) string {
			return series.DefaultLabel(key.DocumentType, 1)
		}
	}
	return &Service{store: store, cfg: cfg}
}

// errCASMiss marks a lost swap inside the retry loop. Never escapes Allocate.
var errCASMiss = errors.New("compare-and-swap lost")

// Allocate reserves the next number for key. At most one caller ever observes
// a successful swap for a given (key, number) pair. The caller must write the
// finished document immediately after, to keep the reservation-to-use window
// small.
func (s *Service) Allocate(ctx context.Context, key series.Key) (series.Allocated, error) {
	ctx, span := tracer.Start(ctx, "allocator.Allocate",
		trace.WithAttributes(
			attribute.String("series.business_id", key.BusinessID.String()),
			attribute.String("series.document_type", string(key.DocumentType)),
		))
	defer span.End()

	var allocated series.Allocated

	res := retry.Do(ctx, retry.Config{
		MaxAttempts:    s.cfg.MaxAttempts,
		InitialBackoff: s.cfg.BaseDelay,
		MaxBackoff:     2 * time.Second,
		RetryIf:        func(err error) bool { return errors.Is(err, errCASMiss) },
	}, func() error {
		cur, err := s.store.Get(ctx, key)
		if err != nil {
			return err
		}

		// Never-allocated keys start from a zero baseline with the
		// conventional label; the swap creates the row.
		var last int64
		label := s.cfg.LabelFor(key)
		if cur != nil {
			last = cur.LastNumber
			label = cur.Label
		}

		next := last + 1
		ok, err := s.store.CompareAndSwap(ctx, key, label, last, next)
		if err != nil {
			return err
		}
		if !ok {
			return errCASMiss
		}

		allocated = series.Allocated{Label: label, Number: next}
		return nil
	})

	span.SetAttributes(attribute.Int("allocate.attempts", res.Attempts))

	if res.LastErr != nil {
		if errors.Is(res.LastErr, errCASMiss) {
			return series.Allocated{}, apperror.NewAllocationConflict(key.String(), res.Attempts)
		}
		// Store outages and cancellations pass through untouched; the
		// caller's own policy decides whether to retry them.
		return series.Allocated{}, res.LastErr
	}

	return allocated, nil
}
