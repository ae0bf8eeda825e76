package document

import (
	"context"
	"time"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/core/tx"
	"ventapos/internal/domain/sale"
	"ventapos/pkg/logger"
)

// Allocator hands out the next correlative number for a series.
type Allocator interface {
	Allocate(ctx context.Context, key series.Key) (series.Allocated, error)
}

// SeriesCatalog is the admin view over the series counters.
type SeriesCatalog interface {
	List(ctx context.Context, businessID id.ID) ([]series.Series, error)
	Configure(ctx context.Context, key series.Key, label string, lastNumber int64) error
}

// Service issues numbered documents. This is the online path: a terminal
// with connectivity (or the sync engine replaying its queue) lands here.
type Service struct {
	allocator Allocator
	store     Repository
	catalog   SeriesCatalog
	txManager tx.Manager
}

// NewService creates a document service.
func NewService(allocator Allocator, store Repository, catalog SeriesCatalog, txManager tx.Manager) *Service {
	return &Service{
		allocator: allocator,
		store:     store,
		catalog:   catalog,
		txManager: txManager,
	}
}

// Issue validates a sale, allocates its correlative number and persists the
// document. When localID is set the call is idempotent: a replay returns the
// document issued the first time, without consuming a number.
//
// Allocation happens outside the insert transaction on purpose. A counter
// bump that commits without a matching document leaves a gap in the series;
// a rolled-back bump reused by another writer would leave a duplicate.
// Gaps are acceptable, duplicates are not.
func (s *Service) Issue(ctx context.Context, payload sale.Sale, localID *id.ID) (*Document, error) {
	if err := payload.Validate(ctx); err != nil {
		return nil, err
	}

	if localID != nil {
		existing, err := s.store.FindByLocalID(ctx, payload.BusinessID, *localID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Debug(ctx, "sale already applied, returning existing document",
				"local_id", localID.String(), "number", existing.FullNumber())
			return existing, nil
		}
	}

	allocated, err := s.allocator.Allocate(ctx, payload.SeriesKey())
	if err != nil {
		return nil, err
	}

	doc := &Document{
		ID:           id.New(),
		BusinessID:   payload.BusinessID,
		BranchID:     payload.BranchID,
		DocumentType: payload.DocumentType,
		Label:        allocated.Label,
		Number:       allocated.Number,
		LocalID:      localID,
		Payload:      payload,
		Status:       StatusIssued,
		IssuedAt:     time.Now().UTC(),
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, doc)
	})
	if err != nil {
		// Lost the race against a concurrent replay of the same sale.
		// The first writer's document is the answer.
		if apperror.IsDuplicateSubmission(err) && localID != nil {
			existing, findErr := s.store.FindByLocalID(ctx, payload.BusinessID, *localID)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	logger.Info(ctx, "document issued",
		"business_id", payload.BusinessID.String(),
		"number", doc.FullNumber(),
		"document_type", doc.DocumentType)
	return doc, nil
}

// Allocate reserves the next correlative number without writing a document.
// Exposed for sync replay, where allocation and the final write are separate
// calls from the terminal.
func (s *Service) Allocate(ctx context.Context, key series.Key) (series.Allocated, error) {
	if !key.DocumentType.Valid() {
		return series.Allocated{}, apperror.NewValidation("unknown document type: " + string(key.DocumentType))
	}
	return s.allocator.Allocate(ctx, key)
}

// Apply persists a document whose number was already reserved. The unique
// constraints stand guard: a replayed local id surfaces as
// DuplicateSubmission, which callers treat as already-applied.
func (s *Service) Apply(ctx context.Context, doc *Document) error {
	if doc.Label == "" || doc.Number <= 0 {
		return apperror.NewValidation("document number is required")
	}
	if err := doc.Payload.Validate(ctx); err != nil {
		return err
	}
	if doc.Status == "" {
		doc.Status = StatusIssued
	}
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, doc)
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "document applied",
		"business_id", doc.BusinessID.String(),
		"number", doc.FullNumber())
	return nil
}

// FindByLocalID returns the document a queued sale produced, or nil when the
// sale was never applied.
func (s *Service) FindByLocalID(ctx context.Context, businessID, localID id.ID) (*Document, error) {
	return s.store.FindByLocalID(ctx, businessID, localID)
}

// Get returns an issued document.
func (s *Service) Get(ctx context.Context, businessID, docID id.ID) (*Document, error) {
	return s.store.Get(ctx, businessID, docID)
}

// UpdateStatus records the fiscal authority's verdict on a document.
func (s *Service) UpdateStatus(ctx context.Context, businessID, docID id.ID, status Status) error {
	switch status {
	case StatusIssued, StatusAccepted, StatusRejected:
	default:
		return apperror.NewValidation("unknown document status: " + string(status))
	}
	return s.store.UpdateStatus(ctx, businessID, docID, status)
}

// ListSeries returns every configured series for a business.
func (s *Service) ListSeries(ctx context.Context, businessID id.ID) ([]series.Series, error) {
	return s.catalog.List(ctx, businessID)
}

// ConfigureSeries sets a series label and minimum baseline. The stored
// counter never moves backwards, so reconfiguring cannot reissue numbers.
func (s *Service) ConfigureSeries(ctx context.Context, key series.Key, label string, lastNumber int64) error {
	if !key.DocumentType.Valid() {
		return apperror.NewValidation("unknown document type: " + string(key.DocumentType))
	}
	if label == "" {
		label = series.DefaultLabel(key.DocumentType, 1)
	}
	if lastNumber < 0 {
		return apperror.NewValidation("lastNumber must not be negative")
	}
	return s.catalog.Configure(ctx, key, label, lastNumber)
}

// SeedSeries configures the default series set for a new branch: one series
// per document type, labelled from the branch index (F001, B001, ...).
func (s *Service) SeedSeries(ctx context.Context, businessID id.ID, branchID *id.ID, branchIndex int) error {
	for _, docType := range series.AllDocumentTypes() {
		key := series.Key{BusinessID: businessID, BranchID: branchID, DocumentType: docType}
		if err := s.catalog.Configure(ctx, key, series.DefaultLabel(docType, branchIndex), 0); err != nil {
			return err
		}
	}
	return nil
}
