// Package document defines the issued fiscal document: a sale that has been
// assigned its correlative number and durably written server-side.
package document

import (
	"context"
	"time"

	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/sale"
)

// Status tracks the document's progress against the external fiscal
// submission service. Issuance is complete once the document is written;
// submission is a separate, opaque concern.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Document is a finished, numbered fiscal document.
type Document struct {
	ID           id.ID               `db:"id"`
	BusinessID   id.ID               `db:"business_id"`
	BranchID     *id.ID              `db:"branch_id"`
	DocumentType series.DocumentType `db:"document_type"`

	// Label plus Number form the legal identifier, e.g. F001-00000042.
	Label  string `db:"label"`
	Number int64  `db:"number"`

	// LocalID is the capturing terminal's provisional id. Unique per
	// business: it is the idempotency marker that makes sync replay safe.
	// Nil for sales issued directly online.
	LocalID *id.ID `db:"local_id"`

	Payload  sale.Sale `db:"payload"`
	Status   Status    `db:"status"`
	IssuedAt time.Time `db:"issued_at"`
}

// FullNumber renders the legal document identifier.
func (d *Document) FullNumber() string {
	return series.Allocated{Label: d.Label, Number: d.Number}.String()
}

// Store is the durable home of issued documents.
type Store interface {
	// Insert writes a finished document. When doc.LocalID collides with an
	// already-written document for the same business, it returns
	// apperror.CodeDuplicateSubmission: the sale was applied by a previous
	// (possibly interrupted) sync run and must not be numbered again.
	Insert(ctx context.Context, doc *Document) error

	// FindByLocalID looks up the idempotency marker for a queued sale.
	// Returns nil when the sale has not been applied yet.
	FindByLocalID(ctx context.Context, businessID, localID id.ID) (*Document, error)
}

// Repository extends Store with the read and admin operations the backend
// service exposes. The sync engine only ever needs Store.
type Repository interface {
	Store

	// Get returns a document by id, or NotFound.
	Get(ctx context.Context, businessID, docID id.ID) (*Document, error)

	// UpdateStatus records the fiscal submission outcome.
	UpdateStatus(ctx context.Context, businessID, docID id.ID, status Status) error
}
