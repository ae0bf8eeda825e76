// Package sale defines the sale payload captured at a terminal and the
// queued form it takes while waiting for synchronization.
package sale

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
)

// TaxAffectation is the SUNAT IGV treatment of a line item.
type TaxAffectation string

const (
	TaxGravado   TaxAffectation = "gravado"
	TaxExonerado TaxAffectation = "exonerado"
	TaxInafecto  TaxAffectation = "inafecto"
)

// PaymentMethod is how the customer paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentYape     PaymentMethod = "yape"
	PaymentPlin     PaymentMethod = "plin"
	PaymentTransfer PaymentMethod = "transfer"
)

// Customer identifies the buyer. DocNumber is a DNI or RUC depending on the
// document type being issued.
type Customer struct {
	Name      string `json:"name"`
	DocType   string `json:"doc_type"` // "dni" | "ruc" | "none"
	DocNumber string `json:"doc_number,omitempty"`
}

// Item is one sale line.
type Item struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Affectation TaxAffectation  `json:"affectation"`
}

// Total returns the line total (quantity * unit price).
func (i Item) Total() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// Sale is the full sale payload: what the terminal captured, independent of
// whether a fiscal number has been assigned yet.
type Sale struct {
	BusinessID    id.ID               `json:"business_id"`
	BranchID      *id.ID              `json:"branch_id,omitempty"`
	DocumentType  series.DocumentType `json:"document_type"`
	Customer      Customer            `json:"customer"`
	Items         []Item              `json:"items"`
	OpGravada     decimal.Decimal     `json:"op_gravada"`
	IGV           decimal.Decimal     `json:"igv"`
	Total         decimal.Decimal     `json:"total"`
	PaymentMethod PaymentMethod       `json:"payment_method"`
	Notes         string              `json:"notes,omitempty"`
}

// SeriesKey derives the counter key this sale numbers against.
func (s *Sale) SeriesKey() series.Key {
	return series.Key{
		BusinessID:   s.BusinessID,
		BranchID:     s.BranchID,
		DocumentType: s.DocumentType,
	}
}

// Validate checks the payload before issuing or enqueueing. A sale that fails
// validation is marked failed permanently and requires manual correction.
func (s *Sale) Validate(ctx context.Context) error {
	if id.IsNil(s.BusinessID) {
		return apperror.NewValidation("business_id is required")
	}
	if !s.DocumentType.Valid() {
		return apperror.NewValidation("unknown document type").
			WithDetail("document_type", string(s.DocumentType))
	}
	if len(s.Items) == 0 {
		return apperror.NewValidation("sale must have at least one item")
	}
	for i, item := range s.Items {
		if item.Description == "" {
			return apperror.NewValidation("item description is required").
				WithDetail("item", i)
		}
		if !item.Quantity.IsPositive() {
			return apperror.NewValidation("item quantity must be positive").
				WithDetail("item", i)
		}
		if item.UnitPrice.IsNegative() {
			return apperror.NewValidation("item unit price must not be negative").
				WithDetail("item", i)
		}
	}
	if s.Total.IsNegative() || s.Total.IsZero() {
		return apperror.NewValidation("sale total must be positive")
	}
	// A factura legally requires the buyer's RUC.
	if s.DocumentType == series.TypeFactura && (s.Customer.DocType != "ruc" || s.Customer.DocNumber == "") {
		return apperror.NewValidation("factura requires customer RUC")
	}
	return nil
}

// State is a queued sale's lifecycle state on the terminal.
type State string

const (
	StatePending State = "pending"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
	StateFailed  State = "failed"
)

// Queued is a sale waiting in the terminal's offline queue. LocalID is
// client-generated and never exposed to the fiscal authority; it doubles as
// the idempotency key when the sale is finally applied server-side.
type Queued struct {
	LocalID    id.ID     `json:"local_id"`
	Payload    Sale      `json:"payload"`
	CapturedAt time.Time `json:"captured_at"`
	State      State     `json:"state"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
}
