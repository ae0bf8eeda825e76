package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/document"
	"ventapos/internal/domain/sale"
)

// Unique constraint names from the migrations. uq_documents_local is the
// idempotency marker: one applied document per (business, local sale id).
const (
	constraintLocalID = "uq_documents_local"
	constraintNumber  = "uq_documents_number"
)

// DocumentRepo stores issued fiscal documents.
type DocumentRepo struct {
	txManager *TxManager
}

var _ document.Repository = (*DocumentRepo)(nil)

// NewDocumentRepo creates a document repository.
func NewDocumentRepo(txManager *TxManager) *DocumentRepo {
	return &DocumentRepo{txManager: txManager}
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// docRow is the table shape of a document.
type docRow struct {
	ID           id.ID     `db:"id"`
	BusinessID   id.ID     `db:"business_id"`
	BranchID     *id.ID    `db:"branch_id"`
	DocumentType string    `db:"document_type"`
	Label        string    `db:"label"`
	Number       int64     `db:"number"`
	LocalID      *id.ID    `db:"local_id"`
	Payload      []byte    `db:"payload"`
	Status       string    `db:"status"`
	IssuedAt     time.Time `db:"issued_at"`
}

func (r docRow) toDomain() (*document.Document, error) {
	var payload sale.Sale
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal document %s payload: %w", r.ID, err)
	}
	return &document.Document{
		ID:           r.ID,
		BusinessID:   r.BusinessID,
		BranchID:     r.BranchID,
		DocumentType: series.DocumentType(r.DocumentType),
		Label:        r.Label,
		Number:       r.Number,
		LocalID:      r.LocalID,
		Payload:      payload,
		Status:       document.Status(r.Status),
		IssuedAt:     r.IssuedAt,
	}, nil
}

// Insert writes a finished, numbered document. Violating the idempotency
// marker surfaces as DuplicateSubmission; the caller treats it as success.
func (r *DocumentRepo) Insert(ctx context.Context, doc *document.Document) error {
	payload, err := json.Marshal(doc.Payload)
	if err != nil {
		return fmt.Errorf("marshal document payload: %w", err)
	}

	q := builder().
		Insert("documents").
		Columns("id", "business_id", "branch_id", "document_type",
			"label", "number", "local_id", "payload", "status", "issued_at").
		Values(doc.ID, doc.BusinessID, doc.BranchID, doc.DocumentType,
			doc.Label, doc.Number, doc.LocalID, payload, doc.Status, doc.IssuedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build document insert: %w", err)
	}

	_, err = r.txManager.GetQuerier(ctx).Exec(ctx, sqlStr, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case constraintLocalID:
				localID := ""
				if doc.LocalID != nil {
					localID = doc.LocalID.String()
				}
				return apperror.NewDuplicateSubmission(localID)
			case constraintNumber:
				// The allocator promised this never happens.
				return apperror.NewInternal(fmt.Errorf("document number %s reissued: %w", doc.FullNumber(), err))
			}
		}
		return storeErr("insert document", err)
	}
	return nil
}

// FindByLocalID looks up the idempotency marker for a queued sale.
// Returns nil when the sale was never applied.
func (r *DocumentRepo) FindByLocalID(ctx context.Context, businessID, localID id.ID) (*document.Document, error) {
	q := builder().
		Select("id", "business_id", "branch_id", "document_type",
			"label", "number", "local_id", "payload", "status", "issued_at").
		From("documents").
		Where(squirrel.Eq{"business_id": businessID, "local_id": localID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build document select: %w", err)
	}

	var row docRow
	err = pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sqlStr, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, storeErr("find document by local id", err)
	}
	return row.toDomain()
}

// Get returns a document by id.
func (r *DocumentRepo) Get(ctx context.Context, businessID, docID id.ID) (*document.Document, error) {
	q := builder().
		Select("id", "business_id", "branch_id", "document_type",
			"label", "number", "local_id", "payload", "status", "issued_at").
		From("documents").
		Where(squirrel.Eq{"business_id": businessID, "id": docID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build document select: %w", err)
	}

	var row docRow
	err = pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sqlStr, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("document", docID)
		}
		return nil, storeErr("get document", err)
	}
	return row.toDomain()
}

// UpdateStatus records the fiscal submission outcome for a document.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, businessID, docID id.ID, status document.Status) error {
	q := builder().
		Update("documents").
		Set("status", status).
		Where(squirrel.Eq{"business_id": businessID, "id": docID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sqlStr, args...)
	if err != nil {
		return storeErr("update document status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("document", docID)
	}
	return nil
}
