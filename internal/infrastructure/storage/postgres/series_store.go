package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/core/series"
	"ventapos/internal/domain/allocator"
)

// SeriesStore is the durable home of document number counters, one row per
// (business, branch, document type). Its compare-and-swap is a single
// conditional UPDATE: the database's own row-level atomicity is the only
// synchronization between terminals.
type SeriesStore struct {
	txManager *TxManager
}

// Compile-time check against the allocator's port.
var _ allocator.Store = (*SeriesStore)(nil)

// NewSeriesStore creates a series store over the transaction manager.
func NewSeriesStore(txManager *TxManager) *SeriesStore {
	return &SeriesStore{txManager: txManager}
}

// branchOrNil folds an absent branch to the zero UUID so the key triple can
// be a primary key (Postgres primary keys reject NULL).
func branchOrNil(branchID *id.ID) id.ID {
	if branchID == nil {
		return id.Nil()
	}
	return *branchID
}

// Get returns the current series state, or nil if the key never allocated.
func (s *SeriesStore) Get(ctx context.Context, key series.Key) (*series.Series, error) {
	q := s.txManager.GetQuerier(ctx)

	var label string
	var lastNumber int64
	err := q.QueryRow(ctx, `
		SELECT label, last_number
		FROM sys_series
		WHERE business_id = $1 AND branch_id = $2 AND document_type = $3
	`, key.BusinessID, branchOrNil(key.BranchID), key.DocumentType).Scan(&label, &lastNumber)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get series", err)
	}

	return &series.Series{Key: key, Label: label, LastNumber: lastNumber}, nil
}

// CompareAndSwap advances the counter from expected to next. A fresh series
// (expected 0) is created lazily with the given label. Returns false when
// another caller won between the read and the write.
func (s *SeriesStore) CompareAndSwap(ctx context.Context, key series.Key, label string, expected, next int64) (bool, error) {
	q := s.txManager.GetQuerier(ctx)

	if expected == 0 {
		// First allocation: insert, or advance an existing row still at the
		// baseline. The WHERE guard on the conflict arm is the swap.
		tag, err := q.Exec(ctx, `
			INSERT INTO sys_series (business_id, branch_id, document_type, label, last_number, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (business_id, branch_id, document_type) DO UPDATE
			SET last_number = EXCLUDED.last_number, updated_at = NOW()
			WHERE sys_series.last_number = 0
		`, key.BusinessID, branchOrNil(key.BranchID), key.DocumentType, label, next)
		if err != nil {
			return false, storeErr("create series", err)
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := q.Exec(ctx, `
		UPDATE sys_series
		SET last_number = $4, updated_at = NOW()
		WHERE business_id = $1 AND branch_id = $2 AND document_type = $3
		  AND last_number = $5
	`, key.BusinessID, branchOrNil(key.BranchID), key.DocumentType, next, expected)
	if err != nil {
		return false, storeErr("advance series", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns every series of a business, for the series admin surface.
func (s *SeriesStore) List(ctx context.Context, businessID id.ID) ([]series.Series, error) {
	q := s.txManager.GetQuerier(ctx)

	rows, err := q.Query(ctx, `
		SELECT branch_id, document_type, label, last_number
		FROM sys_series
		WHERE business_id = $1
		ORDER BY branch_id, document_type
	`, businessID)
	if err != nil {
		return nil, storeErr("list series", err)
	}
	defer rows.Close()

	var out []series.Series
	for rows.Next() {
		var branchID id.ID
		var sr series.Series
		if err := rows.Scan(&branchID, &sr.Key.DocumentType, &sr.Label, &sr.LastNumber); err != nil {
			return nil, storeErr("scan series", err)
		}
		sr.Key.BusinessID = businessID
		if !id.IsNil(branchID) {
			b := branchID
			sr.Key.BranchID = &b
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Configure sets a series label and baseline, creating the row when absent.
// Used by series administration and branch provisioning; the baseline may
// only move forward, never below what was already issued.
func (s *SeriesStore) Configure(ctx context.Context, key series.Key, label string, lastNumber int64) error {
	q := s.txManager.GetQuerier(ctx)

	tag, err := q.Exec(ctx, `
		INSERT INTO sys_series (business_id, branch_id, document_type, label, last_number, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (business_id, branch_id, document_type) DO UPDATE
		SET label = EXCLUDED.label,
		    last_number = GREATEST(sys_series.last_number, EXCLUDED.last_number),
		    updated_at = NOW()
	`, key.BusinessID, branchOrNil(key.BranchID), key.DocumentType, label, lastNumber)
	if err != nil {
		return storeErr("configure series", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("configure series %s: no row written", key)
	}
	return nil
}

// storeErr classifies database failures. Cancellations pass through; the
// rest surface as a transient store outage, retryable by the caller.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperror.NewStoreUnavailable(fmt.Errorf("%s: %w", op, err))
}
