// Package localqueue provides the terminal-resident durable queue of sales
// captured without connectivity. It is backed by an embedded SQLite file so
// queued sales survive process restarts, and is owned exclusively by its
// terminal: no other process ever touches it.
package localqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"

	"ventapos/internal/core/apperror"
	"ventapos/internal/core/id"
	"ventapos/internal/domain/sale"
	"ventapos/pkg/logger"
)

// Config configures the local queue store.
type Config struct {
	// Path to the SQLite database file
	Path string

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int

	// MaxRetries is how many sync attempts a sale gets before parking in
	// the failed state for manual retry or discard.
	MaxRetries int
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		BusyTimeout: 5000,
		MaxRetries:  3,
	}
}

// Queue is the durable offline sale queue.
type Queue struct {
	db         *sql.DB
	maxRetries int
	enc        *zstd.Encoder
	dec        *zstd.Decoder
	log        *logger.Logger
}

// Open opens (creating if needed) the queue database at cfg.Path.
func Open(cfg Config, log *logger.Logger) (*Queue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("localqueue: path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if log == nil {
		log = logger.Default()
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	// Single writer per terminal; extra connections only cause lock churn.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	return &Queue{
		db:         db,
		maxRetries: cfg.MaxRetries,
		enc:        enc,
		dec:        dec,
		log:        log.WithComponent("localqueue"),
	}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_sales (
			local_id    TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			payload     BLOB NOT NULL,
			captured_at INTEGER NOT NULL,
			state       TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			updated_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pending_sales_state ON pending_sales(state);
		CREATE INDEX IF NOT EXISTS idx_pending_sales_captured ON pending_sales(captured_at);
	`)
	if err != nil {
		return fmt.Errorf("init queue schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	q.enc.Close()
	q.dec.Close()
	return q.db.Close()
}

// Enqueue appends a captured sale in the pending state and returns its
// client-generated local id. Never blocks on the network.
func (q *Queue) Enqueue(ctx context.Context, payload sale.Sale) (id.ID, error) {
	localID := id.New()
	now := time.Now().UTC()

	raw, err := json.Marshal(payload)
	if err != nil {
		return id.Nil(), fmt.Errorf("marshal sale payload: %w", err)
	}
	compressed := q.enc.EncodeAll(raw, nil)

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pending_sales (local_id, business_id, payload, captured_at, state, retry_count, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?)
	`, localID.String(), payload.BusinessID.String(), compressed,
		now.UnixMicro(), sale.StatePending, now.UnixMicro())
	if err != nil {
		return id.Nil(), fmt.Errorf("enqueue sale: %w", err)
	}

	q.log.Debugw("sale enqueued offline", "local_id", localID, "business_id", payload.BusinessID)
	return localID, nil
}

// ListPending returns pending sales for a business in FIFO order by capture
// time. Safe to call repeatedly; does not mutate state.
func (q *Queue) ListPending(ctx context.Context, businessID id.ID) ([]sale.Queued, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT local_id, payload, captured_at, state, retry_count, last_error
		FROM pending_sales
		WHERE business_id = ? AND state = ?
		ORDER BY captured_at, local_id
	`, businessID.String(), sale.StatePending)
	if err != nil {
		return nil, fmt.Errorf("list pending sales: %w", err)
	}
	defer rows.Close()

	return q.scanSales(rows)
}

// ListAll returns every queued sale regardless of state, FIFO.
func (q *Queue) ListAll(ctx context.Context, businessID id.ID) ([]sale.Queued, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT local_id, payload, captured_at, state, retry_count, last_error
		FROM pending_sales
		WHERE business_id = ?
		ORDER BY captured_at, local_id
	`, businessID.String())
	if err != nil {
		return nil, fmt.Errorf("list queued sales: %w", err)
	}
	defer rows.Close()

	return q.scanSales(rows)
}

func (q *Queue) scanSales(rows *sql.Rows) ([]sale.Queued, error) {
	var out []sale.Queued
	for rows.Next() {
		var (
			localIDStr string
			compressed []byte
			capturedAt int64
			state      string
			retryCount int
			lastError  string
		)
		if err := rows.Scan(&localIDStr, &compressed, &capturedAt, &state, &retryCount, &lastError); err != nil {
			return nil, fmt.Errorf("scan queued sale: %w", err)
		}

		localID, err := id.Parse(localIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse local id %q: %w", localIDStr, err)
		}

		raw, err := q.dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress sale %s: %w", localID, err)
		}
		var payload sale.Sale
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal sale %s: %w", localID, err)
		}

		out = append(out, sale.Queued{
			LocalID:    localID,
			Payload:    payload,
			CapturedAt: time.UnixMicro(capturedAt).UTC(),
			State:      sale.State(state),
			RetryCount: retryCount,
			LastError:  lastError,
		})
	}
	return out, rows.Err()
}

// MarkState transitions a queued sale's lifecycle state.
func (q *Queue) MarkState(ctx context.Context, localID id.ID, state sale.State) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_sales SET state = ?, updated_at = ? WHERE local_id = ?
	`, state, time.Now().UTC().UnixMicro(), localID.String())
	if err != nil {
		return fmt.Errorf("mark sale %s %s: %w", localID, state, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("queued sale", localID)
	}
	return nil
}

// MarkFailed records a failed sync attempt. Permanent failures park in the
// failed state immediately; transient ones return to pending until the retry
// budget is spent.
func (q *Queue) MarkFailed(ctx context.Context, localID id.ID, reason string, permanent bool) error {
	state := sale.StatePending
	if permanent {
		state = sale.StateFailed
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    state = CASE WHEN ? OR retry_count + 1 >= ? THEN ? ELSE ? END,
		    updated_at = ?
		WHERE local_id = ?
	`, reason, permanent, q.maxRetries, sale.StateFailed, state,
		time.Now().UTC().UnixMicro(), localID.String())
	if err != nil {
		return fmt.Errorf("mark sale %s failed: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("queued sale", localID)
	}
	return nil
}

// Remove deletes a sale from the queue. Called only after the server-side
// numbered document is confirmed written.
func (q *Queue) Remove(ctx context.Context, localID id.ID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM pending_sales WHERE local_id = ?`, localID.String())
	if err != nil {
		return fmt.Errorf("remove sale %s: %w", localID, err)
	}
	return nil
}

// Count returns the number of sales still waiting to sync (pending or
// failed). Drives the pending-sales badge in the UI.
func (q *Queue) Count(ctx context.Context, businessID id.ID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_sales
		WHERE business_id = ? AND state IN (?, ?)
	`, businessID.String(), sale.StatePending, sale.StateFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued sales: %w", err)
	}
	return n, nil
}

// ResetStale returns to pending any sale stuck in the syncing state longer
// than olderThan. Run at startup: a crash mid-sync must not leave a sale
// marked syncing forever. Returns the number of sales reset.
func (q *Queue) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).UnixMicro()
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_sales SET state = ?, updated_at = ?
		WHERE state = ? AND updated_at < ?
	`, sale.StatePending, time.Now().UTC().UnixMicro(), sale.StateSyncing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale sales: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.log.Infow("reset stale syncing sales", "count", n)
	}
	return int(n), nil
}

// PurgeSynced deletes sales whose confirmed write outlived their removal:
// a crash between the synced mark and the delete leaves them behind. Run at
// startup alongside ResetStale. Returns the number of sales purged.
func (q *Queue) PurgeSynced(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM pending_sales WHERE state = ?
	`, sale.StateSynced)
	if err != nil {
		return 0, fmt.Errorf("purge synced sales: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.log.Infow("purged confirmed synced sales", "count", n)
	}
	return int(n), nil
}

// Discard removes a failed sale without syncing it. Manual override only:
// the UI requires the operator to confirm, since the sale is lost for good.
func (q *Queue) Discard(ctx context.Context, localID id.ID) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM pending_sales WHERE local_id = ? AND state = ?
	`, localID.String(), sale.StateFailed)
	if err != nil {
		return fmt.Errorf("discard sale %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("failed sale", localID)
	}
	q.log.Infow("failed sale discarded", "local_id", localID)
	return nil
}
