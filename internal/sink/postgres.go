// Package sink implements the append-only sink contract (§4.14):
// append_swap and append_alert, batched server-side by the store, with the
// core only waiting on admission.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/rawblock/swap-sentinel/pkg/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS swaps (
	signature       TEXT PRIMARY KEY,
	slot            BIGINT NOT NULL,
	side            TEXT NOT NULL,
	base_mint       TEXT NOT NULL,
	quote_mint      TEXT NOT NULL,
	base_amount     DOUBLE PRECISION NOT NULL,
	quote_amount    DOUBLE PRECISION NOT NULL,
	wallet          TEXT NOT NULL,
	venue           TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	mcap_at_swap    DOUBLE PRECISION,
	observed_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_swaps_base_mint_observed ON swaps (base_mint, observed_at);

CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	mint            TEXT NOT NULL,
	trigger_name    TEXT NOT NULL,
	venue           TEXT NOT NULL,
	volume_sol_5m   DOUBLE PRECISION NOT NULL,
	buy_count_5m    BIGINT NOT NULL,
	sell_count_5m   BIGINT NOT NULL,
	unique_buyers_5m BIGINT NOT NULL,
	buy_sell_ratio_5m DOUBLE PRECISION NOT NULL,
	cto_score       DOUBLE PRECISION NOT NULL,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_mint_created ON alerts (mint, created_at);
`

// Store is the pgx-backed append-only sink. It batches inserts into a
// bounded in-memory queue and flushes on a timer; the core pipeline only
// waits for admission onto that queue, never for the flush itself.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Entry

	swapQueue  chan models.SwapEvent
	alertQueue chan models.Alert
	done       chan struct{}
}

// Connect opens the connection pool and starts the batch flush loops.
func Connect(ctx context.Context, connStr string, log *logrus.Entry) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to append sink database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping append sink database: %w", err)
	}

	s := &Store{
		pool:       pool,
		log:        log.WithField("component", "sink.postgres"),
		swapQueue:  make(chan models.SwapEvent, 4096),
		alertQueue: make(chan models.Alert, 1024),
		done:       make(chan struct{}),
	}
	go s.flushLoop(ctx)
	return s, nil
}

// InitSchema creates the swaps/alerts tables if they do not already exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init append sink schema: %w", err)
	}
	return nil
}

// Close stops the flush loop and closes the pool. Idempotent.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// AppendSwap admits a SwapEvent for batched persistence. It returns once the
// event is queued, not once it is durably written.
func (s *Store) AppendSwap(ctx context.Context, evt models.SwapEvent) error {
	select {
	case s.swapQueue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendAlert admits an Alert for batched persistence.
func (s *Store) AppendAlert(ctx context.Context, alert models.Alert) error {
	select {
	case s.alertQueue <- alert:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const (
	flushInterval  = 2 * time.Second
	maxBatchSwaps  = 500
	maxBatchAlerts = 200
)

func (s *Store) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var swapBatch []models.SwapEvent
	var alertBatch []models.Alert

	flush := func() {
		if len(swapBatch) > 0 {
			if err := s.insertSwaps(ctx, swapBatch); err != nil {
				s.log.WithError(err).Error("failed to flush swap batch")
			}
			swapBatch = swapBatch[:0]
		}
		if len(alertBatch) > 0 {
			if err := s.insertAlerts(ctx, alertBatch); err != nil {
				s.log.WithError(err).Error("failed to flush alert batch")
			}
			alertBatch = alertBatch[:0]
		}
	}

	for {
		select {
		case <-s.done:
			flush()
			return
		case <-ctx.Done():
			flush()
			return
		case evt := <-s.swapQueue:
			swapBatch = append(swapBatch, evt)
			if len(swapBatch) >= maxBatchSwaps {
				flush()
			}
		case a := <-s.alertQueue:
			alertBatch = append(alertBatch, a)
			if len(alertBatch) >= maxBatchAlerts {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Store) insertSwaps(ctx context.Context, batch []models.SwapEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSQL = `
		INSERT INTO swaps (signature, slot, side, base_mint, quote_mint, base_amount, quote_amount, wallet, venue, confidence, mcap_at_swap, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (signature) DO NOTHING;
	`
	for _, evt := range batch {
		_, err := tx.Exec(ctx, insertSQL,
			evt.Signature.String(), evt.Slot, string(evt.Side),
			evt.BaseMint.String(), evt.QuoteMint.String(),
			evt.BaseAmount, evt.QuoteAmount, evt.Wallet.String(),
			evt.Venue, evt.Confidence, nullableFloat(evt.MCapAtSwap), evt.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("insert swap %s: %w", evt.Signature.String(), err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) insertAlerts(ctx context.Context, batch []models.Alert) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSQL = `
		INSERT INTO alerts (id, mint, trigger_name, venue, volume_sol_5m, buy_count_5m, sell_count_5m, unique_buyers_5m, buy_sell_ratio_5m, cto_score, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING;
	`
	for _, a := range batch {
		if a.BuySellRatio5m > models.RatioSentinelJSON {
			a.BuySellRatio5m = models.RatioSentinelJSON
		}
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.ID, err)
		}
		_, err = tx.Exec(ctx, insertSQL,
			a.ID, a.Mint, a.TriggerName, a.Venue, a.VolumeSOL5m,
			a.BuyCount5m, a.SellCount5m, a.UniqueBuyers5m, a.BuySellRatio5m,
			a.CTOScore, payload, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func nullableFloat(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}
