// Package orchestrator wires the durable stream, dedup filter, delta
// extractor, inferencer, counter store, trigger evaluator,
// state manager, delta log, backpressure controller, clusterer/scorer, and
// alert dispatcher into the consumer/detector/flusher/sampler loop set,
// and owns startup claim_idle plus graceful shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rawblock/swap-sentinel/internal/alert"
	"github.com/rawblock/swap-sentinel/internal/backpressure"
	"github.com/rawblock/swap-sentinel/internal/cluster"
	"github.com/rawblock/swap-sentinel/internal/config"
	"github.com/rawblock/swap-sentinel/internal/counters"
	"github.com/rawblock/swap-sentinel/internal/delta"
	"github.com/rawblock/swap-sentinel/internal/deltalog"
	"github.com/rawblock/swap-sentinel/internal/enrichment"
	"github.com/rawblock/swap-sentinel/internal/ingest"
	"github.com/rawblock/swap-sentinel/internal/inference"
	"github.com/rawblock/swap-sentinel/internal/sink"
	"github.com/rawblock/swap-sentinel/internal/state"
	"github.com/rawblock/swap-sentinel/internal/trigger"
	"github.com/rawblock/swap-sentinel/internal/wire"
	"github.com/rawblock/swap-sentinel/pkg/models"
)

// claimIdleThreshold is the minimum time a record can sit pending before a
// fresh consumer's startup sweep reclaims it from a dead/slow peer.
const claimIdleThreshold = 30 * time.Second

// shutdownDrainDeadline bounds how long drain waits for in-flight work to
// finish before logging a warning and returning anyway. Nothing acks after
// the deadline; whatever is still pending is left for the next claim_idle.
const shutdownDrainDeadline = 15 * time.Second

// topBuyersForScoring and recentBuyTimestampsForScoring bound how much of
// the counter store's top-buyer/recent-buy-time history the CTO scorer
// reads per alert.
const (
	topBuyersForScoring          = 10
	recentBuyTimestampsForScoring = 50
)

// Role restricts which of the orchestrator's background loops run in this
// process, for multi-process fan-out.
type Role int

const (
	// RoleAll runs the full pipeline: upstream relay, consumers, detector.
	RoleAll Role = iota
	// RoleIngestOnly runs only the upstream source -> durable stream relay.
	RoleIngestOnly
	// RoleConsumeOnly runs the consumer/inference/counter/trigger/alert
	// pipeline without dialing the upstream source.
	RoleConsumeOnly
	// RoleDetectOnly runs only the detector tick and alert dispatcher,
	// without consuming new stream records.
	RoleDetectOnly
)

// Orchestrator owns every long-running loop in the process: N consumer
// tasks, the 1s detector tick, the alert dispatcher, the delta log writer,
// and the backpressure sampler.
type Orchestrator struct {
	cfg  config.Config
	log  *logrus.Entry
	role Role

	stream  *ingest.Stream
	source  ingest.Source
	dedup   *ingest.Dedup
	extract func(models.RawTransaction) models.ExtractedDeltas
	infer   *inference.Inferencer
	counts  *counters.Store
	rules   *trigger.Evaluator
	states  *state.Manager
	backfill *state.Backfiller
	dlog    *deltalog.Log
	bp      *backpressure.Controller
	clust   *cluster.Clusterer
	scorer  *cluster.Scorer
	enrich  enrichment.FundedByResolver
	dispatch *alert.Dispatcher
	appendSink *sink.Store

	startedAt time.Time

	consumerWG sync.WaitGroup
	loopWG     sync.WaitGroup
}

// Deps bundles every already-constructed component. Built piecemeal in
// cmd/sentinel/main.go so each component's own constructor stays the single
// source of truth for its defaults.
type Deps struct {
	Cfg        config.Config
	Log        *logrus.Entry
	Role       Role
	Stream     *ingest.Stream
	Source     ingest.Source
	Dedup      *ingest.Dedup
	Infer      *inference.Inferencer
	Counters   *counters.Store
	Rules      *trigger.Evaluator
	States     *state.Manager
	Backfill   *state.Backfiller
	DeltaLog   *deltalog.Log
	Backpressure *backpressure.Controller
	Clusterer  *cluster.Clusterer
	Scorer     *cluster.Scorer
	Enrichment enrichment.FundedByResolver
	Dispatcher *alert.Dispatcher
	AppendSink *sink.Store
}

// New assembles an Orchestrator from already-wired components.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		cfg:        d.Cfg,
		log:        d.Log.WithField("component", "orchestrator"),
		role:       d.Role,
		stream:     d.Stream,
		source:     d.Source,
		dedup:      d.Dedup,
		extract:    delta.Extract,
		infer:      d.Infer,
		counts:     d.Counters,
		rules:      d.Rules,
		states:     d.States,
		backfill:   d.Backfill,
		dlog:       d.DeltaLog,
		bp:         d.Backpressure,
		clust:      d.Clusterer,
		scorer:     d.Scorer,
		enrich:     d.Enrichment,
		dispatch:   d.Dispatcher,
		appendSink: d.AppendSink,
	}
}

// consumerName builds the parser-<host>-<pid>-<index> form so each task's
// pending set in the stream's consumer group is disjoint.
func consumerName(index int) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("parser-%s-%d-%d", host, os.Getpid(), index)
}

// Run starts every background loop and blocks until ctx is cancelled, then
// drains within shutdownDrainDeadline before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startedAt = time.Now()

	if o.role != RoleDetectOnly {
		upstream, err := o.source.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to upstream source: %w", err)
		}
		go o.pumpUpstream(ctx, upstream)
	}

	if o.role != RoleIngestOnly && o.role != RoleDetectOnly {
		for i := 0; i < o.cfg.ConsumerCount; i++ {
			name := consumerName(i)
			if err := o.claimIdleSweep(ctx, name); err != nil {
				o.log.WithError(err).WithField("consumer", name).Warn("claim_idle sweep failed, continuing without reclaiming pending records")
			}
			o.consumerWG.Add(1)
			go o.runConsumer(ctx, name)
		}
	}

	o.loopWG.Add(2)
	go o.runBackpressureSampler(ctx)
	go o.runDeltaLogTrimmer(ctx)
	if o.role != RoleIngestOnly {
		o.loopWG.Add(1)
		go o.runDetectorTick(ctx)
	}

	<-ctx.Done()
	o.log.Info("shutdown signal received, draining")
	return o.drain()
}

// pumpUpstream appends every incoming upstream transaction onto the durable
// stream, decoupling upstream availability from consumer pacing.
func (o *Orchestrator) pumpUpstream(ctx context.Context, upstream <-chan models.RawTransaction) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-upstream:
			if !ok {
				return
			}
			payload, err := wire.EncodeTransaction(tx)
			if err != nil {
				o.log.WithError(err).Warn("failed to encode upstream transaction for append")
				continue
			}
			if _, err := o.stream.Append(ctx, payload); err != nil {
				o.log.WithError(err).Error("failed to append upstream transaction to durable stream")
			}
		}
	}
}

// claimIdleSweep runs exactly once per consumer at startup, reclaiming
// records left pending longer than claimIdleThreshold by any consumer in
// the group (for example a previous, possibly-dead process) before the task
// enters its main loop.
func (o *Orchestrator) claimIdleSweep(ctx context.Context, name string) error {
	recs, err := o.stream.ClaimIdle(ctx, name, claimIdleThreshold, "0", 1000)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	o.log.WithFields(logrus.Fields{"consumer": name, "count": len(recs)}).Info("claim_idle reclaimed pending records")
	o.processBatch(ctx, recs)
	return nil
}

// runConsumer is one of N independent consumer tasks: read, process
// sequentially within the batch, ack. Per-mint updates from this task
// preserve arrival order; across tasks no order is guaranteed, which is
// safe because every downstream aggregate is a commutative sum.
func (o *Orchestrator) runConsumer(ctx context.Context, name string) {
	defer o.consumerWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		recs, err := o.stream.ReadGroup(ctx, name, 100, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.WithError(err).Error("read_group failed")
			continue
		}
		if len(recs) == 0 {
			continue
		}
		o.processBatch(ctx, recs)
	}
}

// processBatch runs every record through dedup -> decode -> extract ->
// infer -> (counters, delta log) -> state -> trigger -> (cluster/score,
// alert dispatch), acking only records it has fully handled.
func (o *Orchestrator) processBatch(ctx context.Context, recs []ingest.Record) {
	acked := make([]string, 0, len(recs))
	for _, rec := range recs {
		if err := o.processOne(ctx, rec); err != nil {
			o.log.WithError(err).WithField("stream_id", rec.ID).Warn("dropping unprocessable record")
		}
		acked = append(acked, rec.ID)
	}
	if err := o.stream.Ack(ctx, acked...); err != nil {
		o.log.WithError(err).Error("ack failed after processing batch")
	}
}

func (o *Orchestrator) processOne(ctx context.Context, rec ingest.Record) error {
	tx, err := wire.DecodeTransaction(rec.Payload)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	tx.StreamID = rec.ID

	first, err := o.dedup.FirstOccurrence(ctx, tx.SignatureKey(rec.ID))
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !first {
		return nil
	}

	deltas := o.extract(tx)
	result := o.infer.Infer(deltas)

	observedAt := tx.EffectiveBlockTime()
	var zeroPubkey solana.PublicKey
	var mint string
	if result.Swap != nil {
		mint = result.Swap.BaseMint.String()
	} else if result.MintTouch != nil && result.MintTouch.Mint != zeroPubkey {
		mint = result.MintTouch.Mint.String()
	}

	if mint != "" {
		if err := o.dlog.Append(ctx, deltalog.Record{
			Signature: tx.Signature,
			Mint:      solana.MustPublicKeyFromBase58(mint),
			Timestamp: observedAt,
			Deltas:    deltas,
		}); err != nil {
			o.log.WithError(err).Warn("delta log append failed")
		}
	}

	if mint != "" {
		if _, _, err := o.states.RecordActivity(ctx, mint, observedAt); err != nil {
			o.log.WithError(err).Warn("record activity failed")
		}
	}

	if result.Swap == nil {
		return nil
	}

	swap := *result.Swap
	swap.ObservedAt = observedAt

	mode := o.bp.Mode()

	// CRITICAL also skips counter updates (and, with them, the enrichment
	// lookup a first-seen buyer would otherwise trigger) for new records.
	if mode != backpressure.ModeCritical {
		isNew, err := o.counts.RecordSwap(ctx, swap)
		if err != nil {
			o.log.WithError(err).Warn("record swap in counter store failed")
		} else if isNew && swap.Side == models.SideBuy && o.enrich != nil {
			go o.resolveFundedBy(swap.Wallet.String())
		}
	}

	// DEGRADED and CRITICAL both skip SwapEvent persistence; only NORMAL
	// writes through to the append-only sink.
	if mode == backpressure.ModeNormal && o.appendSink != nil {
		if err := o.appendSink.AppendSwap(ctx, swap); err != nil {
			o.log.WithError(err).Warn("append swap to sink failed")
		}
	}

	return o.evaluateTriggers(ctx, mint, observedAt)
}

// resolveFundedBy asks the external enrichment service for wallet's funding
// wallet and, if found, unions them in the clusterer so the CTO scorer's
// cluster factor reflects the funded_by relation. Runs off the hot path: the
// daily credit budget and network round trip must never block processOne.
func (o *Orchestrator) resolveFundedBy(wallet string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	funder, ok, err := o.enrich.ResolveFundedBy(ctx, wallet)
	if err != nil {
		o.log.WithError(err).WithField("wallet", wallet).Warn("enrichment funded_by lookup failed")
		return
	}
	if !ok {
		return
	}
	o.clust.UnionFundedBy(wallet, funder)
}

// evaluateTriggers pulls the current aggregate snapshot, checks it against
// the compiled rule set, and on a fire advances the mint to HOT, schedules
// backfill on first promotion, scores CTO coordination, and dispatches an
// alert if cooldown allows.
func (o *Orchestrator) evaluateTriggers(ctx context.Context, mint string, now time.Time) error {
	pubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	snapshot, err := o.counts.Snapshot(ctx, pubkey)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	fired := o.rules.Fired(snapshot)
	if len(fired) == 0 {
		return nil
	}

	_, promoted, err := o.states.RecordTrigger(ctx, mint, now)
	if err != nil {
		return fmt.Errorf("record trigger: %w", err)
	}
	if promoted && o.backfill != nil {
		go o.backfill.Run(context.Background(), mint, now.Add(-1*time.Hour))
	}

	allowed, err := o.states.ShouldAlert(ctx, mint, now)
	if err != nil {
		return fmt.Errorf("alert cooldown check: %w", err)
	}
	if !allowed {
		return nil
	}

	a := o.buildAlert(ctx, pubkey, fired[0], snapshot)
	if err := o.dispatch.Dispatch(a); err != nil {
		return fmt.Errorf("dispatch alert: %w", err)
	}
	if o.appendSink != nil {
		if err := o.appendSink.AppendAlert(ctx, a); err != nil {
			o.log.WithError(err).Warn("append alert to sink failed")
		}
	}
	return o.states.RecordAlertSent(ctx, mint, now)
}

// buildAlert scores CTO coordination for mint, pulling the window's top
// buyers and recent buy timestamps from the counter store so the cluster
// and timing factors have real inputs rather than scoring as 0.
func (o *Orchestrator) buildAlert(ctx context.Context, mint solana.PublicKey, triggerName string, snapshot models.MintSnapshot) models.Alert {
	buyers, err := o.counts.TopBuyers(ctx, mint, "5m", topBuyersForScoring)
	if err != nil {
		o.log.WithError(err).Warn("top buyers lookup failed, scoring without cluster factor")
	}
	timestamps, err := o.counts.RecentBuyTimestamps(ctx, mint, "5m", recentBuyTimestampsForScoring)
	if err != nil {
		o.log.WithError(err).Warn("recent buy timestamps lookup failed, scoring without timing factor")
	}

	score, components := o.scorer.Score(ctx, cluster.ScoreInput{
		Window:        snapshot.Window5m,
		BuyerVolumes:  buyers,
		BuyTimestamps: timestamps,
	}, o.clust)

	return models.Alert{
		ID:             uuid.NewString(),
		Mint:           mint.String(),
		TriggerName:    triggerName,
		VolumeSOL5m:    snapshot.Window5m.BuyVolumeSOL,
		BuyCount5m:     snapshot.Window5m.BuyCount,
		SellCount5m:    snapshot.Window5m.SellCount,
		UniqueBuyers5m: snapshot.Window5m.UniqueBuyers,
		BuySellRatio5m: snapshot.Window5m.BuySellRatio(),
		CTOScore:       score,
		CTOComponents:  components,
		CreatedAt:      time.Now(),
	}
}

// runDetectorTick drives the once-per-second work that isn't tied to a
// specific incoming record: HOT/WARM/COLD TTL sweeps.
func (o *Orchestrator) runDetectorTick(ctx context.Context) {
	defer o.loopWG.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transitions, err := o.states.Tick(ctx, time.Now())
			if err != nil {
				o.log.WithError(err).Warn("state tick failed")
				continue
			}
			for _, t := range transitions {
				o.log.WithFields(logrus.Fields{"mint": t.Mint, "from": t.From, "to": t.To}).Info("token state transition")
			}
		}
	}
}

func (o *Orchestrator) runBackpressureSampler(ctx context.Context) {
	defer o.loopWG.Done()
	o.bp.Run(ctx)
}

// runDeltaLogTrimmer periodically applies retention to the delta log; the
// writer goroutine inside deltalog.Log already handles the write-side
// queue, this loop only owns the read-side housekeeping.
func (o *Orchestrator) runDeltaLogTrimmer(ctx context.Context) {
	defer o.loopWG.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.dlog.Trim(24 * time.Hour); err != nil {
				o.log.WithError(err).Warn("delta log trim failed")
			}
		}
	}
}

// drain waits up to shutdownDrainDeadline for every consumer and background
// loop to unwind, then closes owned connections. An incomplete drain logs a
// warning; unprocessed records stay pending in the stream for the next
// claim_idle rather than being acked.
func (o *Orchestrator) drain() error {
	done := make(chan struct{})
	go func() {
		o.consumerWG.Wait()
		o.loopWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.log.Info("all consumer and background loops stopped cleanly")
	case <-time.After(shutdownDrainDeadline):
		o.log.Warn("shutdown drain deadline exceeded, some work may still be in flight")
	}

	if o.dlog != nil {
		if err := o.dlog.Close(); err != nil {
			o.log.WithError(err).Warn("delta log close failed")
		}
	}
	if o.appendSink != nil {
		o.appendSink.Close()
	}
	if o.stream != nil {
		if err := o.stream.Close(); err != nil {
			o.log.WithError(err).Warn("stream close failed")
		}
	}
	return nil
}

// Status surface for internal/metricsapi.StatusProvider.

// metricsProbeTimeout bounds the on-demand Redis round trips /metrics makes
// when a scrape comes in, independent of the 1s backpressure sampler's own
// cadence.
const metricsProbeTimeout = 500 * time.Millisecond

// Mode returns the current backpressure mode.
func (o *Orchestrator) Mode() backpressure.Mode { return o.bp.Mode() }

// ConsumerLag reports the current ingest lag, derived the same way the
// backpressure sampler does: idle time of the oldest unacknowledged stream
// entry.
func (o *Orchestrator) ConsumerLag() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), metricsProbeTimeout)
	defer cancel()
	idle, hasPending, err := o.stream.OldestPendingIdle(ctx)
	if err != nil || !hasPending {
		return 0
	}
	return idle
}

// BufferLen reports the current durable stream length.
func (o *Orchestrator) BufferLen() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), metricsProbeTimeout)
	defer cancel()
	n, err := o.stream.Length(ctx)
	if err != nil {
		return 0
	}
	return n
}

// Uptime reports how long this process has been running.
func (o *Orchestrator) Uptime() time.Duration {
	if o.startedAt.IsZero() {
		return 0
	}
	return time.Since(o.startedAt)
}

// streamSampler adapts an *ingest.Stream to backpressure.Sampler.
type streamSampler struct {
	stream *ingest.Stream
}

// NewStreamSampler builds the Sampler the backpressure controller polls
// every second.
func NewStreamSampler(stream *ingest.Stream) backpressure.Sampler {
	return &streamSampler{stream: stream}
}

func (s *streamSampler) OldestUnackedIngestTime(ctx context.Context) (time.Time, bool, error) {
	idle, hasPending, err := s.stream.OldestPendingIdle(ctx)
	if err != nil || !hasPending {
		return time.Time{}, hasPending, err
	}
	return time.Now().Add(-idle), true, nil
}

func (s *streamSampler) BufferLen(ctx context.Context) (int64, error) {
	return s.stream.Length(ctx)
}
