package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rawblock/swap-sentinel/internal/alert"
	"github.com/rawblock/swap-sentinel/internal/backpressure"
	"github.com/rawblock/swap-sentinel/internal/cluster"
	"github.com/rawblock/swap-sentinel/internal/config"
	"github.com/rawblock/swap-sentinel/internal/counters"
	"github.com/rawblock/swap-sentinel/internal/deltalog"
	"github.com/rawblock/swap-sentinel/internal/enrichment"
	"github.com/rawblock/swap-sentinel/internal/ingest"
	"github.com/rawblock/swap-sentinel/internal/inference"
	"github.com/rawblock/swap-sentinel/internal/metricsapi"
	"github.com/rawblock/swap-sentinel/internal/orchestrator"
	"github.com/rawblock/swap-sentinel/internal/sink"
	"github.com/rawblock/swap-sentinel/internal/state"
	"github.com/rawblock/swap-sentinel/internal/trigger"
	"github.com/rawblock/swap-sentinel/pkg/models"
)

func main() {
	log := newLogger()
	log.Info("starting swap-sentinel ingest->infer->count->trigger pipeline")

	ingestOnly := flag.Bool("ingest-only", false, "run only the upstream source -> durable stream relay")
	consumeOnly := flag.Bool("consume-only", false, "run the consumer/inference/counter/trigger/alert pipeline without dialing the upstream source")
	detectOnly := flag.Bool("detect-only", false, "run only the detector tick and alert dispatcher, without consuming new stream records")
	flag.Parse()

	role, err := resolveRole(*ingestOnly, *consumeOnly, *detectOnly)
	if err != nil {
		log.WithError(err).Fatal("invalid process-role flags")
	}

	cfg := config.Load(log)
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForShutdownSignal(cancel, log)

	stream, err := ingest.NewStream(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect durable stream")
	}

	rdb, err := sharedRedisClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect shared redis client")
	}

	dedup := ingest.NewDedup(rdb, ingest.DefaultDedupTTL)
	counterStore := counters.NewStore(rdb)
	stateManager := state.NewManager(rdb, cfg.HotTokenTTL, cfg.WarmTokenTTL, cfg.AlertCooldown)
	infEngine := inference.NewInferencer(cfg.MinSwapConfidence, inference.DefaultPenalties)

	rules, err := trigger.NewEvaluator(cfg.TriggerRulesPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load trigger rules")
	}
	go rules.WatchReload(ctx, rdb, log.WithField("component", "trigger"))

	dlog, err := deltalog.Open(cfg.DeltaLogDir, cfg.DeltaLogSegmentMaxBytes, cfg.DeltaLogSegmentMaxAge, log.WithField("component", "deltalog"))
	if err != nil {
		log.WithError(err).Fatal("failed to open delta log")
	}

	backfiller := state.NewBackfiller(dlog, infEngine, counterStore, log.WithField("component", "state.backfill"))

	thresholds := backpressure.Thresholds{
		LagWarn:     secondsToDuration(cfg.BPLagWarnSeconds),
		LagCritical: secondsToDuration(cfg.BPLagCritSeconds),
		BufWarn:     cfg.BPBufWarn,
		BufCritical: cfg.BPBufCrit,
	}
	bp := backpressure.NewController(orchestrator.NewStreamSampler(stream), thresholds, log.WithField("component", "backpressure"))
	go bp.WatchReload(ctx, rdb)

	clusterer := cluster.NewClusterer()
	scorer := cluster.NewScorer(cluster.DefaultWeights, 8)

	channels := map[alert.Channel]alert.ChannelConfig{}
	if cfg.DiscordWebhookURL != "" {
		channels[alert.NewWebhookChannel("discord", cfg.DiscordWebhookURL, nil)] = alert.DefaultChannelConfig
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		url := "https://api.telegram.org/bot" + cfg.TelegramBotToken + "/sendMessage?chat_id=" + cfg.TelegramChatID
		channels[alert.NewWebhookChannel("telegram", url, nil)] = alert.DefaultChannelConfig
	}
	dispatcher := alert.NewDispatcher(ctx, channels, log.WithField("component", "alert"))

	var appendSink *sink.Store
	if cfg.AppendSinkURL != "" {
		appendSink, err = sink.Connect(ctx, cfg.AppendSinkURL, log.WithField("component", "sink"))
		if err != nil {
			log.WithError(err).Fatal("failed to connect append-only sink")
		}
		if err := appendSink.InitSchema(ctx); err != nil {
			log.WithError(err).Fatal("failed to initialize append-only sink schema")
		}
	}

	var source ingest.Source
	if role == orchestrator.RoleAll || role == orchestrator.RoleIngestOnly {
		source = ingest.NewGRPCSource(cfg.StreamEndpoint, cfg.StreamToken, log.WithField("component", "ingest.source"))
	} else {
		source = noopSource{}
	}

	var enrich enrichment.FundedByResolver
	if cfg.EnrichmentBaseURL != "" {
		enrich = enrichment.NewClient(cfg.EnrichmentBaseURL, cfg.EnrichmentAPIKey, cfg.EnrichmentDailyCredits)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Cfg:          cfg,
		Log:          log.WithField("component", "orchestrator"),
		Role:         role,
		Stream:       stream,
		Source:       source,
		Dedup:        dedup,
		Infer:        infEngine,
		Counters:     counterStore,
		Rules:        rules,
		States:       stateManager,
		Backfill:     backfiller,
		DeltaLog:     dlog,
		Backpressure: bp,
		Clusterer:    clusterer,
		Scorer:       scorer,
		Dispatcher:   dispatcher,
		AppendSink:   appendSink,
		Enrichment:   enrich,
	})

	router := metricsapi.NewRouter(orch)
	go func() {
		if err := router.Run(cfg.MetricsAddr); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	if err := orch.Run(ctx); err != nil {
		log.WithError(err).Fatal("orchestrator exited with error")
	}
	log.Info("swap-sentinel stopped")
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	return log
}

func waitForShutdownSignal(cancel context.CancelFunc, log *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("received shutdown signal")
	cancel()
}

// sharedRedisClient opens a second connection to the same Redis instance
// the durable stream already uses, for the components (dedup, counters,
// state, trigger hot-reload) that need direct access to the client rather
// than going through the stream's narrower Stream API.
func sharedRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// resolveRole maps the process-role flags onto an orchestrator.Role. At most
// one flag may be set; the zero value (no flags) runs the full pipeline in a
// single process.
func resolveRole(ingestOnly, consumeOnly, detectOnly bool) (orchestrator.Role, error) {
	set := 0
	for _, b := range []bool{ingestOnly, consumeOnly, detectOnly} {
		if b {
			set++
		}
	}
	if set > 1 {
		return orchestrator.RoleAll, fmt.Errorf("only one of --ingest-only, --consume-only, --detect-only may be set")
	}
	switch {
	case ingestOnly:
		return orchestrator.RoleIngestOnly, nil
	case consumeOnly:
		return orchestrator.RoleConsumeOnly, nil
	case detectOnly:
		return orchestrator.RoleDetectOnly, nil
	default:
		return orchestrator.RoleAll, nil
	}
}

// noopSource is used by roles that never dial the upstream feed
// (--consume-only, --detect-only): the process reads and detects against the
// existing durable stream without an upstream connection of its own.
type noopSource struct{}

func (noopSource) Subscribe(ctx context.Context) (<-chan models.RawTransaction, error) {
	ch := make(chan models.RawTransaction)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
