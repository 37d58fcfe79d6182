// Package counters implements bucketed rolling 5-minute and 1-hour per-mint
// aggregates backed by Redis, using native HyperLogLog for approximate
// unique counts and a sorted set for approximate top-K heavy hitters.
package counters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rawblock/swap-sentinel/pkg/models"
	"github.com/redis/go-redis/v9"
)

// windowSpec describes one rolling window's bucket geometry: the 5m window
// is 30 buckets of 10s, the 1h window is 60 buckets of 60s.
type windowSpec struct {
	name        string
	bucketWidth time.Duration
	numBuckets  int64
}

var windows = []windowSpec{
	{name: "5m", bucketWidth: 10 * time.Second, numBuckets: 30},
	{name: "1h", bucketWidth: 60 * time.Second, numBuckets: 60},
}

const (
	topKSize        = 3
	topZSetMaxSize  = 50 // bounded resource; trimmed on every write
	walletFirstSeenTTL = 7 * 24 * time.Hour

	// recentBuyTimestampsCap bounds the per-(mint, window) recent-buy-time
	// list the CTO scorer's burstiness factor reads from.
	recentBuyTimestampsCap = 50
)

// Store is the Redis-backed aggregate implementation. It shares its Redis
// instance with the durable stream and dedup filter.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func bucketIndex(t time.Time, width time.Duration) int64 {
	return t.Unix() / int64(width.Seconds())
}

func cntKey(mint, window string, bucket int64, field string) string {
	return fmt.Sprintf("cnt:%s:%s:%d:%s", mint, window, bucket, field)
}

func hllKey(mint, window string, bucket int64, kind string) string {
	return fmt.Sprintf("hll:%s:%s:%d:%s", mint, window, bucket, kind)
}

func topKey(mint, window string) string {
	return fmt.Sprintf("top:%s:%s", mint, window)
}

func recentBuysKey(mint, window string) string {
	return fmt.Sprintf("buytimes:%s:%s", mint, window)
}

func walletFirstSeenKey(wallet string) string {
	return "wallet:first_seen:" + wallet
}

// RecordSwap folds one SwapEvent into every configured window's current
// bucket. The wallet_first_seen write happens first and unconditionally —
// it is never gated on any other write in this call succeeding. Returns whether wallet was first seen by this call, so the
// caller can decide whether to kick off a funded_by enrichment lookup.
func (s *Store) RecordSwap(ctx context.Context, evt models.SwapEvent) (bool, error) {
	wallet := evt.Wallet.String()
	mint := evt.BaseMint.String()
	now := evt.ObservedAt
	if now.IsZero() {
		now = time.Now()
	}

	isNew, err := s.markWalletFirstSeen(ctx, wallet, now)
	if err != nil {
		return false, fmt.Errorf("mark wallet first seen: %w", err)
	}

	for _, w := range windows {
		bucket := bucketIndex(now, w.bucketWidth)
		if err := s.recordInWindow(ctx, mint, w, bucket, wallet, evt, isNew, now); err != nil {
			return false, fmt.Errorf("record in window %s: %w", w.name, err)
		}
	}
	return isNew, nil
}

func (s *Store) recordInWindow(ctx context.Context, mint string, w windowSpec, bucket int64, wallet string, evt models.SwapEvent, isNew bool, now time.Time) error {
	ttl := w.bucketWidth * time.Duration(w.numBuckets) * 2

	pipe := s.rdb.Pipeline()

	countField := "buy_count"
	volumeField := "buy_volume"
	hllKind := "buyers"
	if evt.Side == models.SideSell {
		countField = "sell_count"
		volumeField = "sell_volume"
		hllKind = "sellers"
	}

	countKey := cntKey(mint, w.name, bucket, countField)
	pipe.IncrBy(ctx, countKey, 1)
	pipe.Expire(ctx, countKey, ttl)

	volKey := cntKey(mint, w.name, bucket, volumeField)
	pipe.IncrByFloat(ctx, volKey, evt.QuoteAmount)
	pipe.Expire(ctx, volKey, ttl)

	hKey := hllKey(mint, w.name, bucket, hllKind)
	pipe.PFAdd(ctx, hKey, wallet)
	pipe.Expire(ctx, hKey, ttl)

	if evt.Side == models.SideBuy {
		tKey := topKey(mint, w.name)
		pipe.ZIncrBy(ctx, tKey, evt.QuoteAmount, wallet)
		pipe.ZRemRangeByRank(ctx, tKey, 0, -(topZSetMaxSize + 1))
		pipe.Expire(ctx, tKey, ttl)

		rtKey := recentBuysKey(mint, w.name)
		pipe.LPush(ctx, rtKey, now.UnixNano())
		pipe.LTrim(ctx, rtKey, 0, recentBuyTimestampsCap-1)
		pipe.Expire(ctx, rtKey, ttl)

		if isNew {
			newKey := cntKey(mint, w.name, bucket, "new_buyers")
			pipe.IncrBy(ctx, newKey, 1)
			pipe.Expire(ctx, newKey, ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// markWalletFirstSeen atomically records the wallet's first-seen timestamp
// with a 7-day TTL, returning true iff this call was the first occurrence.
func (s *Store) markWalletFirstSeen(ctx context.Context, wallet string, now time.Time) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, walletFirstSeenKey(wallet), now.Unix(), walletFirstSeenTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// TopBuyers returns up to limit wallets with the largest buy volume in
// mint's window, the source the CTO scorer's cluster factor folds through
// the wallet clusterer.
func (s *Store) TopBuyers(ctx context.Context, mint solana.PublicKey, window string, limit int64) (map[string]float64, error) {
	pairs, err := s.rdb.ZRevRangeWithScores(ctx, topKey(mint.String(), window), 0, limit-1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make(map[string]float64, len(pairs))
	for _, z := range pairs {
		wallet, ok := z.Member.(string)
		if !ok {
			continue
		}
		out[wallet] = z.Score
	}
	return out, nil
}

// RecentBuyTimestamps returns up to limit of the most recent buy
// timestamps recorded for mint's window, the source the CTO scorer's
// burstiness factor normalizes inter-arrival variance over.
func (s *Store) RecentBuyTimestamps(ctx context.Context, mint solana.PublicKey, window string, limit int64) ([]time.Time, error) {
	vals, err := s.rdb.LRange(ctx, recentBuysKey(mint.String(), window), 0, limit-1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Unix(0, n))
	}
	return out, nil
}

// Snapshot reads the current aggregate for both windows of mint. All reads
// succeed even when every counter is absent; absent keys contribute zero.
func (s *Store) Snapshot(ctx context.Context, mint solana.PublicKey) (models.MintSnapshot, error) {
	mintStr := mint.String()
	snap := models.MintSnapshot{Mint: mintStr}

	for _, w := range windows {
		agg, err := s.readWindow(ctx, mintStr, w)
		if err != nil {
			return models.MintSnapshot{}, fmt.Errorf("read window %s: %w", w.name, err)
		}
		if w.name == "5m" {
			snap.Window5m = agg
		} else {
			snap.Window1h = agg
		}
	}
	return snap, nil
}

func (s *Store) readWindow(ctx context.Context, mint string, w windowSpec) (models.WindowAggregate, error) {
	agg := models.WindowAggregate{Mint: mint, Window: w.name}

	now := bucketIndex(time.Now(), w.bucketWidth)
	buckets := make([]int64, 0, w.numBuckets)
	for i := int64(0); i < w.numBuckets; i++ {
		buckets = append(buckets, now-i)
	}

	pipe := s.rdb.Pipeline()
	buyCountCmds := make([]*redis.StringCmd, len(buckets))
	sellCountCmds := make([]*redis.StringCmd, len(buckets))
	buyVolCmds := make([]*redis.StringCmd, len(buckets))
	sellVolCmds := make([]*redis.StringCmd, len(buckets))
	newBuyersCmds := make([]*redis.StringCmd, len(buckets))
	buyerHLLKeys := make([]string, len(buckets))
	sellerHLLKeys := make([]string, len(buckets))

	for i, b := range buckets {
		buyCountCmds[i] = pipe.Get(ctx, cntKey(mint, w.name, b, "buy_count"))
		sellCountCmds[i] = pipe.Get(ctx, cntKey(mint, w.name, b, "sell_count"))
		buyVolCmds[i] = pipe.Get(ctx, cntKey(mint, w.name, b, "buy_volume"))
		sellVolCmds[i] = pipe.Get(ctx, cntKey(mint, w.name, b, "sell_volume"))
		newBuyersCmds[i] = pipe.Get(ctx, cntKey(mint, w.name, b, "new_buyers"))
		buyerHLLKeys[i] = hllKey(mint, w.name, b, "buyers")
		sellerHLLKeys[i] = hllKey(mint, w.name, b, "sellers")
	}
	buyersHLL := pipe.PFCount(ctx, buyerHLLKeys...)
	sellersHLL := pipe.PFCount(ctx, sellerHLLKeys...)
	topResult := pipe.ZRevRangeWithScores(ctx, topKey(mint, w.name), 0, topKSize-1)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return agg, err
	}

	agg.BuyCount = sumInt(buyCountCmds)
	agg.SellCount = sumInt(sellCountCmds)
	agg.BuyVolumeSOL = sumFloat(buyVolCmds)
	agg.SellVolumeSOL = sumFloat(sellVolCmds)
	agg.NewWalletBuyers = sumInt(newBuyersCmds)
	agg.UniqueBuyers = resultOrZero(buyersHLL)
	agg.UniqueSellers = resultOrZero(sellersHLL)

	if pairs, err := topResult.Result(); err == nil {
		for _, z := range pairs {
			agg.Top3BuyersVolume += z.Score
		}
	}

	return agg, nil
}

func sumInt(cmds []*redis.StringCmd) int64 {
	var total int64
	for _, c := range cmds {
		n, err := c.Int64()
		if err != nil {
			continue // redis.Nil for an absent/expired bucket: contributes 0
		}
		total += n
	}
	return total
}

func sumFloat(cmds []*redis.StringCmd) float64 {
	var total float64
	for _, c := range cmds {
		f, err := c.Float64()
		if err != nil {
			continue
		}
		total += f
	}
	return total
}

func resultOrZero(cmd *redis.IntCmd) int64 {
	n, err := cmd.Result()
	if err != nil {
		return 0
	}
	return n
}
