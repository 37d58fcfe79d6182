package cluster

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rawblock/swap-sentinel/pkg/models"
)

// Weights are the CTO score factor weights. They sum to 1.0; a missing
// input contributes 0 to the dot product rather than being renormalized
// away.
type Weights struct {
	Cluster       float64
	Concentration float64
	Timing        float64
	NewWallet     float64
	Ratio         float64
}

// DefaultWeights is the shipped factor weighting for the CTO score.
var DefaultWeights = Weights{
	Cluster:       0.30,
	Concentration: 0.25,
	Timing:        0.15,
	NewWallet:     0.15,
	Ratio:         0.15,
}

// ratioCap bounds the buy/sell ratio factor's contribution to the score.
const ratioCap = 10.0

// defaultScoreDeadline is the per-call deadline after which the cluster
// factor is dropped to 0 rather than blocking the caller.
const defaultScoreDeadline = 2 * time.Second

// ScoreInput bundles everything the scorer needs for one HOT mint: the
// window aggregate driving concentration/new_wallet/ratio, and the raw
// per-wallet buy volumes and timestamps driving cluster/timing.
type ScoreInput struct {
	Window        models.WindowAggregate
	BuyerVolumes  map[string]float64 // wallet -> total buy volume this window
	BuyTimestamps []time.Time
}

// Scorer computes the weighted CTO score. It runs in a bounded worker pool
// so concurrent scoring requests across many HOT mints cannot exhaust
// resources the main ingest pipeline depends on.
type Scorer struct {
	weights  Weights
	deadline time.Duration
	sem      chan struct{}
}

// NewScorer builds a scorer with a worker-pool capacity of maxConcurrent.
func NewScorer(weights Weights, maxConcurrent int) *Scorer {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scorer{
		weights:  weights,
		deadline: defaultScoreDeadline,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Score computes the CTO score for one mint, blocking only on worker-pool
// availability and its own deadline, never on the caller's pipeline.
func (s *Scorer) Score(ctx context.Context, input ScoreInput, clusterer *Clusterer) (float64, models.CTOComponents) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return 0, models.CTOComponents{}
	}

	concentration := input.Window.Top3BuyersVolumeShare()
	newWallet := input.Window.NewWalletPct()
	ratio := boundedRatio(input.Window.BuySellRatio())
	timing := burstiness(input.BuyTimestamps)

	clusterCh := make(chan float64, 1)
	go func() { clusterCh <- clusterFactor(input.BuyerVolumes, clusterer) }()

	deadlineCtx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	var clusterComp float64
	select {
	case v := <-clusterCh:
		clusterComp = v
	case <-deadlineCtx.Done():
		clusterComp = 0
	}

	components := models.CTOComponents{
		Cluster:       clusterComp,
		Concentration: concentration,
		Timing:        timing,
		NewWallet:     newWallet,
		Ratio:         ratio,
	}

	score := s.weights.Cluster*components.Cluster +
		s.weights.Concentration*components.Concentration +
		s.weights.Timing*components.Timing +
		s.weights.NewWallet*components.NewWallet +
		s.weights.Ratio*components.Ratio

	return clampUnit(score), components
}

func boundedRatio(ratio float64) float64 {
	if math.IsInf(ratio, 1) {
		return 1
	}
	v := ratio / ratioCap
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// clusterFactor is (max cluster buy_volume) / (total buy_volume) over the
// window's buyers.
func clusterFactor(buyerVolumes map[string]float64, clusterer *Clusterer) float64 {
	if len(buyerVolumes) == 0 || clusterer == nil {
		return 0
	}

	var total float64
	clusterVolumes := make(map[string]float64)
	for wallet, vol := range buyerVolumes {
		total += vol
		root := clusterer.Find(wallet)
		clusterVolumes[root] += vol
	}
	if total <= 0 {
		return 0
	}

	var max float64
	for _, v := range clusterVolumes {
		if v > max {
			max = v
		}
	}
	return max / total
}

// burstiness normalizes the variance of inter-arrival times across buy
// timestamps into [0, 1]: tightly clustered buys (high variance of the
// inter-arrival times relative to their mean) score close to 1, evenly
// spaced buys score close to 0.
func burstiness(timestamps []time.Time) float64 {
	if len(timestamps) < 3 {
		return 0
	}
	sorted := append([]time.Time(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]float64, 0, len(sorted)-1)
	var sum float64
	for i := 1; i < len(sorted); i++ {
		d := sorted[i].Sub(sorted[i-1]).Seconds()
		intervals = append(intervals, d)
		sum += d
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return 1 // every buy landed in the same instant: maximally bursty
	}

	var variance float64
	for _, d := range intervals {
		diff := d - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals))
	stddev := math.Sqrt(variance)

	// Coefficient of variation, squashed into [0, 1]: cv near 0 (regular
	// spacing) -> score near 0; cv large (bursty) -> score near 1.
	cv := stddev / mean
	return clampUnit(cv / (cv + 1))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
