package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/swap-sentinel/pkg/models"
)

func TestScoreIsBoundedToUnitInterval(t *testing.T) {
	s := NewScorer(DefaultWeights, 4)
	c := NewClusterer()
	c.Union("alice", "bob")

	input := ScoreInput{
		Window: models.WindowAggregate{
			Window: "5m", BuyCount: 20, SellCount: 0,
			BuyVolumeSOL: 100, Top3BuyersVolume: 90,
			UniqueBuyers: 5, NewWalletBuyers: 4,
		},
		BuyerVolumes: map[string]float64{"alice": 60, "bob": 30, "carol": 10},
		BuyTimestamps: []time.Time{
			time.Unix(0, 0), time.Unix(1, 0), time.Unix(2, 0), time.Unix(3, 0),
		},
	}

	score, components := s.Score(context.Background(), input, c)
	if score < 0 || score > 1 {
		t.Fatalf("expected score in [0,1], got %v", score)
	}
	if components.Cluster < 0.8 {
		t.Fatalf("expected alice+bob cluster to dominate volume, got cluster=%v", components.Cluster)
	}
}

func TestScoreHandlesMissingClusterer(t *testing.T) {
	s := NewScorer(DefaultWeights, 1)
	input := ScoreInput{Window: models.WindowAggregate{Window: "5m"}}
	score, components := s.Score(context.Background(), input, nil)
	if components.Cluster != 0 {
		t.Fatalf("expected cluster=0 with nil clusterer, got %v", components.Cluster)
	}
	if score != 0 {
		t.Fatalf("expected score 0 for empty input, got %v", score)
	}
}

func TestInfiniteRatioClampsToOne(t *testing.T) {
	agg := models.WindowAggregate{Window: "5m", BuyCount: 5, SellCount: 0}
	if got := boundedRatio(agg.BuySellRatio()); got != 1 {
		t.Fatalf("expected bounded ratio of 1 for +Inf input, got %v", got)
	}
}
