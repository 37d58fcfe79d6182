package evalharness

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rawblock/swap-sentinel/internal/inference"
	"github.com/rawblock/swap-sentinel/pkg/models"
)

func buyCase() LabeledCase {
	owner := solana.PublicKey{1}
	mint := solana.PublicKey{2}
	return LabeledCase{
		Deltas: models.ExtractedDeltas{
			TokenDeltas:  map[models.OwnerMint]float64{{Owner: owner, Mint: mint}: 100},
			NativeDeltas: map[solana.PublicKey]float64{owner: -0.5},
			VenueHint:    "raydium",
		},
		GroundTruth: models.SideBuy,
	}
}

func TestEvaluateScoresAccuracyOfOnePenaltySet(t *testing.T) {
	cases := []LabeledCase{buyCase()}
	result := Evaluate(cases, inference.DefaultPenalties, 0.5)
	if result.Accuracy != 1.0 {
		t.Fatalf("expected perfect accuracy on an unambiguous buy, got %v", result.Accuracy)
	}
}

func TestSweepPicksHighestAccuracyCandidate(t *testing.T) {
	cases := []LabeledCase{buyCase()}
	strict := inference.Penalties{MissingVenueHint: 0.9, CompetingDeltas: 0.9, InconsistentRatio: 0.9, UnseenBaseMint: 0.9}
	lenient := inference.DefaultPenalties

	best := Sweep(cases, []inference.Penalties{strict, lenient}, 0.7)
	if best.Accuracy < 1.0 {
		t.Fatalf("expected sweep to surface the lenient config with accuracy 1.0, got %v", best.Accuracy)
	}
}
