package evalharness

import (
	"github.com/rawblock/swap-sentinel/internal/inference"
	"github.com/rawblock/swap-sentinel/pkg/models"
)

const (
	labelBuy = iota
	labelSell
	labelNone
)

// LabeledCase is one hand-labeled example: extracted deltas plus the
// analyst-confirmed ground truth side (or "none" if no swap should be
// inferred at all).
type LabeledCase struct {
	Deltas       models.ExtractedDeltas
	GroundTruth  models.Side // empty string means "no swap expected"
}

// CalibrationResult reports how one penalty configuration performed against
// a labeled corpus.
type CalibrationResult struct {
	Penalties inference.Penalties
	Accuracy  float64
	ARI       float64
	VI        float64
}

func sideLabel(side models.Side) int {
	switch side {
	case models.SideBuy:
		return labelBuy
	case models.SideSell:
		return labelSell
	default:
		return labelNone
	}
}

// Evaluate runs inference once per case with the given penalties and floor,
// then scores the resulting side labels against ground truth.
func Evaluate(cases []LabeledCase, penalties inference.Penalties, floor float64) CalibrationResult {
	predicted := make([]int, len(cases))
	truth := make([]int, len(cases))
	correct := 0

	for i, c := range cases {
		inf := inference.NewInferencer(floor, penalties)
		result := inf.Infer(c.Deltas)

		var predictedSide models.Side
		if result.Swap != nil {
			predictedSide = result.Swap.Side
		}

		predicted[i] = sideLabel(predictedSide)
		truth[i] = sideLabel(c.GroundTruth)
		if predicted[i] == truth[i] {
			correct++
		}
	}

	accuracy := 0.0
	if len(cases) > 0 {
		accuracy = float64(correct) / float64(len(cases))
	}

	return CalibrationResult{
		Penalties: penalties,
		Accuracy:  accuracy,
		ARI:       AdjustedRandIndex(predicted, truth),
		VI:        VariationOfInformation(predicted, truth),
	}
}

// Sweep evaluates every candidate penalty set and returns the one with the
// highest accuracy, breaking ties by higher ARI (tighter agreement with
// ground truth beyond chance).
func Sweep(cases []LabeledCase, candidates []inference.Penalties, floor float64) CalibrationResult {
	var best CalibrationResult
	for i, p := range candidates {
		r := Evaluate(cases, p, floor)
		if i == 0 || r.Accuracy > best.Accuracy || (r.Accuracy == best.Accuracy && r.ARI > best.ARI) {
			best = r
		}
	}
	return best
}
