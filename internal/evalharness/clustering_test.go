package evalharness

import (
	"math"
	"testing"
)

func TestAdjustedRandIndexPerfectAgreement(t *testing.T) {
	predicted := []int{0, 0, 1, 1, 2, 2}
	groundTruth := []int{0, 0, 1, 1, 2, 2}

	if ari := AdjustedRandIndex(predicted, groundTruth); math.Abs(ari-1.0) > 0.01 {
		t.Errorf("expected ARI=1.0 for perfect agreement, got %f", ari)
	}
}

func TestAdjustedRandIndexDissimilarPartitions(t *testing.T) {
	predicted := []int{0, 0, 0, 1, 1, 1}
	groundTruth := []int{0, 1, 0, 1, 0, 1}

	if ari := AdjustedRandIndex(predicted, groundTruth); ari > 0.5 {
		t.Errorf("expected ARI near 0 for dissimilar partitions, got %f", ari)
	}
}

func TestVariationOfInformationIdentical(t *testing.T) {
	predicted := []int{0, 0, 1, 1, 2, 2}
	groundTruth := []int{0, 0, 1, 1, 2, 2}

	if vi := VariationOfInformation(predicted, groundTruth); vi > 0.01 {
		t.Errorf("expected VI=0 for identical partitions, got %f", vi)
	}
}
