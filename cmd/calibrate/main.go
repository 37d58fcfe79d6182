// calibrate runs an offline sweep over candidate confidence-penalty sets
// against a hand-labeled corpus and prints the configuration with the
// highest accuracy, for pasting into the inferencer's Penalties at deploy
// time.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/rawblock/swap-sentinel/internal/evalharness"
	"github.com/rawblock/swap-sentinel/internal/inference"
	"github.com/rawblock/swap-sentinel/pkg/models"
)

// labeledCaseFile is the on-disk shape of one hand-labeled example. Owner and
// mint pubkeys are base58 strings since solana.PublicKey doesn't round-trip
// through JSON as a map key.
type labeledCaseFile struct {
	TokenDeltas  map[string]float64 `json:"tokenDeltas"`  // "owner:mint" -> delta
	NativeDeltas map[string]float64 `json:"nativeDeltas"` // owner -> native delta in SOL
	VenueHint    string             `json:"venueHint"`
	GroundTruth  string             `json:"groundTruth"` // "buy", "sell", or "" for no swap
}

func main() {
	corpusPath := flag.String("corpus", "", "path to a JSON array of labeled cases")
	floor := flag.Float64("floor", 0.7, "minimum confidence floor to evaluate at")
	flag.Parse()

	if *corpusPath == "" {
		fmt.Fprintln(os.Stderr, "calibrate: -corpus is required")
		os.Exit(1)
	}

	cases, err := loadCorpus(*corpusPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "calibrate: %v\n", err)
		os.Exit(1)
	}

	best := evalharness.Sweep(cases, penaltyGrid(), *floor)

	out := struct {
		Penalties inference.Penalties `json:"penalties"`
		Accuracy  float64             `json:"accuracy"`
		ARI       float64             `json:"adjustedRandIndex"`
		VI        float64             `json:"variationOfInformation"`
	}{best.Penalties, best.Accuracy, best.ARI, best.VI}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "calibrate: encode result: %v\n", err)
		os.Exit(1)
	}
}

// penaltyGrid enumerates candidate penalty sets around the inferencer's
// shipped defaults. A coarse 3-point grid per dimension is enough to locate
// a materially better configuration without an exhaustive search.
func penaltyGrid() []inference.Penalties {
	steps := []float64{0.1, 0.2, 0.3}
	var grid []inference.Penalties
	for _, missingVenue := range steps {
		for _, competing := range steps {
			for _, inconsistent := range steps {
				for _, unseenBase := range steps {
					grid = append(grid, inference.Penalties{
						MissingVenueHint:  missingVenue,
						CompetingDeltas:   competing,
						InconsistentRatio: inconsistent,
						UnseenBaseMint:    unseenBase,
					})
				}
			}
		}
	}
	return grid
}

func loadCorpus(path string) ([]evalharness.LabeledCase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}

	var files []labeledCaseFile
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}

	cases := make([]evalharness.LabeledCase, 0, len(files))
	for i, f := range files {
		deltas, err := decodeDeltas(f)
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		cases = append(cases, evalharness.LabeledCase{
			Deltas:      deltas,
			GroundTruth: decodeSide(f.GroundTruth),
		})
	}
	return cases, nil
}

func decodeDeltas(f labeledCaseFile) (models.ExtractedDeltas, error) {
	deltas := models.ExtractedDeltas{
		TokenDeltas:  make(map[models.OwnerMint]float64, len(f.TokenDeltas)),
		NativeDeltas: make(map[solana.PublicKey]float64, len(f.NativeDeltas)),
		VenueHint:    f.VenueHint,
	}
	for key, v := range f.TokenDeltas {
		owner, mint, err := splitOwnerMintKey(key)
		if err != nil {
			return models.ExtractedDeltas{}, err
		}
		deltas.TokenDeltas[models.OwnerMint{Owner: owner, Mint: mint}] = v
	}
	for key, v := range f.NativeDeltas {
		owner, err := solana.PublicKeyFromBase58(key)
		if err != nil {
			return models.ExtractedDeltas{}, fmt.Errorf("native delta owner %q: %w", key, err)
		}
		deltas.NativeDeltas[owner] = v
	}
	return deltas, nil
}

func splitOwnerMintKey(key string) (solana.PublicKey, solana.PublicKey, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			owner, err := solana.PublicKeyFromBase58(key[:i])
			if err != nil {
				return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("owner in %q: %w", key, err)
			}
			mint, err := solana.PublicKeyFromBase58(key[i+1:])
			if err != nil {
				return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("mint in %q: %w", key, err)
			}
			return owner, mint, nil
		}
	}
	return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("malformed owner:mint key %q", key)
}

func decodeSide(s string) models.Side {
	switch s {
	case "buy":
		return models.SideBuy
	case "sell":
		return models.SideSell
	default:
		return ""
	}
}
