// Package inference implements pure swap inference from extracted balance
// deltas.
package inference

import (
	"github.com/gagliardetto/solana-go"
	"github.com/rawblock/swap-sentinel/pkg/models"
)

// Penalties configures the confidence deductions applied by Infer. Defaults
// are illustrative — real magnitudes are meant to come from the offline
// evaluation harness (internal/evalharness), not be guessed once and frozen.
type Penalties struct {
	MissingVenueHint   float64
	CompetingDeltas    float64
	InconsistentRatio  float64
	UnseenBaseMint     float64
}

// DefaultPenalties are tuned so a simple buy with a known venue and a
// single candidate reaches confidence >= 0.9.
var DefaultPenalties = Penalties{
	MissingVenueHint:  0.15,
	CompetingDeltas:   0.2,
	InconsistentRatio: 0.1,
	UnseenBaseMint:    0.05,
}

// dustThresholdSOL is the minimum opposing native delta magnitude to treat a
// candidate as swap-bearing rather than incidental dust movement.
const dustThresholdSOL = 0.0001

// typicalFeeToSwapRatioMax is the margin above dustThresholdSOL that a native
// delta must clear (magnitude >= dustThresholdSOL*(1+typicalFeeToSwapRatioMax))
// to count as a plausible swap quote leg rather than fee-sized noise.
const typicalFeeToSwapRatioMax = 0.5

// Inferencer runs inference against a per-process short-term "seen base
// mints" cache, consulted for the "base_mint unseen before" confidence
// penalty.
type Inferencer struct {
	penalties Penalties
	floor     float64
	seenMints map[solana.PublicKey]bool
}

// NewInferencer builds an inferencer with the given confidence floor
// (MIN_SWAP_CONFIDENCE, default 0.7) and penalty set.
func NewInferencer(floor float64, penalties Penalties) *Inferencer {
	return &Inferencer{
		penalties: penalties,
		floor:     floor,
		seenMints: make(map[solana.PublicKey]bool),
	}
}

// Result is the outcome of one Infer call: either a confident SwapEvent or,
// when confidence falls short of the floor, only a MintTouchEvent.
type Result struct {
	Swap      *models.SwapEvent
	MintTouch *models.MintTouchEvent
}

// candidate is one (owner, mint) pairing with non-zero token delta and an
// opposing-sign native delta above the dust threshold.
type candidate struct {
	owner       solana.PublicKey
	mint        solana.PublicKey
	tokenDelta  float64
	nativeDelta float64
}

// Infer always picks the same candidate, side and amounts for identical
// deltas. The per-mint "seen before" cache is the only carried state: it
// changes the confidence score, and so whether the result clears the floor,
// but never the side/amount determination.
func (inf *Inferencer) Infer(deltas models.ExtractedDeltas) Result {
	candidates := collectCandidates(deltas)
	if len(candidates) == 0 {
		return Result{MintTouch: &models.MintTouchEvent{
			Signature: deltas.Signature,
			Slot:      deltas.Slot,
		}}
	}

	chosen := pickCandidate(candidates)
	side, ok := sideFor(chosen)
	if !ok {
		return Result{MintTouch: &models.MintTouchEvent{
			Signature: deltas.Signature,
			Slot:      deltas.Slot,
			Mint:      chosen.mint,
		}}
	}

	confidence := inf.score(deltas, candidates, chosen)

	if confidence < inf.floor {
		return Result{MintTouch: &models.MintTouchEvent{
			Signature: deltas.Signature,
			Slot:      deltas.Slot,
			Mint:      chosen.mint,
		}}
	}

	inf.seenMints[chosen.mint] = true

	baseAmount := chosen.tokenDelta
	quoteAmount := chosen.nativeDelta
	if quoteAmount < 0 {
		quoteAmount = -quoteAmount
	}
	if baseAmount < 0 {
		baseAmount = -baseAmount
	}

	return Result{Swap: &models.SwapEvent{
		Signature:   deltas.Signature,
		Slot:        deltas.Slot,
		Side:        side,
		BaseMint:    chosen.mint,
		QuoteMint:   models.NativeMint,
		BaseAmount:  baseAmount,
		QuoteAmount: quoteAmount,
		Wallet:      chosen.owner,
		Venue:       deltas.VenueHint,
		Confidence:  confidence,
	}}
}

func collectCandidates(deltas models.ExtractedDeltas) []candidate {
	var out []candidate
	for om, tokenDelta := range deltas.TokenDeltas {
		if om.Mint.Equals(models.NativeMint) || tokenDelta == 0 {
			continue
		}
		nativeDelta, ok := deltas.NativeDeltas[om.Owner]
		if !ok {
			continue
		}
		opposingSign := (tokenDelta > 0 && nativeDelta < 0) || (tokenDelta < 0 && nativeDelta > 0)
		if !opposingSign {
			continue
		}
		mag := nativeDelta
		if mag < 0 {
			mag = -mag
		}
		if mag < dustThresholdSOL {
			continue
		}
		out = append(out, candidate{
			owner:       om.Owner,
			mint:        om.Mint,
			tokenDelta:  tokenDelta,
			nativeDelta: nativeDelta,
		})
	}
	return out
}

// pickCandidate selects the dominant candidate: largest |token_delta|, ties
// broken by larger |native_delta|, then by lexicographic mint string.
func pickCandidate(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if absf(c.tokenDelta) > absf(best.tokenDelta) {
			best = c
			continue
		}
		if absf(c.tokenDelta) == absf(best.tokenDelta) {
			if absf(c.nativeDelta) > absf(best.nativeDelta) {
				best = c
				continue
			}
			if absf(c.nativeDelta) == absf(best.nativeDelta) && c.mint.String() < best.mint.String() {
				best = c
			}
		}
	}
	return best
}

func sideFor(c candidate) (models.Side, bool) {
	switch {
	case c.tokenDelta > 0 && c.nativeDelta < 0:
		return models.SideBuy, true
	case c.tokenDelta < 0 && c.nativeDelta > 0:
		return models.SideSell, true
	default:
		return "", false
	}
}

func (inf *Inferencer) score(deltas models.ExtractedDeltas, all []candidate, chosen candidate) float64 {
	confidence := 1.0

	if deltas.VenueHint == "" || deltas.VenueHint == "unknown" {
		confidence -= inf.penalties.MissingVenueHint
	}

	competing := 0
	for _, c := range all {
		if c.owner.Equals(chosen.owner) && !c.mint.Equals(chosen.mint) {
			competing++
		}
	}
	if competing > 0 {
		confidence -= inf.penalties.CompetingDeltas
	}

	if !plausibleFeeRatio(chosen.nativeDelta) {
		confidence -= inf.penalties.InconsistentRatio
	}

	if !inf.seenMints[chosen.mint] {
		confidence -= inf.penalties.UnseenBaseMint
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// plausibleFeeRatio rejects native deltas so small relative to the dust
// threshold that they look like fee-only noise rather than a swap's quote
// leg.
func plausibleFeeRatio(nativeDelta float64) bool {
	mag := absf(nativeDelta)
	return mag >= dustThresholdSOL*(1+typicalFeeToSwapRatioMax)
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
