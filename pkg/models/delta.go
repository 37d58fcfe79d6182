package models

import "github.com/gagliardetto/solana-go"

// NativeMint is the wrapped SOL mint. The delta extractor folds wrapped SOL
// token deltas into the owner's native (lamport) delta, so no token delta
// under this mint reaches the inferencer.
var NativeMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// OwnerMint is the composite key for a per-(owner, mint) token delta.
type OwnerMint struct {
	Owner solana.PublicKey
	Mint  solana.PublicKey
}

// ExtractedDeltas is the output of the delta extractor: the two balance
// maps plus a venue hint, handed to the swap inferencer.
type ExtractedDeltas struct {
	TokenDeltas  map[OwnerMint]float64
	NativeDeltas map[solana.PublicKey]float64
	VenueHint    string
	Signature    solana.Signature
	Slot         uint64
}
