package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Side is the direction of an inferred swap.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SwapEvent is created by the inferencer when confidence meets the
// configured floor. Invariant: confidence < floor => no SwapEvent, only a
// MintTouchEvent.
type SwapEvent struct {
	Signature  solana.Signature `msgpack:"signature"`
	Slot       uint64           `msgpack:"slot"`
	Side       Side             `msgpack:"side"`
	BaseMint   solana.PublicKey `msgpack:"baseMint"`
	QuoteMint  solana.PublicKey `msgpack:"quoteMint"` // always NativeMint
	BaseAmount float64          `msgpack:"baseAmount"`
	QuoteAmount float64         `msgpack:"quoteAmount"`
	Wallet     solana.PublicKey `msgpack:"wallet"`
	Venue      string           `msgpack:"venue"`
	Confidence float64          `msgpack:"confidence"`
	MCapAtSwap float64          `msgpack:"mcapAtSwap,omitempty"`
	ObservedAt time.Time        `msgpack:"observedAt"`
}

// MintTouchEvent is emitted instead of a SwapEvent when confidence falls
// below the floor — a lightweight "something happened to this mint" signal
// that still advances the token state machine COLD -> WARM.
type MintTouchEvent struct {
	Signature  solana.Signature
	Slot       uint64
	Mint       solana.PublicKey
	Wallet     solana.PublicKey
	Confidence float64
	ObservedAt time.Time
}
