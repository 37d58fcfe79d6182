// Package models holds the shared data types that flow through the
// ingest -> infer -> count -> trigger pipeline.
package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// TokenBalance is one entry of a transaction's pre/post token balance list.
type TokenBalance struct {
	Owner    solana.PublicKey `msgpack:"owner"`
	Mint     solana.PublicKey `msgpack:"mint"`
	RawAmount uint64          `msgpack:"rawAmount"`
	Decimals  uint8           `msgpack:"decimals"`
}

// RawTransaction is the immutable record emitted by the durable stream
// and consumed by the delta extractor. It is never mutated after
// construction.
type RawTransaction struct {
	Signature         solana.Signature   `msgpack:"signature"`
	Slot              uint64             `msgpack:"slot"`
	IngestTime        time.Time          `msgpack:"ingestTime"`
	AccountKeys       []solana.PublicKey `msgpack:"accountKeys"`
	PreTokenBalances  []TokenBalance     `msgpack:"preTokenBalances"`
	PostTokenBalances []TokenBalance     `msgpack:"postTokenBalances"`
	PreLamports       []uint64           `msgpack:"preLamports"`
	PostLamports      []uint64           `msgpack:"postLamports"`
	ProgramIDsTouched []solana.PublicKey `msgpack:"programIdsTouched"`
	// BlockTime is optional: some upstream variants omit it. IngestTime is
	// used for lag/window bucketing whenever BlockTime is the zero value.
	BlockTime time.Time `msgpack:"blockTime,omitempty"`

	// FeePayer is AccountKeys[0] by Solana convention; kept as a named field
	// so the fee-attribution step in the delta extractor doesn't re-derive it.
	FeePayer     solana.PublicKey `msgpack:"feePayer"`
	FeeLamports  uint64           `msgpack:"feeLamports"`
	StreamID     string           `msgpack:"-"` // set by the durable stream reader, never serialized
}

// EffectiveBlockTime returns BlockTime if set, otherwise IngestTime.
func (r RawTransaction) EffectiveBlockTime() time.Time {
	if r.BlockTime.IsZero() {
		return r.IngestTime
	}
	return r.BlockTime
}

// SignatureKey returns the dedup key for this transaction. Empty or
// all-zero signatures are never used verbatim as a dedup key.
func (r RawTransaction) SignatureKey(streamRecordID string) string {
	var zero solana.Signature
	if r.Signature == zero {
		return "id:" + streamRecordID
	}
	return r.Signature.String()
}
