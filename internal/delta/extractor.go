// Package delta derives per-mint, per-owner balance deltas
// from a raw transaction's pre/post token and lamport snapshots.
package delta

import (
	"github.com/gagliardetto/solana-go"
	"github.com/rawblock/swap-sentinel/pkg/models"
)

// lamportsPerSOL converts raw lamport deltas to SOL units, matching the
// native mint's 9 decimals.
const lamportsPerSOL = 1_000_000_000

// rentExemptMinLamports is the approximate rent-exempt minimum for a small
// system account. Native deltas smaller than this in magnitude, for an
// account that is not the fee payer, are treated as rent-reserve noise
// rather than swap-relevant balance movement.
const rentExemptMinLamports = 890_880

// Extract computes the token and native balance deltas for tx, excluding the
// fee-payer's own fee deduction and small rent-reserve movements.
func Extract(tx models.RawTransaction) models.ExtractedDeltas {
	out := models.ExtractedDeltas{
		TokenDeltas:  make(map[models.OwnerMint]float64),
		NativeDeltas: make(map[solana.PublicKey]float64),
		Signature:    tx.Signature,
		Slot:         tx.Slot,
	}

	pre := indexBalances(tx.PreTokenBalances)
	post := indexBalances(tx.PostTokenBalances)

	seen := make(map[models.OwnerMint]bool, len(pre)+len(post))
	for k := range pre {
		seen[k] = true
	}
	for k := range post {
		seen[k] = true
	}

	for k := range seen {
		preBal := pre[k]
		postBal := post[k]
		decimals := preBal.Decimals
		if postBal.Decimals != 0 {
			decimals = postBal.Decimals
		}
		d := rawDelta(preBal.RawAmount, postBal.RawAmount, decimals)
		if d != 0 {
			out.TokenDeltas[k] = d
		}
	}

	out.NativeDeltas = nativeDeltas(tx)

	// Wrapped SOL is folded into the same owner's native delta, so the quote
	// leg is found whether the swap paid in lamports or in wSOL.
	for k, d := range out.TokenDeltas {
		if k.Mint.Equals(models.NativeMint) {
			out.NativeDeltas[k.Owner] += d
			delete(out.TokenDeltas, k)
		}
	}

	out.VenueHint = inferVenueHint(tx.ProgramIDsTouched)

	return out
}

type ownerMintBalance struct {
	RawAmount uint64
	Decimals  uint8
}

func indexBalances(balances []models.TokenBalance) map[models.OwnerMint]ownerMintBalance {
	idx := make(map[models.OwnerMint]ownerMintBalance, len(balances))
	for _, b := range balances {
		key := models.OwnerMint{Owner: b.Owner, Mint: b.Mint}
		idx[key] = ownerMintBalance{RawAmount: b.RawAmount, Decimals: b.Decimals}
	}
	return idx
}

func rawDelta(preRaw, postRaw uint64, decimals uint8) float64 {
	scale := pow10(decimals)
	return (float64(postRaw) - float64(preRaw)) / scale
}

func pow10(n uint8) float64 {
	f := 1.0
	for i := uint8(0); i < n; i++ {
		f *= 10
	}
	return f
}

// nativeDeltas computes per-account lamport deltas, excluding the fee
// payer's fee deduction and sub-rent-exempt noise for every other account.
func nativeDeltas(tx models.RawTransaction) map[solana.PublicKey]float64 {
	out := make(map[solana.PublicKey]float64)
	n := len(tx.AccountKeys)
	if len(tx.PreLamports) < n {
		n = len(tx.PreLamports)
	}
	if len(tx.PostLamports) < n {
		n = len(tx.PostLamports)
	}

	for i := 0; i < n; i++ {
		key := tx.AccountKeys[i]
		preL := int64(tx.PreLamports[i])
		postL := int64(tx.PostLamports[i])
		delta := postL - preL

		if key.Equals(tx.FeePayer) {
			delta += int64(tx.FeeLamports)
		}
		if delta == 0 {
			continue
		}
		absDelta := delta
		if absDelta < 0 {
			absDelta = -absDelta
		}
		if !key.Equals(tx.FeePayer) && absDelta < rentExemptMinLamports {
			continue
		}
		out[key] = float64(delta) / lamportsPerSOL
	}
	return out
}

// Known AMM / router program ids, used to populate the venue_hint carried
// alongside the extracted deltas. The inferencer takes venue_hint as the
// swap's venue and applies its missing-venue penalty when no id here
// matches ("unknown").
var venueProgramIDs = map[solana.PublicKey]string{
	solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"): "raydium",
	solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"):  "orca",
	solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"):  "meteora",
	solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"):  "pumpfun",
}

func inferVenueHint(programIDs []solana.PublicKey) string {
	for _, id := range programIDs {
		if v, ok := venueProgramIDs[id]; ok {
			return v
		}
	}
	return "unknown"
}
