package models

import "math"

// RatioInfinite is the comparable sentinel used for buy_sell_ratio when
// sell_count is zero and buy_count is positive. It
// compares greater than every finite literal because it IS +Inf.
const RatioInfinite = math.Inf(1)

// WindowAggregate is the read-time snapshot of one (mint, window) counter
// set, already summed across non-expired buckets. All reads succeed
// even when every field is zero.
type WindowAggregate struct {
	Mint   string
	Window string // "5m" or "1h"

	BuyCount  int64
	SellCount int64

	UniqueBuyers  int64
	UniqueSellers int64

	BuyVolumeSOL  float64
	SellVolumeSOL float64

	Top3BuyersVolume float64 // sum of the top-3 buyer volumes this window
	NewWalletBuyers  int64   // buyers whose wallet_first_seen falls within this window
}

// AvgBuySize implements avg_buy_size_W = buy_volume_sol_W / max(buy_count_W, 1).
func (a WindowAggregate) AvgBuySize() float64 {
	denom := a.BuyCount
	if denom < 1 {
		denom = 1
	}
	return a.BuyVolumeSOL / float64(denom)
}

// BuySellRatio implements buy_sell_ratio_W with the documented zero-handling:
// 0/0 => 0, positive/0 => +Inf.
func (a WindowAggregate) BuySellRatio() float64 {
	if a.SellCount == 0 {
		if a.BuyCount == 0 {
			return 0
		}
		return RatioInfinite
	}
	return float64(a.BuyCount) / float64(a.SellCount)
}

// Top3BuyersVolumeShare implements top_3_buyers_volume_share_W.
func (a WindowAggregate) Top3BuyersVolumeShare() float64 {
	if a.BuyVolumeSOL <= 0 {
		return 0
	}
	return a.Top3BuyersVolume / a.BuyVolumeSOL
}

// NewWalletPct implements new_wallet_pct_W.
func (a WindowAggregate) NewWalletPct() float64 {
	if a.UniqueBuyers <= 0 {
		return 0
	}
	return float64(a.NewWalletBuyers) / float64(a.UniqueBuyers)
}

// Field returns the value of one of KnownAggregateFields for this window,
// used by the trigger evaluator. ok is false for an unknown field name.
func (a WindowAggregate) Field(name string) (float64, bool) {
	switch name {
	case "buy_count_" + a.Window:
		return float64(a.BuyCount), true
	case "sell_count_" + a.Window:
		return float64(a.SellCount), true
	case "unique_buyers_" + a.Window:
		return float64(a.UniqueBuyers), true
	case "unique_sellers_" + a.Window:
		return float64(a.UniqueSellers), true
	case "buy_volume_sol_" + a.Window:
		return a.BuyVolumeSOL, true
	case "sell_volume_sol_" + a.Window:
		return a.SellVolumeSOL, true
	case "avg_buy_size_" + a.Window:
		return a.AvgBuySize(), true
	case "buy_sell_ratio_" + a.Window:
		return a.BuySellRatio(), true
	case "top_3_buyers_volume_share_" + a.Window:
		return a.Top3BuyersVolumeShare(), true
	case "new_wallet_pct_" + a.Window:
		return a.NewWalletPct(), true
	default:
		return 0, false
	}
}

// MintSnapshot bundles both windows for a mint, the unit the evaluator
// operates on.
type MintSnapshot struct {
	Mint       string
	Window5m   WindowAggregate
	Window1h   WindowAggregate
}

// Field resolves a field name against whichever window it belongs to.
func (s MintSnapshot) Field(name string) (float64, bool) {
	if v, ok := s.Window5m.Field(name); ok {
		return v, true
	}
	return s.Window1h.Field(name)
}
