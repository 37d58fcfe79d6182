package models

// Op is a predicate comparison operator.
type Op string

const (
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpEQ  Op = "=="
)

// Predicate is one condition of a TriggerRule: field OP literal.
type Predicate struct {
	Field   string  `json:"field"`
	Op      Op      `json:"op"`
	Literal float64 `json:"value"`
}

// TriggerRule fires iff every condition is true against a mint's aggregate
// snapshot.
type TriggerRule struct {
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Conditions []Predicate `json:"conditions"`
}

// KnownAggregateFields is the fixed set of fields a Predicate.Field may
// reference. The trigger evaluator rejects any rule naming a field outside
// this set at load/reload time.
var KnownAggregateFields = map[string]bool{
	"buy_count_5m": true, "sell_count_5m": true,
	"unique_buyers_5m": true, "unique_sellers_5m": true,
	"buy_volume_sol_5m": true, "sell_volume_sol_5m": true,
	"avg_buy_size_5m": true, "buy_sell_ratio_5m": true,
	"top_3_buyers_volume_share_5m": true, "new_wallet_pct_5m": true,

	"buy_count_1h": true, "sell_count_1h": true,
	"unique_buyers_1h": true, "unique_sellers_1h": true,
	"buy_volume_sol_1h": true, "sell_volume_sol_1h": true,
	"avg_buy_size_1h": true, "buy_sell_ratio_1h": true,
	"top_3_buyers_volume_share_1h": true, "new_wallet_pct_1h": true,
}
