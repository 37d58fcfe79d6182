package trigger

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rawblock/swap-sentinel/pkg/models"
)

func writeRules(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "rules.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestRejectsUnknownFieldAtLoad(t *testing.T) {
	path := writeRules(t, t.TempDir(), `[{"name":"bad","enabled":true,"conditions":[{"field":"foo_count_5m","op":">=","value":1}]}]`)
	if _, err := NewEvaluator(path); err == nil {
		t.Fatal("expected load error for unknown field")
	}
}

func TestReloadRejectsInvalidAndKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, `[{"name":"good","enabled":true,"conditions":[{"field":"buy_count_5m","op":">=","value":10}]}]`)
	ev, err := NewEvaluator(path)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	snap := models.MintSnapshot{Window5m: models.WindowAggregate{Window: "5m", BuyCount: 10}}
	if fired := ev.Fired(snap); len(fired) != 1 {
		t.Fatalf("expected rule to fire before reload, got %v", fired)
	}

	writeRules(t, dir, `[{"name":"bad","enabled":true,"conditions":[{"field":"unknown_field","op":">=","value":1}]}]`)
	if err := ev.Reload(); err == nil {
		t.Fatal("expected reload to reject invalid rules")
	}

	if fired := ev.Fired(snap); len(fired) != 1 {
		t.Fatalf("expected original rule to still fire after rejected reload, got %v", fired)
	}
}

func TestExtremeRatioTriggerScenario(t *testing.T) {
	path := writeRules(t, t.TempDir(), `[{"name":"extreme_ratio","enabled":true,"conditions":[
		{"field":"buy_count_5m","op":">=","value":10},
		{"field":"unique_buyers_5m","op":">=","value":3},
		{"field":"sell_count_5m","op":"==","value":0}
	]}]`)
	ev, err := NewEvaluator(path)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	snap := models.MintSnapshot{Window5m: models.WindowAggregate{
		Window: "5m", BuyCount: 10, SellCount: 0, UniqueBuyers: 4,
	}}
	if fired := ev.Fired(snap); len(fired) != 1 || fired[0] != "extreme_ratio" {
		t.Fatalf("expected extreme_ratio to fire, got %v", fired)
	}
}

func TestInfiniteRatioComparesGreaterThanFiniteLiteral(t *testing.T) {
	path := writeRules(t, t.TempDir(), `[{"name":"ratio_rule","enabled":true,"conditions":[{"field":"buy_sell_ratio_5m","op":">=","value":10}]}]`)
	ev, err := NewEvaluator(path)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	agg := models.WindowAggregate{Window: "5m", BuyCount: 5, SellCount: 0}
	if got := agg.BuySellRatio(); !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf ratio, got %v", got)
	}
	snap := models.MintSnapshot{Window5m: agg}
	if fired := ev.Fired(snap); len(fired) != 1 {
		t.Fatalf("expected rule to fire against +Inf ratio, got %v", fired)
	}
}

func TestDisabledRuleNeverFires(t *testing.T) {
	path := writeRules(t, t.TempDir(), `[{"name":"off","enabled":false,"conditions":[{"field":"buy_count_5m","op":">=","value":0}]}]`)
	ev, err := NewEvaluator(path)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	snap := models.MintSnapshot{Window5m: models.WindowAggregate{Window: "5m", BuyCount: 100}}
	if fired := ev.Fired(snap); len(fired) != 0 {
		t.Fatalf("expected no fires for disabled rule, got %v", fired)
	}
}
