package counters

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestBucketIndexIsStableWithinWidth(t *testing.T) {
	// Two timestamps inside the same 10s window must resolve to the same
	// bucket index so a burst of trades within a bucket accumulates
	// correctly rather than scattering across keys.
	t1 := mustParse(t, "2026-01-01T00:00:00Z")
	t2 := mustParse(t, "2026-01-01T00:00:09Z")
	if got1, got2 := bucketIndex(t1, windows[0].bucketWidth), bucketIndex(t2, windows[0].bucketWidth); got1 != got2 {
		t.Fatalf("expected same bucket, got %d and %d", got1, got2)
	}
}

func TestBucketIndexAdvancesAcrossWidth(t *testing.T) {
	t1 := mustParse(t, "2026-01-01T00:00:00Z")
	t2 := mustParse(t, "2026-01-01T00:00:10Z")
	if got1, got2 := bucketIndex(t1, windows[0].bucketWidth), bucketIndex(t2, windows[0].bucketWidth); got1 == got2 {
		t.Fatalf("expected different buckets, got %d for both", got1)
	}
}

func TestKeySchemaMatchesContract(t *testing.T) {
	if got, want := cntKey("MINT", "5m", 42, "buy_count"), "cnt:MINT:5m:42:buy_count"; got != want {
		t.Fatalf("cntKey = %q, want %q", got, want)
	}
	if got, want := hllKey("MINT", "5m", 42, "buyers"), "hll:MINT:5m:42:buyers"; got != want {
		t.Fatalf("hllKey = %q, want %q", got, want)
	}
	if got, want := topKey("MINT", "1h"), "top:MINT:1h"; got != want {
		t.Fatalf("topKey = %q, want %q", got, want)
	}
	if got, want := walletFirstSeenKey("WALLET"), "wallet:first_seen:WALLET"; got != want {
		t.Fatalf("walletFirstSeenKey = %q, want %q", got, want)
	}
}
