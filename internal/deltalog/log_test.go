package deltalog

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rawblock/swap-sentinel/pkg/models"
	"github.com/sirupsen/logrus"
)

func testRecord(t *testing.T, mint string, ts time.Time) Record {
	t.Helper()
	return Record{
		Signature: solana.Signature{1, 2, 3},
		Mint:      solana.MustPublicKeyFromBase58(mint),
		Timestamp: ts,
		Deltas: models.ExtractedDeltas{
			TokenDeltas:  map[models.OwnerMint]float64{},
			NativeDeltas: map[solana.PublicKey]float64{},
			VenueHint:    "raydium",
		},
	}
}

func TestWriteThenReadSegmentIncludesRecord(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.NewEntry(logrus.New())
	l, err := Open(dir, 64*1024*1024, time.Hour, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	mint := "So11111111111111111111111111111111111111112"
	ts := time.Now().UTC().Add(-time.Minute)
	rec := testRecord(t, mint, ts)

	if err := l.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close waits for the writer goroutine to drain the queue, so the record
	// is on disk before we read the segment back.
	got, err := readSegment(mustOnlySegment(t, dir))
	if err != nil {
		t.Fatalf("readSegment: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Mint.String() != mint {
		t.Fatalf("mint mismatch: got %s want %s", got[0].Mint.String(), mint)
	}
}

func mustOnlySegment(t *testing.T, dir string) string {
	t.Helper()
	entries, err := readDirNames(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one segment file, got %v", entries)
	}
	return entries[0]
}

func readDirNames(dir string) ([]string, error) {
	var out []string
	l := &Log{dir: dir}
	paths, err := l.segmentPaths()
	if err != nil {
		return nil, err
	}
	out = append(out, paths...)
	return out, nil
}

func TestFrameRoundTrip(t *testing.T) {
	rec := testRecord(t, "So11111111111111111111111111111111111111112", time.Now().UTC())
	rec.Deltas.TokenDeltas[models.OwnerMint{
		Owner: solana.PublicKey{9, 9, 9},
		Mint:  solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
	}] = 42.5

	frame, err := encodeFrame(rec)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	got, err := readFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.Signature != rec.Signature {
		t.Fatalf("signature mismatch")
	}
	if len(got.Deltas.TokenDeltas) != 1 {
		t.Fatalf("expected 1 token delta, got %d", len(got.Deltas.TokenDeltas))
	}
}
