// Package deltalog implements the append-only, short-retention record
// of per-transaction delta summaries used to backfill a newly HOT mint.
package deltalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/klauspost/compress/zstd"
	"github.com/rawblock/swap-sentinel/pkg/models"
	"github.com/vmihailenco/msgpack/v5"
)

// codecMsgpackZstd is the only defined codec byte: msgpack payload,
// zstd-compressed.
const codecMsgpackZstd byte = 1

// Record is one delta-log entry: {signature, mint, delta_summary}, where
// delta_summary is the full ExtractedDeltas so backfill can replay it
// through the inferencer unchanged.
type Record struct {
	Signature solana.Signature
	Mint      solana.PublicKey
	Timestamp time.Time
	Deltas    models.ExtractedDeltas
}

// wireRecord is the on-disk shape: solana.PublicKey/Signature don't round
// trip cleanly as msgpack map keys, so OwnerMint keys are flattened to
// "owner:mint" strings for the wire form only.
type wireRecord struct {
	Signature    string             `msgpack:"sig"`
	Mint         string             `msgpack:"mint"`
	TimestampUnixNano int64         `msgpack:"ts"`
	TokenDeltas  map[string]float64 `msgpack:"tokenDeltas"`
	NativeDeltas map[string]float64 `msgpack:"nativeDeltas"`
	VenueHint    string             `msgpack:"venueHint"`
	Slot         uint64             `msgpack:"slot"`
}

func ownerMintKey(owner, mint solana.PublicKey) string {
	return owner.String() + ":" + mint.String()
}

func toWire(r Record) wireRecord {
	w := wireRecord{
		Signature:         r.Signature.String(),
		Mint:              r.Mint.String(),
		TimestampUnixNano: r.Timestamp.UnixNano(),
		TokenDeltas:       make(map[string]float64, len(r.Deltas.TokenDeltas)),
		NativeDeltas:      make(map[string]float64, len(r.Deltas.NativeDeltas)),
		VenueHint:         r.Deltas.VenueHint,
		Slot:              r.Deltas.Slot,
	}
	for om, v := range r.Deltas.TokenDeltas {
		w.TokenDeltas[ownerMintKey(om.Owner, om.Mint)] = v
	}
	for owner, v := range r.Deltas.NativeDeltas {
		w.NativeDeltas[owner.String()] = v
	}
	return w
}

func fromWire(w wireRecord) (Record, error) {
	sig, err := solana.SignatureFromBase58(w.Signature)
	if err != nil {
		return Record{}, fmt.Errorf("decode signature: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(w.Mint)
	if err != nil {
		return Record{}, fmt.Errorf("decode mint: %w", err)
	}

	deltas := models.ExtractedDeltas{
		TokenDeltas:  make(map[models.OwnerMint]float64, len(w.TokenDeltas)),
		NativeDeltas: make(map[solana.PublicKey]float64, len(w.NativeDeltas)),
		VenueHint:    w.VenueHint,
		Signature:    sig,
		Slot:         w.Slot,
	}
	for key, v := range w.TokenDeltas {
		owner, m, err := splitOwnerMintKey(key)
		if err != nil {
			continue
		}
		deltas.TokenDeltas[models.OwnerMint{Owner: owner, Mint: m}] = v
	}
	for key, v := range w.NativeDeltas {
		owner, err := solana.PublicKeyFromBase58(key)
		if err != nil {
			continue
		}
		deltas.NativeDeltas[owner] = v
	}

	return Record{
		Signature: sig,
		Mint:      mint,
		Timestamp: time.Unix(0, w.TimestampUnixNano).UTC(),
		Deltas:    deltas,
	}, nil
}

func splitOwnerMintKey(key string) (solana.PublicKey, solana.PublicKey, error) {
	idx := bytes.IndexByte([]byte(key), ':')
	if idx < 0 {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("malformed owner:mint key %q", key)
	}
	owner, err := solana.PublicKeyFromBase58(key[:idx])
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	mint, err := solana.PublicKeyFromBase58(key[idx+1:])
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return owner, mint, nil
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
var zstdDecoder, _ = zstd.NewReader(nil)

// encodeFrame builds one {u32 length, u8 codec, payload} frame.
func encodeFrame(r Record) ([]byte, error) {
	packed, err := msgpack.Marshal(toWire(r))
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(packed, nil)

	frame := make([]byte, 4+1+len(compressed))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(compressed)))
	frame[4] = codecMsgpackZstd
	copy(frame[5:], compressed)
	return frame, nil
}

// readFrame reads one frame from r, returning io.EOF when the stream ends
// cleanly on a frame boundary.
func readFrame(r io.Reader) (Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Record{}, fmt.Errorf("zero-length frame")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("read frame body: %w", err)
	}

	codec := body[0]
	if codec != codecMsgpackZstd {
		return Record{}, fmt.Errorf("unsupported delta log codec %d", codec)
	}

	packed, err := zstdDecoder.DecodeAll(body[1:], nil)
	if err != nil {
		return Record{}, fmt.Errorf("zstd decode: %w", err)
	}

	var w wireRecord
	if err := msgpack.Unmarshal(packed, &w); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return fromWire(w)
}
