// Package wire implements the compact msgpack encoding shared by the durable
// stream and the upstream source adapter: the stream's single binary field
// holds one msgpack-serialized RawTransaction. The payload carries no length
// prefix of its own.
package wire

import (
	"fmt"

	"github.com/rawblock/swap-sentinel/pkg/models"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeTransaction serializes a RawTransaction to its wire form.
func EncodeTransaction(tx models.RawTransaction) ([]byte, error) {
	b, err := msgpack.Marshal(&tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return b, nil
}

// DecodeTransaction parses a wire-form RawTransaction. On a malformed
// payload the orchestrator logs the failure and acks the record rather than
// retrying it; no parse-failure counter is kept.
func DecodeTransaction(b []byte) (models.RawTransaction, error) {
	var tx models.RawTransaction
	if err := msgpack.Unmarshal(b, &tx); err != nil {
		return models.RawTransaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}
