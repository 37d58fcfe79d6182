// Package ingest implements the durable stream, the dedup filter,
// and the adapter for the external upstream transaction source.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamKey and GroupName are fixed by the external interface contract
// every consumer process shares.
const (
	StreamKey = "stream:tx"
	GroupName = "parsers"
	fieldData = "data" // the single binary field holding the msgpack payload
)

// Record is one entry read from the durable stream: its opaque id plus the
// raw wire-encoded payload.
type Record struct {
	ID      string
	Payload []byte
}

// Stream is the durable stream contract backed by Redis Streams: append =
// XADD, read_group = XREADGROUP, ack = XACK, claim_idle = XAUTOCLAIM, length =
// XLEN, trim_to_maxlen = XTRIM MAXLEN. This is a direct mechanical fit — the
// contract IS the Redis Streams consumer-group API.
type Stream struct {
	rdb *redis.Client
}

// NewStream opens a connection to the Redis-backed durable stream.
func NewStream(ctx context.Context, url string) (*Stream, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	// Ensure the consumer group exists; MKSTREAM creates stream:tx if absent.
	err = rdb.XGroupCreateMkStream(ctx, StreamKey, GroupName, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		rdb.Close()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Stream{rdb: rdb}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Close releases the underlying Redis connection. Idempotent — safe to call
// more than once during shutdown.
func (s *Stream) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Append records a new transaction frame and returns its stream id.
func (s *Stream) Append(ctx context.Context, payload []byte) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]interface{}{fieldData: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// ReadGroup reads up to count new (never yet delivered) records for consumer
// under group, blocking up to blockMs for new data.
func (s *Stream) ReadGroup(ctx context.Context, consumer string, count int64, blockMs time.Duration) ([]Record, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupName,
		Consumer: consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    count,
		Block:    blockMs,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return messagesToRecords(res)
}

// Ack acknowledges successfully processed records. Silent ack of
// claimed-but-unprocessed records is never performed by callers of this
// method — it is only invoked after the pipeline has finished with a batch.
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.rdb.XAck(ctx, StreamKey, GroupName, ids...).Err()
}

// ClaimIdle transfers ownership of records idle longer than minIdle to
// consumer, starting the scan at startID ("0" for the full pending set).
// Every consumer issues exactly one ClaimIdle sweep before entering its main
// loop, and claimed records run through the full pipeline before being
// acked.
func (s *Stream) ClaimIdle(ctx context.Context, consumer string, minIdle time.Duration, startID string, count int64) ([]Record, error) {
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    GroupName,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    startID,
		Count:    count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	return messagesToRecordSlice(msgs)
}

// Length returns the current number of entries in the stream, one of the
// two inputs the backpressure controller samples every second.
func (s *Stream) Length(ctx context.Context) (int64, error) {
	return s.rdb.XLen(ctx, StreamKey).Result()
}

// OldestPendingIdle reports how long the oldest still-unacknowledged entry
// across the whole consumer group has been sitting idle. It is the other
// input the backpressure controller samples every second; combined with
// time.Now() it stands in for the entry's effective ingest lag without
// decoding its payload.
func (s *Stream) OldestPendingIdle(ctx context.Context) (time.Duration, bool, error) {
	entries, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamKey,
		Group:  GroupName,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("xpending: %w", err)
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	return entries[0].Idle, true, nil
}

// TrimToMaxLen caps the stream at approximately n entries.
func (s *Stream) TrimToMaxLen(ctx context.Context, n int64) error {
	return s.rdb.XTrimMaxLenApprox(ctx, StreamKey, n, 100).Err()
}

func messagesToRecords(streams []redis.XStream) ([]Record, error) {
	var out []Record
	for _, st := range streams {
		recs, err := messagesToRecordSlice(st.Messages)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func messagesToRecordSlice(msgs []redis.XMessage) ([]Record, error) {
	out := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values[fieldData]
		if !ok {
			continue
		}
		var payload []byte
		switch v := raw.(type) {
		case string:
			payload = []byte(v)
		case []byte:
			payload = v
		default:
			return nil, fmt.Errorf("unexpected payload type %T for record %s", raw, m.ID)
		}
		out = append(out, Record{ID: m.ID, Payload: payload})
	}
	return out, nil
}
