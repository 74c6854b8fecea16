package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

// ReceiptPublisher appends committed ledger receipts to a stream so that
// read-model consumers can follow the ledger without polling it.
type ReceiptPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewReceiptPublisher trims the stream to roughly maxLen entries; zero keeps
// everything.
func NewReceiptPublisher(client *redis.Client, stream string, maxLen int64) *ReceiptPublisher {
	return &ReceiptPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *ReceiptPublisher) Publish(ctx context.Context, r ledger.Receipt) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding receipt: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"receipt_id": strconv.FormatInt(r.ID, 10),
			"kind":       r.Kind,
			"receipt":    string(raw),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd receipt (stream=%s): %w", p.stream, err)
	}
	return nil
}

// ParseReceipt decodes a stream entry written by Publish.
func ParseReceipt(msg redis.XMessage) (ledger.Receipt, error) {
	raw, err := parseString(msg.Values, "receipt")
	if err != nil {
		return ledger.Receipt{}, err
	}
	var r ledger.Receipt
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ledger.Receipt{}, fmt.Errorf("decoding receipt %s: %w", msg.ID, err)
	}
	return r, nil
}

var _ ledger.ReceiptSink = (*ReceiptPublisher)(nil)
