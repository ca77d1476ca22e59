package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the redis stream key run events are mirrored onto when
// no key is configured.
const DefaultStream = "scour:events"

// DefaultMaxLen caps the event stream at roughly this many entries. Old
// entries are trimmed approximately so XADD stays O(1).
const DefaultMaxLen = 10000

// envelopeField is the single XADD field each entry carries: the
// marshalled envelope.
const envelopeField = "envelope"

// Publisher appends validated envelopes to the run event stream. Every
// envelope is checked against its registered schema before XADD, so a
// consumer never sees a payload the registry would reject.
type Publisher struct {
	client   *redis.Client
	registry *SchemaRegistry
}

// NewPublisher wires a publisher to the given client and registry. A nil
// registry skips payload validation; the bridge always passes one.
func NewPublisher(client *redis.Client, registry *SchemaRegistry) *Publisher {
	return &Publisher{client: client, registry: registry}
}

// PublishOption adjusts the XADD arguments for a single publish.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox trims the stream to approximately maxLen entries on
// each append. Zero or negative leaves the stream uncapped.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// Publish stamps, validates and appends one envelope. An empty stream
// falls back to DefaultStream. The returned ID is the stream entry ID
// assigned by XADD.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope Envelope, opts ...PublishOption) (string, error) {
	if stream == "" {
		stream = DefaultStream
	}
	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = time.Now().UTC()
	}
	if err := envelope.ValidateBasic(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(envelope.EventType, envelope.PayloadVersion, envelope.Data); err != nil {
			return "", err
		}
	}

	raw, err := envelope.Marshal()
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{envelopeField: raw},
	}
	for _, opt := range opts {
		opt(args)
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}
