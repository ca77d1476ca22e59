package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Consumer reads run events off the stream through a consumer group, so
// several followers (tail sessions, dashboards) each get their own
// cursor and pending list. Entries that do not decode to a valid
// envelope are acked and dropped; a poison entry never wedges the group.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	group    string
	name     string
}

// NewConsumer builds a consumer for the given group. An empty name gets a
// generated "<group>-<random>" name so parallel followers in the same
// group never collide.
func NewConsumer(client *redis.Client, registry *SchemaRegistry, group, name string) *Consumer {
	if name == "" {
		name = fmt.Sprintf("%s-%s", group, uuid.NewString()[:8])
	}
	return &Consumer{client: client, registry: registry, group: group, name: name}
}

// Name reports the consumer name redis sees in XINFO CONSUMERS.
func (c *Consumer) Name() string { return c.name }

// ConsumerOption adjusts the XREADGROUP arguments for a single read.
type ConsumerOption func(*redis.XReadGroupArgs)

// WithBlock waits up to d for new entries before returning empty.
func WithBlock(d time.Duration) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps how many entries a single read returns.
func WithCount(n int64) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// EnsureGroup creates the consumer group at the stream tail, creating the
// stream itself if needed. An already-existing group is not an error.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	if stream == "" || group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

// Message is one consumed stream entry. ID is the redis entry ID for a
// later Ack.
type Message struct {
	ID       string
	Envelope Envelope
}

// Read pulls undelivered entries for this consumer. A blocking read that
// times out returns nil, nil.
func (c *Consumer) Read(ctx context.Context, stream string, opts ...ConsumerOption) ([]Message, error) {
	if stream == "" {
		stream = DefaultStream
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
	}
	for _, opt := range opts {
		opt(args)
	}

	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", stream, c.group, err)
	}

	var out []Message
	for _, st := range res {
		for _, msg := range st.Messages {
			if decoded, ok := c.decode(ctx, stream, msg); ok {
				out = append(out, decoded)
			}
		}
	}
	return out, nil
}

// Ack marks the given entries processed for this consumer's group.
func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// decode unwraps one entry into an envelope. Entries missing the envelope
// field, or carrying an envelope the registry rejects, are acked away so
// they are not redelivered forever.
func (c *Consumer) decode(ctx context.Context, stream string, msg redis.XMessage) (Message, bool) {
	raw, ok := msg.Values[envelopeField]
	if !ok {
		c.drop(ctx, stream, msg.ID)
		return Message{}, false
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			c.drop(ctx, stream, msg.ID)
			return Message{}, false
		}
		data = b
	}

	env, err := UnmarshalEnvelope(data)
	if err != nil {
		c.drop(ctx, stream, msg.ID)
		return Message{}, false
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			c.drop(ctx, stream, msg.ID)
			return Message{}, false
		}
	}
	return Message{ID: msg.ID, Envelope: env}, true
}

func (c *Consumer) drop(ctx context.Context, stream, id string) {
	_ = c.client.XAck(ctx, stream, c.group, id).Err()
}
