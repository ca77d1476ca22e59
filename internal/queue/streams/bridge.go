package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scourhq/scour/internal/telemetry"
)

// Bridge mirrors one process's research telemetry onto a capped redis
// stream so out-of-process hosts can follow runs without polling the HTTP
// API. Every envelope is schema-validated before it is appended.
type Bridge struct {
	pub     *Publisher
	stream  string
	maxLen  int64
	metrics *StreamMetrics
	logger  *log.Logger
}

// BridgeOptions tunes a Bridge. Zero values take the documented defaults.
type BridgeOptions struct {
	// Stream is the redis stream key (default DefaultStream).
	Stream string
	// MaxLen caps the stream approximately (default DefaultMaxLen).
	MaxLen  int64
	Metrics *StreamMetrics
	Logger  *log.Logger
}

// NewBridge builds a bridge publishing through the given client.
func NewBridge(client *redis.Client, opts BridgeOptions) (*Bridge, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[STREAMS] ", log.LstdFlags)
	}
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return &Bridge{
		pub:     NewPublisher(client, reg),
		stream:  opts.Stream,
		maxLen:  opts.MaxLen,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}, nil
}

// Stream returns the stream key envelopes are appended to.
func (b *Bridge) Stream() string { return b.stream }

// StartPayload announces a run before execution begins.
type StartPayload struct {
	Session            string    `json:"session"`
	ObjectiveID        string    `json:"objective_id"`
	Query              string    `json:"query"`
	Mode               string    `json:"mode"`
	KnownDomains       []string  `json:"known_domains,omitempty"`
	RequiredConfidence float64   `json:"required_confidence,omitempty"`
	StartedAt          time.Time `json:"started_at"`
}

// RunSummary is the terminal record published when a run finishes.
type RunSummary struct {
	Session       string  `json:"session"`
	PlanID        string  `json:"plan_id,omitempty"`
	ObjectiveID   string  `json:"objective_id,omitempty"`
	Reason        string  `json:"reason"`
	Detail        string  `json:"detail,omitempty"`
	Confidence    float64 `json:"confidence"`
	PagesVisited  int     `json:"pages_visited"`
	ClaimsFound   int     `json:"claims_found"`
	Verifications int     `json:"verifications"`
	ElapsedMS     int64   `json:"elapsed_ms"`
}

// Announce publishes run.started for a session about to execute.
func (b *Bridge) Announce(ctx context.Context, p StartPayload) error {
	if p.StartedAt.IsZero() {
		p.StartedAt = time.Now().UTC()
	}
	return b.publish(ctx, "run.started", p.Session, p)
}

// Complete publishes the run.completed summary.
func (b *Bridge) Complete(ctx context.Context, s RunSummary) error {
	return b.publish(ctx, "run.completed", s.Session, s)
}

// Mirror forwards every telemetry event appended after the call onto the
// stream. It blocks until ctx is cancelled or the control engine closes
// its subscribers, so callers run it in its own goroutine alongside the
// run. Publish failures are logged and counted, never fatal: the stream is
// an observer, not a dependency of the run.
func (b *Bridge) Mirror(ctx context.Context, control *telemetry.Engine) {
	events, cancel := control.SubscribeEvents()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := b.publish(ctx, "run.event", ev.Session, ev); err != nil {
				b.logger.Printf("mirror %s: %v", ev.Type, err)
			}
		}
	}
}

func (b *Bridge) publish(ctx context.Context, eventType, session string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		b.metrics.recordPublish(eventType, err)
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventType:      eventType,
		PayloadVersion: "v1",
		Session:        session,
		Data:           data,
	}
	_, err = b.pub.Publish(ctx, b.stream, env, WithMaxLenApprox(b.maxLen))
	b.metrics.recordPublish(eventType, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
