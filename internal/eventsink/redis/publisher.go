// Package redis publishes emitted manager events to Redis pub/sub channels,
// one channel per event name.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/internal/eventsink"
	"github.com/conduit-lang/resourcekit/pkg/events"
)

// DefaultPrefix is the channel prefix used when none is configured
const DefaultPrefix = "resourcekit"

// Config holds the Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Options configures a publisher
type Options struct {
	// Prefix is prepended to channel names as "<prefix>:<event>"
	Prefix string
	// Filter selects the messages that are published
	Filter eventsink.Filter
	Logger *zap.Logger
}

// Publisher forwards bus events to Redis
type Publisher struct {
	client  *goredis.Client
	encoder *eventsink.Encoder
	prefix  string
	filter  eventsink.Filter
	logger  *zap.Logger

	mu  sync.Mutex
	bus *events.Bus
	sub events.Subscription
}

// New connects to Redis and creates a publisher
func New(config Config, encoder *eventsink.Encoder, opts Options) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return NewWithClient(client, encoder, opts), nil
}

// NewWithClient creates a publisher using an existing client
func NewWithClient(client *goredis.Client, encoder *eventsink.Encoder, opts Options) *Publisher {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		encoder: encoder,
		prefix:  opts.Prefix,
		filter:  opts.Filter,
		logger:  opts.Logger,
	}
}

// Channel returns the channel events with the given name are published on
func (p *Publisher) Channel(name events.Name) string {
	return p.prefix + ":" + string(name)
}

// Attach subscribes the publisher to every event of bus.
// Attaching again moves the subscription to the new bus.
func (p *Publisher) Attach(bus *events.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bus != nil {
		p.bus.Off(p.sub)
	}
	p.bus = bus
	p.sub = bus.OnAny(func(ctx context.Context, e events.Event) {
		if err := p.Publish(ctx, e); err != nil {
			p.logger.Warn("failed to publish event",
				zap.String("event", string(e.Name)),
				zap.Error(err),
			)
		}
	})
}

// Detach removes the bus subscription
func (p *Publisher) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bus != nil {
		p.bus.Off(p.sub)
		p.bus = nil
	}
}

// Publish sends one event. Events rejected by the filter are skipped.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	msg := p.encoder.Encode(e)
	if !p.filter.Match(msg) {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Name, err)
	}

	if err := p.client.Publish(ctx, p.Channel(e.Name), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Name, err)
	}

	p.logger.Debug("event published",
		zap.String("channel", p.Channel(e.Name)),
		zap.String("type", msg.Type),
	)
	return nil
}

// Close detaches the publisher and closes the Redis client
func (p *Publisher) Close() error {
	p.Detach()
	return p.client.Close()
}
