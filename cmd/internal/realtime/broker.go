package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	v1 "lostfound/shared/contracts/realtime/v1"

	"github.com/redis/go-redis/v9"
)

// ErrBrokerBusy is returned when the outbound broker queue is full.
var ErrBrokerBusy = errors.New("realtime: broker queue full")

// Delivery is an envelope routed to rooms, optionally skipping one session.
type Delivery struct {
	Rooms    []string    `json:"rooms"`
	Except   string      `json:"except,omitempty"`
	Envelope v1.Envelope `json:"envelope"`
}

// Broker moves deliveries to every process that may hold members of the target rooms.
// Publish must not block on the network.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Run consumes remote deliveries until ctx is done.
	Run(ctx context.Context) error
}

// LocalBroker delivers straight into the process-local Hub.
type LocalBroker struct {
	hub *Hub
}

// NewLocalBroker constructs a single-process broker.
func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, d Delivery) error {
	b.hub.Deliver(d.Rooms, d.Envelope, d.Except)
	return nil
}

func (b *LocalBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

const (
	defaultRedisChannel    = "lostfound:realtime:v1"
	defaultRedisQueueDepth = 1024
)

// RedisBroker fans deliveries out across instances via Redis pub/sub.
// Every instance, including the publisher, applies a delivery when it comes back from Redis.
type RedisBroker struct {
	log     *slog.Logger
	client  *redis.Client
	hub     *Hub
	metrics *Metrics
	channel string
	queue   chan Delivery

	ready     chan struct{}
	readyOnce sync.Once
}

// RedisOption configures RedisBroker behavior.
type RedisOption func(*RedisBroker)

// WithRedisChannel overrides the pub/sub channel name.
func WithRedisChannel(name string) RedisOption {
	return func(b *RedisBroker) {
		if name != "" {
			b.channel = name
		}
	}
}

// WithRedisQueueDepth sets the outbound queue size.
func WithRedisQueueDepth(n int) RedisOption {
	return func(b *RedisBroker) {
		if n > 0 {
			b.queue = make(chan Delivery, n)
		}
	}
}

// NewRedisBroker constructs a broker. The caller owns client.
func NewRedisBroker(log *slog.Logger, client *redis.Client, hub *Hub, metrics *Metrics, opts ...RedisOption) (*RedisBroker, error) {
	if client == nil || hub == nil {
		return nil, errors.New("realtime: nil redis client or hub")
	}
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	b := &RedisBroker{
		log:     log,
		client:  client,
		hub:     hub,
		metrics: metrics,
		channel: defaultRedisChannel,
		queue:   make(chan Delivery, defaultRedisQueueDepth),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Publish enqueues d for the publisher loop started by Run.
func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.queue <- d:
		return nil
	default:
		b.metrics.BrokerErrors.WithLabelValues("enqueue").Inc()
		return ErrBrokerBusy
	}
}

// Ready is closed once the subscription is confirmed by Redis.
func (b *RedisBroker) Ready() <-chan struct{} { return b.ready }

// Run subscribes to the channel and drains the outbound queue until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info("realtime.broker.subscribed", "channel", b.channel)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.publishLoop(ctx)
	}()
	defer wg.Wait()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.metrics.BrokerErrors.WithLabelValues("decode").Inc()
				b.log.Warn("realtime.broker.decode.fail", "err", err)
				continue
			}
			b.hub.Deliver(d.Rooms, d.Envelope, d.Except)
		}
	}
}

func (b *RedisBroker) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-b.queue:
			raw, err := json.Marshal(d)
			if err != nil {
				b.metrics.BrokerErrors.WithLabelValues("encode").Inc()
				continue
			}
			if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
				b.metrics.BrokerErrors.WithLabelValues("publish").Inc()
				b.log.Warn("realtime.broker.publish.fail", "type", d.Envelope.Type, "err", err)
			}
		}
	}
}
