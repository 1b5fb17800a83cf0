package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannelPrefix namespaces change channels in redis.
const DefaultChannelPrefix = "salonagenda:changes:"

// RedisFeed publishes change events over redis PUBLISH/SUBSCRIBE so admin
// sessions in other processes see each other's writes.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *zerolog.Logger
}

// NewRedisFeed wraps a redis client. An empty prefix uses DefaultChannelPrefix.
func NewRedisFeed(client *redis.Client, prefix string, logger *zerolog.Logger) *RedisFeed {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RedisFeed{client: client, prefix: prefix, logger: logger}
}

func (f *RedisFeed) channel(table string) string {
	return f.prefix + table
}

// Publish sends ev on the table's channel.
func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(ev.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Table, err)
	}
	return nil
}

// Subscribe listens on the table's channel. It returns once redis has
// confirmed the subscription, so no event published afterwards is missed.
func (f *RedisFeed) Subscribe(ctx context.Context, table string, mask Mask) (Subscription, error) {
	ps := f.client.Subscribe(ctx, f.channel(table))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{
		ps:     ps,
		cancel: cancel,
		ch:     make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(subCtx, mask, f.logger)
	return sub, nil
}

type redisSub struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) Events() <-chan Event { return s.ch }

func (s *redisSub) pump(ctx context.Context, mask Mask, logger *zerolog.Logger) {
	defer close(s.done)
	defer close(s.ch)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed change event")
				continue
			}
			if !mask.Has(ev.Op) {
				continue
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done
	})
	return err
}
