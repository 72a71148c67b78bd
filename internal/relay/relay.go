package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/events"
)

// Config holds configuration for the JetStream relay
type Config struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectPrefix string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
	PublishWait   time.Duration
}

// DefaultConfig returns default JetStream relay configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "PARTY_EVENTS",
		ConsumerName:  defaultConsumerName(),
		SubjectPrefix: "party.events",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		PublishWait:   5 * time.Second,
	}
}

// defaultConsumerName derives a per-node durable name. A durable shared by
// several nodes acts as a work queue, so each event would reach only one
// node's sessions; every node needs its own consumer to see the full stream.
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "party-gateway-" + uuid.New().String()[:8]
	}
	return "party-gateway-" + strings.ReplaceAll(host, ".", "-")
}

// Broadcaster is the local fanout the relay feeds consumed events into.
type Broadcaster interface {
	Broadcast(roomCode string, event *events.Event)
}

// Relay spans the party service and the local connection manager across a
// message bus: accepted events are published to a per-room subject, and a
// durable consumer on every node re-broadcasts them to its own WebSocket
// sessions. Per-room ordering holds because each room publishes from its own
// serialization point and JetStream preserves per-subject order.
type Relay struct {
	local    Broadcaster
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   Config
}

// NewRelay connects to NATS and ensures the stream and consumer exist.
func NewRelay(local Broadcaster, config Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := &Relay{
		local:  local,
		nc:     nc,
		js:     js,
		config: config,
	}
	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	if err := r.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return r, nil
}

func (r *Relay) ensureStream(ctx context.Context) error {
	_, err := r.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      r.config.StreamName,
		Subjects:  []string{r.config.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

func (r *Relay) ensureConsumer(ctx context.Context) error {
	stream, err := r.js.Stream(ctx, r.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          r.config.ConsumerName,
		Durable:       r.config.ConsumerName,
		Description:   "party gateway WebSocket consumer",
		FilterSubject: r.config.SubjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    r.config.MaxDeliver,
		AckWait:       r.config.AckWait,
		MaxAckPending: r.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, r.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", r.config.ConsumerName).
			Str("stream", r.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", r.config.ConsumerName).
			Str("stream", r.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	r.consumer = consumer
	return nil
}

// Broadcast publishes an accepted event to the room's subject. Implements
// the party service's Broadcaster; the synchronous publish under the room's
// serialization point is what keeps per-subject order equal to acceptance
// order.
func (r *Relay) Broadcast(roomCode string, event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("room_code", roomCode).Msg("failed to marshal event for relay")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.PublishWait)
	defer cancel()

	subject := fmt.Sprintf("%s.%s", r.config.SubjectPrefix, roomCode)
	if _, err := r.js.Publish(ctx, subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("event_type", string(event.Type)).
			Msg("failed to publish event")
	}
}

// Start consumes relayed events and feeds them to the local fanout until
// ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", r.config.ConsumerName).
		Str("stream", r.config.StreamName).
		Msg("starting relay consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := r.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := r.processMessage(msg); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process relayed event")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			} else {
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			}
		}
	}
}

func (r *Relay) processMessage(msg jetstream.Msg) error {
	var event events.Event
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	log.Debug().
		Str("event_id", event.ID).
		Str("room_code", event.RoomCode).
		Str("event_type", string(event.Type)).
		Msg("relaying event to local sessions")

	r.local.Broadcast(event.RoomCode, &event)
	return nil
}

// Stop closes the NATS connection.
func (r *Relay) Stop() error {
	log.Info().Msg("stopping relay")
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}
