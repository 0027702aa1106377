package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"eco-referral/internal/logger"
)

// JetStreamConfig holds the configuration for the NATS JetStream sink
type JetStreamConfig struct {
	URL            string
	SubjectPrefix  string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// Publisher is the subset of jetstream.JetStream used by the sink
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamSink publishes events to subjects of the form {prefix}.{event_type}.
// The event ID is sent as the message ID so the stream drops duplicates.
type JetStreamSink struct {
	nc     *nats.Conn
	js     Publisher
	prefix string
}

// NewJetStreamSink connects to NATS and creates a JetStream context
func NewJetStreamSink(cfg JetStreamConfig) (*JetStreamSink, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	sink := NewJetStreamSinkWithPublisher(js, cfg.SubjectPrefix)
	sink.nc = nc
	return sink, nil
}

// NewJetStreamSinkWithPublisher builds a sink over an existing publisher
func NewJetStreamSinkWithPublisher(js Publisher, prefix string) *JetStreamSink {
	if prefix == "" {
		prefix = "rewards"
	}
	return &JetStreamSink{js: js, prefix: prefix}
}

func (s *JetStreamSink) Name() string {
	return "jetstream"
}

// Send publishes the event and waits for the stream acknowledgement
func (s *JetStreamSink) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.js.Publish(ctx, s.Subject(event), data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subject returns the NATS subject for event, e.g. rewards.reward.issued
func (s *JetStreamSink) Subject(event Event) string {
	return s.prefix + "." + strings.ToLower(string(event.Type))
}

// Close closes the NATS connection
func (s *JetStreamSink) Close() {
	if s.nc == nil {
		return
	}
	s.nc.Close()
}
