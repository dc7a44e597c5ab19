package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/ingest"
)

const (
	qosAtLeastOnce    = byte(1)
	subscribeTimeout  = 5 * time.Second
	disconnectQuiesce = 250
)

// Ingester accepts one push message.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.PushRequest) (ingest.Result, error)
}

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

// Subscriber feeds broker messages into push ingestion.
type Subscriber struct {
	opts     Options
	ingester Ingester
	logger   *zap.Logger
}

// NewSubscriber returns subscriber.
func NewSubscriber(opts Options, ingester Ingester, logger *zap.Logger) (*Subscriber, error) {
	if strings.TrimSpace(opts.Broker) == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if strings.TrimSpace(opts.Topic) == "" {
		return nil, errors.New("mqtt: topic is required")
	}
	return &Subscriber{opts: opts, ingester: ingester, logger: logger}, nil
}

// Run connects, subscribes and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	clientOpts := paho.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetUsername(s.opts.Username).
		SetPassword(s.opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second)

	// Subscriptions do not survive a clean-session reconnect.
	clientOpts.SetOnConnectHandler(func(c paho.Client) {
		s.logger.Info("mqtt connected", zap.String("broker", s.opts.Broker))
		token := c.Subscribe(s.opts.Topic, qosAtLeastOnce, func(_ paho.Client, msg paho.Message) {
			s.Handle(ctx, msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(subscribeTimeout) {
			s.logger.Error("mqtt subscribe timeout", zap.String("topic", s.opts.Topic))
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt subscribe failed", zap.String("topic", s.opts.Topic), zap.Error(err))
			return
		}
		s.logger.Info("subscribed to mqtt topic", zap.String("topic", s.opts.Topic))
	})
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	for !token.WaitTimeout(200 * time.Millisecond) {
		if ctx.Err() != nil {
			client.Disconnect(0)
			return ctx.Err()
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	<-ctx.Done()
	client.Disconnect(disconnectQuiesce)
	return ctx.Err()
}

// Handle ingests one broker message. Failures are logged; the broker is not
// asked to redeliver.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) {
	req, err := ingest.ParseEnvelope(payload)
	if err != nil {
		s.logger.Warn("mqtt message rejected", zap.String("topic", topic), zap.Error(err))
		return
	}
	result, err := s.ingester.Ingest(ctx, req)
	if err != nil {
		s.logger.Warn("mqtt message not stored",
			zap.String("topic", topic),
			zap.String("device_id", req.Device),
			zap.Bool("client_error", ingest.IsClientError(err)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("mqtt message ingested",
		zap.String("device_id", req.Device),
		zap.Bool("duplicate", result.Duplicate),
	)
}
