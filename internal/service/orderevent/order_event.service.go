package orderevent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/constant"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/pubsub"
	"github.com/krobus00/market-stream/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const defaultHandlerTimeout = 5 * time.Second

var ErrInvalidEventKind = errors.New("invalid order event kind")

// Service feeds order lifecycle events into the admin fan-out topic, either
// straight from the order store or through the order_event JetStream stream.
type Service struct {
	js             nats.JetStreamContext
	hub            *pubsub.Topic[entity.OrderEvent]
	clock          clockwork.Clock
	handlerTimeout time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewService accepts a nil js, in which case events are only dispatched locally.
func NewService(js nats.JetStreamContext, hub *pubsub.Topic[entity.OrderEvent], clock clockwork.Clock, handlerTimeout time.Duration) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}

	return &Service{
		js:             js,
		hub:            hub,
		clock:          clock,
		handlerTimeout: handlerTimeout,
	}
}

func (s *Service) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.OrderEventStreamName,
		Subjects:  []string{constant.OrderEventStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	}

	stream, err := s.js.StreamInfo(constant.OrderEventStreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.OrderEventStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.OrderEventStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	logrus.Infof("stream %s is ready", constant.OrderEventStreamName)

	return nil
}

// JetstreamEventSubscribe attaches an ephemeral consumer so every gateway
// instance sees every order event.
func (s *Service) JetstreamEventSubscribe(ctx context.Context) error {
	err := s.JetstreamEventInit(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	sub, err := s.js.Subscribe(
		constant.OrderEventStreamSubjectLifecycle,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(s.handlerTimeout, msg, s.handleOrderEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.DeliverNew(),
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return nil
}

func (s *Service) handleOrderEvent(_ context.Context, msg *nats.Msg) error {
	logger := logrus.WithFields(logrus.Fields{
		"req": string(msg.Data),
	})

	var event entity.OrderEvent
	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		// undecodable payloads are acked and dropped
		logger.Error(err)
		return nil
	}

	if !event.Kind.Valid() {
		logger.WithField("event_type", event.Kind).Warn("dropping order event with unknown kind")
		return nil
	}

	s.Dispatch(event)
	return nil
}

// Dispatch pushes the event to every admin subscriber and returns how many
// received it.
func (s *Service) Dispatch(event entity.OrderEvent) int {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}

	receivers := s.hub.Publish(event)

	logrus.WithFields(logrus.Fields{
		"event_type": event.Kind,
		"order_id":   event.Order.ID,
		"user_id":    event.UserID,
		"receivers":  receivers,
	}).Info("dispatched order event")

	return receivers
}

func (s *Service) PublishEvent(ctx context.Context, event entity.OrderEvent) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventKind, event.Kind)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}

	if s.js == nil {
		s.Dispatch(event)
		return nil
	}

	return util.PublishEvent(ctx, s.js, constant.OrderEventStreamSubjectLifecycle, event)
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			logrus.WithError(err).Warn("failed to unsubscribe order events")
		}
	}
	s.subs = nil
}
