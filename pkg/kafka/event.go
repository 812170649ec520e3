package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/circuit_breaker"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationUpdated   EventType = "reservation.updated"
	EventReservationApproved  EventType = "reservation.approved"
	EventReservationClosed    EventType = "reservation.closed"
	EventReservationCancelled EventType = "reservation.cancelled"
)

type EventResource struct {
	ResourceID int64 `json:"resource_id"`
	Quantity   int   `json:"quantity"`
}

// EventReservation is the lifecycle event published after a transaction commits.
type EventReservation struct {
	EventID       uuid.UUID       `json:"event_id"`
	Type          EventType       `json:"type"`
	ReservationID int64           `json:"reservation_id"`
	ClientID      int64           `json:"client_id"`
	SpaceID       int64           `json:"space_id"`
	Status        string          `json:"status"`
	Resources     []EventResource `json:"resources"`
	Timestamp     time.Time       `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event EventReservation) error
}

type producerPublisher struct {
	producer sarama.SyncProducer
	cb       circuit_breaker.CircuitBreaker
	topic    string
	log      *zap.Logger
}

func NewPublisher(producer sarama.SyncProducer, cb circuit_breaker.CircuitBreaker, topic string, log *zap.Logger) Publisher {
	if topic == "" {
		topic = ReservationTopic
	}
	return &producerPublisher{
		producer: producer,
		cb:       cb,
		topic:    topic,
		log:      log.Named("publisher"),
	}
}

func (p *producerPublisher) Publish(ctx context.Context, event EventReservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(strconv.FormatInt(event.ReservationID, 10)),
		Value:     sarama.ByteEncoder(data),
		Timestamp: event.Timestamp,
	}
	return p.cb.Call(func() error {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return errors.Wrap(err, "send message")
		}
		p.log.Debug("event published",
			zap.String("type", string(event.Type)),
			zap.Int64("reservation_id", event.ReservationID),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset))
		return nil
	})
}

type nopPublisher struct{}

// NewNopPublisher is used when no brokers are configured.
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, EventReservation) error {
	return nil
}
