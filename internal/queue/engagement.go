package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/streadway/amqp"
)

// EngagementTopic is the queue/topic tracking events flow through.
const EngagementTopic = "engagement_events"

// Engagement kinds.
const (
	EngagementOpen  = "open"
	EngagementClick = "click"
)

// EngagementEvent is one open or click signal for a send record, published by
// the tracking endpoints and consumed by the engagement worker.
type EngagementEvent struct {
	RecordID int       `json:"record_id"`
	Kind     string    `json:"kind"`
	At       time.Time `json:"at"`
}

// EngagementApplier is implemented by the service that writes the event to the
// send record and campaign counters.
type EngagementApplier interface {
	Apply(ctx context.Context, ev EngagementEvent) error
}

// AMQPPublisher pushes engagement events onto a durable RabbitMQ queue.
type AMQPPublisher struct {
	Channel *amqp.Channel
}

func NewAMQPPublisher(ch *amqp.Channel) (*AMQPPublisher, error) {
	_, err := ch.QueueDeclare(
		EngagementTopic, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{Channel: ch}, nil
}

func (p *AMQPPublisher) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Channel.Publish(
		"",    // exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Subscribe satisfies the Queue interface; AMQP consumption lives in the
// worker binary, not here.
func (p *AMQPPublisher) Subscribe(topic string, handler func(payload any) error) error {
	return nil
}

var _ Queue = (*AMQPPublisher)(nil)

// StartEngagementSubscriber wires the in-memory queue to the applier. Used
// when the server runs without a broker.
func StartEngagementSubscriber(q Queue, applier EngagementApplier) {
	go func() {
		err := q.Subscribe(EngagementTopic, func(payload any) error {
			ev, ok := payload.(EngagementEvent)
			if !ok {
				log.Println("⚠️ Invalid payload type, expected EngagementEvent")
				return nil // no retry
			}

			if err := applier.Apply(context.Background(), ev); err != nil {
				log.Println("⚠️ Failed to apply engagement event:", err)
				return err // triggers retry in queue
			}
			return nil
		})

		if err != nil {
			log.Println("⚠️ Failed to start subscriber for", EngagementTopic, ":", err)
		}
	}()
}
