package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Producer struct {
	ch        *amqp.Channel
	queueName string
	now       func() time.Time
}

func NewProducer(ch *amqp.Channel, queueName string) *Producer {
	return &Producer{
		ch:        ch,
		queueName: queueName,
		now:       time.Now,
	}
}

// typed is implemented by messages that name their own event type.
type typed interface {
	EventType() string
}

func (p *Producer) PublishJSON(
	ctx context.Context,
	msg any,
) error {
	publishing, err := p.publishing(msg)
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		publishing,
	)
}

func (p *Producer) publishing(msg any) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now(),
		Body:         body,
	}
	if t, ok := msg.(typed); ok {
		publishing.Type = t.EventType()
	}

	return publishing, nil
}
