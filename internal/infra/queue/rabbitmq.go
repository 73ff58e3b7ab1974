package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/metrics"
)

// RabbitEvents публикует события изменений в topic-обменник RabbitMQ.
// Внешние панели подписываются на него, чтобы обновлять свои проекции,
// не опрашивая БД.
type RabbitEvents struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitEvents подключается к RabbitMQ и объявляет обменник.
func NewRabbitEvents(url, exchange string) (*RabbitEvents, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &RabbitEvents{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish отправляет событие с routing key по виду события.
func (r *RabbitEvents) Publish(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = r.channel.PublishWithContext(ctx, r.exchange, string(event.Kind), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.ID,
		Timestamp:   event.OccurredAt,
		Body:        payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", string(event.Kind), start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (r *RabbitEvents) Close() {
	_ = r.channel.Close()
	_ = r.conn.Close()
}
