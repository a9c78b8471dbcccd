package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"journal-companion/internal/domain"
	"journal-companion/internal/infra/metrics"
)

// RabbitEngagementQueue реализует очередь задач поверх AMQP.
type RabbitEngagementQueue struct {
	conn  *amqp.Connection
	queue string

	pubMu sync.Mutex
	pubCh *amqp.Channel

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

// NewRabbitEngagementQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitEngagementQueue(amqpURL, queueName string) (*RabbitEngagementQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queueName == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitEngagementQueue{conn: conn, queue: queueName, pubCh: ch}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitEngagementQueue) Enqueue(ctx context.Context, job domain.EngagementJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	start := time.Now()
	err = q.pubCh.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
		Timestamp:    time.Now().UTC(),
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Подтверждение обязательно:
// ack(false) возвращает задачу брокеру для повторной доставки.
func (q *RabbitEngagementQueue) Receive(ctx context.Context) (domain.EngagementJob, domain.EngagementAckFunc, error) {
	q.consumeOnce.Do(func() {
		ch, err := q.conn.Channel()
		if err != nil {
			q.consumeErr = fmt.Errorf("open consume channel: %w", err)
			return
		}
		if err := ch.Qos(1, 0, false); err != nil {
			q.consumeErr = fmt.Errorf("set qos: %w", err)
			return
		}
		deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			q.consumeErr = fmt.Errorf("start consume: %w", err)
			return
		}
		q.deliveries = deliveries
	})
	if q.consumeErr != nil {
		return domain.EngagementJob{}, nil, q.consumeErr
	}

	select {
	case <-ctx.Done():
		return domain.EngagementJob{}, nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return domain.EngagementJob{}, nil, errors.New("rabbitmq: delivery channel closed")
		}
		var job domain.EngagementJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			// Нечитаемое сообщение навсегда останется нечитаемым, повтор бессмысленен.
			_ = d.Nack(false, false)
			return domain.EngagementJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close закрывает подключение к брокеру.
func (q *RabbitEngagementQueue) Close() error {
	return q.conn.Close()
}
