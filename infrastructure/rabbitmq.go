package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
)

const publishTimeout = 5 * time.Second

// RabbitMQ is the durable evaluation queue shared by every instance.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	log     logger.Logger
	wg      sync.WaitGroup
}

func NewRabbitMQ(cfg config.RabbitMQConfig, log logger.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	q, err := ch.QueueDeclare(
		cfg.Queue, // queue name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	log = log.WithFields(map[string]interface{}{"component": "rabbitmq", "queue": q.Name})
	log.Info("connected to RabbitMQ and declared queue", nil)

	return &RabbitMQ{conn: conn, channel: ch, queue: q, log: log}, nil
}

// Enqueue publishes one evaluation task as a persistent message.
func (r *RabbitMQ) Enqueue(ctx context.Context, task domain.EvaluationTask) error {
	body, err := encodeTask(task)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return r.channel.PublishWithContext(
		ctx,
		"",           // exchange
		r.queue.Name, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume runs workers goroutines that hand deliveries to handler until ctx
// ends or the channel closes. Messages are acked once handled: a failed
// evaluation leaves its item submitted, which Reevaluate picks up later.
func (r *RabbitMQ) Consume(ctx context.Context, workers int, handler func(context.Context, domain.EvaluationTask) error) error {
	msgs, err := r.channel.Consume(
		r.queue.Name,
		"",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.consume(ctx, msgs, handler)
		}()
	}
	return nil
}

func (r *RabbitMQ) consume(ctx context.Context, msgs <-chan amqp.Delivery, handler func(context.Context, domain.EvaluationTask) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			task, err := decodeTask(d.Body)
			if err != nil {
				r.log.WithError(err).Warn("invalid evaluation task, discarding", nil)
				_ = d.Nack(false, false)
				continue
			}
			if err := handler(context.WithoutCancel(ctx), task); err != nil {
				r.log.WithError(err).Debug("evaluation task failed", map[string]interface{}{
					"sessionId": task.SessionID,
					"itemId":    task.ItemID,
				})
			}
			_ = d.Ack(false)
		}
	}
}

// Close stops the channel and waits for in-flight handlers.
func (r *RabbitMQ) Close() error {
	chErr := r.channel.Close()
	r.wg.Wait()
	if err := r.conn.Close(); err != nil {
		return err
	}
	return chErr
}

func encodeTask(task domain.EvaluationTask) ([]byte, error) {
	return json.Marshal(task)
}

func decodeTask(body []byte) (domain.EvaluationTask, error) {
	var task domain.EvaluationTask
	if err := json.Unmarshal(body, &task); err != nil {
		return task, fmt.Errorf("invalid task format: %w", err)
	}
	if task.SessionID == "" || task.ItemID == "" {
		return task, fmt.Errorf("task is missing session or item id")
	}
	return task, nil
}
