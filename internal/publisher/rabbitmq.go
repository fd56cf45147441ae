// Package publisher emits post-commit archive notifications. Delivery is
// best effort: the archive in Postgres is the source of truth and a lost
// event is recovered by querying it, so publish failures are logged and
// swallowed by the engine rather than retried.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"reddit_archiver/internal/domain"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

const (
	EventPageCommitted = "page_committed"
	EventRunFinished   = "run_finished"
)

type PageMessage struct {
	Event       string    `json:"event"`
	FeedKey     string    `json:"feed_key"`
	RunID       string    `json:"run_id"`
	Cycle       int64     `json:"cycle"`
	Position    int64     `json:"position"`
	Inserted    int       `json:"inserted"`
	Updated     int       `json:"updated"`
	Unchanged   int       `json:"unchanged"`
	Skipped     int       `json:"skipped"`
	CommittedAt time.Time `json:"committed_at"`
	Timestamp   time.Time `json:"timestamp"`
}

type RunMessage struct {
	Event      string    `json:"event"`
	FeedKey    string    `json:"feed_key"`
	RunID      string    `json:"run_id"`
	FinalState string    `json:"final_state"`
	Failure    string    `json:"failure,omitempty"`
	Pages      int       `json:"pages"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishPage announces one durably committed page.
func (r *RabbitMQ) PublishPage(ctx context.Context, event *domain.PageEvent) error {
	msg := PageMessage{
		Event:       EventPageCommitted,
		FeedKey:     event.FeedKey,
		RunID:       event.RunID,
		Cycle:       event.Cycle,
		Position:    event.Position,
		Inserted:    event.Result.Inserted,
		Updated:     event.Result.Updated,
		Unchanged:   event.Result.Unchanged,
		Skipped:     event.Result.Skipped,
		CommittedAt: event.CommittedAt,
		Timestamp:   time.Now().UTC(),
	}

	if err := r.publish(ctx, msg); err != nil {
		return err
	}

	r.logger.Debug("published page event",
		"feed", event.FeedKey,
		"position", event.Position,
	)
	return nil
}

// PublishRun announces a finished run with its terminal state.
func (r *RabbitMQ) PublishRun(ctx context.Context, report *domain.RunReport) error {
	msg := RunMessage{
		Event:      EventRunFinished,
		FeedKey:    report.FeedKey,
		RunID:      report.RunID,
		FinalState: string(report.FinalState),
		Failure:    string(report.FailureKind),
		Pages:      report.Stats.Pages,
		Inserted:   report.Stats.Inserted,
		Updated:    report.Stats.Updated,
		Unchanged:  report.Stats.Unchanged,
		Skipped:    report.Stats.Skipped,
		DurationMS: report.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}

	if err := r.publish(ctx, msg); err != nil {
		return err
	}

	r.logger.Debug("published run event",
		"feed", report.FeedKey,
		"state", report.FinalState,
	)
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
