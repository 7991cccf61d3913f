package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"
	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/metrics"
)

// Result labels for KafkaMessagesTotal
const (
	resultRecorded  = "recorded"
	resultDuplicate = "duplicate"
	resultInvalid   = "invalid"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

// ActionRecorder records one user action
type ActionRecorder interface {
	RecordAction(ctx context.Context, ev domain.ActionEvent) (*domain.RecordResult, error)
}

// ActionMessage is the JSON value of a message on the actions topic.
// Producers key messages by user id so one user's actions stay ordered.
type ActionMessage struct {
	UserID         string     `json:"user_id"`
	DisplayName    string     `json:"display_name,omitempty"`
	Action         string     `json:"action"`
	OccurredAt     *time.Time `json:"occurred_at,omitempty"`
	Points         *int64     `json:"points,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

var errEmptyUser = errors.New("message has no user_id")

// decodeAction converts a message into an event. Messages without an
// idempotency key are keyed by their position in the log so redelivery
// after a rebalance is not counted twice.
func decodeAction(msg *sarama.ConsumerMessage) (domain.ActionEvent, error) {
	var m ActionMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return domain.ActionEvent{}, fmt.Errorf("unmarshaling action: %w", err)
	}
	if m.UserID == "" {
		return domain.ActionEvent{}, errEmptyUser
	}

	ev := domain.ActionEvent{
		UserID:         m.UserID,
		DisplayName:    m.DisplayName,
		Action:         domain.ActionType(m.Action),
		Points:         m.Points,
		IdempotencyKey: m.IdempotencyKey,
	}
	switch {
	case m.OccurredAt != nil:
		ev.OccurredAt = *m.OccurredAt
	case !msg.Timestamp.IsZero():
		ev.OccurredAt = msg.Timestamp
	}
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = fmt.Sprintf("kafka:%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return ev, nil
}

// Consumer consumes action messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	recorder      ActionRecorder
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, recorder ActionRecorder, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true
	// Fetch up to BatchSize messages ahead and wait at most BatchTimeout for a fetch to fill
	saramaConfig.ChannelBufferSize = cfg.BatchSize
	saramaConfig.Consumer.MaxWaitTime = cfg.BatchTimeout

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		recorder:      recorder,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// process records one message, retrying transient failures. It returns the
// result label; the message is committed whatever the result.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) string {
	ev, err := decodeAction(msg)
	if err != nil {
		c.logger.Warn("invalid action message",
			"error", err,
			"offset", msg.Offset,
			"partition", msg.Partition,
		)
		return resultInvalid
	}

	result, err := backoff.Retry(ctx, func() (*domain.RecordResult, error) {
		res, err := c.recorder.RecordAction(ctx, ev)
		if err != nil && !domain.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config.RetryDelay)),
		backoff.WithMaxTries(uint(max(c.config.RetryAttempts, 1))),
	)
	switch {
	case err == nil && result.Duplicate:
		return resultDuplicate
	case err == nil:
		return resultRecorded
	case domain.IsClientError(err):
		c.logger.Warn("action rejected", "user_id", ev.UserID, "action", ev.Action, "error", err)
		return resultRejected
	default:
		c.logger.Error("failed to record action",
			"user_id", ev.UserID,
			"idempotency_key", ev.IdempotencyKey,
			"error", err,
		)
		return resultFailed
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition in offset order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			result := h.consumer.process(session.Context(), message)
			if session.Context().Err() != nil {
				// Leave the offset uncommitted; redelivery is deduplicated
				return nil
			}
			metrics.KafkaMessagesTotal.WithLabelValues(result).Inc()
			session.MarkMessage(message, "")
		}
	}
}
