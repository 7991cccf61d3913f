package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []domain.ActionEvent
	errs   []error
}

func (r *fakeRecorder) RecordAction(_ context.Context, ev domain.ActionEvent) (*domain.RecordResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.RecordResult{UserID: ev.UserID}, nil
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newTestConsumer(recorder ActionRecorder) *Consumer {
	return &Consumer{
		config: &config.KafkaConfig{
			Topic:         "engagement-actions",
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
		},
		recorder: recorder,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func message(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "engagement-actions",
		Partition: 2,
		Offset:    offset,
		Value:     []byte(value),
		Timestamp: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDecodeAction(t *testing.T) {
	t.Run("DefaultsFromMessage", func(t *testing.T) {
		ev, err := decodeAction(message(41, `{"user_id":"alice","action":"review"}`))
		require.NoError(t, err)
		assert.Equal(t, "alice", ev.UserID)
		assert.Equal(t, domain.ActionReview, ev.Action)
		assert.Equal(t, "kafka:engagement-actions:2:41", ev.IdempotencyKey)
		assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), ev.OccurredAt)
	})

	t.Run("ExplicitFields", func(t *testing.T) {
		ev, err := decodeAction(message(1, `{"user_id":"bob","action":"share","points":7,
			"occurred_at":"2026-04-30T10:00:00Z","idempotency_key":"share-9"}`))
		require.NoError(t, err)
		assert.Equal(t, "share-9", ev.IdempotencyKey)
		require.NotNil(t, ev.Points)
		assert.Equal(t, int64(7), *ev.Points)
		assert.Equal(t, 30, ev.OccurredAt.Day())
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := decodeAction(message(1, `not json`))
		assert.Error(t, err)
		_, err = decodeAction(message(1, `{"action":"review"}`))
		assert.ErrorIs(t, err, errEmptyUser)
	})
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("RetriesTransientFailure", func(t *testing.T) {
		recorder := &fakeRecorder{errs: []error{domain.ErrStorageUnavailable}}
		c := newTestConsumer(recorder)
		assert.Equal(t, resultRecorded, c.process(ctx, message(1, `{"user_id":"a","action":"review"}`)))
		assert.Len(t, recorder.events, 2)
	})

	t.Run("ClientErrorNotRetried", func(t *testing.T) {
		recorder := &fakeRecorder{errs: []error{domain.ErrUnknownActionType}}
		c := newTestConsumer(recorder)
		assert.Equal(t, resultRejected, c.process(ctx, message(1, `{"user_id":"a","action":"rsvp"}`)))
		assert.Len(t, recorder.events, 1)
	})

	t.Run("GivesUp", func(t *testing.T) {
		down := errors.Join(domain.ErrServiceUnavailable, errors.New("conflicts"))
		recorder := &fakeRecorder{errs: []error{down, down, down}}
		c := newTestConsumer(recorder)
		assert.Equal(t, resultFailed, c.process(ctx, message(1, `{"user_id":"a","action":"review"}`)))
		assert.Len(t, recorder.events, 3)
	})

	t.Run("Invalid", func(t *testing.T) {
		recorder := &fakeRecorder{}
		c := newTestConsumer(recorder)
		assert.Equal(t, resultInvalid, c.process(ctx, message(1, `{}`)))
		assert.Empty(t, recorder.events)
	})
}

func TestConsumeClaim_MarksEveryMessage(t *testing.T) {
	recorder := &fakeRecorder{}
	h := &consumerGroupHandler{consumer: newTestConsumer(recorder)}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- message(10, `{"user_id":"a","action":"review"}`)
	claim.messages <- message(11, `garbage`)
	claim.messages <- message(12, `{"user_id":"b","action":"comment"}`)
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []int64{10, 11, 12}, session.marked)
	require.Len(t, recorder.events, 2)
	assert.Equal(t, "a", recorder.events[0].UserID)
	assert.Equal(t, "b", recorder.events[1].UserID)
}
