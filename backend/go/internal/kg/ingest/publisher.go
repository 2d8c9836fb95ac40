package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// Message headers.
const (
	HeaderAttempt = "attempt"
	HeaderError   = "error"
	HeaderReceipt = "receipt"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher writes candidates to the candidate topic and failures to the
// dead-letter topic. Messages are keyed by identity key, so every candidate
// about one entity lands on the same partition.
type Publisher struct {
	w        MessageWriter
	topic    string
	dlq      string
	maxTries uint
	backoff  time.Duration
	log      *logger.Logger
}

func NewPublisher(w MessageWriter, kcfg config.KafkaConfig, icfg config.IngestionConfig, log *logger.Logger) *Publisher {
	tries := icfg.PublishMaxTries
	if tries < 1 {
		tries = 1
	}
	return &Publisher{
		w:        w,
		topic:    kcfg.CandidateTopic,
		dlq:      kcfg.DeadLetterTopic,
		maxTries: uint(tries),
		backoff:  icfg.PublishBackoff.Std(),
		log:      log.Component("publisher"),
	}
}

// Submit enqueues a normalized candidate as its first attempt.
func (p *Publisher) Submit(ctx context.Context, c models.Candidate) error {
	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	return p.write(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(c.IdentityKey()),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderAttempt, Value: []byte("1")},
			{Key: HeaderReceipt, Value: []byte(c.ReceiptKey())},
		},
	})
}

// Requeue re-publishes msg with its attempt counter set to attempt.
func (p *Publisher) Requeue(ctx context.Context, msg kafka.Message, attempt int, cause error) error {
	return p.write(ctx, p.forward(msg, p.topic, attempt, cause))
}

// DeadLetter moves msg to the dead-letter topic.
func (p *Publisher) DeadLetter(ctx context.Context, msg kafka.Message, attempt int, cause error) error {
	p.log.WithPayload(map[string]interface{}{
		"key":     string(msg.Key),
		"attempt": attempt,
		"error":   errString(cause),
	}).Warn("candidate dead-lettered")
	return p.write(ctx, p.forward(msg, p.dlq, attempt, cause))
}

func (p *Publisher) forward(msg kafka.Message, topic string, attempt int, cause error) kafka.Message {
	out := kafka.Message{Topic: topic, Key: msg.Key, Value: msg.Value}
	for _, h := range msg.Headers {
		if h.Key != HeaderAttempt && h.Key != HeaderError {
			out.Headers = append(out.Headers, h)
		}
	}
	out.Headers = append(out.Headers, kafka.Header{Key: HeaderAttempt, Value: []byte(strconv.Itoa(attempt))})
	if cause != nil {
		out.Headers = append(out.Headers, kafka.Header{Key: HeaderError, Value: []byte(cause.Error())})
	}
	return out
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.backoff
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.w.WriteMessages(ctx, msg)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.maxTries))
	if err != nil {
		return kgerrors.Transient(err, "publish to "+msg.Topic)
	}
	return nil
}

// Attempt reads the attempt header, defaulting to 1.
func Attempt(msg kafka.Message) int {
	for _, h := range msg.Headers {
		if h.Key == HeaderAttempt {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
