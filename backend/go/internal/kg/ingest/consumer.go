package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// MessageReader is satisfied by *kafka.Reader in a consumer group.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer drains the candidate topic with a pool of workers. A candidate
// that times out or fails transiently is re-published with its attempt
// counter incremented; after MaxAttempts it is dead-lettered. Offsets are
// committed only up to the contiguous completed prefix of each partition.
type Consumer struct {
	reader    MessageReader
	publisher *Publisher
	processor Processor
	cfg       config.IngestionConfig
	log       *logger.Logger

	tracker  *offsetTracker
	commitMu sync.Mutex
}

func NewConsumer(reader MessageReader, publisher *Publisher, processor Processor, cfg config.IngestionConfig, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:    reader,
		publisher: publisher,
		processor: processor,
		cfg:       cfg,
		log:       log.Component("consumer"),
		tracker:   newOffsetTracker(),
	}
}

// Run consumes until ctx is done. In-flight candidates finish first.
func (c *Consumer) Run(ctx context.Context) error {
	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan kafka.Message)
	g, gctx := errgroup.WithContext(ctx)
	work := context.WithoutCancel(ctx)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for msg := range jobs {
				c.handle(work, msg)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for {
			msg, err := c.reader.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				c.log.WithError(models.ErrorInfo{Message: err.Error()}).Error("failed to fetch candidate")
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(time.Second):
				}
				continue
			}
			c.tracker.Track(msg)
			select {
			case jobs <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	c.log.WithField("workers", workers).Info("candidate consumer started")
	err := g.Wait()
	c.log.WithField("uncommitted", c.tracker.Pending()).Info("candidate consumer stopped")
	return err
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	attempt := Attempt(msg)
	l := c.log.WithPayload(map[string]interface{}{
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       string(msg.Key),
		"attempt":   attempt,
	})

	var cand models.Candidate
	if err := json.Unmarshal(msg.Value, &cand); err != nil {
		if derr := c.publisher.DeadLetter(ctx, msg, attempt, err); derr != nil {
			l.WithError(models.ErrorInfo{Message: derr.Error()}).Error("failed to dead-letter undecodable candidate")
			return
		}
		c.commit(ctx, msg)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.CandidateTimeout.Std())
	out, err := c.processor.Process(pctx, cand)
	timedOut := pctx.Err() != nil
	cancel()

	switch {
	case err == nil:
		l.WithField("entity", out.EntityID).WithField("confidence", out.Confidence).Debug("candidate applied")
	case kgerrors.IsTransient(err) || timedOut || errors.Is(err, context.DeadlineExceeded):
		if rerr := c.retry(ctx, msg, attempt, err); rerr != nil {
			l.WithError(models.ErrorInfo{Message: rerr.Error(), Type: kgerrors.Kind(rerr)}).Error("failed to requeue candidate")
			return
		}
	default:
		l.WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err)}).Warn("candidate rejected")
	}
	c.commit(ctx, msg)
}

func (c *Consumer) retry(ctx context.Context, msg kafka.Message, attempt int, cause error) error {
	if attempt >= c.cfg.MaxAttempts {
		return c.publisher.DeadLetter(ctx, msg, attempt, cause)
	}
	c.log.WithPayload(map[string]interface{}{
		"key":     string(msg.Key),
		"attempt": attempt,
		"error":   cause.Error(),
	}).Info("requeueing candidate")
	return c.publisher.Requeue(ctx, msg, attempt+1, cause)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	upTo, ok := c.tracker.Complete(msg)
	if !ok {
		return
	}
	if err := c.reader.CommitMessages(ctx, upTo); err != nil {
		c.log.WithError(models.ErrorInfo{Message: err.Error()}).WithField("offset", upTo.Offset).Error("failed to commit offset")
	}
}
