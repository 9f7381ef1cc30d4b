package stream

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Handler processes one fetched message. A nil return acks the message; an
// error schedules a retry until the budget is exhausted, after which the
// message is dead-lettered and the original acked.
type Handler func(ctx context.Context, msg Message) error

// deadLetterer is the slice of Publisher the consumer needs.
type deadLetterer interface {
	ForwardDeadLetter(ctx context.Context, original Message, reason string, attempts int) error
}

// inbound is the slice of jetstream.Msg the delivery loop needs, kept small
// so tests can fake fetched messages.
type inbound interface {
	Subject() string
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
}

// ConsumerConfig describes one durable pull consumer.
type ConsumerConfig struct {
	// Stream is the backing stream name.
	Stream string
	// Durable names the server-tracked cursor; it survives disconnects.
	Durable string
	// FilterSubject restricts the consumer to a subject subtree, for
	// example chronicle.events.>.
	FilterSubject string
	// Batch is the pull batch size.
	Batch int
	// FetchTimeout bounds one pull when the stream is idle.
	FetchTimeout time.Duration
	Retry        RetryPolicy
}

func (c ConsumerConfig) batch() int {
	if c.Batch <= 0 {
		return 16
	}
	return c.Batch
}

func (c ConsumerConfig) fetchTimeout() time.Duration {
	if c.FetchTimeout <= 0 {
		return 5 * time.Second
	}
	return c.FetchTimeout
}

// Consumer runs a durable pull subscription, dispatching each message to a
// handler under the retry policy.
type Consumer struct {
	js      jetstream.JetStream
	dlq     deadLetterer
	config  ConsumerConfig
	handler Handler
	logger  *log.Logger
}

// NewConsumer creates a consumer; Run starts it.
func NewConsumer(js jetstream.JetStream, dlq deadLetterer, config ConsumerConfig, handler Handler, logger *log.Logger) (*Consumer, error) {
	if js == nil {
		return nil, errors.New(errors.CodeValidation, "jetstream context is required")
	}
	if handler == nil {
		return nil, errors.New(errors.CodeValidation, "handler is required")
	}
	if config.Stream == "" || config.Durable == "" {
		return nil, errors.New(errors.CodeValidation, "stream and durable names are required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{js: js, dlq: dlq, config: config, handler: handler, logger: logger}, nil
}

// Run pulls and processes messages until the context is canceled. Shutdown
// stops new pulls; messages already fetched finish their retry loop or are
// abandoned unacked for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return errors.New(errors.CodeValidation, "consumer is required")
	}
	stream, err := c.js.Stream(ctx, c.config.Stream)
	if err != nil {
		return err
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.config.Durable,
		FilterSubject: c.config.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return err
	}
	c.logger.Info("consumer started",
		"durable", c.config.Durable, "filter", c.config.FilterSubject)

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("consumer stopped", "durable", c.config.Durable)
			return nil
		}
		batch, err := consumer.Fetch(c.config.batch(), jetstream.FetchMaxWait(c.config.fetchTimeout()))
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped", "durable", c.config.Durable)
				return nil
			}
			if stderrors.Is(err, nats.ErrTimeout) {
				continue
			}
			c.logger.Error("fetch failed", "durable", c.config.Durable, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for msg := range batch.Messages() {
			c.process(ctx, msg)
		}
		if err := batch.Error(); err != nil && !stderrors.Is(err, nats.ErrTimeout) && ctx.Err() == nil {
			c.logger.Error("batch error", "durable", c.config.Durable, "error", err)
		}
	}
}

// process drives one message through the delivery state machine.
func (c *Consumer) process(ctx context.Context, raw inbound) {
	msg := toMessage(raw, c.config.Stream)
	delivery := NewDelivery()

	err := c.config.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := delivery.ScheduleRetry(); err != nil {
				return err
			}
		}
		if err := delivery.Begin(); err != nil {
			return err
		}
		return c.handler(ctx, msg)
	})
	if err == nil {
		if ackErr := delivery.Ack(); ackErr != nil {
			c.logger.Error("ack transition failed", "subject", msg.Subject, "error", ackErr)
			return
		}
		if ackErr := raw.Ack(); ackErr != nil {
			c.logger.Error("ack failed", "subject", msg.Subject, "error", ackErr)
		}
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-retry: leave the message unacked for redelivery.
		return
	}
	if !errors.IsCode(err, errors.CodeDeliveryExhausted) {
		c.logger.Error("delivery aborted", "subject", msg.Subject, "error", err)
		return
	}

	if dlErr := delivery.DeadLetter(); dlErr != nil {
		c.logger.Error("dead-letter transition failed", "subject", msg.Subject, "error", dlErr)
		return
	}
	c.logger.Warn("dead-lettering message",
		"subject", msg.Subject, "sequence", msg.Sequence, "attempts", delivery.Attempts(), "error", err)
	if c.dlq != nil {
		if fwdErr := c.dlq.ForwardDeadLetter(ctx, msg, err.Error(), delivery.Attempts()); fwdErr != nil {
			// Keep the original unacked so redelivery retries the forward.
			c.logger.Error("dead-letter forward failed", "subject", msg.Subject, "error", fwdErr)
			return
		}
	}
	if ackErr := raw.Ack(); ackErr != nil {
		c.logger.Error("ack after dead-letter failed", "subject", msg.Subject, "error", ackErr)
	}
}

func toMessage(raw inbound, stream string) Message {
	msg := Message{
		StreamID: stream,
		Subject:  raw.Subject(),
		Data:     raw.Data(),
		Attempt:  1,
	}
	if meta, err := raw.Metadata(); err == nil && meta != nil {
		msg.Sequence = meta.Sequence.Stream
		msg.Attempt = meta.NumDelivered
		if meta.Stream != "" {
			msg.StreamID = meta.Stream
		}
	}
	return msg
}
