package stream

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Walk reads a stream once from the beginning with an ephemeral consumer,
// invoking fn for every message under the filter subject, and returns when
// the stream head observed at start is reached. A non-nil fn error aborts
// the walk.
func Walk(ctx context.Context, js jetstream.JetStream, streamName, filterSubject string, batch int, fn func(ctx context.Context, msg Message) error) error {
	return walk(ctx, js, streamName, filterSubject, batch, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}, fn)
}

// WalkLast reads the most recent n messages under the filter subject. Fewer
// may be visited when the stream is shorter than n.
func WalkLast(ctx context.Context, js jetstream.JetStream, streamName, filterSubject string, n, batch int, fn func(ctx context.Context, msg Message) error) error {
	if n <= 0 {
		return nil
	}
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return err
	}
	start := uint64(1)
	if info.State.LastSeq > uint64(n) {
		start = info.State.LastSeq - uint64(n) + 1
	}
	return walk(ctx, js, streamName, filterSubject, batch, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   start,
	}, fn)
}

func walk(ctx context.Context, js jetstream.JetStream, streamName, filterSubject string, batch int, base jetstream.ConsumerConfig, fn func(ctx context.Context, msg Message) error) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return err
	}
	lastSeq := info.State.LastSeq
	if lastSeq == 0 {
		return nil
	}
	if batch <= 0 {
		batch = 64
	}

	base.AckPolicy = jetstream.AckExplicitPolicy
	base.FilterSubject = filterSubject
	base.InactiveThreshold = time.Minute
	consumer, err := stream.CreateOrUpdateConsumer(ctx, base)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetched, err := consumer.Fetch(batch, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			if stderrors.Is(err, nats.ErrTimeout) {
				return nil
			}
			return err
		}
		received := false
		for raw := range fetched.Messages() {
			received = true
			msg := toMessage(raw, streamName)
			if err := fn(ctx, msg); err != nil {
				return err
			}
			_ = raw.Ack()
			if msg.Sequence >= lastSeq {
				return nil
			}
		}
		if err := fetched.Error(); err != nil && !stderrors.Is(err, nats.ErrTimeout) {
			return err
		}
		if !received {
			return nil
		}
	}
}
