// Package stream is the only component touching the network transport. It
// publishes committed events and follow-up commands onto JetStream subjects
// and runs durable pull consumers with retry, backoff, and dead-letter
// forwarding.
//
// Delivery is at-least-once: consumers must be idempotent with respect to
// (stream_id, sequence). Each in-flight message moves through a small state
// machine, Received -> Processing -> {Acked | RetryScheduled -> Processing |
// DeadLettered}, where Acked and DeadLettered are terminal.
package stream
