package stream

import (
	"fmt"

	"github.com/chronicle-sh/chronicle/internal/engine/machine"
)

// Per-message delivery states.
const (
	StateReceived       = machine.State("received")
	StateProcessing     = machine.State("processing")
	StateRetryScheduled = machine.State("retry_scheduled")
	StateAcked          = machine.State("acked")
	StateDeadLettered   = machine.State("dead_lettered")
)

type deliverySignal string

const (
	signalProcess    deliverySignal = "process"
	signalAck        deliverySignal = "ack"
	signalRetry      deliverySignal = "retry"
	signalDeadLetter deliverySignal = "dead_letter"
)

// deliveryTable is the shared transition table for in-flight messages.
var deliveryTable = mustDeliveryTable()

func mustDeliveryTable() *machine.Table {
	edge := func(from, to machine.State, signal deliverySignal) machine.Transition {
		return machine.Transition{
			From: from,
			To:   to,
			Guard: func(_ machine.State, cmd any) error {
				got, ok := cmd.(deliverySignal)
				if !ok || got != signal {
					return fmt.Errorf("signal %v does not select %s", cmd, to)
				}
				return nil
			},
		}
	}
	table, err := machine.NewBuilder().
		Transition(edge(StateReceived, StateProcessing, signalProcess)).
		Transition(edge(StateProcessing, StateAcked, signalAck)).
		Transition(edge(StateProcessing, StateRetryScheduled, signalRetry)).
		Transition(edge(StateProcessing, StateDeadLettered, signalDeadLetter)).
		Transition(edge(StateRetryScheduled, StateProcessing, signalProcess)).
		Terminal(StateAcked).
		Terminal(StateDeadLettered).
		Build()
	if err != nil {
		panic(fmt.Sprintf("delivery table: %v", err))
	}
	return table
}

// Delivery tracks one in-flight message through the per-message state
// machine. Acked and DeadLettered admit no further transitions, which is
// what makes "no partial acks" auditable: a message is acked at most once,
// from exactly one terminal commit.
type Delivery struct {
	machine  *machine.Machine
	attempts int
}

// NewDelivery starts tracking a freshly received message.
func NewDelivery() *Delivery {
	return &Delivery{machine: deliveryTable.Instance(StateReceived)}
}

// State returns the current delivery state.
func (d *Delivery) State() machine.State {
	if d == nil {
		return ""
	}
	return d.machine.Current()
}

// Attempts returns how many processing attempts have started.
func (d *Delivery) Attempts() int {
	if d == nil {
		return 0
	}
	return d.attempts
}

// Begin moves the message into Processing and counts the attempt.
func (d *Delivery) Begin() error {
	if err := d.machine.HandleCommand(signalProcess); err != nil {
		return err
	}
	d.attempts++
	return nil
}

// Ack commits successful processing.
func (d *Delivery) Ack() error {
	return d.machine.HandleCommand(signalAck)
}

// ScheduleRetry parks the message for another attempt.
func (d *Delivery) ScheduleRetry() error {
	return d.machine.HandleCommand(signalRetry)
}

// DeadLetter commits the message to the dead-letter sink.
func (d *Delivery) DeadLetter() error {
	return d.machine.HandleCommand(signalDeadLetter)
}

// Terminal reports whether the delivery reached a terminal state.
func (d *Delivery) Terminal() bool {
	if d == nil {
		return false
	}
	return deliveryTable.Terminal(d.machine.Current())
}
