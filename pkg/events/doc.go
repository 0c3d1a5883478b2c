/*
Package events provides an in-memory event broker used to fan out
coordinator state-change notifications to control-plane subscribers.

The broker is topic-agnostic: every event is broadcast to every current
subscriber (pkg/protocol filters and forwards to authenticated clients).
Publish never blocks the caller beyond a buffered hand-off, and a slow or
absent subscriber never blocks the broker or other subscribers — full
per-subscriber buffers drop the event rather than apply backpressure.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventTaskCompleted,
		Message: "task finished",
	})

# Event types

The event type constants mirror the command-channel event names of the
control protocol (queue.updated, project.added, task.completed, and so on)
so pkg/protocol can forward an events.Event directly into an outbound
`event` frame without translation.
*/
package events
