// SPDX-License-Identifier: MIT
package transport

import (
	"soundscope/internal/bus"
)

// Message is one bus event as it leaves the process.
type Message struct {
	Signal  bus.Signal `json:"signal"`
	Sender  int        `json:"sender"`
	Payload any        `json:"payload"`
}

// Transport defines a generic interface for sending bus events.
// Send is called on the publishing node's goroutine, so implementations
// must be thread-safe and must not block.
type Transport interface {
	Send(msg Message) error
	Close() error
}

// Bridge forwards sigs (every signal when none are given) from b to t and
// returns a function that removes the subscriptions again.
func Bridge(b *bus.Bus, t Transport, sigs ...bus.Signal) func() {
	if len(sigs) == 0 {
		sigs = bus.Signals
	}
	tokens := make([]bus.Token, len(sigs))
	for i, sig := range sigs {
		tokens[i] = b.Connect(sig, func(payload any, sender int) {
			_ = t.Send(Message{Signal: sig, Sender: sender, Payload: payload})
		})
	}
	return func() {
		for i, sig := range sigs {
			b.Disconnect(sig, tokens[i])
		}
	}
}
