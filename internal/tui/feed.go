// SPDX-License-Identifier: MIT
package tui

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"soundscope/internal/transport"
)

const feedBuffer = 128

// Feed is a transport that hands bus events to a Bubble Tea program. The
// bus publishes from node goroutines, so Send never blocks: events are
// dropped while the UI is behind.
type Feed struct {
	send    func(tea.Msg)
	queue   chan transport.Message
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewFeed starts forwarding to send, typically (*tea.Program).Send.
func NewFeed(send func(tea.Msg)) *Feed {
	f := &Feed{
		send:  send,
		queue: make(chan transport.Message, feedBuffer),
		quit:  make(chan struct{}),
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

func (f *Feed) loop() {
	defer f.wg.Done()
	for {
		select {
		case msg := <-f.queue:
			f.send(msg)
		case <-f.quit:
			return
		}
	}
}

func (f *Feed) Send(msg transport.Message) error {
	select {
	case <-f.quit:
		return transport.ErrClosed
	default:
	}
	select {
	case f.queue <- msg:
	default:
		f.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many events were discarded.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Close stops forwarding. Queued events are discarded.
func (f *Feed) Close() error {
	f.once.Do(func() {
		close(f.quit)
		f.wg.Wait()
	})
	return nil
}

var _ transport.Transport = (*Feed)(nil)
