// SPDX-License-Identifier: MIT

/*
Package bus is the publish/subscribe registry through which analysis
results leave the graph.

Handlers run synchronously on the publishing goroutine, so a slow handler
stalls the node that published. Handlers that need to do real work should
hand the payload to their own goroutine or queue.

Payloads by signal:

	signal          []int16               channel samples for one frame
	spectrum        []float64             block_size/2 magnitudes
	spectogramData  analysis.Spectrogram  time axis, frequency axis, 128x128 dB tile
	pitch           float64               Hz, 0 when undefined
	note            analysis.Note         name and cents
	bands           map[string]float64    normalised presence
	beats           bool
	bpm             float64
	genre           string

Payloads are shared between handlers and must be treated as read-only.
*/
package bus

import (
	"runtime/debug"
	"sync"

	"soundscope/internal/log"
)

// Signal names a stream of results.
type Signal string

const (
	SignalWaveform    Signal = "signal"
	SignalSpectrum    Signal = "spectrum"
	SignalSpectrogram Signal = "spectogramData"
	SignalPitch       Signal = "pitch"
	SignalNote        Signal = "note"
	SignalBands       Signal = "bands"
	SignalBeats       Signal = "beats"
	SignalBPM         Signal = "bpm"
	SignalGenre       Signal = "genre"
)

// Signals lists every signal the graph publishes.
var Signals = []Signal{
	SignalWaveform, SignalSpectrum, SignalSpectrogram, SignalPitch,
	SignalNote, SignalBands, SignalBeats, SignalBPM, SignalGenre,
}

// Handler receives a payload and the channel id of the publisher
// (0 when channels are merged).
type Handler func(payload any, sender int)

// Token identifies a subscription for Disconnect.
type Token uint64

type subscription struct {
	token   Token
	handler Handler
}

// Bus is scoped to one engine instance.
type Bus struct {
	mu   sync.RWMutex
	next Token
	subs map[Signal][]subscription
	log  *log.Logger
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[Signal][]subscription),
		log:  log.Named("SignalBus"),
	}
}

// Connect subscribes h to sig.
func (b *Bus) Connect(sig Signal, h Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	tok := b.next

	// Copy on write so Send can iterate a snapshot without holding the lock.
	cur := b.subs[sig]
	subs := make([]subscription, len(cur), len(cur)+1)
	copy(subs, cur)
	b.subs[sig] = append(subs, subscription{token: tok, handler: h})
	return tok
}

// Disconnect removes the subscription. It reports whether it was present.
func (b *Bus) Disconnect(sig Signal, tok Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.subs[sig]
	for i, s := range cur {
		if s.token != tok {
			continue
		}
		subs := make([]subscription, 0, len(cur)-1)
		subs = append(subs, cur[:i]...)
		subs = append(subs, cur[i+1:]...)
		if len(subs) == 0 {
			delete(b.subs, sig)
		} else {
			b.subs[sig] = subs
		}
		return true
	}
	return false
}

// Send delivers payload to every handler of sig, in subscription order.
// A panicking handler is logged and skipped.
func (b *Bus) Send(sig Signal, sender int, payload any) {
	b.mu.RLock()
	subs := b.subs[sig]
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(s, sig, sender, payload)
	}
}

func (b *Bus) dispatch(s subscription, sig Signal, sender int, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("handler %d for %q panicked: %v\n%s", s.token, sig, r, debug.Stack())
		}
	}()
	s.handler(payload, sender)
}

// Subscribers returns the number of handlers connected to sig.
func (b *Bus) Subscribers(sig Signal) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sig])
}
