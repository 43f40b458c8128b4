// SPDX-License-Identifier: MIT
package graph

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/queue"
)

type event struct {
	payload any
	sender  int
}

// recorder collects bus events from any goroutine.
type recorder struct {
	mu     sync.Mutex
	events map[bus.Signal][]event
}

func record(b *bus.Bus, sigs ...bus.Signal) *recorder {
	r := &recorder{events: make(map[bus.Signal][]event)}
	for _, sig := range sigs {
		b.Connect(sig, func(payload any, sender int) {
			r.mu.Lock()
			r.events[sig] = append(r.events[sig], event{payload, sender})
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) get(sig bus.Signal) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events[sig]...)
}

func (r *recorder) count(sig bus.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[sig])
}

// testConfig starts from the defaults with every task off and the tile
// dump pointed at a temporary directory.
func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Analysis.Tasks = config.Tasks{}
	cfg.Export.Path = filepath.Join(t.TempDir(), "tiles.bin")
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// runGraph builds a hierarchy, feeds samples in admission-sized frames and
// closes it, which drains every queue before returning.
func runGraph(t *testing.T, cfg *config.Config, samples []int16, opts ...Option) *recorder {
	t.Helper()
	b := bus.New()
	rec := record(b, bus.Signals...)
	h := New(cfg, b, opts...)
	require.NoError(t, h.Build())

	width := cfg.Audio.FramesPerSample * cfg.Audio.Channels
	for start := 0; start < len(samples); start += width {
		require.NoError(t, h.Feed(samples[start:min(start+width, len(samples))]))
	}
	require.NoError(t, h.Close())
	return rec
}

// sink is an unstarted node used to capture what a processor forwards.
func sink(id string, ch int) *node {
	n := &node{id: id, channel: ch, queue: queue.New[Packet](0), done: make(chan struct{})}
	n.peers.Store(&[]*node{})
	return n
}

// harness builds a processor of kind with sinks as its peers and returns
// the outlet to drive it with.
func harness(t *testing.T, kind Kind, cfg *config.Config, sinks ...*node) (*node, *Outlet, *recorder) {
	t.Helper()
	n, err := newNode(kind.String(), kind, Env{Config: cfg})
	require.NoError(t, err)
	for _, s := range sinks {
		n.addPeer(s)
	}
	b := bus.New()
	rec := record(b, bus.Signals...)
	return n, &Outlet{node: n, bus: b}, rec
}

func drain(n *node) []Packet {
	if n.queue.Len() == 0 {
		return nil
	}
	items, _ := n.queue.GetAll()
	return items
}
