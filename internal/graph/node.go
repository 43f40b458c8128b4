// SPDX-License-Identifier: MIT
package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/mdobak/go-xerrors"

	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/export"
	"soundscope/internal/genre"
	"soundscope/internal/log"
	"soundscope/internal/queue"
)

// Env is what a factory gets to build a processor. Config is a snapshot
// shared by every node of one build and must not be modified.
type Env struct {
	Config     *config.Config
	Channel    int
	Logger     *log.Logger
	Predictors genre.Factory
	Tiles      *export.Writer
}

// SampleRate returns the configured rate in Hz.
func (e Env) SampleRate() float64 { return e.Config.Audio.SampleRate }

type node struct {
	id      string
	kind    Kind
	spec    Spec
	parent  *node
	channel int
	custom  bool
	seq     int

	queue   *queue.Queue[Packet]
	proc    Processor
	env     Env
	peers   atomic.Pointer[[]*node]
	pending atomic.Pointer[Env]
	dead    atomic.Bool
	done    chan struct{}
	log     *log.Logger
}

func newNode(id string, kind Kind, env Env) (*node, error) {
	spec := specOf(kind)
	env.Logger = log.Named("graph/" + id)
	proc, err := spec.New(env)
	if err != nil {
		return nil, err
	}
	n := &node{
		id:      id,
		kind:    kind,
		spec:    spec,
		channel: env.Channel,
		queue:   queue.New[Packet](spec.Capacity),
		proc:    proc,
		env:     env,
		done:    make(chan struct{}),
		log:     env.Logger,
	}
	n.peers.Store(&[]*node{})
	return n, nil
}

func (n *node) peerList() []*node { return *n.peers.Load() }

// addPeer and removePeer are called with the hierarchy lock held; readers
// see either the old or the new slice.
func (n *node) addPeer(p *node) {
	cur := n.peerList()
	next := make([]*node, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, p)
	n.peers.Store(&next)
}

func (n *node) removePeer(p *node) {
	cur := n.peerList()
	next := make([]*node, 0, len(cur))
	for _, c := range cur {
		if c != p {
			next = append(next, c)
		}
	}
	n.peers.Store(&next)
}

func (n *node) start(b *bus.Bus) {
	go n.run(&Outlet{node: n, bus: b})
}

// run is the node loop: pull, stop on end of stream, compute, publish.
func (n *node) run(out *Outlet) {
	defer close(n.done)
	defer func() {
		if r := recover(); r != nil {
			err := xerrors.New(fmt.Errorf("node %s panicked: %v", n.id, r))
			n.log.Errorf("%+v", err)
			n.dead.Store(true)
			n.queue.Close()
		}
	}()

	for {
		if n.spec.Mode == QueueDrain {
			items, ok := n.queue.GetAll()
			if !ok {
				return
			}
			n.applyPending()
			for _, p := range items {
				n.proc.Process(p, out)
			}
			if f, ok := n.proc.(Flusher); ok {
				f.Flush(out)
			}
			continue
		}

		p, ok := n.queue.Get()
		if !ok {
			return
		}
		n.applyPending()
		n.proc.Process(p, out)
	}
}

func (n *node) applyPending() {
	env := n.pending.Swap(nil)
	if env == nil {
		return
	}
	c, ok := n.proc.(Configurable)
	if !ok {
		return
	}
	env.Logger = n.log
	if err := c.Configure(*env); err != nil {
		n.log.Warnf("keeping previous parameters: %v", err)
		return
	}
	n.env = *env
}

// stop posts the end-of-stream sentinel and waits for the goroutine.
func (n *node) stop() {
	n.queue.Close()
	<-n.done
}

// Outlet is a processor's view of the graph: its peers and the bus.
type Outlet struct {
	node *node
	bus  *bus.Bus
}

// Forward hands p to every peer.
func (o *Outlet) Forward(p Packet) {
	for _, peer := range o.node.peerList() {
		peer.queue.Put(p)
	}
}

// ForwardChannel hands p only to peers serving channel ch.
func (o *Outlet) ForwardChannel(ch int, p Packet) {
	for _, peer := range o.node.peerList() {
		if peer.channel == ch {
			peer.queue.Put(p)
		}
	}
}

// Publish sends payload on sig with the node's channel as sender.
func (o *Outlet) Publish(sig bus.Signal, payload any) {
	o.bus.Send(sig, o.node.channel, payload)
}

// PublishChannel sends payload on sig with ch as sender.
func (o *Outlet) PublishChannel(sig bus.Signal, ch int, payload any) {
	o.bus.Send(sig, ch, payload)
}

// Channel is the channel this node serves.
func (o *Outlet) Channel() int { return o.node.channel }

// Logger returns the node's logger.
func (o *Outlet) Logger() *log.Logger { return o.node.log }
