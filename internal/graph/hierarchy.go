// SPDX-License-Identifier: MIT
package graph

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/export"
	"soundscope/internal/genre"
	"soundscope/internal/log"
)

// RootID is the id of the injection node.
const RootID = "root"

// backlogWarnEvery rate-limits the root queue watermark warning.
const backlogWarnEvery = time.Second

// Option configures a Hierarchy.
type Option func(*Hierarchy)

// WithPredictors sets the factory used to give each GenrePredictor node its
// own classifier. Without it the endpoint from the configuration is used.
func WithPredictors(f genre.Factory) Option {
	return func(h *Hierarchy) { h.predictors = f }
}

// WithTileWriter makes exported tiles go to w instead of the configured
// export path. The caller keeps ownership of w.
func WithTileWriter(w *export.Writer) Option {
	return func(h *Hierarchy) { h.tiles, h.ownTiles = w, false }
}

// Hierarchy owns every node of the graph.
type Hierarchy struct {
	mu       sync.RWMutex
	cfg      *config.Config // live configuration
	snapshot *config.Config // configuration the current nodes were built from
	bus      *bus.Bus
	nodes    map[string]*node
	root     *node
	seq      int
	closed   bool

	predictors genre.Factory
	tiles      *export.Writer
	ownTiles   bool

	lastBacklogWarn atomic.Int64
	log             *log.Logger
}

// New creates an empty hierarchy that reads cfg on Build, Reset and
// UpdateNodes and publishes on b.
func New(cfg *config.Config, b *bus.Bus, opts ...Option) *Hierarchy {
	h := &Hierarchy{
		cfg:   cfg,
		bus:   b,
		nodes: make(map[string]*node),
		log:   log.Named("Hierarchy"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hierarchy) predictorsFor(snap *config.Config) genre.Factory {
	if h.predictors != nil {
		return h.predictors
	}
	return genre.NewFactory(snap.Genre.Endpoint, snap.Genre.Timeout)
}

// Bus returns the bus nodes publish on.
func (h *Hierarchy) Bus() *bus.Bus { return h.bus }

// Build constructs one sub-graph per logical channel under the root and
// starts every node.
func (h *Hierarchy) Build() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &GraphError{Op: "build", Err: ErrClosed}
	}
	if h.root != nil {
		return &GraphError{Op: "build", ID: RootID, Err: ErrConflict}
	}
	nodes, root, snap, err := h.construct()
	if err != nil {
		return err
	}
	h.install(nodes, root, snap)
	h.log.Infof("built %d nodes for %d channel(s)", len(nodes), snap.LogicalChannels())
	return nil
}

// Reset rebuilds the graph from the current configuration. The new graph
// is built before the old one is torn down, so a failure leaves the
// running graph untouched.
func (h *Hierarchy) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &GraphError{Op: "reset", Err: ErrClosed}
	}
	nodes, root, snap, err := h.construct()
	if err != nil {
		return err
	}
	old := h.root
	h.install(nodes, root, snap)
	if old != nil {
		h.teardown(old, nil)
	}
	h.log.Infof("reset to %d nodes", len(nodes))
	return nil
}

func (h *Hierarchy) construct() (map[string]*node, *node, *config.Config, error) {
	snap := h.cfg.Clone()
	if err := snap.Validate(); err != nil {
		return nil, nil, nil, err
	}
	t := snap.Analysis.Tasks
	if !t.Any() {
		return nil, nil, nil, &GraphError{Op: "build", Err: ErrNoTasks}
	}
	if t.ExportSpectrograms && h.tiles == nil {
		w, err := export.Create(snap.Export.Path)
		if err != nil {
			return nil, nil, nil, &GraphError{Op: "build", ID: snap.Export.Path, Err: err}
		}
		h.tiles, h.ownTiles = w, true
	}

	b := &builder{
		nodes: make(map[string]*node),
		env:   Env{Config: snap, Predictors: h.predictorsFor(snap), Tiles: h.tiles},
		seq:   h.seq,
	}
	root := b.add(RootID, KindRoot, nil, 0)
	for ch := 0; ch < snap.LogicalChannels(); ch++ {
		id := func(base string) string { return fmt.Sprintf("%s-%d", base, ch) }

		freq := b.add(id("frequency"), KindFrequency, root, ch)
		if t.Pitch || t.Bands {
			spec := b.add(id("spectrum"), KindSpectrum, freq, ch)
			if t.Pitch {
				b.add(id("pitch"), pitchKinds[snap.Analysis.PitchAlgorithm], spec, ch)
			}
			if t.Bands {
				b.add(id("bands"), KindBands, spec, ch)
			}
		}
		if t.Genre || t.ExportSpectrograms {
			ffts := b.add(id("ffts"), KindFFTS, freq, ch)
			sg := b.add(id("spectrogram"), KindSpectrogram, ffts, ch)
			b.add(id("genre"), KindGenre, sg, ch)
		}
		if t.Beat {
			bpm := b.add(id("bpm"), KindBPM, freq, ch)
			b.add(id("bpm-worker"), KindBPMWorker, bpm, ch)
		}
	}
	if b.err != nil {
		return nil, nil, nil, b.err
	}
	h.seq = b.seq
	return b.nodes, root, snap, nil
}

// builder collects nodes and stops at the first error.
type builder struct {
	nodes map[string]*node
	env   Env
	seq   int
	err   error
}

func (b *builder) add(id string, kind Kind, parent *node, ch int) *node {
	if b.err != nil {
		return nil
	}
	env := b.env
	env.Channel = ch
	n, err := newNode(id, kind, env)
	if err != nil {
		b.err = &GraphError{Op: "build", ID: id, Err: err}
		return nil
	}
	b.seq++
	n.seq = b.seq
	if parent != nil {
		n.parent = parent
		parent.addPeer(n)
	}
	b.nodes[id] = n
	return n
}

func (h *Hierarchy) install(nodes map[string]*node, root *node, snap *config.Config) {
	for _, n := range nodes {
		n.start(h.bus)
	}
	h.nodes, h.root, h.snapshot = nodes, root, snap
}

// teardown stops n and then its subtree, parents first so that pending
// work drains downstream, and forgets every stopped node. The caller
// detaches n from its parent. removed collects the stopped ids if not nil.
func (h *Hierarchy) teardown(n *node, removed *[]string) {
	n.stop()
	if h.nodes[n.id] == n {
		delete(h.nodes, n.id)
	}
	if removed != nil {
		*removed = append(*removed, n.id)
	}
	for _, c := range n.peerList() {
		h.teardown(c, removed)
	}
}

// NodeOption configures AddNode.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	id      string
	parent  string
	channel int
}

// WithID sets the node id. The default is the kind name.
func WithID(id string) NodeOption { return func(o *nodeOptions) { o.id = id } }

// WithParent attaches the node under parent. The default is the root.
func WithParent(parent string) NodeOption { return func(o *nodeOptions) { o.parent = parent } }

// WithChannel sets the channel the node serves. The default is the
// parent's channel.
func WithChannel(ch int) NodeOption { return func(o *nodeOptions) { o.channel = ch } }

// AddNode instantiates the kind registered as kindName and attaches it.
// It returns the id of the new node.
func (h *Hierarchy) AddNode(kindName string, opts ...NodeOption) (string, error) {
	o := nodeOptions{id: kindName, parent: RootID, channel: -1}
	for _, opt := range opts {
		opt(&o)
	}
	kind, spec, ok := LookupKind(kindName)
	if !ok {
		return "", &GraphError{Op: "add", ID: kindName, Err: ErrNotFound}
	}
	if kind == KindRoot || o.id == RootID {
		return "", &GraphError{Op: "add", ID: o.id, Err: ErrRoot}
	}
	if o.id == "" {
		return "", &GraphError{Op: "add", Err: fmt.Errorf("empty id: %w", ErrShape)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", &GraphError{Op: "add", ID: o.id, Err: ErrClosed}
	}
	if _, dup := h.nodes[o.id]; dup {
		return "", &GraphError{Op: "add", ID: o.id, Err: ErrConflict}
	}
	parent, ok := h.nodes[o.parent]
	if !ok {
		return "", &GraphError{Op: "add", ID: o.parent, Err: ErrNotFound}
	}
	if parent.spec.Role != RoleCoordinator {
		return "", &GraphError{Op: "add", ID: o.id,
			Err: fmt.Errorf("parent %s is a %s: %w", parent.id, parent.spec.Role, ErrShape)}
	}
	ch := o.channel
	if ch < 0 {
		ch = parent.channel
	}
	if parent == h.root && ch >= h.snapshot.LogicalChannels() {
		return "", &GraphError{Op: "add", ID: o.id,
			Err: fmt.Errorf("channel %d does not exist: %w", ch, ErrShape)}
	}

	env := Env{Config: h.snapshot, Channel: ch, Predictors: h.predictorsFor(h.snapshot), Tiles: h.tiles}
	n, err := newNode(o.id, kind, env)
	if err != nil {
		return "", &GraphError{Op: "add", ID: o.id, Err: err}
	}
	h.seq++
	n.seq = h.seq
	n.custom = true
	n.parent = parent
	h.nodes[n.id] = n
	n.start(h.bus)
	parent.addPeer(n)
	h.log.Infof("added %s (%s) under %s", n.id, spec.Name, parent.id)
	return n.id, nil
}

// RemoveNode detaches id from its parent and stops it and its whole
// subtree. It returns once every removed goroutine has exited.
func (h *Hierarchy) RemoveNode(id string) error {
	if id == RootID {
		return &GraphError{Op: "remove", ID: id, Err: ErrRoot}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &GraphError{Op: "remove", ID: id, Err: ErrClosed}
	}
	n, ok := h.nodes[id]
	if !ok {
		return &GraphError{Op: "remove", ID: id, Err: ErrNotFound}
	}
	n.parent.removePeer(n)
	var removed []string
	h.teardown(n, &removed)
	h.log.Infof("removed %v", removed)
	return nil
}

// Clean removes built coordinators that have no peers left, repeating
// until none remain, and returns the removed ids. Custom nodes are kept.
func (h *Hierarchy) Clean() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, &GraphError{Op: "clean", Err: ErrClosed}
	}
	var removed []string
	for {
		var idle *node
		for _, n := range h.nodes {
			if n == h.root || n.custom || n.spec.Role != RoleCoordinator || len(n.peerList()) > 0 {
				continue
			}
			idle = n
			break
		}
		if idle == nil {
			break
		}
		idle.parent.removePeer(idle)
		h.teardown(idle, &removed)
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		h.log.Infof("cleaned %v", removed)
	}
	return removed, nil
}

// UpdateNodes re-applies parameters from the current configuration to the
// running nodes. Each node picks them up before its next packet. Changes
// to the shape of the graph (channel layout, tasks, pitch algorithm) need
// Reset.
func (h *Hierarchy) UpdateNodes() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &GraphError{Op: "update", Err: ErrClosed}
	}
	if h.root == nil {
		return &GraphError{Op: "update", ID: RootID, Err: ErrNotFound}
	}
	snap := h.cfg.Clone()
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := sameShape(h.snapshot, snap); err != nil {
		return &GraphError{Op: "update", Err: err}
	}
	for _, n := range h.nodes {
		env := n.env
		env.Config = snap
		n.pending.Store(&env)
	}
	h.snapshot = snap
	return nil
}

func sameShape(old, next *config.Config) error {
	switch {
	case old.LogicalChannels() != next.LogicalChannels():
		return fmt.Errorf("channel layout changed: %w", ErrShape)
	case old.Analysis.Tasks != next.Analysis.Tasks:
		return fmt.Errorf("tasks changed: %w", ErrShape)
	case old.Analysis.PitchAlgorithm != next.Analysis.PitchAlgorithm:
		return fmt.Errorf("pitch algorithm changed: %w", ErrShape)
	}
	return nil
}

// Feed admits interleaved samples at the root. The slice is copied.
func (h *Hierarchy) Feed(samples []int16) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return &GraphError{Op: "feed", Err: ErrClosed}
	}
	if h.root == nil {
		return &GraphError{Op: "feed", ID: RootID, Err: ErrNotFound}
	}
	buf := make([]int16, len(samples))
	copy(buf, samples)
	h.root.queue.Put(Packet{Raw: buf})

	if mark := h.snapshot.Analysis.RootQueueWatermark; mark > 0 {
		if depth := h.root.queue.Len(); depth > mark {
			h.warnBacklog(depth, mark)
		}
	}
	return nil
}

func (h *Hierarchy) warnBacklog(depth, mark int) {
	now := time.Now().UnixNano()
	last := h.lastBacklogWarn.Load()
	if now-last < int64(backlogWarnEvery) || !h.lastBacklogWarn.CompareAndSwap(last, now) {
		return
	}
	h.root.log.Warnf("input backlog of %d frames exceeds watermark %d; analysis is falling behind", depth, mark)
}

// Close stops every node and closes a tile dump the hierarchy opened.
func (h *Hierarchy) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.root != nil {
		h.teardown(h.root, nil)
		h.root = nil
	}
	if h.ownTiles && h.tiles != nil {
		if err := h.tiles.Close(); err != nil {
			return fmt.Errorf("failed to close tile dump: %w", err)
		}
	}
	return nil
}

// Descriptor is a snapshot of one node.
type Descriptor struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Role    string   `json:"role"`
	Parent  string   `json:"parent,omitempty"`
	Peers   []string `json:"peers"`
	Channel int      `json:"channel"`
	Custom  bool     `json:"custom"`
	Dead    bool     `json:"dead"`
	Queued  int      `json:"queued"`
	Cap     int      `json:"cap"`
	Dropped uint64   `json:"dropped"`
}

func (n *node) describe() Descriptor {
	d := Descriptor{
		ID:      n.id,
		Kind:    n.spec.Name,
		Role:    n.spec.Role.String(),
		Channel: n.channel,
		Custom:  n.custom,
		Dead:    n.dead.Load(),
		Queued:  n.queue.Len(),
		Cap:     n.queue.Cap(),
		Dropped: n.queue.Dropped(),
	}
	if n.parent != nil {
		d.Parent = n.parent.id
	}
	for _, p := range n.peerList() {
		d.Peers = append(d.Peers, p.id)
	}
	return d
}

// Nodes returns every node in creation order.
func (h *Hierarchy) Nodes() []Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := make([]*node, 0, len(h.nodes))
	for _, n := range h.nodes {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]Descriptor, len(all))
	for i, n := range all {
		out[i] = n.describe()
	}
	return out
}

// Descriptor returns the node with the given id.
func (h *Hierarchy) Descriptor(id string) (Descriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[id]
	if !ok {
		return Descriptor{}, false
	}
	return n.describe(), true
}
