// SPDX-License-Identifier: MIT
/*
Package audio binds PCM sources to the analysis graph.

The Engine owns the configuration, the signal bus and the node hierarchy.
A Source (PortAudio device, WAV/MP3 file) pushes interleaved int16 frames
into the engine from its own goroutine; embedded users call Feed instead.

Thread Safety:
  - Admission never takes the engine lock; pause state is atomic
  - Configuration and hierarchy mutations are serialised by the engine lock
  - Recording has its own lock so the capture callback never waits on
    graph operations
*/
package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/graph"
	"soundscope/internal/log"
)

// ErrStopped is returned by Feed when the engine is not running.
var ErrStopped = errors.New("engine is not running")

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBus publishes on b instead of a private bus.
func WithBus(b *bus.Bus) EngineOption {
	return func(e *Engine) { e.bus = b }
}

// WithGraphOptions passes options through to the hierarchy.
func WithGraphOptions(opts ...graph.Option) EngineOption {
	return func(e *Engine) { e.graphOpts = append(e.graphOpts, opts...) }
}

type Engine struct {
	mu        sync.Mutex
	cfg       *config.Config
	bus       *bus.Bus
	graph     *graph.Hierarchy
	graphOpts []graph.Option
	built     bool
	closed    bool

	source Source
	run    *run

	running atomic.Bool
	paused  atomic.Bool
	dropped atomic.Uint64

	rec *recording
	log *log.Logger
}

// NewEngine validates cfg and creates an idle engine. The engine keeps cfg
// and mutates it on Bind and UpdateConfig.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg: cfg,
		run: newRun(),
		rec: &recording{},
		log: log.Named("Engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = bus.New()
	}
	e.graph = graph.New(cfg, e.bus, e.graphOpts...)
	return e, nil
}

// Bind attaches src and adopts its format as the audio configuration. The
// engine must be stopped.
func (e *Engine) Bind(src Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return &SourceError{Source: src.Name(), Err: ErrRunning}
	}
	f := src.Format()
	if err := checkFormat(src.Name(), f); err != nil {
		return err
	}
	err := e.cfg.Update(func(c *config.Config) {
		c.Audio.SampleRate = f.SampleRate
		c.Audio.Channels = f.Channels
		c.Audio.FramesPerSample = f.FramesPerSample
	})
	if err != nil {
		return &SourceError{Source: src.Name(), Err: err}
	}
	e.source = src
	e.log.Infof("bound %s: %.0f Hz, %d channel(s), %d frames", src.Name(), f.SampleRate, f.Channels, f.FramesPerSample)
	return nil
}

// Start builds the graph (or rebuilds it from the current configuration on
// a restart) and starts the bound source. Without a source the engine runs
// embedded and samples arrive through Feed.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &graph.GraphError{Op: "start", Err: graph.ErrClosed}
	}
	if e.running.Load() {
		return nil
	}

	if e.built {
		if err := e.graph.Reset(); err != nil {
			return err
		}
	} else {
		if err := e.graph.Build(); err != nil {
			return err
		}
		e.built = true
	}

	r := newRun()
	e.run = r
	e.paused.Store(false)
	e.running.Store(true)

	if e.cfg.Recording.Enabled && !e.rec.active() {
		if _, err := e.startRecording(""); err != nil {
			e.log.Warnf("recording disabled: %v", err)
		}
	}

	if e.source == nil {
		e.log.Infof("started without a source")
		return nil
	}
	if err := e.source.Start(e.admit); err != nil {
		e.running.Store(false)
		return err
	}
	if f, ok := e.source.(Finite); ok {
		name := e.source.Name()
		go func() {
			select {
			case <-f.Done():
				e.log.Infof("source %s finished", name)
				r.end()
			case <-r.done:
			}
		}()
	}
	return nil
}

// run is one Start/Stop cycle.
type run struct {
	done chan struct{}
	once sync.Once
}

func newRun() *run { return &run{done: make(chan struct{})} }

func (r *run) end() { r.once.Do(func() { close(r.done) }) }

// admit is the source callback.
func (e *Engine) admit(samples []int16) {
	if !e.running.Load() {
		return
	}
	if e.paused.Load() {
		e.dropped.Add(1)
		return
	}
	e.rec.write(samples)
	if err := e.graph.Feed(samples); err != nil {
		e.log.Debugf("frame dropped: %v", err)
	}
}

// Feed admits interleaved samples directly. Samples fed while paused are
// dropped.
func (e *Engine) Feed(samples []int16) error {
	if !e.running.Load() {
		return ErrStopped
	}
	e.admit(samples)
	return nil
}

// Stop halts the source. The graph stays built and keeps draining what
// was already admitted. Calling Stop again is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	if !e.running.Swap(false) {
		return nil
	}
	var err error
	if e.source != nil {
		if serr := e.source.Stop(); serr != nil {
			err = fmt.Errorf("failed to stop source: %w", serr)
		}
	}
	e.run.end()
	if n := e.dropped.Swap(0); n > 0 {
		e.log.Infof("dropped %d frames while paused", n)
	}
	return err
}

// Pause halts admission without tearing down the graph.
func (e *Engine) Pause() { e.paused.Store(true) }

// Resume restarts admission after Pause.
func (e *Engine) Resume() { e.paused.Store(false) }

func (e *Engine) Paused() bool  { return e.paused.Load() }
func (e *Engine) Running() bool { return e.running.Load() }

// Done is closed when the engine stops or a finite source runs out.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.done
}

// Bus returns the bus results are published on.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Connect subscribes h to sig.
func (e *Engine) Connect(sig bus.Signal, h bus.Handler) bus.Token {
	return e.bus.Connect(sig, h)
}

// Disconnect removes a subscription made with Connect.
func (e *Engine) Disconnect(sig bus.Signal, tok bus.Token) bool {
	return e.bus.Disconnect(sig, tok)
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// UpdateConfig applies mutate transactionally. Running nodes see the change
// after UpdateNodes or Reset.
func (e *Engine) UpdateConfig(mutate func(*config.Config)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Update(mutate)
}

// AddNode attaches a node of the named kind to the running graph.
func (e *Engine) AddNode(kind string, opts ...graph.NodeOption) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.AddNode(kind, opts...)
}

// RemoveNode removes a node and its subtree.
func (e *Engine) RemoveNode(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.RemoveNode(id)
}

// Reset rebuilds the graph from the current configuration.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.Reset(); err != nil {
		return err
	}
	e.built = true
	return nil
}

// Clean removes idle coordinators and returns their ids.
func (e *Engine) Clean() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Clean()
}

// UpdateNodes pushes the current configuration to the running nodes.
func (e *Engine) UpdateNodes() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.UpdateNodes()
}

// Nodes describes every node of the graph.
func (e *Engine) Nodes() []graph.Descriptor {
	return e.graph.Nodes()
}

// Close stops the engine, finishes any recording and tears the graph down.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if err := e.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := e.rec.stop(); err != nil {
		errs = append(errs, err)
	}
	if err := e.graph.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
