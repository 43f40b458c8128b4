// SPDX-License-Identifier: MIT
package graph

import (
	"soundscope/internal/analysis"
	"soundscope/internal/bus"
)

// root pads, demultiplexes and optionally merges interleaved input.
type root struct {
	frames   int
	channels int
	merge    bool
	scratch  []int16
}

var (
	_ Processor    = (*root)(nil)
	_ Configurable = (*root)(nil)
)

func newRoot(env Env) (Processor, error) {
	r := &root{}
	return r, r.Configure(env)
}

func (r *root) Configure(env Env) error {
	r.frames = env.Config.Audio.FramesPerSample
	r.channels = max(env.Config.Audio.Channels, 1)
	r.merge = env.Config.Analysis.MergeChannels
	r.scratch = make([]int16, r.frames*r.channels)
	return nil
}

// Process splits the input into frames of frames*channels samples, zero
// padding the last one, and handles each frame in turn.
func (r *root) Process(p Packet, out *Outlet) {
	width := r.frames * r.channels
	raw := p.Raw
	for len(raw) > 0 {
		n := copy(r.scratch, raw)
		clear(r.scratch[n:])
		raw = raw[n:]
		r.frame(r.scratch[:width], out)
	}
}

func (r *root) frame(interleaved []int16, out *Outlet) {
	if r.merge || r.channels == 1 {
		mono := make([]int16, r.frames)
		for i := range mono {
			sum := 0
			for c := 0; c < r.channels; c++ {
				sum += int(interleaved[i*r.channels+c])
			}
			mono[i] = int16(sum / r.channels)
		}
		r.emit(0, mono, out)
		return
	}

	for c := 0; c < r.channels; c++ {
		ch := make([]int16, r.frames)
		for i := range ch {
			ch[i] = interleaved[i*r.channels+c]
		}
		r.emit(c, ch, out)
	}
}

// emit publishes the waveform before forwarding so that a frame's signal
// event precedes anything derived from it.
func (r *root) emit(ch int, samples []int16, out *Outlet) {
	out.PublishChannel(bus.SignalWaveform, ch, samples)
	out.ForwardChannel(ch, Packet{Channel: ch, Frame: analysis.Int16ToFloat(nil, samples)})
}
