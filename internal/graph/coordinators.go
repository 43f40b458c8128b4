// SPDX-License-Identifier: MIT
package graph

import (
	"fmt"

	"soundscope/internal/analysis"
	"soundscope/internal/bus"
)

// frequency keeps the newest block_size samples. Every frame is passed on
// for frame-cadence consumers; a block is passed on once per drained batch
// as soon as the buffer is full.
type frequency struct {
	size int
	buf  []float64
}

var (
	_ Flusher      = (*frequency)(nil)
	_ Configurable = (*frequency)(nil)
)

func newFrequency(env Env) (Processor, error) {
	f := &frequency{}
	return f, f.Configure(env)
}

func (f *frequency) Configure(env Env) error {
	size := env.Config.Analysis.BlockSize
	if size <= 0 {
		return fmt.Errorf("block size must be positive, got %d", size)
	}
	if size == f.size {
		return nil
	}
	buf := make([]float64, 0, size)
	if f.buf != nil {
		keep := f.buf[max(0, len(f.buf)-size):]
		buf = append(buf, keep...)
	}
	f.size, f.buf = size, buf
	return nil
}

func (f *frequency) Process(p Packet, out *Outlet) {
	if p.Frame == nil {
		return
	}
	out.Forward(Packet{Channel: p.Channel, Frame: p.Frame})
	f.push(p.Frame)
}

func (f *frequency) push(frame []float64) {
	if len(frame) >= f.size {
		f.buf = append(f.buf[:0], frame[len(frame)-f.size:]...)
		return
	}
	if over := len(f.buf) + len(frame) - f.size; over > 0 {
		n := copy(f.buf, f.buf[over:])
		f.buf = f.buf[:n]
	}
	f.buf = append(f.buf, frame...)
}

func (f *frequency) Flush(out *Outlet) {
	if len(f.buf) != f.size {
		return
	}
	block := make([]float64, f.size)
	copy(block, f.buf)
	out.Forward(Packet{Channel: out.Channel(), Block: block})
}

// spectrum turns blocks into published magnitude spectra.
type spectrum struct {
	analyzer *analysis.SpectrumAnalyzer
}

var _ Configurable = (*spectrum)(nil)

func newSpectrum(env Env) (Processor, error) {
	s := &spectrum{}
	return s, s.Configure(env)
}

func (s *spectrum) Configure(env Env) error {
	a := env.Config.Analysis
	wf, err := analysis.ParseWindowFunc(a.Window)
	if err != nil {
		return err
	}
	sa, err := analysis.NewSpectrumAnalyzer(a.BlockSize, env.SampleRate(), wf, a.BandpassLow, a.BandpassHigh)
	if err != nil {
		return fmt.Errorf("spectrum analyzer: %w", err)
	}
	s.analyzer = sa
	return nil
}

func (s *spectrum) Process(p Packet, out *Outlet) {
	if p.Block == nil {
		return
	}
	if len(p.Block) != s.analyzer.Size() {
		out.Logger().Debugf("skipping %d-sample block, want %d", len(p.Block), s.analyzer.Size())
		return
	}
	spec := s.analyzer.Magnitude(p.Block)
	out.Publish(bus.SignalSpectrum, spec)
	out.Forward(Packet{Channel: p.Channel, Block: p.Block, Spectrum: spec})
}

// ffts cuts frames into 1024-sample columns and forwards a tile of the
// latest 128 columns after each new column once the ring is full.
type ffts struct {
	builder *analysis.TileBuilder
	pending []float64
}

func newFFTS(Env) (Processor, error) {
	return &ffts{
		builder: analysis.NewTileBuilder(),
		pending: make([]float64, 0, 2*analysis.TileFrame),
	}, nil
}

func (f *ffts) Process(p Packet, out *Outlet) {
	if p.Frame == nil {
		return
	}
	f.pending = append(f.pending, p.Frame...)
	for len(f.pending) >= analysis.TileFrame {
		if tile, ok := f.builder.Add(f.pending[:analysis.TileFrame]); ok {
			out.Forward(Packet{Channel: p.Channel, Columns: tile})
		}
		n := copy(f.pending, f.pending[analysis.TileFrame:])
		f.pending = f.pending[:n]
	}
}

// spectrogram converts tiles to dB, pools them and publishes the result.
type spectrogram struct {
	rate      float64
	windowSum float64
}

var _ Configurable = (*spectrogram)(nil)

func newSpectrogram(env Env) (Processor, error) {
	s := &spectrogram{windowSum: analysis.TileWindowSum()}
	return s, s.Configure(env)
}

func (s *spectrogram) Configure(env Env) error {
	s.rate = env.SampleRate()
	return nil
}

func (s *spectrogram) Process(p Packet, out *Outlet) {
	if p.Columns == nil {
		return
	}
	sg := analysis.NewSpectrogram(p.Columns, s.rate, s.windowSum)
	out.Publish(bus.SignalSpectrogram, *sg)
	out.Forward(Packet{Channel: p.Channel, Spectrogram: sg})
}

// bpm optionally band-passes frames for beat detection and measures their
// energy.
type bpm struct {
	filter *analysis.StreamFilter
}

var _ Configurable = (*bpm)(nil)

// beatFilterOrder is the Butterworth order of the beat pre-filter halves.
const beatFilterOrder = 2

func newBPM(env Env) (Processor, error) {
	b := &bpm{}
	return b, b.Configure(env)
}

func (b *bpm) Configure(env Env) error {
	a := env.Config.Analysis
	if a.BeatLowCut > 0 && a.BeatLowPass > 0 {
		b.filter = analysis.NewStreamFilter(
			analysis.ButterworthBandpass(beatFilterOrder, a.BeatLowCut, a.BeatLowPass, env.SampleRate()))
	} else {
		b.filter = nil
	}
	return nil
}

func (b *bpm) Process(p Packet, out *Outlet) {
	if p.Frame == nil {
		return
	}
	x := make([]float64, len(p.Frame))
	copy(x, p.Frame)
	if b.filter != nil {
		b.filter.Process(x)
	}
	out.Forward(Packet{Channel: p.Channel, Frame: x, RMS: analysis.RMS(x)})
}
