// SPDX-License-Identifier: MIT
package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"soundscope/internal/analysis"
	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/genre"
)

// KeyPublisher publishes a pitch followed by its note. Undefined pitches
// are published as 0 with note N/A; the transition into that state is
// logged once.
type KeyPublisher struct {
	undefined bool
}

// Publish sends pitch and note for f.
func (k *KeyPublisher) Publish(out *Outlet, f float64) {
	if !(f > 0) || math.IsInf(f, 0) {
		if !k.undefined {
			out.Logger().Warnf("pitch undefined, publishing %s", analysis.NoteNA)
		}
		k.undefined = true
		f = 0
	} else {
		k.undefined = false
	}
	out.Publish(bus.SignalPitch, f)
	out.Publish(bus.SignalNote, analysis.NoteFromPitch(f))
}

type pitchBase struct {
	rate float64
	key  KeyPublisher
}

func (b *pitchBase) Configure(env Env) error {
	b.rate = env.SampleRate()
	return nil
}

// zeroCrossings estimates pitch from the signal block.
type zeroCrossings struct{ pitchBase }

func newZeroCrossings(env Env) (Processor, error) {
	w := &zeroCrossings{}
	return w, w.Configure(env)
}

func (w *zeroCrossings) Process(p Packet, out *Outlet) {
	if p.Block == nil {
		return
	}
	w.key.Publish(out, analysis.ZeroCrossingPitch(p.Block, w.rate))
}

// autoCorrelation estimates pitch from the signal block.
type autoCorrelation struct {
	pitchBase
	ac *analysis.Autocorrelator
}

func newAutoCorrelation(env Env) (Processor, error) {
	w := &autoCorrelation{}
	return w, w.Configure(env)
}

func (w *autoCorrelation) Configure(env Env) error {
	if w.ac == nil || w.ac.Size() != env.Config.Analysis.BlockSize {
		w.ac = analysis.NewAutocorrelator(env.Config.Analysis.BlockSize)
	}
	return w.pitchBase.Configure(env)
}

func (w *autoCorrelation) Process(p Packet, out *Outlet) {
	if p.Block == nil {
		return
	}
	w.key.Publish(out, analysis.AutocorrelationPitch(p.Block, w.rate, w.ac))
}

// fftPitch estimates pitch from the spectrum peak.
type fftPitch struct{ pitchBase }

func newFFTPitch(env Env) (Processor, error) {
	w := &fftPitch{}
	return w, w.Configure(env)
}

func (w *fftPitch) Process(p Packet, out *Outlet) {
	if p.Spectrum == nil {
		return
	}
	w.key.Publish(out, analysis.SpectrumPeakPitch(p.Spectrum, w.rate))
}

// hps estimates pitch with the harmonic product spectrum.
type hps struct {
	pitchBase
	harmonics int
	floor     float64
}

func newHPS(env Env) (Processor, error) {
	w := &hps{}
	return w, w.Configure(env)
}

func (w *hps) Configure(env Env) error {
	w.harmonics = env.Config.Analysis.HPSHarmonics
	w.floor = env.Config.Analysis.NoiseFloor
	return w.pitchBase.Configure(env)
}

func (w *hps) Process(p Packet, out *Outlet) {
	if p.Spectrum == nil {
		return
	}
	w.key.Publish(out, analysis.HarmonicProductPitch(p.Spectrum, w.rate, w.harmonics, w.floor))
}

var (
	_ Configurable = (*zeroCrossings)(nil)
	_ Configurable = (*autoCorrelation)(nil)
	_ Configurable = (*fftPitch)(nil)
	_ Configurable = (*hps)(nil)
)

// bands publishes normalised band presence for each spectrum.
type bands struct {
	rate   float64
	floor  float64
	bands  []analysis.Band
	silent bool
}

var _ Configurable = (*bands)(nil)

func newBands(env Env) (Processor, error) {
	w := &bands{}
	return w, w.Configure(env)
}

func (w *bands) Configure(env Env) error {
	sorted := env.Config.Analysis.SortedBands()
	if len(sorted) == 0 {
		return fmt.Errorf("no bands configured")
	}
	w.bands = w.bands[:0]
	for _, b := range sorted {
		w.bands = append(w.bands, analysis.Band{Name: b.Name, Low: b.Low, High: b.High})
	}
	w.rate = env.SampleRate()
	w.floor = env.Config.Analysis.NoiseFloor
	return nil
}

func (w *bands) Process(p Packet, out *Outlet) {
	if p.Spectrum == nil {
		return
	}
	presence := analysis.BandPresence(p.Spectrum, w.rate, w.bands, w.floor)
	total := 0.0
	for _, v := range presence {
		total += v
	}
	if total == 0 && !w.silent {
		out.Logger().Warnf("no band energy above the noise floor")
	}
	w.silent = total == 0
	out.Publish(bus.SignalBands, presence)
}

// bpmWorker runs beat detection over the energy of every frame.
type bpmWorker struct {
	algorithm string
	tracker   *analysis.BeatTracker
}

var _ Configurable = (*bpmWorker)(nil)

func newBPMWorker(env Env) (Processor, error) {
	w := &bpmWorker{}
	return w, w.Configure(env)
}

func (w *bpmWorker) Configure(env Env) error {
	a := env.Config.Analysis
	if w.tracker != nil && w.algorithm == a.BeatAlgorithm {
		w.tracker.SetRate(env.SampleRate())
		if d, ok := w.detector(); ok {
			*d = *analysis.NewDescendingDetector(a.BeatInitialThreshold, a.BeatDescRate)
		}
		return nil
	}

	var det analysis.BeatDetector
	switch a.BeatAlgorithm {
	case config.BeatEnergy:
		det = analysis.NewEnergyDetector()
	case config.BeatDescending:
		det = analysis.NewDescendingDetector(a.BeatInitialThreshold, a.BeatDescRate)
	default:
		return fmt.Errorf("unknown beat algorithm %q", a.BeatAlgorithm)
	}
	w.algorithm = a.BeatAlgorithm
	w.tracker = analysis.NewBeatTracker(det, env.SampleRate())
	return nil
}

// detector returns the descending detector when that algorithm is active.
func (w *bpmWorker) detector() (*analysis.DescendingDetector, bool) {
	d, ok := w.tracker.Detector().(*analysis.DescendingDetector)
	return d, ok
}

func (w *bpmWorker) Process(p Packet, out *Outlet) {
	if p.Frame == nil {
		return
	}
	beat, bpm := w.tracker.Update(p.RMS, len(p.Frame))
	out.Publish(bus.SignalBeats, beat)
	if beat {
		out.Publish(bus.SignalBPM, bpm)
	}
}

// genrePredictor classifies tiles and optionally dumps them with their
// label.
type genrePredictor struct {
	predictor genre.Predictor
	publish   bool
	timeout   time.Duration
	tiles     tileSink
	failing   bool
}

// tileSink is the part of export.Writer the predictor uses.
type tileSink interface {
	Write(rows, cols int, data []float32, label string) error
}

var _ Configurable = (*genrePredictor)(nil)

func newGenre(env Env) (Processor, error) {
	w := &genrePredictor{}
	if env.Predictors != nil {
		p, err := env.Predictors()
		if err != nil {
			return nil, fmt.Errorf("genre predictor: %w", err)
		}
		w.predictor = p
	}
	return w, w.Configure(env)
}

func (w *genrePredictor) Configure(env Env) error {
	w.publish = env.Config.Analysis.Tasks.Genre
	w.timeout = env.Config.Genre.Timeout
	w.tiles = nil
	if env.Config.Analysis.Tasks.ExportSpectrograms && env.Tiles != nil {
		w.tiles = env.Tiles
	}
	return nil
}

func (w *genrePredictor) Process(p Packet, out *Outlet) {
	if p.Spectrogram == nil {
		return
	}
	tile := p.Spectrogram.Float32()
	label := w.predict(tile, out)
	if w.publish {
		out.Publish(bus.SignalGenre, label)
	}
	if w.tiles != nil {
		if err := w.tiles.Write(len(p.Spectrogram.Data), analysis.TileRows, tile, label); err != nil {
			out.Logger().Warnf("failed to export tile: %v", err)
		}
	}
}

func (w *genrePredictor) predict(tile []float32, out *Outlet) string {
	if w.predictor == nil || !w.publish {
		return genre.NA
	}
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	pred, err := w.predictor.Predict(ctx, tile)
	if err != nil {
		if !w.failing {
			out.Logger().Warnf("prediction failed, publishing %s: %v", genre.NA, err)
		}
		w.failing = true
		return genre.NA
	}
	if w.failing {
		out.Logger().Infof("predictor recovered")
	}
	w.failing = false
	return pred.Label()
}
