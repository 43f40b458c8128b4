// SPDX-License-Identifier: MIT
package graph

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/export"
	"soundscope/internal/genre"
	"soundscope/pkg/utils"
)

var (
	probeOnce   sync.Once
	signalProbe = bus.Signal("probe.block")
)

type blockProbe struct{}

func (blockProbe) Process(p Packet, out *Outlet) {
	if p.Block != nil {
		out.Publish(signalProbe, len(p.Block))
	}
}

type panicProbe struct{}

func (panicProbe) Process(Packet, *Outlet) { panic("probe exploded") }

func registerProbes(t *testing.T) {
	t.Helper()
	probeOnce.Do(func() {
		_, err := RegisterKind(Spec{Name: "BlockProbe", Role: RoleWorker, Mode: QueueDrain,
			New: func(Env) (Processor, error) { return blockProbe{}, nil }})
		require.NoError(t, err)
		_, err = RegisterKind(Spec{Name: "PanicProbe", Role: RoleWorker, Mode: QueueLatest,
			New: func(Env) (Processor, error) { return panicProbe{}, nil }})
		require.NoError(t, err)
	})
}

func allTasks(c *config.Config) {
	c.Analysis.Tasks = config.Tasks{Pitch: true, Genre: true, Beat: true, ExportSpectrograms: true, Bands: true}
}

func build(t *testing.T, cfg *config.Config, opts ...Option) *Hierarchy {
	t.Helper()
	h := New(cfg, bus.New(), opts...)
	require.NoError(t, h.Build())
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func ids(h *Hierarchy) []string {
	var out []string
	for _, d := range h.Nodes() {
		out = append(out, d.ID)
	}
	return out
}

func feedFrames(t *testing.T, h *Hierarchy, frames int) {
	t.Helper()
	frame := utils.Sine(1024, 44100, 440, 8000)
	for i := 0; i < frames; i++ {
		require.NoError(t, h.Feed(frame))
	}
}

func TestBuildFullGraph(t *testing.T) {
	h := build(t, testConfig(t, allTasks))

	assert.Equal(t, []string{
		"root", "frequency-0",
		"spectrum-0", "pitch-0", "bands-0",
		"ffts-0", "spectrogram-0", "genre-0",
		"bpm-0", "bpm-worker-0",
	}, ids(h))

	root, ok := h.Descriptor(RootID)
	require.True(t, ok)
	assert.Equal(t, []string{"frequency-0"}, root.Peers)
	assert.Equal(t, "coordinator", root.Role)

	pitch, _ := h.Descriptor("pitch-0")
	assert.Equal(t, "AutoCorrelationWorker", pitch.Kind)
	assert.Equal(t, "spectrum-0", pitch.Parent)
	assert.Equal(t, "worker", pitch.Role)
	assert.False(t, pitch.Custom)

	freq, _ := h.Descriptor("frequency-0")
	assert.Equal(t, []string{"spectrum-0", "ffts-0", "bpm-0"}, freq.Peers)
	assert.Zero(t, freq.Cap, "frame-cadence nodes never drop")

	bands, _ := h.Descriptor("bands-0")
	assert.Equal(t, 1, bands.Cap)
}

func TestBuildPerChannel(t *testing.T) {
	beatOnly := func(merge bool) func(*config.Config) {
		return func(c *config.Config) {
			c.Audio.Channels = 2
			c.Analysis.MergeChannels = merge
			c.Analysis.Tasks.Beat = true
		}
	}

	h := build(t, testConfig(t, beatOnly(false)))
	assert.Equal(t, []string{
		"root",
		"frequency-0", "bpm-0", "bpm-worker-0",
		"frequency-1", "bpm-1", "bpm-worker-1",
	}, ids(h))
	d, _ := h.Descriptor("bpm-worker-1")
	assert.Equal(t, 1, d.Channel)

	h = build(t, testConfig(t, beatOnly(true)))
	assert.Equal(t, []string{"root", "frequency-0", "bpm-0", "bpm-worker-0"}, ids(h))
}

func TestBuildSelectsPitchWorker(t *testing.T) {
	for alg, kind := range map[string]string{
		config.PitchZeroCrossings:   "ZeroCrossingsWorker",
		config.PitchAutoCorrelation: "AutoCorrelationWorker",
		config.PitchFFT:             "FFTWorker",
		config.PitchHPS:             "HPSWorker",
	} {
		t.Run(alg, func(t *testing.T) {
			h := build(t, testConfig(t, func(c *config.Config) {
				c.Analysis.Tasks.Pitch = true
				c.Analysis.PitchAlgorithm = alg
			}))
			d, ok := h.Descriptor("pitch-0")
			require.True(t, ok)
			assert.Equal(t, kind, d.Kind)
		})
	}
}

func TestBuildWithoutTasks(t *testing.T) {
	h := New(testConfig(t, nil), bus.New())
	err := h.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTasks)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Empty(t, h.Nodes())
	assert.ErrorIs(t, h.Feed(make([]int16, 10)), ErrNotFound)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	h := New(testConfig(t, func(c *config.Config) {
		c.Analysis.Tasks.Bands = true
		c.Analysis.BlockSize = 1000
	}), bus.New())
	assert.ErrorIs(t, h.Build(), config.ErrInvalid)
	assert.Empty(t, h.Nodes())
}

func TestBuildTwice(t *testing.T) {
	h := build(t, testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Beat = true }))
	assert.ErrorIs(t, h.Build(), ErrConflict)
}

func TestAddNode(t *testing.T) {
	h := build(t, testConfig(t, func(c *config.Config) {
		c.Analysis.Tasks.Pitch = true
		c.Analysis.Tasks.Bands = true
	}))

	id, err := h.AddNode("BandsWorker", WithID("bands-extra"), WithParent("spectrum-0"))
	require.NoError(t, err)
	assert.Equal(t, "bands-extra", id)

	d, ok := h.Descriptor("bands-extra")
	require.True(t, ok)
	assert.True(t, d.Custom)
	assert.Equal(t, "spectrum-0", d.Parent)
	assert.Equal(t, 0, d.Channel)

	spec, _ := h.Descriptor("spectrum-0")
	assert.Contains(t, spec.Peers, "bands-extra")
}

func TestAddNodeErrors(t *testing.T) {
	h := build(t, testConfig(t, func(c *config.Config) {
		c.Analysis.Tasks.Pitch = true
		c.Analysis.Tasks.Bands = true
	}))

	tests := []struct {
		name string
		kind string
		opts []NodeOption
		want error
	}{
		{"unknown kind", "NoSuchWorker", nil, ErrNotFound},
		{"root kind", "Root", nil, ErrRoot},
		{"root id", "BandsWorker", []NodeOption{WithID(RootID)}, ErrRoot},
		{"duplicate id", "BandsWorker", []NodeOption{WithID("bands-0"), WithParent("spectrum-0")}, ErrConflict},
		{"missing parent", "BandsWorker", []NodeOption{WithID("x"), WithParent("missing")}, ErrNotFound},
		{"worker parent", "BandsWorker", []NodeOption{WithID("x"), WithParent("pitch-0")}, ErrShape},
		{"missing channel", "FrequencyCoordinator", []NodeOption{WithID("x"), WithChannel(3)}, ErrShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(h.Nodes())
			_, err := h.AddNode(tt.kind, tt.opts...)
			assert.ErrorIs(t, err, tt.want)
			var ge *GraphError
			assert.True(t, errors.As(err, &ge))
			assert.Len(t, h.Nodes(), before)
		})
	}
}

func TestAddedNodeReceivesBlocks(t *testing.T) {
	registerProbes(t)
	b := bus.New()
	rec := record(b, signalProbe)
	h := New(testConfig(t, func(c *config.Config) {
		c.Analysis.Tasks.Beat = true
		c.Analysis.BlockSize = 4096
	}), b)
	require.NoError(t, h.Build())

	_, err := h.AddNode("BlockProbe", WithID("probe"), WithParent("frequency-0"))
	require.NoError(t, err)
	feedFrames(t, h, 8)
	require.NoError(t, h.Close())

	got := rec.get(signalProbe)
	require.NotEmpty(t, got)
	for _, e := range got {
		assert.Equal(t, 4096, e.payload)
	}
}

func TestRemoveNodeStopsSubtree(t *testing.T) {
	b := bus.New()
	rec := record(b, bus.SignalPitch, bus.SignalBeats)
	h := New(testConfig(t, func(c *config.Config) {
		c.Analysis.Tasks = config.Tasks{Pitch: true, Bands: true, Beat: true}
	}), b)
	require.NoError(t, h.Build())

	h.mu.RLock()
	subtree := []*node{h.nodes["spectrum-0"], h.nodes["pitch-0"], h.nodes["bands-0"]}
	h.mu.RUnlock()

	require.NoError(t, h.RemoveNode("spectrum-0"))
	for _, n := range subtree {
		_, ok := h.Descriptor(n.id)
		assert.False(t, ok, n.id)
		select {
		case <-n.done:
		default:
			t.Errorf("%s still running", n.id)
		}
	}
	freq, _ := h.Descriptor("frequency-0")
	assert.Equal(t, []string{"bpm-0"}, freq.Peers)

	assert.ErrorIs(t, h.RemoveNode(RootID), ErrRoot)
	assert.ErrorIs(t, h.RemoveNode("spectrum-0"), ErrNotFound)

	feedFrames(t, h, 20)
	require.NoError(t, h.Close())
	assert.Zero(t, rec.count(bus.SignalPitch))
	assert.Equal(t, 20, rec.count(bus.SignalBeats))
}

func TestCleanRemovesIdleCoordinators(t *testing.T) {
	h := build(t, testConfig(t, func(c *config.Config) {
		c.Analysis.Tasks = config.Tasks{Pitch: true, Bands: true, Genre: true, Beat: true}
	}))
	for _, id := range []string{"pitch-0", "bands-0", "genre-0"} {
		require.NoError(t, h.RemoveNode(id))
	}
	_, err := h.AddNode("SpectrumCoordinator", WithID("my-spectrum"), WithParent("frequency-0"))
	require.NoError(t, err)

	removed, err := h.Clean()
	require.NoError(t, err)
	assert.Equal(t, []string{"ffts-0", "spectrogram-0", "spectrum-0"}, removed)

	freq, _ := h.Descriptor("frequency-0")
	assert.Equal(t, []string{"bpm-0", "my-spectrum"}, freq.Peers)

	removed, err = h.Clean()
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestUpdateNodesAppliesParameters(t *testing.T) {
	b := bus.New()
	rec := record(b, bus.SignalSpectrum)
	cfg := testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Bands = true })
	h := New(cfg, b)
	require.NoError(t, h.Build())

	cfg.Analysis.BlockSize = 4096
	require.NoError(t, h.UpdateNodes())
	feedFrames(t, h, 8)
	require.NoError(t, h.Close())

	got := rec.get(bus.SignalSpectrum)
	require.NotEmpty(t, got)
	for _, e := range got {
		assert.Len(t, e.payload, 2048)
	}
}

func TestUpdateNodesRejectsShapeChanges(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Pitch = true })
	h := build(t, cfg)
	before := ids(h)

	cfg.Analysis.Tasks.Beat = true
	assert.ErrorIs(t, h.UpdateNodes(), ErrShape)
	cfg.Analysis.Tasks.Beat = false

	cfg.Analysis.PitchAlgorithm = config.PitchHPS
	assert.ErrorIs(t, h.UpdateNodes(), ErrShape)
	cfg.Analysis.PitchAlgorithm = config.PitchAutoCorrelation

	cfg.Analysis.BlockSize = 100
	assert.ErrorIs(t, h.UpdateNodes(), config.ErrInvalid)

	assert.Equal(t, before, ids(h))
}

func TestResetRebuilds(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Bands = true })
	h := build(t, cfg)
	_, err := h.AddNode("BandsWorker", WithID("extra"), WithParent("spectrum-0"))
	require.NoError(t, err)

	cfg.Analysis.Tasks.Beat = true
	require.NoError(t, h.Reset())
	assert.Equal(t, []string{
		"root", "frequency-0", "spectrum-0", "bands-0", "bpm-0", "bpm-worker-0",
	}, ids(h))

	cfg.Analysis.BlockSize = 100
	assert.ErrorIs(t, h.Reset(), config.ErrInvalid)
	assert.Len(t, h.Nodes(), 6, "a failed reset keeps the running graph")
}

func TestPanickingNodeIsMarkedDead(t *testing.T) {
	registerProbes(t)
	b := bus.New()
	rec := record(b, bus.SignalWaveform, bus.SignalBeats)
	h := New(testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Beat = true }), b)
	require.NoError(t, h.Build())

	_, err := h.AddNode("PanicProbe", WithID("boom"), WithParent("frequency-0"))
	require.NoError(t, err)
	feedFrames(t, h, 1)
	require.Eventually(t, func() bool {
		d, ok := h.Descriptor("boom")
		return ok && d.Dead
	}, 2*time.Second, 5*time.Millisecond)

	feedFrames(t, h, 9)
	require.NoError(t, h.Close())
	assert.Equal(t, 10, rec.count(bus.SignalWaveform))
	assert.Equal(t, 10, rec.count(bus.SignalBeats), "siblings keep running")
}

func TestClosedHierarchy(t *testing.T) {
	h := build(t, testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Beat = true }))
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	assert.ErrorIs(t, h.Feed(make([]int16, 4)), ErrClosed)
	assert.ErrorIs(t, h.Build(), ErrClosed)
	assert.ErrorIs(t, h.Reset(), ErrClosed)
	assert.ErrorIs(t, h.RemoveNode("bpm-0"), ErrClosed)
	_, err := h.AddNode("BPMWorker", WithParent("bpm-0"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegisterKindConflict(t *testing.T) {
	_, err := RegisterKind(Spec{Name: "BandsWorker", New: newBands})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = RegisterKind(Spec{Name: "Nameless"})
	assert.ErrorIs(t, err, ErrShape)
}

func TestExportWritesLabelledTiles(t *testing.T) {
	var buf bytes.Buffer
	w := export.NewWriter(&buf)
	cfg := testConfig(t, func(c *config.Config) { c.Analysis.Tasks.ExportSpectrograms = true })

	samples := utils.Sine(1024*130, 44100, 2000, 8000)
	rec := runGraph(t, cfg, samples, WithTileWriter(w))
	assert.Zero(t, rec.count(bus.SignalGenre), "genre is not published when only exporting")
	assert.NotZero(t, rec.count(bus.SignalSpectrogram))

	records, err := export.ReadAll(&buf)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, genre.NA, r.Label)
		assert.Len(t, r.Data, r.Rows*r.Cols)
	}
}

func TestGenrePublishesPredictions(t *testing.T) {
	var calls sync.Map
	predict := genre.PredictorFunc(func(_ context.Context, tile []float32) (genre.Prediction, error) {
		calls.Store(len(tile), true)
		return genre.Prediction{Class: 2}, nil
	})
	cfg := testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Genre = true })

	samples := utils.Sine(1024*130, 44100, 2000, 8000)
	rec := runGraph(t, cfg, samples, WithPredictors(func() (genre.Predictor, error) { return predict, nil }))

	got := rec.get(bus.SignalGenre)
	require.NotEmpty(t, got)
	for _, e := range got {
		assert.Equal(t, "Hip-Hop", e.payload)
	}
	_, ok := calls.Load(128 * 128)
	assert.True(t, ok)
}

func TestGenreFallsBackToNA(t *testing.T) {
	failing := genre.PredictorFunc(func(context.Context, []float32) (genre.Prediction, error) {
		return genre.Prediction{}, errors.New("model offline")
	})
	cfg := testConfig(t, func(c *config.Config) { c.Analysis.Tasks.Genre = true })

	samples := utils.Sine(1024*130, 44100, 2000, 8000)
	rec := runGraph(t, cfg, samples, WithPredictors(func() (genre.Predictor, error) { return failing, nil }))

	got := rec.get(bus.SignalGenre)
	require.NotEmpty(t, got)
	for _, e := range got {
		assert.Equal(t, genre.NA, e.payload)
	}
}
