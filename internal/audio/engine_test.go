// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/graph"
	"soundscope/pkg/utils"
)

// fakeSource hands its sink to the test.
type fakeSource struct {
	format Format

	mu      sync.Mutex
	sink    func([]int16)
	started int
	stopped int
}

func (f *fakeSource) Name() string   { return "fake" }
func (f *fakeSource) Format() Format { return f.format }

func (f *fakeSource) Start(sink func([]int16)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	f.started++
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSource) push(samples []int16) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(samples)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Analysis.Tasks = config.Tasks{Pitch: true}
	cfg.Analysis.PitchAlgorithm = config.PitchFFT
	cfg.Export.Path = filepath.Join(t.TempDir(), "tiles.bin")
	cfg.Recording.OutputDir = filepath.Join(t.TempDir(), "recordings")
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// counter keeps every payload per signal.
type counter struct {
	mu     sync.Mutex
	values map[bus.Signal][]any
}

func count(e *Engine, sigs ...bus.Signal) *counter {
	c := &counter{values: map[bus.Signal][]any{}}
	for _, sig := range sigs {
		e.Connect(sig, func(payload any, _ int) {
			c.mu.Lock()
			c.values[sig] = append(c.values[sig], payload)
			c.mu.Unlock()
		})
	}
	return c
}

func (c *counter) get(sig bus.Signal) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.values[sig]...)
}

// assertMostlyNear requires most pitch values within 1 Hz of want. The
// block holding the zero padded tail of the input may drift.
func assertMostlyNear(t *testing.T, values []any, want float64) {
	t.Helper()
	require.NotEmpty(t, values)
	near := 0
	for _, v := range values {
		if f := v.(float64); f > want-1 && f < want+1 {
			near++
		}
	}
	assert.GreaterOrEqual(t, near, len(values)-1, "pitches %v", values)
}

func feedFrames(t *testing.T, e *Engine, samples []int16, width int) {
	t.Helper()
	for off := 0; off < len(samples); off += width {
		require.NoError(t, e.Feed(samples[off:min(off+width, len(samples))]))
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.SampleRate = 100
	_, err := NewEngine(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestEngineEmbeddedFeed(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	c := count(e, bus.SignalWaveform, bus.SignalPitch)

	assert.ErrorIs(t, e.Feed(make([]int16, 1024)), ErrStopped)
	require.NoError(t, e.Start())
	assert.True(t, e.Running())

	feedFrames(t, e, utils.Sine(3*testSampleRate, testSampleRate, 440, 8000), testFrameSize)
	require.NoError(t, e.Close())

	assert.Len(t, c.get(bus.SignalWaveform), 130)
	assertMostlyNear(t, c.get(bus.SignalPitch), 440)
}

func TestEngineBindAdoptsSourceFormat(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg)

	src := &fakeSource{format: Format{SampleRate: 48000, Channels: 2, FramesPerSample: 512}}
	require.NoError(t, e.Bind(src))

	got := e.Config().Audio
	assert.Equal(t, 48000.0, got.SampleRate)
	assert.Equal(t, 2, got.Channels)
	assert.Equal(t, 512, got.FramesPerSample)
}

func TestEngineBindRejectsBadFormat(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		want   error
	}{
		{"Rate too low", Format{SampleRate: 4000, Channels: 1, FramesPerSample: 1024}, ErrUnsupportedFormat},
		{"Rate too high", Format{SampleRate: 384000, Channels: 1, FramesPerSample: 1024}, ErrUnsupportedFormat},
		{"No channels", Format{SampleRate: 44100, Channels: 0, FramesPerSample: 1024}, ErrUnsupportedFormat},
		{"Too many channels", Format{SampleRate: 44100, Channels: 9, FramesPerSample: 1024}, ErrUnsupportedFormat},
		{"No frames", Format{SampleRate: 44100, Channels: 1}, ErrUnsupportedFormat},
		{"Frames beyond block", Format{SampleRate: 44100, Channels: 1, FramesPerSample: 32768}, config.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			e := newTestEngine(t, cfg)
			before := e.Config().Audio

			err := e.Bind(&fakeSource{format: tt.format})
			require.ErrorIs(t, err, tt.want)
			var se *SourceError
			assert.True(t, errors.As(err, &se))
			assert.Equal(t, before, e.Config().Audio, "a rejected source leaves the configuration intact")
		})
	}
}

func TestEngineBindWhileRunning(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	require.NoError(t, e.Start())

	err := e.Bind(&fakeSource{format: Format{SampleRate: 44100, Channels: 1, FramesPerSample: 1024}})
	assert.ErrorIs(t, err, ErrRunning)
}

func TestEngineSourceLifecycle(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	c := count(e, bus.SignalWaveform)

	src := &fakeSource{format: Format{SampleRate: 44100, Channels: 1, FramesPerSample: 1024}}
	require.NoError(t, e.Bind(src))
	require.NoError(t, e.Start())
	assert.Equal(t, 1, src.started)

	for range 4 {
		src.push(make([]int16, 1024))
	}
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.Equal(t, 1, src.stopped, "Stop is idempotent")

	select {
	case <-e.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}

	src.push(make([]int16, 1024)) // late callback after stop
	assert.ErrorIs(t, e.Feed(make([]int16, 1024)), ErrStopped)

	require.NoError(t, e.Close())
	assert.Len(t, c.get(bus.SignalWaveform), 4)
}

func TestEngineRestart(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	require.NoError(t, e.Start())
	first := e.Done()
	require.NoError(t, e.Stop())

	require.NoError(t, e.UpdateConfig(func(c *config.Config) { c.Analysis.PitchAlgorithm = config.PitchHPS }))
	require.NoError(t, e.Start())
	second := e.Done()
	assert.NotEqual(t, first, second)

	var kinds []string
	for _, d := range e.Nodes() {
		kinds = append(kinds, d.Kind)
	}
	assert.Contains(t, kinds, "HPSWorker", "restart rebuilds from the current configuration")
	assert.NotContains(t, kinds, "FFTWorker")
}

func TestEnginePauseDropsFrames(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	c := count(e, bus.SignalWaveform)
	require.NoError(t, e.Start())

	frame := make([]int16, 1024)
	for range 3 {
		require.NoError(t, e.Feed(frame))
	}
	e.Pause()
	assert.True(t, e.Paused())
	for range 3 {
		require.NoError(t, e.Feed(frame))
	}
	e.Resume()
	for range 2 {
		require.NoError(t, e.Feed(frame))
	}
	require.NoError(t, e.Close())

	assert.Len(t, c.get(bus.SignalWaveform), 5)
}

func TestEngineFileSourceFinishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a4.wav")
	writeWAV(t, path, 22050, 1, 16, utils.Sine(2*22050, 22050, 440, 8000))

	src, err := OpenFile(path, FileOptions{SampleRate: testSampleRate, FramesPerSample: testFrameSize})
	require.NoError(t, err)

	e := newTestEngine(t, testConfig(t))
	c := count(e, bus.SignalPitch)
	require.NoError(t, e.Bind(src))
	require.NoError(t, e.Start())

	select {
	case <-e.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not finish the file")
	}
	require.NoError(t, e.Close())

	assert.Equal(t, float64(testSampleRate), e.Config().Audio.SampleRate)
	assertMostlyNear(t, c.get(bus.SignalPitch), 440)
}

func TestEngineRecordingRoundTrip(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	require.NoError(t, e.Start())

	path := filepath.Join(t.TempDir(), "take.wav")
	got, err := e.StartRecording(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = e.StartRecording(filepath.Join(t.TempDir(), "other.wav"))
	assert.ErrorIs(t, err, ErrRecording)

	samples := utils.Sine(4*testFrameSize, testSampleRate, 440, 8000)
	feedFrames(t, e, samples, testFrameSize)
	require.NoError(t, e.StopRecording())
	require.NoError(t, e.StopRecording())

	decoded, rate, channels, err := decodeWAV(path)
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, rate)
	assert.Equal(t, 1, channels)
	assert.Equal(t, samples, decoded)
}

func TestEngineRecordingFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recording.Enabled = true
	cfg.Recording.BitDepth = 24
	e := newTestEngine(t, cfg)

	require.NoError(t, e.Start())
	feedFrames(t, e, make([]int16, 2*testFrameSize), testFrameSize)
	require.NoError(t, e.Close())

	entries, err := os.ReadDir(cfg.Recording.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^recording-\d{8}-\d{6}\.wav$`, entries[0].Name())
}

func TestEngineGraphOperations(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	require.NoError(t, e.Start())

	id, err := e.AddNode("BandsWorker", graph.WithID("my-bands"), graph.WithParent("spectrum-0"))
	require.NoError(t, err)
	assert.Equal(t, "my-bands", id)

	_, err = e.AddNode("NoSuchKind")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	require.NoError(t, e.UpdateConfig(func(c *config.Config) { c.Analysis.NoiseFloor = 0.25 }))
	require.NoError(t, e.UpdateNodes())

	require.NoError(t, e.RemoveNode("my-bands"))
	assert.ErrorIs(t, e.RemoveNode(graph.RootID), graph.ErrRoot)

	removed, err := e.Clean()
	require.NoError(t, err)
	assert.NotContains(t, removed, "frequency-0")

	require.NoError(t, e.Reset())
	assert.NotEmpty(t, e.Nodes())
}

func TestEngineCloseIsFinal(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	require.NoError(t, e.Start())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Start(), graph.ErrClosed)
	assert.False(t, e.Running())
}

func TestEngineDisconnect(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	var hits atomic.Int32
	tok := e.Connect(bus.SignalWaveform, func(any, int) { hits.Add(1) })
	assert.True(t, e.Disconnect(bus.SignalWaveform, tok))
	assert.False(t, e.Disconnect(bus.SignalWaveform, tok))

	require.NoError(t, e.Start())
	require.NoError(t, e.Feed(make([]int16, 1024)))
	require.NoError(t, e.Close())
	assert.Zero(t, hits.Load())
}
