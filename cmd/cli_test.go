// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	resampler "github.com/tphakala/go-audio-resampler"

	"soundscope/internal/analysis"
	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/graph"
	"soundscope/internal/log"
	"soundscope/internal/transport"
	"soundscope/internal/transport/udp"
	"soundscope/pkg/utils"
)

const testConfigYAML = `
log_level: warn
audio:
  channels: 2
analysis:
  merge_channels: false
  tasks: {pitch: true, beat: true, genre: false, export_spectrograms: false, bands: false}
recording:
  output_dir: %s
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Replace(testConfigYAML, "%s", filepath.Join(dir, "recordings"), 1)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNodesCommand(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "nodes")
	require.NoError(t, err)

	var nodes []graph.Descriptor
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	assert.ElementsMatch(t, []string{
		"root",
		"frequency-0", "spectrum-0", "pitch-0", "bpm-0", "bpm-worker-0",
		"frequency-1", "spectrum-1", "pitch-1", "bpm-1", "bpm-worker-1",
	}, ids)
	assert.Equal(t, "root", nodes[0].ID)
	assert.Equal(t, "Root", nodes[0].Kind)
}

func TestNodesCommandMono(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "nodes", "--channels", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "frequency-1")
}

func TestFlagsAreValidated(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "nodes", "--channels", "9")
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "nodes")
	assert.Error(t, err)
}

func writeTone(t *testing.T, path string, seconds float64) {
	t.Helper()
	samples := utils.Sine(int(seconds*44100), 44100, 440, 12000)
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 44100, 16, 1, 1)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: 44100},
		Data:   data,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestFileCommand(t *testing.T) {
	dir := t.TempDir()
	tone := filepath.Join(dir, "tone.wav")
	writeTone(t, tone, 2)
	rec := filepath.Join(dir, "copy.wav")

	out, err := execute(t, "--config", writeConfig(t), "file", tone, "--record", "--output", rec)
	require.NoError(t, err)

	assert.Contains(t, out, "channel 0: note A")
	assert.NotContains(t, out, "channel 1", "a mono file binds one channel")
	assert.Contains(t, out, "Recording saved to: "+rec)

	info, err := os.Stat(rec)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(2*44100))
}

func TestFileCommandErrors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "file", filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "file", "x.wav", "--quality", "ultra")
	assert.ErrorContains(t, err, "unknown resampling quality")

	_, err = execute(t, "--config", cfg, "file")
	assert.Error(t, err)
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		name string
		want resampler.QualityPreset
	}{
		{"quick", resampler.QualityQuick},
		{"LOW", resampler.QualityLow},
		{"", resampler.QualityMedium},
		{"high", resampler.QualityHigh},
		{"very-high", resampler.QualityVeryHigh},
	}
	for _, tt := range tests {
		got, err := parseQuality(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestSummary(t *testing.T) {
	s := newSummary()
	for _, msg := range []transport.Message{
		{Signal: bus.SignalNote, Sender: 1, Payload: analysis.Note{Name: "E", CentsOff: 4}},
		{Signal: bus.SignalNote, Sender: 0, Payload: analysis.Note{Name: analysis.NoteNA}},
		{Signal: bus.SignalBPM, Sender: 0, Payload: 120.0},
		{Signal: bus.SignalGenre, Sender: 1, Payload: "Jazz"},
	} {
		require.NoError(t, s.Send(msg))
	}

	var out bytes.Buffer
	s.write(&out)
	assert.Equal(t, "channel 0: note N/A bpm 120.0\nchannel 1: note E +4 cents genre Jazz\n", out.String())
}

func TestStartSinks(t *testing.T) {
	prev := log.GetLevel()
	log.SetLevel(log.LevelInfo)
	t.Cleanup(func() { log.SetLevel(prev) })

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.NewConfig()
	cfg.Transport.WebSocketEnabled = true
	cfg.Transport.WebSocketAddress = "127.0.0.1:0"
	cfg.Transport.UDPEnabled = true
	cfg.Transport.UDPTargetAddress = ln.LocalAddr().String()
	cfg.Transport.UDPSendInterval = 5 * time.Millisecond

	b := bus.New()
	s, err := startSinks(cfg, b)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers(bus.SignalPitch), "websocket bridges every signal")
	assert.Equal(t, 2, b.Subscribers(bus.SignalSpectrum))

	b.Send(bus.SignalSpectrum, 0, []float64{0.5, 1})
	require.NoError(t, ln.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := ln.ReadFromUDP(buf)
	require.NoError(t, err)
	pkt, err := udp.DecodePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1}, pkt.Magnitudes)

	require.NoError(t, s.Close())
	assert.Zero(t, b.Subscribers(bus.SignalSpectrum))
}

func TestStartSinksBadAddress(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Transport.UDPEnabled = true
	cfg.Transport.UDPTargetAddress = "no-port"

	b := bus.New()
	_, err := startSinks(cfg, b)
	assert.Error(t, err)
	assert.Zero(t, b.Subscribers(bus.SignalSpectrum))
}
