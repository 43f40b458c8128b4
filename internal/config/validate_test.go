// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"rate too low", func(c *Config) { c.Audio.SampleRate = 4000 }, "audio.sample_rate"},
		{"rate too high", func(c *Config) { c.Audio.SampleRate = 384000 }, "audio.sample_rate"},
		{"no channels", func(c *Config) { c.Audio.Channels = 0 }, "audio.channels"},
		{"nine channels", func(c *Config) { c.Audio.Channels = 9 }, "audio.channels"},
		{"zero frames", func(c *Config) { c.Audio.FramesPerSample = 0 }, "audio.frames_per_sample"},
		{"small block", func(c *Config) { c.Analysis.BlockSize = 2048 }, "analysis.block_size"},
		{"block below frame", func(c *Config) {
			c.Audio.FramesPerSample = 8192
			c.Analysis.BlockSize = 4096
		}, "analysis.block_size"},
		{"non power of two block", func(c *Config) { c.Analysis.BlockSize = 44100 }, ""},
		{"unknown window", func(c *Config) { c.Analysis.Window = "gauss" }, "analysis.window"},
		{"unknown pitch", func(c *Config) { c.Analysis.PitchAlgorithm = "yin" }, "analysis.pitch_algorithm"},
		{"harmonics", func(c *Config) { c.Analysis.HPSHarmonics = 9 }, "analysis.hps_harmonics"},
		{"unknown beat", func(c *Config) { c.Analysis.BeatAlgorithm = "spectral" }, "analysis.beat_algorithm"},
		{"desc rate", func(c *Config) { c.Analysis.BeatDescRate = 0 }, "analysis.beat_desc_rate"},
		{"prefilter order", func(c *Config) { c.Analysis.BeatLowCut = 2000 }, "analysis.beat_low_cut"},
		{"prefilter disabled", func(c *Config) { c.Analysis.BeatLowCut = 0 }, ""},
		{"bandpass order", func(c *Config) { c.Analysis.BandpassHigh = 10 }, "analysis.bandpass_low"},
		{"bad band", func(c *Config) { c.Analysis.Bands["odd"] = Range{500, 100} }, "analysis.bands.odd"},
		{"no bands", func(c *Config) { c.Analysis.Bands = nil }, "analysis.bands"},
		{"no bands without task", func(c *Config) {
			c.Analysis.Bands = nil
			c.Analysis.Tasks.Bands = false
		}, ""},
		{"export without path", func(c *Config) { c.Export.Path = "" }, "export.path"},
		{"udp address", func(c *Config) {
			c.Transport.UDPEnabled = true
			c.Transport.UDPTargetAddress = "localhost"
		}, "transport.udp_target_address"},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "want ConfigError, got %T", err)
			assert.Equal(t, tt.field, ce.Field)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestUpdateIsTransactional(t *testing.T) {
	cfg := NewConfig()

	err := cfg.Update(func(c *Config) {
		c.Analysis.BlockSize = 8192
		c.Analysis.Bands["bad"] = Range{10, 5}
	})
	require.Error(t, err)
	assert.Equal(t, DefaultBlockSize, cfg.Analysis.BlockSize, "failed update must not leak")
	assert.NotContains(t, cfg.Analysis.Bands, "bad")

	require.NoError(t, cfg.Update(func(c *Config) { c.Analysis.BlockSize = 8192 }))
	assert.Equal(t, 8192, cfg.Analysis.BlockSize)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := NewConfig()
	cp := cfg.Clone()
	cp.Analysis.Bands["extra"] = Range{1, 2}
	assert.NotContains(t, cfg.Analysis.Bands, "extra")
}

func TestLogicalChannels(t *testing.T) {
	cfg := NewConfig()
	cfg.Audio.Channels = 4
	assert.Equal(t, 1, cfg.LogicalChannels())
	cfg.Analysis.MergeChannels = false
	assert.Equal(t, 4, cfg.LogicalChannels())
}
