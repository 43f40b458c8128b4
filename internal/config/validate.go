// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"soundscope/internal/analysis"
	"soundscope/internal/log"
	"soundscope/pkg/bitint"
)

// ErrInvalid is matched by every ConfigError.
var ErrInvalid = errors.New("invalid configuration")

// ConfigError reports an option with an invalid type or range.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) true for any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks ranges and enumerations. It does not check that any task
// is enabled; that is a build-time condition.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		return invalid("log_level", "unknown level %q", c.LogLevel)
	}

	a := c.Audio
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return invalid("audio.sample_rate", "%.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.Channels < MinChannels || a.Channels > MaxChannels {
		return invalid("audio.channels", "%d outside [%d, %d]", a.Channels, MinChannels, MaxChannels)
	}
	if a.FramesPerSample <= 0 {
		return invalid("audio.frames_per_sample", "must be positive, got %d", a.FramesPerSample)
	}

	an := c.Analysis
	if an.BlockSize < MinBlockSize {
		return invalid("analysis.block_size", "%d is below the minimum of %d", an.BlockSize, MinBlockSize)
	}
	if an.BlockSize < a.FramesPerSample {
		return invalid("analysis.block_size", "%d is smaller than frames_per_sample %d", an.BlockSize, a.FramesPerSample)
	}
	if !bitint.IsPowerOfTwo(an.BlockSize) {
		log.Warnf("config: analysis.block_size %d is not a power of two; FFTs will be slower (next is %d)",
			an.BlockSize, bitint.NextPowerOfTwo(an.BlockSize))
	}
	if _, err := analysis.ParseWindowFunc(an.Window); err != nil {
		return invalid("analysis.window", "unknown window %q", an.Window)
	}
	switch an.PitchAlgorithm {
	case PitchZeroCrossings, PitchFFT, PitchAutoCorrelation, PitchHPS:
	default:
		return invalid("analysis.pitch_algorithm", "%q is not one of zc, fft, ac, hps", an.PitchAlgorithm)
	}
	if an.HPSHarmonics < MinHPSHarmonics || an.HPSHarmonics > MaxHPSHarmonics {
		return invalid("analysis.hps_harmonics", "%d outside [%d, %d]", an.HPSHarmonics, MinHPSHarmonics, MaxHPSHarmonics)
	}
	switch an.BeatAlgorithm {
	case BeatEnergy, BeatDescending:
	default:
		return invalid("analysis.beat_algorithm", "%q is not one of ed, dc", an.BeatAlgorithm)
	}
	if an.BeatDescRate <= 0 {
		return invalid("analysis.beat_desc_rate", "must be positive, got %g", an.BeatDescRate)
	}
	if an.BeatInitialThreshold < 0 {
		return invalid("analysis.beat_initial_threshold", "must not be negative, got %g", an.BeatInitialThreshold)
	}
	if an.BeatLowCut < 0 || an.BeatLowPass < 0 {
		return invalid("analysis.beat_low_cut", "pre-filter edges must not be negative")
	}
	if an.BeatLowCut > 0 && an.BeatLowPass > 0 && an.BeatLowCut >= an.BeatLowPass {
		return invalid("analysis.beat_low_cut", "%g must be below beat_low_pass %g", an.BeatLowCut, an.BeatLowPass)
	}
	if an.BandpassLow <= 0 || an.BandpassLow >= an.BandpassHigh {
		return invalid("analysis.bandpass_low", "need 0 < bandpass_low < bandpass_high, got %g and %g", an.BandpassLow, an.BandpassHigh)
	}
	if an.BandpassLow >= c.Nyquist() {
		return invalid("analysis.bandpass_low", "%g is at or above the Nyquist frequency %g", an.BandpassLow, c.Nyquist())
	}
	if an.NoiseFloor < 0 {
		return invalid("analysis.noise_floor", "must not be negative, got %g", an.NoiseFloor)
	}
	if an.RootQueueWatermark < 0 {
		return invalid("analysis.root_queue_watermark", "must not be negative, got %d", an.RootQueueWatermark)
	}
	if an.Tasks.Bands && len(an.Bands) == 0 {
		return invalid("analysis.bands", "bands task is enabled but no bands are configured")
	}
	for name, r := range an.Bands {
		if name == "" {
			return invalid("analysis.bands", "band names must not be empty")
		}
		if r.Low < 0 || r.Low > r.High {
			return invalid("analysis.bands."+name, "need 0 <= low <= high, got [%g, %g]", r.Low, r.High)
		}
	}

	if c.Genre.Timeout < 0 {
		return invalid("genre.timeout", "must not be negative, got %s", c.Genre.Timeout)
	}
	if an.Tasks.ExportSpectrograms && c.Export.Path == "" {
		return invalid("export.path", "export_spectrograms is enabled but no path is set")
	}

	if c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 && c.Recording.BitDepth != 32 {
		return invalid("recording.bit_depth", "%d is not one of 16, 24, 32", c.Recording.BitDepth)
	}

	t := c.Transport
	if t.UDPEnabled {
		if !strings.Contains(t.UDPTargetAddress, ":") {
			return invalid("transport.udp_target_address", "%q appears invalid (missing port?)", t.UDPTargetAddress)
		}
		if t.UDPSendInterval <= 0 || t.UDPSendInterval > time.Minute {
			return invalid("transport.udp_send_interval", "%s outside (0, 1m]", t.UDPSendInterval)
		}
	}
	if t.WebSocketEnabled && t.WebSocketAddress == "" {
		return invalid("transport.websocket_address", "must be set when the websocket sink is enabled")
	}
	return nil
}
