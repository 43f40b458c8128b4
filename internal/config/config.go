// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Core configuration constants that define the boundaries and defaults
// for the analysis engine.
const (
	DefaultDeviceID        = -1    // System default input device
	DefaultSampleRate      = 44100 // CD-quality audio
	DefaultChannels        = 1
	DefaultFramesPerSample = 1024
	DefaultBlockSize       = 16384
	DefaultWindow          = "hann"
	DefaultPitchAlgorithm  = "ac"
	DefaultHPSHarmonics    = 5
	DefaultBeatAlgorithm   = "ed"
	DefaultBeatDescRate    = 20
	DefaultBeatLowCut      = 60
	DefaultBeatLowPass     = 1000
	DefaultBandpassLow     = 60
	DefaultBandpassHigh    = 18000
	DefaultNoiseFloor      = 0.5
	DefaultRootWatermark   = 256
	DefaultExportPath      = "spectrograms.bin"
	DefaultGenreTimeout    = 2 * time.Second

	// Hardware and processing limits
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MinChannels     = 1
	MaxChannels     = 8
	MinBlockSize    = 4096
	MinHPSHarmonics = 2
	MaxHPSHarmonics = 7
)

// Pitch and beat algorithm names accepted by the analysis section.
const (
	PitchZeroCrossings   = "zc"
	PitchFFT             = "fft"
	PitchAutoCorrelation = "ac"
	PitchHPS             = "hps"

	BeatEnergy     = "ed"
	BeatDescending = "dc"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Genre     GenreConfig     `yaml:"genre"`
	Export    ExportConfig    `yaml:"export"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig describes the input stream. For file playback and embedded use
// the source format overwrites these values at bind time.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Hz
	Channels        int     `yaml:"channels"`          // Interleaved channel count.
	FramesPerSample int     `yaml:"frames_per_sample"` // Frames per channel per admission.
	LowLatency      bool    `yaml:"low_latency"`
}

// Tasks switches whole sub-graphs on or off.
type Tasks struct {
	Pitch              bool `yaml:"pitch"`
	Genre              bool `yaml:"genre"`
	Beat               bool `yaml:"beat"`
	ExportSpectrograms bool `yaml:"export_spectrograms"`
	Bands              bool `yaml:"bands"`
}

// Any reports whether at least one task is enabled.
func (t Tasks) Any() bool {
	return t.Pitch || t.Genre || t.Beat || t.ExportSpectrograms || t.Bands
}

// Range is a closed frequency interval in Hz, written as [lo, hi] in YAML.
type Range struct {
	Low  float64
	High float64
}

// UnmarshalYAML decodes a two element sequence.
func (r *Range) UnmarshalYAML(value *yaml.Node) error {
	var pair []float64
	if err := value.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("band range must have exactly two values, got %d", len(pair))
	}
	r.Low, r.High = pair[0], pair[1]
	return nil
}

// MarshalYAML encodes the range as a flow sequence.
func (r Range) MarshalYAML() (interface{}, error) {
	return []float64{r.Low, r.High}, nil
}

// NamedBand is a band with its configured name.
type NamedBand struct {
	Name string
	Range
}

// AnalysisConfig holds graph shape and algorithm settings.
type AnalysisConfig struct {
	MergeChannels        bool             `yaml:"merge_channels"`
	BlockSize            int              `yaml:"block_size"`
	Window               string           `yaml:"window"`
	PitchAlgorithm       string           `yaml:"pitch_algorithm"`
	HPSHarmonics         int              `yaml:"hps_harmonics"`
	BeatAlgorithm        string           `yaml:"beat_algorithm"`
	BeatDescRate         float64          `yaml:"beat_desc_rate"`
	BeatInitialThreshold float64          `yaml:"beat_initial_threshold"`
	BeatLowCut           float64          `yaml:"beat_low_cut"`
	BeatLowPass          float64          `yaml:"beat_low_pass"`
	BandpassLow          float64          `yaml:"bandpass_low"`
	BandpassHigh         float64          `yaml:"bandpass_high"`
	NoiseFloor           float64          `yaml:"noise_floor"`
	RootQueueWatermark   int              `yaml:"root_queue_watermark"`
	Tasks                Tasks            `yaml:"tasks"`
	Bands                map[string]Range `yaml:"bands"`
}

// SortedBands returns the band set ordered by lower edge, then name.
func (a AnalysisConfig) SortedBands() []NamedBand {
	out := make([]NamedBand, 0, len(a.Bands))
	for name, r := range a.Bands {
		out = append(out, NamedBand{Name: name, Range: r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Low != out[j].Low {
			return out[i].Low < out[j].Low
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// GenreConfig configures the remote classifier.
type GenreConfig struct {
	Endpoint string        `yaml:"endpoint"` // TF-Serving predict URL; empty disables prediction.
	Timeout  time.Duration `yaml:"timeout"`
}

// ExportConfig configures the spectrogram tile dump.
type ExportConfig struct {
	Path string `yaml:"path"`
}

// RecordingConfig holds settings related to input recording.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	BitDepth  int    `yaml:"bit_depth"`
}

// TransportConfig holds settings for the bus sinks.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// DefaultBands returns the seven standard presence bands.
func DefaultBands() map[string]Range {
	return map[string]Range{
		"sub-bass":   {20, 60},
		"bass":       {60, 250},
		"low-mid":    {250, 500},
		"mid":        {500, 2000},
		"upper-mid":  {2000, 4000},
		"presence":   {4000, 6000},
		"brilliance": {6000, 20000},
	}
}

// NewConfig returns a Config populated with built-in defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			FramesPerSample: DefaultFramesPerSample,
		},
		Analysis: AnalysisConfig{
			MergeChannels:      true,
			BlockSize:          DefaultBlockSize,
			Window:             DefaultWindow,
			PitchAlgorithm:     DefaultPitchAlgorithm,
			HPSHarmonics:       DefaultHPSHarmonics,
			BeatAlgorithm:      DefaultBeatAlgorithm,
			BeatDescRate:       DefaultBeatDescRate,
			BeatLowCut:         DefaultBeatLowCut,
			BeatLowPass:        DefaultBeatLowPass,
			BandpassLow:        DefaultBandpassLow,
			BandpassHigh:       DefaultBandpassHigh,
			NoiseFloor:         DefaultNoiseFloor,
			RootQueueWatermark: DefaultRootWatermark,
			Tasks: Tasks{
				Pitch:              true,
				Genre:              true,
				Beat:               true,
				ExportSpectrograms: true,
				Bands:              true,
			},
			Bands: DefaultBands(),
		},
		Genre: GenreConfig{
			Timeout: DefaultGenreTimeout,
		},
		Export: ExportConfig{
			Path: DefaultExportPath,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
			BitDepth:  16,
		},
		Transport: TransportConfig{
			WebSocketAddress: ":8080",
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond,
		},
	}
}

// LogicalChannels is the number of channel sub-graphs the hierarchy builds.
func (c *Config) LogicalChannels() int {
	if c.Analysis.MergeChannels || c.Audio.Channels <= 1 {
		return 1
	}
	return c.Audio.Channels
}

// Nyquist returns half the configured sample rate.
func (c *Config) Nyquist() float64 {
	return c.Audio.SampleRate / 2
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Analysis.Bands = make(map[string]Range, len(c.Analysis.Bands))
	for k, v := range c.Analysis.Bands {
		out.Analysis.Bands[k] = v
	}
	return &out
}

// Update applies mutate to a copy of the configuration, validates the copy
// and commits it only when valid. On failure c is left untouched.
func (c *Config) Update(mutate func(*Config)) error {
	next := c.Clone()
	mutate(next)
	if err := next.Validate(); err != nil {
		return err
	}
	*c = *next
	return nil
}
