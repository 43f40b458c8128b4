// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"soundscope/internal/config"
	"soundscope/internal/log"
)

// LiveSource captures int16 frames from a PortAudio input device.
// PortAudio must be initialised for the lifetime of the source.
type LiveSource struct {
	device  *portaudio.DeviceInfo
	format  Format
	latency time.Duration

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	log    *log.Logger
}

var _ Source = (*LiveSource)(nil)

// OpenLive resolves the configured input device. The device must offer at
// least the configured number of input channels.
func OpenLive(cfg config.AudioConfig) (*LiveSource, error) {
	device, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		return nil, &SourceError{Source: device.Name, Err: fmt.Errorf("%w: device has %d input channels, %d requested",
			ErrUnsupportedFormat, device.MaxInputChannels, cfg.Channels)}
	}

	s := &LiveSource{
		device: device,
		format: Format{
			SampleRate:      cfg.SampleRate,
			Channels:        cfg.Channels,
			FramesPerSample: cfg.FramesPerSample,
		},
		latency: device.DefaultHighInputLatency,
		log:     log.Named("LiveSource"),
	}
	if cfg.LowLatency {
		s.latency = device.DefaultLowInputLatency
	}
	return s, nil
}

func (s *LiveSource) Name() string   { return s.device.Name }
func (s *LiveSource) Format() Format { return s.format }

// Start opens and starts the input stream. Each callback buffer is copied
// before sink sees it.
func (s *LiveSource) Start(sink func([]int16)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: s.format.Channels,
			Device:   s.device,
			Latency:  s.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: s.format.FramesPerSample,
		SampleRate:      s.format.SampleRate,
	}

	s.buf = make([]int16, s.format.FramesPerSample*s.format.Channels)
	stream, err := portaudio.OpenStream(params, func(in []int16) {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		n := copy(s.buf, in)
		sink(s.buf[:n])
	})
	if err != nil {
		return &SourceError{Source: s.device.Name, Err: fmt.Errorf("failed to open stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &SourceError{Source: s.device.Name, Err: fmt.Errorf("failed to start stream: %w", err)}
	}
	s.stream = stream
	s.log.Infof("capturing from %q at %.0f Hz, %d channel(s)", s.device.Name, s.format.SampleRate, s.format.Channels)
	return nil
}

// Stop stops and closes the stream. Calling it again is a no-op.
func (s *LiveSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}
