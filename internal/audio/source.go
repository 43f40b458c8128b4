// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"

	"soundscope/internal/config"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNoDevice          = errors.New("no such audio device")
	ErrRunning           = errors.New("engine is running")
	ErrRecording         = errors.New("already recording")
)

// SourceError reports a source that cannot be opened or bound.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("audio source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Format is what a source delivers: interleaved int16 frames of
// FramesPerSample samples per channel.
type Format struct {
	SampleRate      float64
	Channels        int
	FramesPerSample int
}

// Source supplies interleaved PCM. Start begins delivery on the source's
// own goroutine and returns; sink must not retain the slice. Stop is
// idempotent.
type Source interface {
	Name() string
	Format() Format
	Start(sink func([]int16)) error
	Stop() error
}

// Finite is implemented by sources that end on their own, such as files.
type Finite interface {
	Done() <-chan struct{}
}

// checkFormat enforces the admission contract.
func checkFormat(name string, f Format) error {
	switch {
	case f.SampleRate < config.MinSampleRate || f.SampleRate > config.MaxSampleRate:
		return &SourceError{Source: name, Err: fmt.Errorf("%w: sample rate %.0f outside [%d, %d]",
			ErrUnsupportedFormat, f.SampleRate, config.MinSampleRate, config.MaxSampleRate)}
	case f.Channels < config.MinChannels || f.Channels > config.MaxChannels:
		return &SourceError{Source: name, Err: fmt.Errorf("%w: %d channels outside [%d, %d]",
			ErrUnsupportedFormat, f.Channels, config.MinChannels, config.MaxChannels)}
	case f.FramesPerSample <= 0:
		return &SourceError{Source: name, Err: fmt.Errorf("%w: frames per sample must be positive, got %d",
			ErrUnsupportedFormat, f.FramesPerSample)}
	}
	return nil
}
