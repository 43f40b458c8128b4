// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"soundscope/internal/log"
)

var recLog = log.Named("Recording")

// recording writes admitted frames to a WAV file.
type recording struct {
	mu         sync.Mutex
	path       string
	outputFile *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer // Reusable buffer for format conversion
	shift      uint             // int16 to bit depth
	failed     bool
}

func (r *recording) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wavEncoder != nil
}

func (r *recording) start(path string, rate float64, channels, bitDepth int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder != nil {
		return fmt.Errorf("%w: %s", ErrRecording, r.path)
	}

	var shift uint
	switch bitDepth {
	case 16:
	case 24:
		shift = 8
	case 32:
		shift = 16
	default:
		return fmt.Errorf("%w: %d-bit recording", ErrUnsupportedFormat, bitDepth)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	r.path = path
	r.outputFile = file
	r.shift = shift
	r.wavEncoder = wav.NewEncoder(file, int(rate), bitDepth, channels, 1)
	r.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  int(rate),
		},
		SourceBitDepth: bitDepth,
	}
	return nil
}

// write converts and encodes one admitted frame. Errors are reported once
// per recording.
func (r *recording) write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return
	}
	if cap(r.sampleBuf.Data) < len(samples) {
		r.sampleBuf.Data = make([]int, len(samples))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(samples)]
	for i, sample := range samples {
		r.sampleBuf.Data[i] = int(sample) << r.shift
	}
	if err := r.wavEncoder.Write(r.sampleBuf); err != nil && !r.failed {
		r.failed = true
		recLog.Errorf("Error writing to WAV file %s: %v", r.path, err)
	}
}

// stop finalises the header and closes the file.
func (r *recording) stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return nil
	}
	encErr := r.wavEncoder.Close()
	fileErr := r.outputFile.Close()
	r.wavEncoder, r.outputFile, r.sampleBuf, r.failed = nil, nil, nil, false
	if encErr != nil {
		return fmt.Errorf("failed to finalise recording: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close recording: %w", fileErr)
	}
	return nil
}

// StartRecording records the raw interleaved input to a WAV file at the
// configured bit depth. An empty path picks a timestamped file in the
// configured output directory. It returns the path written to.
func (e *Engine) StartRecording(path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startRecording(path)
}

func (e *Engine) startRecording(path string) (string, error) {
	if path == "" {
		dir := e.cfg.Recording.OutputDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create recording directory: %w", err)
		}
		path = filepath.Join(dir, "recording-"+time.Now().Format("20060102-150405")+".wav")
	}
	a := e.cfg.Audio
	if err := e.rec.start(path, a.SampleRate, a.Channels, e.cfg.Recording.BitDepth); err != nil {
		return "", err
	}
	e.log.Infof("recording to %s", path)
	return path, nil
}

// StopRecording finishes the current recording. Without one it is a no-op.
func (e *Engine) StopRecording() error {
	return e.rec.stop()
}
