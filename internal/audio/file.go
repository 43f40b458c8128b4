// SPDX-License-Identifier: MIT
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	resampler "github.com/tphakala/go-audio-resampler"

	"soundscope/internal/log"
)

// FileOptions controls how a file is decoded and delivered.
type FileOptions struct {
	// SampleRate is the rate delivered to the engine. Zero keeps the file
	// rate; anything else resamples.
	SampleRate float64
	// FramesPerSample frames per channel per delivery.
	FramesPerSample int
	// Paced delivers one frame per frame duration. Otherwise frames are
	// delivered as fast as the sink accepts them.
	Paced bool
	// Quality of the resampler when the rates differ.
	Quality resampler.QualityPreset
}

// FileSource plays a decoded WAV or MP3 file. The whole file is decoded at
// open time.
type FileSource struct {
	name    string
	format  Format
	samples []int16 // interleaved
	paced   bool

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	log     *log.Logger
}

var (
	_ Source = (*FileSource)(nil)
	_ Finite = (*FileSource)(nil)
)

// OpenFile decodes path by extension.
func OpenFile(path string, opts FileOptions) (*FileSource, error) {
	if opts.FramesPerSample <= 0 {
		return nil, &SourceError{Source: path, Err: fmt.Errorf("%w: frames per sample must be positive", ErrUnsupportedFormat)}
	}

	var (
		samples  []int16
		rate     int
		channels int
		err      error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		samples, rate, channels, err = decodeWAV(path)
	case ".mp3":
		samples, rate, channels, err = decodeMP3(path)
	default:
		return nil, &SourceError{Source: path, Err: fmt.Errorf("%w: %q files are not supported", ErrUnsupportedFormat, ext)}
	}
	if err != nil {
		return nil, &SourceError{Source: path, Err: err}
	}

	l := log.Named("FileSource")
	outRate := float64(rate)
	if opts.SampleRate > 0 && opts.SampleRate != outRate {
		samples, err = resample(samples, channels, outRate, opts.SampleRate, opts.Quality)
		if err != nil {
			return nil, &SourceError{Source: path, Err: err}
		}
		l.Infof("resampled %s from %d Hz to %.0f Hz", filepath.Base(path), rate, opts.SampleRate)
		outRate = opts.SampleRate
	}

	s := &FileSource{
		name: path,
		format: Format{
			SampleRate:      outRate,
			Channels:        channels,
			FramesPerSample: opts.FramesPerSample,
		},
		samples: samples,
		paced:   opts.Paced,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     l,
	}
	if err := checkFormat(path, s.format); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) Name() string   { return s.name }
func (s *FileSource) Format() Format { return s.format }

// Duration of the decoded audio.
func (s *FileSource) Duration() time.Duration {
	frames := len(s.samples) / s.format.Channels
	return time.Duration(float64(frames) / s.format.SampleRate * float64(time.Second))
}

// Done is closed after the last frame was delivered or the source stopped.
func (s *FileSource) Done() <-chan struct{} { return s.done }

// Start delivers the file on a new goroutine. A file plays once.
func (s *FileSource) Start(sink func([]int16)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	go s.play(sink)
	return nil
}

func (s *FileSource) play(sink func([]int16)) {
	defer close(s.done)

	step := s.format.FramesPerSample * s.format.Channels
	var tick <-chan time.Time
	if s.paced {
		period := time.Duration(float64(s.format.FramesPerSample) / s.format.SampleRate * float64(time.Second))
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	frames := 0
	for off := 0; off < len(s.samples); off += step {
		if tick != nil {
			select {
			case <-tick:
			case <-s.stop:
				return
			}
		} else {
			select {
			case <-s.stop:
				return
			default:
			}
		}
		sink(s.samples[off:min(off+step, len(s.samples))])
		frames++
	}
	s.log.Debugf("delivered %d frames from %s", frames, filepath.Base(s.name))
}

// Stop halts delivery and waits for the playback goroutine.
func (s *FileSource) Stop() error {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
	return nil
}

// decodeWAV returns interleaved samples scaled to 16 bits.
func decodeWAV(path string) ([]int16, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%w: invalid wav file", ErrUnsupportedFormat)
	}

	format := decoder.Format()
	depth := int(decoder.BitDepth)
	convert, err := toInt16(depth)
	if err != nil {
		return nil, 0, 0, err
	}

	var out []int16
	buffer := &audio.IntBuffer{
		Data:   make([]int, 8192),
		Format: format,
	}
	for {
		n, err := decoder.PCMBuffer(buffer)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, 0, fmt.Errorf("error reading PCM: %w", err)
		}
		for _, v := range buffer.Data[:n] {
			out = append(out, convert(v))
		}
		if n == 0 || err != nil {
			break
		}
	}
	return out, format.SampleRate, format.NumChannels, nil
}

func toInt16(depth int) (func(int) int16, error) {
	switch depth {
	case 8:
		return func(v int) int16 { return int16((v - 128) << 8) }, nil
	case 16:
		return func(v int) int16 { return int16(v) }, nil
	case 24:
		return func(v int) int16 { return int16(v >> 8) }, nil
	case 32:
		return func(v int) int16 { return int16(v >> 16) }, nil
	}
	return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, depth)
}

// decodeMP3 returns interleaved stereo; go-mp3 always decodes to 16-bit
// little endian with two channels.
func decodeMP3(path string) ([]int16, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open mp3 file: %w", err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	var out []int16
	buf := make([]byte, 8192)
	for {
		n, err := decoder.Read(buf)
		for i := 0; i+1 < n; i += 2 {
			out = append(out, int16(binary.LittleEndian.Uint16(buf[i:i+2])))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("error reading mp3: %w", err)
		}
	}
	return out, decoder.SampleRate(), 2, nil
}

// resample converts every channel separately and reinterleaves.
func resample(samples []int16, channels int, from, to float64, quality resampler.QualityPreset) ([]int16, error) {
	frames := len(samples) / channels
	outs := make([][]float64, channels)
	n := math.MaxInt
	for ch := range channels {
		in := make([]float64, frames)
		for i := range in {
			in[i] = float64(samples[i*channels+ch]) / 32768
		}
		out, err := resampler.ResampleMono(in, from, to, quality)
		if err != nil {
			return nil, fmt.Errorf("failed to resample channel %d: %w", ch, err)
		}
		outs[ch] = out
		n = min(n, len(out))
	}

	res := make([]int16, n*channels)
	for ch, out := range outs {
		for i := range n {
			res[i*channels+ch] = clip16(out[i] * 32768)
		}
	}
	return res, nil
}

func clip16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}
