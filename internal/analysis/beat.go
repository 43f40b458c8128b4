// SPDX-License-Identifier: MIT
package analysis

import (
	"gonum.org/v1/gonum/stat"
)

// Beat tracking constants.
const (
	EnergyHistory    = 43   // RMS values in the sound-energy history (about 1 s of 1024-sample frames)
	energyWarmup     = 8    // history needed before the sound-energy detector fires
	MinBeatInterval  = 0.18 // seconds, 333 BPM
	MaxBeatInterval  = 2.0  // seconds, 30 BPM
	BeatIntervalSpan = 8    // intervals averaged for BPM
)

// BeatDetector decides per frame whether an onset occurred.
type BeatDetector interface {
	Detect(rms float64) bool
	Reset()
}

// EnergyDetector declares a beat when the frame RMS exceeds the history mean
// scaled by a variance-dependent factor.
type EnergyDetector struct {
	history []float64
	next    int
}

var _ BeatDetector = (*EnergyDetector)(nil)

// NewEnergyDetector returns a detector with an empty history.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{history: make([]float64, 0, EnergyHistory)}
}

// Detect compares rms against the history and then records it.
func (d *EnergyDetector) Detect(rms float64) bool {
	beat := false
	if len(d.history) >= energyWarmup {
		mean, variance := stat.PopMeanVariance(d.history, nil)
		beat = rms > 0 && rms > mean*EnergySensitivity(variance)
	}
	if len(d.history) < EnergyHistory {
		d.history = append(d.history, rms)
	} else {
		d.history[d.next] = rms
		d.next = (d.next + 1) % EnergyHistory
	}
	return beat
}

// Reset clears the history.
func (d *EnergyDetector) Reset() {
	d.history = d.history[:0]
	d.next = 0
}

// EnergySensitivity maps history variance to the multiplier k.
func EnergySensitivity(variance float64) float64 {
	switch {
	case variance >= 200:
		return 1.1
	case variance >= 150:
		return 1.2
	case variance >= 100:
		return 1.3
	case variance >= 50:
		return 1.4
	default:
		return 1.5
	}
}

// DescendingDetector declares a beat when the RMS reaches a threshold that
// jumps to each detected peak and then decays by a fixed amount per frame.
type DescendingDetector struct {
	initial   float64
	rate      float64
	threshold float64
}

var _ BeatDetector = (*DescendingDetector)(nil)

// NewDescendingDetector starts at threshold initial and decays by rate.
func NewDescendingDetector(initial, rate float64) *DescendingDetector {
	return &DescendingDetector{initial: initial, rate: rate, threshold: initial}
}

// Detect decays the threshold, clamps it at zero and tests rms against it.
// Silence never counts as a beat.
func (d *DescendingDetector) Detect(rms float64) bool {
	d.threshold -= d.rate
	if d.threshold < 0 {
		d.threshold = 0
	}
	if rms > 0 && rms >= d.threshold {
		d.threshold = rms
		return true
	}
	return false
}

// Threshold returns the current threshold.
func (d *DescendingDetector) Threshold() float64 { return d.threshold }

// Reset restores the initial threshold.
func (d *DescendingDetector) Reset() { d.threshold = d.initial }

// BeatTracker turns per-frame detections into beats and a tempo. Time is
// counted in samples so results do not depend on wall-clock pacing.
type BeatTracker struct {
	detector  BeatDetector
	rate      float64
	clock     int64
	lastBeat  int64
	intervals []float64
}

// NewBeatTracker wraps detector for a stream at rate Hz.
func NewBeatTracker(detector BeatDetector, rate float64) *BeatTracker {
	return &BeatTracker{detector: detector, rate: rate, lastBeat: -1}
}

// Update processes the RMS of a frame of n samples. It reports whether a
// beat was declared and, if so, the current BPM (0 until two intervals are
// known).
func (t *BeatTracker) Update(rms float64, n int) (beat bool, bpm float64) {
	now := t.clock
	t.clock += int64(n)

	if !t.detector.Detect(rms) {
		return false, 0
	}
	if t.lastBeat >= 0 {
		interval := float64(now-t.lastBeat) / t.rate
		if interval <= MinBeatInterval {
			return false, 0
		}
		if interval <= MaxBeatInterval {
			t.intervals = append(t.intervals, interval)
			if len(t.intervals) > BeatIntervalSpan {
				t.intervals = t.intervals[len(t.intervals)-BeatIntervalSpan:]
			}
		}
	}
	t.lastBeat = now
	return true, t.BPM()
}

// BPM returns 60 / mean(interval window), or 0 with fewer than two intervals.
func (t *BeatTracker) BPM() float64 {
	if len(t.intervals) < 2 {
		return 0
	}
	return 60 / stat.Mean(t.intervals, nil)
}

// Detector returns the wrapped detector.
func (t *BeatTracker) Detector() BeatDetector { return t.detector }

// SetRate changes the sample rate used to convert the sample clock.
func (t *BeatTracker) SetRate(rate float64) { t.rate = rate }

// Reset clears detector state, intervals and the clock.
func (t *BeatTracker) Reset() {
	t.detector.Reset()
	t.clock = 0
	t.lastBeat = -1
	t.intervals = t.intervals[:0]
}
