// SPDX-License-Identifier: MIT
package analysis

import "math"

// NoteNA is published in place of a note name when the pitch is undefined.
const NoteNA = "N/A"

// ReferencePitch is A4 in Hz.
const ReferencePitch = 440.0

var noteNames = [12]string{"C", "C#/Db", "D", "D#/Eb", "E", "F", "F#/Gb", "G", "G#/Ab", "A", "A#/Bb", "B"}

// Note is the nearest equal-tempered note to a pitch.
type Note struct {
	Name     string `json:"name"`
	CentsOff int    `json:"cents_off"`
}

// NoteFromPitch maps a frequency to its nearest note. Frequencies that are
// not finite and positive map to {N/A, 0}.
func NoteFromPitch(f float64) Note {
	if !(f > 0) || math.IsInf(f, 0) {
		return Note{Name: NoteNA}
	}
	midi := math.Round(69 + 12*math.Log2(f/ReferencePitch))
	ref := ReferencePitch * math.Pow(2, (midi-69)/12)
	cents := math.Round(1200 * math.Log2(f/ref))
	cents = math.Max(-50, math.Min(50, cents))

	idx := int(midi) % 12
	if idx < 0 {
		idx += 12
	}
	return Note{Name: noteNames[idx], CentsOff: int(cents)}
}

// NoteNames returns the twelve pitch class names starting at C.
func NoteNames() []string {
	out := make([]string, len(noteNames))
	copy(out, noteNames[:])
	return out
}
