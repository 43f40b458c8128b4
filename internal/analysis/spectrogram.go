// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"math/cmplx"

	"github.com/tphakala/simd/f64"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrogram tile geometry.
const (
	TileFrame   = 1024             // samples per column
	TileBins    = TileFrame / 2    // magnitudes per column
	TileColumns = 128              // columns per tile
	TilePool    = 4                // frequency bins averaged per output bin
	TileRows    = TileBins / TilePool
	FloorDB     = -120.0           // dB clip
)

// TileBuilder turns 1024-sample frames into L2-normalised magnitude columns
// and keeps the most recent 128 of them.
type TileBuilder struct {
	fft    *fourier.FFT
	window []float64
	input  []float64
	coeffs []complex128
	ring   [][]float64
	head   int
	count  int
}

// NewTileBuilder allocates the FFT and column ring.
func NewTileBuilder() *TileBuilder {
	ring := make([][]float64, TileColumns)
	for i := range ring {
		ring[i] = make([]float64, TileBins)
	}
	return &TileBuilder{
		fft:    fourier.NewFFT(TileFrame),
		window: NewWindow(TileFrame, Hann),
		input:  make([]float64, TileFrame),
		coeffs: make([]complex128, TileFrame/2+1),
		ring:   ring,
	}
}

// Add appends the column for frame (shorter frames are zero-padded). Once
// 128 columns are held it returns a copy of them, oldest first, on every
// call.
func (b *TileBuilder) Add(frame []float64) ([][]float64, bool) {
	n := copy(b.input, frame)
	clear(b.input[n:])
	for i, w := range b.window {
		b.input[i] *= w
	}
	b.coeffs = b.fft.Coefficients(b.coeffs, b.input)

	col := b.ring[b.head]
	for k := range col {
		col[k] = cmplx.Abs(b.coeffs[k])
	}
	NormalizeL2(col)

	b.head = (b.head + 1) % TileColumns
	if b.count < TileColumns {
		b.count++
	}
	if b.count < TileColumns {
		return nil, false
	}

	tile := make([][]float64, TileColumns)
	for i := range tile {
		src := b.ring[(b.head+i)%TileColumns]
		tile[i] = append([]float64(nil), src...)
	}
	return tile, true
}

// Len returns how many columns are held.
func (b *TileBuilder) Len() int { return b.count }

// Reset drops every held column.
func (b *TileBuilder) Reset() {
	b.head, b.count = 0, 0
}

// TileWindowSum is the sum of the Hann window used for tile columns.
func TileWindowSum() float64 {
	return f64.Sum(NewWindow(TileFrame, Hann))
}

// Spectrogram is a dB tile with its axes. Data is indexed [time][frequency].
type Spectrogram struct {
	Times []float64   `json:"times"`
	Freqs []float64   `json:"freqs"`
	Data  [][]float64 `json:"data"`
}

// NewSpectrogram converts magnitude columns to dB, 20*log10(|X|*2/windowSum)
// clipped at -120, and averages groups of four adjacent frequency bins.
// Times are column centres in seconds from the start of the tile; Freqs are
// pooled bin centres in Hz.
func NewSpectrogram(columns [][]float64, rate, windowSum float64) *Spectrogram {
	sg := &Spectrogram{
		Times: make([]float64, len(columns)),
		Freqs: make([]float64, TileRows),
		Data:  make([][]float64, len(columns)),
	}
	scale := 2 / windowSum
	for t, col := range columns {
		sg.Times[t] = (float64(t*TileFrame) + TileFrame/2) / rate
		row := make([]float64, TileRows)
		for j := range row {
			sum := 0.0
			for k := j * TilePool; k < (j+1)*TilePool && k < len(col); k++ {
				sum += toDB(col[k] * scale)
			}
			row[j] = sum / TilePool
		}
		sg.Data[t] = row
	}
	binHz := rate / TileFrame
	for j := range sg.Freqs {
		sg.Freqs[j] = (float64(j*TilePool) + float64(TilePool-1)/2) * binHz
	}
	return sg
}

func toDB(mag float64) float64 {
	if !(mag > 0) {
		return FloorDB
	}
	return math.Max(20*math.Log10(mag), FloorDB)
}

// Float32 flattens Data row-major for the classifier and the tile dump.
func (s *Spectrogram) Float32() []float32 {
	out := make([]float32, 0, len(s.Data)*TileRows)
	for _, row := range s.Data {
		for _, v := range row {
			out = append(out, float32(v))
		}
	}
	return out
}
