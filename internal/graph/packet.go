// SPDX-License-Identifier: MIT
package graph

import (
	"soundscope/internal/analysis"
)

// Packet is the unit of work passed between nodes. Only the fields the
// producing stage fills are set; consumers ignore packets that lack what
// they need. Slices are owned by the packet and never written after
// forwarding.
type Packet struct {
	Channel int

	Raw         []int16               // interleaved input, root only
	Frame       []float64             // one channel frame
	Block       []float64             // block_size samples
	Spectrum    []float64             // block_size/2 magnitudes
	Columns     [][]float64           // 128 normalised tile columns
	Spectrogram *analysis.Spectrogram // dB tile
	RMS         float64               // energy of Frame
}

// Processor is the per-node computation. A processor is only ever called
// from its node's goroutine.
type Processor interface {
	Process(p Packet, out *Outlet)
}

// Flusher is implemented by drain-mode processors that act once per
// drained batch.
type Flusher interface {
	Flush(out *Outlet)
}

// Configurable is implemented by processors whose parameters can be
// re-applied without rebuilding the node.
type Configurable interface {
	Configure(env Env) error
}
