// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"soundscope/internal/bus"
	"soundscope/internal/log"
	"soundscope/internal/transport"
)

const (
	headerSize = 4 + 8 + 2
	// maxDatagram is the largest IPv4 UDP payload.
	maxDatagram = 65507
	// MaxMagnitudes fit in one datagram after the header.
	MaxMagnitudes = (maxDatagram - headerSize) / 4
)

// Sender is what the publisher writes packets to.
type Sender interface {
	Send(data []byte) error
}

// SpectrumPublisher keeps the latest spectrum of one channel and sends it
// over UDP at a fixed interval, so packets go out at a steady rate no
// matter how often the graph publishes. It is a transport.Transport; bridge
// it to bus.SignalSpectrum.
type SpectrumPublisher struct {
	sender   Sender
	interval time.Duration
	channel  int

	mu     sync.Mutex // guards latest, fresh and Start/Stop state
	latest []float32
	fresh  bool

	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup

	sequenceNum  uint32
	packetBuffer *bytes.Buffer
	scratch      []float32
	log          *log.Logger
}

// NewSpectrumPublisher creates a publisher for the given channel. An
// interval <= 0 defaults to 16ms (~60Hz).
func NewSpectrumPublisher(interval time.Duration, sender Sender, channel int) (*SpectrumPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("spectrum publisher: UDP sender cannot be nil")
	}
	l := log.Named("SpectrumPublisher")
	if interval <= 0 {
		interval = 16 * time.Millisecond
		l.Warnf("invalid interval, defaulting to %s", interval)
	}
	return &SpectrumPublisher{
		sender:       sender,
		interval:     interval,
		channel:      channel,
		packetBuffer: new(bytes.Buffer),
		log:          l,
	}, nil
}

// Send records a spectrum for the next tick. Other signals and channels are
// ignored.
func (p *SpectrumPublisher) Send(msg transport.Message) error {
	if msg.Signal != bus.SignalSpectrum || msg.Sender != p.channel {
		return nil
	}
	mags, ok := msg.Payload.([]float64)
	if !ok {
		return fmt.Errorf("spectrum payload is %T", msg.Payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = decimate(p.latest, mags)
	p.fresh = true
	return nil
}

// decimate converts to float32 and, when the spectrum has more bins than
// fit in a datagram, keeps the peak of each group of bins.
func decimate(dst []float32, mags []float64) []float32 {
	group := (len(mags) + MaxMagnitudes - 1) / MaxMagnitudes
	group = max(group, 1)
	n := (len(mags) + group - 1) / group
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		peak := mags[i*group]
		for _, v := range mags[i*group+1 : min((i+1)*group, len(mags))] {
			peak = max(peak, v)
		}
		dst[i] = float32(peak)
	}
	return dst
}

// Start begins the periodic publishing process. Calling it while running is
// a no-op.
func (p *SpectrumPublisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		p.log.Warnf("Start called but already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})

	ticker, done := p.ticker, p.doneChan
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-done:
				return
			}
		}
	}()
	p.log.Infof("publishing channel %d every %s", p.channel, p.interval)
}

// Stop halts the publisher and waits for its goroutine. Calling it again is
// a no-op.
func (p *SpectrumPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

/*
UDP Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |   Magnitude   |       Magnitudes        |
|      (uint32)     |  (int64, ns epoch)    |  Count (N)    |      (N * float32)      |
+-------------------+-----------------------+---------------+-------------------------+
*/

// buildAndSendPacket sends the latest spectrum if a new one arrived since
// the previous tick.
func (p *SpectrumPublisher) buildAndSendPacket() {
	p.mu.Lock()
	if !p.fresh {
		p.mu.Unlock()
		return
	}
	p.scratch = append(p.scratch[:0], p.latest...)
	p.fresh = false
	p.mu.Unlock()

	p.sequenceNum++
	packet, err := encodePacket(p.packetBuffer, p.sequenceNum, time.Now().UnixNano(), p.scratch)
	if err != nil {
		p.log.Errorf("error packing data into binary buffer: %v", err)
		return
	}
	if err := p.sender.Send(packet); err == nil {
		p.log.Debugf("sent packet %d (%d bytes)", p.sequenceNum, len(packet))
	}
}

func encodePacket(buf *bytes.Buffer, seq uint32, timestamp int64, mags []float32) ([]byte, error) {
	buf.Reset()
	err := binary.Write(buf, binary.BigEndian, seq)
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, timestamp)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, uint16(len(mags)))
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, mags)
	}
	return buf.Bytes(), err
}

// Packet is a decoded datagram.
type Packet struct {
	Sequence   uint32
	Timestamp  time.Time
	Magnitudes []float32
}

// DecodePacket parses a datagram written by SpectrumPublisher.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < headerSize {
		return Packet{}, fmt.Errorf("packet of %d bytes is shorter than the header", len(data))
	}
	n := int(binary.BigEndian.Uint16(data[12:14]))
	if len(data) != headerSize+4*n {
		return Packet{}, fmt.Errorf("packet of %d bytes does not hold %d magnitudes", len(data), n)
	}
	pkt := Packet{
		Sequence:   binary.BigEndian.Uint32(data[0:4]),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(data[4:12]))),
		Magnitudes: make([]float32, n),
	}
	if err := binary.Read(bytes.NewReader(data[headerSize:]), binary.BigEndian, pkt.Magnitudes); err != nil {
		return Packet{}, err
	}
	return pkt, nil
}

// Close stops the publisher.
func (p *SpectrumPublisher) Close() error {
	return p.Stop()
}

var _ transport.Transport = (*SpectrumPublisher)(nil)
