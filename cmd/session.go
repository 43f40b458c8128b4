// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"soundscope/internal/analysis"
	"soundscope/internal/audio"
	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/log"
	"soundscope/internal/transport"
	"soundscope/internal/transport/udp"
	"soundscope/internal/tui"
)

type sessionOptions struct {
	record bool
	output string
	tui    bool
	out    io.Writer
}

// runSession analyses src until the source finishes, ctx is cancelled or
// the dashboard is closed.
func runSession(ctx context.Context, cfg *config.Config, src audio.Source, opts sessionOptions) (err error) {
	engine, err := audio.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, engine.Close()) }()

	if err := engine.Bind(src); err != nil {
		return err
	}

	sinks, err := startSinks(engine.Config(), engine.Bus())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, sinks.Close()) }()

	sum := newSummary()
	stopSummary := transport.Bridge(engine.Bus(), sum, bus.SignalNote, bus.SignalBPM, bus.SignalGenre)
	defer stopSummary()

	if opts.record {
		path, err := engine.StartRecording(opts.output)
		if err != nil {
			return err
		}
		defer fmt.Fprintf(opts.out, "Recording saved to: %s\n", path)
	}

	if err := engine.Start(); err != nil {
		return err
	}

	if opts.tui {
		var done <-chan struct{}
		if _, ok := src.(audio.Finite); ok {
			done = engine.Done()
		}
		active := engine.Config()
		names := make([]string, 0, len(active.Analysis.Bands))
		for _, b := range active.Analysis.SortedBands() {
			names = append(names, b.Name)
		}
		dash := tui.NewDashboard(src.Name(), names, active.Analysis.MergeChannels, engine, done)
		if err := tui.RunDashboard(dash, engine.Bus()); err != nil {
			return err
		}
	} else {
		select {
		case <-ctx.Done():
			log.Infof("interrupted")
		case <-engine.Done():
		}
	}

	// Close drains the graph so the summary sees every result.
	if err := engine.Close(); err != nil {
		return err
	}
	sum.write(opts.out)
	return nil
}

// sinks are the transports configured in the transport section.
type sinks struct {
	bridges []func()
	closers []io.Closer
}

func (s *sinks) add(b *bus.Bus, t transport.Transport, sigs ...bus.Signal) {
	s.bridges = append(s.bridges, transport.Bridge(b, t, sigs...))
	s.closers = append(s.closers, t)
}

func (s *sinks) Close() error {
	for _, disconnect := range s.bridges {
		disconnect()
	}
	var errs []error
	for _, c := range slices.Backward(s.closers) {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func startSinks(cfg *config.Config, b *bus.Bus) (_ *sinks, err error) {
	s := &sinks{}
	defer func() {
		if err != nil {
			err = errors.Join(err, s.Close())
		}
	}()

	if log.GetLevel() == log.LevelDebug {
		s.add(b, transport.NewLoggingTransport(), tui.DashboardSignals...)
	}

	t := cfg.Transport
	if t.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(t.WebSocketAddress)
		if err := ws.Start(); err != nil {
			ws.Close()
			return nil, err
		}
		s.add(b, ws)
	}

	if t.UDPEnabled {
		sender, err := udp.NewUDPSender(t.UDPTargetAddress)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sender)
		pub, err := udp.NewSpectrumPublisher(t.UDPSendInterval, sender, 0)
		if err != nil {
			return nil, err
		}
		pub.Start()
		s.add(b, pub, bus.SignalSpectrum)
	}
	return s, nil
}

// summary keeps the last note, tempo and genre of every channel for the
// report printed when a session ends.
type summary struct {
	mu    sync.Mutex
	notes map[int]analysis.Note
	bpm   map[int]float64
	genre map[int]string
}

func newSummary() *summary {
	return &summary{
		notes: make(map[int]analysis.Note),
		bpm:   make(map[int]float64),
		genre: make(map[int]string),
	}
}

func (s *summary) Send(msg transport.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := msg.Payload.(type) {
	case analysis.Note:
		s.notes[msg.Sender] = v
	case float64:
		s.bpm[msg.Sender] = v
	case string:
		s.genre[msg.Sender] = v
	}
	return nil
}

func (s *summary) Close() error { return nil }

func (s *summary) write(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var channels []int
	seen := func(ch int) {
		if !slices.Contains(channels, ch) {
			channels = append(channels, ch)
		}
	}
	for ch := range s.notes {
		seen(ch)
	}
	for ch := range s.bpm {
		seen(ch)
	}
	for ch := range s.genre {
		seen(ch)
	}
	slices.Sort(channels)

	for _, ch := range channels {
		fmt.Fprintf(w, "channel %d:", ch)
		if n, ok := s.notes[ch]; ok {
			if n.Name == analysis.NoteNA {
				fmt.Fprintf(w, " note %s", n.Name)
			} else {
				fmt.Fprintf(w, " note %s %+d cents", n.Name, n.CentsOff)
			}
		}
		if bpm, ok := s.bpm[ch]; ok {
			fmt.Fprintf(w, " bpm %.1f", bpm)
		}
		if g, ok := s.genre[ch]; ok {
			fmt.Fprintf(w, " genre %s", g)
		}
		fmt.Fprintln(w)
	}
}
