// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"soundscope/internal/analysis"
	"soundscope/internal/bus"
	"soundscope/internal/genre"
	"soundscope/internal/transport"
)

const barWidth = 24

var (
	labelStyle  = lipgloss.NewStyle().Width(8).Foreground(lipgloss.Color("#7D7D7D"))
	valueStyle  = lipgloss.NewStyle().Bold(true)
	beatStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94")).Bold(true)
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	headerStyle = lipgloss.NewStyle().Underline(true).Bold(true)
)

// DashboardSignals are the signals the dashboard renders. Waveform,
// spectrum and tiles are too large and too frequent for a terminal.
var DashboardSignals = []bus.Signal{
	bus.SignalPitch, bus.SignalNote, bus.SignalBands,
	bus.SignalBeats, bus.SignalBPM, bus.SignalGenre,
}

// Controls is the part of the engine the dashboard drives.
type Controls interface {
	Pause()
	Resume()
	Paused() bool
}

type finishedMsg struct{}

type channelStats struct {
	pitch  float64
	note   analysis.Note
	bpm    float64
	beats  int
	onBeat bool
	bands  map[string]float64
	genre  string
}

// Dashboard renders the latest analysis results per channel. Feed it
// transport.Message values through a Feed bridged to the bus.
type Dashboard struct {
	title    string
	bands    []string
	merged   bool
	controls Controls
	done     <-chan struct{}

	channels map[int]*channelStats
	finished bool
	width    int
}

// NewDashboard creates a dashboard. bands fixes the row order of the band
// meters; done, when not nil, marks the end of a finite source.
func NewDashboard(title string, bands []string, merged bool, controls Controls, done <-chan struct{}) Dashboard {
	return Dashboard{
		title:    title,
		bands:    bands,
		merged:   merged,
		controls: controls,
		done:     done,
		channels: make(map[int]*channelStats),
	}
}

func (m Dashboard) Init() tea.Cmd {
	if m.done == nil {
		return nil
	}
	done := m.done
	return func() tea.Msg {
		<-done
		return finishedMsg{}
	}
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case transport.Message:
		m.apply(msg)
	case finishedMsg:
		m.finished = true
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyPause):
			if m.controls == nil {
				break
			}
			if m.controls.Paused() {
				m.controls.Resume()
			} else {
				m.controls.Pause()
			}
		}
	}
	return m, nil
}

func (m Dashboard) stats(ch int) *channelStats {
	s, ok := m.channels[ch]
	if !ok {
		s = &channelStats{note: analysis.Note{Name: analysis.NoteNA}, genre: genre.NA}
		m.channels[ch] = s
	}
	return s
}

func (m Dashboard) apply(msg transport.Message) {
	s := m.stats(msg.Sender)
	switch v := msg.Payload.(type) {
	case float64:
		switch msg.Signal {
		case bus.SignalPitch:
			s.pitch = v
		case bus.SignalBPM:
			s.bpm = v
		}
	case analysis.Note:
		s.note = v
	case bool:
		s.onBeat = v
		if v {
			s.beats++
		}
	case map[string]float64:
		s.bands = v
	case string:
		s.genre = v
	}
}

func (m Dashboard) View() string {
	var sb strings.Builder

	status := "running"
	switch {
	case m.finished:
		status = "finished"
	case m.controls != nil && m.controls.Paused():
		status = "paused"
	}
	sb.WriteString(titleStyle.Render(m.title) + " " + dimStyle.Render(status) + "\n\n")

	if len(m.channels) == 0 {
		sb.WriteString("Waiting for analysis...\n")
	}
	ids := make([]int, 0, len(m.channels))
	for ch := range m.channels {
		ids = append(ids, ch)
	}
	slices.Sort(ids)
	for _, ch := range ids {
		m.renderChannel(&sb, ch, m.channels[ch])
	}

	sb.WriteString(infoStyle.Render("p/space: Pause • q: Quit"))
	return sb.String()
}

func (m Dashboard) renderChannel(sb *strings.Builder, ch int, s *channelStats) {
	name := fmt.Sprintf("Channel %d", ch)
	if m.merged {
		name = "Mix"
	}
	sb.WriteString(headerStyle.Render(name) + "\n")

	row := func(label, value string) {
		sb.WriteString("  " + labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	if s.pitch > 0 {
		row("Pitch", fmt.Sprintf("%.2f Hz", s.pitch))
	} else {
		row("Pitch", "-")
	}
	if s.note.Name == analysis.NoteNA {
		row("Note", analysis.NoteNA)
	} else {
		row("Note", fmt.Sprintf("%s %+d cents", s.note.Name, s.note.CentsOff))
	}

	tempo := "-"
	if s.bpm > 0 {
		tempo = fmt.Sprintf("%.1f BPM", s.bpm)
	}
	if s.onBeat {
		tempo += " " + beatStyle.Render("●")
	}
	row("Tempo", tempo)
	row("Beats", fmt.Sprintf("%d", s.beats))
	row("Genre", s.genre)

	if s.bands != nil {
		for _, band := range m.bandOrder(s.bands) {
			v := s.bands[band]
			sb.WriteString("  " + labelStyle.Render(band) + bar(v) + fmt.Sprintf(" %.2f", v) + "\n")
		}
	}
	sb.WriteString("\n")
}

// bandOrder lists the configured bands first, then any others sorted.
func (m Dashboard) bandOrder(values map[string]float64) []string {
	order := make([]string, 0, len(values))
	for _, b := range m.bands {
		if _, ok := values[b]; ok {
			order = append(order, b)
		}
	}
	var extra []string
	for b := range values {
		if !slices.Contains(m.bands, b) {
			extra = append(extra, b)
		}
	}
	slices.Sort(extra)
	return append(order, extra...)
}

func bar(v float64) string {
	n := int(v*barWidth + 0.5)
	n = max(min(n, barWidth), 0)
	return barStyle.Render(strings.Repeat("█", n)) + dimStyle.Render(strings.Repeat("░", barWidth-n))
}

// RunDashboard shows the dashboard full screen until the user quits or the
// source finishes, bridging b into it for the duration.
func RunDashboard(m Dashboard, b *bus.Bus) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	feed := NewFeed(p.Send)
	disconnect := transport.Bridge(b, feed, DashboardSignals...)
	defer func() {
		disconnect()
		feed.Close()
	}()
	_, err := p.Run()
	return err
}
