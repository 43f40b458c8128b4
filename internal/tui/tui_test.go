// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundscope/internal/analysis"
	"soundscope/internal/audio"
	"soundscope/internal/bus"
	"soundscope/internal/transport"
)

type fakeControls struct{ paused bool }

func (f *fakeControls) Pause()       { f.paused = true }
func (f *fakeControls) Resume()      { f.paused = false }
func (f *fakeControls) Paused() bool { return f.paused }

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestDashboardRendersChannels(t *testing.T) {
	var m tea.Model = NewDashboard("soundscope", []string{"bass", "mid"}, false, nil, nil)
	assert.Contains(t, m.View(), "Waiting for analysis")

	for _, msg := range []transport.Message{
		{Signal: bus.SignalPitch, Sender: 1, Payload: 440.0},
		{Signal: bus.SignalNote, Sender: 1, Payload: analysis.Note{Name: "A", CentsOff: -3}},
		{Signal: bus.SignalBPM, Sender: 0, Payload: 120.0},
		{Signal: bus.SignalBeats, Sender: 0, Payload: true},
		{Signal: bus.SignalBands, Sender: 0, Payload: map[string]float64{"mid": 0.25, "bass": 0.75, "air": 0}},
		{Signal: bus.SignalGenre, Sender: 0, Payload: "Rock"},
	} {
		m, _ = m.Update(msg)
	}

	view := m.View()
	assert.NotContains(t, view, "Waiting for analysis")
	assert.Contains(t, view, "Channel 0")
	assert.Contains(t, view, "Channel 1")
	assert.Contains(t, view, "440.00 Hz")
	assert.Contains(t, view, "A -3 cents")
	assert.Contains(t, view, "120.0 BPM")
	assert.Contains(t, view, "Rock")
	assert.Contains(t, view, "0.75")
	assert.Less(t, strings.Index(view, "Channel 0"), strings.Index(view, "Channel 1"))
	assert.Less(t, strings.Index(view, "bass"), strings.Index(view, "mid"))
	assert.Less(t, strings.Index(view, "mid"), strings.Index(view, "air"))

	d := m.(Dashboard)
	assert.Equal(t, 1, d.channels[0].beats)
	assert.Equal(t, analysis.NoteNA, d.channels[0].note.Name)
}

func TestDashboardMergedAndNA(t *testing.T) {
	var m tea.Model = NewDashboard("mix", nil, true, nil, nil)
	m, _ = m.Update(transport.Message{Signal: bus.SignalNote, Payload: analysis.Note{Name: analysis.NoteNA}})
	view := m.View()
	assert.Contains(t, view, "Mix")
	assert.Contains(t, view, "N/A")
}

func TestDashboardPauseAndQuit(t *testing.T) {
	ctl := &fakeControls{}
	var m tea.Model = NewDashboard("x", nil, false, ctl, nil)

	m, _ = m.Update(keyMsg("p"))
	assert.True(t, ctl.paused)
	assert.Contains(t, m.View(), "paused")
	m, _ = m.Update(keyMsg("p"))
	assert.False(t, ctl.paused)

	_, cmd := m.Update(keyMsg("q"))
	assert.True(t, isQuit(cmd))
}

func TestDashboardFinishes(t *testing.T) {
	done := make(chan struct{})
	close(done)
	m := NewDashboard("file", nil, false, nil, done)
	cmd := m.Init()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	assert.Contains(t, next.View(), "finished")

	assert.Nil(t, NewDashboard("live", nil, false, nil, nil).Init())
}

func TestFeedForwardsAndDrops(t *testing.T) {
	var (
		mu  sync.Mutex
		got []tea.Msg
	)
	f := NewFeed(func(msg tea.Msg) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	})

	b := bus.New()
	disconnect := transport.Bridge(b, f, DashboardSignals...)
	b.Send(bus.SignalBPM, 0, 90.0)
	b.Send(bus.SignalSpectrum, 0, []float64{1})
	disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, transport.Message{Signal: bus.SignalBPM, Payload: 90.0}, got[0])

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Send(transport.Message{}), transport.ErrClosed)
}

func TestFeedDropsWhenBehind(t *testing.T) {
	block := make(chan struct{})
	f := NewFeed(func(tea.Msg) { <-block })
	for range feedBuffer + 10 {
		require.NoError(t, f.Send(transport.Message{Signal: bus.SignalPitch}))
	}
	assert.Positive(t, f.Dropped())
	close(block)
	require.NoError(t, f.Close())
}

func withDevices(t *testing.T, devices []audio.Device, err error) {
	t.Helper()
	prev := listDevices
	listDevices = func() ([]audio.Device, error) { return devices, err }
	t.Cleanup(func() { listDevices = prev })
}

func TestDeviceListSelection(t *testing.T) {
	withDevices(t, []audio.Device{
		{ID: 0, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{ID: 1, Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 44100},
		{ID: 2, Name: "Interface", MaxInputChannels: 8, MaxOutputChannels: 8, DefaultSampleRate: 96000},
	}, nil)

	var m tea.Model = NewDeviceListModel()
	m, _ = m.Update(m.Init()())
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})
	view := m.View()
	assert.Contains(t, view, "[1] USB Mic (Input)")
	assert.Contains(t, view, "[2] Interface (Input/Output)")
	assert.NotContains(t, view, "Speakers")

	m, _ = m.Update(keyMsg("down"))
	m, _ = m.Update(keyMsg("down"))
	m, _ = m.Update(keyMsg("enter"))
	assert.Contains(t, m.View(), "Configure Device: Interface")

	m, _ = m.Update(keyMsg("up"))
	m, cmd := m.Update(keyMsg("enter"))
	assert.True(t, isQuit(cmd))

	sel, ok := m.(DeviceListModel).Selection()
	require.True(t, ok)
	assert.Equal(t, Selection{DeviceID: 2, Channels: 2, SampleRate: 88200}, sel)
}

func TestDeviceListBackAndQuit(t *testing.T) {
	withDevices(t, []audio.Device{{ID: 3, Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 44100}}, nil)

	var m tea.Model = NewDeviceListModel()
	m, _ = m.Update(m.Init()())
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	m, _ = m.Update(keyMsg("enter"))
	m, _ = m.Update(keyMsg("esc"))
	assert.Contains(t, m.View(), "Input Devices")

	_, cmd := m.Update(keyMsg("q"))
	assert.True(t, isQuit(cmd))
	_, ok := m.(DeviceListModel).Selection()
	assert.False(t, ok)
}

func TestDeviceListError(t *testing.T) {
	withDevices(t, nil, errors.New("no host"))

	var m tea.Model = NewDeviceListModel()
	m, cmd := m.Update(m.Init()())
	assert.True(t, isQuit(cmd))
	assert.EqualError(t, m.(DeviceListModel).Err(), "no host")
	assert.Contains(t, m.View(), "no host")
}

func TestNearestRate(t *testing.T) {
	assert.Equal(t, 1, nearestRate(44100))
	assert.Equal(t, 2, nearestRate(47000))
	assert.Equal(t, 4, nearestRate(192000))
}
