// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"soundscope/internal/audio"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D7D7D"))
)

var (
	keyQuit  = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyUp    = key.NewBinding(key.WithKeys("up", "k"))
	keyDown  = key.NewBinding(key.WithKeys("down", "j"))
	keyEnter = key.NewBinding(key.WithKeys("enter"))
	keyBack  = key.NewBinding(key.WithKeys("esc"))
	keyPause = key.NewBinding(key.WithKeys("p", " "))
)

// listDevices is replaced in tests.
var listDevices = audio.HostDevices

// sampleRates offered on the configuration screen.
var sampleRates = []float64{22050, 44100, 48000, 88200, 96000}

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// Selection is the device and rate the user confirmed.
type Selection struct {
	DeviceID   int
	Channels   int
	SampleRate float64
}

// DeviceListModel lists input-capable devices and lets the user pick one
// and a sample rate for it.
type DeviceListModel struct {
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	sampleRateIndex int
	selection       *Selection
}

// NewDeviceListModel creates a new device list model
func NewDeviceListModel() DeviceListModel {
	return DeviceListModel{activeScreen: ListScreen}
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

func (m DeviceListModel) Init() tea.Cmd {
	return fetchDevices
}

func fetchDevices() tea.Msg {
	devices, err := listDevices()
	if err != nil {
		return errMsg{err}
	}
	inputs := devices[:0]
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}
	return devicesMsg{inputs}
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) {
			return m, tea.Quit
		}
		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, keyUp):
				m.selectedIndex = max(m.selectedIndex-1, 0)
			case key.Matches(msg, keyDown):
				m.selectedIndex = max(min(m.selectedIndex+1, len(m.devices)-1), 0)
			case key.Matches(msg, keyEnter):
				if len(m.devices) > 0 {
					m.activeScreen = ConfigScreen
					m.sampleRateIndex = nearestRate(m.devices[m.selectedIndex].DefaultSampleRate)
				}
			}
		case ConfigScreen:
			switch {
			case key.Matches(msg, keyBack):
				m.activeScreen = ListScreen
			case key.Matches(msg, keyUp):
				m.sampleRateIndex = max(m.sampleRateIndex-1, 0)
			case key.Matches(msg, keyDown):
				m.sampleRateIndex = min(m.sampleRateIndex+1, len(sampleRates)-1)
			case key.Matches(msg, keyEnter):
				d := m.devices[m.selectedIndex]
				m.selection = &Selection{
					DeviceID:   d.ID,
					Channels:   min(d.MaxInputChannels, 2),
					SampleRate: sampleRates[m.sampleRateIndex],
				}
				return m, tea.Quit
			}
		}
		m.refresh()
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// Selection returns the confirmed choice, if any.
func (m DeviceListModel) Selection() (Selection, bool) {
	if m.selection == nil {
		return Selection{}, false
	}
	return *m.selection, true
}

// Err returns the device enumeration error, if any.
func (m DeviceListModel) Err() error { return m.err }

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
		return
	}
	m.viewport.SetContent(m.renderDevices())
}

func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Input Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Device Configuration")
		help = infoStyle.Render("↑/↓: Change Value • Enter: Use • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		info := fmt.Sprintf("[%d] %s (%s)\n", device.ID, device.Name, device.Type())
		info += fmt.Sprintf("    Input channels: %d, Default sample rate: %.0f Hz\n",
			device.MaxInputChannels, device.DefaultSampleRate)
		info += dimStyle.Render(fmt.Sprintf("    Latency: Low=%.2fms, High=%.2fms",
			float64(device.LowInputLatency.Microseconds())/1000,
			float64(device.HighInputLatency.Microseconds())/1000)) + "\n"

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Configure Device: %s\n\nSample Rate:\n", m.devices[m.selectedIndex].Name)
	for i, rate := range sampleRates {
		marker := " "
		if i == m.sampleRateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", marker, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

func nearestRate(rate float64) int {
	best := 0
	for i, r := range sampleRates {
		if abs(r-rate) < abs(sampleRates[best]-rate) {
			best = i
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// PickDevice runs the device picker full screen and returns the user's
// choice. ok is false when the user quit without choosing.
func PickDevice() (sel Selection, ok bool, err error) {
	final, err := tea.NewProgram(NewDeviceListModel(), tea.WithAltScreen()).Run()
	if err != nil {
		return Selection{}, false, err
	}
	m := final.(DeviceListModel)
	if m.Err() != nil {
		return Selection{}, false, m.Err()
	}
	sel, ok = m.Selection()
	return sel, ok, nil
}
