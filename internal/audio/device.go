// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"time"
)

// Device represents an audio device.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowInputLatency   time.Duration
	HighInputLatency  time.Duration
}

// Type describes the device direction.
func (d Device) Type() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	}
	return "Unknown"
}

// HostDevices returns every device PortAudio reports. PortAudio must be
// initialised.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			LowInputLatency:   info.DefaultLowInputLatency,
			HighInputLatency:  info.DefaultHighInputLatency,
		}
	}
	return devices, nil
}

// WriteDevices prints a human readable device table.
func WriteDevices(w io.Writer, devices []Device) error {
	if _, err := fmt.Fprintf(w, "\nAvailable Audio Devices\n\n"); err != nil {
		return err
	}
	for _, d := range devices {
		_, err := fmt.Fprintf(w,
			"[%d] %s (%s)\n    Input channels: %d, Output channels: %d\n    Default sample rate: %.0f Hz\n    Latency: Low=%.2fms, High=%.2fms\n\n",
			d.ID, d.Name, d.Type(),
			d.MaxInputChannels, d.MaxOutputChannels,
			d.DefaultSampleRate,
			d.LowInputLatency.Seconds()*1000, d.HighInputLatency.Seconds()*1000)
		if err != nil {
			return err
		}
	}
	return nil
}
