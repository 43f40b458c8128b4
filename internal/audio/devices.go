// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"soundscope/internal/config"
)

// PortAudio entry points, replaced in tests.
var (
	paLibInitialize             = portaudio.Initialize
	paLibTerminate              = portaudio.Terminate
	paLibDefaultInputDeviceFunc = portaudio.DefaultInputDevice
	paDevicesFunc               = portaudio.Devices
)

// Initialize sets up the PortAudio subsystem.
// This must be called before any device operations and paired with a Terminate() call.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// InputDevice retrieves the input device for the given id. The default id
// (-1) selects the system default input device.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.DefaultDeviceID {
		device, err := paLibDefaultInputDeviceFunc()
		if err != nil {
			return nil, &SourceError{Source: "default input", Err: fmt.Errorf("%w: %v", ErrNoDevice, err)}
		}
		return device, nil
	}

	devices, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, &SourceError{Source: fmt.Sprintf("device %d", deviceID),
			Err: fmt.Errorf("%w: invalid device ID", ErrNoDevice)}
	}
	if devices[deviceID].MaxInputChannels == 0 {
		return nil, &SourceError{Source: devices[deviceID].Name,
			Err: fmt.Errorf("%w: device does not support input", ErrNoDevice)}
	}
	return devices[deviceID], nil
}
