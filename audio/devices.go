package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// InputDevice describes a capture-capable device as PortAudio reports it.
type InputDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// ListInputDevices returns devices with at least one input channel. IDs are the
// indices accepted by DeviceConfig.DeviceID.
func ListInputDevices() ([]InputDevice, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	// Filter to only input devices
	inputDevices := make([]InputDevice, 0)
	for i, device := range devices {
		if device.MaxInputChannels > 0 {
			inputDevices = append(inputDevices, InputDevice{
				ID:                i,
				Name:              device.Name,
				MaxInputChannels:  device.MaxInputChannels,
				DefaultSampleRate: device.DefaultSampleRate,
			})
		}
	}

	return inputDevices, nil
}
