package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrDeviceStopped is returned by DeviceStream.Run when the backend stops the
// device on its own (unplugged, default device changed, driver error).
var ErrDeviceStopped = errors.New("audio: device stopped unexpectedly")

// DeviceStream captures 8/16-bit PCM from a miniaudio device. Capture devices
// provide the microphone; loopback devices provide system audio (WASAPI only).
type DeviceStream struct {
	kind   malgo.DeviceType
	format Format
	device string // substring of the device name, empty for the default
}

// NewMicrophone returns a stream reading from a capture device.
func NewMicrophone(f Format, device string) *DeviceStream {
	return &DeviceStream{kind: malgo.Capture, format: f, device: device}
}

// NewLoopback returns a stream reading what the output device is playing.
func NewLoopback(f Format, device string) *DeviceStream {
	return &DeviceStream{kind: malgo.Loopback, format: f, device: device}
}

// Format returns the capture format requested from the device.
func (d *DeviceStream) Format() Format {
	return d.format
}

// Run opens the device and streams raw PCM until ctx is cancelled.
func (d *DeviceStream) Run(ctx context.Context, emit func([]byte)) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("initializing audio context: %w", err)
	}
	defer func() {
		if err := mctx.Uninit(); err != nil {
			slog.Warn("[audio] uninitializing audio context", "error", err)
		}
		mctx.Free()
	}()

	deviceCfg := malgo.DefaultDeviceConfig(d.kind)
	deviceCfg.Capture.Format = sampleFormat(d.format.BitDepth)
	deviceCfg.Capture.Channels = uint32(d.format.Channels)
	deviceCfg.SampleRate = uint32(d.format.SampleRate)

	if d.device != "" {
		id, err := findDevice(mctx, d.kind, d.device)
		if err != nil {
			return err
		}
		deviceCfg.Capture.DeviceID = id.Pointer()
	}

	stopped := make(chan struct{})
	var once sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			n := int(frameCount) * d.format.FrameSize()
			if n > len(pSample) {
				n = len(pSample)
			}
			if n == 0 {
				return
			}
			// miniaudio reuses pSample after the callback returns
			chunk := make([]byte, n)
			copy(chunk, pSample[:n])
			emit(chunk)
		},
		Stop: func() {
			once.Do(func() { close(stopped) })
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceCfg, callbacks)
	if err != nil {
		return fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting capture device: %w", err)
	}

	select {
	case <-ctx.Done():
		device.Uninit()
		return nil
	case <-stopped:
		device.Uninit()
		return ErrDeviceStopped
	}
}

// DeviceInfo describes a device that can be selected by name.
type DeviceInfo struct {
	Name    string
	Default bool
}

// ListDevices returns the devices a microphone stream can open, or with
// loopback set, the playback devices a loopback stream can capture from.
func ListDevices(loopback bool) ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	kind := malgo.Capture
	if loopback {
		kind = malgo.Playback
	}
	devices, err := mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(devices))
	for _, info := range devices {
		out = append(out, DeviceInfo{Name: info.Name(), Default: info.IsDefault != 0})
	}
	return out, nil
}

// findDevice returns the first device usable for kind whose name contains
// name (case-insensitive).
func findDevice(mctx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (malgo.DeviceID, error) {
	// Loopback captures from playback endpoints.
	if kind == malgo.Loopback {
		kind = malgo.Playback
	}
	devices, err := mctx.Devices(kind)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("listing devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range devices {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("no audio device matching %q", name)
}

func sampleFormat(bitDepth int) malgo.FormatType {
	if bitDepth == 8 {
		return malgo.FormatU8
	}
	return malgo.FormatS16
}
