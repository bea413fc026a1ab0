// Package audio captures microphone input with miniaudio.
package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Recorder keeps a capture device running and buffers samples only between
// Start and Stop, so a recording begins without device start-up latency.
type Recorder struct {
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	deviceID   string
	sampleRate uint32
	channels   uint32

	mu        sync.Mutex
	buf       *bytes.Buffer
	recording bool
	startTime time.Time
}

// NewRecorder opens the capture device named deviceID ("" for the system
// default) at 16 kHz mono.
func NewRecorder(deviceID string) (*Recorder, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	r := &Recorder{
		malgoCtx:   ctx,
		sampleRate: 16000,
		channels:   1,
		buf:        new(bytes.Buffer),
	}
	if err := r.openDevice(deviceID); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return r, nil
}

// Devices lists the names of the available capture devices.
func (r *Recorder) Devices() ([]string, error) {
	infos, err := r.malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (r *Recorder) openDevice(deviceID string) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = r.channels
	cfg.SampleRate = r.sampleRate
	cfg.Alsa.NoMMap = 1

	if deviceID != "" {
		infos, err := r.malgoCtx.Devices(malgo.Capture)
		if err != nil {
			return fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if strings.EqualFold(info.Name(), deviceID) || info.ID.String() == deviceID {
				cfg.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("capture device %q not found", deviceID)
		}
	}

	onData := func(_, input []byte, _ uint32) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.recording {
			r.buf.Write(input)
		}
	}

	device, err := malgo.InitDevice(r.malgoCtx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}

	if r.device != nil {
		_ = r.device.Stop()
		r.device.Uninit()
	}
	r.device = device
	r.deviceID = deviceID
	slog.Info("Capture device ready", "device", deviceOrDefault(deviceID))
	return nil
}

// Start begins buffering audio from deviceID, switching devices first when
// it differs from the open one.
func (r *Recorder) Start(deviceID string) error {
	r.mu.Lock()
	recording, current := r.recording, r.deviceID
	r.mu.Unlock()
	if recording {
		return fmt.Errorf("already recording")
	}
	if deviceID != current || r.device == nil {
		if err := r.openDevice(deviceID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
	r.recording = true
	r.startTime = time.Now()
	return nil
}

// Stop ends buffering and returns the captured audio. The device keeps running.
func (r *Recorder) Stop() (AudioSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return AudioSegment{}, fmt.Errorf("not recording")
	}
	r.recording = false

	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()
	return AudioSegment{
		Data:       data,
		SampleRate: r.sampleRate,
		Channels:   r.channels,
		Duration:   time.Since(r.startTime),
	}, nil
}

// Close releases the device and context.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil {
		_ = r.device.Stop()
		r.device.Uninit()
		r.device = nil
	}
	if r.malgoCtx != nil {
		_ = r.malgoCtx.Uninit()
		r.malgoCtx.Free()
		r.malgoCtx = nil
	}
	return nil
}

func deviceOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}
