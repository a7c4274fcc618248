package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/gpucore"
)

var (
	// ErrNilDevice is returned when a HAL device or queue is missing.
	ErrNilDevice = errors.New("wgpu: HAL device or queue is nil")

	// ErrNoAdapter is returned when the HAL backend exposes no adapter.
	ErrNoAdapter = errors.New("wgpu: no adapter available")

	// ErrNoHALProvider is returned when a device provider does not expose
	// its HAL device.
	ErrNoHALProvider = errors.New("wgpu: provider does not expose HAL types")
)

func init() {
	backend.Register(backend.NameWGPU, func() (gpucore.Backend, error) {
		hb, err := hal.SelectBestBackend()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", backend.ErrBackendNotAvailable, err)
		}
		return open(hb)
	})
}

// Backend implements gpucore.Backend on a HAL device.
type Backend struct {
	device hal.Device
	queue  *Queue

	// release tears down the instance and device opened by Open. Devices
	// adopted with New or NewFromProvider are owned by the caller.
	release func()

	ids atomic.Uint64
}

// New wraps an existing HAL device and queue. The caller keeps ownership
// of both.
func New(device hal.Device, queue hal.Queue) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	b := &Backend{device: device}
	b.queue = &Queue{backend: b, queue: queue}
	return b, nil
}

// NewFromProvider adopts the HAL device of a gpucontext.DeviceProvider. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALProvider)
	}
	hal.Logger().Debug("wgpu: adopted provider device", "adapter", provider.AdapterInfo().Name)
	return New(device, queue)
}

// Open creates an instance of the registered HAL backend variant and opens
// its first adapter with default limits.
func Open(variant gputypes.Backend) (*Backend, error) {
	hb, ok := hal.GetBackend(variant)
	if !ok {
		return nil, fmt.Errorf("%w: HAL backend %s not registered", backend.ErrBackendNotAvailable, variant)
	}
	return open(hb)
}

func open(hb hal.Backend) (*Backend, error) {
	instance, err := hb.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s instance: %w", hb.Variant(), err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	exposed := adapters[0]
	opened, err := exposed.Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open adapter %q: %w", exposed.Info.Name, err)
	}
	hal.Logger().Info("wgpu: adapter opened",
		"name", exposed.Info.Name, "backend", hb.Variant().String(), "driver", exposed.Info.Driver)

	b, err := New(opened.Device, opened.Queue)
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	b.release = func() {
		opened.Device.Destroy()
		exposed.Adapter.Destroy()
		instance.Destroy()
	}
	return b, nil
}

// Close destroys the HAL device if the backend opened it. Every object
// created from the backend must have been destroyed.
func (b *Backend) Close() {
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

// Device returns the HAL device.
func (b *Backend) Device() hal.Device {
	return b.device
}

// SetLogger forwards l to the HAL layer.
func (b *Backend) SetLogger(l *slog.Logger) {
	hal.SetLogger(l)
}

func (b *Backend) nextID() uint64 {
	return b.ids.Add(1)
}

// NewCommandPool implements gpucore.Backend.
func (b *Backend) NewCommandPool(label string) (gpucore.CommandPool, error) {
	return &CommandPool{backend: b, label: label}, nil
}

// NewFence implements gpucore.Backend. The fence starts signaled.
func (b *Backend) NewFence(label string) (gpucore.Fence, error) {
	return &Fence{queue: b.queue, label: label}, nil
}

// NewSemaphore implements gpucore.Backend.
func (b *Backend) NewSemaphore(label string) (gpucore.Semaphore, error) {
	return &Semaphore{label: label}, nil
}

// Queue implements gpucore.Backend.
func (b *Backend) Queue() gpucore.Queue {
	return b.queue
}

// WaitIdle implements gpucore.Backend.
func (b *Backend) WaitIdle() error {
	if err := b.device.WaitIdle(); err != nil {
		return fmt.Errorf("wgpu: wait idle: %w", err)
	}
	return nil
}

var _ gpucore.Backend = (*Backend)(nil)
