package wgpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe/gpucore"
)

// ErrShaderBytecode is returned when compiled SPIR-V is not word aligned.
var ErrShaderBytecode = errors.New("wgpu: SPIR-V bytecode is not a whole number of words")

// Buffer is a GPU buffer. Destroy it through the device's deferred
// destruction so that in-flight frames never see it disappear.
type Buffer struct {
	backend *Backend
	buffer  hal.Buffer
	size    uint64
	dead    atomic.Bool
}

// NewBuffer creates a buffer of size bytes.
func (b *Backend) NewBuffer(label string, size uint64, usage gputypes.BufferUsage) (*Buffer, error) {
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", label, err)
	}
	return &Buffer{backend: b, buffer: buf, size: size}, nil
}

// HAL returns the HAL buffer.
func (b *Buffer) HAL() hal.Buffer { return b.buffer }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Write uploads data at offset through the queue.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("wgpu: write of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
	}
	if err := b.backend.queue.queue.WriteBuffer(b.buffer, offset, data); err != nil {
		return fmt.Errorf("wgpu: write buffer: %w", err)
	}
	return nil
}

// Destroy implements gpucore.Destroyable.
func (b *Buffer) Destroy() {
	if b.dead.Swap(true) {
		return
	}
	b.backend.device.DestroyBuffer(b.buffer)
}

// ShaderModule is a compiled shader.
type ShaderModule struct {
	backend *Backend
	module  hal.ShaderModule
	spirv   []uint32
	dead    atomic.Bool
}

// NewShaderModule compiles WGSL source to SPIR-V and creates a shader
// module carrying both forms.
func (b *Backend) NewShaderModule(label, wgsl string) (*ShaderModule, error) {
	bytecode, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile shader %q: %w", label, err)
	}
	spirv, err := words(bytecode)
	if err != nil {
		return nil, fmt.Errorf("wgpu: shader %q: %w", label, err)
	}
	module, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{WGSL: wgsl, SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %q: %w", label, err)
	}
	return &ShaderModule{backend: b, module: module, spirv: spirv}, nil
}

func words(bytecode []byte) ([]uint32, error) {
	if len(bytecode)%4 != 0 {
		return nil, ErrShaderBytecode
	}
	out := make([]uint32, len(bytecode)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(bytecode[i*4:])
	}
	return out, nil
}

// HAL returns the HAL shader module.
func (m *ShaderModule) HAL() hal.ShaderModule { return m.module }

// SPIRV returns the compiled SPIR-V words.
func (m *ShaderModule) SPIRV() []uint32 { return m.spirv }

// Destroy implements gpucore.Destroyable.
func (m *ShaderModule) Destroy() {
	if m.dead.Swap(true) {
		return
	}
	m.backend.device.DestroyShaderModule(m.module)
}

var (
	_ gpucore.Destroyable = (*Buffer)(nil)
	_ gpucore.Destroyable = (*ShaderModule)(nil)
)
