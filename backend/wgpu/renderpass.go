package wgpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe/gpucore"
)

// Target is a 2D texture usable as a render attachment.
type Target struct {
	backend *Backend
	handle  uint64
	viewID  uint64
	texture hal.Texture
	view    hal.TextureView
	format  gputypes.TextureFormat
	width   uint32
	height  uint32
	dead    atomic.Bool
}

// NewTarget creates a render target texture and its view. handle is the
// client identifier of the target; it may repeat once an earlier target with
// the same handle is destroyed.
func (b *Backend) NewTarget(handle uint64, width, height uint32, format gputypes.TextureFormat) (*Target, error) {
	label := fmt.Sprintf("target %d", handle)
	texture, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create target texture: %w", err)
	}
	view, err := b.device.CreateTextureView(texture, &hal.TextureViewDescriptor{
		Label:     label,
		Format:    format,
		Dimension: gputypes.TextureViewDimension2D,
		Aspect:    gputypes.TextureAspectAll,
	})
	if err != nil {
		b.device.DestroyTexture(texture)
		return nil, fmt.Errorf("wgpu: create target view: %w", err)
	}
	return &Target{
		backend: b,
		handle:  handle,
		viewID:  b.nextID(),
		texture: texture,
		view:    view,
		format:  format,
		width:   width,
		height:  height,
	}, nil
}

// Handle implements gpucore.Target.
func (t *Target) Handle() uint64 { return t.handle }

// ViewID implements gpucore.Target.
func (t *Target) ViewID() uint64 { return t.viewID }

// Texture returns the HAL texture.
func (t *Target) Texture() hal.Texture { return t.texture }

// View returns the HAL texture view.
func (t *Target) View() hal.TextureView { return t.view }

// Format returns the texture format.
func (t *Target) Format() gputypes.TextureFormat { return t.format }

// Size returns the target dimensions.
func (t *Target) Size() (width, height uint32) { return t.width, t.height }

// Destroy implements gpucore.Destroyable.
func (t *Target) Destroy() {
	if t.dead.Swap(true) {
		return
	}
	t.backend.device.DestroyTextureView(t.view)
	t.backend.device.DestroyTexture(t.texture)
}

// RenderPass holds the HAL pass descriptors for one attachment configuration:
// the descriptor as requested, and a resumed variant that loads instead of
// clearing for passes split across command buffers.
type RenderPass struct {
	id      uint64
	desc    *hal.RenderPassDescriptor
	resumed *hal.RenderPassDescriptor
}

// NewRenderPass implements gpucore.Backend. Every attachment must be bound
// to a *Target of this backend.
func (b *Backend) NewRenderPass(desc *gpucore.RenderPassDescriptor) (gpucore.RenderPass, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	id := b.nextID()
	label := fmt.Sprintf("pass %d", id)
	hd := &hal.RenderPassDescriptor{Label: label}
	rd := &hal.RenderPassDescriptor{Label: label + " resumed"}

	for i := range desc.Colors {
		a := &desc.Colors[i]
		t, ok := a.Target.(*Target)
		if !ok {
			return nil, fmt.Errorf("wgpu: color attachment %d: %w", i, gpucore.ErrForeignObject)
		}
		ca := hal.RenderPassColorAttachment{
			View:       t.view,
			LoadOp:     a.LoadOp,
			StoreOp:    a.StoreOp,
			ClearValue: a.ClearColor,
		}
		hd.ColorAttachments = append(hd.ColorAttachments, ca)
		ca.LoadOp = resumeOps(ca.LoadOp)
		rd.ColorAttachments = append(rd.ColorAttachments, ca)
	}

	if a := desc.Depth; a != nil {
		t, ok := a.Target.(*Target)
		if !ok {
			return nil, fmt.Errorf("wgpu: depth attachment: %w", gpucore.ErrForeignObject)
		}
		da := hal.RenderPassDepthStencilAttachment{
			View:              t.view,
			DepthLoadOp:       a.LoadOp,
			DepthStoreOp:      a.StoreOp,
			DepthClearValue:   a.ClearDepth,
			StencilLoadOp:     a.LoadOp,
			StencilStoreOp:    a.StoreOp,
			StencilClearValue: a.ClearStencil,
		}
		hd.DepthStencilAttachment = &da
		resumed := da
		resumed.DepthLoadOp = resumeOps(da.DepthLoadOp)
		resumed.StencilLoadOp = resumeOps(da.StencilLoadOp)
		rd.DepthStencilAttachment = &resumed
	}

	return &RenderPass{id: id, desc: hd, resumed: rd}, nil
}

// ID returns the pass id.
func (rp *RenderPass) ID() uint64 { return rp.id }

// Begin implements gpucore.RenderPass.
func (rp *RenderPass) Begin(rec gpucore.CommandRecorder) error {
	r, ok := rec.(*Recorder)
	if !ok {
		return gpucore.ErrForeignObject
	}
	if r.level != gpucore.LevelPrimary {
		return gpucore.ErrRecorderLevel
	}
	if !r.recording {
		return gpucore.ErrNotRecording
	}
	if r.pass != nil {
		return fmt.Errorf("wgpu: pass %d begun inside pass %d", rp.id, r.pass.rp.id)
	}
	r.pass = &openPass{rp: rp, encoder: r.encoder.BeginRenderPass(rp.desc)}
	return nil
}

// End implements gpucore.RenderPass.
func (rp *RenderPass) End(rec gpucore.CommandRecorder) error {
	r, ok := rec.(*Recorder)
	if !ok {
		return gpucore.ErrForeignObject
	}
	if r.pass == nil || r.pass.rp != rp {
		return fmt.Errorf("wgpu: pass %d is not open in the recorder", rp.id)
	}
	r.pass.encoder.End()
	r.pass = nil
	return nil
}

// Destroy implements gpucore.Destroyable. The pass owns no HAL object; the
// attachments belong to their targets.
func (rp *RenderPass) Destroy() {}

var (
	_ gpucore.RenderPass = (*RenderPass)(nil)
	_ gpucore.Target     = (*Target)(nil)
)
