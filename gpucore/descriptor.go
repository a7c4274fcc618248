package gpucore

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Target is an image resource bound as a render attachment.
//
// Handle is the client-visible identifier of the resource and may be reissued
// to an unrelated resource once the original is destroyed. ViewID identifies
// the live image view currently backing the handle; backends never reuse a
// view id for the lifetime of the process.
type Target interface {
	Handle() uint64
	ViewID() uint64
}

// Attachment describes one render attachment.
type Attachment struct {
	Target       Target
	Format       gputypes.TextureFormat
	LoadOp       gputypes.LoadOp
	StoreOp      gputypes.StoreOp
	ClearColor   gputypes.Color
	ClearDepth   float32
	ClearStencil uint32
}

// Handle returns the bound target handle, or 0 without a target.
func (a *Attachment) Handle() uint64 {
	if a.Target == nil {
		return 0
	}
	return a.Target.Handle()
}

// ViewID returns the live view identity of the bound target, or 0.
func (a *Attachment) ViewID() uint64 {
	if a.Target == nil {
		return 0
	}
	return a.Target.ViewID()
}

func (a *Attachment) equal(b *Attachment) bool {
	return a.Format == b.Format &&
		a.LoadOp == b.LoadOp &&
		a.StoreOp == b.StoreOp &&
		a.ClearColor == b.ClearColor &&
		a.ClearDepth == b.ClearDepth &&
		a.ClearStencil == b.ClearStencil &&
		a.Handle() == b.Handle()
}

// RenderPassDescriptor is the structural key of a render pass.
type RenderPassDescriptor struct {
	Width       uint32
	Height      uint32
	SampleCount uint32
	Colors      []Attachment
	Depth       *Attachment
}

// Descriptor validation errors.
var (
	ErrNoAttachments    = errors.New("gpucore: render pass has no attachments")
	ErrEmptyDimensions  = errors.New("gpucore: render pass has zero dimensions")
	ErrDepthColorFormat = errors.New("gpucore: depth attachment has a color format")
)

// Validate checks that the descriptor can describe a render pass.
func (d *RenderPassDescriptor) Validate() error {
	if len(d.Colors) == 0 && d.Depth == nil {
		return ErrNoAttachments
	}
	if d.Width == 0 || d.Height == 0 {
		return ErrEmptyDimensions
	}
	if d.Depth != nil && d.Depth.Format != gputypes.TextureFormatUndefined && !d.Depth.Format.IsDepthStencil() {
		return fmt.Errorf("%w: %s", ErrDepthColorFormat, d.Depth.Format)
	}
	return nil
}

// AttachmentCount returns the number of color and depth attachments.
func (d *RenderPassDescriptor) AttachmentCount() int {
	n := len(d.Colors)
	if d.Depth != nil {
		n++
	}
	return n
}

// Attachment returns the i-th attachment: colors first, then depth.
func (d *RenderPassDescriptor) Attachment(i int) *Attachment {
	if i < len(d.Colors) {
		return &d.Colors[i]
	}
	return d.Depth
}

// Equal reports structural equality: dimensions, sample count, and every
// attachment's format, operations, clear values and target handle.
// Live view identity is not compared; see ViewIDs.
func (d *RenderPassDescriptor) Equal(o *RenderPassDescriptor) bool {
	if d == o {
		return true
	}
	if d == nil || o == nil {
		return false
	}
	if d.Width != o.Width || d.Height != o.Height || d.SampleCount != o.SampleCount {
		return false
	}
	if len(d.Colors) != len(o.Colors) || (d.Depth == nil) != (o.Depth == nil) {
		return false
	}
	for i := range d.Colors {
		if !d.Colors[i].equal(&o.Colors[i]) {
			return false
		}
	}
	if d.Depth != nil && !d.Depth.equal(o.Depth) {
		return false
	}
	return true
}

// ViewIDs returns the live view identities of every attachment, colors first.
func (d *RenderPassDescriptor) ViewIDs() []uint64 {
	ids := make([]uint64, 0, d.AttachmentCount())
	for i := range d.Colors {
		ids = append(ids, d.Colors[i].ViewID())
	}
	if d.Depth != nil {
		ids = append(ids, d.Depth.ViewID())
	}
	return ids
}

// MatchesViews reports whether every attachment is still backed by the view
// recorded in ids.
func (d *RenderPassDescriptor) MatchesViews(ids []uint64) bool {
	if len(ids) != d.AttachmentCount() {
		return false
	}
	for i, id := range ids {
		if d.Attachment(i).ViewID() != id {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no slices with d.
func (d *RenderPassDescriptor) Clone() *RenderPassDescriptor {
	c := *d
	c.Colors = append([]Attachment(nil), d.Colors...)
	if d.Depth != nil {
		depth := *d.Depth
		c.Depth = &depth
	}
	return &c
}
