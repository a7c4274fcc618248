package gpucore

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

type testTarget struct {
	handle uint64
	view   uint64
}

func (t *testTarget) Handle() uint64 { return t.handle }
func (t *testTarget) ViewID() uint64 { return t.view }

func colorPass(target Target) *RenderPassDescriptor {
	return &RenderPassDescriptor{
		Width:       640,
		Height:      480,
		SampleCount: 1,
		Colors: []Attachment{{
			Target:     target,
			Format:     gputypes.TextureFormatRGBA8Unorm,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearColor: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	}
}

// =============================================================================
// Equality Tests
// =============================================================================

func TestRenderPassDescriptor_Equal(t *testing.T) {
	target := &testTarget{handle: 7, view: 100}
	base := colorPass(target)

	tests := []struct {
		name   string
		mutate func(d *RenderPassDescriptor)
		want   bool
	}{
		{"identical", func(d *RenderPassDescriptor) {}, true},
		{"width", func(d *RenderPassDescriptor) { d.Width = 320 }, false},
		{"samples", func(d *RenderPassDescriptor) { d.SampleCount = 4 }, false},
		{"format", func(d *RenderPassDescriptor) { d.Colors[0].Format = gputypes.TextureFormatBGRA8Unorm }, false},
		{"load op", func(d *RenderPassDescriptor) { d.Colors[0].LoadOp = gputypes.LoadOpLoad }, false},
		{"store op", func(d *RenderPassDescriptor) { d.Colors[0].StoreOp = gputypes.StoreOpDiscard }, false},
		{"clear color", func(d *RenderPassDescriptor) { d.Colors[0].ClearColor.R = 1 }, false},
		{"handle", func(d *RenderPassDescriptor) { d.Colors[0].Target = &testTarget{handle: 8, view: 100} }, false},
		{"same handle new view", func(d *RenderPassDescriptor) { d.Colors[0].Target = &testTarget{handle: 7, view: 200} }, true},
		{"extra depth", func(d *RenderPassDescriptor) {
			d.Depth = &Attachment{Format: gputypes.TextureFormatDepth24Plus}
		}, false},
		{"extra color", func(d *RenderPassDescriptor) { d.Colors = append(d.Colors, d.Colors[0]) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base.Clone()
			tt.mutate(other)
			if got := base.Equal(other); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderPassDescriptor_EqualNil(t *testing.T) {
	var d *RenderPassDescriptor
	if !d.Equal(nil) {
		t.Error("nil descriptors should be equal")
	}
	if d.Equal(colorPass(nil)) {
		t.Error("nil descriptor should not equal a non-nil one")
	}
}

// =============================================================================
// View Identity Tests
// =============================================================================

func TestRenderPassDescriptor_MatchesViews(t *testing.T) {
	target := &testTarget{handle: 7, view: 100}
	d := colorPass(target)
	d.Depth = &Attachment{Target: &testTarget{handle: 9, view: 300}, Format: gputypes.TextureFormatDepth24Plus}

	ids := d.ViewIDs()
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 300 {
		t.Fatalf("ViewIDs() = %v, want [100 300]", ids)
	}
	if !d.MatchesViews(ids) {
		t.Error("MatchesViews() = false for the snapshot it produced")
	}

	// The handle is reissued to a new resource with a different view.
	target.view = 101
	if d.MatchesViews(ids) {
		t.Error("MatchesViews() = true after the view behind the handle changed")
	}

	if d.MatchesViews(ids[:1]) {
		t.Error("MatchesViews() = true for a short snapshot")
	}
}

func TestRenderPassDescriptor_Clone(t *testing.T) {
	d := colorPass(&testTarget{handle: 1, view: 1})
	d.Depth = &Attachment{Format: gputypes.TextureFormatDepth32Float}

	c := d.Clone()
	c.Colors[0].Format = gputypes.TextureFormatBGRA8Unorm
	c.Depth.ClearDepth = 0.5

	if d.Colors[0].Format != gputypes.TextureFormatRGBA8Unorm {
		t.Error("Clone() shares the color slice")
	}
	if d.Depth.ClearDepth != 0 {
		t.Error("Clone() shares the depth attachment")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestRenderPassDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name string
		desc *RenderPassDescriptor
		want error
	}{
		{"valid", colorPass(nil), nil},
		{"no attachments", &RenderPassDescriptor{Width: 1, Height: 1}, ErrNoAttachments},
		{"zero size", &RenderPassDescriptor{Colors: []Attachment{{}}}, ErrEmptyDimensions},
		{"color depth", &RenderPassDescriptor{
			Width: 1, Height: 1,
			Depth: &Attachment{Format: gputypes.TextureFormatRGBA8Unorm},
		}, ErrDepthColorFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
