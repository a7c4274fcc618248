package wgpu

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpuframe/gpucore"
)

func openNoop(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(gputypes.BackendEmpty)
	if err != nil {
		t.Fatalf("Open(empty) error = %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func newRecorder(t *testing.T, b *Backend, level gpucore.Level) *Recorder {
	t.Helper()
	pool, err := b.NewCommandPool("test")
	if err != nil {
		t.Fatalf("NewCommandPool() error = %v", err)
	}
	t.Cleanup(pool.Destroy)
	rec, err := pool.NewRecorder(level)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return rec.(*Recorder)
}

func newTarget(t *testing.T, b *Backend, handle uint64) *Target {
	t.Helper()
	target, err := b.NewTarget(handle, 64, 64, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}
	t.Cleanup(target.Destroy)
	return target
}

func clearPass(target gpucore.Target) *gpucore.RenderPassDescriptor {
	return &gpucore.RenderPassDescriptor{
		Width:       64,
		Height:      64,
		SampleCount: 1,
		Colors: []gpucore.Attachment{{
			Target:  target,
			Format:  gputypes.TextureFormatBGRA8Unorm,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
		}},
	}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_NilDevice(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("New(nil, nil) error = %v, want ErrNilDevice", err)
	}
}

func TestOpen_Noop(t *testing.T) {
	b := openNoop(t)
	if b.Device() == nil {
		t.Fatal("Device() = nil")
	}
	if err := b.WaitIdle(); err != nil {
		t.Errorf("WaitIdle() error = %v", err)
	}
}

type provider struct {
	device any
	queue  any
}

func (provider) Device() gpucontext.Device { return nil }
func (provider) Queue() gpucontext.Queue { return nil }
func (provider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (provider) Adapter() gpucontext.Adapter { return nil }
func (provider) AdapterInfo() gpucontext.AdapterInfo { return gpucontext.AdapterInfo{Name: "test"} }

type halProvider struct{ provider }

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any { return p.queue }

func TestNewFromProvider(t *testing.T) {
	if _, err := NewFromProvider(provider{}); !errors.Is(err, ErrNoHALProvider) {
		t.Errorf("NewFromProvider(no HAL) error = %v, want ErrNoHALProvider", err)
	}
	if _, err := NewFromProvider(halProvider{provider{device: 1, queue: 2}}); !errors.Is(err, ErrNoHALProvider) {
		t.Errorf("NewFromProvider(wrong types) error = %v, want ErrNoHALProvider", err)
	}

	opened := openNoop(t)
	b, err := NewFromProvider(halProvider{provider{device: opened.device, queue: opened.queue.queue}})
	if err != nil {
		t.Fatalf("NewFromProvider() error = %v", err)
	}
	if b.Device() != opened.Device() {
		t.Error("adopted backend should use the provider's device")
	}
	b.Close() // adopted devices are not destroyed
}

// =============================================================================
// Recorder Tests
// =============================================================================

func TestRecorder_States(t *testing.T) {
	b := openNoop(t)
	rec := newRecorder(t, b, gpucore.LevelPrimary)

	if err := rec.End(); !errors.Is(err, gpucore.ErrNotRecording) {
		t.Errorf("End() before Begin = %v, want ErrNotRecording", err)
	}
	if err := rec.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := rec.Begin(); !errors.Is(err, gpucore.ErrAlreadyRecording) {
		t.Errorf("second Begin() = %v, want ErrAlreadyRecording", err)
	}
	if err := rec.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if len(rec.commandBuffers()) != 1 {
		t.Errorf("command buffers = %d, want 1", len(rec.commandBuffers()))
	}

	_ = rec.pool.Reset()
	if rec.Recording() || len(rec.commandBuffers()) != 0 {
		t.Error("pool reset should free the recorder's command buffers")
	}
}

func TestRecorder_ResetWhileRecordingDiscards(t *testing.T) {
	b := openNoop(t)
	rec := newRecorder(t, b, gpucore.LevelPrimary)
	_ = rec.Begin()
	if err := rec.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if rec.Recording() {
		t.Error("Reset() should discard the open encoding")
	}
	if err := rec.Begin(); err != nil {
		t.Errorf("Begin() after Reset error = %v", err)
	}
}

func TestRecorder_ExecuteSecondarySplicesInOrder(t *testing.T) {
	b := openNoop(t)
	primary := newRecorder(t, b, gpucore.LevelPrimary)
	sec1 := newRecorder(t, b, gpucore.LevelSecondary)
	sec2 := newRecorder(t, b, gpucore.LevelSecondary)

	_ = primary.Begin()
	for _, s := range []*Recorder{sec1, sec2} {
		_ = s.Begin()
	}
	if err := primary.ExecuteSecondary([]gpucore.CommandRecorder{sec1}); !errors.Is(err, gpucore.ErrAlreadyRecording) {
		t.Errorf("ExecuteSecondary(recording) = %v, want ErrAlreadyRecording", err)
	}

	_ = sec1.End()
	_ = sec2.End()
	if err := primary.ExecuteSecondary([]gpucore.CommandRecorder{sec1, sec2}); err != nil {
		t.Fatalf("ExecuteSecondary() error = %v", err)
	}
	if !primary.Recording() {
		t.Fatal("primary should keep recording after ExecuteSecondary")
	}
	_ = primary.End()

	// Primary head, both secondaries, primary tail.
	cbs := primary.commandBuffers()
	if len(cbs) != 4 {
		t.Fatalf("segments = %d, want 4", len(cbs))
	}
	if len(primary.owned) != 2 {
		t.Errorf("owned = %d, want 2: secondaries are freed by their own pool", len(primary.owned))
	}

	if err := sec1.ExecuteSecondary(nil); !errors.Is(err, gpucore.ErrRecorderLevel) {
		t.Errorf("ExecuteSecondary on secondary = %v, want ErrRecorderLevel", err)
	}
}

// =============================================================================
// Render Pass Tests
// =============================================================================

func TestRenderPass_BeginEnd(t *testing.T) {
	b := openNoop(t)
	rp, err := b.NewRenderPass(clearPass(newTarget(t, b, 1)))
	if err != nil {
		t.Fatalf("NewRenderPass() error = %v", err)
	}
	defer rp.Destroy()

	rec := newRecorder(t, b, gpucore.LevelPrimary)
	_ = rec.Begin()
	if err := rp.Begin(rec); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if rec.RenderPassEncoder() == nil {
		t.Fatal("RenderPassEncoder() = nil inside a pass")
	}
	if err := rp.Begin(rec); err == nil {
		t.Error("nested Begin() should fail")
	}
	if err := rp.End(rec); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := rp.End(rec); err == nil {
		t.Error("End() without an open pass should fail")
	}
}

func TestRenderPass_ResumedLoads(t *testing.T) {
	b := openNoop(t)
	rp, _ := b.NewRenderPass(clearPass(newTarget(t, b, 1)))
	pass := rp.(*RenderPass)

	if pass.desc.ColorAttachments[0].LoadOp != gputypes.LoadOpClear {
		t.Error("pass should clear as requested")
	}
	if pass.resumed.ColorAttachments[0].LoadOp != gputypes.LoadOpLoad {
		t.Error("resumed pass should load what was drawn before the split")
	}
}

func TestRenderPass_SplitBySecondaries(t *testing.T) {
	b := openNoop(t)
	rp, _ := b.NewRenderPass(clearPass(newTarget(t, b, 1)))
	pass := rp.(*RenderPass)

	primary := newRecorder(t, b, gpucore.LevelPrimary)
	sec := newRecorder(t, b, gpucore.LevelSecondary)
	_ = primary.Begin()
	_ = rp.Begin(primary)

	_ = sec.Begin()
	if _, err := sec.ContinuePass(pass); err != nil {
		t.Fatalf("ContinuePass() error = %v", err)
	}
	_ = sec.End()
	if sec.RenderPassEncoder() != nil {
		t.Error("End() should close the continued pass")
	}

	if err := primary.ExecuteSecondary([]gpucore.CommandRecorder{sec}); err != nil {
		t.Fatalf("ExecuteSecondary() error = %v", err)
	}
	if primary.pass == nil || primary.pass.rp != pass {
		t.Fatal("the pass should be reopened after the secondaries")
	}
	if err := rp.End(primary); err != nil {
		t.Errorf("End() after split error = %v", err)
	}
	_ = primary.End()
}

func TestRenderPass_ForeignTarget(t *testing.T) {
	b := openNoop(t)
	_, err := b.NewRenderPass(clearPass(foreignTarget{}))
	if !errors.Is(err, gpucore.ErrForeignObject) {
		t.Errorf("NewRenderPass(foreign) error = %v, want ErrForeignObject", err)
	}
	if _, err := b.NewRenderPass(&gpucore.RenderPassDescriptor{}); !errors.Is(err, gpucore.ErrNoAttachments) {
		t.Errorf("NewRenderPass(empty) error = %v, want ErrNoAttachments", err)
	}
}

type foreignTarget struct{}

func (foreignTarget) Handle() uint64 { return 1 }
func (foreignTarget) ViewID() uint64 { return 1 }

func TestTarget_FreshViewIDs(t *testing.T) {
	b := openNoop(t)
	a := newTarget(t, b, 5)
	c := newTarget(t, b, 5)
	if a.Handle() != c.Handle() {
		t.Fatal("handles should match")
	}
	if a.ViewID() == c.ViewID() {
		t.Error("a reissued handle must get a new view id")
	}
}

// =============================================================================
// Queue and Fence Tests
// =============================================================================

func TestFence_Lifecycle(t *testing.T) {
	b := openNoop(t)
	f, _ := b.NewFence("f")

	if ok, _ := f.Signaled(); !ok {
		t.Error("new fence should be signaled")
	}
	_ = f.Reset()
	if ok, _ := f.Wait(time.Millisecond); ok {
		t.Error("Wait() on a reset, unsubmitted fence should time out")
	}

	rec := newRecorder(t, b, gpucore.LevelPrimary)
	_ = rec.Begin()
	_ = rec.End()
	err := b.Queue().Submit([]gpucore.SubmitBatch{{Recorders: []gpucore.CommandRecorder{rec}}}, f)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ok, _ := f.Wait(time.Second); !ok {
		t.Error("fence should signal once the submission completes")
	}
}

func TestQueue_EmptySubmitSignalsFence(t *testing.T) {
	b := openNoop(t)
	f, _ := b.NewFence("f")
	_ = f.Reset()
	if err := b.Queue().Submit(nil, f); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ok, _ := f.Signaled(); !ok {
		t.Error("fence of an empty submission should signal")
	}
}

func TestQueue_SubmitRejects(t *testing.T) {
	b := openNoop(t)
	rec := newRecorder(t, b, gpucore.LevelPrimary)
	sec := newRecorder(t, b, gpucore.LevelSecondary)
	_ = rec.Begin()

	submit := func(r gpucore.CommandRecorder) error {
		return b.Queue().Submit([]gpucore.SubmitBatch{{Recorders: []gpucore.CommandRecorder{r}}}, nil)
	}
	if err := submit(rec); !errors.Is(err, gpucore.ErrAlreadyRecording) {
		t.Errorf("Submit(recording) = %v, want ErrAlreadyRecording", err)
	}
	if err := submit(sec); !errors.Is(err, gpucore.ErrRecorderLevel) {
		t.Errorf("Submit(secondary) = %v, want ErrRecorderLevel", err)
	}
}

// =============================================================================
// Resource Tests
// =============================================================================

func TestBuffer_Write(t *testing.T) {
	b := openNoop(t)
	buf, err := b.NewBuffer("vertices", 16, gputypes.BufferUsageCopyDst)
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer buf.Destroy()

	if err := buf.Write(0, make([]byte, 16)); err != nil {
		t.Errorf("Write() error = %v", err)
	}
	if err := buf.Write(8, make([]byte, 16)); err == nil {
		t.Error("Write() past the end should fail")
	}
}

func TestShaderModule_Compile(t *testing.T) {
	b := openNoop(t)
	m, err := b.NewShaderModule("fullscreen", `
@vertex
fn main() -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0, 0.0, 0.0, 1.0);
}
`)
	if err != nil {
		t.Fatalf("NewShaderModule() error = %v", err)
	}
	defer m.Destroy()
	if len(m.SPIRV()) == 0 || m.SPIRV()[0] != 0x07230203 {
		t.Errorf("SPIR-V magic = %#x", m.SPIRV())
	}

	if _, err := b.NewShaderModule("broken", "fn main( {"); err == nil {
		t.Error("NewShaderModule() should fail on invalid WGSL")
	}
}

func TestWords_Unaligned(t *testing.T) {
	if _, err := words([]byte{1, 2, 3}); !errors.Is(err, ErrShaderBytecode) {
		t.Errorf("words() error = %v, want ErrShaderBytecode", err)
	}
}
