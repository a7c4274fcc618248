package lease

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/gogpu/gpuframe/backend/software"
	"github.com/gogpu/gpuframe/gpucore"
	"github.com/gogpu/gpuframe/internal/threadslot"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newPool(t *testing.T, b *software.Backend, threads int) *Pool {
	t.Helper()
	p, err := New(Config{
		Backend: b,
		Submit:  b.Queue().Submit,
		Threads: func() int { return threads },
		Logger:  discard,
		Label:   "slot 0",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func fence(t *testing.T, b *software.Backend) gpucore.Fence {
	t.Helper()
	f, err := b.NewFence("")
	if err != nil {
		t.Fatalf("NewFence() error = %v", err)
	}
	_ = f.Reset()
	return f
}

// =============================================================================
// Leasing Tests
// =============================================================================

func TestPool_ResourceAndDrawPerThread(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 4)
	if err := p.BeginFrame(1); err != nil {
		t.Fatalf("BeginFrame() error = %v", err)
	}

	var l threadslot.Local
	res, err := p.Resource(&l)
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}
	draw, _ := p.Draw(&l)
	if res == draw {
		t.Error("resource and draw recorders should differ")
	}
	if !res.Recording() || !draw.Recording() {
		t.Error("leased recorders should be recording")
	}
	again, _ := p.Resource(&l)
	if again != res {
		t.Error("same goroutine should get the same resource recorder within a frame")
	}
	if res.(*software.Recorder).Pool() != draw.(*software.Recorder).Pool() {
		t.Error("resource and draw recorders of one thread should share a pool")
	}
}

func TestPool_ConcurrentLeasesAreDistinct(t *testing.T) {
	const goroutines = 8
	b := software.New()
	p := newPool(t, b, goroutines)
	_ = p.BeginFrame(1)

	recs := make([]gpucore.CommandRecorder, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := range goroutines {
		go func() {
			defer wg.Done()
			var l threadslot.Local
			rec, err := p.Draw(&l)
			if err != nil {
				t.Errorf("Draw() error = %v", err)
				return
			}
			for range 50 {
				_ = rec.(*software.Recorder).Record("draw")
			}
			recs[i] = rec
		}()
	}
	wg.Wait()

	seen := make(map[gpucore.CommandRecorder]bool)
	for _, r := range recs {
		if seen[r] {
			t.Fatal("two goroutines leased the same recorder")
		}
		seen[r] = true
	}
	if b.Violations() != 0 {
		t.Errorf("Violations() = %d, want 0", b.Violations())
	}
}

func TestPool_SlotOverflowClamps(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 1)
	_ = p.BeginFrame(1)

	var l1, l2 threadslot.Local
	r1, _ := p.Resource(&l1)
	r2, err := p.Resource(&l2)
	if err != nil {
		t.Fatalf("Resource() on overflow error = %v", err)
	}
	if r1 != r2 {
		t.Error("overflowing goroutine should be clamped to slot 0")
	}
}

// =============================================================================
// Submission Tests
// =============================================================================

func TestPool_EndFrameOrdersResourceBeforeDraw(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 2)
	_ = p.BeginFrame(1)

	var l threadslot.Local
	res, _ := p.Resource(&l)
	draw, _ := p.Draw(&l)
	_ = res.(*software.Recorder).Record("upload")
	_ = draw.(*software.Recorder).Record("draw")

	if err := p.EndFrame(fence(t, b)); err != nil {
		t.Fatalf("EndFrame() error = %v", err)
	}

	subs := b.Submissions()
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	batches := subs[0].Batches
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if batches[0].Ops[0][0] != "upload" || batches[1].Ops[0][0] != "draw" {
		t.Errorf("batch order = %v, %v", batches[0].Ops, batches[1].Ops)
	}
	if len(batches[0].Signal) != 1 || len(batches[1].Wait) != 1 || batches[0].Signal[0] != batches[1].Wait[0] {
		t.Error("draw batch must wait on the semaphore the resource batch signals")
	}
	if subs[0].Fence == nil {
		t.Error("EndFrame should submit the frame fence")
	}
	if res.Recording() || draw.Recording() {
		t.Error("EndFrame should end used recorders")
	}
}

func TestPool_EndFrameSingleKindHasNoSemaphore(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 2)
	_ = p.BeginFrame(1)

	var l threadslot.Local
	_, _ = p.Draw(&l)
	_ = p.EndFrame(fence(t, b))

	batches := b.Submissions()[0].Batches
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if len(batches[0].Wait) != 0 || len(batches[0].Signal) != 0 {
		t.Error("a lone draw batch must not wait on a semaphore nobody signals")
	}
}

func TestPool_EndFrameEmptyStillSignalsFence(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 2)
	_ = p.BeginFrame(1)

	f := fence(t, b)
	_ = p.EndFrame(f)

	subs := b.Submissions()
	if len(subs) != 1 || len(subs[0].Batches) != 0 {
		t.Fatalf("want one empty submission, got %+v", subs)
	}
	if ok, _ := f.Signaled(); !ok {
		t.Error("fence of an empty frame should signal")
	}
}

func TestPool_BeginFrameResetsPools(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 2)
	_ = p.BeginFrame(1)

	var l threadslot.Local
	rec, _ := p.Resource(&l)
	_ = p.EndFrame(fence(t, b))

	_ = p.BeginFrame(4)
	if got := rec.(*software.Recorder).Pool().Resets(); got != 1 {
		t.Errorf("pool Resets() = %d, want 1", got)
	}
	again, _ := p.Resource(&l)
	if again != rec || !again.Recording() {
		t.Error("recorder should be reused and begun again in the next frame")
	}
}

func TestPool_GrowsWithThreadCount(t *testing.T) {
	b := software.New()
	threads := 2
	p, _ := New(Config{
		Backend: b,
		Submit:  b.Queue().Submit,
		Threads: func() int { return threads },
		Logger:  discard,
	})
	_ = p.BeginFrame(1)
	if p.Threads() != 2 {
		t.Fatalf("Threads() = %d, want 2", p.Threads())
	}
	threads = 5
	_ = p.BeginFrame(2)
	if p.Threads() != 5 {
		t.Errorf("Threads() = %d, want 5", p.Threads())
	}
	threads = 1
	_ = p.BeginFrame(3)
	if p.Threads() != 5 {
		t.Errorf("Threads() = %d, want 5: pools are never reclaimed mid-run", p.Threads())
	}
}

// =============================================================================
// Secondary Tests
// =============================================================================

func TestPool_SecondaryBlocks(t *testing.T) {
	const threads = 3
	b := software.New()
	p := newPool(t, b, threads)
	_ = p.BeginFrame(1)

	block0 := p.ReserveParallelBlock()
	block1 := p.ReserveParallelBlock()
	if block0 != 0 || block1 != 1 {
		t.Fatalf("blocks = %d, %d, want 0, 1", block0, block1)
	}

	locals := make([]threadslot.Local, threads)
	primary, _ := p.Draw(&locals[0]) // slot 0

	secs := make([]gpucore.CommandRecorder, threads)
	for i := range threads {
		secs[i], _ = p.Secondary(&locals[i], block1)
	}
	// Record in reverse slot order to prove execution follows slot order.
	for i := threads - 1; i >= 0; i-- {
		_ = secs[i].(*software.Recorder).Record(string(rune('a' + i)))
	}

	if secs[1].(*software.Recorder).Pool() != p.threads[1].pool {
		t.Error("secondary must come from the owning thread's pool")
	}
	if secs[0].Level() != gpucore.LevelSecondary {
		t.Error("secondary recorder has primary level")
	}

	if err := p.ExecuteSecondaryBlock(block1, primary); err != nil {
		t.Fatalf("ExecuteSecondaryBlock() error = %v", err)
	}
	got := primary.(*software.Recorder).Ops()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("primary ops = %v, want [a b c]", got)
	}
	for _, s := range secs {
		if s.Recording() {
			t.Error("executed secondaries should have ended")
		}
	}

	// An untouched block executes nothing.
	if err := p.ExecuteSecondaryBlock(block0, primary); err != nil {
		t.Errorf("ExecuteSecondaryBlock(empty) error = %v", err)
	}
}

func TestPool_SecondaryUnreservedBlock(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 2)
	_ = p.BeginFrame(1)

	var l threadslot.Local
	if _, err := p.Secondary(&l, 0); !errors.Is(err, ErrBlockNotReserved) {
		t.Errorf("Secondary(unreserved) = %v, want ErrBlockNotReserved", err)
	}
	primary, _ := p.Draw(&l)
	if err := p.ExecuteSecondaryBlock(3, primary); !errors.Is(err, ErrBlockNotReserved) {
		t.Errorf("ExecuteSecondaryBlock(unreserved) = %v, want ErrBlockNotReserved", err)
	}
	if err := p.ExecuteSecondaryBlock(0, nil); !errors.Is(err, ErrBlockNotReserved) {
		t.Errorf("ExecuteSecondaryBlock(nil primary) = %v, want ErrBlockNotReserved", err)
	}
}

func TestPool_EndFrameResetsBlocks(t *testing.T) {
	b := software.New()
	p := newPool(t, b, 2)
	_ = p.BeginFrame(1)
	p.ReserveParallelBlock()
	p.ReserveParallelBlock()
	_ = p.EndFrame(fence(t, b))
	if p.Blocks() != 0 {
		t.Errorf("Blocks() = %d, want 0 after EndFrame", p.Blocks())
	}
}

func TestPool_Destroy(t *testing.T) {
	b := software.New()
	live := b.Live()
	p := newPool(t, b, 3)
	_ = p.BeginFrame(1)
	p.Destroy()
	if b.Live() != live {
		t.Errorf("Live() = %d, want %d after Destroy", b.Live(), live)
	}
}
