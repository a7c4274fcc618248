package gpuframe

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpuframe/backend/software"
	"github.com/gogpu/gpuframe/gpucore"
)

func TestSubmitImmediate(t *testing.T) {
	b := software.New()
	dev := newDevice(t, b)

	err := dev.SubmitImmediate(func(rec gpucore.CommandRecorder) error {
		return rec.(*software.Recorder).Record("copy staging")
	})
	if err != nil {
		t.Fatalf("SubmitImmediate() error = %v", err)
	}

	subs := b.Submissions()
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	if ops := subs[0].Batches[0].Ops[0]; len(ops) != 1 || ops[0] != "copy staging" {
		t.Errorf("ops = %v, want [copy staging]", ops)
	}
	if ok, _ := subs[0].Fence.Signaled(); !ok {
		t.Error("SubmitImmediate returned before its fence signaled")
	}
	if dev.Frame() != 1 {
		t.Errorf("Frame() = %d, want 1: immediate work is outside the ring", dev.Frame())
	}
}

func TestSubmitImmediate_RecordError(t *testing.T) {
	b := software.New()
	dev := newDevice(t, b)
	boom := errors.New("bad region")

	err := dev.SubmitImmediate(func(gpucore.CommandRecorder) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("SubmitImmediate() error = %v, want %v", err, boom)
	}
	if len(b.Submissions()) != 0 {
		t.Error("failed recording must not be submitted")
	}

	// The recorder is usable again.
	if err := dev.SubmitImmediate(func(gpucore.CommandRecorder) error { return nil }); err != nil {
		t.Errorf("SubmitImmediate() after error = %v", err)
	}
}

func TestSubmitImmediate_WaitsForGPU(t *testing.T) {
	b := software.New(software.WithManualCompletion())
	dev := newDevice(t, b)

	done := make(chan error, 1)
	go func() {
		done <- dev.SubmitImmediate(func(gpucore.CommandRecorder) error { return nil })
	}()

	deadline := time.Now().Add(time.Second)
	for b.InFlight() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	select {
	case err := <-done:
		t.Fatalf("SubmitImmediate() returned %v before the GPU finished", err)
	default:
	}

	b.CompleteAll()
	if err := <-done; err != nil {
		t.Errorf("SubmitImmediate() error = %v", err)
	}
}

func TestSubmitImmediate_Timeout(t *testing.T) {
	b := software.New(software.WithManualCompletion())
	dev := newDevice(t, b, WithFenceTimeout(5*time.Millisecond))

	err := dev.SubmitImmediate(func(gpucore.CommandRecorder) error { return nil })
	if !errors.Is(err, ErrFenceTimeout) {
		t.Errorf("SubmitImmediate() error = %v, want ErrFenceTimeout", err)
	}
	if !dev.Lost() {
		t.Error("immediate timeout should mark the device lost")
	}
}

func TestSubmitImmediate_Closed(t *testing.T) {
	dev := newDevice(t, software.New())
	_ = dev.Close()
	if err := dev.SubmitImmediate(func(gpucore.CommandRecorder) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("SubmitImmediate() after Close = %v, want ErrClosed", err)
	}
}
