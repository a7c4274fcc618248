// Command framesim drives a gpuframe device through a synthetic workload:
// parallel render passes recorded by a pool of goroutines, resource churn
// through deferred destruction, and immediate uploads running alongside the
// frame loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/gpucore"
)

func main() {
	cfg, opts, err := parseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "framesim:", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	gpuframe.SetLogger(logger)

	switch opts.profile {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		logger.Error("unknown profile mode", "mode", opts.profile)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("simulation failed", "err", err)
		os.Exit(1)
	}
	stats.print(os.Stdout)
}

// stats summarizes a run.
type stats struct {
	frames    int
	uploads   int
	elapsed   time.Duration
	queries   []gpuframe.TimeQuery
	cacheSize int
}

func (s *stats) print(w io.Writer) {
	fmt.Fprintf(w, "frames:        %d in %s (%.1f fps)\n", s.frames, s.elapsed.Round(time.Millisecond),
		float64(s.frames)/s.elapsed.Seconds())
	fmt.Fprintf(w, "uploads:       %d\n", s.uploads)
	fmt.Fprintf(w, "cached passes: %d\n", s.cacheSize)
	for _, q := range s.queries {
		fmt.Fprintf(w, "gpu %-10s frame %d: %s\n", q.Name, q.Frame, q.Duration())
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) (*stats, error) {
	h, err := newHarness(cfg)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	workers := max(cfg.Workers, 1)
	dev, err := gpuframe.NewDevice(h.Backend(),
		gpuframe.WithRingSize(cfg.Ring),
		gpuframe.WithThreadCount(func() int { return workers + 1 }),
		gpuframe.WithFenceTimeout(time.Duration(cfg.FenceTimeout)),
		gpuframe.WithCacheCapacity(cfg.CacheCapacity),
		gpuframe.WithDebugLabels(cfg.DebugLabels),
	)
	if err != nil {
		return nil, err
	}
	disp := gpuframe.NewDispatcher(dev, workers)
	defer disp.Close()

	st := &stats{}
	loopCtx, done := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)

	g.Go(func() error {
		defer done()
		start := time.Now()
		err := frameLoop(gctx, dev, disp, h, cfg, st)
		st.elapsed = time.Since(start)
		return err
	})
	if cfg.Uploads > 0 {
		g.Go(func() error {
			return uploadLoop(gctx, dev, h, time.Duration(cfg.Uploads), st)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	st.queries = dev.TimeQueries()
	st.cacheSize = dev.PassCache().Len()
	logger.Info("simulation finished", "frames", st.frames, "lost", dev.Lost())
	return st, errors.Join(err, dev.Close())
}

func frameLoop(ctx context.Context, dev *gpuframe.Device, disp *gpuframe.Dispatcher, h harness, cfg config, st *stats) error {
	target, targetObj, err := h.NewTarget(1)
	if err != nil {
		return err
	}
	fw := dev.FrameWorker()
	defer fw.ScheduleDestruction(gpucore.Defer(gpucore.KindTexture, targetObj))

	for range cfg.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := recordFrame(dev, disp, h, target, cfg); err != nil {
			return err
		}
		if err := dev.EndFrame(); err != nil {
			return err
		}
		st.frames++
	}
	return nil
}

func recordFrame(dev *gpuframe.Device, disp *gpuframe.Dispatcher, h harness, target gpucore.Target, cfg config) error {
	fw := dev.FrameWorker()
	frame := dev.Frame()

	for i := range cfg.ResourcesFrame {
		obj, err := h.NewResource(frame, i)
		if err != nil {
			return err
		}
		fw.ScheduleDestruction(obj)
	}

	draw, err := fw.DrawBuffer()
	if err != nil {
		return err
	}
	if err := fw.PushTimeQuery(draw, "scene"); err != nil {
		return err
	}
	pass, err := fw.BeginParallelPass(passDescriptor(target, frame))
	if err != nil {
		return errors.Join(err, fw.PopTimeQuery())
	}

	errs := make([]error, cfg.Draws)
	disp.For(cfg.Draws, func(w *gpuframe.Worker, i int) {
		rec, err := pass.Recorder(w)
		if err != nil {
			errs[i] = err
			return
		}
		errs[i] = h.Draw(rec, pass.RenderPass(), i)
	})
	endErr := pass.End()
	popErr := fw.PopTimeQuery()
	return errors.Join(errors.Join(errs...), endErr, popErr)
}

// passDescriptor alternates the clear color every 64 frames so that the pass
// cache sees more than one configuration.
func passDescriptor(target gpucore.Target, frame uint64) *gpucore.RenderPassDescriptor {
	shade := float64((frame/64)%4) / 4
	return &gpucore.RenderPassDescriptor{
		Width:       targetSize,
		Height:      targetSize,
		SampleCount: 1,
		Colors: []gpucore.Attachment{{
			Target:     target,
			Format:     gputypes.TextureFormatBGRA8Unorm,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearColor: gputypes.Color{R: shade, G: shade, B: shade, A: 1},
		}},
	}
}

func uploadLoop(ctx context.Context, dev *gpuframe.Device, h harness, every time.Duration, st *stats) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		var staging gpucore.Destroyable
		err := dev.SubmitImmediate(func(rec gpucore.CommandRecorder) error {
			var err error
			staging, err = h.Upload(rec)
			return err
		})
		if staging != nil {
			staging.Destroy()
		}
		if errors.Is(err, gpuframe.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("immediate upload: %w", err)
		}
		st.uploads++
	}
}
