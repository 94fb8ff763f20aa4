package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xcamgo/gocl/cl"
	"github.com/xcamgo/gocl/cl/soft"
	"golang.org/x/sync/errgroup"
)

// queueStats are the timings of the frames processed by one queue.
type queueStats struct {
	frames       int
	wall, kernel time.Duration
}

func runCmd() *cobra.Command {
	var (
		numQueues, numFrames, size int
		gamma                      float32
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a gamma correction pipeline on frames distributed across command queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if numQueues <= 0 || numFrames <= 0 || size <= 0 {
				return errors.Errorf("--queues, --frames and --size must be positive")
			}
			ctx, err := newContext()
			if err != nil {
				return err
			}
			defer func() { _ = ctx.Terminate() }()

			start := time.Now()
			stats := make([]queueStats, numQueues)
			g, gCtx := errgroup.WithContext(cmd.Context())
			for qIdx := range numQueues {
				g.Go(func() error {
					var err error
					stats[qIdx], err = runQueue(gCtx, ctx, qIdx, numQueues, numFrames, size, gamma)
					return errors.WithMessagef(err, "queue %d", qIdx)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			elapsed := time.Since(start)

			table := newTable("QUEUE", "FRAMES", "WALL", "KERNEL TIME", "PER FRAME")
			for qIdx, s := range stats {
				perFrame := "-"
				if s.frames > 0 {
					perFrame = (s.wall / time.Duration(s.frames)).String()
				}
				table.Append([]string{strconv.Itoa(qIdx), strconv.Itoa(s.frames), s.wall.String(), s.kernel.String(), perFrame})
			}
			table.Render()
			fmt.Printf("\n%d frames of %d bytes in %s (%.1f frames/s), %d program builds\n",
				numFrames, size, elapsed, float64(numFrames)/elapsed.Seconds(), ctx.NumBuilds())
			return nil
		},
	}
	cmd.Flags().IntVar(&numQueues, "queues", 4, "number of command queues")
	cmd.Flags().IntVar(&numFrames, "frames", 64, "number of frames to process")
	cmd.Flags().IntVar(&size, "size", 1<<20, "size of each frame in bytes")
	cmd.Flags().Float32Var(&gamma, "gamma", 2.2, "gamma correction applied")
	return cmd
}

// runQueue processes the frames qIdx, qIdx+numQueues, ... on its own queue: each frame is filled and then gamma
// corrected, the correction waiting on the fill event, and the result is checked.
func runQueue(gCtx context.Context, ctx *cl.Context, qIdx, numQueues, numFrames, size int, gamma float32) (
	stats queueStats, err error) {
	queue, err := ctx.NewCommandQueue(cl.WithProfiling())
	if err != nil {
		return
	}
	source := []byte(soft.BuiltinSource)
	fill, err := ctx.CompileKernel("xcl_fill_u8").WithSource(source).WithWorkSize(cl.WorkSize1D(size)).Done()
	if err != nil {
		return
	}
	defer func() { _ = fill.Destroy() }()
	correct, err := ctx.CompileKernel("xcl_gamma_u8").WithSource(source).WithWorkSize(cl.WorkSize1D(size)).Done()
	if err != nil {
		return
	}
	defer func() { _ = correct.Destroy() }()
	src, err := ctx.CreateBuffer(cl.MemReadWrite, size)
	if err != nil {
		return
	}
	defer func() { _ = src.Destroy() }()
	dst, err := ctx.CreateBuffer(cl.MemReadWrite, size)
	if err != nil {
		return
	}
	defer func() { _ = dst.Destroy() }()
	if err = correct.SetArgs(src, dst, gamma); err != nil {
		return
	}

	start := time.Now()
	out := make([]byte, size)
	for frame := qIdx; frame < numFrames; frame += numQueues {
		if err = gCtx.Err(); err != nil {
			return
		}
		value := uint8(frame % 256)
		if err = fill.SetArgs(src, value); err != nil {
			return
		}
		var filled, corrected *cl.Event
		if filled, err = queue.ExecuteKernel(fill); err != nil {
			return
		}
		if corrected, err = queue.ExecuteKernel(correct, filled); err != nil {
			return
		}
		if err = corrected.Await(); err != nil {
			return
		}
		for _, e := range []*cl.Event{filled, corrected} {
			if p, pErr := e.Profiling(); pErr == nil {
				stats.kernel += p.Duration()
			}
			if err = e.Destroy(); err != nil {
				return
			}
		}
		if err = queue.Finish(); err != nil {
			return
		}
		if err = dst.Read(0, out); err != nil {
			return
		}
		want := uint8(math32.Min(255*math32.Pow(float32(value)/255, 1/gamma)+0.5, 255))
		if out[0] != want || out[size-1] != want {
			err = errors.Errorf("frame %d: expected %d after gamma correction of %d, got %d", frame, want, value, out[0])
			return
		}
		stats.frames++
	}
	stats.wall = time.Since(start)
	return
}
