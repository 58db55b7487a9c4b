package main

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/osmem/osmem"
	"github.com/vkngwrapper/osmem/system"
	"golang.org/x/exp/slog"
)

var (
	replayMapThreshold int
	replayPrealloc     int
	replaySource       string
	replayHeapLimit    int
	replayDetailed     bool
	replayValidate     bool
)

func init() {
	cmd := newReplayCmd()
	cmd.Flags().IntVar(&replayMapThreshold, "map-threshold", osmem.DefaultMapThreshold, "Request size, header included, served by a dedicated mapping")
	cmd.Flags().IntVar(&replayPrealloc, "prealloc", osmem.DefaultHeapPreallocSize, "Bytes the heap grows by on the first small request")
	cmd.Flags().StringVar(&replaySource, "source", "unix", "Memory source: unix or arena")
	cmd.Flags().IntVar(&replayHeapLimit, "heap-limit", system.DefaultArenaHeapLimit, "Heap size limit of the arena source")
	cmd.Flags().BoolVar(&replayDetailed, "detailed", false, "Include every block in the statistics")
	cmd.Flags().BoolVar(&replayValidate, "validate", false, "Validate the block list after every operation")
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay an allocation trace",
		Long: `The replay command runs every operation in a trace file against a new
allocator, checks that resized allocations kept their contents, and prints the
allocator's statistics as json.

Example:
  osmemctl replay workload.trace
  osmemctl replay workload.trace --source arena --detailed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}
	return cmd
}

func runReplay(out, logOut io.Writer, tracePath string) error {
	f, err := os.Open(tracePath)
	if err != nil {
		return errors.Wrap(err, "failed to open trace")
	}
	defer f.Close()

	ops, err := parseTrace(f)
	if err != nil {
		return err
	}

	options := osmem.CreateOptions{
		MapThreshold:     replayMapThreshold,
		HeapPreallocSize: replayPrealloc,
		FatalHandler: func(err error) {
			// replays only use the Try operations
		},
	}
	if replayValidate {
		options.Flags |= osmem.AllocatorCreateValidateOperations
	}

	switch replaySource {
	case "unix":
	case "arena":
		arena := system.NewArena(system.ArenaOptions{HeapLimit: replayHeapLimit})
		defer arena.Close()
		options.MemorySource = arena
	default:
		return errors.Newf("unknown memory source %q", replaySource)
	}

	logger := newLogger(logOut)
	allocator, err := osmem.New(logger, options)
	if err != nil {
		return errors.Wrap(err, "failed to create allocator")
	}

	r := newReplayer(allocator)
	for _, op := range ops {
		err = r.apply(op)
		if err != nil {
			err = errors.Wrapf(err, "line %d: %s %s", op.Line, op.Kind, op.ID)
			return errors.CombineErrors(err, r.finish(logger))
		}
	}

	printInfo(out, "replayed %d operations, %d allocations live\n", len(ops), r.live.Count())
	_, err = io.WriteString(out, allocator.BuildStatsString(replayDetailed)+"\n")
	if err != nil {
		return errors.CombineErrors(err, r.finish(logger))
	}

	return r.finish(logger)
}

// replayer tracks the allocations a trace has made by their trace ids
type replayer struct {
	allocator *osmem.Allocator
	live      *swiss.Map[string, []byte]
	order     []string
}

func newReplayer(allocator *osmem.Allocator) *replayer {
	return &replayer{
		allocator: allocator,
		live:      swiss.NewMap[string, []byte](42),
	}
}

// tag is the byte every allocation is filled with, so moved contents can be checked
func tag(id string) byte {
	var sum byte = 1
	for i := 0; i < len(id); i++ {
		sum = sum*31 + id[i]
	}
	return sum
}

func fillTag(b []byte, value byte) {
	for i := range b {
		b[i] = value
	}
}

func (r *replayer) track(id string, b []byte) {
	if !r.live.Has(id) {
		r.order = append(r.order, id)
	}
	r.live.Put(id, b)
}

func (r *replayer) apply(op traceOp) error {
	switch op.Kind {
	case opAlloc:
		if r.live.Has(op.ID) {
			return errors.New("id is already live")
		}

		b, err := r.allocator.TryAllocate(op.Size)
		if err != nil {
			return err
		}
		fillTag(b, tag(op.ID))
		r.track(op.ID, b)

	case opCalloc:
		if r.live.Has(op.ID) {
			return errors.New("id is already live")
		}

		b, err := r.allocator.TryAllocateZeroed(op.Count, op.Size)
		if err != nil {
			return err
		}
		for i := range b {
			if b[i] != 0 {
				return errors.Newf("byte %d of a zeroed allocation is %#x", i, b[i])
			}
		}
		fillTag(b, tag(op.ID))
		r.track(op.ID, b)

	case opRealloc:
		old, _ := r.live.Get(op.ID)
		preserved := len(old)
		if op.Size < preserved {
			preserved = op.Size
		}

		b, err := r.allocator.TryResize(old, op.Size)
		if err != nil {
			return err
		}
		if op.Size <= 0 {
			r.live.Delete(op.ID)
			return nil
		}

		value := tag(op.ID)
		for i := 0; i < preserved; i++ {
			if b[i] != value {
				return errors.Newf("byte %d was not preserved by the resize", i)
			}
		}
		fillTag(b, value)
		r.track(op.ID, b)

	case opFree:
		b, ok := r.live.Get(op.ID)
		if !ok {
			return errors.New("id is not live")
		}

		err := r.allocator.TryRelease(b)
		if err != nil {
			return err
		}
		r.live.Delete(op.ID)
	}

	return nil
}

// finish releases whatever the trace left live and destroys the allocator
func (r *replayer) finish(logger *slog.Logger) error {
	var err error
	for _, id := range r.order {
		b, ok := r.live.Get(id)
		if !ok {
			continue
		}

		logger.LogAttrs(context.Background(), slog.LevelDebug, "releasing live allocation", slog.String("id", id), slog.Int("size", len(b)))
		err = errors.CombineErrors(err, r.allocator.TryRelease(b))
		r.live.Delete(id)
	}
	r.order = nil

	return errors.CombineErrors(err, r.allocator.Destroy())
}
