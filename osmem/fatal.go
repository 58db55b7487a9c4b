package osmem

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// FatalHandler is called when a non-Try operation fails in a way the allocator cannot recover
// from: the memory source ran out of memory, failed to unmap a region, or the block list was
// found to be inconsistent. The default handler terminates the process. If a custom handler
// returns, the failed operation returns nil.
type FatalHandler func(err error)

func exitProcess(err error) {
	os.Exit(1)
}

func (a *Allocator) handleFailure(operation string, err error) {
	if err == nil {
		return
	}

	if errors.Is(err, ErrSizeOverflow) {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Rejected oversized request",
			slog.String("operation", operation),
			slog.Any("error", err))
		return
	}

	a.logger.LogAttrs(context.Background(), slog.LevelError, "[FATAL] unrecoverable allocator failure",
		slog.String("operation", operation),
		slog.Any("error", err))
	a.fatal(err)
}
