package chunk

import (
	"context"

	"github.com/adtopia/adtopia/internal/logging"
)

// ProcessFilesInChunks is ProcessInChunks for file paths. Every completed
// chunk is logged at debug level before the caller's OnChunkComplete runs.
func ProcessFilesInChunks[R any](
	ctx context.Context,
	paths []string,
	fn Func[string, R],
	opts Options[string],
) (*Result[string, R], error) {
	logger := logging.FromContext(ctx)
	onChunk := opts.OnChunkComplete

	opts.OnChunkComplete = func(chunkIndex, processedCount int) {
		logger.Debug().
			Str("component", "chunk").
			Int("chunk", chunkIndex+1).
			Int("processed_files", processedCount).
			Msg("chunk completed")
		if onChunk != nil {
			onChunk(chunkIndex, processedCount)
		}
	}

	return ProcessInChunks(ctx, paths, fn, opts)
}
