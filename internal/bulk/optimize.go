package bulk

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/adtopia/adtopia/internal/domain"
	"github.com/adtopia/adtopia/internal/edge"
	"github.com/adtopia/adtopia/internal/engine/chunk"
	"github.com/adtopia/adtopia/internal/engine/queue"
)

// ActionBatchOptimize is the activity log action for an optimize run.
const ActionBatchOptimize = "batch_optimize"

// Optimizer defaults.
const (
	DefaultOptimizeBatchSize   = 3
	DefaultOptimizeConcurrency = 3
)

// ImageOptimizer is the backend call an Optimizer drives.
type ImageOptimizer interface {
	OptimizeImageBatch(ctx context.Context, req edge.OptimizeRequest) (*edge.OptimizeResponse, error)
}

// ActivityRecorder accepts activity log entries.
type ActivityRecorder interface {
	Record(entry domain.ActivityEntry) error
}

// Optimizer recompresses gallery images in small batches, a few batches at a time.
type Optimizer struct {
	Client      ImageOptimizer
	Bucket      string
	BatchSize   int
	Concurrency int

	// Activity and UserID are optional; both are needed to log the run.
	Activity ActivityRecorder
	UserID   string

	OnProgress ProgressFunc
	Logger     zerolog.Logger
}

// OptimizeSummary reports an optimize run. Reductions are percentages
// rounded to two decimals and are zero when nothing succeeded.
type OptimizeSummary struct {
	Requested    int                   `json:"requested"`
	Success      int                   `json:"success"`
	Failed       int                   `json:"failed"`
	AvgReduction float64               `json:"avg_reduction"`
	MinReduction float64               `json:"min_reduction"`
	MaxReduction float64               `json:"max_reduction"`
	Results      []edge.OptimizeResult `json:"results"`
}

// errNoResult marks a path the backend left out of a successful reply.
const errNoResult = "no result returned"

// Run optimizes images. A failed backend call marks every path in its batch
// as failed; the run continues. Cancelling ctx skips batches that have not
// started, leaves them out of the counts and returns the partial summary
// with ctx.Err().
func (o *Optimizer) Run(ctx context.Context, images []domain.GalleryImage) (*OptimizeSummary, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	paths := make([]string, len(images))
	for i, img := range images {
		paths[i] = ExtractFilePath(img.URL)
	}

	batchSize := o.BatchSize
	if batchSize < 1 {
		batchSize = DefaultOptimizeBatchSize
	}
	concurrency := o.Concurrency
	if concurrency < 1 {
		concurrency = DefaultOptimizeConcurrency
	}

	q := queue.New(concurrency, queue.WithLogger(o.Logger), queue.WithName("optimize"))
	defer q.Close(context.WithoutCancel(ctx)) //nolint:errcheck // Every task has settled by now.

	var (
		mu         sync.Mutex
		summary    = &OptimizeSummary{Requested: len(paths)}
		reductions []float64
		g          errgroup.Group
	)

	record := func(result edge.OptimizeResult) {
		summary.Results = append(summary.Results, result)
		if result.Success {
			summary.Success++
			reductions = append(reductions, result.Reduction)
		} else {
			summary.Failed++
		}
		o.progress(Progress{Done: summary.Success, Failed: summary.Failed, Total: len(paths)})
	}

	for batchIndex, bounds := range chunk.CalculateChunks(len(paths), batchSize) {
		batch := paths[bounds[0]:bounds[1]]
		pending := queue.Add(ctx, q, func(ctx context.Context) (*edge.OptimizeResponse, error) {
			return o.Client.OptimizeImageBatch(ctx, edge.OptimizeRequest{FilePaths: batch, Bucket: o.Bucket})
		})

		g.Go(func() error {
			resp, err := pending.Wait(context.WithoutCancel(ctx))

			mu.Lock()
			defer mu.Unlock()

			if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			if err != nil {
				o.Logger.Warn().
					Str("component", "bulk").
					Int("batch", batchIndex).
					Strs("paths", batch).
					Err(err).
					Msg("optimize batch failed")
				for _, p := range batch {
					record(edge.OptimizeResult{Path: p, Error: err.Error()})
				}
				return nil
			}
			seen := make(map[string]bool, len(batch))
			for _, result := range resp.Results {
				seen[result.Path] = true
				record(result)
			}
			for _, p := range batch {
				if !seen[p] {
					record(edge.OptimizeResult{Path: p, Error: errNoResult})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.AvgReduction, summary.MinReduction, summary.MaxReduction = reductionStats(reductions)
	o.recordActivity(summary)

	return summary, ctx.Err()
}

func (o *Optimizer) progress(p Progress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o *Optimizer) recordActivity(s *OptimizeSummary) {
	if o.Activity == nil || o.UserID == "" {
		return
	}

	err := o.Activity.Record(domain.ActivityEntry{
		UserID: o.UserID,
		Action: ActionBatchOptimize,
		Metadata: map[string]any{
			"count":         s.Requested,
			"success":       s.Success,
			"failed":        s.Failed,
			"avg_reduction": s.AvgReduction,
			"reductions": map[string]float64{
				"avg": s.AvgReduction,
				"min": s.MinReduction,
				"max": s.MaxReduction,
			},
		},
	})
	if err != nil {
		o.Logger.Warn().Str("component", "bulk").Err(err).Msg("failed to record optimize activity")
	}
}

func reductionStats(values []float64) (avg, lo, hi float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	lo, hi = values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return round2(sum / float64(len(values))), round2(lo), round2(hi)
}
