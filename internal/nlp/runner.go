package nlp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/detect"
)

// BlockFailure records one block whose recogniser call failed. Failures are
// soft: the block keeps its rule detections and the run continues.
type BlockFailure struct {
	BlockID string
	Err     error
}

// Runner fans recogniser calls out across blocks with bounded concurrency
// and a per-call timeout. One block's failure never cancels its siblings.
type Runner struct {
	client      *Client
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewRunner wraps a client with fan-out policy taken from cfg.
func NewRunner(client *Client, cfg Config, logger *zap.Logger) *Runner {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{
		client:      client,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
	}
}

// DetectAll analyses every non-empty block and returns the union of their
// detections in block order, plus the per-block failures.
func (r *Runner) DetectAll(ctx context.Context, blks []*blocks.Block) ([]detect.Detection, []BlockFailure) {
	results := make([][]detect.Detection, len(blks))

	var mu sync.Mutex
	var failures []BlockFailure

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for i, b := range blks {
		if b.Text == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		i, b := i, b
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			dets, err := r.client.AnalyzeBlock(callCtx, b)
			if err != nil {
				r.logger.Warn("recogniser call failed, keeping rule-only detections",
					zap.String("block_id", b.ID),
					zap.String("endpoint", r.client.Endpoint()),
					zap.Error(err))
				mu.Lock()
				failures = append(failures, BlockFailure{BlockID: b.ID, Err: err})
				mu.Unlock()
				return nil
			}
			results[i] = dets
			return nil
		})
	}

	// Tasks always return nil; Wait is a pure barrier here.
	_ = g.Wait()

	var out []detect.Detection
	for _, dets := range results {
		out = append(out, dets...)
	}

	r.logger.Debug("recogniser fan-out finished",
		zap.Int("blocks", len(blks)),
		zap.Int("detections", len(out)),
		zap.Int("failed_blocks", len(failures)))
	return out, failures
}
