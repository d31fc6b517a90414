// Package retention enforces the touch data lifecycle: PII is scrubbed
// after 90 days, marketing attribution after two years.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/metrics"
	"github.com/clinicware/affiliate-engine/internal/touch"
)

const (
	anonymizeAfterDays = 90
	archiveAfterYears  = 2
)

// Result reports one retention run.
type Result struct {
	Skipped    bool          `json:"skipped"`
	Anonymized int64         `json:"anonymized"`
	Archived   int64         `json:"archived"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

type Job struct {
	db        *database.DB
	touches   *touch.Store
	logger    *zap.SugaredLogger
	batchSize int
	maxIter   int
}

func NewJob(db *database.DB, touches *touch.Store, logger *zap.SugaredLogger, batchSize, maxIter int) *Job {
	if batchSize <= 0 {
		batchSize = 500
	}
	if maxIter <= 0 {
		maxIter = 20
	}
	return &Job{
		db:        db,
		touches:   touches,
		logger:    logger,
		batchSize: batchSize,
		maxIter:   maxIter,
	}
}

// Run executes both retention phases in bounded batches. Iteration caps
// keep a single run from monopolizing the table; whatever is left is picked
// up next tick. Concurrent runs skip via the advisory lock.
func (j *Job) Run(ctx context.Context, now time.Time) (*Result, error) {
	start := time.Now()

	lock, err := j.db.AcquireLock(ctx, database.LockKeyRetention)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		j.logger.Infow("retention already running elsewhere, skipping")
		return &Result{Skipped: true}, nil
	}
	defer lock.Release(ctx)

	result := &Result{}

	anonymizeCutoff := now.AddDate(0, 0, -anonymizeAfterDays)
	for i := 0; i < j.maxIter; i++ {
		n, err := j.touches.AnonymizeBatch(ctx, anonymizeCutoff, j.batchSize)
		if err != nil {
			return result, err
		}
		result.Anonymized += n
		if n < int64(j.batchSize) {
			break
		}
	}

	archiveCutoff := now.AddDate(-archiveAfterYears, 0, 0)
	for i := 0; i < j.maxIter; i++ {
		n, err := j.touches.ArchiveBatch(ctx, archiveCutoff, j.batchSize)
		if err != nil {
			return result, err
		}
		result.Archived += n
		if n < int64(j.batchSize) {
			break
		}
	}

	result.Elapsed = time.Since(start)
	metrics.RetentionScrubbed.WithLabelValues("anonymized").Add(float64(result.Anonymized))
	metrics.RetentionScrubbed.WithLabelValues("archived").Add(float64(result.Archived))

	j.logger.Infow("retention run finished",
		"anonymized", result.Anonymized,
		"archived", result.Archived,
		"elapsed", result.Elapsed,
	)

	return result, nil
}
