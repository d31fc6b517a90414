package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/commission"
	"github.com/clinicware/affiliate-engine/internal/competition"
	"github.com/clinicware/affiliate-engine/internal/events"
	"github.com/clinicware/affiliate-engine/internal/metrics"
	"github.com/clinicware/affiliate-engine/internal/payout"
	"github.com/clinicware/affiliate-engine/internal/retention"
)

const maturationBatch = 1000

// JobStatus is the last outcome of one job.
type JobStatus struct {
	LastRun    time.Time   `json:"last_run"`
	LastError  string      `json:"last_error,omitempty"`
	LastResult interface{} `json:"last_result,omitempty"`
}

// Scheduler drives the periodic background work: commission maturation,
// payout batches, retention scrubbing and competition standings.
type Scheduler struct {
	commissions  *commission.Store
	batcher      *payout.Batcher
	retention    *retention.Job
	competitions *competition.Service
	publisher    *events.Publisher
	logger       *zap.SugaredLogger
	interval     time.Duration

	mu     sync.RWMutex
	status map[string]*JobStatus
}

func NewScheduler(
	commissions *commission.Store,
	batcher *payout.Batcher,
	retentionJob *retention.Job,
	competitions *competition.Service,
	publisher *events.Publisher,
	logger *zap.SugaredLogger,
	interval time.Duration,
) *Scheduler {
	return &Scheduler{
		commissions:  commissions,
		batcher:      batcher,
		retention:    retentionJob,
		competitions: competitions,
		publisher:    publisher,
		logger:       logger,
		interval:     interval,
		status: map[string]*JobStatus{
			"maturation":   {},
			"payouts":      {},
			"retention":    {},
			"competitions": {},
		},
	}
}

// Run ticks until ctx is done. Every tick executes all jobs in sequence;
// each job is individually guarded so one failure never starves the rest.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("scheduler started", "interval", s.interval)
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.RunMaturation(ctx)
	s.RunPayouts(ctx)
	s.RunRetention(ctx)
	s.RunCompetitions(ctx)
}

func (s *Scheduler) record(job string, result interface{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[job]
	st.LastRun = time.Now()
	st.LastResult = result
	if err != nil {
		st.LastError = err.Error()
		metrics.JobRuns.WithLabelValues(job, "error").Inc()
		s.publisher.PublishJobFailed(events.JobEventData{Job: job, Status: "failed", Detail: err.Error()})
	} else {
		st.LastError = ""
		metrics.JobRuns.WithLabelValues(job, "ok").Inc()
	}
}

// RunMaturation promotes pending commissions whose hold has elapsed.
func (s *Scheduler) RunMaturation(ctx context.Context) (int64, error) {
	matured, err := s.commissions.MatureApproved(ctx, time.Now(), maturationBatch)
	if err != nil {
		s.logger.Errorw("maturation failed", "error", err)
	} else if matured > 0 {
		s.logger.Infow("commissions matured", "count", matured)
	}
	s.record("maturation", map[string]int64{"matured": matured}, err)
	return matured, err
}

// RunPayouts executes one payout batch.
func (s *Scheduler) RunPayouts(ctx context.Context) (*payout.Summary, error) {
	summary, err := s.batcher.Run(ctx, time.Now())
	if err != nil {
		s.logger.Errorw("payout batch failed", "error", err)
	}
	s.record("payouts", summary, err)
	if err == nil && !summary.Skipped {
		s.publisher.PublishJobCompleted(events.JobEventData{
			Job:     "payouts",
			Status:  "completed",
			Elapsed: summary.Elapsed.String(),
		})
	}
	return summary, err
}

// RunRetention executes one retention pass.
func (s *Scheduler) RunRetention(ctx context.Context) (*retention.Result, error) {
	result, err := s.retention.Run(ctx, time.Now())
	if err != nil {
		s.logger.Errorw("retention failed", "error", err)
	}
	s.record("retention", result, err)
	if err == nil && !result.Skipped {
		s.publisher.PublishJobCompleted(events.JobEventData{
			Job:     "retention",
			Status:  "completed",
			Elapsed: result.Elapsed.String(),
		})
	}
	return result, err
}

// RunCompetitions refreshes competition statuses and standings.
func (s *Scheduler) RunCompetitions(ctx context.Context) (*competition.RecomputeSummary, error) {
	summary, err := s.competitions.RecomputeAll(ctx, time.Now())
	if err != nil {
		s.logger.Errorw("competition recompute failed", "error", err)
	}
	s.record("competitions", summary, err)
	return summary, err
}

// Status snapshots every job's last outcome.
func (s *Scheduler) Status() map[string]JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]JobStatus, len(s.status))
	for name, st := range s.status {
		out[name] = *st
	}
	return out
}
