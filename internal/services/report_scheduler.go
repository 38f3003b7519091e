package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/pkg/logger"
)

const (
	MsgInspectionDeleted = "owning inspection was deleted"

	schedulerClientID = "scheduler"
)

// StuckMessage is the error stored on a report failed by the stuck sweep.
// It is derived from the threshold so the two cannot disagree.
func StuckMessage(threshold time.Duration) string {
	return fmt.Sprintf("generation exceeded the time limit (%s)", humanDuration(threshold))
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return plural(int(d/time.Second), "second")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// ReportScheduler drives PENDING reports to DONE or ERROR. It runs at most
// one generation at a time in this process.
//
// The guard is local to the process. Claiming a report is a plain status
// write, not a compare-and-set on the previous status, so two processes
// that see the same PENDING report can both generate it. The later commit
// wins.
type ReportScheduler struct {
	store       *ReportVersionStore
	inspections *InspectionService
	snapshots   *SnapshotBuilder
	generator   ReportGenerator
	hub         *SSEHub

	stuckTimeout time.Duration
	now          func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
	notify  chan struct{}
	stop    chan struct{}
	stopped sync.Once
}

func NewReportScheduler(
	store *ReportVersionStore,
	inspections *InspectionService,
	snapshots *SnapshotBuilder,
	generator ReportGenerator,
	hub *SSEHub,
	stuckTimeout time.Duration,
) *ReportScheduler {
	return &ReportScheduler{
		store:        store,
		inspections:  inspections,
		snapshots:    snapshots,
		generator:    generator,
		hub:          hub,
		stuckTimeout: stuckTimeout,
		now:          time.Now,
		notify:       make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
}

// StuckTimeout is the age, measured from creation, after which a
// GENERATING report is presumed abandoned.
func (s *ReportScheduler) StuckTimeout() time.Duration {
	return s.stuckTimeout
}

// Running reports whether this process is generating a report right now.
func (s *ReportScheduler) Running() bool {
	return s.running.Load()
}

// Tick runs one pass: stuck sweep, orphan sweep, then claim one PENDING
// report if idle. It reports whether a generation was started.
func (s *ReportScheduler) Tick(ctx context.Context) bool {
	if n, err := s.SweepStuck(ctx); err != nil {
		logger.Errorf("[Scheduler] Stuck sweep failed: %v", err)
	} else if n > 0 {
		logger.Warnf("[Scheduler] Failed %d stuck report(s)", n)
	}

	if n, err := s.SweepOrphans(ctx); err != nil {
		logger.Errorf("[Scheduler] Orphan sweep failed: %v", err)
	} else if n > 0 {
		logger.Warnf("[Scheduler] Failed %d orphaned report(s)", n)
	}

	return s.claimNext(ctx)
}

// SweepStuck fails every GENERATING report created longer ago than the
// stuck timeout, whether or not anything is still working on it. It looks
// at creation time only, so a report that started late and then hung is
// not caught until its creation age passes the threshold.
func (s *ReportScheduler) SweepStuck(ctx context.Context) (int, error) {
	generating, err := s.store.ListByStatus(ctx, models.ReportStatusGenerating)
	if err != nil {
		return 0, err
	}

	now := s.now()
	msg := StuckMessage(s.stuckTimeout)
	swept := 0
	for _, r := range generating {
		if now.Sub(r.CreatedAt) <= s.stuckTimeout {
			continue
		}
		if err := s.store.UpdateStatus(ctx, r.ID, models.ReportStatusError, msg); err != nil {
			logger.Errorf("[Scheduler] Failed to mark stuck report %s: %v", r.ID, err)
			continue
		}
		logger.Warnf("[Scheduler] Report %s stuck since %s, marked as failed", r.ID, r.CreatedAt.Format(time.RFC3339))
		reportsSwept.WithLabelValues("stuck").Inc()
		swept++
	}
	return swept, nil
}

// SweepOrphans fails every GENERATING report whose inspection is gone.
func (s *ReportScheduler) SweepOrphans(ctx context.Context) (int, error) {
	generating, err := s.store.ListByStatus(ctx, models.ReportStatusGenerating)
	if err != nil || len(generating) == 0 {
		return 0, err
	}

	ids := make([]string, 0, len(generating))
	for _, r := range generating {
		ids = append(ids, r.InspectionID)
	}
	existing, err := s.inspections.ExistingIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, r := range generating {
		if existing[r.InspectionID] {
			continue
		}
		if err := s.store.UpdateStatus(ctx, r.ID, models.ReportStatusError, MsgInspectionDeleted); err != nil {
			logger.Errorf("[Scheduler] Failed to mark orphaned report %s: %v", r.ID, err)
			continue
		}
		logger.Warnf("[Scheduler] Inspection %s of report %s was deleted, marked as failed", r.InspectionID, r.ID)
		reportsSwept.WithLabelValues("orphan").Inc()
		swept++
	}
	return swept, nil
}

// claimNext starts generating the first PENDING report in store order
// (newest inspection first) unless a generation is already running.
func (s *ReportScheduler) claimNext(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	pending, err := s.store.ListByStatus(ctx, models.ReportStatusPending)
	if err != nil || len(pending) == 0 {
		if err != nil {
			logger.Errorf("[Scheduler] Failed to list pending reports: %v", err)
		}
		s.running.Store(false)
		return false
	}

	reportID := pending[0].ID
	logger.Infof("[Scheduler] Claimed report %s (%d pending)", reportID, len(pending))

	s.wg.Add(1)
	generationInFlight.Set(1)
	go func() {
		defer func() {
			generationInFlight.Set(0)
			s.running.Store(false)
			s.wg.Done()
			// Another report may be waiting.
			s.Notify()
		}()
		s.runGeneration(ctx, reportID)
	}()
	return true
}

// Wait blocks until the running generation, if any, has finished.
func (s *ReportScheduler) Wait() {
	s.wg.Wait()
}

// Notify asks the loop for another pass without blocking.
func (s *ReportScheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is cancelled or Stop is called. Passes are
// triggered by report events on the hub and by Notify.
func (s *ReportScheduler) Start(ctx context.Context) {
	events := s.hub.Subscribe(schedulerClientID)
	logger.Infof("[Scheduler] Started, stuck timeout: %s", humanDuration(s.stuckTimeout))

	go func() {
		defer s.hub.Unsubscribe(schedulerClientID)
		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				s.Tick(ctx)
			case <-s.notify:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for the running generation.
func (s *ReportScheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
	s.Wait()
	logger.Infof("[Scheduler] Stopped")
}
