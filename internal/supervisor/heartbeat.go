package supervisor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fluxhive/squads/internal/types"
)

// heartbeatLoop ticks at cfg.HeartbeatInterval, invoking the cadence
// scheduler's checkCadences and writing the supervisorHeartbeat admin
// marker (spec §4.1: "the heartbeat is also the cadence scheduler's only
// trigger").
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

func (s *Supervisor) beat(ctx context.Context) {
	s.mu.Lock()
	if s.heartbeatRunning {
		s.mu.Unlock()
		return
	}
	s.heartbeatRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.heartbeatRunning = false
		s.mu.Unlock()
	}()

	if s.cfg.SetAdminValue != nil {
		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := s.cfg.SetAdminValue(ctx, "supervisorHeartbeat", now); err != nil {
			s.logger.Error("supervisor: heartbeat admin write failed", "error", err)
		}
	}
	if s.cfg.CheckCadences != nil {
		s.cfg.CheckCadences(ctx)
	}
	s.maybeResumeFromReviewBackpressure(ctx)
}

// maybeResumeFromReviewBackpressure implements spec §4.1's heartbeat
// auto-resume: if paused for a review-queue-full reason and the review
// queue has since drained below maxPendingReview, resume.
func (s *Supervisor) maybeResumeFromReviewBackpressure(ctx context.Context) {
	s.mu.Lock()
	paused := s.paused
	reason := s.pauseReason
	s.mu.Unlock()
	if !paused || !strings.HasPrefix(reason, "review queue full") {
		return
	}

	counts, err := s.cfg.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("supervisor: countByStatus failed during resume check", "error", err)
		return
	}
	if counts[types.TaskStatusReview] >= s.cfg.MaxPendingReview {
		return
	}

	s.mu.Lock()
	s.paused = false
	s.pauseReason = ""
	s.mu.Unlock()
	s.logger.Info("supervisor resumed", "reason", "review queue drained")
}
