package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ExpirySweeper periodically persists EXPIRED for pending orders past their payment window.
// Reads already project expiry, so the sweep only keeps stored status and reports honest.
type ExpirySweeper struct {
	orchestrator *Orchestrator
	logger       logrus.FieldLogger
	Interval     time.Duration
	StopChan     chan struct{}
}

func NewExpirySweeper(o *Orchestrator, logger logrus.FieldLogger) *ExpirySweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExpirySweeper{
		orchestrator: o,
		logger:       logger,
		Interval:     5 * time.Minute,
		StopChan:     make(chan struct{}),
	}
}

// CheckExpiredOrders runs one sweep.
func (s *ExpirySweeper) CheckExpiredOrders(ctx context.Context) int {
	swept, err := s.orchestrator.SweepExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Error checking expired orders")
		return 0
	}
	if swept > 0 {
		s.logger.WithField("count", swept).Info("Expired pending orders")
	}
	return swept
}

func (s *ExpirySweeper) Start() {
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.CheckExpiredOrders(context.Background())
			case <-s.StopChan:
				return
			}
		}
	}()
	s.logger.Info("Order expiry sweeper started")
}

func (s *ExpirySweeper) Stop() {
	close(s.StopChan)
}
