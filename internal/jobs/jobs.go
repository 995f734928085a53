// Package jobs runs the background schedules: currently the payment
// reconciliation sweep that repairs booking link-backs.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/clinic/clinic/internal/domain/payment"
)

// reconcileWindow bounds how far back the sweep looks. Anything older either
// linked long ago or needs manual attention.
const reconcileWindow = 24 * time.Hour

type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// AddReconcile schedules the payment link-back sweep. spec takes standard
// cron expressions and @every durations.
func (s *Scheduler) AddReconcile(spec string, payments *payment.Service) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := payments.Reconcile(ctx, reconcileWindow); err != nil {
			log.Error().Err(err).Msg("payment reconciliation sweep failed")
			return
		}
		log.Debug().Msg("payment reconciliation sweep done")
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
