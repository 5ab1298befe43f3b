/**
 * @description
 * Cron scheduler for the periodic settlement pass. There is exactly one
 * settlement engine; the cron entry and the HTTP trigger both call the same
 * Service method, and the per-campaign claim guard makes overlap safe.
 */
package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the cron instance driving periodic settlement runs.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		service:  service,
		schedule: schedule,
	}
}

// Start registers the settlement job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSettlementPass); err != nil {
		return err
	}
	log.Printf("level=info component=scheduler msg=\"settlement job scheduled\" schedule=%q", s.schedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done
// once any in-flight job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSettlementPass() {
	// The service applies its own run budget on top of this context.
	result, err := s.service.SettleDueCampaigns(context.Background(), "cron")
	if err != nil {
		log.Printf("level=error component=scheduler msg=\"settlement pass failed\" err=%v", err)
		return
	}
	if result.Examined == 0 {
		return
	}
	log.Printf("level=info component=scheduler msg=\"settlement pass finished\" examined=%d settled=%d skipped=%d failed=%d",
		result.Examined, result.Settled, result.Skipped, result.Failed)
}
