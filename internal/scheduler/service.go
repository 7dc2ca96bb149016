package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"shorts-relay/internal"
	"shorts-relay/internal/logging"
)

// hourly at minute 0, second 0
const sweepSpec = "0 0 * * * *"

type Service struct {
	log     *logging.Logger
	cron    *cron.Cron
	monitor *DownloadMonitor
}

// BuildService registers the maintenance jobs; nothing runs until Run.
func BuildService(cfg internal.Config, log *logging.Logger) (*Service, error) {
	c := cron.New(cron.WithSeconds())
	s := &Service{
		log:     log,
		cron:    c,
		monitor: NewDownloadMonitor(cfg.DownloadDir, cfg.DownloadMaxAge, log),
	}

	if _, err := c.AddFunc(sweepSpec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Monitor() *DownloadMonitor { return s.monitor }

// Run sweeps once at startup, then follows the cron schedule until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.sweep()
	s.cron.Start()

	<-ctx.Done()

	ctxStop := s.cron.Stop()
	select {
	case <-ctxStop.Done():
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("cron stop timeout")
	}
}

func (s *Service) sweep() {
	n, err := s.monitor.Sweep(time.Now())
	if err != nil {
		s.log.Errorf("cron sweep downloads: %v", err)
		return
	}
	if n > 0 {
		s.log.Infof("cron: swept %d stale downloads", n)
	}
}
