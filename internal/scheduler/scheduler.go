package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/roylee0704/gron"

	"inboxd/internal/providers"
	"inboxd/internal/services"
	"inboxd/internal/state"
	"inboxd/internal/structures"
)

type SchedulerInterface interface {
	Init()
	Stop()
	Restore() error
	Persist() error
}

// Scheduler flushes dirty state and re-reads the sources on fixed intervals.
type Scheduler struct {
	config  *structures.Config
	logger  providers.Logger
	service services.InboxServiceInterface
	store   *state.Store
	cron    *gron.Cron
	opsMu   sync.Mutex
}

func (s *Scheduler) Init() {
	s.cron = gron.New()

	if interval := s.config.State.FlushInterval; interval > 0 {
		s.cron.AddFunc(gron.Every(interval), func() {
			s.opsMu.Lock()
			defer s.opsMu.Unlock()

			if !s.store.Dirty() {
				return
			}
			if err := s.store.Flush(); err != nil {
				s.logger.Errorf(providers.TypeApp, "Error while flushing state: %s", err)
				return
			}
			s.logger.Infof(providers.TypeApp, "Flushed pending state writes")
		})
	}

	if interval := s.config.Inbox.RefreshInterval; interval > 0 {
		s.cron.AddFunc(gron.Every(interval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()

			ran, err := s.service.Refresh(ctx)
			if err != nil {
				s.logger.Warnf(providers.TypeApp, "Scheduled refresh finished with errors: %s", err)
				return
			}
			if ran {
				s.logger.Debugf(providers.TypeApp, "Scheduled refresh done at %s", time.Now().Format(time.RFC3339))
			}
		})
	}

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Restore reloads the persisted state sets.
func (s *Scheduler) Restore() error {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()
	return s.store.Load()
}

func (s *Scheduler) Persist() error {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	s.logger.Infof(providers.TypeApp, "Persisting inbox state...")
	if err := s.store.Flush(); err != nil {
		s.logger.Errorf(providers.TypeApp, "Error while persisting state: %s", err)
		return err
	}
	return nil
}

func NewScheduler(config *structures.Config, logger providers.Logger, service services.InboxServiceInterface, store *state.Store) SchedulerInterface {
	return &Scheduler{
		config:  config,
		logger:  logger,
		service: service,
		store:   store,
	}
}
