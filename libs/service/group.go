package service

import (
	"context"
	"fmt"

	"github.com/stakelight/stakelight/libs/log"
)

type groupImpl struct {
	*BaseService
	logger   log.Logger
	services []Service
}

// NewGroup returns a Service that starts the given services in order and
// stops them in reverse order. A failed start stops the services that were
// already started.
func NewGroup(logger log.Logger, name string, services ...Service) Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	srv := &groupImpl{
		logger:   logger,
		services: services,
	}
	srv.BaseService = NewBaseService(logger, name, srv)
	return srv
}

func (gs *groupImpl) OnStart(ctx context.Context) error {
	for idx, srv := range gs.services {
		if err := srv.Start(ctx); err != nil {
			for i := idx - 1; i >= 0; i-- {
				_ = gs.services[i].Stop()
			}
			return fmt.Errorf("starting %s: %w", srv, err)
		}
	}
	return nil
}

func (gs *groupImpl) OnStop() {
	for idx := len(gs.services) - 1; idx >= 0; idx-- {
		srv := gs.services[idx]
		if !srv.IsRunning() {
			continue
		}
		if err := srv.Stop(); err != nil {
			gs.logger.Error(
				fmt.Sprintf("problem stopping service %d of %d", idx+1, len(gs.services)),
				"service", srv.String(), "err", err)
		}
	}
}
