package board

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
)

// Service wraps the store with lease handling, events and metrics. The sweep
// loop reopens bulletins whose claim lease lapsed.
type Service struct {
	store         Store
	leaseDuration time.Duration
	sweepInterval time.Duration
	bus           *event.Bus[Event]
	logger        *logging.Logger
	registry      *metrics.Registry
}

type ServiceOptions struct {
	LeaseDuration time.Duration
	SweepInterval time.Duration
	Bus           *event.Bus[Event]
	Logger        *logging.Logger
	Registry      *metrics.Registry
}

func NewService(store Store, options ServiceOptions) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	leaseDuration := options.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = 15 * time.Minute
	}
	sweepInterval := options.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Service{
		store:         store,
		leaseDuration: leaseDuration,
		sweepInterval: sweepInterval,
		bus:           options.Bus,
		logger:        options.Logger,
		registry:      options.Registry,
	}, nil
}

func (s *Service) CreateCitizen(ctx context.Context, name string) (Citizen, error) {
	return s.store.CreateCitizen(ctx, name)
}

func (s *Service) GetCitizen(ctx context.Context, id string) (Citizen, error) {
	return s.store.GetCitizen(ctx, id)
}

func (s *Service) ListCitizens(ctx context.Context) ([]Citizen, error) {
	return s.store.ListCitizens(ctx)
}

func (s *Service) CreateBulletin(ctx context.Context, title, body string, rewardCents int64) (Bulletin, error) {
	bulletin, err := s.store.CreateBulletin(ctx, title, body, rewardCents)
	if err != nil {
		return Bulletin{}, err
	}
	s.publish(newEvent(EventTypeBulletinPosted, bulletin.ID, "", bulletin.Status))
	return bulletin, nil
}

func (s *Service) GetBulletin(ctx context.Context, id string) (Bulletin, error) {
	return s.store.GetBulletin(ctx, id)
}

func (s *Service) ListBulletins(ctx context.Context, status Status) ([]Bulletin, error) {
	return s.store.ListBulletins(ctx, status)
}

// Claim attempts to take an open bulletin for a citizen under a fresh lease.
func (s *Service) Claim(ctx context.Context, bulletinID, citizenID string) (Bulletin, error) {
	leaseUntil := time.Now().UTC().Add(s.leaseDuration)
	bulletin, err := s.store.Claim(ctx, bulletinID, citizenID, leaseUntil)
	if err != nil {
		if errors.Is(err, ErrAlreadyClaimed) && s.registry != nil {
			s.registry.IncClaimConflict()
		}
		return Bulletin{}, err
	}
	if s.registry != nil {
		s.registry.IncBulletinClaim()
	}
	s.publish(newEvent(EventTypeBulletinClaimed, bulletin.ID, citizenID, bulletin.Status))
	return bulletin, nil
}

func (s *Service) Complete(ctx context.Context, bulletinID, citizenID string) (Bulletin, error) {
	bulletin, err := s.store.Complete(ctx, bulletinID, citizenID)
	if err != nil {
		return Bulletin{}, err
	}
	s.publish(newEvent(EventTypeBulletinCompleted, bulletin.ID, citizenID, bulletin.Status))
	return bulletin, nil
}

func (s *Service) Release(ctx context.Context, bulletinID, citizenID string) (Bulletin, error) {
	bulletin, err := s.store.Release(ctx, bulletinID, citizenID)
	if err != nil {
		return Bulletin{}, err
	}
	s.publish(newEvent(EventTypeBulletinReleased, bulletin.ID, citizenID, bulletin.Status))
	return bulletin, nil
}

func (s *Service) Cancel(ctx context.Context, bulletinID string) (Bulletin, error) {
	bulletin, err := s.store.Cancel(ctx, bulletinID)
	if err != nil {
		return Bulletin{}, err
	}
	s.publish(newEvent(EventTypeBulletinCancelled, bulletin.ID, "", bulletin.Status))
	return bulletin, nil
}

// SweepExpiredLeases reopens lapsed claims once. The Run loop calls it on an
// interval; tests call it directly.
func (s *Service) SweepExpiredLeases(ctx context.Context) ([]ExpiredClaim, error) {
	expired, err := s.store.ExpireLeases(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, claim := range expired {
		if s.registry != nil {
			s.registry.IncLeaseExpiry()
		}
		s.publish(newEvent(EventTypeLeaseExpired, claim.BulletinID, claim.Claimant, StatusOpen))
	}
	if len(expired) > 0 && s.logger != nil {
		s.logger.Info("reopened expired claims", map[string]string{
			"count": strconv.Itoa(len(expired)),
		})
	}
	return expired, nil
}

// Run drives the lease expiry sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpiredLeases(ctx); err != nil && s.logger != nil {
				s.logger.Warn("lease sweep failed", map[string]string{
					"error": err.Error(),
				})
			}
		}
	}
}

func (s *Service) publish(ev Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ev)
}
