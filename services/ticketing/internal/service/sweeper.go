package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"go.uber.org/zap"
)

const DefaultSweepInterval = 30 * time.Second

// Sweeper expires reservations that outlived the reservation timeout and
// cancels orders that never left PENDING.
type Sweeper struct {
	inventory   *InventoryManager
	coordinator *Coordinator
	orders      *OrderMachine
	interval    time.Duration
	clock       clock.Clock
	logger      *zap.Logger
}

func NewSweeper(
	inventory *InventoryManager,
	coordinator *Coordinator,
	orders *OrderMachine,
	interval time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		inventory:   inventory,
		coordinator: coordinator,
		orders:      orders,
		interval:    interval,
		clock:       clk,
		logger:      logger.With(zap.String("component", "sweeper")),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		s.logger,
		"Starting reservation sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("timeout", s.inventory.ReservationTimeout()),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, s.logger, "Reservation sweeper stopping")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				mylogger.Error(
					ctx,
					s.logger,
					"Sweep finished with errors",
					zap.Error(err),
				)
			}
		}
	}
}

// Sweep runs one expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.clock.Now()

	var errs []error

	released, err := s.inventory.ExpireStale(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	for _, id := range released {
		if _, _, err := s.orders.MarkCancelled(ctx, id, domain.ReasonExpired); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			errs = append(errs, fmt.Errorf("cancel expired order %s: %w", id, err))
		}
	}

	stale, err := s.orders.ListStale(ctx, now.Add(-s.inventory.ReservationTimeout()))
	if err != nil {
		errs = append(errs, err)
	}
	for _, order := range stale {
		reason := domain.ReasonStalePending
		if order.Stage == domain.StageReserved {
			reason = domain.ReasonExpired
		}

		_, err := s.coordinator.CancelOrder(ctx, order.ID, reason)
		if err != nil && !domain.IsBusiness(err) {
			errs = append(errs, fmt.Errorf("cancel stale order %s: %w", order.ID, err))
		}
	}

	if len(released) > 0 || len(stale) > 0 {
		mylogger.Info(
			ctx,
			s.logger,
			"Sweep done",
			zap.Int("expired", len(released)),
			zap.Int("stale", len(stale)),
		)
	}

	return errors.Join(errs...)
}
