package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/bus"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository"
)

type Orders struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	publisher bus.Publisher
}

var _ repository.OrderRepository = (*Orders)(nil)

func NewOrders(publisher bus.Publisher) *Orders {
	return &Orders{
		orders:    make(map[string]*domain.Order),
		publisher: publisher,
	}
}

func (s *Orders) Create(ctx context.Context, order *domain.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return false, nil
	}

	if err := s.announce(ctx, order); err != nil {
		return false, err
	}

	s.orders[order.ID] = order.Clone()
	return true, nil
}

func (s *Orders) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	return order.Clone(), nil
}

func (s *Orders) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	res := s.filter(func(o *domain.Order) bool {
		return o.UserID == userID
	})

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	return res, nil
}

func (s *Orders) ListStale(_ context.Context, before time.Time) ([]domain.Order, error) {
	res := s.filter(func(o *domain.Order) bool {
		if o.Stage.Terminal() {
			return false
		}

		since := o.CreatedAt
		if !o.ReservedAt.IsZero() {
			since = o.ReservedAt
		}
		return since.Before(before)
	})

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})

	return res, nil
}

func (s *Orders) filter(keep func(o *domain.Order) bool) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]domain.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			res = append(res, *o.Clone())
		}
	}

	return res
}

func (s *Orders) Update(ctx context.Context, id string, fn repository.UpdateFunc) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[id]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}

	next := stored.Clone()
	if !fn(next) {
		return stored.Clone(), false, nil
	}

	if err := s.announce(ctx, next); err != nil {
		return nil, false, err
	}

	s.orders[id] = next
	return next.Clone(), true, nil
}

func (s *Orders) announce(ctx context.Context, order *domain.Order) error {
	notice, ok, err := order.Notice()
	if err != nil || !ok {
		return err
	}

	return s.publisher.Publish(ctx, notice.Topic(), notice)
}
