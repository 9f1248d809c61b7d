// Package memory holds in-process implementations of the ticketing stores.
// Each write publishes its notification while the store lock is held and is
// undone if publishing fails, so state and notifications never diverge.
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

type adjustmentKey struct {
	eventID string
	orderID string
}

type Events struct {
	mu          sync.Mutex
	events      map[string]*domain.Event
	adjustments map[adjustmentKey]domain.SoldAdjustment
	publisher   bus.Publisher
}

var _ repository.EventRepository = (*Events)(nil)

func NewEvents(publisher bus.Publisher) *Events {
	return &Events{
		events:      make(map[string]*domain.Event),
		adjustments: make(map[adjustmentKey]domain.SoldAdjustment),
		publisher:   publisher,
	}
}

func (s *Events) Create(ctx context.Context, event *domain.Event) error {
	notice, err := domain.EventCreatedNotice(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	s.events[event.ID] = &stored
	if err := s.publisher.Publish(ctx, notice.Topic(), notice); err != nil {
		delete(s.events, event.ID)
		return err
	}

	return nil
}

func (s *Events) Get(_ context.Context, id string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}

	c := *event
	return &c, nil
}

func (s *Events) ListActive(_ context.Context, from time.Time) ([]domain.Event, error) {
	res := s.filter(func(e *domain.Event) bool {
		return e.Status == domain.EventStatusActive && !e.StartsAt.Before(from)
	})

	sort.Slice(res, func(i, j int) bool {
		if res[i].StartsAt.Equal(res[j].StartsAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].StartsAt.Before(res[j].StartsAt)
	})

	return res, nil
}

func (s *Events) ListByCreator(_ context.Context, userID string) ([]domain.Event, error) {
	res := s.filter(func(e *domain.Event) bool {
		return e.CreatedBy == userID
	})

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	return res, nil
}

func (s *Events) filter(keep func(e *domain.Event) bool) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]domain.Event, 0)
	for _, e := range s.events {
		if keep(e) {
			res = append(res, *e)
		}
	}

	return res
}

func (s *Events) ChangeStatus(ctx context.Context, id string, next domain.EventStatus, at time.Time) (*domain.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.events[id]
	if !ok {
		return nil, false, domain.ErrEventNotFound
	}

	updated := *stored
	changed, err := updated.ChangeStatus(next, at)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return &updated, false, nil
	}

	notice, err := domain.EventStatusNotice(&updated)
	if err != nil {
		return nil, false, err
	}
	if err := s.publisher.Publish(ctx, notice.Topic(), notice); err != nil {
		return nil, false, err
	}

	*stored = updated
	return &updated, true, nil
}

func (s *Events) ApplyTicketNotice(_ context.Context, notice domain.TicketNotice, at time.Time) (*domain.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.events[notice.EventID]
	if !ok {
		return nil, false, domain.ErrEventNotFound
	}

	key := adjustmentKey{eventID: notice.EventID, orderID: notice.OrderID}
	next, delta, applied := s.adjustments[key].Apply(notice.Kind, notice.Quantity)
	if !applied {
		c := *stored
		return &c, false, nil
	}

	updated := *stored
	if delta != 0 {
		if err := updated.ApplySold(delta, at); err != nil {
			return nil, false, err
		}
	}

	*stored = updated
	s.adjustments[key] = next
	return &updated, true, nil
}
