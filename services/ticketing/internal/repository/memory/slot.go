package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/bus"
	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository"
)

// inventory is the slot set of one event. Its mutex is the event's critical
// section.
type inventory struct {
	mu       sync.Mutex
	eventID  string
	capacity int
	version  int64
	retired  bool
	slots    []domain.Slot
	// orders maps a holder to the indexes of its slots, in seat order.
	orders map[string][]int
}

type Slots struct {
	mu        sync.RWMutex
	events    map[string]*inventory
	holders   map[string]string
	publisher bus.Publisher
}

var _ repository.SlotRepository = (*Slots)(nil)

func NewSlots(publisher bus.Publisher) *Slots {
	return &Slots{
		events:    make(map[string]*inventory),
		holders:   make(map[string]string),
		publisher: publisher,
	}
}

func (s *Slots) Provision(_ context.Context, eventID string, capacity int, at time.Time) (bool, error) {
	s.mu.Lock()
	inv, ok := s.events[eventID]
	if !ok {
		s.events[eventID] = &inventory{
			eventID:  eventID,
			capacity: capacity,
			version:  1,
			slots:    newSlots(eventID, capacity, domain.SlotAvailable, at),
			orders:   make(map[string][]int),
		}
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.capacity > 0 {
		return false, nil
	}

	// Retired before it was provisioned: the seats exist but none is for sale.
	inv.capacity = capacity
	inv.slots = newSlots(eventID, capacity, domain.SlotCancelled, at)
	inv.version++
	return true, nil
}

func newSlots(eventID string, capacity int, state domain.SlotState, at time.Time) []domain.Slot {
	slots := make([]domain.Slot, capacity)
	for i := range slots {
		seat := i + 1
		slots[i] = domain.Slot{
			ID:        domain.SlotID(eventID, seat),
			EventID:   eventID,
			Seat:      seat,
			State:     state,
			UpdatedAt: at,
		}
	}

	return slots
}

func (s *Slots) Reserve(ctx context.Context, eventID string, quantity int, orderID string, at time.Time) (domain.SlotChange, error) {
	inv := s.inventory(eventID)
	if inv == nil {
		return domain.SlotChange{}, domain.ErrNotProvisioned
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	change := domain.SlotChange{OrderID: orderID, EventID: eventID}
	if held := inv.orders[orderID]; len(held) > 0 {
		change.SlotIDs = inv.ids(held)
		return change, nil
	}
	if inv.retired {
		return domain.SlotChange{}, domain.ErrEventNotOnSale
	}
	if quantity > inv.capacity {
		return domain.SlotChange{}, domain.ErrInsufficientInventory
	}

	picked := make([]int, 0, quantity)
	for i := range inv.slots {
		if len(picked) == quantity {
			break
		}
		if inv.slots[i].State == domain.SlotAvailable {
			picked = append(picked, i)
		}
	}
	if len(picked) < quantity {
		return domain.SlotChange{}, domain.ErrInsufficientInventory
	}

	before := inv.snapshot(picked)
	for _, i := range picked {
		inv.slots[i].Reserve(orderID, at)
	}
	inv.orders[orderID] = picked
	inv.version++
	s.setHolder(orderID, eventID)

	change.SlotIDs = inv.ids(picked)
	change.Changed = true
	if err := s.publish(ctx, messages.TicketsReserved, change, "", at); err != nil {
		inv.restore(picked, before)
		delete(inv.orders, orderID)
		inv.version--
		s.clearHolder(orderID)
		return domain.SlotChange{}, err
	}

	return change, nil
}

func (s *Slots) Confirm(ctx context.Context, orderID string, at time.Time) (domain.SlotChange, error) {
	inv := s.holder(orderID)
	if inv == nil {
		return domain.SlotChange{}, domain.ErrReservationNotFound
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	held := inv.orders[orderID]
	if len(held) == 0 {
		return domain.SlotChange{}, domain.ErrReservationNotFound
	}

	change := domain.SlotChange{OrderID: orderID, EventID: inv.eventID, SlotIDs: inv.ids(held)}
	if inv.count(held, domain.SlotReserved) == 0 {
		return change, nil
	}

	before := inv.snapshot(held)
	for _, i := range held {
		if inv.slots[i].State == domain.SlotReserved {
			inv.slots[i].Sell(at)
		}
	}
	inv.version++

	change.Changed = true
	if err := s.publish(ctx, messages.TicketsSold, change, "", at); err != nil {
		inv.restore(held, before)
		inv.version--
		return domain.SlotChange{}, err
	}

	return change, nil
}

func (s *Slots) Release(ctx context.Context, orderID string, reason string, at time.Time) (domain.SlotChange, error) {
	change := domain.SlotChange{OrderID: orderID}

	inv := s.holder(orderID)
	if inv == nil {
		return change, nil
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	held := inv.orders[orderID]
	if len(held) == 0 {
		return change, nil
	}
	if inv.count(held, domain.SlotSold) > 0 {
		return domain.SlotChange{}, domain.ErrTicketsAlreadySold
	}

	change.EventID = inv.eventID
	change.SlotIDs = inv.ids(held)
	change.Changed = true

	before := inv.snapshot(held)
	for _, i := range held {
		inv.slots[i].Free(at)
	}
	delete(inv.orders, orderID)
	inv.version++
	s.clearHolder(orderID)

	if err := s.publish(ctx, messages.TicketsCancelled, change, reason, at); err != nil {
		inv.restore(held, before)
		inv.orders[orderID] = held
		inv.version--
		s.setHolder(orderID, inv.eventID)
		return domain.SlotChange{}, err
	}

	return change, nil
}

func (s *Slots) Retire(ctx context.Context, eventID string, at time.Time) ([]domain.SlotChange, error) {
	inv, recorded := s.retiring(eventID)
	if recorded {
		return nil, nil
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.retired {
		return nil, nil
	}

	orders := make([]string, 0, len(inv.orders))
	for orderID, held := range inv.orders {
		if inv.count(held, domain.SlotReserved) > 0 {
			orders = append(orders, orderID)
		}
	}
	sort.Strings(orders)

	changes := make([]domain.SlotChange, 0, len(orders))
	for _, orderID := range orders {
		changes = append(changes, domain.SlotChange{
			OrderID: orderID,
			EventID: eventID,
			SlotIDs: inv.ids(inv.orders[orderID]),
			Changed: true,
		})
	}

	all := make([]int, len(inv.slots))
	for i := range all {
		all[i] = i
	}
	before := inv.snapshot(all)
	held := make(map[string][]int, len(orders))
	for _, orderID := range orders {
		held[orderID] = inv.orders[orderID]
		delete(inv.orders, orderID)
		s.clearHolder(orderID)
	}
	for i := range inv.slots {
		if inv.slots[i].State != domain.SlotSold {
			inv.slots[i].Cancel(at)
		}
	}
	inv.retired = true
	inv.version++

	for n, change := range changes {
		if err := s.publish(ctx, messages.TicketsCancelled, change, domain.ReasonEventCancelled, at); err != nil {
			// Notices published before the failure are not withdrawn.
			inv.restore(all, before)
			for orderID, idx := range held {
				inv.orders[orderID] = idx
				s.setHolder(orderID, eventID)
			}
			inv.retired = false
			inv.version--
			return changes[:n], err
		}
	}

	return changes, nil
}

func (s *Slots) ReservedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	inventories := make([]*inventory, 0, len(s.events))
	for _, inv := range s.events {
		inventories = append(inventories, inv)
	}
	s.mu.RUnlock()

	var res []string
	for _, inv := range inventories {
		inv.mu.Lock()
		for orderID, held := range inv.orders {
			for _, i := range held {
				slot := inv.slots[i]
				if slot.State == domain.SlotReserved && slot.ReservedAt.Before(cutoff) {
					res = append(res, orderID)
					break
				}
			}
		}
		inv.mu.Unlock()
	}

	sort.Strings(res)
	return res, nil
}

func (s *Slots) ByOrder(_ context.Context, orderID string) ([]domain.Slot, error) {
	inv := s.holder(orderID)
	if inv == nil {
		return []domain.Slot{}, nil
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	held := inv.orders[orderID]
	res := make([]domain.Slot, 0, len(held))
	for _, i := range held {
		res = append(res, inv.slots[i])
	}

	return res, nil
}

func (s *Slots) Availability(_ context.Context, eventID string) (domain.Availability, error) {
	inv := s.inventory(eventID)
	if inv == nil {
		return domain.Availability{}, domain.ErrNotProvisioned
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.capacity == 0 {
		return domain.Availability{}, domain.ErrNotProvisioned
	}

	res := domain.Availability{EventID: eventID, Capacity: inv.capacity, Version: inv.version}
	for _, slot := range inv.slots {
		switch slot.State {
		case domain.SlotAvailable:
			res.Available++
		case domain.SlotReserved:
			res.Reserved++
		case domain.SlotSold:
			res.Sold++
		case domain.SlotCancelled:
			res.Cancelled++
		}
	}

	return res, nil
}

func (s *Slots) publish(ctx context.Context, eventType string, change domain.SlotChange, reason string, at time.Time) error {
	notice, err := domain.TicketsNotice(eventType, change, reason, at)
	if err != nil {
		return err
	}

	return s.publisher.Publish(ctx, notice.Topic(), notice)
}

// retiring returns the event's inventory. An event that was never provisioned
// gets a retired inventory without slots instead, and recorded is true.
func (s *Slots) retiring(eventID string) (inv *inventory, recorded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv, ok := s.events[eventID]; ok {
		return inv, false
	}

	s.events[eventID] = &inventory{
		eventID: eventID,
		version: 1,
		retired: true,
		orders:  make(map[string][]int),
	}
	return nil, true
}

func (s *Slots) inventory(eventID string) *inventory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.events[eventID]
}

func (s *Slots) holder(orderID string) *inventory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eventID, ok := s.holders[orderID]
	if !ok {
		return nil
	}

	return s.events[eventID]
}

func (s *Slots) setHolder(orderID, eventID string) {
	s.mu.Lock()
	s.holders[orderID] = eventID
	s.mu.Unlock()
}

func (s *Slots) clearHolder(orderID string) {
	s.mu.Lock()
	delete(s.holders, orderID)
	s.mu.Unlock()
}

func (inv *inventory) ids(idx []int) []string {
	ids := make([]string, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, inv.slots[i].ID)
	}

	return ids
}

func (inv *inventory) count(idx []int, state domain.SlotState) int {
	n := 0
	for _, i := range idx {
		if inv.slots[i].State == state {
			n++
		}
	}

	return n
}

func (inv *inventory) snapshot(idx []int) []domain.Slot {
	res := make([]domain.Slot, len(idx))
	for n, i := range idx {
		res[n] = inv.slots[i]
	}

	return res
}

func (inv *inventory) restore(idx []int, before []domain.Slot) {
	for n, i := range idx {
		inv.slots[i] = before[n]
	}
}
