package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultCacheTTL = 30 * time.Second

type cachedEventService struct {
	next        EventService
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewCachedEventService caches event reads in redis. Cache failures fall
// back to next.
func NewCachedEventService(next EventService, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) EventService {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &cachedEventService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    ttl,
		logger:      logger,
	}
}

func eventKey(id string) string {
	return fmt.Sprintf("event:%s", id)
}

func capacityKey(id string) string {
	return fmt.Sprintf("event:%s:capacity", id)
}

func (s *cachedEventService) CreateEvent(ctx context.Context, input CreateEventInput) (*domain.Event, error) {
	return s.next.CreateEvent(ctx, input)
}

func (s *cachedEventService) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var event domain.Event
	if s.load(ctx, eventKey(id), &event) {
		return &event, nil
	}

	res, err := s.next.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	s.store(ctx, eventKey(id), res)
	return res, nil
}

func (s *cachedEventService) ListActive(ctx context.Context) ([]domain.Event, error) {
	return s.next.ListActive(ctx)
}

func (s *cachedEventService) ListByCreator(ctx context.Context, userID string) ([]domain.Event, error) {
	return s.next.ListByCreator(ctx, userID)
}

func (s *cachedEventService) GetEventCapacity(ctx context.Context, id string) (domain.Capacity, error) {
	var capacity domain.Capacity
	if s.load(ctx, capacityKey(id), &capacity) {
		return capacity, nil
	}

	res, err := s.next.GetEventCapacity(ctx, id)
	if err != nil {
		return domain.Capacity{}, err
	}

	s.store(ctx, capacityKey(id), res)
	return res, nil
}

func (s *cachedEventService) ChangeStatus(ctx context.Context, id string, status domain.EventStatus) (*domain.Event, error) {
	res, err := s.next.ChangeStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, eventKey(id), capacityKey(id))
	return res, nil
}

func (s *cachedEventService) ApplyTicketNotice(ctx context.Context, notice domain.TicketNotice) error {
	if err := s.next.ApplyTicketNotice(ctx, notice); err != nil {
		return err
	}

	s.invalidate(ctx, eventKey(notice.EventID), capacityKey(notice.EventID))
	return nil
}

func (s *cachedEventService) load(ctx context.Context, key string, v any) bool {
	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			mylogger.Warn(ctx, s.logger, "Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(val, v); err != nil {
		mylogger.Warn(ctx, s.logger, "Cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}

	return true
}

func (s *cachedEventService) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *cachedEventService) invalidate(ctx context.Context, keys ...string) {
	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
