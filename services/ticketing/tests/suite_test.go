//go:build integration

package tests

import (
	"context"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/config"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/testsuite"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/app"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// IntegrationTestSuite runs the whole service on postgres, kafka and redis.
// One app serves every test, so each test works on its own event.
type IntegrationTestSuite struct {
	testsuite.BaseSuite

	App    *app.App
	Clock  *clock.Manual
	Alerts *alert.Memory
	Redis  *redis.Client
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.BaseSuite.SetupInfrastructure("../migrations", testsuite.Options{Kafka: true, Redis: true})

	cfg := &config.Config{
		Env:     "test",
		Storage: config.StoragePostgres,
		Bus:     config.Bus{Driver: config.BusKafka, MaxDeliveries: 10},
		HTTP:    config.HTTP{Timeout: 4 * time.Second},
		Postgres: config.PG{
			EventsURL:  s.DatabaseURL,
			TicketsURL: s.DatabaseURL,
			OrdersURL:  s.DatabaseURL,
		},
		Kafka:  config.Kafka{Brokers: s.KafkaBrokers},
		Redis:  config.Redis{Enabled: true, Addr: s.RedisAddr, TTL: time.Minute},
		Saga:   config.Saga{ReservationTimeout: 15 * time.Minute, SweepInterval: time.Hour},
		Retry:  config.Retry{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond},
		Outbox: config.Outbox{BatchSize: 50, Interval: 100 * time.Millisecond},
	}

	s.Clock = clock.NewManual(time.Now().UTC())
	s.Alerts = alert.NewMemory()

	var err error
	s.App, err = app.New(s.Ctx, cfg, zap.NewNop(), app.WithClock(s.Clock), app.WithAlerts(s.Alerts))
	s.Require().NoError(err, "failed to build app")
	s.Require().NoError(s.App.Start(s.Ctx))

	s.Redis = redis.NewClient(&redis.Options{Addr: s.RedisAddr})
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}

	if s.App != nil {
		ctx, cancel := context.WithTimeout(s.Ctx, 15*time.Second)
		defer cancel()
		s.NoError(s.App.Close(ctx))
	}

	s.BaseSuite.TearDownInfrastructure()
}

func (s *IntegrationTestSuite) createEvent(capacity int) *domain.Event {
	event, err := s.App.Events.CreateEvent(s.Ctx, service.CreateEventInput{
		Name:      "Integration Night",
		Venue:     "Main Stage",
		StartsAt:  s.Clock.Now().Add(72 * time.Hour),
		Capacity:  capacity,
		Price:     2500,
		CreatedBy: "organizer",
	})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		_, err := s.App.Inventory.Availability(s.Ctx, event.ID)
		return err == nil
	}, 30*time.Second, 100*time.Millisecond, "inventory was never provisioned")

	return event
}

func (s *IntegrationTestSuite) order(userID, eventID string, quantity int) (*domain.Order, error) {
	return s.App.Coordinator.CreateOrder(s.Ctx, service.CreateOrderInput{
		UserID:   userID,
		EventID:  eventID,
		Quantity: quantity,
	})
}

func (s *IntegrationTestSuite) eventuallyOrder(id string, want domain.OrderStatus) *domain.Order {
	var got *domain.Order
	s.Require().Eventually(func() bool {
		o, err := s.App.Coordinator.GetOrder(s.Ctx, id)
		if err != nil {
			return false
		}
		got = o
		return o.Status == want
	}, 30*time.Second, 100*time.Millisecond, "order %s never reached %s", id, want)

	return got
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
