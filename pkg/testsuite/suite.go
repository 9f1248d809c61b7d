package testsuite

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Stores lists the migration directories the suite applies, one per private
// store. The stores share the container database.
var Stores = []string{"events", "tickets", "orders"}

type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	KafkaContainer *kafka.KafkaContainer
	RedisContainer *tcRedis.RedisContainer
	DbPool         *pgxpool.Pool
	DatabaseURL    string
	KafkaBrokers   []string
	RedisAddr      string
	Ctx            context.Context
}

type Options struct {
	Kafka bool
	Redis bool
}

// SetupInfrastructure starts postgres, applies the store migrations found
// under migrationsRoot, and starts kafka and redis when asked.
func (s *BaseSuite) SetupInfrastructure(migrationsRoot string, opts Options) {
	s.Ctx = context.Background()

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	s.DatabaseURL, err = s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	root, err := filepath.Abs(migrationsRoot)
	s.Require().NoError(err)

	for _, store := range Stores {
		dir := filepath.Join(root, store)
		log.Printf("Running %s migrations from: %s", store, dir)
		s.Require().NoError(db.Migrate(s.DatabaseURL, dir, "schema_migrations_"+store))
	}

	s.DbPool, err = pgxpool.New(s.Ctx, s.DatabaseURL)
	s.Require().NoError(err)

	if opts.Kafka {
		s.KafkaContainer, err = kafka.Run(
			s.Ctx,
			"confluentinc/cp-kafka:7.5.0",
			kafka.WithClusterID("test-cluster"),
		)
		s.Require().NoError(err)

		s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
		s.Require().NoError(err)
	}

	if opts.Redis {
		s.RedisContainer, err = tcRedis.Run(s.Ctx, "redis:7-alpine")
		s.Require().NoError(err)

		endpoint, err := s.RedisContainer.ConnectionString(s.Ctx)
		s.Require().NoError(err)
		s.RedisAddr = strings.TrimPrefix(endpoint, "redis://")
	}
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}

	if s.PgContainer != nil {
		s.terminate("postgres", s.PgContainer)
	}
	if s.KafkaContainer != nil {
		s.terminate("kafka", s.KafkaContainer)
	}
	if s.RedisContainer != nil {
		s.terminate("redis", s.RedisContainer)
	}
}

func (s *BaseSuite) terminate(name string, c testcontainers.Container) {
	if err := c.Terminate(s.Ctx); err != nil {
		log.Printf("Failed to terminate %s container: %v", name, err)
	}
}

func (s *BaseSuite) TruncateTable(tableNames ...string) {
	names := make([]string, len(tableNames))
	for i, name := range tableNames {
		names[i] = pgx.Identifier{name}.Sanitize()
	}

	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(names, ", ")))
	s.Require().NoError(err)
}
