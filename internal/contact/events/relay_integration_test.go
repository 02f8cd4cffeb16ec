//go:build integration

package events_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"contactlink/internal/contact/events"
	"contactlink/internal/contact/models"
	"contactlink/internal/platform/config"
	"contactlink/internal/platform/kafka"
	"contactlink/internal/platform/postgres"
	"contactlink/pkg/testutil/containers"
)

const topic = "contact-events-it"

type RelayIntegrationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	outbox   *events.PostgresStore
	tx       *postgres.TxRunner
	producer *kgo.Client
}

func TestRelayIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelayIntegrationSuite))
}

func (s *RelayIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.outbox = events.NewPostgresStore(s.postgres.DB)
	s.tx = postgres.NewTxRunner(s.postgres.DB, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := kafka.New(ctx, config.Kafka{Brokers: []string{s.redpanda.Broker}, Topic: topic})
	s.Require().NoError(err)
	s.producer = producer
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, topic, slog.New(slog.NewTextHandler(io.Discard, nil))))
	// a second call must tolerate the existing topic
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, topic, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (s *RelayIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *RelayIntegrationSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "contact_events"))
}

func (s *RelayIntegrationSuite) appendEvent(e events.Event, err error) events.Event {
	s.Require().NoError(err)
	s.Require().NoError(s.outbox.Append(context.Background(), e))
	return e
}

func (s *RelayIntegrationSuite) TestOutboxRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	email := "a@x.io"
	created := s.appendEvent(events.NewCreated(models.Contact{ID: 1, Email: &email, LinkPrecedence: models.LinkPrecedencePrimary}, now))
	merged := s.appendEvent(events.NewMerged(1, []int64{2}, now.Add(time.Second)))

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		claimed, err := s.outbox.ClaimUnpublished(ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(claimed, 2)
		s.Equal(created.ID, claimed[0].ID)
		s.Equal(merged.ID, claimed[1].ID)
		s.JSONEq(string(merged.Payload), string(claimed[1].Payload))
		return s.outbox.MarkPublished(ctx, []uuid.UUID{claimed[0].ID}, now)
	})
	s.Require().NoError(err)

	pending, err := s.outbox.CountUnpublished(ctx)
	s.Require().NoError(err)
	s.Equal(1, pending)
}

func (s *RelayIntegrationSuite) TestRelayPublishesToKafka() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	merged := s.appendEvent(events.NewMerged(7, []int64{8, 9}, time.Now()))

	relay := events.NewRelay(s.outbox, s.tx, events.NewKafkaPublisher(s.producer, topic))
	n, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	pending, err := s.outbox.CountUnpublished(ctx)
	s.Require().NoError(err)
	s.Zero(pending)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var found *kgo.Record
	for found == nil && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		fetches.EachRecord(func(r *kgo.Record) {
			for _, h := range r.Headers {
				if h.Key == "event_id" && string(h.Value) == merged.ID.String() {
					found = r
				}
			}
		})
	}
	s.Require().NotNil(found, "merged event never reached the topic")
	s.Equal("7", string(found.Key))
	s.JSONEq(string(merged.Payload), string(found.Value))
}
