//go:build integration

package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"commhub/internal/comms/store"
	redisplatform "commhub/internal/platform/redis"
	"commhub/internal/processing"
	processingstore "commhub/internal/processing/store"
	"commhub/internal/thread"
	"commhub/pkg/domain"
	"commhub/pkg/testutil/containers"
)

type RedisDedupSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisDedupSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisDedupSuite))
}

func (s *RedisDedupSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
}

func (s *RedisDedupSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisDedupSuite) newService(comms store.Store) *Service {
	logger := slog.New(slog.DiscardHandler)
	recorder := processing.NewRecorder(processingstore.NewInMemory(), logger)
	linker := thread.NewLinker(comms, logger)
	resolver := &fakeResolver{contacts: map[string]domain.ContactID{}}
	return New(comms, resolver, linker, recorder, logger,
		WithCache(&redisplatform.Client{Client: s.redis.Client}))
}

// TestDedupCacheHitSkipsStoreWrite verifies a re-ingested message is answered
// from the cache without a second pipeline run.
func (s *RedisDedupSuite) TestDedupCacheHitSkipsStoreWrite() {
	ctx := context.Background()
	comms := store.NewInMemory()
	svc := s.newService(comms)

	req := IngestRequest{
		Platform:          domain.PlatformEmail,
		PlatformMessageID: "<cached@mail.example.com>",
		SenderIdentifier:  "sender@example.com",
		Content:           "hello",
		Direction:         domain.DirectionIncoming,
	}

	first, err := svc.Ingest(ctx, req)
	s.Require().NoError(err)
	s.True(first.Created)

	// The dedup key should now be in redis.
	val, err := s.redis.Client.Get(ctx, "commhub:dedup:email:<cached@mail.example.com>").Result()
	s.Require().NoError(err)
	s.Equal(first.Communication.ID.String(), val)

	second, err := svc.Ingest(ctx, req)
	s.Require().NoError(err)
	s.False(second.Created)
	s.Equal(first.Communication.ID, second.Communication.ID)

	all, err := comms.List(ctx, store.Filter{IncludeDeleted: true})
	s.Require().NoError(err)
	s.Len(all, 1)
}

// TestStaleCacheEntryFallsThrough verifies a cache entry pointing at a
// deleted communication does not mask re-ingestion.
func (s *RedisDedupSuite) TestStaleCacheEntryFallsThrough() {
	ctx := context.Background()
	comms := store.NewInMemory()
	svc := s.newService(comms)

	req := IngestRequest{
		Platform:          domain.PlatformEmail,
		PlatformMessageID: "<stale@mail.example.com>",
		SenderIdentifier:  "sender@example.com",
		Content:           "hello",
		Direction:         domain.DirectionIncoming,
	}

	first, err := svc.Ingest(ctx, req)
	s.Require().NoError(err)

	comm, err := comms.Find(ctx, first.Communication.ID)
	s.Require().NoError(err)
	comm.MarkDeleted(comm.CreatedAt, "operator", "cleanup", "")
	s.Require().NoError(comms.Update(ctx, comm))

	// The cache still holds the key, but the record behind it is deleted, so
	// ingestion falls through and creates a fresh row.
	second, err := svc.Ingest(ctx, req)
	s.Require().NoError(err)
	s.True(second.Created)
	s.NotEqual(first.Communication.ID, second.Communication.ID)
}

// TestCorruptCacheValueIgnored verifies garbage in the cache never breaks
// ingestion.
func (s *RedisDedupSuite) TestCorruptCacheValueIgnored() {
	ctx := context.Background()
	comms := store.NewInMemory()
	svc := s.newService(comms)

	s.Require().NoError(s.redis.Client.Set(ctx,
		"commhub:dedup:email:<junk@mail.example.com>", "not-a-uuid", 0).Err())

	result, err := svc.Ingest(ctx, IngestRequest{
		Platform:          domain.PlatformEmail,
		PlatformMessageID: "<junk@mail.example.com>",
		SenderIdentifier:  "sender@example.com",
		Content:           "hello",
		Direction:         domain.DirectionIncoming,
	})
	s.Require().NoError(err)
	s.True(result.Created)
}
