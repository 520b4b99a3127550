//go:build integration

package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"baobab/internal/applicationform/cache"
	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
	"baobab/pkg/platform/sentinel"
	"baobab/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = cache.NewRedis(s.redis.Client, time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func sampleForm() *models.ApplicationForm {
	dep := id.QuestionID(7)
	key := "motivation"
	return &models.ApplicationForm{
		ID:      3,
		EventID: 42,
		IsOpen:  true,
		Version: 2,
		Sections: []*models.Section{{
			ID:     5,
			FormID: 3,
			Name:   "About you",
			Order:  1,
			Questions: []*models.Question{
				{ID: 7, FormID: 3, SectionID: 5, Headline: "Role", Type: id.QuestionMultiChoice, Options: json.RawMessage(`["a","b"]`)},
				{ID: 8, FormID: 3, SectionID: 5, Headline: "Why?", Type: id.QuestionLongText, DependsOnQuestionID: &dep, ShowForValues: json.RawMessage(`["a"]`), Key: &key},
			},
		}},
	}
}

func (s *RedisCacheSuite) TestMissReturnsNotFound() {
	_, gen, err := s.cache.Get(context.Background(), 42)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.EqualValues(0, gen)
}

func (s *RedisCacheSuite) TestSetThenGetPreservesAggregate() {
	ctx := context.Background()
	form := sampleForm()
	s.Require().NoError(s.cache.Set(ctx, form, 0))

	got, _, err := s.cache.Get(ctx, 42)
	s.Require().NoError(err)
	s.Equal(form, got)
	s.Nil(got.Sections[0].ShowForValues)
	s.Nil(got.Sections[0].Questions[0].ShowForValues)
}

func (s *RedisCacheSuite) TestInvalidateDropsEntryAndBumpsGeneration() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, sampleForm(), 0))
	s.Require().NoError(s.cache.Invalidate(ctx, 42))

	_, gen, err := s.cache.Get(ctx, 42)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.EqualValues(1, gen)
}

func (s *RedisCacheSuite) TestFillPreparedBeforeInvalidateIsRefused() {
	ctx := context.Background()
	_, gen, err := s.cache.Get(ctx, 42)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.cache.Invalidate(ctx, 42))
	s.Require().NoError(s.cache.Set(ctx, sampleForm(), gen))

	_, _, err = s.cache.Get(ctx, 42)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisCacheSuite) TestOlderVersionDoesNotReplaceNewer() {
	ctx := context.Background()
	newer := sampleForm()
	newer.Version = 3
	newer.IsOpen = false
	s.Require().NoError(s.cache.Set(ctx, newer, 0))

	s.Require().NoError(s.cache.Set(ctx, sampleForm(), 0))

	got, _, err := s.cache.Get(ctx, 42)
	s.Require().NoError(err)
	s.EqualValues(3, got.Version)
	s.False(got.IsOpen)
}

func (s *RedisCacheSuite) TestNoFillIsIgnored() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, sampleForm(), cache.NoFill))

	_, _, err := s.cache.Get(ctx, 42)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisCacheSuite) TestUndecodableEntryIsAMiss() {
	ctx := context.Background()
	s.Require().NoError(s.redis.Client.HSet(ctx, "baobab:application-form:{event:42}", "version", 1, "body", "not json").Err())

	_, _, err := s.cache.Get(ctx, 42)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
