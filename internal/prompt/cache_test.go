package prompt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedSource struct {
	compiled *Compiled
	err      error
	calls    int
}

func (s *scriptedSource) FetchPrompt(_ context.Context, name, _ string) (*Compiled, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.compiled, nil
}

func newTestCache(source Source, ttl time.Duration) (*Cache, *time.Time) {
	cache := NewCache(source, ttl, zap.NewNop())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestGetFetchesOnceWithinTTL(t *testing.T) {
	source := &scriptedSource{compiled: &Compiled{Name: "p", Prompt: "body"}}
	cache, _ := newTestCache(source, time.Minute)

	first, err := cache.Get(context.Background(), "p", "production")
	require.NoError(t, err)
	assert.Equal(t, "body", first.Prompt)

	second, err := cache.Get(context.Background(), "p", "production")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls, "fresh entry must not contact the source")
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	source := &scriptedSource{compiled: &Compiled{Name: "p", Prompt: "body"}}
	cache, now := newTestCache(source, time.Minute)

	_, err := cache.Get(context.Background(), "p", "production")
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	_, err = cache.Get(context.Background(), "p", "production")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestGetServesStaleOnSourceFailure(t *testing.T) {
	source := &scriptedSource{compiled: &Compiled{Name: "p", Prompt: "cached body"}}
	cache, now := newTestCache(source, time.Minute)

	_, err := cache.Get(context.Background(), "p", "production")
	require.NoError(t, err)

	source.err = errors.New("source down")
	*now = now.Add(time.Hour)

	stale, err := cache.Get(context.Background(), "p", "production")
	require.NoError(t, err, "stale entry must be served instead of an error")
	assert.Equal(t, "cached body", stale.Prompt)
}

func TestGetFailsWhenNothingCached(t *testing.T) {
	source := &scriptedSource{err: errors.New("source down")}
	cache, _ := newTestCache(source, time.Minute)

	_, err := cache.Get(context.Background(), "p", "production")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePromptSourceDown))

	appErr := apperr.From(err)
	assert.True(t, appErr.Retryable)
}

func TestCacheKeyIncludesLabel(t *testing.T) {
	source := &scriptedSource{compiled: &Compiled{Name: "p", Prompt: "body"}}
	cache, _ := newTestCache(source, time.Minute)

	_, err := cache.Get(context.Background(), "p", "production")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "p", "staging")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls, "different labels are separate entries")
}

func TestWarmContinuesPastFailures(t *testing.T) {
	source := &scriptedSource{err: errors.New("source down")}
	cache, _ := newTestCache(source, time.Minute)

	cache.Warm(context.Background(), []string{"a", "b", "c"}, "production")
	assert.Equal(t, 3, source.calls, "a failing prefetch must not abort the batch")
}
