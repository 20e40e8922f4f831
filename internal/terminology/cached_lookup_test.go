package terminology

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emr-interpretation-server/internal/domain"
)

// countingOrigin answers membership and counts calls.
type countingOrigin struct {
	member bool
	err    error
	calls  int
}

func (o *countingOrigin) Lookup(ctx context.Context, slug string, coding domain.Coding) (bool, error) {
	o.calls++
	return o.member, o.err
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCachedLookup_MemoryTier(t *testing.T) {
	origin := &countingOrigin{member: true}
	lookup, err := NewCachedLookup(origin, nil, CachedLookupConfig{}, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	coding := loincCoding("LA6576-8")

	for i := 0; i < 5; i++ {
		member, err := lookup.Lookup(ctx, "abnormal-findings", coding)
		require.NoError(t, err)
		assert.True(t, member)
	}

	assert.Equal(t, 1, origin.calls, "repeat lookups should be served from memory")

	stats := lookup.Stats()
	assert.Equal(t, int64(5), stats.TotalRequests)
	assert.Equal(t, int64(4), stats.MemoryHits)
	assert.Equal(t, int64(1), stats.OriginCalls)
}

func TestCachedLookup_DistinctKeys(t *testing.T) {
	origin := &countingOrigin{member: false}
	lookup, err := NewCachedLookup(origin, nil, CachedLookupConfig{}, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()

	_, err = lookup.Lookup(ctx, "abnormal-findings", loincCoding("LA6576-8"))
	require.NoError(t, err)
	_, err = lookup.Lookup(ctx, "abnormal-findings", loincCoding("LA6577-6"))
	require.NoError(t, err)
	_, err = lookup.Lookup(ctx, "critical-findings", loincCoding("LA6576-8"))
	require.NoError(t, err)

	assert.Equal(t, 3, origin.calls, "distinct slug/coding pairs are separate cache entries")
}

func TestCachedLookup_NegativeAnswersCached(t *testing.T) {
	origin := &countingOrigin{member: false}
	lookup, err := NewCachedLookup(origin, nil, CachedLookupConfig{}, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	coding := loincCoding("LA0000-0")

	for i := 0; i < 3; i++ {
		member, err := lookup.Lookup(ctx, "abnormal-findings", coding)
		require.NoError(t, err)
		assert.False(t, member)
	}
	assert.Equal(t, 1, origin.calls, "non-membership is cached the same as membership")
}

func TestCachedLookup_OriginErrorNotCached(t *testing.T) {
	origin := &countingOrigin{err: fmt.Errorf("service unavailable")}
	lookup, err := NewCachedLookup(origin, nil, CachedLookupConfig{}, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	coding := loincCoding("LA6576-8")

	_, err = lookup.Lookup(ctx, "abnormal-findings", coding)
	require.Error(t, err)
	_, err = lookup.Lookup(ctx, "abnormal-findings", coding)
	require.Error(t, err)

	assert.Equal(t, 2, origin.calls, "errors must not be cached")
	assert.Equal(t, int64(2), lookup.Stats().ErrorCount)
}

func TestMembershipKey_Stable(t *testing.T) {
	a := membershipKey("abnormal-findings", loincCoding("LA6576-8"))
	b := membershipKey("abnormal-findings", loincCoding("LA6576-8"))
	c := membershipKey("abnormal-findings", loincCoding("LA6577-6"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "valueset:abnormal-findings:")
}
