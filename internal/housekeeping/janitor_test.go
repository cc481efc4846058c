package housekeeping

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/deal-scraper/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) ClearExpired() int {
	return m.Called().Int(0)
}

type MockDeals struct {
	mock.Mock
}

func (m *MockDeals) MarkExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDeals) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

var fixedNow = time.Date(2026, 10, 10, 8, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Interval:    time.Hour,
		ExpireAfter: 72 * time.Hour,
		DeleteAfter: 168 * time.Hour,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJanitor_RunOnce(t *testing.T) {
	ctx := context.Background()
	cache := new(MockCache)
	deals := new(MockDeals)
	outbox := new(MockOutbox)
	m := metrics.New(prometheus.NewRegistry())

	cache.On("ClearExpired").Return(4)
	deals.On("MarkExpired", ctx, fixedNow.Add(-72*time.Hour)).Return(int64(3), nil)
	deals.On("DeleteOlderThan", ctx, fixedNow.Add(-168*time.Hour)).Return(int64(2), nil)
	outbox.On("DeleteProcessedBefore", ctx, fixedNow.Add(-168*time.Hour)).Return(int64(5), nil)

	j := NewJanitor(cache, testConfig(), quietLogger(),
		WithDeals(deals), WithOutbox(outbox), WithMetrics(m),
		WithClock(func() time.Time { return fixedNow }))

	report := j.RunOnce(ctx)

	assert.Equal(t, Report{CacheExpired: 4, DealsExpired: 3, DealsDeleted: 2, OutboxPurged: 5}, report)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.HousekeepingRemoved.WithLabelValues("cache_expired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HousekeepingRemoved.WithLabelValues("deals_expired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HousekeepingRemoved.WithLabelValues("deals_deleted")))
	cache.AssertExpectations(t)
	deals.AssertExpectations(t)
	outbox.AssertExpectations(t)
}

func TestJanitor_CacheOnly(t *testing.T) {
	cache := new(MockCache)
	cache.On("ClearExpired").Return(0)

	report := NewJanitor(cache, testConfig(), quietLogger()).RunOnce(context.Background())

	assert.Equal(t, Report{}, report)
	cache.AssertExpectations(t)
}

func TestJanitor_FailuresDoNotStopPass(t *testing.T) {
	ctx := context.Background()
	cache := new(MockCache)
	deals := new(MockDeals)

	cache.On("ClearExpired").Return(1)
	deals.On("MarkExpired", ctx, mock.Anything).Return(int64(0), errors.New("connection refused"))
	deals.On("DeleteOlderThan", ctx, mock.Anything).Return(int64(6), nil)

	j := NewJanitor(cache, testConfig(), quietLogger(), WithDeals(deals),
		WithClock(func() time.Time { return fixedNow }))

	report := j.RunOnce(ctx)

	assert.Equal(t, 1, report.FailedTasks)
	assert.Equal(t, 1, report.CacheExpired)
	assert.Equal(t, int64(6), report.DealsDeleted)
	deals.AssertExpectations(t)
}

func TestJanitor_ZeroAgesSkipDealTasks(t *testing.T) {
	cache := new(MockCache)
	deals := new(MockDeals)
	cache.On("ClearExpired").Return(0)

	j := NewJanitor(cache, Config{Interval: time.Minute}, quietLogger(), WithDeals(deals))
	j.RunOnce(context.Background())

	deals.AssertNotCalled(t, "MarkExpired", mock.Anything, mock.Anything)
	deals.AssertNotCalled(t, "DeleteOlderThan", mock.Anything, mock.Anything)
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	cache := new(MockCache)
	cache.On("ClearExpired").Return(0)

	j := NewJanitor(cache, Config{Interval: 10 * time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on context cancellation")
	}

	// immediate pass plus at least one tick
	assert.GreaterOrEqual(t, len(cache.Calls), 2)
}
