package suspension

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"usher/internal/abuse/models"
	suspensionstore "usher/internal/abuse/store/suspension"
	"usher/internal/platform/config"
	"usher/pkg/apperr"
	"usher/pkg/requesttime"
)

type countingSuspensions struct {
	n atomic.Int64
}

func (c *countingSuspensions) IncrementSuspensions() {
	c.n.Add(1)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*models.SuspensionRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) RecordFailure(context.Context, string, int, time.Duration) (*models.SuspensionRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

type SuspensionSuite struct {
	suite.Suite
	metrics *countingSuspensions
	svc     *Service
}

func TestSuspensionSuite(t *testing.T) {
	suite.Run(t, new(SuspensionSuite))
}

func (s *SuspensionSuite) SetupTest() {
	s.metrics = &countingSuspensions{}

	svc, err := New(suspensionstore.NewInMemory(), config.Suspension{
		Threshold: 5,
		Lockout:   5 * time.Minute,
	}, WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.svc = svc
}

func (s *SuspensionSuite) at(t time.Time) context.Context {
	return requesttime.WithTime(context.Background(), t)
}

func (s *SuspensionSuite) TestNewRequiresStore() {
	_, err := New(nil, config.Suspension{})
	s.Error(err)
}

func (s *SuspensionSuite) TestThresholdSuspends() {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := s.at(start)

	for i := 1; i <= 4; i++ {
		st, err := s.svc.RecordFailure(ctx, "b@x.com")
		s.NoError(err)
		s.False(st.Suspended)
		s.Equal(i, st.Attempts)

		check, err := s.svc.IsSuspended(ctx, "b@x.com")
		s.NoError(err)
		s.False(check.Suspended)
	}

	st, err := s.svc.RecordFailure(ctx, "b@x.com")
	s.NoError(err)
	s.True(st.Suspended)
	s.Equal(5, st.Attempts)
	s.Equal(start.Add(5*time.Minute), st.Until)
	s.Equal(int64(1), s.metrics.n.Load())
}

func (s *SuspensionSuite) TestLockoutIsAuthoritative() {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.svc.RecordFailure(s.at(start), "b@x.com")
		s.NoError(err)
	}

	s.Run("still suspended one second later with attempts unchanged", func() {
		later := s.at(start.Add(time.Second))

		st, err := s.svc.IsSuspended(later, "b@x.com")
		s.NoError(err)
		s.True(st.Suspended)
		s.Equal(start.Add(5*time.Minute), st.Until)

		st, err = s.svc.RecordFailure(later, "b@x.com")
		s.NoError(err)
		s.True(st.Suspended)
		s.Equal(5, st.Attempts)
		s.Equal(start.Add(5*time.Minute), st.Until)
	})

	s.Run("clears once the lockout has elapsed", func() {
		after := s.at(start.Add(5*time.Minute + time.Second))

		st, err := s.svc.IsSuspended(after, "b@x.com")
		s.NoError(err)
		s.False(st.Suspended)
		s.Zero(st.Attempts)
	})

	s.Run("post-lockout failure starts a fresh series", func() {
		after := s.at(start.Add(5*time.Minute + time.Second))

		st, err := s.svc.RecordFailure(after, "b@x.com")
		s.NoError(err)
		s.False(st.Suspended)
		s.Equal(1, st.Attempts)
	})
}

func (s *SuspensionSuite) TestReset() {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := s.at(start)

	for i := 0; i < 5; i++ {
		_, err := s.svc.RecordFailure(ctx, "b@x.com")
		s.NoError(err)
	}

	s.NoError(s.svc.Reset(ctx, "b@x.com"))

	st, err := s.svc.IsSuspended(ctx, "b@x.com")
	s.NoError(err)
	s.False(st.Suspended)
	s.Zero(st.Attempts)

	// The slate is clean: four fresh failures do not suspend.
	for i := 1; i <= 4; i++ {
		st, err = s.svc.RecordFailure(ctx, "b@x.com")
		s.NoError(err)
		s.False(st.Suspended)
		s.Equal(i, st.Attempts)
	}
}

func (s *SuspensionSuite) TestStoreFailure() {
	svc, err := New(failingStore{}, config.Suspension{Threshold: 5, Lockout: 5 * time.Minute})
	s.Require().NoError(err)

	ctx := context.Background()

	_, err = svc.IsSuspended(ctx, "a@x.com")
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))

	_, err = svc.RecordFailure(ctx, "a@x.com")
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))

	err = svc.Reset(ctx, "a@x.com")
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))
}

func Test_RemainingLockout(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		st   *models.Status
		want time.Duration
	}{
		{"not suspended", &models.Status{}, 0},
		{"active lockout", &models.Status{Suspended: true, Until: now.Add(90 * time.Second)}, 90 * time.Second},
		{"elapsed lockout is clamped", &models.Status{Suspended: true, Until: now.Add(-time.Second)}, 0},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemainingLockout(tt.st, now); got != tt.want {
				t.Fatalf("RemainingLockout() = %v, want %v", got, tt.want)
			}
		})
	}
}
