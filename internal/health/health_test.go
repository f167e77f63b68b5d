package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/slate/internal/capture/browser"
	"github.com/zsiec/slate/internal/capture/hal/sim"
	"github.com/zsiec/slate/internal/logger"
)

type stubChecker struct {
	name string
	err  error
}

func (s *stubChecker) Name() string                    { return s.name }
func (s *stubChecker) Check(ctx context.Context) error { return s.err }

func testManager() *Manager {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewManager(log)
}

func TestManagerOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"no results", nil, StatusDown},
		{"all ok", []Checker{&stubChecker{name: "a"}}, StatusOK},
		{"one degraded", []Checker{
			&stubChecker{name: "a"},
			&stubChecker{name: "b", err: &DegradedError{Reason: "lagging"}},
		}, StatusDegraded},
		{"one down", []Checker{
			&stubChecker{name: "a"},
			&stubChecker{name: "b", err: errors.New("gone")},
		}, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManager()
			for _, c := range tt.checkers {
				m.Register(c)
			}
			if len(tt.checkers) > 0 {
				m.RunChecks(context.Background())
			}
			assert.Equal(t, tt.want, m.GetOverallStatus())
		})
	}
}

func TestManagerRunChecksCollectsResults(t *testing.T) {
	m := testManager()
	m.Register(&stubChecker{name: "good"})
	m.Register(&stubChecker{name: "bad", err: errors.New("broken")})

	results := m.RunChecks(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["good"].Status)
	assert.Equal(t, StatusDown, results["bad"].Status)
	assert.Equal(t, "broken", results["bad"].Message)

	cached := m.GetResults()
	assert.Equal(t, StatusDown, cached["bad"].Status)
}

func TestRedisChecker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.Equal(t, "redis", checker.Name())
	assert.NoError(t, checker.Check(context.Background()))

	mr.Close()
	assert.Error(t, checker.Check(context.Background()))
}

func TestBrowserChecker(t *testing.T) {
	b := browser.New(logger.NewNullLogger())
	checker := NewBrowserChecker(b)

	err := checker.Check(context.Background())
	var degraded *DegradedError
	require.ErrorAs(t, err, &degraded)

	require.NoError(t, b.Attach(sim.New()))
	assert.NoError(t, checker.Check(context.Background()))
}

func TestHandlerHealth(t *testing.T) {
	m := testManager()
	m.Register(&stubChecker{name: "a"})
	h := NewHandler(m)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusOK, resp.Status)
	assert.Contains(t, resp.Checks, "a")
}

func TestHandlerHealthDown(t *testing.T) {
	m := testManager()
	m.Register(&stubChecker{name: "a", err: errors.New("dead")})
	h := NewHandler(m)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerReadyUsesCachedResults(t *testing.T) {
	m := testManager()
	h := NewHandler(m)

	// No checks have run: not ready.
	rec := httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	m.Register(&stubChecker{name: "a"})
	m.RunChecks(context.Background())

	rec = httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerLive(t *testing.T) {
	h := NewHandler(testManager())
	rec := httptest.NewRecorder()
	h.HandleLive(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestPeriodicChecks(t *testing.T) {
	m := testManager()
	m.Register(&stubChecker{name: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartPeriodicChecks(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.GetOverallStatus() == StatusOK {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, StatusOK, m.GetOverallStatus())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
}
