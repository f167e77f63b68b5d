// Package health aggregates component health checks behind HTTP probes.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status represents the health status of a component.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check is one health check result.
type Check struct {
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	DurationMS  float64                `json:"duration_ms"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Checker is one probeable component.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// DegradedError marks a check result as degraded rather than down.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

// Manager runs registered checkers and caches their latest results.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	results  map[string]*Check
	logger   *logrus.Logger
}

// NewManager creates an empty health manager.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		results: make(map[string]*Check),
		logger:  logger,
	}
}

// Register adds a checker.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
	m.logger.WithField("checker", checker.Name()).Debug("Registered health checker")
}

// RunChecks executes every checker concurrently and returns the results.
func (m *Manager) RunChecks(ctx context.Context) map[string]*Check {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	resultsChan := make(chan *Check, len(checkers))

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			duration := time.Since(start)

			check := &Check{
				Name:        c.Name(),
				Status:      StatusOK,
				LastChecked: time.Now(),
				DurationMS:  float64(duration.Milliseconds()),
			}

			switch e := err.(type) {
			case nil:
			case *DegradedError:
				check.Status = StatusDegraded
				check.Message = e.Reason
			default:
				check.Status = StatusDown
				if err == context.DeadlineExceeded {
					check.Message = "health check timed out"
				} else {
					check.Message = err.Error()
				}
				m.logger.WithFields(logrus.Fields{
					"checker":  c.Name(),
					"duration": duration,
					"error":    err,
				}).Error("Health check failed")
			}

			resultsChan <- check
		}(checker)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make(map[string]*Check, len(checkers))
	for check := range resultsChan {
		results[check.Name] = check
		m.mu.Lock()
		m.results[check.Name] = check
		m.mu.Unlock()
	}
	return results
}

// GetResults returns a copy of the latest results.
func (m *Manager) GetResults() map[string]*Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]*Check, len(m.results))
	for k, v := range m.results {
		cp := *v
		results[k] = &cp
	}
	return results
}

// GetOverallStatus reduces the cached results to one status. Any down
// component takes the whole service down; no results yet reads as down.
func (m *Manager) GetOverallStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.results) == 0 {
		return StatusDown
	}

	overall := StatusOK
	for _, check := range m.results {
		switch check.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// StartPeriodicChecks runs all checks on an interval until ctx is done.
func (m *Manager) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RunChecks(ctx)
	for {
		select {
		case <-ticker.C:
			m.RunChecks(ctx)
		case <-ctx.Done():
			m.logger.Info("Stopping periodic health checks")
			return
		}
	}
}
