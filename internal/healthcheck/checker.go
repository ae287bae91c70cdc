package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
)

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more runtime checks.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// Suite runs a fixed set of checkers.
type Suite struct {
	checkers []Checker
	logger   *slog.Logger
}

// NewSuite creates a Suite; nil checkers are skipped.
func NewSuite(log *slog.Logger, checkers ...Checker) *Suite {
	if log == nil {
		log = slog.Default()
	}
	s := &Suite{logger: log.With(slog.String("component", "healthcheck"))}
	for _, c := range checkers {
		if c != nil {
			s.checkers = append(s.checkers, c)
		}
	}
	return s
}

// ListChecks evaluates every checker in order.
func (s *Suite) ListChecks(ctx context.Context) []CheckResult {
	results := make([]CheckResult, 0, len(s.checkers))
	for _, c := range s.checkers {
		results = append(results, c.ListChecks(ctx)...)
	}
	return results
}

// Check fails when any check reports StatusError. Warnings pass.
func (s *Suite) Check(ctx context.Context) error {
	var failed []string
	for _, item := range s.ListChecks(ctx) {
		if item.Status == StatusError {
			failed = append(failed, item.ID)
			s.logger.Debug("check failed", slog.String("id", item.ID), slog.String("detail", item.Detail))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failing checks: %s", strings.Join(failed, ", "))
	}
	return nil
}
