package healthcheck

import "context"

// Probe is a dependency that can report its own readiness.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeChecker bridges a Probe to Checker as a single check item.
type ProbeChecker struct {
	id      string
	summary string
	probe   Probe
}

// NewProbeChecker creates a checker reporting probe under id.
func NewProbeChecker(id, summary string, probe Probe) *ProbeChecker {
	return &ProbeChecker{id: id, summary: summary, probe: probe}
}

// ListChecks runs the probe once.
func (a *ProbeChecker) ListChecks(ctx context.Context) []CheckResult {
	item := CheckResult{
		ID:      a.id,
		Type:    a.id,
		Status:  StatusOK,
		Summary: a.summary,
	}
	if a.probe == nil {
		item.Status = StatusWarn
		item.Detail = "probe is not configured"
		return []CheckResult{item}
	}
	if err := a.probe.Check(ctx); err != nil {
		item.Status = StatusError
		item.Detail = err.Error()
	}
	return []CheckResult{item}
}
