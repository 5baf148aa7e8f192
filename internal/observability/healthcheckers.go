package observability

import (
	"context"
	"fmt"
)

// ProbeChecker wraps a probe function as a health and readiness checker.
// The probe should touch the component cheaply, for example by running a
// no-op read transaction or asking for a document count.
type ProbeChecker struct {
	name  string
	probe func(ctx context.Context) error
}

// NewProbeChecker creates a checker from a probe function
func NewProbeChecker(name string, probe func(ctx context.Context) error) *ProbeChecker {
	return &ProbeChecker{
		name:  name,
		probe: probe,
	}
}

// Name returns the name of the checked component
func (pc *ProbeChecker) Name() string {
	return pc.name
}

// HealthCheck runs the probe
func (pc *ProbeChecker) HealthCheck(ctx context.Context) error {
	if pc.probe == nil {
		return fmt.Errorf("probe function is nil")
	}
	return pc.probe(ctx)
}

// ReadinessCheck runs the probe
func (pc *ProbeChecker) ReadinessCheck(ctx context.Context) error {
	return pc.HealthCheck(ctx)
}

// ConditionChecker reports a fixed failure message while a condition is false.
// It suits components whose state is a simple boolean, such as whether the
// request router is in a state that can serve traffic.
type ConditionChecker struct {
	name    string
	message string
	cond    func() bool
}

// NewConditionChecker creates a checker from a boolean condition
func NewConditionChecker(name, message string, cond func() bool) *ConditionChecker {
	return &ConditionChecker{
		name:    name,
		message: message,
		cond:    cond,
	}
}

// Name returns the name of the checked component
func (cc *ConditionChecker) Name() string {
	return cc.name
}

// HealthCheck evaluates the condition
func (cc *ConditionChecker) HealthCheck(_ context.Context) error {
	if cc.cond == nil {
		return fmt.Errorf("condition function is nil")
	}
	if !cc.cond() {
		return fmt.Errorf("%s", cc.message)
	}
	return nil
}

// ReadinessCheck evaluates the condition
func (cc *ConditionChecker) ReadinessCheck(ctx context.Context) error {
	return cc.HealthCheck(ctx)
}

var _ HealthChecker = (*ProbeChecker)(nil)
var _ ReadinessChecker = (*ProbeChecker)(nil)
var _ HealthChecker = (*ConditionChecker)(nil)
var _ ReadinessChecker = (*ConditionChecker)(nil)
