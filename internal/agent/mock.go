package agent

import (
	"context"
	"fmt"
	"time"
)

// MockAgent returns simulated responses for testing and local development.
type MockAgent struct {
	desc Descriptor

	// InvokeFunc overrides the canned response when set.
	InvokeFunc func(ctx context.Context, req *Request) (*Response, error)

	// Delay simulates execution time.
	Delay time.Duration
}

// NewMockAgent creates a healthy mock agent exposing the given capabilities.
func NewMockAgent(id string, capabilities ...string) *MockAgent {
	caps := make([]Capability, 0, len(capabilities))
	for _, name := range capabilities {
		caps = append(caps, Capability{Name: name, Version: "1.0.0"})
	}
	return &MockAgent{
		desc: Descriptor{
			ID:             id,
			Name:           "mock-" + id,
			Version:        "1.0.0",
			Capabilities:   caps,
			MaxConcurrency: 10,
			Healthy:        true,
		},
	}
}

func (m *MockAgent) Descriptor() Descriptor { return m.desc }

func (m *MockAgent) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}

	start := time.Now()
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &Response{
		Output: map[string]any{
			"result":  fmt.Sprintf("[Mock] %s completed for task '%s'", req.Capability, req.TaskID),
			"summary": "This is a mock output. In production, the agent would run the actual capability.",
		},
		Metrics: &InvocationMetrics{
			TokenInput:  1200,
			TokenOutput: 3500,
			DurationMs:  time.Since(start).Milliseconds(),
		},
	}, nil
}
