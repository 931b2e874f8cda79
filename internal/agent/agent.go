package agent

import "context"

// Capability is a named, versioned unit of work an agent declares it can
// perform. Tasks route to agents by capability name, never by pointer.
type Capability struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// Descriptor describes a registered agent: what it can do, how much of it
// may run at once, and whether it is currently healthy.
type Descriptor struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Version        string       `json:"version"`
	Capabilities   []Capability `json:"capabilities"`
	Priority       int          `json:"priority"`
	MaxConcurrency int          `json:"max_concurrency"`
	Tags           []string     `json:"tags,omitempty"`
	Healthy        bool         `json:"healthy"`
}

// HasCapability reports whether the descriptor exposes the named capability.
func (d Descriptor) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Request carries one task invocation to an agent.
type Request struct {
	ExecutionID string         `json:"execution_id"`
	TaskID      string         `json:"task_id"`
	Capability  string         `json:"capability"`
	Input       map[string]any `json:"input"`
}

// Response is what an agent returns for a successful invocation.
type Response struct {
	Output  map[string]any     `json:"output"`
	Metrics *InvocationMetrics `json:"metrics,omitempty"`
}

// InvocationMetrics tracks agent execution metrics.
type InvocationMetrics struct {
	TokenInput  int   `json:"token_input"`
	TokenOutput int   `json:"token_output"`
	DurationMs  int64 `json:"duration_ms"`
}

// Agent is the interface all executable capabilities implement.
type Agent interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// UnavailableError is returned when no healthy agent exposes a required
// capability. Subject to the task's retry policy before the task is
// recorded as failed.
type UnavailableError struct {
	Capability string
}

func (e *UnavailableError) Error() string {
	return "no healthy agent available for capability: " + e.Capability
}
