package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Strategy selects among healthy agents exposing the same capability.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyLeastBusy  Strategy = "least_busy"
	StrategyRandom     Strategy = "random"
)

type entry struct {
	agent    Agent
	desc     Descriptor
	inFlight int
}

// Registry is the catalog of executable capabilities. It owns agent health
// state and per-agent in-flight counts, and applies the load-balancing
// strategy when a task is not pinned to a specific agent.
type Registry struct {
	mu       sync.Mutex
	agents   map[string]*entry // agent id → entry
	rrCursor map[string]int    // capability → round-robin cursor
	logger   *zap.SugaredLogger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		agents:   make(map[string]*entry),
		rrCursor: make(map[string]int),
		logger:   logger,
	}
}

// Register adds an agent to the catalog. Registering an id twice is an error;
// unregister the old instance first.
func (r *Registry) Register(a Agent) error {
	desc := a.Descriptor()
	if desc.ID == "" {
		return fmt.Errorf("agent has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[desc.ID]; exists {
		return fmt.Errorf("agent already registered: %s", desc.ID)
	}
	r.agents[desc.ID] = &entry{agent: a, desc: desc}

	r.logger.Infow("Registered agent",
		"agent_id", desc.ID,
		"name", desc.Name,
		"capabilities", len(desc.Capabilities),
	)
	return nil
}

// Unregister removes an agent from the catalog.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// SetHealthy updates an agent's health state.
func (r *Registry) SetHealthy(agentID string, healthy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("agent not registered: %s", agentID)
	}
	e.desc.Healthy = healthy
	return nil
}

// Get returns the agent pinned by id. Unhealthy or missing pinned agents are
// unavailable; the caller's retry policy decides what happens next.
func (r *Registry) Get(agentID string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok || !e.desc.Healthy {
		return nil, &UnavailableError{Capability: "agent:" + agentID}
	}
	return e.agent, nil
}

// Select picks a healthy agent exposing capability using the given strategy.
// Agents already at their max concurrency are skipped.
func (r *Registry) Select(capability string, strategy Strategy) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*entry
	for _, e := range r.agents {
		if !e.desc.Healthy || !e.desc.HasCapability(capability) {
			continue
		}
		if e.desc.MaxConcurrency > 0 && e.inFlight >= e.desc.MaxConcurrency {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, &UnavailableError{Capability: capability}
	}

	switch strategy {
	case StrategyLeastBusy:
		best := candidates[0]
		for _, e := range candidates[1:] {
			if e.inFlight < best.inFlight {
				best = e
			}
		}
		return best.agent, nil
	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))].agent, nil
	default: // round_robin
		// Stable order so the cursor rotates through the same sequence.
		sortEntriesByID(candidates)
		cursor := r.rrCursor[capability]
		picked := candidates[cursor%len(candidates)]
		r.rrCursor[capability] = cursor + 1
		return picked.agent, nil
	}
}

// Invoke runs the request against the agent with in-flight accounting, so
// Select sees accurate load and max-concurrency limits hold.
func (r *Registry) Invoke(ctx context.Context, a Agent, req *Request) (*Response, error) {
	id := a.Descriptor().ID

	r.mu.Lock()
	if e, ok := r.agents[id]; ok {
		e.inFlight++
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if e, ok := r.agents[id]; ok && e.inFlight > 0 {
			e.inFlight--
		}
		r.mu.Unlock()
	}()

	return a.Invoke(ctx, req)
}

// InFlight returns the current in-flight count for an agent.
func (r *Registry) InFlight(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok {
		return e.inFlight
	}
	return 0
}

// Descriptors returns a snapshot of all registered agent descriptors.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Descriptor, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.desc)
	}
	return out
}

func sortEntriesByID(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].desc.ID < entries[j].desc.ID
	})
}
