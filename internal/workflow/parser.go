package workflow

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ─── YAML definition format ───

type definitionYAML struct {
	ID            string     `yaml:"id"`
	Name          string     `yaml:"name"`
	Version       string     `yaml:"version"`
	FailurePolicy string     `yaml:"failure_policy"`
	Timeout       string     `yaml:"timeout"`
	Tags          []string   `yaml:"tags"`
	Tasks         []taskYAML `yaml:"tasks"`
}

type taskYAML struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Capability     string         `yaml:"capability"`
	AgentID        string         `yaml:"agent_id"`
	Input          map[string]any `yaml:"input"`
	Dependencies   []string       `yaml:"dependencies"`
	DependencyType string         `yaml:"dependency_type"`
	Timeout        string         `yaml:"timeout"`
	Retry          *retryYAML     `yaml:"retry"`
}

type retryYAML struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}

// ParseDefinition parses a YAML workflow definition and validates its task
// graph. When no task declares dependencies, a linear chain is inferred from
// task order, matching how operators write simple flows.
func ParseDefinition(text string) (*Definition, error) {
	var raw definitionYAML
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	def := &Definition{
		ID:            raw.ID,
		Name:          raw.Name,
		Version:       raw.Version,
		FailurePolicy: FailurePolicy(raw.FailurePolicy),
		Tags:          raw.Tags,
	}
	if def.FailurePolicy == "" {
		def.FailurePolicy = FailFast
	}
	if def.FailurePolicy != FailFast && def.FailurePolicy != ContinueOnError {
		return nil, fmt.Errorf("unknown failure_policy: %s", raw.FailurePolicy)
	}

	var err error
	if def.Timeout, err = parseDuration(raw.Timeout); err != nil {
		return nil, fmt.Errorf("workflow timeout: %w", err)
	}

	anyDeps := false
	for _, rt := range raw.Tasks {
		task := TaskDefinition{
			ID:             rt.ID,
			Name:           rt.Name,
			Capability:     rt.Capability,
			AgentID:        rt.AgentID,
			Input:          rt.Input,
			Dependencies:   rt.Dependencies,
			DependencyType: DependencyType(rt.DependencyType),
		}
		if task.DependencyType == "" {
			task.DependencyType = DependencyParallel
		}
		if task.DependencyType != DependencySequential && task.DependencyType != DependencyParallel {
			return nil, fmt.Errorf("task %s: unknown dependency_type: %s", rt.ID, rt.DependencyType)
		}
		if task.Timeout, err = parseDuration(rt.Timeout); err != nil {
			return nil, fmt.Errorf("task %s timeout: %w", rt.ID, err)
		}
		if rt.Retry != nil {
			backoff, err := parseDuration(rt.Retry.Backoff)
			if err != nil {
				return nil, fmt.Errorf("task %s retry backoff: %w", rt.ID, err)
			}
			task.Retry = &RetryPolicy{MaxAttempts: rt.Retry.MaxAttempts, Backoff: backoff}
		}
		if len(rt.Dependencies) > 0 {
			anyDeps = true
		}
		def.Tasks = append(def.Tasks, task)
	}

	// No explicit dependencies anywhere: infer a linear chain from task order.
	if !anyDeps {
		for i := 1; i < len(def.Tasks); i++ {
			def.Tasks[i].Dependencies = []string{def.Tasks[i-1].ID}
		}
	}

	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
