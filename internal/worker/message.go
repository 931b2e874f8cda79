// Package worker consumes broker messages and turns each at-least-once
// delivery into at-most-one execution side effect, using the idempotency
// store and the distributed lock around the orchestration engine.
package worker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/patchflow/worker/internal/idempotency"
)

// Message is one broker delivery. ID is the broker's delivery id and stays
// stable across redeliveries of the same message.
type Message struct {
	ID         string            `json:"messageId"`
	Data       []byte            `json:"-"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// pushEnvelope is the Pub/Sub-style wrapper around a pushed message. Data is
// base64 inside the JSON body.
type pushEnvelope struct {
	Message struct {
		ID         string            `json:"messageId"`
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription,omitempty"`
}

// DecodePushRequest unwraps a push-delivery body into a Message.
func DecodePushRequest(body []byte) (*Message, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode push envelope: %w", err)
	}
	if env.Message.ID == "" {
		return nil, fmt.Errorf("push envelope missing messageId")
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("decode message data: %w", err)
	}
	return &Message{
		ID:         env.Message.ID,
		Data:       data,
		Attributes: env.Message.Attributes,
	}, nil
}

// Job types understood by the processing core. Additional types register a
// Handler on the Processor.
const JobTypeWorkflow = "workflow"

// Job is the decoded payload of one message: what to run and for whom. The
// source-specific id fields feed the idempotency key.
type Job struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	Source   string `json:"source,omitempty"`

	// Exactly one discriminator is expected, matching Source.
	DeliveryID string `json:"delivery_id,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`
	FiredAt    int64  `json:"fired_at,omitempty"`
	RequestID  string `json:"request_id,omitempty"`

	WorkflowID string         `json:"workflow_id,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// DecodeJob parses a message's data into a Job.
func DecodeJob(msg *Message) (*Job, error) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.Type == "" {
		return nil, fmt.Errorf("job missing type")
	}
	if job.TenantID == "" {
		return nil, fmt.Errorf("job missing tenant_id")
	}
	return &job, nil
}

// IdempotencyKey derives the logical key for this job from its source and
// discriminator.
func (j *Job) IdempotencyKey() (string, error) {
	switch j.Source {
	case idempotency.SourceWebhook:
		if j.DeliveryID == "" {
			return "", fmt.Errorf("webhook job missing delivery_id")
		}
		return idempotency.WebhookKey(j.TenantID, j.DeliveryID), nil
	case idempotency.SourceCallback:
		if j.CallbackID == "" {
			return "", fmt.Errorf("callback job missing callback_id")
		}
		return idempotency.CallbackKey(j.TenantID, j.CallbackID), nil
	case idempotency.SourceSchedule:
		if j.ScheduleID == "" || j.FiredAt == 0 {
			return "", fmt.Errorf("schedule job missing schedule_id or fired_at")
		}
		return idempotency.ScheduleKey(j.TenantID, j.ScheduleID, time.Unix(j.FiredAt, 0)), nil
	default:
		if j.RequestID == "" {
			return "", fmt.Errorf("job missing request_id")
		}
		return idempotency.RequestKey(j.Source, j.TenantID, j.RequestID), nil
	}
}
