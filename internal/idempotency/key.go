package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event source names used as the first segment of logical keys.
const (
	SourceWebhook  = "webhook"
	SourceCallback = "callback"
	SourceSchedule = "schedule"
	SourceManual   = "manual"
)

// LogicalKey composes the canonical source:tenant:discriminator key. The
// tenant segment keeps identical events from different tenants apart; the
// discriminator is source-specific.
func LogicalKey(source, tenantID, discriminator string) string {
	return fmt.Sprintf("%s:%s:%s", source, tenantID, discriminator)
}

// WebhookKey derives the key for a webhook event from its delivery id.
func WebhookKey(tenantID, deliveryID string) string {
	return LogicalKey(SourceWebhook, tenantID, deliveryID)
}

// CallbackKey derives the key for a chat-command callback.
func CallbackKey(tenantID, callbackID string) string {
	return LogicalKey(SourceCallback, tenantID, callbackID)
}

// ScheduleKey derives the key for one firing of a schedule. The timestamp
// distinguishes firings of the same schedule.
func ScheduleKey(tenantID, scheduleID string, firedAt time.Time) string {
	return LogicalKey(SourceSchedule, tenantID, fmt.Sprintf("%s:%d", scheduleID, firedAt.Unix()))
}

// RequestKey derives the key for a caller-supplied request id.
func RequestKey(source, tenantID, requestID string) string {
	if source == "" {
		source = SourceManual
	}
	return LogicalKey(source, tenantID, requestID)
}

// HashKey returns the fixed-length storage identifier for a logical key:
// a hex SHA-256 digest, so lookups are O(1) regardless of key length and
// the raw key structure never leaks into row identifiers.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
