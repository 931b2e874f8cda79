package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogicalKeyComposition(t *testing.T) {
	assert.Equal(t, "webhook:tenant-a:d-1", WebhookKey("tenant-a", "d-1"))
	assert.Equal(t, "callback:tenant-a:cb-1", CallbackKey("tenant-a", "cb-1"))

	at := time.Unix(1700000000, 0)
	assert.Equal(t, "schedule:tenant-a:nightly:1700000000", ScheduleKey("tenant-a", "nightly", at))

	assert.Equal(t, "manual:tenant-a:req-1", RequestKey("", "tenant-a", "req-1"))
	assert.Equal(t, "api:tenant-a:req-1", RequestKey("api", "tenant-a", "req-1"))
}

func TestTenantsNeverCollide(t *testing.T) {
	a := WebhookKey("tenant-a", "d-1")
	b := WebhookKey("tenant-b", "d-1")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, HashKey(a), HashKey(b))
}

func TestHashKeyIsDeterministicAndFixedLength(t *testing.T) {
	h1 := HashKey("webhook:tenant-a:d-1")
	h2 := HashKey("webhook:tenant-a:d-1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex sha-256
	assert.NotContains(t, h1, ":")
}
