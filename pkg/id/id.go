// pkg/id/id.go
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEntryID returns a ledger entry ID. IDs generated by one process sort
// in creation order, which makes them a stable tie-breaker after created_at.
func NewEntryID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "TXN-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewPaymentID returns an ID for payments created without a provider reference.
func NewPaymentID() string {
	return "pay_" + uuid.NewString()
}

// NewEventID returns an ID for queued provider events that arrive without one.
func NewEventID() string {
	return uuid.NewString()
}
