// Automod component holding the sliding time window of recent chat messages.
//
// Includes an interface and implementations using redis and in-process memory. Eviction is lazy: expired records are purged (all of them, in a single pass) as part of each insert, and snapshots never return expired records even when the window has been idle.
package window

import (
	"context"
	"errors"
	"time"

	"github.com/ro-community/robot/automod/event"
)

// Returned when mutual exclusion over the window could not be obtained before the context deadline.
var ErrLockTimeout = errors.New("timed out waiting for message window lock")

type Store interface {
	// Evicts every expired record (relative to the arrival time of rec), then adds rec. Concurrent snapshots observe either the state before or after both steps, never in between.
	Insert(ctx context.Context, rec event.MessageRecord) error
	// Removes every record whose age at "now" is at least the retention period. Returns the number of records removed.
	EvictExpired(ctx context.Context, now time.Time) (int, error)
	// Returns the current, unexpired records, oldest first. The returned slice is owned by the caller.
	Snapshot(ctx context.Context, now time.Time) ([]event.MessageRecord, error)
}
