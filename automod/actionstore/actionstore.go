// Automod component remembering which authors were recently actioned, so a repeat decision can be suppressed during a cooldown period.
//
// Includes an interface and implementations using redis and in-process memory. Suppression is opt-in: the engine only consults a store when a cooldown is configured.
package actionstore

import (
	"context"
	"time"
)

type Store interface {
	// Marks the subject as actioned, starting (or restarting) its cooldown.
	Mark(ctx context.Context, guildID, authorID string, at time.Time) error
	// Returns when the subject was last actioned, if still within the cooldown.
	LastActioned(ctx context.Context, guildID, authorID string) (*time.Time, error)
}

func subjectKey(guildID, authorID string) string {
	return guildID + "/" + authorID
}
