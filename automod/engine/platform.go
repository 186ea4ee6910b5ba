package engine

import (
	"context"
)

// Outbound moderation API of the chat platform. Implementations should honour context deadlines; the dispatcher bounds every call with a timeout.
type Platform interface {
	GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error
	DeleteMessage(ctx context.Context, channelID, messageID, reason string) error
	BanUser(ctx context.Context, guildID, userID string, deleteMessageDays int, reason string) error
	SendDirectNotification(ctx context.Context, recipientID, text string) error
}

// Interface for a type that can handle sending notifications, in addition to the platform direct message
type Notifier interface {
	Name() string
	Notify(ctx context.Context, d *Decision, text string) error
}
