package discord

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Adapts the REST client to the automod engine's platform interface. Direct-message channel ids are cached, so a notification is a single API call after the first one.
type Moderator struct {
	Client *Client

	dmChannels *lru.Cache[string, string]
}

func NewModerator(c *Client) *Moderator {
	dm, err := lru.New[string, string](128)
	if err != nil {
		// only fails on non-positive size
		panic(err)
	}
	return &Moderator{
		Client:     c,
		dmChannels: dm,
	}
}

func (m *Moderator) GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return m.Client.AddMemberRole(ctx, guildID, userID, roleID, reason)
}

func (m *Moderator) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	return m.Client.DeleteMessage(ctx, channelID, messageID, reason)
}

func (m *Moderator) BanUser(ctx context.Context, guildID, userID string, deleteMessageDays int, reason string) error {
	return m.Client.BanUser(ctx, guildID, userID, deleteMessageDays, reason)
}

func (m *Moderator) SendDirectNotification(ctx context.Context, recipientID, text string) error {
	channelID, ok := m.dmChannels.Get(recipientID)
	if !ok {
		ch, err := m.Client.CreateDM(ctx, recipientID)
		if err != nil {
			return fmt.Errorf("opening direct message channel: %w", err)
		}
		channelID = ch.ID
		m.dmChannels.Add(recipientID, channelID)
	}
	if _, err := m.Client.CreateMessage(ctx, channelID, text); err != nil {
		// channel may have gone away; open a fresh one next time
		m.dmChannels.Remove(recipientID)
		return fmt.Errorf("sending direct message: %w", err)
	}
	return nil
}
