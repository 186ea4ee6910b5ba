package event

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingGuild     = errors.New("message has no guild context")
	ErrMissingAuthor    = errors.New("message has no author")
	ErrMissingChannel   = errors.New("message has no channel")
	ErrMissingMessageID = errors.New("message has no identifier")
)

// Summary of a rich embed attached to a message. Only the fields which
// participate in duplicate detection are kept.
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Incoming chat message, as decoded from the gateway. This is the ingest shape; it gets validated and converted into a MessageRecord before entering the window.
type MessageEvent struct {
	MessageID  string
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Content    string
	Embeds     []Embed
}

// Immutable
type MessageRecord struct {
	MessageID  string    `json:"message_id"`
	GuildID    string    `json:"guild_id"`
	ChannelID  string    `json:"channel_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	Embeds     []Embed   `json:"embeds,omitempty"`
	ArrivedAt  time.Time `json:"arrived_at"`
}

// Indicates the event should be silently dropped before entering the window: bot authors, and messages with no text content.
func (evt *MessageEvent) Ignorable() bool {
	return evt.AuthorBot || evt.Content == ""
}

// Checks that the event has the fields needed to act on it.
func (evt *MessageEvent) Validate() error {
	switch {
	case evt.GuildID == "":
		return ErrMissingGuild
	case evt.AuthorID == "":
		return ErrMissingAuthor
	case evt.ChannelID == "":
		return ErrMissingChannel
	case evt.MessageID == "":
		return ErrMissingMessageID
	}
	return nil
}

// Builds the window record for this event. The embed slice is copied so the record does not alias caller memory.
func (evt *MessageEvent) Record(arrived time.Time) MessageRecord {
	var embeds []Embed
	if len(evt.Embeds) > 0 {
		embeds = make([]Embed, len(evt.Embeds))
		copy(embeds, evt.Embeds)
	}
	return MessageRecord{
		MessageID:  evt.MessageID,
		GuildID:    evt.GuildID,
		ChannelID:  evt.ChannelID,
		AuthorID:   evt.AuthorID,
		AuthorName: evt.AuthorName,
		Content:    evt.Content,
		Embeds:     embeds,
		ArrivedAt:  arrived,
	}
}

// Age of the record at the given time.
func (r *MessageRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.ArrivedAt)
}

// A record is expired once its age reaches the retention period.
func (r *MessageRecord) Expired(now time.Time, retention time.Duration) bool {
	return r.Age(now) >= retention
}

func (r *MessageRecord) String() string {
	return fmt.Sprintf("%s/%s/%s", r.GuildID, r.ChannelID, r.MessageID)
}
