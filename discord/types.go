package discord

import (
	"encoding/json"

	"github.com/ro-community/robot/automod/event"
)

// Gateway opcodes
const (
	OpDispatch       = 0
	OpHeartbeat      = 1
	OpIdentify       = 2
	OpResume         = 6
	OpReconnect      = 7
	OpInvalidSession = 9
	OpHello          = 10
	OpHeartbeatACK   = 11
)

// Gateway intents needed to see guild messages (with content) and moderation events
const (
	IntentGuildModeration = 1 << 2
	IntentGuildMessages   = 1 << 9
	IntentMessageContent  = 1 << 15

	DefaultIntents = IntentGuildMessages | IntentMessageContent | IntentGuildModeration
)

// Envelope for every message on the gateway websocket
type GatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type Identify struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties IdentifyProperties `json:"properties"`
}

type User struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name,omitempty"`
	Bot        bool    `json:"bot,omitempty"`
}

// Nickname shown in clients: global display name if set, otherwise username
func (u *User) DisplayName() string {
	if u.GlobalName != nil && *u.GlobalName != "" {
		return *u.GlobalName
	}
	return u.Username
}

type Embed struct {
	Title       string `json:"title,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Subset of the message object, as delivered in MESSAGE_CREATE dispatches and REST responses
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Author      User         `json:"author"`
	Content     string       `json:"content"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Converts to the automod ingest shape. Attachments are not carried over; they do not take part in duplicate detection.
func (m *Message) Event() *event.MessageEvent {
	embeds := make([]event.Embed, 0, len(m.Embeds))
	for _, e := range m.Embeds {
		embeds = append(embeds, event.Embed{
			Title:       e.Title,
			Description: e.Description,
			Kind:        e.Type,
			URL:         e.URL,
		})
	}
	return &event.MessageEvent{
		MessageID:  m.ID,
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.DisplayName(),
		AuthorBot:  m.Author.Bot,
		Content:    m.Content,
		Embeds:     embeds,
	}
}
