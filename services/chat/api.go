package chat

import (
	"context"
	"fmt"
)

// Channel types as the REST API reports them.
const (
	ChannelGuildText    = 0
	ChannelDM           = 1
	ChannelAnnouncement = 5
	ChannelPublicThread = 11
)

// Error codes for removed chat resources.
const (
	CodeUnknownChannel = 10003
	CodeUnknownMessage = 10008
)

// API is the slice of the chat REST surface the mirror needs. The live
// implementation is Client; tests substitute fakes.
type API interface {
	Channel(ctx context.Context, channelID string) (Channel, error)
	Message(ctx context.Context, channelID, messageID string) (Message, error)
	CreateMessage(ctx context.Context, channelID string, p MessagePayload) (Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, p MessagePayload) (Message, error)
	StartThread(ctx context.Context, channelID, messageID, name string) (Channel, error)
}

type Channel struct {
	ID      string `json:"id"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Sendable reports whether alerts can be mirrored into the channel.
func (c Channel) Sendable() bool {
	return c.Type == ChannelGuildText || c.Type == ChannelAnnouncement
}

type Message struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channel_id"`
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// MessagePayload is the create/edit request body. Components is a pointer so
// an edit can distinguish "leave buttons alone" (nil) from "remove all
// buttons" (empty slice).
type MessagePayload struct {
	Content    string       `json:"content,omitempty"`
	Embeds     []Embed      `json:"embeds,omitempty"`
	Components *[]Component `json:"components,omitempty"`
}

type Embed struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Color       int             `json:"color,omitempty"`
	Fields      []EmbedField    `json:"fields,omitempty"`
	Thumbnail   *EmbedThumbnail `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter    `json:"footer,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedThumbnail struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Component types and button styles.
const (
	componentActionRow = 1
	componentButton    = 2

	styleSecondary = 2
	styleSuccess   = 3
	styleDanger    = 4
)

type Component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// IsGone reports that the referenced channel or message no longer exists.
func (e *APIError) IsGone() bool {
	return e.Code == CodeUnknownChannel || e.Code == CodeUnknownMessage
}

func (e *APIError) IsRateLimit() bool {
	return e.Status == 429
}

// IsGone reports whether err is an APIError for a removed resource.
func IsGone(err error) bool {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.IsGone()
	}
	return false
}

func asAPIError(err error) (*APIError, bool) {
	for err != nil {
		if apiErr, ok := err.(*APIError); ok {
			return apiErr, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
