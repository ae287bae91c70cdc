// Package channel provides a transport-neutral abstraction over chat platforms.
// It defines message types, adapter interfaces, and a registry for adapters
// such as Telegram.
package channel

import (
	"fmt"
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "telegram").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns the trimmed value for the given key, or empty string if absent.
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Conversation holds metadata about the chat the message arrived in.
type Conversation struct {
	ID   string
	Type string
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel      ChannelType
	Message      Message
	ReplyTarget  string
	Sender       Identity
	Conversation Conversation
	ReceivedAt   time.Time
}

// OutboundMessage pairs a delivery target with the message content.
type OutboundMessage struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage   AttachmentType = "image"
	AttachmentAudio   AttachmentType = "audio"
	AttachmentVideo   AttachmentType = "video"
	AttachmentVoice   AttachmentType = "voice"
	AttachmentFile    AttachmentType = "file"
	AttachmentGIF     AttachmentType = "gif"
	AttachmentSticker AttachmentType = "sticker"
)

// Attachment represents a binary file attached to a message. Inbound
// attachments carry a PlatformKey; outbound ones carry a local Path.
type Attachment struct {
	Type        AttachmentType `json:"type"`
	PlatformKey string         `json:"platform_key,omitempty"`
	UniqueID    string         `json:"unique_id,omitempty"`
	Path        string         `json:"path,omitempty"`
	Name        string         `json:"name,omitempty"`
	Size        int64          `json:"size,omitempty"`
	Mime        string         `json:"mime,omitempty"`
	Caption     string         `json:"caption,omitempty"`
}

// HasReference reports whether the attachment points at a platform file.
func (a Attachment) HasReference() bool {
	return strings.TrimSpace(a.PlatformKey) != ""
}

// ReplyRef points to a message being replied to.
type ReplyRef struct {
	Target    string `json:"target,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Message is the unified message structure used across channels.
type Message struct {
	ID          string       `json:"id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reply       *ReplyRef    `json:"reply,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

// PlainText returns the trimmed message text.
func (m Message) PlainText() string {
	return strings.TrimSpace(m.Text)
}

// ChannelConfig holds the credentials and identity for one bot connection.
type ChannelConfig struct {
	ID          string         `json:"id"`
	BotID       string         `json:"bot_id"`
	ChannelType ChannelType    `json:"channel_type"`
	Credentials map[string]any `json:"credentials"`
}

// ReadString reads the first non-empty value among keys as a trimmed string.
func ReadString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		var s string
		switch v := value.(type) {
		case string:
			s = v
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
