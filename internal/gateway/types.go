package gateway

import (
	"context"
	"hash/fnv"
	"net/url"
	"time"
)

// GatewayAdapter defines the interface for platform adapters.
type GatewayAdapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Broadcast(ctx context.Context, msg *BroadcastMessage) error
	Close() error
}

// StatusReporter is implemented by adapters that track their connection.
type StatusReporter interface {
	Status() AdapterStatus
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a message sent to a specific platform channel, spoken
// by a persona when PersonaID is set. Gateway.Send fills Persona from
// PersonaName.
type OutboundMessage struct {
	Platform    string          `json:"platform"`
	ChannelID   string          `json:"channel_id"`
	PersonaID   string          `json:"persona_id,omitempty"`
	PersonaName string          `json:"persona_name,omitempty"`
	Persona     *DisplayPersona `json:"persona,omitempty"`
	Content     string          `json:"content"`
	ReplyTo     string          `json:"reply_to,omitempty"`
}

// BroadcastType categorizes broadcast messages.
type BroadcastType string

const (
	BroadcastAnnouncement BroadcastType = "announcement"
	BroadcastRunStarted   BroadcastType = "run_started"
	BroadcastRunFinished  BroadcastType = "run_finished"
)

// BroadcastMessage is sent to multiple platforms simultaneously.
type BroadcastMessage struct {
	Type      BroadcastType `json:"type"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Platforms []string      `json:"platforms,omitempty"`
}

// DisplayPersona defines how a persona appears on a chat platform.
type DisplayPersona struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
	Emoji   string `json:"emoji"` // fallback if no icon_url, e.g. ":bust_in_silhouette:"
}

var personaEmoji = []string{
	":bust_in_silhouette:", ":woman:", ":man:", ":older_woman:", ":older_man:",
	":person_with_blond_hair:", ":student:", ":technologist:", ":farmer:", ":cook:",
	":mechanic:", ":office_worker:", ":scientist:", ":artist:", ":teacher:",
}

// NewDisplayPersona derives a stable look for name. The emoji is picked by
// hashing the name; avatarBase, when set, gets the escaped name appended to
// form the icon URL.
func NewDisplayPersona(name, avatarBase string) *DisplayPersona {
	h := fnv.New32a()
	h.Write([]byte(name))
	d := &DisplayPersona{
		Name:  name,
		Emoji: personaEmoji[h.Sum32()%uint32(len(personaEmoji))],
	}
	if avatarBase != "" {
		d.IconURL = avatarBase + url.QueryEscape(name)
	}
	return d
}

// AdapterStatus describes the connection state of a platform adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Details     string     `json:"details,omitempty"`
	Error       string     `json:"error,omitempty"`
}
