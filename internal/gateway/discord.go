package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordMaxMessage is Discord's limit on message content length.
const discordMaxMessage = 2000

// DiscordAdapter runs interviews over a Discord bot. In DMs every message is
// routed; in guild channels only commands and messages that mention someone
// with @ are, so ordinary chatter does not wake the personas.
type DiscordAdapter struct {
	token       string
	session     *discordgo.Session
	handler     MessageHandler
	webhooks    map[string]string // channelID -> webhook URL for persona messages
	announce    string            // channel for run broadcasts, empty picks one per guild
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		webhooks: make(map[string]string),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// SetWebhook makes persona replies in channelID go through a webhook, so
// they show the persona's name and avatar instead of the bot's.
func (a *DiscordAdapter) SetWebhook(channelID, webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[channelID] = webhookURL
}

// SetAnnounceChannel sends run broadcasts to channelID only.
func (a *DiscordAdapter) SetAnnounceChannel(channelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.announce = channelID
}

func (a *DiscordAdapter) fail(msg string) {
	a.mu.Lock()
	a.connected = false
	a.lastError = msg
	a.mu.Unlock()
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.fail(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		a.fail(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	guilds := len(session.State.Guilds)
	if guilds == 0 {
		a.logger.Warn("discord bot not added to any server, only DMs will reach personas")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", guilds))
	return nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	botID := ""
	if s.State.User != nil {
		botID = s.State.User.ID
	}
	content := stripDiscordMention(m.Content, botID)
	if !shouldRoute(content, m.GuildID == "") {
		return
	}

	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h == nil {
		return
	}
	h(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	})
}

// stripDiscordMention removes the bot's own <@id> or <@!id> mention.
func stripDiscordMention(content, botID string) string {
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	return strings.TrimSpace(content)
}

// shouldRoute reports whether a message is meant for the personas: always
// in direct messages, otherwise only commands and @mentions.
func shouldRoute(content string, direct bool) bool {
	if content == "" {
		return false
	}
	if direct {
		return true
	}
	return strings.HasPrefix(content, "/") || strings.Contains(content, "@")
}

// splitMessage cuts content into chunks of at most max runes, preferring
// to break at a newline and then at a space.
func splitMessage(content string, max int) []string {
	var out []string
	runes := []rune(content)
	for len(runes) > max {
		cut := max
		chunk := string(runes[:max])
		if i := strings.LastIndex(chunk, "\n"); i > 0 {
			cut = len([]rune(chunk[:i]))
		} else if i := strings.LastIndex(chunk, " "); i > 0 {
			cut = len([]rune(chunk[:i]))
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " \n"))
	}
	if len(runes) > 0 || len(out) == 0 {
		out = append(out, string(runes))
	}
	return out
}

// Send posts a reply. Persona replies go through the channel's webhook when
// one is set, otherwise the bot posts them with the persona's name in bold.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	session := a.session
	webhookURL := a.webhooks[msg.ChannelID]
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}

	for i, part := range splitMessage(msg.Content, discordMaxMessage-64) {
		var err error
		switch {
		case msg.Persona != nil && webhookURL != "":
			err = a.sendViaWebhook(session, webhookURL, msg.Persona, part)
		case msg.Persona != nil:
			_, err = session.ChannelMessageSend(msg.ChannelID, fmt.Sprintf("**%s**: %s", msg.Persona.Name, part))
		case i == 0 && msg.ReplyTo != "":
			_, err = session.ChannelMessageSendReply(msg.ChannelID, part, &discordgo.MessageReference{
				MessageID: msg.ReplyTo,
				ChannelID: msg.ChannelID,
			})
		default:
			_, err = session.ChannelMessageSend(msg.ChannelID, part)
		}
		if err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (a *DiscordAdapter) sendViaWebhook(session *discordgo.Session, webhookURL string, persona *DisplayPersona, content string) error {
	id, token, ok := parseWebhookURL(webhookURL)
	if !ok {
		return fmt.Errorf("discord webhook: malformed url")
	}
	params := &discordgo.WebhookParams{
		Content:  content,
		Username: persona.Name,
	}
	if persona.IconURL != "" {
		params.AvatarURL = persona.IconURL
	}
	if _, err := session.WebhookExecute(id, token, false, params); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// parseWebhookURL extracts the id and token from
// https://discord.com/api/webhooks/<id>/<token>.
func parseWebhookURL(u string) (id, token string, ok bool) {
	const marker = "/webhooks/"
	i := strings.Index(u, marker)
	if i < 0 {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u[i+len(marker):], "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Broadcast posts msg to the announce channel, or to the first writable
// text channel of every guild when none is set.
func (a *DiscordAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	a.mu.RLock()
	session, announce := a.session, a.announce
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord broadcast: not connected")
	}
	content := fmt.Sprintf("**%s**\n%s", msg.Title, msg.Content)

	if announce != "" {
		if _, err := session.ChannelMessageSend(announce, content); err != nil {
			return fmt.Errorf("discord broadcast: %w", err)
		}
		return nil
	}
	for _, guild := range session.State.Guilds {
		channels, err := session.GuildChannels(guild.ID)
		if err != nil {
			a.logger.Warn("discord list channels failed",
				zap.String("guild", guild.ID), zap.Error(err))
			continue
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			if _, err := session.ChannelMessageSend(ch.ID, content); err == nil {
				break
			}
		}
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.connected = false
	a.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}

// Status reports the bot session state.
func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		if a.session != nil && a.session.State != nil && a.session.State.User != nil {
			s.Details = fmt.Sprintf("bot=%s, guilds=%d, webhooks=%d",
				a.session.State.User.Username, len(a.session.State.Guilds), len(a.webhooks))
		}
	}
	return s
}
