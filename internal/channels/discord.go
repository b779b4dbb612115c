package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/yologdev/yoclaw/internal/session"
)

// discordCharLimit is Discord's single-message character cap.
const discordCharLimit = 2000

// DiscordPlaceholder identifies a sent message for later edits.
type DiscordPlaceholder struct {
	ChannelID string
	MessageID string
}

// DiscordAdapter is a gateway-connected Discord adapter. No pack example
// grounds a Discord client, so this follows bwmarrin/discordgo's own
// documented usage pattern (New, AddHandler, Open, ChannelMessageSend/Edit)
// rather than any teacher file.
type DiscordAdapter struct {
	session *discordgo.Session
}

// NewDiscordAdapter builds a DiscordAdapter from a bot token.
func NewDiscordAdapter(token string) (*DiscordAdapter, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	return &DiscordAdapter{session: sess}, nil
}

func (a *DiscordAdapter) Name() string { return "dc" }

func (a *DiscordAdapter) Start(ctx context.Context, handler func(IncomingMessage)) error {
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		handler(IncomingMessage{
			SessionID:  session.BuildSessionID(session.TransportDiscord, m.ChannelID, ""),
			SenderID:   m.Author.ID,
			SenderName: m.Author.Username,
			Content:    m.Content,
			IsGroup:    true,
		})
	})
	a.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	<-ctx.Done()
	return a.session.Close()
}

func (a *DiscordAdapter) Stop() error { return a.session.Close() }

func (a *DiscordAdapter) Send(ctx context.Context, sessionID, text string) error {
	channelID := channelIDFromSession(sessionID)
	_, err := a.session.ChannelMessageSend(channelID, text)
	return err
}

func (a *DiscordAdapter) SendPlaceholder(ctx context.Context, sessionID, text string) (Placeholder, error) {
	channelID := channelIDFromSession(sessionID)
	msg, err := a.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return nil, err
	}
	return DiscordPlaceholder{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (a *DiscordAdapter) EditMessage(ctx context.Context, ph Placeholder, text string) error {
	p, ok := ph.(DiscordPlaceholder)
	if !ok {
		return fmt.Errorf("discord: unexpected placeholder type %T", ph)
	}
	_, err := a.session.ChannelMessageEdit(p.ChannelID, p.MessageID, text)
	return err
}

func (a *DiscordAdapter) StartTyping(ctx context.Context, sessionID string) {
	_ = a.session.ChannelTyping(channelIDFromSession(sessionID))
}

func (a *DiscordAdapter) CharLimit() int { return discordCharLimit }

func channelIDFromSession(sessionID string) string {
	return sessionID[len("dc-"):]
}
