// Package discord connects the assistant to a Discord bot using discordgo.
// Every text message the bot is allowed to see is routed through the
// assistant with the channel id as the reasoning session, and the reply is
// posted back to the same channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/jarvis/pkg/jarvis/config"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Processor routes a command within a session and returns the reply.
type Processor interface {
	Process(ctx context.Context, sessionID, command string) string
}

// Bot is the Discord transport.
type Bot struct {
	cfg       config.DiscordConfig
	processor Processor
	logger    *slog.Logger

	session   *discordgo.Session
	botID     string
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bot. Connect opens the gateway connection.
func New(cfg config.DiscordConfig, p Processor, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:       cfg,
		processor: p,
		logger:    logger.With("component", "discord"),
	}
}

// Connect opens the Discord gateway WebSocket connection.
func (b *Bot) Connect(ctx context.Context) error {
	if b.cfg.Token == "" {
		return errors.New("discord: bot token is required")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + b.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(b.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	b.session = session
	b.botID = session.State.User.ID
	b.connected.Store(true)
	b.logger.Info("discord connected", "bot", session.State.User.Username, "id", b.botID)
	return nil
}

// Disconnect closes the gateway connection and waits for in-flight replies.
func (b *Bot) Disconnect() error {
	if b.cancel != nil {
		b.cancel()
	}
	var err error
	if b.session != nil {
		err = b.session.Close()
	}
	b.wg.Wait()
	b.connected.Store(false)
	b.logger.Info("discord disconnected")
	return err
}

// IsConnected reports whether the gateway connection is open.
func (b *Bot) IsConnected() bool { return b.connected.Load() }

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	command, ok := b.accept(m.Message)
	if !ok {
		return
	}

	// discordgo calls handlers synchronously on its event goroutine.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = s.ChannelTyping(m.ChannelID)

		reply := b.processor.Process(b.ctx, m.ChannelID, command)
		if reply == "" {
			return
		}
		for i, chunk := range splitMessage(reply, maxMessageLen) {
			send := &discordgo.MessageSend{Content: chunk}
			if i == 0 {
				send.Reference = &discordgo.MessageReference{MessageID: m.ID, ChannelID: m.ChannelID}
			}
			if _, err := s.ChannelMessageSendComplex(m.ChannelID, send); err != nil {
				b.logger.Warn("sending reply failed", "channel", m.ChannelID, "error", err)
				return
			}
		}
	}()
}

// accept applies the bot, channel and mention filters and returns the
// command text with any bot mention removed.
func (b *Bot) accept(m *discordgo.Message) (string, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == b.botID {
		return "", false
	}
	if len(b.cfg.AllowedChannels) > 0 && !slices.Contains(b.cfg.AllowedChannels, m.ChannelID) {
		return "", false
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == b.botID {
			mentioned = true
			break
		}
	}
	// Direct messages never need a mention.
	if b.cfg.RequireMention && m.GuildID != "" && !mentioned {
		return "", false
	}

	text := m.Content
	if b.botID != "" {
		text = strings.ReplaceAll(text, "<@"+b.botID+">", "")
		text = strings.ReplaceAll(text, "<@!"+b.botID+">", "")
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

// splitMessage breaks text into chunks of at most maxLen characters,
// preferring newline boundaries in the second half of a chunk.
func splitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cut := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
