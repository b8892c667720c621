package discord

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/config"
)

type echo struct{}

func (echo) Process(_ context.Context, _, command string) string { return command }

func TestAccept(t *testing.T) {
	bot := New(config.DiscordConfig{AllowedChannels: []string{"c1"}, RequireMention: true}, echo{}, nil)
	bot.botID = "B"

	user := &discordgo.User{ID: "U"}
	me := &discordgo.User{ID: "B"}

	tests := []struct {
		name string
		msg  *discordgo.Message
		want string
		ok   bool
	}{
		{"dm without mention", &discordgo.Message{Author: user, ChannelID: "c1", Content: "hello"}, "hello", true},
		{"guild with mention", &discordgo.Message{Author: user, ChannelID: "c1", GuildID: "g", Content: "<@B> open calculator", Mentions: []*discordgo.User{me}}, "open calculator", true},
		{"nickname mention", &discordgo.Message{Author: user, ChannelID: "c1", GuildID: "g", Content: "<@!B>  speak faster ", Mentions: []*discordgo.User{me}}, "speak faster", true},
		{"guild without mention", &discordgo.Message{Author: user, ChannelID: "c1", GuildID: "g", Content: "hello"}, "", false},
		{"other channel", &discordgo.Message{Author: user, ChannelID: "c2", Content: "hello"}, "", false},
		{"from bot", &discordgo.Message{Author: &discordgo.User{ID: "X", Bot: true}, ChannelID: "c1", Content: "hello"}, "", false},
		{"from self", &discordgo.Message{Author: me, ChannelID: "c1", Content: "hello"}, "", false},
		{"mention only", &discordgo.Message{Author: user, ChannelID: "c1", GuildID: "g", Content: "<@B>", Mentions: []*discordgo.User{me}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bot.accept(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAcceptAnyChannel(t *testing.T) {
	bot := New(config.DiscordConfig{}, echo{}, nil)
	bot.botID = "B"
	got, ok := bot.accept(&discordgo.Message{Author: &discordgo.User{ID: "U"}, ChannelID: "any", GuildID: "g", Content: "hi"})
	assert.True(t, ok)
	assert.Equal(t, "hi", got)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage(strings.Repeat("a", 25), 10)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, chunks)

	chunks = splitMessage("aaaaaaa\nbbbbbbbbb", 10)
	assert.Equal(t, []string{"aaaaaaa\n", "bbbbbbbbb"}, chunks)

	// Multi-byte characters are counted as one.
	chunks = splitMessage(strings.Repeat("é", 12), 10)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("é", 10), chunks[0])
}

func TestConnectRequiresToken(t *testing.T) {
	bot := New(config.DiscordConfig{}, echo{}, nil)
	assert.ErrorContains(t, bot.Connect(context.Background()), "token is required")
	assert.False(t, bot.IsConnected())
}
