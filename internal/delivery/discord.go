package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// MaxDiscordMessage is Discord's per-message character limit.
const MaxDiscordMessage = 2000

type channelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts reports to the channel whose ID is the session.
type Discord struct {
	sender channelSender
}

// NewDiscord creates a REST-only bot session; no gateway connection is
// opened because reports are only sent.
func NewDiscord(token string) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{sender: session}, nil
}

// Deliver implements Deliverer, splitting long text into several messages.
func (d *Discord) Deliver(ctx context.Context, session, text string) error {
	for i, chunk := range SplitMessage(text, MaxDiscordMessage) {
		if _, err := d.sender.ChannelMessageSend(session, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send discord message part %d to %s: %w", i+1, session, err)
		}
	}
	return nil
}

// SplitMessage cuts text into chunks of at most limit runes, preferring to
// break after a newline.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		if nl := lastNewline(runes[:limit]); nl > 0 {
			cut = nl + 1
		}
		if chunk := strings.TrimRight(string(runes[:cut]), "\n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	if chunk := strings.TrimRight(string(runes), "\n"); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
