// Package discord connects the progression engine to a Discord guild.
// It turns gateway events into commands, answers slash commands with
// queries, and supplies the voice presence and member directory the
// application layer reads through interfaces.
package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Intents requested from the gateway. Message content is needed to see
// messages at all in large guilds; members and voice states feed the
// directory and the voice tick.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsMessageContent

// NewSession creates a gateway session with state tracking enabled.
// The session is not opened; Bot.Start does that.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true
	s.State.TrackVoice = true
	s.State.TrackMembers = true
	s.State.TrackChannels = true
	return s, nil
}
