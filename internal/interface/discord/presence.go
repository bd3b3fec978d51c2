package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/melon-hub/melon-rank/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// VOICE PRESENCE
// ══════════════════════════════════════════════════════════════════════════════

// VoicePresence reads voice channels and their participants from the
// gateway state cache. It implements command.PresenceSource.
type VoicePresence struct {
	state   *discordgo.State
	guildID string
}

// NewVoicePresence creates a presence source for one guild.
func NewVoicePresence(state *discordgo.State, guildID string) *VoicePresence {
	return &VoicePresence{state: state, guildID: guildID}
}

// VoiceChannels lists voice and stage channels of the guild.
func (p *VoicePresence) VoiceChannels(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	guild, err := p.state.Guild(p.guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", p.guildID, err)
	}

	p.state.RLock()
	defer p.state.RUnlock()

	ids := make([]string, 0)
	for _, ch := range guild.Channels {
		if ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice {
			ids = append(ids, ch.ID)
		}
	}
	return ids, nil
}

// Participants lists members connected to channelID.
func (p *VoicePresence) Participants(ctx context.Context, channelID string) ([]command.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	guild, err := p.state.Guild(p.guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", p.guildID, err)
	}

	p.state.RLock()
	states := make([]discordgo.VoiceState, 0)
	for _, vs := range guild.VoiceStates {
		if vs != nil && vs.ChannelID == channelID {
			states = append(states, *vs)
		}
	}
	p.state.RUnlock()

	out := make([]command.Participant, 0, len(states))
	for _, vs := range states {
		out = append(out, command.Participant{
			MemberID: vs.UserID,
			IsBot:    p.isBot(vs),
			SelfMute: vs.SelfMute,
			SelfDeaf: vs.SelfDeaf,
		})
	}
	return out, nil
}

func (p *VoicePresence) isBot(vs discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	if m, err := p.state.Member(p.guildID, vs.UserID); err == nil && m.User != nil {
		return m.User.Bot
	}
	return false
}
