package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/melon-hub/melon-rank/internal/application/command"
)

// Slash command names.
const (
	CommandRank    = "rank"
	CommandRanking = "ranking"

	optionMember = "member"
)

// Commands returns the guild slash commands.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandRank,
			Description: "유저의 레벨을 확인합니다.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        optionMember,
					Description: "확인할 유저 (선택 안 하면 본인)",
				},
			},
		},
		{
			Name:              CommandRanking,
			NameLocalizations: &map[discordgo.Locale]string{discordgo.Korean: "랭킹"},
			Description:       "서버 레벨 랭킹을 확인합니다.",
		},
	}
}

// chatCommand maps a guild message to a chat activity command. Messages
// from other guilds and direct messages are dropped; bots, system users
// and webhooks are flagged so the handler ignores them. At is left zero so
// the cooldown runs on receive time; gateway handlers may see messages out
// of send order.
func chatCommand(m *discordgo.MessageCreate, guildID string) (command.RecordChatActivityCommand, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.GuildID == "" || m.GuildID != guildID {
		return command.RecordChatActivityCommand{}, false
	}
	return command.RecordChatActivityCommand{
		MemberID:      m.Author.ID,
		IsBot:         m.Author.Bot || m.Author.System || m.WebhookID != "",
		CorrelationID: m.ID,
	}, true
}

// rankTarget returns the member the rank command asks about: the "member"
// option when given, otherwise the caller. The profile comes from the
// interaction payload and is used when the directory has nothing better.
func rankTarget(i *discordgo.InteractionCreate) (string, Profile) {
	data := i.ApplicationCommandData()

	for _, opt := range data.Options {
		if opt.Name != optionMember || opt.Type != discordgo.ApplicationCommandOptionUser {
			continue
		}
		id := fmt.Sprint(opt.Value)
		var p Profile
		if data.Resolved != nil {
			if u, ok := data.Resolved.Users[id]; ok {
				m := &discordgo.Member{GuildID: i.GuildID, User: u}
				if rm, ok := data.Resolved.Members[id]; ok {
					m.Nick = rm.Nick
					m.Avatar = rm.Avatar
				}
				p = profileOf(m)
			}
		}
		return id, p
	}

	if i.Member != nil && i.Member.User != nil {
		m := *i.Member
		m.GuildID = i.GuildID
		return m.User.ID, profileOf(&m)
	}
	if i.User != nil {
		return i.User.ID, profileOf(&discordgo.Member{User: i.User})
	}
	return "", Profile{}
}
