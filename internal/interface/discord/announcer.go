package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/melon-hub/melon-rank/internal/application/eventhandler"
)

// MessageSender posts a plain message to a channel.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer posts level-up announcements to one channel.
// It implements eventhandler.Announcer.
type Announcer struct {
	sender    MessageSender
	channelID string
	presenter *Presenter
}

// NewAnnouncer creates an announcer. *discordgo.Session satisfies MessageSender.
func NewAnnouncer(sender MessageSender, channelID string, presenter *Presenter) *Announcer {
	return &Announcer{sender: sender, channelID: channelID, presenter: presenter}
}

// AnnounceLevelUp posts the notice. The member is mentioned by id but not
// pinged.
func (a *Announcer) AnnounceLevelUp(ctx context.Context, n eventhandler.LevelUpNotice) error {
	_, err := a.sender.ChannelMessageSendComplex(a.channelID, &discordgo.MessageSend{
		Content:         a.presenter.LevelUpText(n),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send level-up announcement: %w", err)
	}
	return nil
}
