package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/melon-hub/melon-rank/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

// MemberFetcher loads a guild member over REST.
type MemberFetcher func(ctx context.Context, guildID, userID string) (*discordgo.Member, error)

// SessionFetcher adapts a session to MemberFetcher.
func SessionFetcher(s *discordgo.Session) MemberFetcher {
	return func(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
		return s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	}
}

// Profile is what the rank card shows about a member.
type Profile struct {
	DisplayName string
	AvatarURL   string
	Bot         bool
}

// Directory answers "is this member still in the guild" from the gateway
// state cache, falling back to REST for members the cache has not seen.
type Directory struct {
	state   *discordgo.State
	guildID string
	fetch   MemberFetcher
	logger  *slog.Logger
}

// NewDirectory creates a directory. fetch may be nil (cache only).
func NewDirectory(state *discordgo.State, guildID string, fetch MemberFetcher, log *slog.Logger) *Directory {
	return &Directory{
		state:   state,
		guildID: guildID,
		fetch:   fetch,
		logger:  logger.OrDefault(log),
	}
}

// IsPresent reports whether the member is in the guild. Lookup errors
// count as absent.
func (d *Directory) IsPresent(ctx context.Context, memberID string) bool {
	_, ok := d.member(ctx, memberID)
	return ok
}

// Profile returns the member's display name and avatar.
func (d *Directory) Profile(ctx context.Context, memberID string) (Profile, bool) {
	m, ok := d.member(ctx, memberID)
	if !ok {
		return Profile{}, false
	}
	return profileOf(m), true
}

func (d *Directory) member(ctx context.Context, memberID string) (*discordgo.Member, bool) {
	if m, err := d.state.Member(d.guildID, memberID); err == nil {
		return m, true
	}
	if d.fetch == nil {
		return nil, false
	}

	m, err := d.fetch(ctx, d.guildID, memberID)
	if err != nil {
		if !isNotFound(err) {
			d.logger.Warn("member lookup failed",
				logger.Member(memberID),
				logger.Err(err),
			)
		}
		return nil, false
	}

	m.GuildID = d.guildID
	if err := d.state.MemberAdd(m); err != nil {
		d.logger.Debug("member not cached", logger.Member(memberID), logger.Err(err))
	}
	return m, true
}

func isNotFound(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}

func profileOf(m *discordgo.Member) Profile {
	p := Profile{DisplayName: m.Nick}
	if m.User != nil {
		p.Bot = m.User.Bot
		if p.DisplayName == "" {
			p.DisplayName = m.User.GlobalName
		}
		if p.DisplayName == "" {
			p.DisplayName = m.User.Username
		}
		p.AvatarURL = m.AvatarURL("256")
	}
	return p
}
