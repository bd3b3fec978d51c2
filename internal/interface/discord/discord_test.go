package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/melon-hub/melon-rank/internal/application/command"
	"github.com/melon-hub/melon-rank/internal/application/eventhandler"
	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/interface/render"
	"github.com/melon-hub/melon-rank/pkg/logger"
	"github.com/melon-hub/melon-rank/pkg/timeutil"
)

const testGuild = "g1"

func newTestState(t *testing.T, guild *discordgo.Guild, members ...*discordgo.Member) *discordgo.State {
	t.Helper()
	s := discordgo.NewState()
	require.NoError(t, s.GuildAdd(guild))
	for _, m := range members {
		m.GuildID = guild.ID
		require.NoError(t, s.MemberAdd(m))
	}
	return s
}

func member(id, name string, bot bool) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Username: name, Bot: bot}}
}

func notFound() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

func TestDirectory_StateHit(t *testing.T) {
	state := newTestState(t, &discordgo.Guild{ID: testGuild}, member("u1", "alice", false))
	calls := 0
	fetch := func(context.Context, string, string) (*discordgo.Member, error) {
		calls++
		return nil, notFound()
	}
	d := NewDirectory(state, testGuild, fetch, logger.Discard())

	assert.True(t, d.IsPresent(context.Background(), "u1"))
	assert.Equal(t, 0, calls)
}

func TestDirectory_RestFallbackCaches(t *testing.T) {
	state := newTestState(t, &discordgo.Guild{ID: testGuild})
	calls := 0
	fetch := func(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
		calls++
		assert.Equal(t, testGuild, guildID)
		m := member(userID, "bob", false)
		m.Nick = "Bobby"
		return m, nil
	}
	d := NewDirectory(state, testGuild, fetch, logger.Discard())

	p, ok := d.Profile(context.Background(), "u2")
	require.True(t, ok)
	assert.Equal(t, "Bobby", p.DisplayName)
	assert.NotEmpty(t, p.AvatarURL)

	assert.True(t, d.IsPresent(context.Background(), "u2"))
	assert.Equal(t, 1, calls, "second lookup should come from state")
}

func TestDirectory_AbsentOnNotFoundAndErrors(t *testing.T) {
	state := newTestState(t, &discordgo.Guild{ID: testGuild})

	d := NewDirectory(state, testGuild, func(context.Context, string, string) (*discordgo.Member, error) {
		return nil, notFound()
	}, logger.Discard())
	assert.False(t, d.IsPresent(context.Background(), "gone"))

	d = NewDirectory(state, testGuild, func(context.Context, string, string) (*discordgo.Member, error) {
		return nil, errors.New("gateway timeout")
	}, logger.Discard())
	assert.False(t, d.IsPresent(context.Background(), "gone"))

	d = NewDirectory(state, testGuild, nil, logger.Discard())
	assert.False(t, d.IsPresent(context.Background(), "gone"))
}

func TestProfileOf_DisplayNameOrder(t *testing.T) {
	tests := []struct {
		name string
		m    *discordgo.Member
		want string
	}{
		{"nick wins", &discordgo.Member{Nick: "N", User: &discordgo.User{ID: "1", Username: "u", GlobalName: "G"}}, "N"},
		{"global name", &discordgo.Member{User: &discordgo.User{ID: "1", Username: "u", GlobalName: "G"}}, "G"},
		{"username", &discordgo.Member{User: &discordgo.User{ID: "1", Username: "u"}}, "u"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, profileOf(tt.m).DisplayName)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VOICE PRESENCE
// ══════════════════════════════════════════════════════════════════════════════

func TestVoicePresence(t *testing.T) {
	guild := &discordgo.Guild{
		ID: testGuild,
		Channels: []*discordgo.Channel{
			{ID: "text", GuildID: testGuild, Type: discordgo.ChannelTypeGuildText},
			{ID: "v1", GuildID: testGuild, Type: discordgo.ChannelTypeGuildVoice},
			{ID: "stage", GuildID: testGuild, Type: discordgo.ChannelTypeGuildStageVoice},
		},
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: testGuild, ChannelID: "v1", UserID: "u1"},
			{GuildID: testGuild, ChannelID: "v1", UserID: "u2", SelfMute: true},
			{GuildID: testGuild, ChannelID: "v1", UserID: "bot"},
			{GuildID: testGuild, ChannelID: "stage", UserID: "u3", SelfDeaf: true},
		},
	}
	state := newTestState(t, guild, member("bot", "melon", true))
	p := NewVoicePresence(state, testGuild)
	ctx := context.Background()

	channels, err := p.VoiceChannels(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "stage"}, channels)

	got, err := p.Participants(ctx, "v1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []command.Participant{
		{MemberID: "u1"},
		{MemberID: "u2", SelfMute: true},
		{MemberID: "bot", IsBot: true},
	}, got)

	got, err = p.Participants(ctx, "stage")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Eligible())
}

func TestVoicePresence_UnknownGuild(t *testing.T) {
	p := NewVoicePresence(discordgo.NewState(), "missing")
	_, err := p.VoiceChannels(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Participants(ctx, "v1")
	assert.ErrorIs(t, err, context.Canceled)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func TestChatCommand(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := func(author *discordgo.User, guild, webhook string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID: "m1", GuildID: guild, Author: author, WebhookID: webhook, Timestamp: at,
		}}
	}

	cmd, ok := chatCommand(msg(&discordgo.User{ID: "u1"}, testGuild, ""), testGuild)
	require.True(t, ok)
	assert.Equal(t, command.RecordChatActivityCommand{MemberID: "u1", CorrelationID: "m1"}, cmd)
	assert.True(t, cmd.At.IsZero(), "cooldown uses receive time, not the send timestamp")

	cmd, ok = chatCommand(msg(&discordgo.User{ID: "b", Bot: true}, testGuild, ""), testGuild)
	require.True(t, ok)
	assert.True(t, cmd.IsBot)

	cmd, ok = chatCommand(msg(&discordgo.User{ID: "w"}, testGuild, "hook"), testGuild)
	require.True(t, ok)
	assert.True(t, cmd.IsBot)

	_, ok = chatCommand(msg(&discordgo.User{ID: "u1"}, "", ""), testGuild)
	assert.False(t, ok, "direct message")

	_, ok = chatCommand(msg(&discordgo.User{ID: "u1"}, "other", ""), testGuild)
	assert.False(t, ok, "other guild")

	_, ok = chatCommand(msg(nil, testGuild, ""), testGuild)
	assert.False(t, ok)
}

func interaction(data discordgo.ApplicationCommandInteractionData, invoker *discordgo.Member) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: testGuild,
		Data:    data,
		Member:  invoker,
	}}
}

func TestRankTarget_Invoker(t *testing.T) {
	invoker := member("u1", "alice", false)
	invoker.Nick = "Ali"

	id, p := rankTarget(interaction(discordgo.ApplicationCommandInteractionData{Name: CommandRank}, invoker))
	assert.Equal(t, "u1", id)
	assert.Equal(t, "Ali", p.DisplayName)
}

func TestRankTarget_Option(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: CommandRank,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: optionMember, Type: discordgo.ApplicationCommandOptionUser, Value: "u2"},
		},
		Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
			Users:   map[string]*discordgo.User{"u2": {ID: "u2", Username: "bob"}},
			Members: map[string]*discordgo.Member{"u2": {Nick: "Bobby"}},
		},
	}

	id, p := rankTarget(interaction(data, member("u1", "alice", false)))
	assert.Equal(t, "u2", id)
	assert.Equal(t, "Bobby", p.DisplayName)
}

func TestCommands(t *testing.T) {
	cmds := Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, CommandRank, cmds[0].Name)
	require.Len(t, cmds[0].Options, 1)
	assert.False(t, cmds[0].Options[0].Required)
	assert.Equal(t, "랭킹", (*cmds[1].NameLocalizations)[discordgo.Korean])
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESENTER
// ══════════════════════════════════════════════════════════════════════════════

func TestPresenter_RankingEmbed(t *testing.T) {
	p := NewPresenter(language.Korean)
	board := &query.ServerBoardDTO{
		Chat: []query.LeaderboardEntryDTO{
			{Rank: 1, MemberID: "B", Level: 2, XP: 10, Required: 200, Medal: "🥇"},
			{Rank: 4, MemberID: "D", Level: 1, XP: 5, Required: 100},
		},
		TotalMembers: 2,
	}

	embed, ok := p.RankingEmbed(board, 10)
	require.True(t, ok)
	require.Len(t, embed.Fields, 2)

	assert.Equal(t, "💬 채팅 TOP 10", embed.Fields[0].Name)
	assert.Equal(t, "🥇 **1위** <@B> - LV.2 (10/200)\n**4위** <@D> - LV.1 (5/100)", embed.Fields[0].Value)
	assert.Equal(t, "🎤 음성 TOP 10", embed.Fields[1].Name)
	assert.Equal(t, "데이터 없음", embed.Fields[1].Value)
}

func TestPresenter_EmptyTable(t *testing.T) {
	p := NewPresenter(language.Korean)

	_, ok := p.RankingEmbed(&query.ServerBoardDTO{}, 10)
	assert.False(t, ok)
	_, ok = p.RankingEmbed(nil, 10)
	assert.False(t, ok)
	assert.Equal(t, "데이터가 없습니다.", p.NoDataText())
}

func TestPresenter_ProgressAndLevelUp(t *testing.T) {
	p := NewPresenter(language.Korean)
	dto := &query.MemberProgressDTO{
		MemberID: "u1",
		Chat:     query.TrackProgressDTO{Kind: progression.KindChat, Level: 3, XP: 150, Required: 300, AccumulatedXP: 450, Rank: 2},
		Voice:    query.TrackProgressDTO{Kind: progression.KindVoice, Level: 1, Required: 100},
	}

	embed := p.ProgressEmbed("alice", dto)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "💬 채팅 LV.3", embed.Fields[0].Name)
	assert.Contains(t, embed.Fields[0].Value, "`150 / 300`")
	assert.Contains(t, embed.Fields[0].Value, "누적 경험치 : 450")
	assert.Contains(t, embed.Fields[0].Value, "2위")
	assert.NotContains(t, embed.Fields[1].Value, "위")

	text := p.LevelUpText(eventhandler.LevelUpNotice{MemberID: "u1", Kind: progression.KindVoice, FromLevel: 1, ToLevel: 2})
	assert.Equal(t, "🎉 <@u1> 님의 음성 레벨이 **LV.2** 이 되었습니다!", text)
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "▱▱▱▱", ProgressBar(0, 100, 4))
	assert.Equal(t, "▰▰▱▱", ProgressBar(50, 100, 4))
	assert.Equal(t, "▰▰▰▰", ProgressBar(500, 100, 4))
	assert.Equal(t, "▱▱▱▱", ProgressBar(10, 0, 4))
	assert.Equal(t, 4, strings.Count(ProgressBar(99, 100, 4), "▰")+strings.Count(ProgressBar(99, 100, 4), "▱"))
}

// ══════════════════════════════════════════════════════════════════════════════
// CARDS AND ANNOUNCER
// ══════════════════════════════════════════════════════════════════════════════

type stubRenderer struct {
	mu  sync.Mutex
	in  render.CardInput
	png []byte
	err error
}

func (r *stubRenderer) Render(_ context.Context, in render.CardInput) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.in = in
	return r.png, r.err
}

type stubProfiles map[string]Profile

func (s stubProfiles) Profile(_ context.Context, id string) (Profile, bool) {
	p, ok := s[id]
	return p, ok
}

func progressHandler(t *testing.T) *query.GetMemberProgressHandler {
	t.Helper()
	e := progression.NewEngine(progression.DefaultRules())
	_, err := e.Award("u1", progression.KindChat, 120)
	require.NoError(t, err)
	return query.NewGetMemberProgressHandler(e)
}

func TestCardService_Build(t *testing.T) {
	r := &stubRenderer{png: []byte("png")}
	svc := NewCardService(progressHandler(t), stubProfiles{"u1": {DisplayName: "alice", AvatarURL: "https://cdn/a.png"}}, r)

	card, err := svc.Build(context.Background(), "u1", Profile{DisplayName: "fallback"})
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), card.PNG)
	assert.NoError(t, card.RenderErr)
	assert.Equal(t, "alice", r.in.DisplayName)
	assert.Equal(t, "https://cdn/a.png", r.in.AvatarURL)
	assert.Equal(t, 2, r.in.Progress.Chat.Level)
	assert.Equal(t, 1, r.in.Progress.Chat.Rank)
}

func TestCardService_FallbackProfileAndRenderFailure(t *testing.T) {
	r := &stubRenderer{err: errors.New("font")}
	svc := NewCardService(progressHandler(t), stubProfiles{}, r)

	card, err := svc.Build(context.Background(), "u9", Profile{DisplayName: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "ghost", card.Profile.DisplayName)
	assert.Nil(t, card.PNG)
	assert.Error(t, card.RenderErr)
	assert.False(t, card.Progress.Known)

	_, err = svc.PNG(context.Background(), "u9")
	assert.Error(t, err)

	card, err = svc.Build(context.Background(), "u9", Profile{})
	require.NoError(t, err)
	assert.Equal(t, "u9", card.Profile.DisplayName)

	_, err = svc.Build(context.Background(), "", Profile{})
	assert.Error(t, err)
}

type fakeSender struct {
	channel string
	msg     *discordgo.MessageSend
	err     error
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.msg = data
	return &discordgo.Message{}, f.err
}

func TestAnnouncer(t *testing.T) {
	sender := &fakeSender{}
	a := NewAnnouncer(sender, "announce", NewPresenter(language.Korean))

	err := a.AnnounceLevelUp(context.Background(), eventhandler.LevelUpNotice{MemberID: "u1", Kind: progression.KindChat, ToLevel: 5})
	require.NoError(t, err)
	assert.Equal(t, "announce", sender.channel)
	assert.Contains(t, sender.msg.Content, "LV.5")
	require.NotNil(t, sender.msg.AllowedMentions)
	assert.Empty(t, sender.msg.AllowedMentions.Parse)

	sender.err = errors.New("missing access")
	assert.Error(t, a.AnnounceLevelUp(context.Background(), eventhandler.LevelUpNotice{MemberID: "u1", ToLevel: 2}))
}

func TestNewBot_Validation(t *testing.T) {
	s, err := discordgo.New("Bot test")
	require.NoError(t, err)

	_, err = NewBot(nil, DefaultBotConfig(testGuild), BotDependencies{})
	assert.Error(t, err)
	_, err = NewBot(s, BotConfig{}, BotDependencies{})
	assert.Error(t, err)
	_, err = NewBot(s, DefaultBotConfig(testGuild), BotDependencies{})
	assert.Error(t, err)

	// Stop before Start is a no-op.
	b := &Bot{session: s, config: DefaultBotConfig(testGuild), logger: logger.Discard()}
	assert.NoError(t, b.Stop(context.Background()))
	assert.False(t, b.track())
}

func TestCommandLimiter(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	l := NewCommandLimiter(RateLimitConfig{
		RequestsPerMinute: 6,
		BurstSize:         2,
		Exempt:            map[string]bool{"mod": true},
	}, clock)

	assert.True(t, l.Check("u1").Allowed)
	assert.True(t, l.Check("u1").Allowed)
	res := l.Check("u1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 10*time.Second, res.RetryAfter)

	// Other members have their own bucket.
	assert.True(t, l.Check("u2").Allowed)

	clock.Advance(10 * time.Second)
	assert.True(t, l.Check("u1").Allowed)
	assert.False(t, l.Check("u1").Allowed)

	for range 5 {
		assert.True(t, l.Check("mod").Allowed)
	}
	assert.Equal(t, 2, l.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 2, l.PruneCooldowns(time.Second))
	assert.Zero(t, l.Len())
}

func TestRateLimitedText(t *testing.T) {
	assert.Equal(t, "⏳ 요청이 너무 많습니다. 10초 후 다시 시도해 주세요.", rateLimitedText(10*time.Second))
	assert.Contains(t, rateLimitedText(0), " 1초 ")
}

func TestInvokerID(t *testing.T) {
	assert.Equal(t, "m1", invokerID(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: "m1"}},
	}}))
	assert.Equal(t, "u1", invokerID(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		User: &discordgo.User{ID: "u1"},
	}}))
	assert.Empty(t, invokerID(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}))
}
