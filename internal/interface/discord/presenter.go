package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/melon-hub/melon-rank/internal/application/eventhandler"
	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENTER
// Форматирует рейтинг, прогресс и объявления для Discord.
// ══════════════════════════════════════════════════════════════════════════════

const (
	colorGold  = 0xF1C40F
	colorMelon = 0x7864FF

	noDataText = "데이터가 없습니다."
	emptyBoard = "데이터 없음"
)

// Presenter builds Discord messages. The zero value is not usable; call
// NewPresenter.
type Presenter struct {
	printer *message.Printer
}

// NewPresenter creates a presenter that formats numbers for tag.
func NewPresenter(tag language.Tag) *Presenter {
	return &Presenter{printer: message.NewPrinter(tag)}
}

// KindLabel returns the display name of an activity kind.
func KindLabel(kind progression.Kind) string {
	if kind == progression.KindVoice {
		return "음성"
	}
	return "채팅"
}

func kindIcon(kind progression.Kind) string {
	if kind == progression.KindVoice {
		return "🎤"
	}
	return "💬"
}

// RankingEmbed renders both server boards of size top. It returns ok=false
// when no member has any progress yet; the caller replies with NoDataText then.
func (p *Presenter) RankingEmbed(board *query.ServerBoardDTO, top int) (*discordgo.MessageEmbed, bool) {
	if board == nil || board.TotalMembers == 0 {
		return nil, false
	}

	embed := &discordgo.MessageEmbed{
		Title: "🏆 서버 레벨 랭킹",
		Color: colorGold,
	}
	for _, kind := range progression.Kinds() {
		entries := board.Board(kind)
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s %s TOP %d", kindIcon(kind), KindLabel(kind), top),
			Value: p.boardLines(entries),
		})
	}
	return embed, true
}

func (p *Presenter) boardLines(entries []query.LeaderboardEntryDTO) string {
	if len(entries) == 0 {
		return emptyBoard
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if e.Medal != "" {
			sb.WriteString(e.Medal)
			sb.WriteByte(' ')
		}
		sb.WriteString(p.printer.Sprintf("**%d위** <@%s> - LV.%d (%d/%d)", e.Rank, e.MemberID, e.Level, e.XP, e.Required))
	}
	return sb.String()
}

// NoDataText is the reply for an empty progress table.
func (p *Presenter) NoDataText() string {
	return noDataText
}

// ProgressEmbed is the text fallback for a rank card.
func (p *Presenter) ProgressEmbed(name string, dto *query.MemberProgressDTO) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("📊 %s", name),
		Color: colorMelon,
	}
	for _, kind := range progression.Kinds() {
		t := dto.Track(kind)
		value := p.printer.Sprintf("%s `%d / %d`\n누적 경험치 : %d", ProgressBar(t.XP, t.Required, 12), t.XP, t.Required, t.AccumulatedXP)
		if t.Rank > 0 {
			value += p.printer.Sprintf(" · %d위", t.Rank)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s %s LV.%d", kindIcon(kind), KindLabel(kind), t.Level),
			Value: value,
		})
	}
	return embed
}

// LevelUpText is the announcement posted when a member levels up.
func (p *Presenter) LevelUpText(n eventhandler.LevelUpNotice) string {
	return p.printer.Sprintf("🎉 <@%s> 님의 %s 레벨이 **LV.%d** 이 되었습니다!", n.MemberID, KindLabel(n.Kind), n.ToLevel)
}

// ProgressBar draws a text bar of width cells.
func ProgressBar(xp, required, width int) string {
	filled := 0
	if required > 0 && xp > 0 {
		filled = min(width*xp/required, width)
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
}
