package query

import (
	"context"
	"fmt"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SERVER BOARD QUERY
// Общий рейтинг сервера: топ по чату и топ по голосу одним ответом.
// Показываются только участники, которые всё ещё в сообществе.
// ══════════════════════════════════════════════════════════════════════════════

// GetServerBoardQuery содержит параметры запроса.
type GetServerBoardQuery struct {
	// Limit - размер каждого рейтинга (по умолчанию 10).
	Limit int
}

// ServerBoardDTO - оба рейтинга сервера.
type ServerBoardDTO struct {
	Chat  []LeaderboardEntryDTO `json:"chat"`
	Voice []LeaderboardEntryDTO `json:"voice"`

	// TotalMembers - число участников с записью (до фильтрации).
	TotalMembers int `json:"total_members"`
}

// Board возвращает рейтинг по виду активности.
func (d ServerBoardDTO) Board(kind progression.Kind) []LeaderboardEntryDTO {
	if kind == progression.KindVoice {
		return d.Voice
	}
	return d.Chat
}

// GetServerBoardHandler обрабатывает запрос общего рейтинга.
type GetServerBoardHandler struct {
	leaderboard *GetLeaderboardHandler
}

// NewGetServerBoardHandler создаёт новый обработчик.
func NewGetServerBoardHandler(leaderboard *GetLeaderboardHandler) *GetServerBoardHandler {
	return &GetServerBoardHandler{leaderboard: leaderboard}
}

// Handle выполняет запрос.
func (h *GetServerBoardHandler) Handle(ctx context.Context, q GetServerBoardQuery) (*ServerBoardDTO, error) {
	out := &ServerBoardDTO{}
	for _, kind := range progression.Kinds() {
		res, err := h.leaderboard.Handle(ctx, GetLeaderboardQuery{
			Kind:        kind,
			Limit:       q.Limit,
			OnlyPresent: true,
		})
		if err != nil {
			return nil, fmt.Errorf("server board %s: %w", kind, err)
		}
		out.TotalMembers = res.TotalMembers
		if kind == progression.KindVoice {
			out.Voice = res.Entries
		} else {
			out.Chat = res.Entries
		}
	}
	return out, nil
}
