// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MEMBER PROGRESS QUERY
// Возвращает уровень, опыт и порог следующего уровня участника по обоим
// видам активности. Используется командой rank и HTTP API.
// ══════════════════════════════════════════════════════════════════════════════

// GetMemberProgressQuery содержит параметры запроса прогресса.
type GetMemberProgressQuery struct {
	// MemberID - ID участника на платформе.
	MemberID string

	// IncludeRank - посчитать место участника в каждом рейтинге.
	IncludeRank bool
}

// Validate проверяет корректность параметров запроса.
func (q *GetMemberProgressQuery) Validate() error {
	if q.MemberID == "" {
		return errors.New("member_id is required")
	}
	return nil
}

// TrackProgressDTO - прогресс по одному виду активности.
type TrackProgressDTO struct {
	// Kind - вид активности.
	Kind progression.Kind `json:"kind"`

	// Level - текущий уровень (начиная с 1).
	Level int `json:"level"`

	// XP - опыт внутри текущего уровня.
	XP int `json:"xp"`

	// Required - порог перехода на следующий уровень (level * unit).
	Required int `json:"required"`

	// Percent - заполненность полосы прогресса (0-100).
	Percent float64 `json:"percent"`

	// AccumulatedXP - опыт, сохранённый с первого уровня.
	AccumulatedXP int `json:"accumulated_xp"`

	// Rank - место в рейтинге (0, если не запрашивалось или участника нет).
	Rank int `json:"rank,omitempty"`
}

// MemberProgressDTO - прогресс участника.
type MemberProgressDTO struct {
	// MemberID - ID участника.
	MemberID string `json:"member_id"`

	// Known - есть ли у участника запись (иначе показаны значения по умолчанию).
	Known bool `json:"known"`

	Chat  TrackProgressDTO `json:"chat"`
	Voice TrackProgressDTO `json:"voice"`
}

// Track возвращает прогресс по виду активности.
func (d MemberProgressDTO) Track(kind progression.Kind) TrackProgressDTO {
	if kind == progression.KindVoice {
		return d.Voice
	}
	return d.Chat
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetMemberProgressHandler обрабатывает запрос прогресса участника.
type GetMemberProgressHandler struct {
	engine *progression.Engine
}

// NewGetMemberProgressHandler создаёт новый обработчик.
func NewGetMemberProgressHandler(engine *progression.Engine) *GetMemberProgressHandler {
	return &GetMemberProgressHandler{engine: engine}
}

// Handle выполняет запрос. Неизвестный участник получает значения
// по умолчанию, запись при этом не создаётся.
func (h *GetMemberProgressHandler) Handle(ctx context.Context, q GetMemberProgressQuery) (*MemberProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetMemberProgress", shared.ErrInvalidArgument, "invalid query", err)
	}
	id, err := shared.NewMemberID(q.MemberID)
	if err != nil {
		return nil, err
	}
	key := id.String()

	rec := h.engine.Record(key)
	dto := &MemberProgressDTO{
		MemberID: key,
		Known:    h.engine.Contains(key),
		Chat:     h.trackDTO(progression.KindChat, rec.Chat),
		Voice:    h.trackDTO(progression.KindVoice, rec.Voice),
	}

	if q.IncludeRank && dto.Known {
		dto.Chat.Rank = h.rankOf(key, progression.KindChat)
		dto.Voice.Rank = h.rankOf(key, progression.KindVoice)
	}
	return dto, nil
}

func (h *GetMemberProgressHandler) trackDTO(kind progression.Kind, t progression.Track) TrackProgressDTO {
	rules := h.engine.Rules()
	required := rules.Required(t.Level)

	var percent float64
	if required > 0 {
		percent = float64(t.XP) * 100 / float64(required)
	}
	return TrackProgressDTO{
		Kind:          kind,
		Level:         t.Level,
		XP:            t.XP,
		Required:      required,
		Percent:       percent,
		AccumulatedXP: rules.Accumulated(t),
	}
}

func (h *GetMemberProgressHandler) rankOf(memberID string, kind progression.Kind) int {
	for i, s := range h.engine.Leaderboard(kind, h.engine.Len(), nil) {
		if s.MemberID == memberID {
			return i + 1
		}
	}
	return 0
}
