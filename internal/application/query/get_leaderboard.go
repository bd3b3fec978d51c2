package query

import (
	"context"
	"time"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает топ-N участников по одному виду активности.
// Фильтр присутствия применяется до ограничения по количеству.
// ══════════════════════════════════════════════════════════════════════════════

// MemberDirectory отвечает, состоит ли участник в сообществе сейчас.
type MemberDirectory interface {
	IsPresent(ctx context.Context, memberID string) bool
}

// MemberDirectoryFunc адаптирует функцию к MemberDirectory.
type MemberDirectoryFunc func(ctx context.Context, memberID string) bool

// IsPresent реализует MemberDirectory.
func (f MemberDirectoryFunc) IsPresent(ctx context.Context, memberID string) bool {
	return f(ctx, memberID)
}

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Kind - вид активности.
	Kind progression.Kind

	// Limit - количество записей (по умолчанию 10, максимум 100).
	Limit int

	// OnlyPresent - показывать только участников, которые всё ещё в сообществе.
	OnlyPresent bool
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if !q.Kind.IsValid() {
		return shared.ErrInvalidKind
	}
	limit, err := shared.ClampLimit(q.Limit)
	if err != nil {
		return err
	}
	q.Limit = limit
	return nil
}

// LeaderboardEntryDTO - запись лидерборда.
type LeaderboardEntryDTO struct {
	// Rank - позиция в рейтинге (начиная с 1, после фильтрации).
	Rank int `json:"rank"`

	// MemberID - ID участника.
	MemberID string `json:"member_id"`

	// Level - уровень.
	Level int `json:"level"`

	// XP - опыт внутри уровня.
	XP int `json:"xp"`

	// Required - порог следующего уровня.
	Required int `json:"required"`

	// Medal - медаль для первых трёх мест.
	Medal string `json:"medal,omitempty"`
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	// Kind - вид активности.
	Kind progression.Kind `json:"kind"`

	// Entries - записи лидерборда.
	Entries []LeaderboardEntryDTO `json:"entries"`

	// TotalMembers - всего участников с записью.
	TotalMembers int `json:"total_members"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardHandler обрабатывает запрос лидерборда.
type GetLeaderboardHandler struct {
	engine    *progression.Engine
	directory MemberDirectory
}

// NewGetLeaderboardHandler создаёт новый обработчик.
// directory может быть nil: тогда OnlyPresent ничего не отфильтровывает.
func NewGetLeaderboardHandler(engine *progression.Engine, directory MemberDirectory) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{engine: engine, directory: directory}
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var filter progression.PresentFilter
	if q.OnlyPresent && h.directory != nil {
		filter = func(id string) bool {
			return h.directory.IsPresent(ctx, id)
		}
	}

	standings := h.engine.Leaderboard(q.Kind, q.Limit, filter)
	rules := h.engine.Rules()

	entries := make([]LeaderboardEntryDTO, len(standings))
	for i, s := range standings {
		rank := shared.Rank(i + 1)
		entries[i] = LeaderboardEntryDTO{
			Rank:     rank.Int(),
			MemberID: s.MemberID,
			Level:    s.Level,
			XP:       s.XP,
			Required: rules.Required(s.Level),
			Medal:    rank.Medal(),
		}
	}

	return &GetLeaderboardResult{
		Kind:         q.Kind,
		Entries:      entries,
		TotalMembers: h.engine.Len(),
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
