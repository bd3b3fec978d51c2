// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на изменения прогресса и запускают побочные
// эффекты: журналирование и объявления в канале сообщества.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LEVEL UP HANDLER
// Обрабатывает событие повышения уровня: пишет в журнал и, если включено,
// объявляет о новом уровне в канале сообщества.
// ═══════════════════════════════════════════════════════════════════════════

// LevelUpNotice - данные для объявления о новом уровне.
type LevelUpNotice struct {
	MemberID  string
	Kind      progression.Kind
	FromLevel int
	ToLevel   int
	At        time.Time
}

// Announcer публикует объявление о новом уровне.
type Announcer interface {
	AnnounceLevelUp(ctx context.Context, notice LevelUpNotice) error
}

// LevelUpConfig содержит конфигурацию обработчика.
type LevelUpConfig struct {
	// AnnounceTimeout - ограничение времени на одно объявление.
	AnnounceTimeout time.Duration

	// ShouldAnnounce решает, объявлять ли повышение участника.
	// nil - объявлять всегда.
	ShouldAnnounce func(memberID string) bool
}

// DefaultLevelUpConfig возвращает конфигурацию по умолчанию.
func DefaultLevelUpConfig() LevelUpConfig {
	return LevelUpConfig{
		AnnounceTimeout: 10 * time.Second,
	}
}

// OnLevelUpHandler обрабатывает событие повышения уровня.
type OnLevelUpHandler struct {
	announcer Announcer
	logger    *slog.Logger
	config    LevelUpConfig
}

// NewOnLevelUpHandler создаёт обработчик. announcer может быть nil.
func NewOnLevelUpHandler(announcer Announcer, log *slog.Logger, config LevelUpConfig) *OnLevelUpHandler {
	if config.AnnounceTimeout <= 0 {
		config.AnnounceTimeout = DefaultLevelUpConfig().AnnounceTimeout
	}
	return &OnLevelUpHandler{
		announcer: announcer,
		logger:    logger.OrDefault(log),
		config:    config,
	}
}

// Register подписывает обработчик на шину событий.
func (h *OnLevelUpHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventLevelUp, h.HandleEvent)
}

// HandleEvent адаптирует Handle к shared.EventHandler.
func (h *OnLevelUpHandler) HandleEvent(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.AnnounceTimeout)
	defer cancel()
	return h.Handle(ctx, event)
}

// Handle обрабатывает событие.
func (h *OnLevelUpHandler) Handle(ctx context.Context, event shared.Event) error {
	e, ok := event.(progression.LevelUpEvent)
	if !ok {
		return fmt.Errorf("on_level_up: unexpected event %T", event)
	}

	notice := LevelUpNotice{
		MemberID:  e.AggregateID(),
		Kind:      e.Kind,
		FromLevel: e.FromLevel,
		ToLevel:   e.ToLevel,
		At:        e.OccurredAt(),
	}

	h.logger.Info("member leveled up",
		logger.Member(notice.MemberID),
		logger.Kind(string(notice.Kind)),
		"from_level", notice.FromLevel,
		"to_level", notice.ToLevel,
	)

	if h.announcer == nil {
		return nil
	}
	if h.config.ShouldAnnounce != nil && !h.config.ShouldAnnounce(notice.MemberID) {
		return nil
	}

	if err := h.announcer.AnnounceLevelUp(ctx, notice); err != nil {
		h.logger.Warn("failed to announce level up",
			logger.Member(notice.MemberID),
			logger.Err(err),
		)
		return fmt.Errorf("on_level_up: announce: %w", err)
	}
	return nil
}
