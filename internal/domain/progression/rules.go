package progression

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// Значения по умолчанию.
const (
	DefaultXPPerLevelUnit    = 100
	DefaultChatXPPerMessage  = 10
	DefaultVoiceXPPerTick    = 50
	DefaultChatCooldown      = 5 * time.Second
	DefaultVoiceTickInterval = 10 * time.Minute
)

// Rules - параметры начисления опыта.
// Все значения переопределяются конфигурацией.
type Rules struct {
	// XPPerLevelUnit - множитель порога: с уровня L нужно L*XPPerLevelUnit XP.
	XPPerLevelUnit int

	// ChatXPPerMessage - XP за одно засчитанное сообщение.
	ChatXPPerMessage int

	// VoiceXPPerTick - XP за один тик присутствия в голосовом канале.
	VoiceXPPerTick int

	// ChatCooldown - минимальный интервал между засчитанными сообщениями участника.
	ChatCooldown time.Duration

	// VoiceTickInterval - период сканирования голосовых каналов.
	VoiceTickInterval time.Duration
}

// DefaultRules возвращает стандартные правила.
func DefaultRules() Rules {
	return Rules{
		XPPerLevelUnit:    DefaultXPPerLevelUnit,
		ChatXPPerMessage:  DefaultChatXPPerMessage,
		VoiceXPPerTick:    DefaultVoiceXPPerTick,
		ChatCooldown:      DefaultChatCooldown,
		VoiceTickInterval: DefaultVoiceTickInterval,
	}
}

// Validate проверяет правила и возвращает все найденные ошибки.
func (r Rules) Validate() error {
	var errs []error
	if r.XPPerLevelUnit <= 0 {
		errs = append(errs, fmt.Errorf("xp per level unit must be positive, got %d", r.XPPerLevelUnit))
	} else if r.XPPerLevelUnit > math.MaxInt/MaxLevel {
		errs = append(errs, fmt.Errorf("xp per level unit must be at most %d, got %d", math.MaxInt/MaxLevel, r.XPPerLevelUnit))
	}
	if r.ChatXPPerMessage <= 0 {
		errs = append(errs, fmt.Errorf("chat xp per message must be positive, got %d", r.ChatXPPerMessage))
	}
	if r.VoiceXPPerTick <= 0 {
		errs = append(errs, fmt.Errorf("voice xp per tick must be positive, got %d", r.VoiceXPPerTick))
	}
	if r.ChatCooldown < 0 {
		errs = append(errs, fmt.Errorf("chat cooldown cannot be negative, got %s", r.ChatCooldown))
	}
	if r.VoiceTickInterval <= 0 {
		errs = append(errs, fmt.Errorf("voice tick interval must be positive, got %s", r.VoiceTickInterval))
	}
	if len(errs) > 0 {
		return shared.WrapError("progression", "ValidateRules", shared.ErrValueOutOfRange,
			"invalid progression rules", errors.Join(errs...))
	}
	return nil
}

// Required возвращает порог XP для перехода с уровня level.
func (r Rules) Required(level int) int {
	if level < 1 {
		level = 1
	}
	return level * r.XPPerLevelUnit
}

// Accumulated возвращает "накопленный опыт" для карточки: (level-1)*unit + xp.
func (r Rules) Accumulated(t Track) int {
	return (t.Level-1)*r.XPPerLevelUnit + t.XP
}
