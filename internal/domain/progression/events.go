package progression

import "github.com/melon-hub/melon-rank/internal/domain/shared"

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// XPAwardedEvent - участнику начислен опыт.
type XPAwardedEvent struct {
	shared.BaseEvent
	Kind   Kind `json:"kind"`
	Amount int  `json:"amount"`
	Level  int  `json:"level"`
	XP     int  `json:"xp"`
}

// Payload реализует shared.Event.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":   string(e.Kind),
		"amount": e.Amount,
		"level":  e.Level,
		"xp":     e.XP,
	}
}

// NewXPAwardedEvent создаёт событие из результата начисления.
func NewXPAwardedEvent(a Advancement) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventXPAwarded, a.MemberID),
		Kind:      a.Kind,
		Amount:    a.Amount,
		Level:     a.Track.Level,
		XP:        a.Track.XP,
	}
}

// LevelUpEvent - участник перешёл на новый уровень.
type LevelUpEvent struct {
	shared.BaseEvent
	Kind      Kind `json:"kind"`
	FromLevel int  `json:"from_level"`
	ToLevel   int  `json:"to_level"`
}

// Payload реализует shared.Event.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":       string(e.Kind),
		"from_level": e.FromLevel,
		"to_level":   e.ToLevel,
	}
}

// NewLevelUpEvent создаёт событие повышения уровня.
func NewLevelUpEvent(a Advancement) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventLevelUp, a.MemberID),
		Kind:      a.Kind,
		FromLevel: a.FromLevel,
		ToLevel:   a.ToLevel,
	}
}

// EventsFor возвращает события для публикации после начисления.
func EventsFor(a Advancement) []shared.Event {
	events := []shared.Event{NewXPAwardedEvent(a)}
	if a.LeveledUp() {
		events = append(events, NewLevelUpEvent(a))
	}
	return events
}
