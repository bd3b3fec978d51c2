package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/pkg/logger"
	"github.com/melon-hub/melon-rank/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CHAT ACTIVITY COMMAND
// Awards chat XP for a posted message, at most once per cooldown window
// per member. Bot authors never earn XP.
// ══════════════════════════════════════════════════════════════════════════════

// ChatOutcome describes what happened to a message event.
type ChatOutcome string

const (
	// ChatOutcomeAwarded - XP was granted and a flush was triggered.
	ChatOutcomeAwarded ChatOutcome = "awarded"

	// ChatOutcomeCooldown - the member's previous award is too recent.
	ChatOutcomeCooldown ChatOutcome = "cooldown"

	// ChatOutcomeIgnoredBot - the author is a bot.
	ChatOutcomeIgnoredBot ChatOutcome = "ignored_bot"
)

// RecordChatActivityCommand contains one message event.
type RecordChatActivityCommand struct {
	// MemberID is the author's platform ID.
	MemberID string

	// IsBot marks automated authors.
	IsBot bool

	// At is when the message was posted (defaults to now if zero).
	At time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// RecordChatActivityResult contains the result of a message event.
type RecordChatActivityResult struct {
	Outcome ChatOutcome

	// Advancement is set when Outcome is ChatOutcomeAwarded.
	Advancement progression.Advancement

	// RetryAfter is the remaining cooldown when Outcome is ChatOutcomeCooldown.
	RetryAfter time.Duration

	// Persisted reports whether the follow-up flush succeeded.
	Persisted bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordChatActivityHandler handles RecordChatActivityCommand.
type RecordChatActivityHandler struct {
	engine         *progression.Engine
	flusher        *Flusher
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger

	// Cooldown timestamps are process-local and never persisted.
	mu        sync.Mutex
	lastAward map[string]time.Time
}

// NewRecordChatActivityHandler creates a new RecordChatActivityHandler.
func NewRecordChatActivityHandler(
	engine *progression.Engine,
	flusher *Flusher,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *RecordChatActivityHandler {
	return &RecordChatActivityHandler{
		engine:         engine,
		flusher:        flusher,
		eventPublisher: eventPublisher,
		clock:          timeutil.OrSystem(clock),
		logger:         logger.OrDefault(log),
		lastAward:      make(map[string]time.Time),
	}
}

// Handle executes the command.
func (h *RecordChatActivityHandler) Handle(ctx context.Context, cmd RecordChatActivityCommand) (*RecordChatActivityResult, error) {
	if cmd.IsBot {
		return &RecordChatActivityResult{Outcome: ChatOutcomeIgnoredBot}, nil
	}

	id, err := shared.NewMemberID(cmd.MemberID)
	if err != nil {
		return nil, err
	}
	key := id.String()

	rules := h.engine.Rules()

	h.mu.Lock()
	at := cmd.At
	if at.IsZero() {
		at = h.clock.Now()
	}
	if last, ok := h.lastAward[key]; ok {
		if elapsed := at.Sub(last); elapsed < rules.ChatCooldown {
			h.mu.Unlock()
			return &RecordChatActivityResult{
				Outcome:    ChatOutcomeCooldown,
				RetryAfter: rules.ChatCooldown - elapsed,
			}, nil
		}
	}
	h.lastAward[key] = at
	h.mu.Unlock()

	adv, err := h.engine.Award(key, progression.KindChat, rules.ChatXPPerMessage)
	if err != nil {
		return nil, err
	}

	events := progression.EventsFor(adv)
	if cmd.CorrelationID != "" {
		events = withCorrelation(events, cmd.CorrelationID)
	}
	publish(h.eventPublisher, h.logger, events...)

	result := &RecordChatActivityResult{
		Outcome:     ChatOutcomeAwarded,
		Advancement: adv,
	}
	if h.flusher != nil {
		result.Persisted = h.flusher.Flush(ctx) == nil
	}
	return result, nil
}

// PruneCooldowns drops timestamps older than olderThan (never less than
// the cooldown itself). Returns the number of entries removed.
func (h *RecordChatActivityHandler) PruneCooldowns(olderThan time.Duration) int {
	if cd := h.engine.Rules().ChatCooldown; olderThan < cd {
		olderThan = cd
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, last := range h.lastAward {
		if now.Sub(last) >= olderThan {
			delete(h.lastAward, id)
			removed++
		}
	}
	return removed
}

// TrackedCooldowns returns the number of members with a cooldown entry.
func (h *RecordChatActivityHandler) TrackedCooldowns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lastAward)
}

// withCorrelation stamps progression events with a correlation ID.
func withCorrelation(events []shared.Event, id string) []shared.Event {
	out := make([]shared.Event, 0, len(events))
	for _, e := range events {
		switch ev := e.(type) {
		case progression.XPAwardedEvent:
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
			out = append(out, ev)
		case progression.LevelUpEvent:
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
			out = append(out, ev)
		default:
			out = append(out, e)
		}
	}
	return out
}
