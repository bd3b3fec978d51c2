package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD VOICE PRESENCE COMMAND
// One voice tick: scan every voice channel and award voice XP to each
// connected human who is neither self-muted nor self-deafened.
// ══════════════════════════════════════════════════════════════════════════════

// Participant is one connection observed in a voice channel.
type Participant struct {
	MemberID string
	IsBot    bool
	SelfMute bool
	SelfDeaf bool
}

// Eligible reports whether the participant earns voice XP this tick.
func (p Participant) Eligible() bool {
	return !p.IsBot && !p.SelfMute && !p.SelfDeaf
}

// PresenceSource enumerates voice channels and their participants.
type PresenceSource interface {
	// VoiceChannels lists voice-capable channel IDs of the community.
	VoiceChannels(ctx context.Context) ([]string, error)

	// Participants lists everyone connected to a channel right now.
	Participants(ctx context.Context, channelID string) ([]Participant, error)
}

// VoiceTickResult summarizes a tick.
type VoiceTickResult struct {
	TickID string

	// Scanned counts every participant seen.
	Scanned int

	// Awarded counts members that received XP.
	Awarded int

	// Ineligible counts bots, muted and deafened participants.
	Ineligible int

	// SkippedChannels counts channels whose participants could not be read.
	SkippedChannels int

	// LevelUps lists advancements that crossed a level.
	LevelUps []progression.Advancement

	Duration  time.Duration
	Persisted bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardVoicePresenceHandler runs voice ticks. Ticks never overlap: a tick
// requested while another is running fails with ErrTickInProgress.
type AwardVoicePresenceHandler struct {
	engine         *progression.Engine
	source         PresenceSource
	flusher        *Flusher
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	running sync.Mutex
}

// NewAwardVoicePresenceHandler creates a new AwardVoicePresenceHandler.
func NewAwardVoicePresenceHandler(
	engine *progression.Engine,
	source PresenceSource,
	flusher *Flusher,
	eventPublisher shared.EventPublisher,
	log *slog.Logger,
) *AwardVoicePresenceHandler {
	return &AwardVoicePresenceHandler{
		engine:         engine,
		source:         source,
		flusher:        flusher,
		eventPublisher: eventPublisher,
		logger:         logger.OrDefault(log),
	}
}

// Handle executes one tick.
func (h *AwardVoicePresenceHandler) Handle(ctx context.Context) (*VoiceTickResult, error) {
	if !h.running.TryLock() {
		return nil, shared.ErrTickInProgress
	}
	defer h.running.Unlock()

	start := time.Now()
	result := &VoiceTickResult{TickID: uuid.NewString()}
	log := h.logger.With("tick_id", result.TickID)

	channels, err := h.source.VoiceChannels(ctx)
	if err != nil {
		return nil, shared.WrapError("ingest", "VoiceTick", shared.ErrPresenceUnavailable,
			"cannot list voice channels", err)
	}

	amount := h.engine.Rules().VoiceXPPerTick
	awarded := make(map[string]struct{})

	for i, channelID := range channels {
		if ctx.Err() != nil {
			log.Warn("voice tick interrupted", "remaining_channels", len(channels)-i)
			break
		}

		participants, err := h.source.Participants(ctx, channelID)
		if err != nil {
			result.SkippedChannels++
			log.Warn("skipping voice channel",
				"channel_id", channelID,
				logger.Err(err),
			)
			continue
		}

		for _, p := range participants {
			result.Scanned++
			if !p.Eligible() {
				result.Ineligible++
				continue
			}
			if _, dup := awarded[p.MemberID]; dup {
				continue
			}

			adv, err := h.engine.Award(p.MemberID, progression.KindVoice, amount)
			if err != nil {
				result.Ineligible++
				log.Warn("voice award rejected",
					logger.Member(p.MemberID),
					logger.Err(err),
				)
				continue
			}
			awarded[p.MemberID] = struct{}{}
			result.Awarded++
			if adv.LeveledUp() {
				result.LevelUps = append(result.LevelUps, adv)
			}
			publish(h.eventPublisher, h.logger, progression.EventsFor(adv)...)
		}
	}

	if h.flusher != nil {
		// Awards already applied must reach the store even during shutdown.
		result.Persisted = h.flusher.Flush(context.WithoutCancel(ctx)) == nil
	}
	result.Duration = time.Since(start)

	log.Info("voice tick completed",
		"channels", len(channels),
		"scanned", result.Scanned,
		"awarded", result.Awarded,
		"ineligible", result.Ineligible,
		"skipped_channels", result.SkippedChannels,
		"level_ups", len(result.LevelUps),
		logger.Duration("duration", result.Duration),
	)
	publish(h.eventPublisher, h.logger, shared.NewVoiceTickCompletedEvent(
		result.TickID, result.Scanned, result.Awarded, result.SkippedChannels, result.Duration,
	))
	return result, nil
}
