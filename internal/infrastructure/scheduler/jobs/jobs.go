// Package jobs contains the scheduled jobs run by the bot process.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/melon-hub/melon-rank/internal/application/command"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VOICE XP JOB
// ══════════════════════════════════════════════════════════════════════════════

// VoiceTicker runs one voice presence tick.
type VoiceTicker interface {
	Handle(ctx context.Context) (*command.VoiceTickResult, error)
}

// VoiceXPJob awards voice XP to everyone eligible in a voice channel.
type VoiceXPJob struct {
	ticker  VoiceTicker
	enabled func() bool
	logger  *slog.Logger

	lastResult atomic.Pointer[command.VoiceTickResult]
}

// NewVoiceXPJob creates the job. enabled may be nil.
func NewVoiceXPJob(ticker VoiceTicker, enabled func() bool, logger *slog.Logger) *VoiceXPJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceXPJob{ticker: ticker, enabled: enabled, logger: logger}
}

// Name returns the job name.
func (j *VoiceXPJob) Name() string {
	return "voice_xp"
}

// Description returns a human-readable description.
func (j *VoiceXPJob) Description() string {
	return "Awards voice XP to unmuted, undeafened members in voice channels"
}

// Run executes one tick. An overlapping tick is not an error.
func (j *VoiceXPJob) Run(ctx context.Context) error {
	if j.enabled != nil && !j.enabled() {
		j.logger.Debug("voice ingest disabled, skipping tick")
		return nil
	}

	result, err := j.ticker.Handle(ctx)
	if errors.Is(err, shared.ErrTickInProgress) {
		j.logger.Warn("voice tick still in progress, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	j.lastResult.Store(result)
	return nil
}

// LastResult returns the most recent completed tick, or nil.
func (j *VoiceXPJob) LastResult() *command.VoiceTickResult {
	return j.lastResult.Load()
}

// ══════════════════════════════════════════════════════════════════════════════
// PRUNE COOLDOWNS JOB
// ══════════════════════════════════════════════════════════════════════════════

// CooldownPruner drops stale chat cooldown entries.
type CooldownPruner interface {
	PruneCooldowns(olderThan time.Duration) int
}

// PrunerGroup prunes several maps in one job run.
type PrunerGroup []CooldownPruner

// PruneCooldowns prunes every member of the group and sums the result.
func (g PrunerGroup) PruneCooldowns(olderThan time.Duration) int {
	total := 0
	for _, p := range g {
		total += p.PruneCooldowns(olderThan)
	}
	return total
}

// PruneCooldownsJob keeps the chat cooldown and command limiter maps bounded.
type PruneCooldownsJob struct {
	pruner    CooldownPruner
	olderThan time.Duration
	logger    *slog.Logger
}

// NewPruneCooldownsJob creates the job. Entries older than olderThan are
// removed; it must be at least the chat cooldown.
func NewPruneCooldownsJob(pruner CooldownPruner, olderThan time.Duration, logger *slog.Logger) *PruneCooldownsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneCooldownsJob{pruner: pruner, olderThan: olderThan, logger: logger}
}

// Name returns the job name.
func (j *PruneCooldownsJob) Name() string {
	return "prune_cooldowns"
}

// Description returns a human-readable description.
func (j *PruneCooldownsJob) Description() string {
	return "Removes expired chat cooldown and command rate limit entries"
}

// Run executes the job.
func (j *PruneCooldownsJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if removed := j.pruner.PruneCooldowns(j.olderThan); removed > 0 {
		j.logger.Debug("pruned chat cooldowns", "removed", removed)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotFlusher persists the progress table.
type SnapshotFlusher interface {
	Flush(ctx context.Context) error
}

// SnapshotJob flushes the table periodically on top of write-through saves,
// retrying a store that was unavailable during an award.
type SnapshotJob struct {
	flusher SnapshotFlusher
}

// NewSnapshotJob creates the job.
func NewSnapshotJob(flusher SnapshotFlusher) *SnapshotJob {
	return &SnapshotJob{flusher: flusher}
}

// Name returns the job name.
func (j *SnapshotJob) Name() string {
	return "snapshot"
}

// Description returns a human-readable description.
func (j *SnapshotJob) Description() string {
	return "Persists the full progress table"
}

// Run executes the job.
func (j *SnapshotJob) Run(ctx context.Context) error {
	return j.flusher.Flush(ctx)
}
