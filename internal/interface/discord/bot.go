package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/melon-hub/melon-rank/config"
	"github.com/melon-hub/melon-rank/internal/application/command"
	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

const failureText = "요청을 처리하지 못했습니다. 잠시 후 다시 시도해 주세요."

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Discord bot.
type BotConfig struct {
	// GuildID is the single community this bot serves.
	GuildID string

	// RegisterCommands overwrites the guild's slash commands on ready.
	RegisterCommands bool

	// CleanupCommands removes the guild's slash commands on stop.
	CleanupCommands bool

	// LeaderboardSize is the number of entries per board in the ranking command.
	LeaderboardSize int

	// HandlerTimeout bounds the work done for one gateway event.
	HandlerTimeout time.Duration

	Logger *slog.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig(guildID string) BotConfig {
	return BotConfig{
		GuildID:          guildID,
		RegisterCommands: true,
		LeaderboardSize:  10,
		HandlerTimeout:   15 * time.Second,
	}
}

// FeatureGate reports whether a feature is enabled for a member.
type FeatureGate interface {
	IsEnabledFor(feature, memberID string) bool
}

// BotDependencies contains the application handlers the bot calls.
type BotDependencies struct {
	Chat        *command.RecordChatActivityHandler
	ServerBoard *query.GetServerBoardHandler
	Cards       *CardService
	Presenter   *Presenter

	// Features may be nil (everything enabled).
	Features FeatureGate

	// Limiter may be nil (no command throttling).
	Limiter *CommandLimiter
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot routes gateway events to the application layer.
type Bot struct {
	session *discordgo.Session
	config  BotConfig
	deps    BotDependencies
	logger  *slog.Logger

	mu       sync.RWMutex
	running  bool
	appID    string
	inflight sync.WaitGroup
	removers []func()
}

// NewBot creates a bot on an unopened session.
func NewBot(session *discordgo.Session, cfg BotConfig, deps BotDependencies) (*Bot, error) {
	if session == nil {
		return nil, errors.New("discord session is required")
	}
	if cfg.GuildID == "" {
		return nil, errors.New("guild id is required")
	}
	if deps.Chat == nil || deps.ServerBoard == nil || deps.Cards == nil || deps.Presenter == nil {
		return nil, errors.New("bot dependencies are incomplete")
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = DefaultBotConfig(cfg.GuildID).LeaderboardSize
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultBotConfig(cfg.GuildID).HandlerTimeout
	}

	return &Bot{
		session: session,
		config:  cfg,
		deps:    deps,
		logger:  logger.OrDefault(cfg.Logger).With("component", "discord"),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start registers event handlers and opens the gateway connection.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.removers = append(b.removers,
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(b.onMessageCreate),
		b.session.AddHandler(b.onInteractionCreate),
	)
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	b.logger.Info("opening discord gateway", "guild_id", b.config.GuildID)
	if err := b.session.Open(); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return err
	}
	return nil
}

// Stop closes the gateway and waits for in-flight handlers.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	appID := b.appID
	removers := b.removers
	b.removers = nil
	b.mu.Unlock()

	for _, remove := range removers {
		remove()
	}

	if b.config.CleanupCommands && appID != "" {
		if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.config.GuildID, nil, discordgo.WithContext(ctx)); err != nil {
			b.logger.Warn("failed to remove slash commands", logger.Err(err))
		}
	}

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("shutdown deadline reached with handlers in flight")
		waitErr = ctx.Err()
	}

	if err := b.session.Close(); err != nil {
		return err
	}
	b.logger.Info("discord gateway closed")
	return waitErr
}

// track marks a handler as in flight. It returns false once stopping.
func (b *Bot) track() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return false
	}
	b.inflight.Add(1)
	return true
}

// done releases a tracked handler. It also swallows a panic: discordgo
// runs handlers on bare goroutines, so an unrecovered panic kills the bot.
func (b *Bot) done(event string) {
	defer b.inflight.Done()
	if v := recover(); v != nil {
		b.logger.Error("panic in gateway handler",
			"event", event,
			"panic", fmt.Sprint(v),
			"stack", string(debug.Stack()),
		)
	}
}

// invokerID returns the member who ran the interaction.
func invokerID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	b.appID = r.User.ID
	b.mu.Unlock()

	b.logger.Info("discord ready",
		"user", r.User.Username,
		"guilds", len(r.Guilds),
	)

	if !b.config.RegisterCommands {
		return
	}
	cmds, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.config.GuildID, Commands())
	if err != nil {
		b.logger.Error("failed to register slash commands", logger.Err(err))
		return
	}
	b.logger.Info("slash commands registered", "count", len(cmds))
}

func (b *Bot) enabled(feature, memberID string) bool {
	return b.deps.Features == nil || b.deps.Features.IsEnabledFor(feature, memberID)
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	cmd, ok := chatCommand(m, b.config.GuildID)
	if !ok || !b.enabled(config.FeatureChatIngest, cmd.MemberID) {
		return
	}
	if !b.track() {
		return
	}
	defer b.done("message_create")

	ctx, cancel := context.WithTimeout(context.Background(), b.config.HandlerTimeout)
	defer cancel()

	if _, err := b.deps.Chat.Handle(ctx, cmd); err != nil {
		b.logger.Warn("chat activity rejected",
			logger.Member(cmd.MemberID),
			logger.Err(err),
		)
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID != b.config.GuildID {
		return
	}
	if !b.track() {
		return
	}
	defer b.done("interaction_create")

	ctx, cancel := context.WithTimeout(context.Background(), b.config.HandlerTimeout)
	defer cancel()

	name := i.ApplicationCommandData().Name
	log := b.logger.With("command", name, "interaction_id", i.ID)

	if b.deps.Limiter != nil {
		if res := b.deps.Limiter.Check(invokerID(i)); !res.Allowed {
			log.Debug("command rate limited", "retry_after", res.RetryAfter)
			err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: rateLimitedText(res.RetryAfter),
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			}, discordgo.WithContext(ctx))
			if err != nil {
				log.Warn("failed to send rate limit notice", logger.Err(err))
			}
			return
		}
	}

	// Card rendering and directory lookups can exceed the 3s reply window.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.Warn("failed to acknowledge interaction", logger.Err(err))
		return
	}

	var edit *discordgo.WebhookEdit
	switch name {
	case CommandRank:
		edit, err = b.rank(ctx, i)
	case CommandRanking:
		edit, err = b.ranking(ctx)
	default:
		log.Debug("unknown command")
		return
	}
	if err != nil {
		log.Error("command failed", logger.Err(err))
		text := failureText
		edit = &discordgo.WebhookEdit{Content: &text}
	}

	if _, err := s.InteractionResponseEdit(i.Interaction, edit, discordgo.WithContext(ctx)); err != nil {
		log.Warn("failed to send command reply", logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (b *Bot) rank(ctx context.Context, i *discordgo.InteractionCreate) (*discordgo.WebhookEdit, error) {
	memberID, fallback := rankTarget(i)
	if memberID == "" {
		return nil, errors.New("no rank target")
	}

	card, err := b.deps.Cards.Build(ctx, memberID, fallback)
	if err != nil {
		return nil, err
	}

	if card.PNG == nil || !b.enabled(config.FeatureRankCard, memberID) {
		if card.RenderErr != nil {
			b.logger.Warn("rank card unavailable, sending embed", logger.Member(memberID), logger.Err(card.RenderErr))
		}
		embeds := []*discordgo.MessageEmbed{b.deps.Presenter.ProgressEmbed(card.Profile.DisplayName, card.Progress)}
		return &discordgo.WebhookEdit{Embeds: &embeds}, nil
	}

	return &discordgo.WebhookEdit{
		Files: []*discordgo.File{{
			Name:        "rank.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(card.PNG),
		}},
	}, nil
}

func (b *Bot) ranking(ctx context.Context) (*discordgo.WebhookEdit, error) {
	board, err := b.deps.ServerBoard.Handle(ctx, query.GetServerBoardQuery{Limit: b.config.LeaderboardSize})
	if err != nil {
		return nil, err
	}

	embed, ok := b.deps.Presenter.RankingEmbed(board, b.config.LeaderboardSize)
	if !ok {
		text := b.deps.Presenter.NoDataText()
		return &discordgo.WebhookEdit{Content: &text}, nil
	}
	embeds := []*discordgo.MessageEmbed{embed}
	return &discordgo.WebhookEdit{Embeds: &embeds}, nil
}
