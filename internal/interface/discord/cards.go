package discord

import (
	"context"
	"fmt"

	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/internal/interface/render"
)

// CardRenderer draws a rank card.
type CardRenderer interface {
	Render(ctx context.Context, in render.CardInput) ([]byte, error)
}

// ProfileSource resolves a member's display name and avatar.
type ProfileSource interface {
	Profile(ctx context.Context, memberID string) (Profile, bool)
}

// Card is a rendered rank card plus the data behind it.
type Card struct {
	Profile  Profile
	Progress *query.MemberProgressDTO

	// PNG is nil when rendering failed; RenderErr says why.
	PNG       []byte
	RenderErr error
}

// CardService assembles rank cards for the rank command and the HTTP API.
type CardService struct {
	progress *query.GetMemberProgressHandler
	profiles ProfileSource
	renderer CardRenderer
}

// NewCardService creates the service. renderer may be nil (text only).
func NewCardService(progress *query.GetMemberProgressHandler, profiles ProfileSource, renderer CardRenderer) *CardService {
	return &CardService{progress: progress, profiles: profiles, renderer: renderer}
}

// Build loads progress and renders the card. Only a failed progress query
// is an error; a failed render is reported in Card.RenderErr.
func (c *CardService) Build(ctx context.Context, memberID string, fallback Profile) (*Card, error) {
	dto, err := c.progress.Handle(ctx, query.GetMemberProgressQuery{MemberID: memberID, IncludeRank: true})
	if err != nil {
		return nil, err
	}

	profile := fallback
	if c.profiles != nil {
		if p, ok := c.profiles.Profile(ctx, memberID); ok {
			profile = p
		}
	}
	if profile.DisplayName == "" {
		profile.DisplayName = memberID
	}

	card := &Card{Profile: profile, Progress: dto}
	if c.renderer == nil {
		card.RenderErr = fmt.Errorf("card rendering disabled")
		return card, nil
	}

	card.PNG, card.RenderErr = c.renderer.Render(ctx, render.CardInput{
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		Progress:    *dto,
	})
	return card, nil
}

// PNG renders a card for memberID, failing if rendering fails.
func (c *CardService) PNG(ctx context.Context, memberID string) ([]byte, error) {
	card, err := c.Build(ctx, memberID, Profile{})
	if err != nil {
		return nil, err
	}
	if card.RenderErr != nil {
		return nil, card.RenderErr
	}
	return card.PNG, nil
}
