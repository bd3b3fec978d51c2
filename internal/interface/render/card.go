// Package render draws rank cards: a PNG with the member's avatar and one
// progress bar per activity kind.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LAYOUT
// ══════════════════════════════════════════════════════════════════════════════

const (
	CardWidth  = 950
	CardHeight = 320

	avatarSize = 170
	avatarX    = 40
	avatarY    = 75

	barX      = 270
	barWidth  = 600
	barHeight = 32
	barRadius = 16

	chatTitleY  = 40
	chatBarY    = 90
	voiceTitleY = 170
	voiceBarY   = 220

	maxAvatarBytes = 8 << 20
)

var (
	colorBackground  = color.RGBA{28, 28, 40, 255}
	colorTrack       = color.RGBA{70, 70, 90, 255}
	colorChatBar     = color.RGBA{120, 100, 255, 255}
	colorVoiceBar    = color.RGBA{255, 120, 120, 255}
	colorChatTitle   = color.RGBA{180, 180, 255, 255}
	colorVoiceTitle  = color.RGBA{255, 180, 180, 255}
	colorMuted       = color.RGBA{200, 200, 200, 255}
	colorPlaceholder = color.RGBA{90, 90, 120, 255}
)

// ══════════════════════════════════════════════════════════════════════════════
// RENDERER
// ══════════════════════════════════════════════════════════════════════════════

// CardInput is everything drawn on a card.
type CardInput struct {
	DisplayName string
	AvatarURL   string
	Progress    query.MemberProgressDTO
}

// Config contains renderer settings.
type Config struct {
	// AvatarTimeout bounds the avatar download.
	AvatarTimeout time.Duration

	// HTTPClient fetches avatars (default: http.DefaultClient).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{AvatarTimeout: 5 * time.Second}
}

// CardRenderer renders rank cards. It is safe for concurrent use; font
// faces are not, so drawing is serialized.
type CardRenderer struct {
	config Config
	client *http.Client
	logger *slog.Logger

	mu sync.Mutex

	titleFace font.Face
	smallFace font.Face
	barFace   font.Face
	nameFace  font.Face
}

// NewCardRenderer parses the bundled fonts and creates a renderer.
func NewCardRenderer(config Config) (*CardRenderer, error) {
	if config.AvatarTimeout <= 0 {
		config.AvatarTimeout = DefaultConfig().AvatarTimeout
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}

	r := &CardRenderer{
		config: config,
		client: client,
		logger: logger.OrDefault(config.Logger),
	}
	faces := []struct {
		dst  *font.Face
		font *opentype.Font
		size float64
	}{
		{&r.titleFace, bold, 34},
		{&r.smallFace, regular, 24},
		{&r.barFace, bold, 22},
		{&r.nameFace, regular, 20},
	}
	for _, f := range faces {
		face, err := opentype.NewFace(f.font, &opentype.FaceOptions{Size: f.size, DPI: 72, Hinting: font.HintingFull})
		if err != nil {
			return nil, fmt.Errorf("create font face: %w", err)
		}
		*f.dst = face
	}
	return r, nil
}

// Render draws the card and encodes it as PNG. A failed avatar download
// falls back to a placeholder circle.
func (r *CardRenderer) Render(ctx context.Context, in CardInput) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	fillRect(img, img.Bounds(), colorBackground)

	avatar, err := r.fetchAvatar(ctx, in.AvatarURL)
	if err != nil {
		r.logger.Debug("avatar unavailable, using placeholder",
			logger.Member(in.Progress.MemberID),
			logger.Err(err),
		)
	}
	drawAvatar(img, avatar)

	r.mu.Lock()
	if in.DisplayName != "" {
		r.drawCentered(img, r.nameFace, truncate(in.DisplayName, 18), avatarX+avatarSize/2, avatarY+avatarSize+32, colorMuted)
	}

	r.drawSection(img, "CHAT", in.Progress.Chat, chatTitleY, chatBarY, colorChatTitle, colorChatBar)
	r.drawSection(img, "VOICE", in.Progress.Voice, voiceTitleY, voiceBarY, colorVoiceTitle, colorVoiceBar)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *CardRenderer) drawSection(img *image.RGBA, label string, t query.TrackProgressDTO, titleY, barY int, titleColor, barColor color.RGBA) {
	r.drawText(img, r.titleFace, fmt.Sprintf("%s LV.%d", label, t.Level), barX, titleY+34, titleColor)

	total := fmt.Sprintf("TOTAL XP : %d", t.AccumulatedXP)
	w := font.MeasureString(r.smallFace, total).Ceil()
	r.drawText(img, r.smallFace, total, CardWidth-w-40, titleY+5+24, colorMuted)

	fillRoundedRect(img, image.Rect(barX, barY, barX+barWidth, barY+barHeight), barRadius, colorTrack)
	if filled := BarFill(t.XP, t.Required, barWidth); filled > 0 {
		fillRoundedRect(img, image.Rect(barX, barY, barX+filled, barY+barHeight), barRadius, barColor)
	}

	r.drawCentered(img, r.barFace, fmt.Sprintf("%d / %d", t.XP, t.Required), barX+barWidth/2, barY+24, color.White)
}

// BarFill returns the filled width of a progress bar, clamped to [0, width].
func BarFill(xp, required, width int) int {
	if required <= 0 || xp <= 0 {
		return 0
	}
	if xp >= required {
		return width
	}
	return width * xp / required
}

func (r *CardRenderer) drawText(img *image.RGBA, face font.Face, s string, x, baseline int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func (r *CardRenderer) drawCentered(img *image.RGBA, face font.Face, s string, cx, baseline int, c color.Color) {
	w := font.MeasureString(face, s).Ceil()
	r.drawText(img, face, s, cx-w/2, baseline, c)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// ══════════════════════════════════════════════════════════════════════════════
// AVATAR
// ══════════════════════════════════════════════════════════════════════════════

func (r *CardRenderer) fetchAvatar(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, fmt.Errorf("no avatar url")
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.AvatarTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch avatar: status %d", resp.StatusCode)
	}

	src, _, err := image.Decode(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return nil, fmt.Errorf("decode avatar: %w", err)
	}
	return src, nil
}

// drawAvatar scales src into the avatar square and masks it to a circle.
// A nil src draws a placeholder disc.
func drawAvatar(dst *image.RGBA, src image.Image) {
	rect := image.Rect(avatarX, avatarY, avatarX+avatarSize, avatarY+avatarSize)

	if src == nil {
		xdraw.DrawMask(dst, rect, image.NewUniform(colorPlaceholder), image.Point{}, &circle{r: avatarSize / 2}, image.Point{}, xdraw.Over)
		return
	}

	scaled := image.NewRGBA(image.Rect(0, 0, avatarSize, avatarSize))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	xdraw.DrawMask(dst, rect, scaled, image.Point{}, &circle{r: avatarSize / 2}, image.Point{}, xdraw.Over)
}

// circle is an alpha mask of a disc of radius r anchored at the origin.
type circle struct {
	r int
}

func (c *circle) ColorModel() color.Model { return color.AlphaModel }

func (c *circle) Bounds() image.Rectangle { return image.Rect(0, 0, 2*c.r, 2*c.r) }

func (c *circle) At(x, y int) color.Color {
	dx, dy := float64(x-c.r)+0.5, float64(y-c.r)+0.5
	if dx*dx+dy*dy <= float64(c.r*c.r) {
		return color.Alpha{255}
	}
	return color.Alpha{0}
}

// ══════════════════════════════════════════════════════════════════════════════
// SHAPES
// ══════════════════════════════════════════════════════════════════════════════

func fillRect(img *image.RGBA, rect image.Rectangle, c color.Color) {
	xdraw.Draw(img, rect, image.NewUniform(c), image.Point{}, xdraw.Src)
}

// fillRoundedRect fills rect with corners of radius rad. The radius shrinks
// for rectangles narrower than two radii.
func fillRoundedRect(img *image.RGBA, rect image.Rectangle, rad int, c color.RGBA) {
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return
	}
	if rad*2 > rect.Dx() {
		rad = rect.Dx() / 2
	}
	if rad*2 > rect.Dy() {
		rad = rect.Dy() / 2
	}

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if insideRounded(x-rect.Min.X, y-rect.Min.Y, rect.Dx(), rect.Dy(), rad) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func insideRounded(x, y, w, h, rad int) bool {
	cx, cy := -1, -1
	switch {
	case x < rad:
		cx = rad
	case x >= w-rad:
		cx = w - rad - 1
	}
	switch {
	case y < rad:
		cy = rad
	case y >= h-rad:
		cy = h - rad - 1
	}
	if cx < 0 || cy < 0 {
		return true
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= rad*rad
}
