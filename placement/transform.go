// Package placement resolves element configurations and maps their logical,
// bottom-left-origin coordinates into the renderer's top-left-origin canvas.
package placement

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/amirphl/Kusanagi/models"
)

const (
	// DefaultCanvasWidth and DefaultCanvasHeight are the laser work area in mm.
	DefaultCanvasWidth  = 210.0
	DefaultCanvasHeight = 210.0

	// rotationFlip compensates for the renderer's inverted rotation sign.
	rotationFlip = 180.0

	capHeightRatio = 0.7 / 0.498
)

// ErrMissingElementConfig is returned when no active configuration exists for a tuple.
var ErrMissingElementConfig = errors.New("missing element configuration")

// Key identifies one element to place. An empty Revision means the module has
// no revision and only revision-agnostic rows match.
type Key struct {
	Design      string
	Revision    string
	Position    int
	ElementType models.ElementType
}

func (k Key) String() string {
	rev := k.Revision
	if rev == "" {
		rev = "*"
	}
	return fmt.Sprintf("%s/%s/%d/%s", k.Design, rev, k.Position, k.ElementType)
}

// MissingConfigError names the tuple that could not be resolved.
type MissingConfigError struct {
	Key Key
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing element configuration for %s", e.Key)
}

func (e *MissingConfigError) Unwrap() error { return ErrMissingElementConfig }

// KeyFor builds the lookup key for an element of a module.
func KeyFor(design string, revision *string, position int, t models.ElementType) Key {
	k := Key{Design: models.NormalizeDesign(design), Position: position, ElementType: t}
	if revision != nil {
		k.Revision = strings.TrimSpace(*revision)
	}
	if t.ArrayLevel() {
		k.Position = models.ArrayLevelPosition
	}
	return k
}

// Resolve picks the active configuration for key from configs: a row for the
// exact revision wins over a row that applies to every revision.
func Resolve(configs []*models.ElementConfig, key Key) (*models.ElementConfig, error) {
	var fallback *models.ElementConfig
	for _, c := range configs {
		if c == nil || !c.IsActive || c.Position != key.Position || c.ElementType != key.ElementType ||
			models.NormalizeDesign(c.Design) != key.Design {
			continue
		}
		if c.Revision == nil || *c.Revision == "" {
			if fallback == nil {
				fallback = c
			}
			continue
		}
		if key.Revision != "" && *c.Revision == key.Revision {
			return c, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, &MissingConfigError{Key: key}
}

// Offset is a per-design calibration shift in canvas millimetres.
type Offset struct {
	X float64
	Y float64
}

// OffsetOf converts a stored calibration; nil means no offset.
func OffsetOf(c *models.ArrayCalibration) Offset {
	if c == nil {
		return Offset{}
	}
	return Offset{X: c.OffsetX, Y: c.OffsetY}
}

// Placement is an element ready for the renderer.
type Placement struct {
	ElementType models.ElementType `json:"element_type"`
	X           float64            `json:"x"`
	Y           float64            `json:"y"`
	Rotation    float64            `json:"rotation"`
	Size        *float64           `json:"size,omitempty"`
	TextHeight  *float64           `json:"text_height,omitempty"`
	FontSize    *float64           `json:"font_size,omitempty"`
}

// Canvas is the renderer drawing area in millimetres.
type Canvas struct {
	Width  float64
	Height float64
}

// DefaultCanvas is the full laser work area.
func DefaultCanvas() Canvas {
	return Canvas{Width: DefaultCanvasWidth, Height: DefaultCanvasHeight}
}

// Point converts one logical point; the offset is applied before clamping.
func (c Canvas) Point(lx, ly float64, off Offset) (x, y float64) {
	x = lx + off.X
	y = c.Height - ly + off.Y
	return clamp(x, 0, c.Width), clamp(y, 0, c.Height)
}

// Transform places cfg on the canvas.
func (c Canvas) Transform(cfg *models.ElementConfig, off Offset) Placement {
	x, y := c.Point(cfg.OriginX, cfg.OriginY, off)
	p := Placement{
		ElementType: cfg.ElementType,
		X:           x,
		Y:           y,
		Rotation:    AdjustRotation(cfg.Rotation),
		Size:        cfg.ElementSize,
		TextHeight:  cfg.TextHeight,
	}
	if cfg.TextHeight != nil && cfg.ElementType.IsText() {
		fs := FontSize(*cfg.TextHeight)
		p.FontSize = &fs
	}
	return p
}

// AdjustRotation flips a logical rotation into the renderer convention, in [0, 360).
func AdjustRotation(r float64) float64 {
	a := math.Mod(r+rotationFlip, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// FontSize converts a cap height to the font size that renders it.
func FontSize(textHeight float64) float64 {
	return textHeight * capHeightRatio
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
