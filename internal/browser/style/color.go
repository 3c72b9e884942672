// internal/browser/style/color.go
package style

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Luminance threshold below which a background is treated as a dark theme.
// It is the point where black and white text have equal contrast.
const darkThemeLuminance = 0.179

// Color represents an RGBA color.
type Color struct {
	R, G, B, A uint8
}

var (
	Black       = Color{0, 0, 0, 255}
	White       = Color{255, 255, 255, 255}
	Transparent = Color{0, 0, 0, 0}
)

var cssColors = map[string]Color{
	"black":       Black,
	"white":       White,
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"navy":        {0, 0, 128, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"silver":      {192, 192, 192, 255},
	"lightgray":   {211, 211, 211, 255},
	"darkgray":    {169, 169, 169, 255},
	"yellow":      {255, 255, 0, 255},
	"orange":      {255, 165, 0, 255},
	"purple":      {128, 0, 128, 255},
	"teal":        {0, 128, 128, 255},
	"transparent": Transparent,
}

// ParseColor understands named colors, hex notation and rgb()/rgba().
func ParseColor(value string) (Color, bool) {
	value = strings.TrimSpace(strings.ToLower(value))

	if color, ok := cssColors[value]; ok {
		return color, true
	}
	if strings.HasPrefix(value, "#") {
		return parseHexColor(value)
	}
	if strings.HasPrefix(value, "rgb") {
		return parseRGBColor(value)
	}
	return Black, false
}

// MustParseColor panics on unparseable input. Intended for constants.
func MustParseColor(value string) Color {
	c, ok := ParseColor(value)
	if !ok {
		panic(fmt.Sprintf("style: invalid color %q", value))
	}
	return c
}

func parseHexColor(hex string) (Color, bool) {
	hex = strings.TrimPrefix(hex, "#")
	for i := 0; i < len(hex); i++ {
		if !isHexDigit(hex[i]) {
			return Color{}, false
		}
	}
	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 3, 4:
		r = hexDigit(hex[0]) * 17
		g = hexDigit(hex[1]) * 17
		b = hexDigit(hex[2]) * 17
		if len(hex) == 4 {
			a = hexDigit(hex[3]) * 17
		}
	case 6, 8:
		r = hexDigit(hex[0])<<4 | hexDigit(hex[1])
		g = hexDigit(hex[2])<<4 | hexDigit(hex[3])
		b = hexDigit(hex[4])<<4 | hexDigit(hex[5])
		if len(hex) == 8 {
			a = hexDigit(hex[6])<<4 | hexDigit(hex[7])
		}
	default:
		return Color{}, false
	}
	return Color{R: r, G: g, B: b, A: a}, true
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func hexDigit(c byte) uint8 {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

var rgbRegex = regexp.MustCompile(`^rgba?\((.*?)\)$`)

func parseRGBColor(value string) (Color, bool) {
	matches := rgbRegex.FindStringSubmatch(value)
	if len(matches) != 2 {
		return Color{}, false
	}

	values := strings.FieldsFunc(matches[1], func(r rune) bool {
		return r == ',' || r == ' ' || r == '/'
	})
	if len(values) < 3 || len(values) > 4 {
		return Color{}, false
	}

	c := Color{
		R: parseColorComponent(values[0], false),
		G: parseColorComponent(values[1], false),
		B: parseColorComponent(values[2], false),
		A: 255,
	}
	if len(values) == 4 {
		c.A = parseColorComponent(values[3], true)
	}
	return c, true
}

func parseColorComponent(value string, isAlpha bool) uint8 {
	value = strings.TrimSpace(value)

	if strings.HasSuffix(value, "%") {
		percent, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
		if err != nil {
			return 0
		}
		return uint8(clamp(percent/100.0*255.0+0.5, 0, 255))
	}

	fval, err := strconv.ParseFloat(value, 64)
	if err != nil {
		if isAlpha {
			return 255
		}
		return 0
	}
	if isAlpha {
		return uint8(clamp(fval*255.0+0.5, 0, 255))
	}
	return uint8(clamp(fval+0.5, 0, 255))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// IsTransparent reports a fully transparent color.
func (c Color) IsTransparent() bool { return c.A == 0 }

// Hex renders #rrggbb, dropping alpha.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// CSS renders the color for use in a declaration.
func (c Color) CSS() string {
	if c.A == 255 {
		return c.Hex()
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %.3g)", c.R, c.G, c.B, float64(c.A)/255.0)
}

func (c Color) colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255.0, G: float64(c.G) / 255.0, B: float64(c.B) / 255.0}
}

func fromColorful(cf colorful.Color, alpha uint8) Color {
	r, g, b := cf.Clamped().RGB255()
	return Color{R: r, G: g, B: b, A: alpha}
}

// Over composites c onto an opaque background.
func (c Color) Over(bg Color) Color {
	if c.A == 255 {
		return c
	}
	a := float64(c.A) / 255.0
	mix := func(f, b uint8) uint8 {
		return uint8(clamp(float64(f)*a+float64(b)*(1-a)+0.5, 0, 255))
	}
	return Color{R: mix(c.R, bg.R), G: mix(c.G, bg.G), B: mix(c.B, bg.B), A: 255}
}

// RelativeLuminance is the WCAG relative luminance in [0, 1].
func RelativeLuminance(c Color) float64 {
	r, g, b := c.colorful().LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// ContrastRatio returns the WCAG contrast ratio between two opaque colors,
// in [1, 21]. Order does not matter.
func ContrastRatio(a, b Color) float64 {
	la, lb := RelativeLuminance(a), RelativeLuminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

// IsDark reports whether bg reads as a dark theme.
func IsDark(bg Color) bool {
	return RelativeLuminance(bg) < darkThemeLuminance
}

// AdjustForContrast returns the color closest to fg (blending in Lab space
// toward black or white) whose contrast against bg is at least target.
// If neither direction reaches the target, the endpoint with the higher
// ratio is returned. The second return value is the achieved ratio.
func AdjustForContrast(fg, bg Color, target float64) (Color, float64) {
	fg = fg.Over(bg)
	if ratio := ContrastRatio(fg, bg); ratio >= target {
		return fg, ratio
	}

	first, second := Black, White
	if IsDark(bg) {
		first, second = White, Black
	}

	best, bestRatio := fg, ContrastRatio(fg, bg)
	for _, end := range []Color{first, second} {
		if c, ratio, ok := blendUntil(fg, end, bg, target); ok {
			return c, ratio
		} else if ratio > bestRatio {
			best, bestRatio = c, ratio
		}
	}
	return best, bestRatio
}

const blendSteps = 50

func blendUntil(fg, end, bg Color, target float64) (Color, float64, bool) {
	from, to := fg.colorful(), end.colorful()
	var c Color
	var ratio float64
	for i := 1; i <= blendSteps; i++ {
		c = fromColorful(from.BlendLab(to, float64(i)/blendSteps), 255)
		ratio = ContrastRatio(c, bg)
		if ratio >= target {
			return c, ratio, true
		}
	}
	return c, ratio, false
}

// focusPalette is tried in order when picking an indicator color.
var focusPalette = []Color{
	MustParseColor("#1a73e8"),
	MustParseColor("#ffbf47"),
	Black,
	White,
}

// FocusIndicatorColor picks a color for a focus outline that reaches
// minRatio against bg, preferring the brand-neutral blue.
func FocusIndicatorColor(bg Color, minRatio float64) Color {
	bg = bg.Over(White)
	best, bestRatio := focusPalette[0], 0.0
	for _, c := range focusPalette {
		ratio := ContrastRatio(c, bg)
		if ratio >= minRatio {
			return c
		}
		if ratio > bestRatio {
			best, bestRatio = c, ratio
		}
	}
	return best
}

// Distance is the perceptual CIEDE2000 distance between two colors.
func Distance(a, b Color) float64 {
	return a.colorful().DistanceCIEDE2000(b.colorful())
}
