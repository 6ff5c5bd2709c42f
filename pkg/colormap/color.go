package colormap

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// ErrInvalidColorFormat is returned when a color value matches none of the
// supported forms.
var ErrInvalidColorFormat = errors.New("invalid color format")

// Color is the canonical 8-bit RGBA color. Channels are not premultiplied.
type Color struct {
	R, G, B, A uint8
}

// RGB returns an opaque color.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b, A: 255}
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}.RGBA()
}

// WithAlpha returns c with its alpha channel replaced.
func (c Color) WithAlpha(a uint8) Color {
	c.A = a
	return c
}

// Hex formats c as #rrggbb. Alpha is not encoded.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// RGBString formats c as rgb(r,g,b).
func (c Color) RGBString() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// RGBAString formats c as rgba(r,g,b,a) with alpha in [0,1].
func (c Color) RGBAString() string {
	a := math.Round(float64(c.A)/255*1000) / 1000
	return fmt.Sprintf("rgba(%d,%d,%d,%s)", c.R, c.G, c.B, strconv.FormatFloat(a, 'f', -1, 64))
}

// String implements fmt.Stringer.
func (c Color) String() string {
	if c.A == 255 {
		return c.Hex()
	}
	return c.RGBAString()
}

// MarshalText encodes opaque colors as hex and translucent ones as rgba().
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses any supported string form.
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// defaults only.
func MustParse(s string) Color {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse converts a color string to its canonical form. Supported forms are
// #rgb, #rrggbb (the leading # is optional), rgb(r,g,b), rgba(r,g,b,a) with
// alpha in [0,1], and CSS color names.
func Parse(s string) (Color, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return Color{}, fmt.Errorf("%w: empty string", ErrInvalidColorFormat)
	}

	switch {
	case strings.HasPrefix(in, "rgba(") && strings.HasSuffix(in, ")"):
		return parseFunctional(s, in[len("rgba("):len(in)-1], true)
	case strings.HasPrefix(in, "rgb(") && strings.HasSuffix(in, ")"):
		return parseFunctional(s, in[len("rgb("):len(in)-1], false)
	}

	if c, ok := parseHex(in); ok {
		return c, nil
	}

	if named, ok := colornames.Map[in]; ok {
		return Color{R: named.R, G: named.G, B: named.B, A: named.A}, nil
	}

	return Color{}, fmt.Errorf("%w: %q", ErrInvalidColorFormat, s)
}

// parseHex accepts "#abc", "abc", "#aabbcc" and "aabbcc".
func parseHex(in string) (Color, bool) {
	h := strings.TrimPrefix(in, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return Color{}, false
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, false
	}
	return RGB(uint8(v>>16), uint8(v>>8), uint8(v)), true
}

func parseFunctional(orig, body string, withAlpha bool) (Color, error) {
	parts := strings.Split(body, ",")
	want := 3
	if withAlpha {
		want = 4
	}
	if len(parts) != want {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColorFormat, orig)
	}

	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || v < 0 || v > 255 {
			return Color{}, fmt.Errorf("%w: %q", ErrInvalidColorFormat, orig)
		}
		ch[i] = uint8(v)
	}

	c := RGB(ch[0], ch[1], ch[2])
	if withAlpha {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || math.IsNaN(a) || a < 0 || a > 1 {
			return Color{}, fmt.Errorf("%w: %q", ErrInvalidColorFormat, orig)
		}
		c.A = uint8(math.Round(a * 255))
	}
	return c, nil
}

// FromSlice builds a color from 3 (RGB) or 4 (RGBA) channel values in 0-255.
func FromSlice(v []float64) (Color, error) {
	if len(v) != 3 && len(v) != 4 {
		return Color{}, fmt.Errorf("%w: expected 3 or 4 channels, got %d", ErrInvalidColorFormat, len(v))
	}
	var ch [4]uint8
	ch[3] = 255
	for i, f := range v {
		if math.IsNaN(f) || f < 0 || f > 255 || f != math.Trunc(f) {
			return Color{}, fmt.Errorf("%w: channel %d out of range: %v", ErrInvalidColorFormat, i, f)
		}
		ch[i] = uint8(f)
	}
	return Color{R: ch[0], G: ch[1], B: ch[2], A: ch[3]}, nil
}

// ParseAny accepts any external color representation: a string, a Color, or
// a channel array as produced by the YAML and JSON decoders.
func ParseAny(v any) (Color, error) {
	switch x := v.(type) {
	case Color:
		return x, nil
	case string:
		return Parse(x)
	case []float64:
		return FromSlice(x)
	case []int:
		f := make([]float64, len(x))
		for i, n := range x {
			f[i] = float64(n)
		}
		return FromSlice(f)
	case []any:
		f := make([]float64, len(x))
		for i, item := range x {
			n, ok := toFloat(item)
			if !ok {
				return Color{}, fmt.Errorf("%w: non-numeric channel %v", ErrInvalidColorFormat, item)
			}
			f[i] = n
		}
		return FromSlice(f)
	default:
		return Color{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidColorFormat, v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
