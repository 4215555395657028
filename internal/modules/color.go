// ABOUTME: Color picker module converting between hex, RGB and HSL notations.

package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/2389/toolshell/internal/registry"
)

// ColorPicker parses a color and reports it in every notation.
type ColorPicker struct{}

type colorInput struct {
	Color string `json:"color"`
	Copy  bool   `json:"copy"`
}

// RGB is a 24-bit color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// HSL is hue in degrees with saturation and lightness in percent.
type HSL struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
	L float64 `json:"l"`
}

// Run converts input.Color.
func (c *ColorPicker) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in colorInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	rgb, err := ParseColor(in.Color)
	if err != nil {
		return nil, err
	}
	hex := rgb.Hex()
	copied, copyErr := copyToClipboard(ctx, host, in.Copy, hex)
	return json.Marshal(map[string]any{
		"hex":        hex,
		"rgb":        rgb,
		"hsl":        rgb.HSL(),
		"css_rgb":    fmt.Sprintf("rgb(%d, %d, %d)", rgb.R, rgb.G, rgb.B),
		"copied":     copied,
		"copy_error": copyErr,
	})
}

// ParseColor accepts #rgb, #rrggbb and rgb(r, g, b).
func ParseColor(s string) (RGB, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "#"):
		h := s[1:]
		if len(h) == 3 {
			h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
		}
		if len(h) != 6 {
			return RGB{}, invalid("hex color must have 3 or 6 digits")
		}
		v, err := strconv.ParseUint(h, 16, 32)
		if err != nil {
			return RGB{}, invalid("bad hex color %q", s)
		}
		return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil

	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		parts := strings.Split(s[4:len(s)-1], ",")
		if len(parts) != 3 {
			return RGB{}, invalid("rgb() needs three components")
		}
		var out [3]uint8
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 || n > 255 {
				return RGB{}, invalid("rgb component %q out of range", strings.TrimSpace(p))
			}
			out[i] = uint8(n)
		}
		return RGB{R: out[0], G: out[1], B: out[2]}, nil
	}
	return RGB{}, invalid("unrecognized color %q", s)
}

// Hex returns #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// HSL converts c to HSL rounded to one decimal place.
func (c RGB) HSL() HSL {
	r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
	hi, lo := max(r, g, b), min(r, g, b)
	l := (hi + lo) / 2

	var h, s float64
	if d := hi - lo; d != 0 {
		if l > 0.5 {
			s = d / (2 - hi - lo)
		} else {
			s = d / (hi + lo)
		}
		switch hi {
		case r:
			h = (g - b) / d
			if g < b {
				h += 6
			}
		case g:
			h = (b-r)/d + 2
		default:
			h = (r-g)/d + 4
		}
		h *= 60
	}
	return HSL{H: round1(h), S: round1(s * 100), L: round1(l * 100)}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
