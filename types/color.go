package types

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// Color is a non-premultiplied RGBA color.
type Color struct {
	R, G, B, A uint8
}

func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

func (c Color) Hex() string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func (c Color) String() string {
	return c.Hex()
}

func (c Color) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(c.Hex())), nil
}

func (c *Color) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return WrapError(err, "color must be a string")
	}
	parsed, err := ParseColor(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseColor accepts #rgb, #rgba, #rrggbb, #rrggbbaa, rgb(), rgba() and
// SVG named colors.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Color{}, Errorf(ErrInvalidParams, "empty color")
	}

	if s == "transparent" {
		return Color{}, nil
	}

	if strings.HasPrefix(s, "#") {
		return parseHexColor(s[1:])
	}

	if strings.HasPrefix(s, "rgb") {
		return parseFuncColor(s)
	}

	if named, ok := colornames.Map[s]; ok {
		return Color{R: named.R, G: named.G, B: named.B, A: named.A}, nil
	}

	return Color{}, Errorf(ErrInvalidParams, "unknown color %q", s)
}

func parseHexColor(hex string) (Color, error) {
	expand := func(b byte) (uint8, error) {
		v, err := strconv.ParseUint(string([]byte{b, b}), 16, 8)
		return uint8(v), err
	}
	pair := func(s string) (uint8, error) {
		v, err := strconv.ParseUint(s, 16, 8)
		return uint8(v), err
	}

	var c = Color{A: 0xff}
	var err error
	var parts [4]uint8

	switch len(hex) {
	case 3, 4:
		for i := 0; i < len(hex); i++ {
			if parts[i], err = expand(hex[i]); err != nil {
				return Color{}, Errorf(ErrInvalidParams, "bad hex color %q", hex)
			}
		}
		c.R, c.G, c.B = parts[0], parts[1], parts[2]
		if len(hex) == 4 {
			c.A = parts[3]
		}
	case 6, 8:
		for i := 0; i < len(hex)/2; i++ {
			if parts[i], err = pair(hex[i*2 : i*2+2]); err != nil {
				return Color{}, Errorf(ErrInvalidParams, "bad hex color %q", hex)
			}
		}
		c.R, c.G, c.B = parts[0], parts[1], parts[2]
		if len(hex) == 8 {
			c.A = parts[3]
		}
	default:
		return Color{}, Errorf(ErrInvalidParams, "bad hex color %q", hex)
	}

	return c, nil
}

func parseFuncColor(s string) (Color, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Color{}, Errorf(ErrInvalidParams, "bad color function %q", s)
	}

	args := strings.FieldsFunc(s[open+1:len(s)-1], func(r rune) bool {
		return r == ',' || r == ' ' || r == '/'
	})
	if len(args) != 3 && len(args) != 4 {
		return Color{}, Errorf(ErrInvalidParams, "bad color function %q", s)
	}

	var channels [3]uint8
	for i := 0; i < 3; i++ {
		v, err := parseChannel(args[i])
		if err != nil {
			return Color{}, Errorf(ErrInvalidParams, "bad color channel %q", args[i])
		}
		channels[i] = v
	}

	c := Color{R: channels[0], G: channels[1], B: channels[2], A: 0xff}
	if len(args) == 4 {
		a, err := parseAlpha(args[3])
		if err != nil {
			return Color{}, Errorf(ErrInvalidParams, "bad alpha %q", args[3])
		}
		c.A = a
	}

	return c, nil
}

func parseChannel(s string) (uint8, error) {
	if strings.HasSuffix(s, "%") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, err
		}
		return clampUnit(f / 100), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return uint8(math.Round(math.Max(0, math.Min(255, f)))), nil
}

func parseAlpha(s string) (uint8, error) {
	if strings.HasSuffix(s, "%") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, err
		}
		return clampUnit(f / 100), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return clampUnit(f), nil
}

func clampUnit(f float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, f)) * 255))
}
