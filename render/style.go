package render

import (
	"strconv"
	"strings"

	"github.com/saiset-co/sai-og/types"
)

type paintKind uint8

const (
	paintNone paintKind = iota
	paintColor
	paintRef
)

type paint struct {
	kind  paintKind
	color types.Color
	ref   string
}

type lineCap uint8

const (
	capButt lineCap = iota
	capRound
	capSquare
)

type style struct {
	fill          paint
	stroke        paint
	fillOpacity   float64
	strokeOpacity float64
	opacity       float64
	strokeWidth   float64
	lineCap       lineCap
	fontFamily    []string
	fontSize      float64
	fontWeight    types.FontWeight
	fontStyle     types.FontStyle
	textAnchor    string
	hidden        bool
}

func defaultStyle(fontSize float64) style {
	return style{
		fill:          paint{kind: paintColor, color: types.Color{A: 255}},
		stroke:        paint{kind: paintNone},
		fillOpacity:   1,
		strokeOpacity: 1,
		opacity:       1,
		strokeWidth:   1,
		fontSize:      fontSize,
		fontWeight:    types.WeightRegular,
		fontStyle:     types.StyleNormal,
		textAnchor:    "start",
	}
}

// properties merges presentation attributes with the style attribute; the
// style attribute wins.
func properties(el *element) map[string]string {
	props := make(map[string]string, len(el.attrs))
	for k, v := range el.attrs {
		props[k] = v
	}

	if inline, ok := el.attrs["style"]; ok {
		for _, decl := range strings.Split(inline, ";") {
			idx := strings.IndexByte(decl, ':')
			if idx < 0 {
				continue
			}
			key := strings.TrimSpace(decl[:idx])
			value := strings.TrimSpace(decl[idx+1:])
			value = strings.TrimSpace(strings.TrimSuffix(value, "!important"))
			if key != "" {
				props[key] = value
			}
		}
	}

	return props
}

// cascade computes the style of el from its parent's. Opacity is folded into
// the inherited value so group opacity multiplies down the tree.
func (c *canvas) cascade(parent style, props map[string]string) (style, error) {
	s := parent

	for _, key := range styleKeys {
		value, ok := props[key]
		if !ok || value == "inherit" {
			continue
		}

		if err := c.applyProperty(&s, key, value); err != nil {
			return s, err
		}
	}

	return s, nil
}

var styleKeys = []string{
	"visibility", "opacity", "fill", "fill-opacity", "stroke",
	"stroke-opacity", "stroke-width", "stroke-linecap", "font-family",
	"font-size", "font-weight", "font-style", "text-anchor",
}

func (c *canvas) applyProperty(s *style, key, value string) error {
	switch key {
	case "visibility":
		s.hidden = value == "hidden" || value == "collapse"
	case "opacity":
		s.opacity *= parseOpacity(value)
	case "fill-opacity":
		s.fillOpacity = parseOpacity(value)
	case "stroke-opacity":
		s.strokeOpacity = parseOpacity(value)
	case "fill", "stroke":
		p, err := parsePaint(value)
		if err != nil {
			return c.unsupported("%s=%q", key, value)
		}
		if key == "fill" {
			s.fill = p
		} else {
			s.stroke = p
		}
	case "stroke-width":
		if w, ok := parseLength(value, c.diagonal(), s.fontSize); ok && w >= 0 {
			s.strokeWidth = w
		}
	case "stroke-linecap":
		switch value {
		case "round":
			s.lineCap = capRound
		case "square":
			s.lineCap = capSquare
		default:
			s.lineCap = capButt
		}
	case "font-family":
		s.fontFamily = parseFontFamily(value)
	case "font-size":
		if size, ok := parseFontSize(value, s.fontSize); ok {
			s.fontSize = size
		}
	case "font-weight":
		switch value {
		case "bolder":
			s.fontWeight = clampWeight(s.fontWeight + 300)
		case "lighter":
			s.fontWeight = clampWeight(s.fontWeight - 300)
		default:
			if w, ok := types.ParseFontWeight(value); ok {
				s.fontWeight = w
			}
		}
	case "font-style":
		if st, ok := types.ParseFontStyle(value); ok {
			s.fontStyle = st
		}
	case "text-anchor":
		if value == "start" || value == "middle" || value == "end" {
			s.textAnchor = value
		}
	}

	return nil
}

func parsePaint(value string) (paint, error) {
	value = strings.TrimSpace(value)

	switch value {
	case "none", "":
		return paint{kind: paintNone}, nil
	}

	if strings.HasPrefix(value, "url(") {
		end := strings.IndexByte(value, ')')
		if end < 0 {
			return paint{}, types.NewError(types.KindRenderError, "malformed paint %q", value)
		}
		ref := strings.Trim(strings.TrimSpace(value[4:end]), `"'`)
		if !strings.HasPrefix(ref, "#") {
			return paint{}, types.NewError(types.KindUnsupportedElement, "external paint %q", value)
		}
		return paint{kind: paintRef, ref: ref[1:]}, nil
	}

	col, err := types.ParseColor(value)
	if err != nil {
		return paint{}, err
	}
	return paint{kind: paintColor, color: col}, nil
}

func parseOpacity(value string) float64 {
	value = strings.TrimSpace(value)
	scale := 1.0
	if strings.HasSuffix(value, "%") {
		value = value[:len(value)-1]
		scale = 0.01
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 1
	}
	return clamp01(v * scale)
}

func parseFontFamily(value string) []string {
	var chain []string
	for _, part := range strings.Split(value, ",") {
		name := strings.Trim(strings.TrimSpace(part), `"'`)
		if name != "" {
			chain = append(chain, name)
		}
	}
	return chain
}

var fontSizeKeywords = map[string]float64{
	"xx-small": 9, "x-small": 10, "small": 13, "medium": 16,
	"large": 18, "x-large": 24, "xx-large": 32,
}

func parseFontSize(value string, parent float64) (float64, bool) {
	if size, ok := fontSizeKeywords[value]; ok {
		return size, true
	}
	size, ok := parseLength(value, parent, parent)
	if !ok || size <= 0 {
		return 0, false
	}
	return size, true
}

func clampWeight(w types.FontWeight) types.FontWeight {
	if w < types.WeightThin {
		return types.WeightThin
	}
	if w > types.WeightBlack {
		return types.WeightBlack
	}
	return w
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
