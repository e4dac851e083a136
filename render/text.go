package render

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/saiset-co/sai-og/fonts"
)

const (
	defaultLineHeight = 1.2
	textEllipsis      = "…"
)

type textRun struct {
	text   string
	style  style
	x, y   *float64
	dx, dy float64
}

type textPiece struct {
	text  string
	style style
	x, y  float64
	width float64
}

// drawText lays out a text element. Without data-max-width runs flow on one
// line per chunk (a chunk starts at each absolute x/y). With it, words wrap
// onto lines data-line-height × font-size apart and data-max-lines cuts the
// overflow with an ellipsis.
func (c *canvas) drawText(el *element, st style, ctm matrix) error {
	scale := ctm.scaleFactor()
	if scale == 0 {
		return nil
	}
	if ctm.rotated() {
		if err := c.unsupported("rotated or mirrored text"); err != nil {
			return err
		}
	}

	var runs []textRun
	if err := c.collectRuns(el, st, &runs, true); err != nil {
		return err
	}
	collapseWhitespace(runs)

	x := c.firstLength(el, "x", c.viewportW, st)
	y := c.firstLength(el, "y", c.viewportH, st)

	var pieces []textPiece
	var err error
	if maxWidth, ok := parseLength(el.attrOr("data-max-width", ""), c.viewportW, st.fontSize); ok && maxWidth > 0 {
		pieces, err = c.wrapText(el, runs, st, x, y, maxWidth, scale)
	} else {
		pieces, err = c.flowText(runs, x, y, scale)
	}
	if err != nil {
		return err
	}

	for _, piece := range pieces {
		if err := c.drawPiece(piece, ctm, scale); err != nil {
			return err
		}
	}

	return nil
}

func (c *canvas) collectRuns(el *element, st style, runs *[]textRun, root bool) error {
	var x, y *float64
	var dx, dy float64

	if !root {
		if v, ok := parseLength(firstValue(el.attrOr("x", "")), c.viewportW, st.fontSize); ok {
			x = &v
		}
		if v, ok := parseLength(firstValue(el.attrOr("y", "")), c.viewportH, st.fontSize); ok {
			y = &v
		}
	}
	dx, _ = parseLength(firstValue(el.attrOr("dx", "")), c.viewportW, st.fontSize)
	dy, _ = parseLength(firstValue(el.attrOr("dy", "")), c.viewportH, st.fontSize)

	positioned := false
	position := func(run *textRun) {
		if positioned {
			return
		}
		positioned = true
		run.x, run.y, run.dx, run.dy = x, y, dx, dy
	}

	for _, child := range el.children {
		switch child.name {
		case textNodeName:
			run := textRun{text: child.text, style: st}
			position(&run)
			*runs = append(*runs, run)

		case "tspan", "a":
			props := properties(child)
			if props["display"] == "none" {
				continue
			}
			childStyle, err := c.cascade(st, props)
			if err != nil {
				return err
			}

			start := len(*runs)
			if err := c.collectRuns(child, childStyle, runs, false); err != nil {
				return err
			}
			if !positioned && len(*runs) > start {
				positioned = true
			}

		case "title", "desc":

		default:
			if err := c.unsupported("element <%s> inside text", child.name); err != nil {
				return err
			}
		}
	}

	return nil
}

// collapseWhitespace applies default xml:space handling across run borders.
func collapseWhitespace(runs []textRun) {
	prevSpace := true

	for i := range runs {
		var b strings.Builder
		for _, r := range runs[i].text {
			if unicode.IsSpace(r) {
				if prevSpace {
					continue
				}
				b.WriteByte(' ')
				prevSpace = true
				continue
			}
			b.WriteRune(r)
			prevSpace = false
		}
		runs[i].text = b.String()
	}

	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].text == "" {
			continue
		}
		runs[i].text = strings.TrimRight(runs[i].text, " ")
		break
	}
}

func (c *canvas) flowText(runs []textRun, x, y, scale float64) ([]textPiece, error) {
	var pieces []textPiece
	pen := point{x, y}
	chunkStart := 0
	anchor := ""

	finishChunk := func(end int) {
		if chunkStart >= end {
			return
		}
		shift := anchorShift(anchor, pen.x-pieces[chunkStart].x)
		for i := chunkStart; i < end; i++ {
			pieces[i].x += shift
		}
	}

	for _, run := range runs {
		if run.x != nil || run.y != nil {
			finishChunk(len(pieces))
			chunkStart = len(pieces)
			anchor = ""
			if run.x != nil {
				pen.x = *run.x
			}
			if run.y != nil {
				pen.y = *run.y
			}
		}
		pen.x += run.dx
		pen.y += run.dy

		if run.text == "" {
			continue
		}

		width, err := c.measure(run.text, run.style, scale)
		if err != nil {
			return nil, err
		}
		if anchor == "" {
			anchor = run.style.textAnchor
		}

		pieces = append(pieces, textPiece{text: run.text, style: run.style, x: pen.x, y: pen.y, width: width})
		pen.x += width
	}
	finishChunk(len(pieces))

	return pieces, nil
}

type word struct {
	parts []textPiece
	space bool
}

func (c *canvas) wrapText(el *element, runs []textRun, st style, x, y, maxWidth, scale float64) ([]textPiece, error) {
	words := splitWords(runs)

	for i := range words {
		for j := range words[i].parts {
			w, err := c.measure(words[i].parts[j].text, words[i].parts[j].style, scale)
			if err != nil {
				return nil, err
			}
			words[i].parts[j].width = w
		}
	}

	var lines [][]textPiece
	var line []textPiece
	lineWidth := 0.0

	for _, w := range words {
		wordWidth := 0.0
		for _, p := range w.parts {
			wordWidth += p.width
		}

		spaceWidth := 0.0
		if len(line) > 0 && w.space {
			var err error
			if spaceWidth, err = c.measure(" ", w.parts[0].style, scale); err != nil {
				return nil, err
			}
		}

		if len(line) > 0 && lineWidth+spaceWidth+wordWidth > maxWidth {
			lines = append(lines, line)
			line, lineWidth, spaceWidth = nil, 0, 0
		}

		if spaceWidth > 0 {
			line = append(line, textPiece{text: " ", style: w.parts[0].style, width: spaceWidth})
			lineWidth += spaceWidth
		}
		line = append(line, w.parts...)
		lineWidth += wordWidth
	}
	if len(line) > 0 {
		lines = append(lines, line)
	}

	if maxLines, err := strconv.Atoi(el.attrOr("data-max-lines", "")); err == nil && maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		last, err := c.ellipsize(lines[maxLines-1], maxWidth, scale)
		if err != nil {
			return nil, err
		}
		lines[maxLines-1] = last
	}

	lineHeight := defaultLineHeight
	if v, err := strconv.ParseFloat(el.attrOr("data-line-height", ""), 64); err == nil && v > 0 {
		lineHeight = v
	}
	step := lineHeight * st.fontSize

	var pieces []textPiece
	for i, l := range lines {
		total := 0.0
		for _, p := range l {
			total += p.width
		}

		pen := x + anchorShift(st.textAnchor, total)
		for _, p := range l {
			p.x, p.y = pen, y+float64(i)*step
			pen += p.width
			if p.text != " " {
				pieces = append(pieces, p)
			}
		}
	}

	return pieces, nil
}

func splitWords(runs []textRun) []word {
	var words []word
	glued := false

	for _, run := range runs {
		text := run.text
		for text != "" {
			space := strings.HasPrefix(text, " ")
			text = strings.TrimLeft(text, " ")
			if text == "" {
				glued = false
				break
			}

			end := strings.IndexByte(text, ' ')
			if end < 0 {
				end = len(text)
			}
			part := textPiece{text: text[:end], style: run.style}
			text = text[end:]

			if glued && !space && len(words) > 0 {
				last := &words[len(words)-1]
				last.parts = append(last.parts, part)
			} else {
				words = append(words, word{parts: []textPiece{part}, space: space || len(words) > 0})
			}
			glued = text == ""
		}
	}

	return words
}

// ellipsize appends an ellipsis to line, dropping trailing runes until it fits.
func (c *canvas) ellipsize(line []textPiece, maxWidth, scale float64) ([]textPiece, error) {
	if len(line) == 0 {
		return line, nil
	}

	st := line[len(line)-1].style
	ellipsisWidth, err := c.measure(textEllipsis, st, scale)
	if err != nil {
		return nil, err
	}

	width := 0.0
	for _, p := range line {
		width += p.width
	}

	for len(line) > 0 && width+ellipsisWidth > maxWidth {
		last := &line[len(line)-1]
		if last.text == "" || last.text == " " {
			width -= last.width
			line = line[:len(line)-1]
			continue
		}

		_, size := utf8.DecodeLastRuneInString(last.text)
		last.text = last.text[:len(last.text)-size]
		w, err := c.measure(last.text, last.style, scale)
		if err != nil {
			return nil, err
		}
		width += w - last.width
		last.width = w
	}

	for len(line) > 0 && strings.TrimSpace(line[len(line)-1].text) == "" {
		line = line[:len(line)-1]
	}

	return append(line, textPiece{text: textEllipsis, style: st, width: ellipsisWidth}), nil
}

func anchorShift(anchor string, width float64) float64 {
	switch anchor {
	case "middle":
		return -width / 2
	case "end":
		return -width
	}
	return 0
}

func (c *canvas) face(st style, scale float64) (font.Face, error) {
	resolved, err := c.r.fonts.ResolveWithDefault(st.fontFamily, st.fontWeight, st.fontStyle)
	if err != nil {
		return nil, err
	}

	size := st.fontSize * scale
	key := faceCacheKey{font: resolved.Font, size: int(math.Round(size * 64))}
	if face, ok := c.faces[key]; ok {
		return face, nil
	}

	face, err := fonts.NewFace(resolved.Font, float64(key.size)/64)
	if err != nil {
		return nil, err
	}
	c.faces[key] = face
	return face, nil
}

// measure returns the advance of text in user units.
func (c *canvas) measure(text string, st style, scale float64) (float64, error) {
	if text == "" {
		return 0, nil
	}
	face, err := c.face(st, scale)
	if err != nil {
		return 0, err
	}
	return float64(font.MeasureString(face, text)) / 64 / scale, nil
}

func (c *canvas) drawPiece(p textPiece, ctm matrix, scale float64) error {
	fill := p.style.fill
	if c.opts.TextColor != nil {
		fill = paint{kind: paintColor, color: *c.opts.TextColor}
	}
	if fill.kind == paintNone {
		return nil
	}

	min := point{p.x, p.y - p.style.fontSize}
	max := point{p.x + p.width, p.y + p.style.fontSize*0.25}
	src, ok, err := c.paintSource(fill, p.style.fillOpacity*p.style.opacity, min, max, ctm)
	if err != nil || !ok {
		return err
	}

	face, err := c.face(p.style, scale)
	if err != nil {
		return err
	}

	origin := ctm.apply(point{p.x, p.y})
	d := &font.Drawer{
		Dst:  c.dst,
		Src:  src,
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(math.Round(origin.x * 64)),
			Y: fixed.Int26_6(math.Round(origin.y * 64)),
		},
	}
	d.DrawString(p.text)
	return nil
}

func (c *canvas) firstLength(el *element, name string, ref float64, st style) float64 {
	v, _ := parseLength(firstValue(el.attrOr(name, "")), ref, st.fontSize)
	return v
}

func firstValue(list string) string {
	fields := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
