package types

import (
	"strings"
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", NewError(KindUnsupportedFormat, "format %q is not supported", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// RenderParams is one generation request.
type RenderParams struct {
	Template        string                 `json:"template" validate:"required"`
	Data            map[string]interface{} `json:"data"`
	Width           int                    `json:"width"`
	Height          int                    `json:"height"`
	BackgroundColor *Color                 `json:"background_color,omitempty"`
	TextColor       *Color                 `json:"text_color,omitempty"`
	Format          Format                 `json:"format"`
	Quality         *int                   `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
	Compression     *int                   `json:"compression,omitempty" validate:"omitempty,min=0,max=9"`
}

type GeneratedImage struct {
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
	Format      Format `json:"format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Key         string `json:"key"`
	CacheHit    bool   `json:"cache_hit"`
}

type FontWeight int

const (
	WeightThin       FontWeight = 100
	WeightExtraLight FontWeight = 200
	WeightLight      FontWeight = 300
	WeightRegular    FontWeight = 400
	WeightMedium     FontWeight = 500
	WeightSemiBold   FontWeight = 600
	WeightBold       FontWeight = 700
	WeightExtraBold  FontWeight = 800
	WeightBlack      FontWeight = 900
)

var weightNames = map[string]FontWeight{
	"thin":       WeightThin,
	"hairline":   WeightThin,
	"extralight": WeightExtraLight,
	"ultralight": WeightExtraLight,
	"light":      WeightLight,
	"normal":     WeightRegular,
	"regular":    WeightRegular,
	"book":       WeightRegular,
	"medium":     WeightMedium,
	"semibold":   WeightSemiBold,
	"demibold":   WeightSemiBold,
	"bold":       WeightBold,
	"extrabold":  WeightExtraBold,
	"ultrabold":  WeightExtraBold,
	"black":      WeightBlack,
	"heavy":      WeightBlack,
}

func ParseFontWeight(s string) (FontWeight, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "", " ", "", "_", "").Replace(s)
	if w, ok := weightNames[s]; ok {
		return w, true
	}
	switch s {
	case "100", "200", "300", "400", "500", "600", "700", "800", "900":
		return FontWeight(int(s[0]-'0') * 100), true
	}
	return WeightRegular, false
}

func (w FontWeight) Valid() bool {
	return w >= WeightThin && w <= WeightBlack && w%100 == 0
}

type FontStyle int

const (
	StyleNormal FontStyle = iota
	StyleItalic
)

func ParseFontStyle(s string) (FontStyle, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "regular":
		return StyleNormal, true
	case "italic", "oblique":
		return StyleItalic, true
	default:
		return StyleNormal, false
	}
}

func (s FontStyle) String() string {
	if s == StyleItalic {
		return "italic"
	}
	return "normal"
}
